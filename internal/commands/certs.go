package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"evalgo.org/damp/internal/app"
	"evalgo.org/damp/internal/registry"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage local HTTPS certificates",
}

var certsBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Configure the proxy and trust its root certificate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			proxy, err := a.Docker.FindServiceContainer(ctx, registry.Caddy)
			if err != nil {
				return err
			}
			if proxy == nil {
				return fmt.Errorf("the %s service is not installed", registry.Caddy)
			}
			res, err := a.Certs.Run(ctx, proxy.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output == "json" {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "✓ Proxy configured\n")
			if res.CertExtracted {
				fmt.Fprintf(out, "✓ Root certificate saved to %s\n", res.CertPath)
			}
			if res.Installed {
				fmt.Fprintf(out, "✓ Root certificate trusted\n")
			} else if res.InstallError != "" {
				fmt.Fprintf(out, "! Could not trust certificate: %s\n", res.InstallError)
			}
			return nil
		})
	},
}

func init() {
	certsCmd.AddCommand(certsBootstrapCmd)
}
