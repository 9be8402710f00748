package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/damp/internal/app"
	"evalgo.org/damp/internal/services"
	"evalgo.org/damp/models"
)

var serviceCmd = &cobra.Command{
	Use:     "service",
	Aliases: []string{"services", "svc"},
	Short:   "Manage shared development services",
}

var serviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog services and their state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			states, err := a.Services.GetAllStates(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output == "json" {
				return printJSON(out, states)
			}
			w := newTable(out, "ID", "NAME", "TYPE", "INSTALLED", "STATE", "HEALTH", "PORTS")
			for _, s := range states {
				state, health, ports := "-", "-", "-"
				if s.State != nil && s.State.Exists {
					state = valueOr(s.State.State, "-")
					health = valueOr(s.State.HealthStatus, "-")
					ports = formatPorts(s.State.Ports)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
					s.Definition.ID, s.Definition.DisplayName, s.Definition.ServiceType,
					s.Installed, state, health, ports)
			}
			return w.Flush()
		})
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status <service>",
	Short: "Show the state of one service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			st, err := a.Services.GetState(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output == "json" {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "Service:   %s (%s)\n", st.Definition.DisplayName, st.Definition.ID)
			fmt.Fprintf(out, "Installed: %t\n", st.Installed)
			if st.State != nil && st.State.Exists {
				fmt.Fprintf(out, "Container: %s (%s)\n", st.State.ContainerName, shortID(st.State.ContainerID))
				fmt.Fprintf(out, "State:     %s\n", st.State.State)
				fmt.Fprintf(out, "Health:    %s\n", valueOr(st.State.HealthStatus, "none"))
				fmt.Fprintf(out, "Ports:     %s\n", formatPorts(st.State.Ports))
			}
			return nil
		})
	},
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install <service>",
	Short: "Install a service container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetBool("start")
		env, _ := cmd.Flags().GetStringArray("env")
		image, _ := cmd.Flags().GetString("image")

		opts := services.InstallOptions{
			StartImmediately: start,
			Progress:         progressPrinter(cmd.ErrOrStderr()),
		}
		if len(env) > 0 || image != "" {
			opts.CustomConfig = &models.CustomConfig{Image: image, EnvironmentVars: env}
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			res := a.Services.Install(ctx, args[0], opts)
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output == "json" {
				return printJSON(out, res.Data)
			}
			fmt.Fprintf(out, "✓ Installed %s (%s)\n", args[0], shortID(res.Data.ContainerID))
			fmt.Fprintf(out, "  Ports: %s\n", formatPorts(res.Data.Ports))
			return nil
		})
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall <service>",
	Short: "Remove a service container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumes, _ := cmd.Flags().GetBool("volumes")
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			res := a.Services.Uninstall(ctx, args[0], volumes)
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Uninstalled %s\n", args[0])
			return nil
		})
	},
}

func serviceActionCmd(use, short, done string, fn func(*services.Manager, context.Context, string) models.Result[models.Empty]) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <service>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res := fn(a.Services, ctx, args[0])
				if err := resultError(res.Success, res.Error); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s %s\n", done, args[0])
				return nil
			})
		},
	}
}

var serviceDatabasesCmd = &cobra.Command{
	Use:   "databases <service>",
	Short: "List databases of a database service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			res := a.Services.ListDatabases(ctx, args[0])
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output == "json" {
				return printJSON(out, res.Data)
			}
			for _, db := range res.Data {
				fmt.Fprintln(out, db)
			}
			return nil
		})
	},
}

var serviceDumpCmd = &cobra.Command{
	Use:   "dump <service> <database>",
	Short: "Dump a database to a file or stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			res := a.Services.DumpDatabase(ctx, args[0], args[1])
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			if file == "" {
				_, err := cmd.OutOrStdout().Write(res.Data)
				return err
			}
			if err := os.WriteFile(file, res.Data, 0o600); err != nil {
				return fmt.Errorf("failed to write dump: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %d bytes to %s\n", len(res.Data), file)
			return nil
		})
	},
}

var serviceRestoreCmd = &cobra.Command{
	Use:   "restore <service> <database> <file>",
	Short: "Restore a database from a dump file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[2])
		if err != nil {
			return err
		}
		defer f.Close()

		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			res := a.Services.RestoreDatabase(ctx, args[0], args[1], f)
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %s into %s\n", args[2], args[1])
			return nil
		})
	},
}

func init() {
	serviceInstallCmd.Flags().Bool("start", false, "start the container after creating it")
	serviceInstallCmd.Flags().StringArrayP("env", "e", nil, "environment override KEY=VALUE (repeatable)")
	serviceInstallCmd.Flags().String("image", "", "override the catalog image")
	serviceUninstallCmd.Flags().Bool("volumes", false, "also remove the service data volumes")
	serviceDumpCmd.Flags().StringP("file", "f", "", "write the dump to this file instead of stdout")

	serviceCmd.AddCommand(serviceListCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceActionCmd("start", "Start an installed service", "Started", (*services.Manager).Start))
	serviceCmd.AddCommand(serviceActionCmd("stop", "Stop an installed service", "Stopped", (*services.Manager).Stop))
	serviceCmd.AddCommand(serviceActionCmd("restart", "Restart an installed service", "Restarted", (*services.Manager).Restart))
	serviceCmd.AddCommand(serviceDatabasesCmd)
	serviceCmd.AddCommand(serviceDumpCmd)
	serviceCmd.AddCommand(serviceRestoreCmd)
}
