package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"evalgo.org/damp/internal/app"
	"evalgo.org/damp/internal/projects"
	"evalgo.org/damp/internal/store"
	"evalgo.org/damp/models"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"projects", "p"},
	Short:   "Manage PHP projects",
}

// findProject resolves a project by ID or by name.
func findProject(pm *projects.Manager, ref string) (*models.Project, error) {
	p, err := pm.Get(ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	all, lerr := pm.List()
	if lerr != nil {
		return nil, lerr
	}
	for _, p := range all {
		if p.Name == ref {
			return p, nil
		}
	}
	return nil, err
}

// parseBundled turns "redis" or "mysql:MYSQL_DATABASE=app,MYSQL_USER=dev"
// into a bundled service request.
func parseBundled(spec string) (models.BundledService, error) {
	id, rest, _ := strings.Cut(spec, ":")
	b := models.BundledService{ServiceID: strings.TrimSpace(id)}
	if b.ServiceID == "" {
		return b, fmt.Errorf("invalid bundled service %q", spec)
	}
	if rest == "" {
		return b, nil
	}
	b.CustomCredentials = map[string]string{}
	for _, kv := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return b, fmt.Errorf("invalid credential %q for %s", kv, b.ServiceID)
		}
		b.CustomCredentials[k] = v
	}
	return b, nil
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			list, err := a.Projects.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output == "json" {
				return printJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No projects")
				return nil
			}
			w := newTable(out, "ID", "NAME", "TYPE", "PHP", "DOMAIN", "PORT", "PATH")
			for _, p := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					shortID(p.ID), p.Name, p.Type, p.PHPVersion, p.Domain, p.ForwardedPort, p.Path)
			}
			return w.Flush()
		})
	},
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a project or import an existing folder",
	Long: `Create a project folder (or import one with --path), copy it into a
dedicated volume and write devcontainer configuration for it.

Bundled services are given as --with redis or
--with mysql:MYSQL_DATABASE=app,MYSQL_PASSWORD=secret.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := projects.CreateInput{}
		if len(args) == 1 {
			in.Name = args[0]
		}
		typ, _ := cmd.Flags().GetString("type")
		in.Type = models.ProjectType(typ)
		in.Path, _ = cmd.Flags().GetString("path")
		in.PHPVersion, _ = cmd.Flags().GetString("php")
		in.NodeVersion, _ = cmd.Flags().GetString("node")
		in.PHPExtensions, _ = cmd.Flags().GetStringSlice("ext")
		in.ForwardedPort, _ = cmd.Flags().GetInt("port")

		with, _ := cmd.Flags().GetStringArray("with")
		for _, spec := range with {
			b, err := parseBundled(spec)
			if err != nil {
				return err
			}
			in.BundledServices = append(in.BundledServices, b)
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			res := a.Projects.Create(ctx, in, progressPrinter(cmd.ErrOrStderr()))
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output == "json" {
				return printJSON(out, res.Data)
			}
			fmt.Fprintf(out, "✓ Created project %s\n", res.Data.Name)
			fmt.Fprintf(out, "  ID:     %s\n", res.Data.ID)
			fmt.Fprintf(out, "  Domain: %s\n", res.Data.Domain)
			fmt.Fprintf(out, "  Volume: %s\n", res.Data.VolumeName)
			fmt.Fprintf(out, "  Path:   %s\n", res.Data.Path)
			return nil
		})
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update <project>",
	Short: "Change project settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := projects.UpdateInput{}
		in.Domain, _ = cmd.Flags().GetString("domain")
		in.PHPVersion, _ = cmd.Flags().GetString("php")
		in.NodeVersion, _ = cmd.Flags().GetString("node")
		in.PHPExtensions, _ = cmd.Flags().GetStringSlice("ext")
		in.ForwardedPort, _ = cmd.Flags().GetInt("port")
		in.RegenerateFiles, _ = cmd.Flags().GetBool("regenerate")

		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			p, err := findProject(a.Projects, args[0])
			if err != nil {
				return err
			}
			in.ID = p.ID
			res := a.Projects.Update(ctx, in)
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), res.Data)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Updated project %s\n", res.Data.Name)
			return nil
		})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project>",
	Short: "Delete a project and its containers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		removeVolume, _ := cmd.Flags().GetBool("volume")
		removeFolder, _ := cmd.Flags().GetBool("folder")
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			p, err := findProject(a.Projects, args[0])
			if err != nil {
				return err
			}
			res := a.Projects.Delete(ctx, p.ID, removeVolume, removeFolder)
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted project %s\n", p.Name)
			return nil
		})
	},
}

var projectStartCmd = &cobra.Command{
	Use:   "start <project>",
	Short: "Start the project's dev container and bundled services",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			p, err := findProject(a.Projects, args[0])
			if err != nil {
				return err
			}
			res := a.Projects.Start(ctx, p.ID)
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), res.Data)
			}
			var ports []models.PortMapping
			if res.Data != nil {
				ports = res.Data.Ports
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Started %s (%s)\n", p.Name, formatPorts(ports))
			return nil
		})
	},
}

var projectStopCmd = &cobra.Command{
	Use:   "stop <project>",
	Short: "Stop the project's containers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			p, err := findProject(a.Projects, args[0])
			if err != nil {
				return err
			}
			res := a.Projects.Stop(ctx, p.ID)
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Stopped %s\n", p.Name)
			return nil
		})
	},
}

var projectSyncCmd = &cobra.Command{
	Use:   "sync <project>",
	Short: "Copy the project volume back into the project folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			p, err := findProject(a.Projects, args[0])
			if err != nil {
				return err
			}
			res := a.Projects.SyncFromVolume(ctx, p.ID, progressPrinter(cmd.ErrOrStderr()))
			if err := resultError(res.Success, res.Error); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Synced %s into %s\n", p.VolumeName, p.Path)
			return nil
		})
	},
}

func init() {
	projectCreateCmd.Flags().StringP("type", "t", string(models.ProjectTypeBasicPHP), "project type (basic-php, laravel, existing)")
	projectCreateCmd.Flags().String("path", "", "project folder (default: <root>/<name>)")
	projectCreateCmd.Flags().String("php", "8.3", "PHP version")
	projectCreateCmd.Flags().String("node", "", "Node.js version")
	projectCreateCmd.Flags().StringSlice("ext", nil, "additional PHP extensions")
	projectCreateCmd.Flags().Int("port", 0, "forwarded host port (default: next free port)")
	projectCreateCmd.Flags().StringArray("with", nil, "bundled service, optionally with credentials (repeatable)")

	projectUpdateCmd.Flags().String("domain", "", "new local domain")
	projectUpdateCmd.Flags().String("php", "", "new PHP version")
	projectUpdateCmd.Flags().String("node", "", "new Node.js version")
	projectUpdateCmd.Flags().StringSlice("ext", nil, "replace PHP extensions")
	projectUpdateCmd.Flags().Int("port", 0, "new forwarded host port")
	projectUpdateCmd.Flags().Bool("regenerate", false, "rewrite devcontainer files")

	projectDeleteCmd.Flags().Bool("volume", false, "also remove the project volume")
	projectDeleteCmd.Flags().Bool("folder", false, "also remove the project folder")

	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectUpdateCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCmd.AddCommand(projectStartCmd)
	projectCmd.AddCommand(projectStopCmd)
	projectCmd.AddCommand(projectSyncCmd)
}
