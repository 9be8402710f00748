package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"evalgo.org/damp/internal/app"
	"evalgo.org/damp/models"
)

var resourcesCmd = &cobra.Command{
	Use:     "resources",
	Aliases: []string{"resource", "res"},
	Short:   "Inspect and clean up managed Docker resources",
}

var resourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed containers and volumes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orphansOnly, _ := cmd.Flags().GetBool("orphans")
		kind, _ := cmd.Flags().GetString("type")
		if kind != "" && kind != string(models.ResourceContainer) && kind != string(models.ResourceVolume) {
			return fmt.Errorf("invalid resource type %q", kind)
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			all, err := a.Resources.GetAllResources(ctx)
			if err != nil {
				return err
			}
			list := make([]*models.DockerResource, 0, len(all))
			for _, r := range all {
				if orphansOnly && !r.IsOrphan {
					continue
				}
				if kind != "" && string(r.Type) != kind {
					continue
				}
				list = append(list, r)
			}
			sort.Slice(list, func(i, j int) bool {
				if list[i].Type != list[j].Type {
					return list[i].Type < list[j].Type
				}
				return list[i].Name < list[j].Name
			})

			out := cmd.OutOrStdout()
			if output == "json" {
				return printJSON(out, list)
			}
			w := newTable(out, "TYPE", "NAME", "CATEGORY", "STATUS", "OWNER", "ORPHAN", "UPDATE")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%t\n",
					r.Type, r.Name, r.Category, valueOr(r.Status, "-"),
					valueOr(r.OwnerDisplayName, "-"), r.IsOrphan, r.NeedsUpdate)
			}
			return w.Flush()
		})
	},
}

var resourcesDeleteCmd = &cobra.Command{
	Use:   "delete <container|volume> <id>",
	Short: "Delete one managed container or volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := models.ResourceKind(args[0])
		if kind != models.ResourceContainer && kind != models.ResourceVolume {
			return fmt.Errorf("invalid resource type %q", args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.Resources.DeleteResource(ctx, kind, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s %s\n", kind, args[1])
			return nil
		})
	},
}

var resourcesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove orphaned resources",
	Long: `Remove the given containers and volumes, or every orphan when none are
named. Each item is attempted independently; failures are reported per item.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		containers, _ := cmd.Flags().GetStringSlice("container")
		volumes, _ := cmd.Flags().GetStringSlice("volume")
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			res, err := a.Resources.PruneOrphans(ctx, containers, volumes)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output == "json" {
				return printJSON(out, res)
			}
			for _, id := range res.Deleted {
				fmt.Fprintf(out, "✓ Removed %s\n", shortID(id))
			}
			for _, id := range res.Failed {
				fmt.Fprintf(out, "✗ %s: %s\n", shortID(id), res.Errors[id])
			}
			fmt.Fprintf(out, "\n%d removed, %d failed\n", len(res.Deleted), len(res.Failed))
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d resources could not be removed", len(res.Failed))
			}
			return nil
		})
	},
}

func init() {
	resourcesListCmd.Flags().Bool("orphans", false, "only show orphaned resources")
	resourcesListCmd.Flags().String("type", "", "filter by type (container, volume)")
	resourcesPruneCmd.Flags().StringSlice("container", nil, "container IDs to remove")
	resourcesPruneCmd.Flags().StringSlice("volume", nil, "volume names to remove")

	resourcesCmd.AddCommand(resourcesListCmd)
	resourcesCmd.AddCommand(resourcesDeleteCmd)
	resourcesCmd.AddCommand(resourcesPruneCmd)
}
