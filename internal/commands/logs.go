package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"evalgo.org/damp/internal/app"
	"evalgo.org/damp/internal/docker"
)

var logsCmd = &cobra.Command{
	Use:   "logs <container>",
	Short: "Print the logs of a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		follow, _ := cmd.Flags().GetBool("follow")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return withApp(ctx, func(ctx context.Context, a *app.App) error {
			return streamLogs(ctx, a.Docker, args[0], tail, follow, cmd)
		})
	},
}

func streamLogs(ctx context.Context, dm *docker.Manager, ref string, tail int, follow bool, cmd *cobra.Command) error {
	var mu sync.Mutex
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	ended := make(chan error, 1)

	stopStream, err := dm.StreamLogs(ctx, ref, docker.LogOptions{
		Tail:   tail,
		Follow: follow,
		OnEnd:  func(err error) { ended <- err },
	}, func(stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		if stream == docker.StreamStderr {
			fmt.Fprintln(stderr, line)
			return
		}
		fmt.Fprintln(stdout, line)
	})
	if err != nil {
		return err
	}
	defer stopStream()

	select {
	case <-ctx.Done():
		return nil
	case err := <-ended:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

func init() {
	logsCmd.Flags().Int("tail", 100, "number of lines to show from the end (0 for all)")
	logsCmd.Flags().BoolP("follow", "f", false, "follow log output")
}
