package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/damp/internal/app"
	"evalgo.org/damp/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Watch lifecycle events of managed containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		onStatus := func(s events.Status) {
			switch {
			case s.Connected:
				fmt.Fprintln(cmd.ErrOrStderr(), "connected to docker")
			case s.NextRetry > 0:
				fmt.Fprintf(cmd.ErrOrStderr(), "disconnected (%s), retry %d in %s\n", s.LastError, s.Attempt, s.NextRetry.Round(100*time.Millisecond))
			}
		}
		onEvent := func(ev events.ContainerEvent) {
			if output == "json" {
				_ = printJSON(out, ev)
				return
			}
			action := ev.Action
			if ev.HealthStatus != "" {
				action += " (" + ev.HealthStatus + ")"
			}
			fmt.Fprintf(out, "%s  %-24s %s\n", ev.Time.Format("15:04:05"), ev.ContainerName, action)
		}

		return withApp(ctx, func(ctx context.Context, a *app.App) error {
			a.Monitor.Start(ctx)
			<-ctx.Done()
			return nil
		}, app.WithEventHandlers(onStatus, onEvent), app.WithoutPing())
	},
}
