package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"evalgo.org/damp/models"
)

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}

// progressPrinter reports operation progress as one line per stage.
func progressPrinter(w io.Writer) models.ProgressSink {
	return models.ProgressFunc(func(p models.Progress) {
		if p.Message != "" {
			fmt.Fprintf(w, "[%d/%d] %s: %s\n", p.Step, p.TotalSteps, p.Stage, p.Message)
			return
		}
		fmt.Fprintf(w, "[%d/%d] %s (%d%%)\n", p.Step, p.TotalSteps, p.Stage, p.Percentage)
	})
}

func formatPorts(ports []models.PortMapping) string {
	if len(ports) == 0 {
		return "-"
	}
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		out = append(out, fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, p.Protocol))
	}
	return strings.Join(out, ", ")
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
