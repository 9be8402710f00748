// Package commands implements the damp command line.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/damp/internal/app"
	"evalgo.org/damp/internal/config"
	"evalgo.org/damp/internal/logging"
	"evalgo.org/damp/internal/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	output    string

	cfg       *config.Config
	logger    *slog.Logger
	closeLogs = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "damp",
	Short: "Docker development environments for PHP",
	Long: `DAMP runs shared development services and per-project PHP containers
on the local Docker daemon.

Install databases, caches and mail catchers once, create Laravel or plain
PHP projects with devcontainer configuration, and keep the daemon tidy by
finding and pruning orphaned containers and volumes.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = closeLogs()
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.Version = version.Version
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./damp.yaml or ~/.damp/damp.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(resourcesCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(certsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger, closeLogs, err = logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
}

// withApp builds the application for one command and closes it afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error, opts ...app.Option) error {
	a, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resultError converts a failed manager result into a command error.
func resultError(success bool, msg string) error {
	if success {
		return nil
	}
	return fmt.Errorf("%s", msg)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		out := cmd.OutOrStdout()
		if output == "json" {
			_ = printJSON(out, info)
			return
		}
		fmt.Fprintln(out, info.String())

		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			fmt.Fprintf(out, "\nDetails:\n")
			fmt.Fprintf(out, "  Version:    %s\n", info.Version)
			fmt.Fprintf(out, "  Git Commit: %s\n", info.GitCommit)
			fmt.Fprintf(out, "  Built:      %s\n", info.BuildTime)
			fmt.Fprintf(out, "  Go Version: %s\n", info.GoVersion)
			fmt.Fprintf(out, "  Platform:   %s\n", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "verbose version output")
}
