// Command appdoctor runs diagnostics against a live web-application
// environment: document availability, API latency, storage round trips,
// worker liveness, memory pressure and TLS posture.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/statusphere/appdoctor/internal/cli"
	"github.com/statusphere/appdoctor/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	root := &cobra.Command{
		Use:           "appdoctor",
		Short:         "Diagnose the health of a web application environment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	loadConfig := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	var (
		categories []string
		format     string
	)
	diagnose := &cobra.Command{
		Use:   "diagnose",
		Short: "Run all enabled diagnostic checks and print the health snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return cli.RunDiagnose(ctx, cfg, logger, categories, format, cmd.OutOrStdout())
		},
	}
	diagnose.Flags().StringSliceVar(&categories, "category", nil, "restrict to categories (dom, api, storage, worker, performance, security)")
	diagnose.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json, yaml")

	var singleFormat string
	single := &cobra.Command{
		Use:   "run <test-id>",
		Short: "Run a single diagnostic test by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return cli.RunSingle(ctx, cfg, logger, args[0], singleFormat, cmd.OutOrStdout())
		},
	}
	single.Flags().StringVarP(&singleFormat, "format", "f", "table", "output format: table, json, yaml")

	var listFormat string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the registered diagnostic tests by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return cli.RunList(cfg, logger, listFormat, cmd.OutOrStdout())
		},
	}
	list.Flags().StringVarP(&listFormat, "format", "f", "table", "output format: table, json, yaml")

	var interval time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Run diagnostics periodically until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return cli.RunWatch(ctx, cfg, logger, interval, cmd.OutOrStdout())
		},
	}
	watch.Flags().DurationVarP(&interval, "interval", "i", 0, "run interval (defaults to scheduleInterval from config)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the appdoctor version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "appdoctor %s\n", version)
		},
	}

	root.AddCommand(diagnose, single, list, watch, versionCmd)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
