package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/webtasks/internal/api"
	"github.com/seantiz/webtasks/internal/config"
	"github.com/seantiz/webtasks/internal/engine"
	"github.com/seantiz/webtasks/internal/jobs"
	"github.com/seantiz/webtasks/internal/store"
)

// drainTimeout bounds how long serve waits for running tasks after the HTTP
// server has stopped.
const drainTimeout = 15 * time.Second

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "webtasks",
		Short:        "Asynchronous task execution service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $WEBTASKS_CONFIG)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "webtasks %s\n", version)
		},
	}
}

func runServe(cfg config.Config) error {
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("webtasks: starting",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"max_workers", cfg.Engine.MaxWorkers,
		"sweep_interval", cfg.Engine.SweepInterval.String(),
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	reg := engine.NewRegistry(
		engine.WithLogger(logger),
		engine.WithRecorder(db),
		engine.WithSweepInterval(cfg.Engine.SweepInterval),
		engine.WithMaxWorkers(cfg.Engine.MaxWorkers),
		engine.WithDefaults(cfg.Engine.TaskDefaults()),
	)

	srv := api.NewServer(cfg.ListenAddr, reg, jobs.NewDefaultCatalog(), db, logger)
	runErr := srv.Run()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		logger.Warn("tasks still running at exit", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("server error: %w", runErr)
	}
	logger.Info("webtasks: stopped")
	return nil
}
