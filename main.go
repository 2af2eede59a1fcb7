package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hostmon/collector"
	"hostmon/config"
	"hostmon/logger"
	"hostmon/metrics"
	"hostmon/runner"
	"hostmon/sink"
	"hostmon/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "hostmon",
		Short:        "Sample CPU, memory, disk and network usage into daily log files and a database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to a yaml config file (default ./configs/config.yaml)")
	flags.Duration("interval", 0, "pause between collection cycles")
	flags.Duration("timeout", 0, "bound on each sample, file write and database write")
	flags.String("output-dir", "", "directory for the daily log files")
	flags.String("log-level", "", "debug|info|warn|error")
	flags.Bool("concurrent", false, "collect the four categories in parallel")
	flags.String("metrics-addr", "", "listen address for agent metrics, empty to disable")
	flags.String("db-driver", "", "sqlite|postgres|mysql")
	flags.String("db-path", "", "sqlite database file")

	root.AddCommand(newInitDBCmd(&configPath))
	return root
}

func newInitDBCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the sample tables in the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("setting up logger: %w", err)
			}
			defer logger.Flush(log.Logger)

			store, err := openStore(cfg, log.Logger)
			if err != nil {
				return err
			}
			return store.Migrate(cmd.Context())
		},
	}
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer logger.Flush(log.Logger)

	store, err := openStore(cfg, log.Logger)
	if err != nil {
		return err
	}
	if cfg.Database.Migrate {
		// a database that is down at start-up is not fatal; the runner
		// keeps logging to files and reports each failed insert
		if err := store.Migrate(ctx); err != nil {
			log.Logger.Warn("schema migration failed", zap.Error(err))
		}
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, log.Logger); err != nil {
				log.Logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	src := collector.NewGopsutilSource(cfg.CPUWindow, cfg.DiskPath)
	r := runner.New(runner.Options{
		Sampler:    collector.NewHostSampler(src, log.Logger),
		Files:      sink.NewFileSink(afero.NewOsFs(), cfg.OutputDir, log.Logger),
		Store:      store,
		Interval:   cfg.Interval,
		Timeout:    cfg.Timeout,
		Concurrent: cfg.Concurrent,
		Log:        log.Logger,
		Metrics:    m,
	})

	log.Logger.Info("hostmon started",
		zap.String("output_dir", cfg.OutputDir),
		zap.String("db_driver", cfg.Database.Driver))
	return r.Run(ctx)
}

func openStore(cfg *config.Config, log *zap.Logger) (*storage.SQLStore, error) {
	if cfg.Database.Driver == storage.DriverSQLite {
		dir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}
	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, err
	}
	return storage.NewSQLStore(cfg.Database.Driver, dsn, cfg.Timeout, log)
}
