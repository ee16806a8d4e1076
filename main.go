package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zachkp/portfolio/internal/config"
	"github.com/Zachkp/portfolio/internal/logging"
	"github.com/Zachkp/portfolio/internal/server"
	"github.com/Zachkp/portfolio/internal/stats"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "portfolio",
		Short:        "Portfolio contact form relay",
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print contact form metrics as JSON",
		RunE:  runStats,
	})
	root.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete contact form metrics older than STATS_RETENTION",
		RunE:  runPrune,
	})
	return root
}

func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Logging())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting server in %s mode", cfg.Environment)
	if !cfg.ContactSettings().Complete() {
		logger.Warn("Contact email settings are incomplete; submissions will be rejected")
	}

	var store *stats.Store
	if cfg.StatsDBPath != "" {
		store, err = stats.Open(cfg.StatsDBPath, logger.With("stats"))
		if err != nil {
			return err
		}
		defer store.Close()
		go store.RunRetention(ctx, 12*time.Hour, cfg.StatsRetention)
	}

	srv, err := server.New(cfg, cfg.Sender(), store, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func openStats() (*config.Config, *stats.Store, func(), error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.StatsDBPath == "" {
		logger.Close()
		return nil, nil, nil, fmt.Errorf("STATS_DB_PATH is not set")
	}
	store, err := stats.Open(cfg.StatsDBPath, logger)
	if err != nil {
		logger.Close()
		return nil, nil, nil, err
	}
	return cfg, store, func() {
		store.Close()
		logger.Close()
	}, nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	_, store, closeFn, err := openStats()
	if err != nil {
		return err
	}
	defer closeFn()

	summary, err := store.Summary(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cfg, store, closeFn, err := openStats()
	if err != nil {
		return err
	}
	defer closeFn()

	deleted, err := store.Prune(cmd.Context(), cfg.StatsRetention)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d contact events\n", deleted)
	return nil
}
