package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/DeafMist/article-catalog/backend/internal/config"
	"github.com/DeafMist/article-catalog/backend/internal/logger"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("seed")
	cfg, err := config.LoadSeed()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCommand(log, cfg).ExecuteContext(ctx); err != nil {
		log.Error("seed failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func newRootCommand(log *slog.Logger, cfg *config.Seed) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Populate the article catalog with generated articles",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Total < 0 {
				return fmt.Errorf("--total must not be negative")
			}
			if cfg.Concurrency <= 0 {
				return fmt.Errorf("--concurrency must be positive")
			}

			s := newSeeder(&http.Client{Timeout: cfg.Timeout}, cfg.URL, runID, log)
			log.Info("seeding started",
				slog.String("url", cfg.URL),
				slog.Int("total", cfg.Total),
				slog.Int("concurrency", cfg.Concurrency),
				slog.String("run_id", s.runID),
			)

			res, err := s.run(cmd.Context(), cfg.Total, cfg.Concurrency)
			log.Info("seeding completed",
				slog.Int64("created", res.Created),
				slog.Int64("failed", res.Failed),
			)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if res.Failed > 0 && res.Created == 0 {
				return fmt.Errorf("no articles created, %d failed", res.Failed)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.URL, "url", cfg.URL, "articles endpoint of the catalog API")
	flags.IntVar(&cfg.Total, "total", cfg.Total, "number of articles to create")
	flags.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "maximum concurrent requests")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	flags.StringVar(&runID, "run-id", "", "idempotency key prefix; reuse it to resume a run without duplicates")

	return cmd
}
