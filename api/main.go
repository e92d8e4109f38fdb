package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeafMist/article-catalog/backend/internal/catalog"
	"github.com/DeafMist/article-catalog/backend/internal/config"
	"github.com/DeafMist/article-catalog/backend/internal/elasticsearch"
	"github.com/DeafMist/article-catalog/backend/internal/idempotency"
	"github.com/DeafMist/article-catalog/backend/internal/logger"
	"github.com/DeafMist/article-catalog/backend/internal/reindex"
	"github.com/DeafMist/article-catalog/backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Error("open canonical store", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, elasticsearch.Options{
		Refresh: cfg.ElasticsearchRefresh,
		Logger:  log,
	})
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	svcCfg := catalog.Config{
		Store:        db,
		Index:        esClient,
		Log:          log,
		StoreTimeout: cfg.StoreTimeout,
		IndexTimeout: cfg.IndexTimeout,
	}

	if cfg.ReindexEnabled && len(cfg.KafkaBrokers) > 0 {
		publisher := reindex.NewPublisher(cfg.KafkaBrokers, cfg.ReindexTopic)
		defer publisher.Close()
		svcCfg.Queue = publisher
		log.Info("reindex queue enabled", slog.String("topic", cfg.ReindexTopic))
	}

	if cfg.RedisAddr != "" {
		keys, err := idempotency.New(ctx, idempotency.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.IdempotencyTTL,
		})
		if err != nil {
			log.Error("init idempotency keys", slog.Any("err", err))
			os.Exit(1)
		}
		defer keys.Close()
		svcCfg.Keys = keys
	}

	srv := &server{log: log, cfg: cfg, articles: catalog.NewService(svcCfg)}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr), slog.String("driver", cfg.DatabaseDriver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
