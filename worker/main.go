package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/article-catalog/backend/internal/catalog"
	"github.com/DeafMist/article-catalog/backend/internal/config"
	"github.com/DeafMist/article-catalog/backend/internal/dedupe"
	"github.com/DeafMist/article-catalog/backend/internal/elasticsearch"
	"github.com/DeafMist/article-catalog/backend/internal/logger"
	"github.com/DeafMist/article-catalog/backend/internal/reindex"
	"github.com/DeafMist/article-catalog/backend/internal/store"
)

const dlqAttempts = 5

type reindexer interface {
	Reindex(ctx context.Context, id int64) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	_ = godotenv.Load()

	log := logger.New("worker")
	cfg, err := config.LoadWorker()
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

	svc := catalog.NewService(catalog.Config{
		Store:        db,
		Index:        esClient,
		Log:          log,
		StoreTimeout: cfg.StoreTimeout,
		IndexTimeout: cfg.IndexTimeout,
	})
	if err := svc.EnsureCollection(ctx); err != nil {
		log.Error("ensure collection", slog.Any("err", err))
		os.Exit(1)
	}

	cache := dedupe.NewCache[string](cfg.DedupeCapacity, cfg.DedupeTTL)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.ReindexTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqWriter := &kafka.Writer{
		Addr:        kafka.TCP(cfg.KafkaBrokers...),
		Topic:       cfg.DLQTopic(),
		MaxAttempts: 3,
	}
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.ReindexTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", cfg.DLQTopic()),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, svc, cache, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			// Only commit once the DLQ holds the message; otherwise reprocess on restart.
			if !sendToDLQ(ctx, log, dlqWriter, deadLetter(msg, err, time.Now()), time.Second) {
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				if ctx.Err() != nil {
					return
				}
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// processMessage re-projects the article named by msg. Articles that left the
// canonical store are dropped; redeliveries of an event already handled inside
// the dedupe window are skipped.
func processMessage(ctx context.Context, log *slog.Logger, svc reindexer, cache *dedupe.Cache[string], msg kafka.Message) error {
	m, err := reindex.Decode(msg.Value)
	if err != nil {
		return err
	}

	if m.EventID != "" && cache.Recent(m.EventID) {
		log.Debug("duplicate reindex request", slog.Int64("id", m.ArticleID), slog.String("event_id", m.EventID))
		return nil
	}

	if err := svc.Reindex(ctx, m.ArticleID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			log.Warn("reindex target missing from canonical store", slog.Int64("id", m.ArticleID))
			return nil
		}
		return fmt.Errorf("reindex article %d: %w", m.ArticleID, err)
	}

	if m.EventID != "" {
		cache.Mark(m.EventID)
	}
	log.Info("reindexed article",
		slog.Int64("id", m.ArticleID),
		slog.String("event_id", m.EventID),
		slog.Duration("lag", time.Since(m.EnqueuedAt)),
	)
	return nil
}

// deadLetter copies msg with headers describing where it came from and why it failed.
func deadLetter(msg kafka.Message, cause error, now time.Time) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(now.UTC().Format(time.RFC3339))},
	)
	return kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}

// sendToDLQ writes msg with exponential backoff starting at base.
func sendToDLQ(ctx context.Context, log *slog.Logger, w messageWriter, msg kafka.Message, base time.Duration) bool {
	for attempt := range dlqAttempts {
		dlqErr := w.WriteMessages(ctx, msg)
		if dlqErr == nil {
			log.Info("message sent to DLQ", slog.Int("attempt", attempt+1))
			return true
		}

		backoff := base << uint(attempt)
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}
