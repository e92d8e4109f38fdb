package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const progressEvery = 1000

type articlePayload struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Popularity int    `json:"popularity"`
}

func generateArticle(index, popularity int) articlePayload {
	return articlePayload{
		Title:      fmt.Sprintf("Sample Article Title %d", index),
		Content:    fmt.Sprintf("This is the content of sample article number %d. It provides valuable insights and information on various topics related to your application.", index),
		Popularity: popularity,
	}
}

type summary struct {
	Created int64
	Failed  int64
}

// seeder posts generated articles to the catalog API. Every request carries an
// idempotency key derived from the run id so a rerun with the same id is safe.
type seeder struct {
	client     *http.Client
	url        string
	runID      string
	log        *slog.Logger
	popularity func() int
}

func newSeeder(client *http.Client, url, runID string, log *slog.Logger) *seeder {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &seeder{
		client:     client,
		url:        url,
		runID:      runID,
		log:        log,
		popularity: func() int { return rand.IntN(100) },
	}
}

// run creates total articles with at most concurrency requests in flight.
// Individual failures are logged and counted; only cancellation stops the run.
func (s *seeder) run(ctx context.Context, total, concurrency int) (summary, error) {
	var created, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := 1; i <= total; i++ {
		if gctx.Err() != nil {
			break
		}
		index := i
		g.Go(func() error {
			if err := s.post(gctx, index); err != nil {
				failed.Add(1)
				s.log.Warn("create article failed", slog.Int("index", index), slog.Any("err", err))
				return nil
			}
			if n := created.Add(1); n%progressEvery == 0 {
				s.log.Info("seeding progress", slog.Int64("created", n))
			}
			return nil
		})
	}

	_ = g.Wait()
	res := summary{Created: created.Load(), Failed: failed.Load()}
	return res, ctx.Err()
}

func (s *seeder) post(ctx context.Context, index int) error {
	payload, err := json.Marshal(generateArticle(index, s.popularity()))
	if err != nil {
		return fmt.Errorf("marshal article: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("%s-%d", s.runID, index))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
