package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/DeafMist/article-catalog/backend/internal/models"
)

// Store is the canonical store: the source of truth for article content and identity.
type Store interface {
	Insert(ctx context.Context, a NewArticle) (int64, error)
	FetchByID(ctx context.Context, id int64) (models.Article, error)
	// FetchByIDs returns the articles ordered by (field order, id asc).
	FetchByIDs(ctx context.Context, ids []int64, field SortField, order SortOrder) ([]models.Article, error)
	Ping(ctx context.Context) error
}

// Index is the search index holding the queryable projection of each article.
type Index interface {
	EnsureCollection(ctx context.Context) error
	IndexArticle(ctx context.Context, doc models.IndexedArticle) error
	// SearchIDs returns article ids in index order.
	SearchIDs(ctx context.Context, q IndexQuery) ([]int64, error)
	Ping(ctx context.Context) error
}

// ReindexQueue receives articles whose projection could not be written.
type ReindexQueue interface {
	Enqueue(ctx context.Context, id int64, cause error) error
}

// IdempotencyKeys remembers which article a client-supplied key created.
type IdempotencyKeys interface {
	// Reserve claims key. It returns the id of a previously completed create,
	// zero when the caller now owns the key, or ErrConflict while another
	// request holds it.
	Reserve(ctx context.Context, key string) (int64, error)
	Complete(ctx context.Context, key string, id int64) error
	Release(ctx context.Context, key string) error
}

// Config wires a Service. Queue and Keys are optional.
type Config struct {
	Store        Store
	Index        Index
	Queue        ReindexQueue
	Keys         IdempotencyKeys
	Log          *slog.Logger
	StoreTimeout time.Duration
	IndexTimeout time.Duration
}

// Service implements the write synchronization and keyset pagination over both stores.
type Service struct {
	store        Store
	index        Index
	queue        ReindexQueue
	keys         IdempotencyKeys
	log          *slog.Logger
	storeTimeout time.Duration
	indexTimeout time.Duration
}

// Page is one slice of a listing.
type Page struct {
	Articles   []models.Article `json:"articles"`
	NextCursor *string          `json:"next_cursor"`
	NextAfter  *int64           `json:"next_after_id"`
}

// NewService builds a Service, applying default timeouts.
func NewService(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = 5 * time.Second
	}
	return &Service{
		store:        cfg.Store,
		index:        cfg.Index,
		queue:        cfg.Queue,
		keys:         cfg.Keys,
		log:          cfg.Log,
		storeTimeout: cfg.StoreTimeout,
		indexTimeout: cfg.IndexTimeout,
	}
}

// EnsureCollection creates the search collection when it does not exist.
func (s *Service) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.indexTimeout)
	defer cancel()
	return s.index.EnsureCollection(ctx)
}

// Create makes an article durable in the canonical store and then searchable.
// The returned bool is false when an idempotency key replayed an earlier create.
//
// The canonical insert always completes before the projection is attempted,
// so the index never holds an id the store does not. A failed projection is
// logged and queued for reindexing; the caller still receives the article.
func (s *Service) Create(ctx context.Context, in NewArticle, idempotencyKey string) (models.Article, bool, error) {
	if err := in.Validate(); err != nil {
		return models.Article{}, false, err
	}

	// Store calls already issued must finish or time out on their own.
	ctx = context.WithoutCancel(ctx)

	if idempotencyKey != "" && s.keys != nil {
		existing, err := s.reserveKey(ctx, idempotencyKey)
		if err != nil {
			return models.Article{}, false, err
		}
		if existing != 0 {
			a, err := s.fetch(ctx, existing)
			if err != nil {
				return models.Article{}, false, err
			}
			return a, false, nil
		}
	}

	id, err := s.insert(ctx, in)
	if err != nil {
		s.releaseKey(ctx, idempotencyKey)
		return models.Article{}, false, err
	}

	article, err := s.fetch(ctx, id)
	if err != nil {
		// The row exists; keep the key so a retry does not insert twice.
		s.completeKey(ctx, idempotencyKey, id)
		return models.Article{}, false, err
	}
	s.completeKey(ctx, idempotencyKey, id)

	if err := s.project(ctx, article); err != nil {
		s.log.Warn("article stored but not indexed",
			slog.Int64("id", id),
			slog.Any("err", err),
		)
		s.enqueueReindex(ctx, id, err)
	}

	return article, true, nil
}

// Get returns one canonical article.
func (s *Service) Get(ctx context.Context, id int64) (models.Article, error) {
	return s.fetch(ctx, id)
}

// Reindex projects the current canonical record of id into the search index.
func (s *Service) Reindex(ctx context.Context, id int64) error {
	article, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}
	return s.project(ctx, article)
}

// List serves one keyset page. Ordering is decided by the index; content comes
// from the canonical store, re-sorted with the same keys.
func (s *Service) List(ctx context.Context, q ListQuery) (*Page, error) {
	if !q.SortField.Valid() || !q.SortOrder.Valid() {
		return nil, fmt.Errorf("%w: invalid sort %q %q", ErrInvalidArgument, q.SortField, q.SortOrder)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	iq, err := buildIndexQuery(q)
	if err != nil {
		return nil, err
	}

	ids, err := s.search(ctx, iq)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &Page{Articles: []models.Article{}}, nil
	}

	articles, err := s.hydrate(ctx, ids, q.SortField, q.SortOrder)
	if err != nil {
		return nil, err
	}
	if len(articles) < len(ids) {
		s.log.Warn("indexed articles missing from canonical store",
			slog.Int("indexed", len(ids)),
			slog.Int("hydrated", len(articles)),
		)
	}

	page := &Page{Articles: articles}
	if len(ids) >= q.Limit && len(articles) == 0 {
		// No canonical row to take a sort value from; the listing cannot advance.
		s.log.Error("full index page has no canonical articles, pagination stops",
			slog.String("sort", string(q.SortField)),
			slog.String("order", string(q.SortOrder)),
			slog.String("cursor", q.Cursor),
			slog.Int64("first_id", ids[0]),
			slog.Int64("last_id", ids[len(ids)-1]),
		)
	}
	if len(ids) >= q.Limit && len(articles) > 0 {
		last := articles[len(articles)-1]
		cursor := CursorValue(last, q.SortField)
		after := last.ID
		page.NextCursor = &cursor
		page.NextAfter = &after
	}
	return page, nil
}

// Health checks both backing stores.
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	return s.index.Ping(ctx)
}

func (s *Service) insert(ctx context.Context, in NewArticle) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Insert(ctx, in)
}

func (s *Service) fetch(ctx context.Context, id int64) (models.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.FetchByID(ctx, id)
}

func (s *Service) hydrate(ctx context.Context, ids []int64, field SortField, order SortOrder) ([]models.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.FetchByIDs(ctx, ids, field, order)
}

func (s *Service) project(ctx context.Context, a models.Article) error {
	ctx, cancel := context.WithTimeout(ctx, s.indexTimeout)
	defer cancel()
	return s.index.IndexArticle(ctx, a.Projection())
}

func (s *Service) search(ctx context.Context, q IndexQuery) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.indexTimeout)
	defer cancel()
	return s.index.SearchIDs(ctx, q)
}

func (s *Service) enqueueReindex(ctx context.Context, id int64, cause error) {
	if s.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.indexTimeout)
	defer cancel()
	if err := s.queue.Enqueue(ctx, id, cause); err != nil {
		s.log.Error("enqueue reindex", slog.Int64("id", id), slog.Any("err", err))
	}
}

func (s *Service) reserveKey(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.keys.Reserve(ctx, key)
}

func (s *Service) completeKey(ctx context.Context, key string, id int64) {
	if key == "" || s.keys == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.keys.Complete(ctx, key, id); err != nil {
		s.log.Error("complete idempotency key", slog.String("key", key), slog.Int64("id", id), slog.Any("err", err))
	}
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" || s.keys == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.keys.Release(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("release idempotency key", slog.String("key", key), slog.Any("err", err))
	}
}
