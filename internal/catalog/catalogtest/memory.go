// Package catalogtest provides in-memory stand-ins for the canonical store and
// the search index with the same ordering and keyset semantics as the real ones.
package catalogtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DeafMist/article-catalog/backend/internal/catalog"
	"github.com/DeafMist/article-catalog/backend/internal/models"
)

// Store is an in-memory catalog.Store.
type Store struct {
	mu     sync.Mutex
	rows   map[int64]models.Article
	nextID int64

	// Now assigns created_at; defaults to time.Now.
	Now func() time.Time
	// Err, when set, fails every call with a wrapped catalog.ErrStore.
	Err error
	// Inserts counts successful inserts.
	Inserts int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{rows: make(map[int64]models.Article)}
}

// Insert assigns the next id and stamps created_at at millisecond precision.
func (s *Store) Insert(_ context.Context, a catalog.NewArticle) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, fmt.Errorf("insert article: %w: %w", catalog.ErrStore, s.Err)
	}
	if a.Title == "" || a.Content == "" {
		return 0, fmt.Errorf("%w: title and content are required", catalog.ErrConstraint)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	s.nextID++
	s.rows[s.nextID] = models.Article{
		ID:         s.nextID,
		Title:      a.Title,
		Content:    a.Content,
		CreatedAt:  now().UTC().Truncate(time.Millisecond),
		Popularity: a.Popularity,
	}
	s.Inserts++
	return s.nextID, nil
}

// FetchByID returns the stored article or catalog.ErrNotFound.
func (s *Store) FetchByID(_ context.Context, id int64) (models.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.Article{}, fmt.Errorf("fetch article: %w: %w", catalog.ErrStore, s.Err)
	}
	a, ok := s.rows[id]
	if !ok {
		return models.Article{}, fmt.Errorf("%w: id %d", catalog.ErrNotFound, id)
	}
	return a, nil
}

// FetchByIDs returns the known ids ordered by (field order, id asc).
func (s *Store) FetchByIDs(_ context.Context, ids []int64, field catalog.SortField, order catalog.SortOrder) ([]models.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, fmt.Errorf("fetch articles: %w: %w", catalog.ErrStore, s.Err)
	}
	out := make([]models.Article, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.rows[id]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i].Projection(), out[j].Projection(), field, order)
	})
	return out, nil
}

// Ping returns Err.
func (s *Store) Ping(context.Context) error {
	return s.Err
}

// Put stores a fully formed article, bypassing id assignment.
func (s *Store) Put(a models.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.ID] = a
	if a.ID > s.nextID {
		s.nextID = a.ID
	}
}

// Len returns the number of stored articles.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Index is an in-memory catalog.Index.
type Index struct {
	mu      sync.Mutex
	docs    map[int64]models.IndexedArticle
	created bool

	// Err fails every call; IndexErr fails only IndexArticle.
	Err      error
	IndexErr error
	// Creates counts collection creations.
	Creates int
	// Queries records every SearchIDs request.
	Queries []catalog.IndexQuery
}

// NewIndex returns an empty Index without a collection.
func NewIndex() *Index {
	return &Index{docs: make(map[int64]models.IndexedArticle)}
}

// EnsureCollection creates the collection once.
func (x *Index) EnsureCollection(context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Err != nil {
		return fmt.Errorf("ensure collection: %w: %w", catalog.ErrIndex, x.Err)
	}
	if !x.created {
		x.created = true
		x.Creates++
	}
	return nil
}

// IndexArticle upserts doc under its id.
func (x *Index) IndexArticle(_ context.Context, doc models.IndexedArticle) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Err != nil {
		return fmt.Errorf("index article: %w: %w", catalog.ErrIndex, x.Err)
	}
	if x.IndexErr != nil {
		return fmt.Errorf("index article: %w: %w", catalog.ErrIndex, x.IndexErr)
	}
	x.docs[doc.ID] = doc
	return nil
}

// SearchIDs filters, orders and limits the indexed documents the way the search index does.
func (x *Index) SearchIDs(_ context.Context, q catalog.IndexQuery) ([]int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.Queries = append(x.Queries, q)
	if x.Err != nil {
		return nil, fmt.Errorf("search: %w: %w", catalog.ErrIndex, x.Err)
	}

	text := strings.ToLower(q.Text)
	matched := make([]models.IndexedArticle, 0, len(x.docs))
	for _, d := range x.docs {
		if text != "" && !strings.Contains(strings.ToLower(d.Title+" "+d.Content), text) {
			continue
		}
		if q.After != nil && !after(d, q.After, q.SortField, q.SortOrder) {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool {
		return less(matched[i], matched[j], q.SortField, q.SortOrder)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	ids := make([]int64, 0, len(matched))
	for _, d := range matched {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// Ping returns Err.
func (x *Index) Ping(context.Context) error {
	return x.Err
}

// Has reports whether id has been projected.
func (x *Index) Has(id int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.docs[id]
	return ok
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.docs)
}

// Queue is an in-memory catalog.ReindexQueue.
type Queue struct {
	mu  sync.Mutex
	IDs []int64
	Err error
}

// Enqueue records id.
func (q *Queue) Enqueue(_ context.Context, id int64, _ error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.IDs = append(q.IDs, id)
	return nil
}

// Keys is an in-memory catalog.IdempotencyKeys.
type Keys struct {
	mu   sync.Mutex
	vals map[string]int64
}

// NewKeys returns an empty Keys.
func NewKeys() *Keys {
	return &Keys{vals: make(map[string]int64)}
}

// Reserve claims key, reporting a completed id or catalog.ErrConflict while pending.
func (k *Keys) Reserve(_ context.Context, key string) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, ok := k.vals[key]
	if !ok {
		k.vals[key] = 0
		return 0, nil
	}
	if id == 0 {
		return 0, catalog.ErrConflict
	}
	return id, nil
}

// Complete stores id under key.
func (k *Keys) Complete(_ context.Context, key string, id int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.vals[key] = id
	return nil
}

// Release forgets key.
func (k *Keys) Release(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.vals, key)
	return nil
}

func compare(a, b models.IndexedArticle, field catalog.SortField) int {
	switch field {
	case catalog.SortPopularity:
		return a.Popularity - b.Popularity
	case catalog.SortTitle:
		return strings.Compare(a.Title, b.Title)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func less(a, b models.IndexedArticle, field catalog.SortField, order catalog.SortOrder) bool {
	c := compare(a, b, field)
	if c == 0 {
		return a.ID < b.ID
	}
	if order == catalog.Desc {
		return c > 0
	}
	return c < 0
}

func after(d models.IndexedArticle, b *catalog.Boundary, field catalog.SortField, order catalog.SortOrder) bool {
	var c int
	switch v := b.Value.(type) {
	case int:
		c = d.Popularity - v
	case string:
		c = strings.Compare(d.Title, v)
	case time.Time:
		c = d.CreatedAt.Truncate(time.Millisecond).Compare(v)
	}
	if c == 0 {
		return b.ID != 0 && d.ID > b.ID
	}
	if order == catalog.Desc {
		return c < 0
	}
	return c > 0
}
