// Package store is the canonical article store backed by PostgreSQL or SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/DeafMist/article-catalog/backend/internal/catalog"
	"github.com/DeafMist/article-catalog/backend/internal/models"
)

// Store owns the durable article records.
type Store struct {
	db *sql.DB
	d  dialect
}

// Open connects to the database named by driver ("postgres" or "sqlite") and
// creates the articles table when it is missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d.singleton {
		// One writer; also keeps an in-memory database alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, d: d}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", catalog.ErrStore, err)
	}
	return nil
}

// Insert writes a new article and returns its store-assigned id.
func (s *Store) Insert(ctx context.Context, a catalog.NewArticle) (int64, error) {
	if a.Title == "" || a.Content == "" {
		return 0, fmt.Errorf("%w: title and content are required", catalog.ErrConstraint)
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		s.d.rebind(`INSERT INTO articles (title, content, popularity) VALUES (?, ?, ?) RETURNING id`),
		a.Title, a.Content, a.Popularity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert article: %w: %w", catalog.ErrStore, err)
	}
	return id, nil
}

// FetchByID returns one article or catalog.ErrNotFound.
func (s *Store) FetchByID(ctx context.Context, id int64) (models.Article, error) {
	row := s.db.QueryRowContext(ctx,
		s.d.rebind(`SELECT `+s.d.selectColumns()+` FROM articles WHERE id = ?`), id)

	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Article{}, fmt.Errorf("%w: id %d", catalog.ErrNotFound, id)
	}
	if err != nil {
		return models.Article{}, fmt.Errorf("fetch article %d: %w: %w", id, catalog.ErrStore, err)
	}
	return a, nil
}

// FetchByIDs loads the given ids ordered by (field order, id ASC). Ids that do
// not exist are omitted.
func (s *Store) FetchByIDs(ctx context.Context, ids []int64, field catalog.SortField, order catalog.SortOrder) ([]models.Article, error) {
	orderBy, err := s.d.order(field, order)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Article{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := `SELECT ` + s.d.selectColumns() + ` FROM articles WHERE id IN (` + placeholders + `) ORDER BY ` + orderBy

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch articles: %w: %w", catalog.ErrStore, err)
	}
	defer rows.Close()

	out := make([]models.Article, 0, len(ids))
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w: %w", catalog.ErrStore, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w: %w", catalog.ErrStore, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (models.Article, error) {
	var (
		a         models.Article
		createdMs int64
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Content, &createdMs, &a.Popularity); err != nil {
		return models.Article{}, err
	}
	a.CreatedAt = time.UnixMilli(createdMs).UTC()
	return a, nil
}
