package store

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/DeafMist/article-catalog/backend/internal/catalog"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// dialect captures what differs between the supported SQL backends.
type dialect struct {
	driver string
	schema string
	// createdAt selects created_at as unix milliseconds.
	createdAt string
	// orderBy maps a sort field to its ORDER BY expression.
	orderBy   map[catalog.SortField]string
	numbered  bool
	singleton bool
}

var dialects = map[string]dialect{
	"postgres": {
		driver:    "pgx",
		schema:    postgresSchema,
		createdAt: "CAST(EXTRACT(EPOCH FROM created_at) * 1000 AS BIGINT)",
		orderBy: map[catalog.SortField]string{
			catalog.SortCreatedAt:  "articles.created_at",
			catalog.SortPopularity: "popularity",
			catalog.SortTitle:      `title COLLATE "C"`,
		},
		numbered: true,
	},
	"sqlite": {
		driver:    "sqlite",
		schema:    sqliteSchema,
		createdAt: "created_at",
		orderBy: map[catalog.SortField]string{
			catalog.SortCreatedAt:  "created_at",
			catalog.SortPopularity: "popularity",
			catalog.SortTitle:      "title",
		},
		singleton: true,
	},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
	return d, nil
}

// rebind rewrites ? placeholders to $1..$n for numbered dialects.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) selectColumns() string {
	return "id, title, content, " + d.createdAt + " AS created_ms, popularity"
}

func (d dialect) order(field catalog.SortField, order catalog.SortOrder) (string, error) {
	col, ok := d.orderBy[field]
	if !ok {
		return "", fmt.Errorf("%w: unknown sort field %q", catalog.ErrInvalidArgument, field)
	}
	var dir string
	switch order {
	case catalog.Asc:
		dir = "ASC"
	case catalog.Desc:
		dir = "DESC"
	default:
		return "", fmt.Errorf("%w: unknown sort order %q", catalog.ErrInvalidArgument, order)
	}
	return col + " " + dir + ", id ASC", nil
}
