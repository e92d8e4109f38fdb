package catalog

import (
	"fmt"
	"strconv"
	"time"

	"github.com/DeafMist/article-catalog/backend/internal/models"
)

// CursorTimeLayout formats created_at cursors. The canonical store keeps
// millisecond precision, which is also what the index stores for dates.
const CursorTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// CursorValue returns the literal value of field on a, as emitted in next_cursor.
func CursorValue(a models.Article, field SortField) string {
	switch field {
	case SortPopularity:
		return strconv.Itoa(a.Popularity)
	case SortTitle:
		return a.Title
	default:
		return a.CreatedAt.UTC().Format(CursorTimeLayout)
	}
}

// parseCursor converts a cursor string into the typed value for field:
// int for popularity, time.Time for created_at, string for title.
func parseCursor(field SortField, raw string) (any, error) {
	switch field {
	case SortPopularity:
		// popularity is a 32-bit integer in the index mapping.
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: cursor %q is not a popularity value", ErrInvalidArgument, raw)
		}
		return int(v), nil
	case SortCreatedAt:
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: cursor %q is not a created_at timestamp", ErrInvalidArgument, raw)
		}
		return ts.UTC(), nil
	case SortTitle:
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: unknown sort field %q", ErrInvalidArgument, field)
	}
}

// Boundary is the keyset position a page starts after.
type Boundary struct {
	// Value is int, time.Time, or string depending on the sort field.
	Value any
	// ID is the tie-breaking article id; zero means "after every article with Value".
	ID int64
}

// IndexQuery is the request handed to the search index.
type IndexQuery struct {
	Text      string
	SortField SortField
	SortOrder SortOrder
	After     *Boundary
	Limit     int
}

func buildIndexQuery(q ListQuery) (IndexQuery, error) {
	iq := IndexQuery{
		Text:      q.Text,
		SortField: q.SortField,
		SortOrder: q.SortOrder,
		Limit:     q.Limit,
	}
	if q.Cursor == "" {
		return iq, nil
	}
	v, err := parseCursor(q.SortField, q.Cursor)
	if err != nil {
		return IndexQuery{}, err
	}
	iq.After = &Boundary{Value: v, ID: q.AfterID}
	return iq, nil
}
