package catalog

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SortField names an article attribute usable as the primary sort key.
type SortField string

const (
	SortCreatedAt  SortField = "created_at"
	SortPopularity SortField = "popularity"
	SortTitle      SortField = "title"
)

// SortFields lists the accepted sort fields in display order.
var SortFields = []SortField{SortCreatedAt, SortPopularity, SortTitle}

// Valid reports whether f is one of SortFields.
func (f SortField) Valid() bool {
	for _, v := range SortFields {
		if f == v {
			return true
		}
	}
	return false
}

// SortOrder is the direction of the primary sort key.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Valid reports whether o is asc or desc.
func (o SortOrder) Valid() bool {
	return o == Asc || o == Desc
}

// DefaultLimit is the page size used when the request does not carry a usable one.
const DefaultLimit = 20

// ListQuery is a validated listing request.
type ListQuery struct {
	SortField SortField
	SortOrder SortOrder
	Limit     int
	// Cursor is the literal sort value of the last article on the previous page.
	Cursor string
	// AfterID, when set together with Cursor, resumes exactly after that article
	// instead of after every article sharing the cursor value.
	AfterID int64
	// Text restricts results to articles whose title or content match.
	Text string
}

// ParseListQuery validates the query string of a listing request.
func ParseListQuery(values url.Values, defaultLimit, maxLimit int) (ListQuery, error) {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}

	q := ListQuery{
		SortField: SortField(strings.TrimSpace(values.Get("sort"))),
		SortOrder: SortOrder(strings.ToLower(strings.TrimSpace(values.Get("order")))),
		Limit:     clampLimit(values.Get("limit"), defaultLimit, maxLimit),
		Cursor:    values.Get("cursor"),
		Text:      strings.TrimSpace(values.Get("q")),
	}
	if q.SortField == "" {
		q.SortField = SortCreatedAt
	}
	if q.SortOrder == "" {
		q.SortOrder = Asc
	}

	if !q.SortField.Valid() {
		return ListQuery{}, fmt.Errorf("%w: invalid sort field. Must be one of %s", ErrInvalidArgument, joinFields(SortFields))
	}
	if !q.SortOrder.Valid() {
		return ListQuery{}, fmt.Errorf("%w: invalid sort order. Must be 'asc' or 'desc'", ErrInvalidArgument)
	}

	if raw := strings.TrimSpace(values.Get("after_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return ListQuery{}, fmt.Errorf("%w: after_id must be a positive integer", ErrInvalidArgument)
		}
		if q.Cursor == "" {
			return ListQuery{}, fmt.Errorf("%w: after_id requires cursor", ErrInvalidArgument)
		}
		q.AfterID = id
	}

	if q.Cursor != "" {
		if _, err := parseCursor(q.SortField, q.Cursor); err != nil {
			return ListQuery{}, err
		}
	}

	return q, nil
}

func clampLimit(raw string, fallback, max int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if max > 0 && value > max {
		return max
	}
	return value
}

func joinFields(fields []SortField) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, string(f))
	}
	return strings.Join(parts, ", ")
}
