package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/article-catalog/backend/internal/catalog"
	"github.com/DeafMist/article-catalog/backend/internal/models"
)

// Mapping is the field mapping of the articles collection. title carries a
// keyword subfield so it can be sorted and range-filtered.
var Mapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"id": map[string]any{"type": "long"},
			"title": map[string]any{
				"type": "text",
				"fields": map[string]any{
					"raw": map[string]any{"type": "keyword"},
				},
			},
			"content":    map[string]any{"type": "text"},
			"created_at": map[string]any{"type": "date"},
			"popularity": map[string]any{"type": "integer"},
		},
	},
}

// Client wraps go-elasticsearch with the article index operations.
type Client struct {
	es      *elasticsearch.Client
	index   string
	refresh string
	log     *slog.Logger
}

// Options tune a Client.
type Options struct {
	// Refresh is passed to index requests: "true", "false" or "wait_for".
	Refresh string
	Logger  *slog.Logger
}

// New instantiates the Elasticsearch client.
func New(addr, index string, opts Options) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	refresh := opts.Refresh
	if refresh == "" {
		refresh = "wait_for"
	}

	return &Client{es: es, index: index, refresh: refresh, log: logger}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w: %w", catalog.ErrIndex, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: elasticsearch ping failed: %s", catalog.ErrIndex, res.Status())
	}

	return nil
}

// EnsureCollection creates the index with Mapping unless it already exists.
func (c *Client) EnsureCollection(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w: %w", catalog.ErrIndex, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		c.log.Info("index already exists", slog.String("index", c.index))
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("%w: check index failed: %s", catalog.ErrIndex, res.Status())
	}

	payload, err := json.Marshal(Mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w: %w", catalog.ErrIndex, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// Another instance won the race.
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("%w: create index failed: %s", catalog.ErrIndex, strings.TrimSpace(string(body)))
	}

	c.log.Info("index created", slog.String("index", c.index))
	return nil
}

// IndexArticle upserts the projection of one article under its id.
func (c *Client) IndexArticle(ctx context.Context, doc models.IndexedArticle) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: strconv.FormatInt(doc.ID, 10),
		Body:       bytes.NewReader(payload),
		Refresh:    c.refresh,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w: %w", catalog.ErrIndex, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%w: index doc failed: %s", catalog.ErrIndex, strings.TrimSpace(string(body)))
	}

	return nil
}

// SearchIDs runs a keyset query and returns matching article ids in index order.
func (c *Client) SearchIDs(ctx context.Context, q catalog.IndexQuery) ([]int64, error) {
	body, err := buildSearchBody(q)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w: %w", catalog.ErrIndex, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("%w: search failed: %s", catalog.ErrIndex, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w: %w", catalog.ErrIndex, err)
	}

	ids := make([]int64, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: non-numeric document id %q", catalog.ErrIndex, hit.ID)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func sortPath(field catalog.SortField) string {
	if field == catalog.SortTitle {
		return "title.raw"
	}
	return string(field)
}

// buildSearchBody translates q into a search request. Without a tie-breaking id
// the cursor becomes a strict range filter on the sort field; with one, the
// page resumes through search_after on (field, id).
func buildSearchBody(q catalog.IndexQuery) (map[string]any, error) {
	if !q.SortField.Valid() || !q.SortOrder.Valid() {
		return nil, fmt.Errorf("%w: invalid sort %q %q", catalog.ErrInvalidArgument, q.SortField, q.SortOrder)
	}
	size := q.Limit
	if size <= 0 {
		size = catalog.DefaultLimit
	}
	field := sortPath(q.SortField)

	must := make([]map[string]any, 0, 1)
	filters := make([]map[string]any, 0, 1)

	if q.Text != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  q.Text,
				"fields": []string{"title^2", "content"},
			},
		})
	}

	body := map[string]any{
		"size":             size,
		"_source":          false,
		"track_total_hits": false,
		"sort": []map[string]any{
			{field: map[string]any{"order": string(q.SortOrder)}},
			{"id": map[string]any{"order": "asc"}},
		},
	}

	if q.After != nil {
		value, err := boundaryValue(q.After.Value)
		if err != nil {
			return nil, err
		}
		if q.After.ID != 0 {
			body["search_after"] = []any{searchAfterValue(q.After.Value, value), q.After.ID}
		} else {
			op := "gt"
			if q.SortOrder == catalog.Desc {
				op = "lt"
			}
			filters = append(filters, map[string]any{
				"range": map[string]any{
					field: map[string]any{op: value},
				},
			})
		}
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{
			{"match_all": map[string]any{}},
		}
	}
	body["query"] = map[string]any{"bool": boolQuery}

	return body, nil
}

func boundaryValue(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case string:
		return t, nil
	case time.Time:
		return t.UTC().Format(catalog.CursorTimeLayout), nil
	default:
		return nil, fmt.Errorf("%w: unsupported cursor value %T", catalog.ErrInvalidArgument, v)
	}
}

// searchAfterValue returns the sort value as the index reports it: dates sort
// as epoch milliseconds.
func searchAfterValue(raw, formatted any) any {
	if ts, ok := raw.(time.Time); ok {
		return ts.UnixMilli()
	}
	return formatted
}
