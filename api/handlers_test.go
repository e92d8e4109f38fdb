package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/article-catalog/backend/internal/catalog"
	"github.com/DeafMist/article-catalog/backend/internal/catalog/catalogtest"
	"github.com/DeafMist/article-catalog/backend/internal/config"
	"github.com/DeafMist/article-catalog/backend/internal/models"
	"github.com/DeafMist/article-catalog/backend/internal/store"
)

type fixture struct {
	handler http.Handler
	store   *catalogtest.Store
	index   *catalogtest.Index
	queue   *catalogtest.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: catalogtest.NewStore(),
		index: catalogtest.NewIndex(),
		queue: &catalogtest.Queue{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := catalog.NewService(catalog.Config{
		Store: f.store,
		Index: f.index,
		Queue: f.queue,
		Keys:  catalogtest.NewKeys(),
		Log:   log,
	})
	srv := &server{log: log, cfg: &config.API{DefaultPage: 20, MaxPage: 100}, articles: svc}
	f.handler = srv.routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create(t *testing.T, title string, popularity int) models.Article {
	t.Helper()
	body, err := json.Marshal(map[string]any{"title": title, "content": "about " + title, "popularity": popularity})
	require.NoError(t, err)
	rec := f.do(t, http.MethodPost, "/articles", string(body), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var a models.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	return a
}

type pageBody struct {
	Articles   []models.Article `json:"articles"`
	NextCursor *string          `json:"next_cursor"`
	NextAfter  *int64           `json:"next_after_id"`
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) pageBody {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p pageBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestInitIsIdempotent(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/init", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"message":"Done"}`, rec.Body.String())
	}
	require.Equal(t, 1, f.index.Creates)
}

func TestCreateArticle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/articles", `{"title":" Go ","content":"Keyset pages","popularity":7}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var a models.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	require.Equal(t, int64(1), a.ID)
	require.Equal(t, "Go", a.Title)
	require.Equal(t, 7, a.Popularity)
	require.False(t, a.CreatedAt.IsZero())
	require.True(t, f.index.Has(a.ID))
}

func TestCreateCoercesPopularity(t *testing.T) {
	f := newFixture(t)

	for _, raw := range []string{`"high"`, `-4`, `2.5`, `null`} {
		rec := f.do(t, http.MethodPost, "/articles", `{"title":"t","content":"c","popularity":`+raw+`}`, nil)
		require.Equal(t, http.StatusCreated, rec.Code, raw)
		var a models.Article
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
		require.Zero(t, a.Popularity, raw)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`{"title":"","content":"c"}`,
		`{"title":"   ","content":"c"}`,
		`{"content":"c"}`,
		`{"title":"t"}`,
	} {
		rec := f.do(t, http.MethodPost, "/articles", body, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.JSONEq(t, `{"error":"Title and content are required."}`, rec.Body.String())
	}
	require.Zero(t, f.store.Len())
	require.Zero(t, f.index.Len())
}

func TestCreateRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/articles", `{"title":`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, f.store.Len())
}

func TestCreateSurvivesIndexFailure(t *testing.T) {
	f := newFixture(t)
	f.index.IndexErr = errors.New("connection refused")

	a := f.create(t, "Pending", 1)
	require.False(t, f.index.Has(a.ID))
	require.Equal(t, []int64{a.ID}, f.queue.IDs)

	rec := f.do(t, http.MethodGet, "/articles/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateStoreFailureHidesDetail(t *testing.T) {
	f := newFixture(t)
	f.store.Err = errors.New("dial tcp 10.0.0.3:5432: refused")

	rec := f.do(t, http.MethodPost, "/articles", `{"title":"t","content":"c"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Internal server error."}`, rec.Body.String())
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	header := http.Header{idempotencyHeader: []string{"req-1"}}

	first := f.do(t, http.MethodPost, "/articles", `{"title":"t","content":"c"}`, header)
	require.Equal(t, http.StatusCreated, first.Code)

	replay := f.do(t, http.MethodPost, "/articles", `{"title":"t","content":"c"}`, header)
	require.Equal(t, http.StatusOK, replay.Code)
	require.JSONEq(t, first.Body.String(), replay.Body.String())
	require.Equal(t, 1, f.store.Inserts)
}

func TestListPopularityScenario(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a", 5)
	b := f.create(t, "b", 10)
	c := f.create(t, "c", 5)

	page := decodePage(t, f.do(t, http.MethodGet, "/articles?sort=popularity&order=desc&limit=2", "", nil))
	require.Len(t, page.Articles, 2)
	require.Equal(t, b.ID, page.Articles[0].ID)
	require.Equal(t, a.ID, page.Articles[1].ID)
	require.NotNil(t, page.NextCursor)
	require.Equal(t, "5", *page.NextCursor)
	require.NotNil(t, page.NextAfter)
	require.Equal(t, a.ID, *page.NextAfter)

	next := decodePage(t, f.do(t, http.MethodGet, "/articles?sort=popularity&order=desc&limit=2&cursor=5&after_id=1", "", nil))
	require.Len(t, next.Articles, 1)
	require.Equal(t, c.ID, next.Articles[0].ID)
	require.Nil(t, next.NextCursor)
}

func TestListEmptyCollection(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/articles", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"articles":[],"next_cursor":null,"next_after_id":null}`, rec.Body.String())
}

func TestListDefaultsToCreatedAtAscending(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, "one", 0)
	second := f.create(t, "two", 0)

	page := decodePage(t, f.do(t, http.MethodGet, "/articles", "", nil))
	require.Len(t, page.Articles, 2)
	require.Equal(t, first.ID, page.Articles[0].ID)
	require.Equal(t, second.ID, page.Articles[1].ID)

	require.Len(t, f.index.Queries, 1)
	require.Equal(t, catalog.SortCreatedAt, f.index.Queries[0].SortField)
	require.Equal(t, catalog.Asc, f.index.Queries[0].SortOrder)
	require.Equal(t, 20, f.index.Queries[0].Limit)
}

func TestListRejectsInvalidParameters(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		query string
		want  string
	}{
		{query: "sort=invalid", want: `{"error":"Invalid sort field. Must be one of created_at, popularity, title"}`},
		{query: "order=up", want: `{"error":"Invalid sort order. Must be 'asc' or 'desc'"}`},
		{query: "sort=popularity&cursor=many", want: ""},
		{query: "sort=popularity&cursor=99999999999", want: `{"error":"Cursor \"99999999999\" is not a popularity value"}`},
		{query: "cursor=5&after_id=0", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/articles?"+tt.query, "", nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			if tt.want != "" {
				require.JSONEq(t, tt.want, rec.Body.String())
			}
		})
	}
	require.Empty(t, f.index.Queries)
}

func TestListBackendFailure(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a", 1)
	f.index.Err = errors.New("cluster red")

	rec := f.do(t, http.MethodGet, "/articles", "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Internal server error."}`, rec.Body.String())
}

func TestGetArticle(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a", 1)

	rec := f.do(t, http.MethodGet, "/articles/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, a, got)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/articles/42", "", nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/articles/abc", "", nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/articles/-1", "", nil).Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	f.index.Err = errors.New("down")
	rec = f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClientMessage(t *testing.T) {
	err := fmt.Errorf("%w: title and content are required", catalog.ErrConstraint)
	require.Equal(t, "Title and content are required", clientMessage(err))
	require.Equal(t, "", clientMessage(errors.New("")))
}

func TestSQLiteRoundTrip(t *testing.T) {
	db, err := store.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	index := catalogtest.NewIndex()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := catalog.NewService(catalog.Config{Store: db, Index: index, Log: log})
	h := (&server{log: log, cfg: &config.API{DefaultPage: 20, MaxPage: 100}, articles: svc}).routes()

	for _, title := range []string{"beta", "alpha", "Gamma"} {
		req := httptest.NewRequest(http.MethodPost, "/articles", strings.NewReader(`{"title":"`+title+`","content":"body"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/articles?sort=title&order=asc", nil))
	page := decodePage(t, rec)

	titles := make([]string, 0, len(page.Articles))
	for _, a := range page.Articles {
		titles = append(titles, a.Title)
	}
	require.Equal(t, []string{"Gamma", "alpha", "beta"}, titles)
}
