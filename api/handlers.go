package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/DeafMist/article-catalog/backend/internal/catalog"
	"github.com/DeafMist/article-catalog/backend/internal/config"
	"github.com/DeafMist/article-catalog/backend/internal/models"
)

const idempotencyHeader = "Idempotency-Key"

type articleService interface {
	EnsureCollection(ctx context.Context) error
	Create(ctx context.Context, in catalog.NewArticle, idempotencyKey string) (models.Article, bool, error)
	Get(ctx context.Context, id int64) (models.Article, error)
	List(ctx context.Context, q catalog.ListQuery) (*catalog.Page, error)
	Health(ctx context.Context) error
}

type server struct {
	log      *slog.Logger
	cfg      *config.API
	articles articleService
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", s.handleHealth)
	r.Post("/init", s.handleInit)
	r.Route("/articles", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Get("/{articleID}", s.handleGet)
	})

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.articles.Health(ctx); err != nil {
		s.log.Warn("health check failed", slog.Any("err", err))
		_ = render.Render(w, r, &errResponse{HTTPStatusCode: http.StatusServiceUnavailable, ErrorText: "Service unavailable."})
		return
	}

	render.JSON(w, r, render.M{"status": "ok"})
}

func (s *server) handleInit(w http.ResponseWriter, r *http.Request) {
	if err := s.articles.EnsureCollection(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, render.M{"message": "Done"})
}

// createArticleRequest is the POST /articles payload. Popularity is kept raw so
// malformed values fall back to zero instead of failing the decode.
type createArticleRequest struct {
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	Popularity json.RawMessage `json:"popularity,omitempty"`
}

func (c *createArticleRequest) Bind(*http.Request) error {
	if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Content) == "" {
		return catalog.ErrConstraint
	}
	return nil
}

func (c *createArticleRequest) article() catalog.NewArticle {
	return catalog.NewArticle{
		Title:      c.Title,
		Content:    c.Content,
		Popularity: catalog.NormalizePopularity(c.Popularity),
	}
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	data := &createArticleRequest{}
	if err := render.Bind(r, data); err != nil {
		if errors.Is(err, catalog.ErrConstraint) {
			_ = render.Render(w, r, errBadRequest("Title and content are required."))
			return
		}
		_ = render.Render(w, r, errBadRequest("Invalid request body."))
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	article, created, err := s.articles.Create(r.Context(), data.article(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, article)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := catalog.ParseListQuery(r.URL.Query(), s.cfg.DefaultPage, s.cfg.MaxPage)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	page, err := s.articles.List(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	render.JSON(w, r, page)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "articleID"), 10, 64)
	if err != nil || id <= 0 {
		_ = render.Render(w, r, errBadRequest("Article id must be a positive integer."))
		return
	}

	article, err := s.articles.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	render.JSON(w, r, article)
}

// fail maps a service error to a response. Backend failures are logged in full
// and answered with a generic body.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var resp *errResponse
	switch {
	case catalog.IsClientError(err):
		resp = errBadRequest(clientMessage(err))
	case errors.Is(err, catalog.ErrNotFound):
		resp = &errResponse{HTTPStatusCode: http.StatusNotFound, ErrorText: "Article not found."}
	case errors.Is(err, catalog.ErrConflict):
		resp = &errResponse{HTTPStatusCode: http.StatusConflict, ErrorText: "A request with this idempotency key is in progress."}
	default:
		s.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("err", err),
		)
		resp = &errResponse{HTTPStatusCode: http.StatusInternalServerError, ErrorText: "Internal server error."}
	}
	resp.Err = err
	_ = render.Render(w, r, resp)
}

// clientMessage strips the error class prefix and capitalizes the rest.
func clientMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{catalog.ErrInvalidArgument, catalog.ErrConstraint} {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

// errResponse renders every error as {"error": "..."}.
type errResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	ErrorText string `json:"error"`
}

func (e *errResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errBadRequest(msg string) *errResponse {
	return &errResponse{HTTPStatusCode: http.StatusBadRequest, ErrorText: msg}
}
