// Package httpapi is the REST and event-stream surface over the job service.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/subtrans/internal/auth"
	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/notify"
	"github.com/MimeLyc/subtrans/internal/persistence"
	"github.com/MimeLyc/subtrans/internal/pipeline"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() config.RuntimeSettings
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type glossaryStore interface {
	glossary.Store
	ListGlossaries(ctx context.Context) ([]persistence.GlossarySummary, error)
	PutGlossary(ctx context.Context, ref string, entries []glossary.Entry) error
	DeleteGlossary(ctx context.Context, ref string) error
}

type sensitiveWordStore interface {
	Words(ctx context.Context) ([]string, error)
	AddSensitiveWords(ctx context.Context, words []string) (int, error)
	RemoveSensitiveWord(ctx context.Context, word string) (bool, error)
}

type Server struct {
	service  *pipeline.Service
	notifier *notify.Notifier
	broker   *notify.Broker

	tokens      *auth.JWTService
	corsOrigins []string
	maxUpload   int64
	heartbeat   time.Duration

	settings   runtimeSettingsStore
	apply      runtimeSettingsApplier
	glossaries glossaryStore
	sensitive  sensitiveWordStore

	router chi.Router
	server *http.Server
}

type Option func(*Server)

// WithAuth enables bearer-token authentication. Without it every caller is
// treated as a local admin.
func WithAuth(tokens *auth.JWTService) Option {
	return func(s *Server) {
		s.tokens = tokens
	}
}

func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func WithGlossaryStore(store glossaryStore) Option {
	return func(s *Server) {
		s.glossaries = store
	}
}

func WithSensitiveWordStore(store sensitiveWordStore) Option {
	return func(s *Server) {
		s.sensitive = store
	}
}

func NewServer(service *pipeline.Service, notifier *notify.Notifier, broker *notify.Broker, opts ...Option) *Server {
	s := &Server{
		service:   service,
		notifier:  notifier,
		broker:    broker,
		maxUpload: 10 << 20,
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(cors.Handler(corsOptions(s.corsOrigins)))

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/downloads/{file}", s.handleDownload)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/api/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/", s.handleListJobs)
			r.Get("/stream", s.handleJobStream)
			r.Get("/{id}", s.handleGetJob)
			r.Get("/{id}/detail", s.handleJobDetail)
			r.Get("/{id}/output", s.handleJobOutput)
			r.Delete("/{id}", s.handleCancelJob)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(auth.RoleAdmin))
			r.Get("/api/settings", s.handleGetSettings)
			r.Put("/api/settings", s.handlePutSettings)
			r.Get("/api/glossaries", s.handleListGlossaries)
			r.Get("/api/glossaries/{ref}", s.handleGetGlossary)
			r.Put("/api/glossaries/{ref}", s.handlePutGlossary)
			r.Delete("/api/glossaries/{ref}", s.handleDeleteGlossary)
			r.Get("/api/sensitive-words", s.handleListSensitiveWords)
			r.Post("/api/sensitive-words", s.handleAddSensitiveWords)
			r.Delete("/api/sensitive-words/{word}", s.handleRemoveSensitiveWord)
		})
	})

	s.router = r
}
