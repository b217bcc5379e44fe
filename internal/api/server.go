package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/devistree/internal/blob"
	"github.com/dgallion1/devistree/internal/config"
	"github.com/dgallion1/devistree/internal/extract"
	"github.com/dgallion1/devistree/internal/pipeline"
	"github.com/dgallion1/devistree/internal/store"
)

// Server is the HTTP API server for devistree.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	store        store.Store
	blobs        blob.Store // nil when source file storage is disabled
	llm          *extract.Client
	sessions     *sessionManager
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. blobs and llm may be nil.
func NewServer(orch *pipeline.Orchestrator, st store.Store, blobs blob.Store, llm *extract.Client, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		store:        st,
		blobs:        blobs,
		llm:          llm,
		sessions:     newSessionManager(cfg.SessionTTL),
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Get("/api/jobs/{jobID}", s.handleJobStatus)
		r.Get("/api/stats/llm", s.handleLLMStats)

		r.Route("/api/projects/{projectID}/devis", func(r chi.Router) {
			r.Get("/", s.handleListDevis)
			r.Post("/", s.handleUpload)
			r.Post("/batch", s.handleBatchUpload)

			r.Route("/{devisID}", func(r chi.Router) {
				r.Get("/", s.handleGetDevis)
				r.Put("/", s.handlePutDevis)
				r.Delete("/", s.handleDeleteDevis)
				r.Post("/validate", s.handleValidateDevis)
				r.Get("/file", s.handleSourceFile)

				r.Post("/session", s.handleOpenSession)
				r.Get("/session", s.handleGetSession)
				r.Post("/session/events", s.handleSessionEvent)
				r.Delete("/session", s.handleCloseSession)
			})
		})

		r.Route("/api/editor", func(r chi.Router) {
			r.Post("/normalize", s.handleNormalize)
			r.Post("/validate", s.handleValidate)
			r.Post("/move", s.handleMove)
			r.Post("/render", s.handleRender)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed", "error", err)
		jsonError(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
