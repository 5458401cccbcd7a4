package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"policycrawl/pkg/config"
	"policycrawl/pkg/crawl"
	"policycrawl/pkg/files"
	"policycrawl/pkg/registry"
	"policycrawl/pkg/storage"
)

// Server exposes the crawl engine over HTTP. It starts sessions through the
// registry and answers status reads from live controller snapshots while a
// session runs, falling back to the store once it is terminal.
type Server struct {
	cfg       *config.AppConfig
	crawlDeps crawl.Deps
	store     storage.Store
	files     *files.Store
	registry  *registry.Registry
	gatherer  prometheus.Gatherer
	log       *logrus.Entry

	mu          sync.Mutex
	controllers map[string]*crawl.Controller

	startedAt time.Time
}

// NewServer wires the API surface. crawlDeps carries the shared service
// singletons each new session controller needs.
func NewServer(cfg *config.AppConfig, crawlDeps crawl.Deps, reg *registry.Registry,
	gatherer prometheus.Gatherer, logger *logrus.Logger) *Server {
	return &Server{
		cfg:         cfg,
		crawlDeps:   crawlDeps,
		store:       crawlDeps.Store,
		files:       crawlDeps.Files,
		registry:    reg,
		gatherer:    gatherer,
		log:         logger.WithField("component", "api"),
		controllers: make(map[string]*crawl.Controller),
		startedAt:   time.Now(),
	}
}

// Router builds the chi handler tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/", s.handleStartCrawl)
			r.Post("/start", s.handleStartCrawl) // alias kept for older clients
			r.Get("/sessions", s.handleListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/status", s.handleStatus)
				r.Get("/logs", s.handleLogs)
				r.Get("/results", s.handleResults)
				r.Post("/stop", s.handleStop)
				r.Delete("/", s.handleDeleteSession)
			})
		})
		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.handleHealth)
			r.Delete("/reset", s.handleReset)
		})
	})

	return r
}

func (s *Server) controller(sessionID string) *crawl.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controllers[sessionID]
}

func (s *Server) trackController(sessionID string, ctrl *crawl.Controller) {
	s.mu.Lock()
	s.controllers[sessionID] = ctrl
	s.mu.Unlock()
}

func (s *Server) forgetController(sessionID string) {
	s.mu.Lock()
	delete(s.controllers, sessionID)
	s.mu.Unlock()
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.log.Errorf("Marshalling response: %v", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}
