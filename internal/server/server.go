package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/store"
)

// Server is the recall HTTP API server. Each conversation gets its own
// activation working set from the registry; all of them share one store.
type Server struct {
	store    store.Store
	reg      *engine.Registry
	logger   *zap.Logger
	validate *validator.Validate
	router   chi.Router
	version  string
	started  time.Time
	now      func() time.Time
}

// New creates a new Server over st and reg.
func New(st store.Store, reg *engine.Registry, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    st,
		reg:      reg,
		logger:   logger,
		validate: validator.New(),
		version:  version,
		started:  time.Now(),
		now:      time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/conversations", s.handleCreateConversation)
		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Use(s.requireConversationID)
			r.Post("/recall", s.handleRecall)
			r.Post("/facts", s.handleActivateFacts)
			r.Post("/cycle", s.handleCycle)
			r.Get("/active", s.handleActive)
			r.Delete("/", s.handleDropConversation)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.store.Ping(); err != nil {
		dbOK = false
	}

	resp := map[string]any{
		"status":        "ok",
		"version":       s.version,
		"uptime":        time.Since(s.started).Seconds(),
		"db":            dbOK,
		"conversations": s.reg.Len(),
	}
	if dbOK {
		if stats, err := s.store.Stats(r.Context()); err == nil {
			resp["nodes"] = stats.Nodes
			resp["edges"] = stats.Edges
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
