// Package api provides the HTTP API server for tilevault.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wesm/tilevault/internal/config"
	"github.com/wesm/tilevault/internal/grouping"
	"github.com/wesm/tilevault/internal/scheduler"
	"github.com/wesm/tilevault/internal/store"
)

// CatalogStore defines the store operations the API needs.
type CatalogStore interface {
	GetStats() (*StoreStats, error)
}

// StoreStats is an alias for store.Stats so the API and store agree on one type.
type StoreStats = store.Stats

// GroupManager is the grouping surface the API drives. *grouping.Manager
// implements it.
type GroupManager interface {
	Config() grouping.GroupConfig
	Reviewer() grouping.ReviewerID
	AnalyzedGroups(ctx context.Context) []grouping.GroupInfo
	UnseenGroups(ctx context.Context) []grouping.GroupInfo
	Group(ctx context.Context, key grouping.GroupKey) (grouping.GroupInfo, bool)
	MarkGroupSeen(key grouping.GroupKey) *grouping.SeenHandle
	MarkGroupUnseen(key grouping.GroupKey) *grouping.SeenHandle
	Regroup(scope grouping.ScopeID, attr grouping.Attribute, sortBy grouping.GroupSortBy, order grouping.SortOrder, force bool) *grouping.RegroupTask
	Progress() grouping.RegroupProgress
	ViewState() grouping.GroupViewState
	SetViewState(vs grouping.GroupViewState)
	SetCollaborative(ctx context.Context, on bool)
}

// JobScheduler defines the scheduler operations the API needs.
type JobScheduler interface {
	IsScheduled(name string) bool
	TriggerJob(name string) error
	Status() []JobStatus
	IsRunning() bool
}

// JobStatus is an alias for scheduler.JobStatus.
type JobStatus = scheduler.JobStatus

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	store       CatalogStore
	groups      GroupManager
	scheduler   JobScheduler
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. store and sched may be nil; their
// endpoints then answer 503.
func NewServer(cfg *config.Config, st CatalogStore, groups GroupManager, sched JobScheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		store:     st,
		groups:    groups,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	corsConfig := CORSConfig{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: s.cfg.Server.CORSCredentials,
		MaxAge:           s.cfg.Server.CORSMaxAge,
	}
	if corsConfig.MaxAge == 0 && len(corsConfig.AllowedOrigins) > 0 {
		corsConfig.MaxAge = 86400
	}
	r.Use(CORSMiddleware(corsConfig))

	rps, burst := s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	s.rateLimiter = NewRateLimiter(rps, burst)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/stats", s.handleStats)
		r.Get("/config", s.handleConfig)

		r.Get("/groups", s.handleListGroups)
		r.Get("/group", s.handleGetGroup)
		r.Post("/group/seen", s.handleMarkSeen)

		r.Post("/regroup", s.handleRegroup)
		r.Get("/regroup/progress", s.handleProgress)

		r.Get("/viewstate", s.handleGetViewState)
		r.Put("/viewstate", s.handleSetViewState)
		r.Put("/collaborative", s.handleSetCollaborative)

		r.Get("/scheduler/status", s.handleSchedulerStatus)
		r.Post("/scheduler/jobs/{name}/trigger", s.handleTriggerJob)
	})

	return r
}

// Start begins listening for HTTP requests.
// Returns an error if the security posture is invalid.
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication; set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
