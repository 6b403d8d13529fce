package seapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/cuemby/artstore/pkg/backend"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/engine"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/synchronizer"
	"github.com/cuemby/artstore/pkg/types"
)

// Server is the storage element HTTP server
type Server struct {
	cfg      *config.SE
	engine   *engine.Engine
	sync     *synchronizer.Synchronizer
	driver   backend.Driver
	db       *sqlx.DB
	verifier *Verifier
	version  string
	logger   zerolog.Logger

	httpServer *http.Server
}

// NewServer assembles the storage element HTTP surface
func NewServer(cfg *config.SE, eng *engine.Engine, sync *synchronizer.Synchronizer, driver backend.Driver, db *sqlx.DB, version string) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		sync:     sync,
		driver:   driver,
		db:       db,
		verifier: NewVerifier(cfg.AdminBaseURL, cfg.JWTPublicKeyPath),
		version:  version,
		logger:   log.WithComponent("seapi"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(correlationID)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Range", correlationHeader},
		MaxAge:         300,
	}))

	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", s.handleInfo)
		r.Get("/capacity", s.handleCapacity)

		r.Group(func(r chi.Router) {
			r.With(s.requireScope("file:create")).Post("/files/upload", s.handleUpload)
			r.With(s.requireScope("file:read")).Get("/files", s.handleSearch)
			r.With(s.requireScope("file:read")).Get("/files/{id}", s.handleGetMetadata)
			r.With(s.requireScope("file:read")).Get("/files/{id}/download", s.handleDownload)
			r.With(s.requireScope("file:update")).Patch("/files/{id}", s.handleUpdateMetadata)
			r.With(s.requireScope("file:delete")).Delete("/files/{id}", s.handleDelete)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireServiceAdmin)
			r.Post("/cache/rebuild", s.handleCacheRebuild)
			r.Post("/cache/rebuild/incremental", s.handleCacheRebuildIncremental)
			r.Get("/cache/consistency", s.handleCacheConsistency)
			r.Post("/cache/cleanup-expired", s.handleCacheCleanup)
			r.Get("/gc/objects", s.handleGCObjects)
			r.Delete("/gc/objects", s.handleGCDeleteObject)
			r.Delete("/gc/{id}", s.handleGCDelete)
		})
		r.With(s.requireScope("")).Get("/gc/{id}/exists", s.handleGCExists)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("storage element listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady checks the database and the storage backend
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "backend": "ok"}
	healthy := true
	if err := s.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if _, err := s.driver.Capacity(ctx); err != nil {
		checks["backend"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": healthy, "checks": checks})
}

// handleInfo serves the unauthenticated discovery payload
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	cap, err := s.driver.Capacity(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	count, err := s.driver.FileCount(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DiscoveryInfo{
		Name:          s.cfg.ElementID,
		DisplayName:   s.cfg.DisplayName,
		Version:       s.version,
		Mode:          s.cfg.Mode,
		StorageType:   s.cfg.StorageType,
		BasePath:      s.cfg.BasePath,
		CapacityBytes: cap.TotalBytes,
		UsedBytes:     cap.UsedBytes,
		FileCount:     count,
		Status:        "operational",
	})
}

// handleCapacity serves the compact capacity view
func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	cap, err := s.driver.Capacity(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	thresholds := types.ComputeThresholds(s.cfg.Mode, cap.TotalBytes)
	writeJSON(w, http.StatusOK, map[string]any{
		"capacity_total":  cap.TotalBytes,
		"capacity_used":   cap.UsedBytes,
		"capacity_free":   cap.FreeBytes,
		"capacity_status": thresholds.Status(cap.FreeBytes),
	})
}
