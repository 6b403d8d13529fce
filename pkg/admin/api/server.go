package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/cuemby/artstore/pkg/admin/accounts"
	"github.com/cuemby/artstore/pkg/admin/auth"
	"github.com/cuemby/artstore/pkg/admin/elements"
	"github.com/cuemby/artstore/pkg/admin/keys"
	"github.com/cuemby/artstore/pkg/admin/users"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/types"
)

var validate = validator.New()

// Server is the admin HTTP server
type Server struct {
	cfg      *config.Admin
	db       *sqlx.DB
	tokens   *auth.TokenService
	accounts *accounts.Service
	users    *users.Service
	keys     *keys.Store
	rotator  *keys.Rotator
	elements *elements.Store
	syncer   *elements.Syncer
	limiter  *rateLimiter
	version  string
	logger   zerolog.Logger

	httpServer *http.Server
}

// NewServer assembles the admin HTTP surface
func NewServer(cfg *config.Admin, db *sqlx.DB, tokens *auth.TokenService,
	accountsSvc *accounts.Service, usersSvc *users.Service,
	keyStore *keys.Store, rotator *keys.Rotator,
	elementStore *elements.Store, syncer *elements.Syncer, version string) *Server {

	s := &Server{
		cfg:      cfg,
		db:       db,
		tokens:   tokens,
		accounts: accountsSvc,
		users:    usersSvc,
		keys:     keyStore,
		rotator:  rotator,
		elements: elementStore,
		syncer:   syncer,
		limiter:  newRateLimiter(),
		version:  version,
		logger:   log.WithComponent("adminapi"),
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
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", correlationHeader},
		MaxAge:         300,
	}))

	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/token", s.handleClientCredentials)

		r.Route("/admin-auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.With(s.requireAuth).Post("/logout", s.handleLogout)
			r.With(s.requireAuth).Get("/me", s.handleMe)
			r.With(s.requireAuth).Post("/change-password", s.handleChangePassword)
		})

		r.Route("/service-accounts", func(r chi.Router) {
			r.With(s.requireAdminRole(types.AdminRoleReadonly)).Get("/", s.handleListAccounts)
			r.With(s.requireAdminRole(types.AdminRoleReadonly)).Get("/{id}", s.handleGetAccount)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdminRole(types.AdminRoleAdmin))
				r.Post("/", s.handleCreateAccount)
				r.Put("/{id}", s.handleUpdateAccount)
				r.Delete("/{id}", s.handleDeleteAccount)
				r.Post("/{id}/rotate-secret", s.handleRotateSecret)
				r.Post("/{id}/suspend", s.handleSuspendAccount)
				r.Post("/{id}/reactivate", s.handleReactivateAccount)
			})
		})

		r.Route("/admin-users", func(r chi.Router) {
			r.With(s.requireAdminRole(types.AdminRoleReadonly)).Get("/", s.handleListUsers)
			r.With(s.requireAdminRole(types.AdminRoleReadonly)).Get("/{id}", s.handleGetUser)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdminRole(types.AdminRoleSuperAdmin))
				r.Post("/", s.handleCreateUser)
				r.Put("/{id}", s.handleUpdateUser)
				r.Delete("/{id}", s.handleDeleteUser)
				r.Post("/{id}/reset-password", s.handleResetPassword)
			})
		})

		r.Route("/storage-elements", func(r chi.Router) {
			r.With(s.requireAdminRole(types.AdminRoleReadonly)).Get("/", s.handleListElements)
			r.With(s.requireAdminRole(types.AdminRoleReadonly)).Get("/stats/summary", s.handleElementStats)
			r.With(s.requireAdminRole(types.AdminRoleReadonly)).Get("/{id}", s.handleGetElement)
			r.With(s.requireAdminRole(types.AdminRoleAdmin)).Post("/discover", s.handleDiscoverElement)
			r.With(s.requireAdminRole(types.AdminRoleAdmin)).Post("/sync/{id}", s.handleSyncElement)
			r.With(s.requireAdminRole(types.AdminRoleAdmin)).Post("/sync-all", s.handleSyncAll)
			r.With(s.requireAdminRole(types.AdminRoleSuperAdmin)).Delete("/{id}", s.handleDeleteElement)
		})

		r.Route("/jwt-keys", func(r chi.Router) {
			r.Get("/active", s.handleActiveKeys)
			r.With(s.requireAdminRole(types.AdminRoleReadonly)).Get("/status", s.handleKeyStatus)
			r.With(s.requireAdminRole(types.AdminRoleReadonly)).Get("/history", s.handleKeyHistory)
			r.With(s.requireAdminRole(types.AdminRoleSuperAdmin)).Post("/rotate", s.handleRotateKeys)
		})

		// Fallback discovery for when the Redis registry is down
		r.Route("/internal/storage-elements", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/available", s.handleAvailableElements)
			r.Get("/{id}", s.handleInternalGetElement)
		})
	})

	return r
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("admin listening")
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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// decodeBody parses a JSON request body and runs struct validation
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errdefs.Wrap(errdefs.KindValidation, "invalid request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return errdefs.Wrap(errdefs.KindValidation, "request validation failed", err)
	}
	return nil
}
