package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/types"
)

type contextKey string

const (
	ctxKeyPrincipal     contextKey = "principal"
	ctxKeyCorrelationID contextKey = "correlation_id"
)

const correlationHeader = "X-Correlation-ID"

func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		ctx := context.WithValue(r.Context(), ctxKeyCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}

func principalFrom(ctx context.Context) *types.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*types.Principal)
	return p
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = r.URL.Path
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, routePattern, http.StatusText(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method, routePattern)

		logger := log.WithCorrelationID(correlationIDFrom(r.Context()))
		logger.Debug().
			Str("component", "adminapi").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Msg("request served")
	})
}

// roleRank orders admin roles for minimum-role checks
func roleRank(role types.AdminRole) int {
	switch role {
	case types.AdminRoleSuperAdmin:
		return 3
	case types.AdminRoleAdmin:
		return 2
	case types.AdminRoleReadonly:
		return 1
	}
	return 0
}

func (s *Server) authenticate(r *http.Request) (*types.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errdefs.New(errdefs.KindTokenInvalid, "missing authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, errdefs.New(errdefs.KindTokenInvalid, "authorization header is not a bearer token")
	}
	return s.tokens.Validate(r.Context(), token)
}

// requireAuth accepts any valid principal
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdminRole restricts a route to admin users at or above minRole
func (s *Server) requireAdminRole(minRole types.AdminRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := s.authenticate(r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if principal.Type != types.PrincipalAdminUser {
				writeError(w, r, errdefs.New(errdefs.KindForbidden, "requires an admin user"))
				return
			}
			if roleRank(types.AdminRole(principal.Role)) < roleRank(minRole) {
				writeError(w, r, errdefs.Newf(errdefs.KindForbidden, "requires role %s or higher", minRole))
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
