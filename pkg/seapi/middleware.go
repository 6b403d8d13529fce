package seapi

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

// correlationID middleware assigns or propagates a request correlation id
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

// CorrelationIDFrom returns the request correlation id, if any
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}

// PrincipalFrom returns the authenticated principal, if any
func PrincipalFrom(ctx context.Context) *types.Principal {
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

// instrument records request metrics and an access log line per request
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

		logger := log.WithCorrelationID(CorrelationIDFrom(r.Context()))
		logger.Debug().
			Str("component", "seapi").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Msg("request served")
	})
}

// requireScope authenticates the bearer token and checks the scope
func (s *Server) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := s.authenticate(r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if scope != "" && !principal.HasScope(scope) {
				writeError(w, r, errdefs.Newf(errdefs.KindForbidden, "missing %s scope", scope))
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireServiceAdmin restricts a route to ADMIN service accounts
func (s *Server) requireServiceAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !principal.IsServiceAdmin() {
			writeError(w, r, errdefs.New(errdefs.KindForbidden, "requires an ADMIN service account"))
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
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
	return s.verifier.Verify(r.Context(), token)
}
