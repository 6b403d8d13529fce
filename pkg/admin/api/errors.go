package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
)

// errorBody is the stable error response shape shared with the elements
type errorBody struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

func statusForKind(kind errdefs.Kind) int {
	switch kind {
	case errdefs.KindValidation:
		return http.StatusBadRequest
	case errdefs.KindTokenInvalid, errdefs.KindTokenExpired:
		return http.StatusUnauthorized
	case errdefs.KindModeDenied, errdefs.KindForbidden:
		return http.StatusForbidden
	case errdefs.KindNotFound:
		return http.StatusNotFound
	case errdefs.KindConflictWALInFlight, errdefs.KindRebuildInProgress, errdefs.KindInvalidTransition:
		return http.StatusConflict
	case errdefs.KindAccountLocked:
		return http.StatusLocked
	case errdefs.KindRateLimited:
		return http.StatusTooManyRequests
	case errdefs.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errdefs.KindOf(err)
	status := statusForKind(kind)

	body := errorBody{
		ErrorCode: string(kind),
		Message:   "internal error",
	}
	var e *errdefs.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Details = e.Details
	}

	if status >= http.StatusInternalServerError {
		logger := log.WithComponent("adminapi")
		logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("correlation_id", correlationIDFrom(r.Context())).
			Msg("request failed")
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
