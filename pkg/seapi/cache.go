package seapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/artstore/pkg/errdefs"
)

// handleCacheRebuild runs a full rebuild synchronously. A concurrent
// rebuild attempt answers 409.
func (s *Server) handleCacheRebuild(w http.ResponseWriter, r *http.Request) {
	report, err := s.sync.FullRebuild(r.Context())
	if err != nil {
		if errdefs.Is(err, errdefs.KindRebuildInProgress) {
			writeError(w, r, err)
			return
		}
		// Partial progress is reported alongside the failure.
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error_code": string(errdefs.KindOf(err)),
			"message":    err.Error(),
			"report":     report,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCacheRebuildIncremental(w http.ResponseWriter, r *http.Request) {
	report, err := s.sync.IncrementalRebuild(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCacheConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := s.sync.ConsistencyCheck(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.sync.CleanupExpired(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// handleGCDelete physically removes a file on behalf of the garbage
// collector, bypassing mode checks.
func (s *Server) handleGCDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PhysicalDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGCExists(w http.ResponseWriter, r *http.Request) {
	exists, err := s.engine.Exists(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// handleGCObjects enumerates objects straight off the backend for the
// orphan sweep. Unlike the file search this bypasses the cache, so
// objects that never made it into a cache row or lost their sidecar are
// still visible.
func (s *Server) handleGCObjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt64(q.Get("limit"))
	if err != nil {
		writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "invalid limit", err))
		return
	}
	offset, err := queryInt64(q.Get("offset"))
	if err != nil {
		writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "invalid offset", err))
		return
	}
	objects, err := s.engine.ListPhysical(r.Context(), int(limit), int(offset))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

// handleGCDeleteObject removes an object by its backend path on behalf
// of the garbage collector.
func (s *Server) handleGCDeleteObject(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PhysicalDeletePath(r.Context(), r.URL.Query().Get("path")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
