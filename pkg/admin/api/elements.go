package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

func (s *Server) handleListElements(w http.ResponseWriter, r *http.Request) {
	list, err := s.elements.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"elements": list, "total": len(list)})
}

func (s *Server) handleGetElement(w http.ResponseWriter, r *http.Request) {
	rec, err := s.elements.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type discoverRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Priority int    `json:"priority" validate:"min=0"`
}

func (s *Server) handleDiscoverElement(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.syncer.Discover(r.Context(), req.Endpoint, req.Priority)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleSyncElement(w http.ResponseWriter, r *http.Request) {
	rec, err := s.syncer.SyncOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	s.syncer.SyncAll(r.Context())
	list, err := s.elements.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"elements": list, "total": len(list)})
}

func (s *Server) handleDeleteElement(w http.ResponseWriter, r *http.Request) {
	if err := s.elements.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleElementStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.elements.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAvailableElements serves upload target selection from the
// database when the Redis registry is unavailable.
func (s *Server) handleAvailableElements(w http.ResponseWriter, r *http.Request) {
	mode := types.Mode(r.URL.Query().Get("mode"))
	switch mode {
	case types.ModeEdit, types.ModeRW:
	default:
		writeError(w, r, errdefs.Newf(errdefs.KindValidation, "mode %q is not writable", mode))
		return
	}
	var minFree int64
	if raw := r.URL.Query().Get("min_free_bytes"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, r, errdefs.New(errdefs.KindValidation, "min_free_bytes must be a non-negative integer"))
			return
		}
		minFree = v
	}
	list, err := s.elements.ListAvailable(r.Context(), mode, minFree)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"elements": list, "total": len(list)})
}

func (s *Server) handleInternalGetElement(w http.ResponseWriter, r *http.Request) {
	rec, err := s.elements.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
