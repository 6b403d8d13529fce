package api

import (
	"net/http"
)

// handleActiveKeys serves the public halves of keys still valid for
// verification. Storage elements poll this endpoint unauthenticated;
// they cannot verify a token before they have the keys.
func (s *Server) handleActiveKeys(w http.ResponseWriter, r *http.Request) {
	list, err := s.keys.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": list})
}

func (s *Server) handleKeyStatus(w http.ResponseWriter, r *http.Request) {
	total, active, err := s.keys.Count(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	primary, err := s.keys.Primary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_keys":        total,
		"active_keys":       active,
		"primary_version":   primary.Version,
		"primary_expires":   primary.ExpiresAt,
		"rotation_interval": s.cfg.KeyRotationInterval.String(),
	})
}

func (s *Server) handleKeyHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.keys.History(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": list})
}

func (s *Server) handleRotateKeys(w http.ResponseWriter, r *http.Request) {
	key, err := s.rotator.Rotate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    key.Version,
		"created_at": key.CreatedAt,
		"expires_at": key.ExpiresAt,
	})
}
