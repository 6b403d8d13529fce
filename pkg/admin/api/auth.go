package api

import (
	"net/http"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

type clientCredentialsRequest struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

// handleClientCredentials implements the OAuth2 client-credentials grant
// for service accounts. Service accounts have no lockout; the per-client
// token bucket bounds credential guessing instead.
func (s *Server) handleClientCredentials(w http.ResponseWriter, r *http.Request) {
	var req clientCredentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !s.limiter.Allow(req.ClientID) {
		writeError(w, r, errdefs.Newf(errdefs.KindRateLimited,
			"rate limit exceeded for client %s", req.ClientID))
		return
	}
	account, err := s.accounts.Authenticate(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.limiter.SetLimit(req.ClientID, account.RateLimit)
	pair, err := s.tokens.IssueServiceAccountTokens(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := s.tokens.IssueAdminUserTokens(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := s.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout is stateless: tokens expire on their own, the endpoint
// exists so clients have a uniform flow.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if principal.Type != types.PrincipalAdminUser {
		writeJSON(w, http.StatusOK, principal)
		return
	}
	user, err := s.users.GetByUsername(r.Context(), principal.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=12"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if principal.Type != types.PrincipalAdminUser {
		writeError(w, r, errdefs.New(errdefs.KindForbidden, "requires an admin user"))
		return
	}
	var req changePasswordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.users.GetByUsername(r.Context(), principal.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.users.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
