package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/clawinfra/opsguardian/internal/security"
)

const adminSubject = "admin"

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin exchanges the admin password for a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.checkPassword(req.Password) {
		s.logger.Warn("failed login attempt", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token, err := security.GenerateToken(adminSubject, security.RoleOperator, s.opts.JWTSecret, s.opts.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		Role:      security.RoleOperator,
		ExpiresAt: time.Now().Add(s.opts.TokenTTL).UTC(),
	})
}

func (s *Server) checkPassword(password string) bool {
	hash := ""
	if s.opts.Config != nil {
		hash = s.opts.Config.Get().Auth.PasswordHash
	}
	if hash == "" {
		s.logger.Warn("no admin password configured, accepting the default password")
		return subtle.ConstantTimeCompare([]byte(password), []byte(security.DefaultPassword)) == 1
	}
	return security.CheckPassword(hash, password) == nil
}
