package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/clawinfra/opsguardian/internal/approval"
	"github.com/clawinfra/opsguardian/internal/scheduler"
	"github.com/clawinfra/opsguardian/internal/workspace"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, so an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeErr maps err to a status code and writes it.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// unavailable reports a collaborator that was not configured.
func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" not available")
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps domain sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, approval.ErrNotFound),
		errors.Is(err, workspace.ErrNotFound),
		errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, workspace.ErrPathTraversal),
		errors.Is(err, workspace.ErrProtected):
		return http.StatusForbidden
	case errors.Is(err, workspace.ErrQuotaExceeded),
		errors.Is(err, workspace.ErrReservedName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
