package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/clawinfra/opsguardian/internal/approval"
	"github.com/clawinfra/opsguardian/internal/audit"
)

type approveRequest struct {
	// Content, when set, replaces the script body or command before execution.
	Content *string `json:"content,omitempty"`
}

// handleListApprovals returns every request in creation order.
func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if s.opts.Queue == nil {
		unavailable(w, "approval queue")
		return
	}
	reqs := s.opts.Queue.List()
	if r.URL.Query().Get("status") == "pending" {
		reqs = s.opts.Queue.Pending()
	}
	if reqs == nil {
		reqs = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// handleApprove executes a pending request, optionally with edited content.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.opts.Approver == nil {
		unavailable(w, "approvals")
		return
	}

	var body approveRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	req, err := s.opts.Approver.Approve(r.Context(), id, body.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.logger.Info("request approved", "id", id, "tool", req.Tool)
	writeJSON(w, http.StatusOK, req)
}

// handleDeny rejects a pending request.
func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	if s.opts.Approver == nil {
		unavailable(w, "approvals")
		return
	}
	id := r.PathValue("id")
	req, err := s.opts.Approver.Deny(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.logger.Info("request denied", "id", id, "tool", req.Tool)
	writeJSON(w, http.StatusOK, req)
}

// handleApprovalHistory returns recorded events, newest first.
func (s *Server) handleApprovalHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		unavailable(w, "audit history")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	entries, err := s.opts.History.History(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
