package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/clawinfra/opsguardian/internal/agent"
	"github.com/clawinfra/opsguardian/internal/approval"
	"github.com/clawinfra/opsguardian/internal/audit"
	"github.com/clawinfra/opsguardian/internal/config"
	"github.com/clawinfra/opsguardian/internal/monitor"
	"github.com/clawinfra/opsguardian/internal/scheduler"
	"github.com/clawinfra/opsguardian/internal/security"
	"github.com/clawinfra/opsguardian/internal/workspace"
)

// Approver executes or rejects queued requests.
type Approver interface {
	Approve(ctx context.Context, id string, edited *string) (approval.Request, error)
	Deny(id string) (approval.Request, error)
}

// FileStore is the workspace as seen by operators.
type FileStore interface {
	List() ([]string, error)
	Read(name string) (string, error)
	Write(origin workspace.Origin, name, content string) (bool, error)
	Delete(origin workspace.Origin, name string) error
}

// Prober runs every configured monitor.
type Prober interface {
	CheckAll(ctx context.Context) []monitor.Result
}

// Chatter is the conversation with the decision service.
type Chatter interface {
	Send(ctx context.Context, prompt string) (string, error)
	SetAttachment(a *agent.Attachment)
}

// HistorySource returns recorded approval events.
type HistorySource interface {
	History(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Options wires the API server. Nil optional collaborators disable their
// routes with 503 Service Unavailable.
type Options struct {
	Port      int
	Queue     *approval.Queue
	Approver  Approver
	Files     FileStore
	Monitors  Prober
	Resources func(context.Context) (monitor.Resources, error)
	Config    *config.Store
	Chat      Chatter
	History   HistorySource
	Scheduler *scheduler.Scheduler
	// Events serves the live event stream, typically a channels.Hub.
	Events http.Handler

	JWTSecret      []byte
	TokenTTL       time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	opts       Options
	logger     *slog.Logger
	httpServer *http.Server
	started    time.Time
}

// publicPaths skip authentication.
var publicPaths = []string{"/api/login", "/api/health"}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	return &Server{
		opts:    opts,
		logger:  opts.Logger.With("component", "api"),
		started: time.Now(),
	}
}

// Handler returns the full middleware chain around the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.HandleFunc("GET /api/approvals", s.handleListApprovals)
	mux.HandleFunc("GET /api/approvals/history", s.handleApprovalHistory)
	mux.HandleFunc("POST /api/approvals/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/approvals/{id}/deny", s.handleDeny)

	mux.HandleFunc("GET /api/files", s.handleListFiles)
	mux.HandleFunc("GET /api/files/{name}", s.handleReadFile)
	mux.HandleFunc("POST /api/files", s.handleWriteFile)
	mux.HandleFunc("DELETE /api/files/{name}", s.handleDeleteFile)

	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleUpdateConfig)
	mux.HandleFunc("GET /api/system-status", s.handleSystemStatus)
	mux.HandleFunc("GET /api/resources", s.handleResources)

	mux.HandleFunc("GET /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/runbook", s.handleRunbook)

	mux.HandleFunc("GET /api/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("GET /api/scheduler/jobs", s.handleSchedulerListJobs)
	mux.HandleFunc("POST /api/scheduler/jobs", s.handleSchedulerAddJob)
	mux.HandleFunc("GET /api/scheduler/jobs/{id}", s.handleSchedulerGetJob)
	mux.HandleFunc("DELETE /api/scheduler/jobs/{id}", s.handleSchedulerRemoveJob)
	mux.HandleFunc("POST /api/scheduler/jobs/{id}/run", s.handleSchedulerRunJob)

	if s.opts.Events != nil {
		mux.Handle("GET /api/events", s.opts.Events)
	}

	var h http.Handler = mux
	h = security.RequirePermission()(h)
	h = security.AuthMiddleware(s.opts.JWTSecret, publicPaths...)(h)
	h = s.loggingMiddleware(h)
	h = s.corsMiddleware(h)
	return h
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Chat streams and websocket sessions outlive any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.opts.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers. With no configured origins every origin
// is allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(s.opts.AllowedOrigins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.opts.AllowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}
