// Package approval holds action requests awaiting a human decision.
package approval

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusExecuted Status = "EXECUTED"
	StatusDenied   Status = "DENIED"
)

// Tool names identify the execution path for a request.
const (
	ToolTerminalCommand = "run_terminal_command"
	ToolExecuteScript   = "execute_script"
	ToolRestartService  = "restart_service"
)

const (
	timestampLayout = "15:04:05"
	idLength        = 8
	noOutput        = "(no output)"
)

var (
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = errors.New("approval: request not found")
	// ErrAlreadyResolved is returned when a request has left PENDING.
	ErrAlreadyResolved = errors.New("approval: request already resolved")
)

// Request is one unit of work awaiting or having received human judgment.
type Request struct {
	ID          string    `json:"id"`
	Tool        string    `json:"tool"`
	Status      Status    `json:"status"`
	Timestamp   string    `json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	// Command is the raw command text for terminal requests and the reason
	// for restarts.
	Command string `json:"command,omitempty"`
	// Content is the script body for script requests.
	Content string `json:"content,omitempty"`
	// EditedPayload is operator-supplied content that replaced the proposed
	// payload when the request was approved. Command and Content keep the
	// original proposal.
	EditedPayload string     `json:"edited_payload,omitempty"`
	Result        string     `json:"result,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Payload returns the payload as originally proposed.
func (r *Request) Payload() string {
	if r.Tool == ToolExecuteScript {
		return r.Content
	}
	return r.Command
}

// ExecPayload returns the data the executor acts on: the edited payload
// when there is one, otherwise the proposed one.
func (r *Request) ExecPayload() string {
	if r.EditedPayload != "" {
		return r.EditedPayload
	}
	return r.Payload()
}

// Terminal reports whether the request can no longer change.
func (r *Request) Terminal() bool {
	return r.Status == StatusExecuted || r.Status == StatusDenied
}

// Event describes a state transition.
type Event struct {
	Type    string  `json:"type"`
	Request Request `json:"request"`
}

// Event types.
const (
	EventCreated  = "created"
	EventApproved = "approved"
	EventExecuted = "executed"
	EventDenied   = "denied"
)

// NewRequest describes a request to be queued.
type NewRequest struct {
	Tool        string
	Description string
	Command     string
	Content     string
}

// Queue maps request ids to requests in creation order.
//
// Entries are never evicted, so memory grows with every request made during
// the process lifetime. Requests are small and created by human-paced
// workflows; restart the process or add a retention policy if that changes.
type Queue struct {
	mu     sync.Mutex
	byID   map[string]*Request
	order  []string
	subs   []func(Event)
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewQueue returns an empty queue.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		byID:   make(map[string]*Request),
		now:    time.Now,
		newID:  func() string { return uuid.New().String()[:idLength] },
		logger: logger.With("component", "approval"),
	}
}

// Subscribe registers fn for every transition. Callbacks run after the
// queue lock is released.
func (q *Queue) Subscribe(fn func(Event)) {
	q.mu.Lock()
	q.subs = append(q.subs, fn)
	q.mu.Unlock()
}

// Create adds a PENDING request and returns a copy of it.
func (q *Queue) Create(nr NewRequest) Request {
	q.mu.Lock()
	id := q.newID()
	for q.byID[id] != nil {
		id = q.newID()
	}
	now := q.now()
	req := &Request{
		ID:          id,
		Tool:        nr.Tool,
		Status:      StatusPending,
		Timestamp:   now.Format(timestampLayout),
		CreatedAt:   now,
		Description: nr.Description,
		Command:     nr.Command,
		Content:     nr.Content,
	}
	q.byID[id] = req
	q.order = append(q.order, id)
	snapshot := *req
	subs := q.subs
	q.mu.Unlock()

	q.logger.Info("approval request created", "id", id, "tool", nr.Tool)
	publish(subs, Event{Type: EventCreated, Request: snapshot})
	return snapshot
}

// List returns copies of all requests, oldest first.
func (q *Queue) List() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.byID[id])
	}
	return out
}

// Pending returns copies of requests still awaiting a decision.
func (q *Queue) Pending() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Request
	for _, id := range q.order {
		if r := q.byID[id]; r.Status == StatusPending {
			out = append(out, *r)
		}
	}
	return out
}

// Get returns a copy of the request with id.
func (q *Queue) Get(id string) (Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.byID[id]
	if !ok {
		return Request{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return *r, nil
}

// Claim moves a PENDING request to APPROVED. Exactly one caller wins for a
// given id; the winner must follow with Complete.
func (q *Queue) Claim(id string) (Request, error) {
	return q.transition(id, StatusApproved, EventApproved)
}

// Complete moves an APPROVED request to EXECUTED with result.
func (q *Queue) Complete(id, result string) (Request, error) {
	if result == "" {
		result = noOutput
	}
	q.mu.Lock()
	r, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return Request{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if r.Status != StatusApproved {
		q.mu.Unlock()
		return Request{}, fmt.Errorf("%s is %s, not %s: %w", id, r.Status, StatusApproved, ErrAlreadyResolved)
	}
	now := q.now()
	r.Status = StatusExecuted
	r.Result = result
	r.ResolvedAt = &now
	snapshot := *r
	subs := q.subs
	q.mu.Unlock()

	q.logger.Info("approval request executed", "id", id)
	publish(subs, Event{Type: EventExecuted, Request: snapshot})
	return snapshot, nil
}

// Deny moves a PENDING request to DENIED.
func (q *Queue) Deny(id string) (Request, error) {
	return q.transition(id, StatusDenied, EventDenied)
}

// EditPayload records edited content for a claimed request. It supersedes
// the proposed payload for this execution only.
func (q *Queue) EditPayload(id, payload string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if r.Status != StatusApproved {
		return fmt.Errorf("%s is %s: %w", id, r.Status, ErrAlreadyResolved)
	}
	r.EditedPayload = payload
	return nil
}

func (q *Queue) transition(id string, to Status, eventType string) (Request, error) {
	q.mu.Lock()
	r, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return Request{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if r.Status != StatusPending {
		q.mu.Unlock()
		return Request{}, fmt.Errorf("%s is %s: %w", id, r.Status, ErrAlreadyResolved)
	}
	r.Status = to
	if to == StatusDenied {
		now := q.now()
		r.ResolvedAt = &now
	}
	snapshot := *r
	subs := q.subs
	q.mu.Unlock()

	q.logger.Info("approval request transitioned", "id", id, "status", string(to))
	publish(subs, Event{Type: eventType, Request: snapshot})
	return snapshot, nil
}

func publish(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
