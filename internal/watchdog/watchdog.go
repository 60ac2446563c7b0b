// Package watchdog polls the configured monitors and escalates failures to
// the decision service, suppressing repeat escalations until recovery.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clawinfra/opsguardian/internal/monitor"
)

const (
	// DefaultInterval is the pause between ticks.
	DefaultInterval = 10 * time.Second
	// DefaultEscalationTimeout bounds a single escalation call.
	DefaultEscalationTimeout = 2 * time.Minute
)

// Prober runs every monitor and returns the results.
type Prober interface {
	CheckAll(ctx context.Context) []monitor.Result
}

// Escalator receives the synthesized alert prompt. *agent.Session
// satisfies it.
type Escalator interface {
	Send(ctx context.Context, prompt string) (string, error)
}

// Options configures a Watchdog.
type Options struct {
	Prober    Prober
	Escalator Escalator
	// Interval is read before every sleep so reloads take effect on the
	// next tick. Nil or non-positive values use DefaultInterval.
	Interval          func() time.Duration
	EscalationTimeout time.Duration
	Logger            *slog.Logger
}

// Watchdog owns the alert cooldown flag.
type Watchdog struct {
	prober    Prober
	escalator Escalator
	interval  func() time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	cooldown bool
	lastTick time.Time
}

// New creates a Watchdog.
func New(opts Options) *Watchdog {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EscalationTimeout <= 0 {
		opts.EscalationTimeout = DefaultEscalationTimeout
	}
	return &Watchdog{
		prober:    opts.Prober,
		escalator: opts.Escalator,
		interval:  opts.Interval,
		timeout:   opts.EscalationTimeout,
		logger:    opts.Logger.With("component", "watchdog"),
	}
}

// Cooldown reports whether an escalation is outstanding.
func (w *Watchdog) Cooldown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cooldown
}

// LastTick returns when the most recent tick finished.
func (w *Watchdog) LastTick() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastTick
}

// Run ticks immediately and then once per interval until ctx is cancelled.
// Cancellation lets running probes finish but abandons an escalation.
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info("watchdog started", "interval", w.currentInterval())

	for {
		w.Tick(ctx)

		timer := time.NewTimer(w.currentInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("watchdog stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one probe round and updates the cooldown flag. Panics raised
// while probing are recovered so the loop keeps going.
func (w *Watchdog) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watchdog tick panicked", "panic", r)
		}
		w.mu.Lock()
		w.lastTick = time.Now()
		w.mu.Unlock()
	}()

	// In-flight probes finish under their own command timeout rather than
	// being cut short by shutdown.
	results := w.prober.CheckAll(context.WithoutCancel(ctx))
	issues := monitor.Issues(results)

	w.mu.Lock()
	escalate := len(issues) > 0 && !w.cooldown
	recovered := len(issues) == 0 && w.cooldown
	if escalate {
		w.cooldown = true
	}
	if recovered {
		w.cooldown = false
	}
	w.mu.Unlock()

	switch {
	case escalate:
		w.logger.Warn("monitors failing, escalating", "failing", len(issues))
		w.escalate(ctx, issues)
	case recovered:
		w.logger.Info("system recovered, cooldown cleared")
	case len(issues) > 0:
		w.logger.Debug("monitors still failing, cooldown active", "failing", len(issues))
	}
}

func (w *Watchdog) escalate(ctx context.Context, issues []monitor.Result) {
	if w.escalator == nil {
		return
	}
	// Shutdown abandons an in-flight escalation so Run can return promptly.
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if _, err := w.escalator.Send(ctx, EscalationPrompt(issues)); err != nil {
		w.logger.Error("escalation failed", "error", err)
	}
}

// EscalationPrompt summarizes failing monitors for the decision service.
func EscalationPrompt(issues []monitor.Result) string {
	parts := make([]string, 0, len(issues))
	for _, r := range issues {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Output))
	}
	return fmt.Sprintf("CRITICAL ALERT: The following monitoring checks failed: [%s]. You MUST investigate and fix this.",
		strings.Join(parts, "; "))
}

func (w *Watchdog) currentInterval() time.Duration {
	if w.interval == nil {
		return DefaultInterval
	}
	if d := w.interval(); d > 0 {
		return d
	}
	return DefaultInterval
}
