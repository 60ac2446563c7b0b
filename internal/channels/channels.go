// Package channels delivers operator notifications to webhooks, an MQTT
// broker and connected dashboard clients.
package channels

import (
	"context"
	"errors"
	"log/slog"
)

// Notifier delivers a text message to the human operator.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, text string) error
}

// Multi fans a message out to every notifier. A failing notifier never
// prevents delivery to the others.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti returns a fan-out over notifiers. Nil entries are skipped.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger.With("component", "notify")}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

func (m *Multi) Name() string { return "multi" }

// Notify delivers text to every notifier and returns the joined failures.
func (m *Multi) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, text); err != nil {
			m.logger.Warn("notification failed", "notifier", n.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
