package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const webhookTimeout = 5 * time.Second

// WebhookNotifier posts {"content": text} to each configured URL. The URL
// list is read on every call so configuration edits apply immediately.
type WebhookNotifier struct {
	urls   func() []string
	client HTTPClient
	logger *slog.Logger
}

// NewWebhookNotifier creates a notifier using the default HTTP client.
func NewWebhookNotifier(urls func() []string, logger *slog.Logger) *WebhookNotifier {
	return NewWebhookNotifierWithClient(urls, NewDefaultHTTPClient(&http.Client{Timeout: webhookTimeout}), logger)
}

// NewWebhookNotifierWithClient creates a notifier with a custom client (for testing).
func NewWebhookNotifierWithClient(urls func() []string, client HTTPClient, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		urls:   urls,
		client: client,
		logger: logger.With("channel", "webhook"),
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify posts to every URL. Each endpoint fails independently.
func (w *WebhookNotifier) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	var errs []error
	for _, url := range w.urls() {
		if url == "" {
			continue
		}
		if err := w.post(ctx, url, body); err != nil {
			w.logger.Warn("webhook delivery failed", "url", url, "error", err)
			errs = append(errs, err)
			continue
		}
		w.logger.Debug("webhook delivered", "url", url)
	}
	return errors.Join(errs...)
}

func (w *WebhookNotifier) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}
