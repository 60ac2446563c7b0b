package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxHTTPOutput = 500

// Executor performs the side effects of scheduled actions.
type Executor interface {
	// RunCommand sends a command through the guardrail; risky commands are
	// queued for approval rather than run.
	RunCommand(ctx context.Context, command string) (string, error)
	// Prompt sends text to the decision service.
	Prompt(ctx context.Context, prompt string) (string, error)
	// Publish sends payload to an MQTT topic.
	Publish(ctx context.Context, topic string, payload []byte) error
}

// JobRunner executes a single job on schedule
type JobRunner struct {
	job      *Job
	executor Executor
	client   *http.Client
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewJobRunner creates a new job runner
func NewJobRunner(job *Job, executor Executor, client *http.Client, log *slog.Logger) *JobRunner {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &JobRunner{
		job:      job,
		executor: executor,
		client:   client,
		logger:   log.With("job", job.ID),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the job at each scheduled time until ctx is cancelled or Stop
// is called.
func (r *JobRunner) Start(ctx context.Context) {
	defer close(r.doneCh)

	if !r.job.Enabled {
		r.logger.Debug("job disabled, not starting")
		return
	}

	for {
		nextRun, err := r.job.NextRun(time.Now())
		if err != nil {
			r.logger.Error("failed to calculate next run", "error", err)
			return
		}
		r.job.setNextRun(nextRun)
		r.logger.Debug("next run scheduled", "next_run", nextRun.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(nextRun))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("job runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			timer.Stop()
			r.logger.Info("job runner stopped")
			return
		case <-timer.C:
			r.executeJob(ctx)
		}
	}
}

// Stop stops the job runner
func (r *JobRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// executeJob runs the job once and records the outcome.
func (r *JobRunner) executeJob(ctx context.Context) (string, error) {
	start := time.Now()
	r.logger.Info("executing job", "action", r.job.Action.Kind)

	var output string
	var err error
	switch r.job.Action.Kind {
	case ActionCommand:
		output, err = r.executeCommand(ctx)
	case ActionPrompt:
		output, err = r.executePrompt(ctx)
	case ActionMQTT:
		err = r.executeMQTT(ctx)
	case ActionHTTP:
		output, err = r.executeHTTP(ctx)
	default:
		err = fmt.Errorf("unknown action kind: %s", r.job.Action.Kind)
	}

	duration := time.Since(start)
	r.job.recordRun(time.Now(), duration, output, err)

	if err != nil {
		r.logger.Error("job failed", "error", err, "duration", duration)
	} else {
		r.logger.Info("job completed", "duration", duration)
	}
	return output, err
}

func (r *JobRunner) executeCommand(ctx context.Context) (string, error) {
	if r.executor == nil {
		return "", fmt.Errorf("executor not set (cannot execute command action)")
	}
	return r.executor.RunCommand(ctx, r.job.Action.Command)
}

func (r *JobRunner) executePrompt(ctx context.Context) (string, error) {
	if r.executor == nil {
		return "", fmt.Errorf("executor not set (cannot execute prompt action)")
	}
	return r.executor.Prompt(ctx, r.job.Action.Prompt)
}

// executeMQTT publishes the action payload as JSON.
func (r *JobRunner) executeMQTT(ctx context.Context) error {
	if r.executor == nil {
		return fmt.Errorf("executor not set (cannot execute mqtt action)")
	}
	payload, err := json.Marshal(r.job.Action.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return r.executor.Publish(ctx, r.job.Action.Topic, payload)
}

// executeHTTP makes an HTTP request
func (r *JobRunner) executeHTTP(ctx context.Context) (string, error) {
	var body io.Reader
	if r.job.Action.Payload != nil {
		data, err := json.Marshal(r.job.Action.Payload)
		if err != nil {
			return "", fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := r.job.Action.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, r.job.Action.URL, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	for k, v := range r.job.Action.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxHTTPOutput))
	output := fmt.Sprintf("Status Code: %d\nResponse: %s", resp.StatusCode, snippet)
	if resp.StatusCode >= 400 {
		return output, fmt.Errorf("http request failed with status: %d", resp.StatusCode)
	}
	return output, nil
}
