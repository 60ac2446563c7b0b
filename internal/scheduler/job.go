package scheduler

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/clawinfra/opsguardian/internal/config"
)

// Schedule and action kinds.
const (
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
	ScheduleAt       = "at"

	ActionCommand = "command"
	ActionPrompt  = "prompt"
	ActionMQTT    = "mqtt"
	ActionHTTP    = "http"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("scheduler: job not found")

type (
	// ScheduleConfig defines when a job runs
	ScheduleConfig = config.ScheduleConfig
	// ActionConfig defines what a job does
	ActionConfig = config.ActionConfig
)

// Job represents a scheduled task
type Job struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Schedule ScheduleConfig `json:"schedule"`
	Action   ActionConfig   `json:"action"`
	Enabled  bool           `json:"enabled"`
	State    JobState       `json:"state"`

	mu sync.Mutex
}

// JobState tracks job execution state
type JobState struct {
	LastRunAt    time.Time     `json:"last_run_at,omitempty"`
	NextRunAt    time.Time     `json:"next_run_at,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
	LastError    string        `json:"last_error,omitempty"`
	LastOutput   string        `json:"last_output,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
}

// FromConfig builds a Job from its configuration entry. A missing id is
// generated.
func FromConfig(jc config.JobConfig) *Job {
	id := jc.ID
	if id == "" {
		id = uuid.New().String()[:8]
	}
	return &Job{
		ID:       id,
		Name:     jc.Name,
		Schedule: jc.Schedule,
		Action:   jc.Action,
		Enabled:  jc.Enabled,
	}
}

// Validate checks if job configuration is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name required")
	}

	// Validate schedule
	switch j.Schedule.Kind {
	case ScheduleInterval:
		if j.Schedule.IntervalMs <= 0 {
			return fmt.Errorf("interval_ms must be positive")
		}
	case ScheduleCron:
		if j.Schedule.Expr == "" {
			return fmt.Errorf("cron expression required")
		}
		if _, err := cron.ParseStandard(j.Schedule.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case ScheduleAt:
		if j.Schedule.Time == "" {
			return fmt.Errorf("time required for 'at' schedule")
		}
		if _, err := time.Parse("15:04", j.Schedule.Time); err != nil {
			return fmt.Errorf("invalid time format (use HH:MM): %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s (use interval, cron, or at)", j.Schedule.Kind)
	}

	// Validate action
	switch j.Action.Kind {
	case ActionCommand:
		if j.Action.Command == "" {
			return fmt.Errorf("command required for command action")
		}
	case ActionPrompt:
		if j.Action.Prompt == "" {
			return fmt.Errorf("prompt required for prompt action")
		}
	case ActionMQTT:
		if j.Action.Topic == "" {
			return fmt.Errorf("topic required for mqtt action")
		}
	case ActionHTTP:
		if j.Action.URL == "" {
			return fmt.Errorf("url required for http action")
		}
		if j.Action.Method == "" {
			j.Action.Method = "GET"
		}
	default:
		return fmt.Errorf("unknown action kind: %s (use command, prompt, mqtt, or http)", j.Action.Kind)
	}

	return nil
}

// NextRun calculates the next run time based on schedule
func (j *Job) NextRun(from time.Time) (time.Time, error) {
	switch j.Schedule.Kind {
	case ScheduleInterval:
		interval := time.Duration(j.Schedule.IntervalMs) * time.Millisecond
		return from.Add(interval), nil

	case ScheduleCron:
		schedule, err := cron.ParseStandard(j.Schedule.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		return schedule.Next(from), nil

	case ScheduleAt:
		t, err := time.Parse("15:04", j.Schedule.Time)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time: %w", err)
		}

		loc := time.Local
		if j.Schedule.Timezone != "" {
			loc, err = time.LoadLocation(j.Schedule.Timezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("load timezone: %w", err)
			}
		}

		from = from.In(loc)
		next := time.Date(from.Year(), from.Month(), from.Day(),
			t.Hour(), t.Minute(), 0, 0, loc)

		// If time has passed today, schedule for tomorrow
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}

		return next, nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
}

// Clone creates a deep copy of the job
func (j *Job) Clone() *Job {
	j.mu.Lock()
	defer j.mu.Unlock()

	action := j.Action
	action.Payload = maps.Clone(j.Action.Payload)
	action.Headers = maps.Clone(j.Action.Headers)
	return &Job{
		ID:       j.ID,
		Name:     j.Name,
		Schedule: j.Schedule,
		Action:   action,
		Enabled:  j.Enabled,
		State:    j.State,
	}
}

func (j *Job) setNextRun(t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.State.NextRunAt = t
}

func (j *Job) recordRun(finished time.Time, duration time.Duration, output string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.State.LastRunAt = finished
	j.State.LastDuration = duration
	j.State.LastOutput = output
	j.State.RunCount++
	if err != nil {
		j.State.ErrorCount++
		j.State.LastError = err.Error()
	} else {
		j.State.LastError = ""
	}
}
