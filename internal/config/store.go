package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/clawinfra/opsguardian/internal/monitor"
	"github.com/clawinfra/opsguardian/internal/security"
)

// Store guards the live configuration shared by every component.
type Store struct {
	path   string
	getenv func(string) string
	logger *slog.Logger

	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config, *ReloadResult)
}

// Open loads path (creating it from defaults when missing) into a Store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	return openWithEnv(path, os.Getenv, logger)
}

func openWithEnv(path string, getenv func(string) string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := load(path, getenv)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, getenv: getenv, cfg: cfg, logger: logger.With("component", "config")}, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the live configuration.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Monitors re-reads the monitor list from disk on every call so edits take
// effect on the next watchdog tick. The last loaded list is returned when
// the file cannot be read.
func (s *Store) Monitors() []monitor.Definition {
	cfg, err := decodeFile(s.path)
	if err != nil {
		s.logger.Warn("failed to re-read monitors, using last loaded list", "error", err)
		s.mu.RLock()
		defer s.mu.RUnlock()
		return slices.Clone(s.cfg.Monitors)
	}
	return cfg.Monitors
}

// WebhookURLs returns the configured notification endpoints.
func (s *Store) WebhookURLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cfg.Notifications.Webhooks)
}

// FrontendURL returns the dashboard base URL used in notification links.
func (s *Store) FrontendURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Server.FrontendURL
}

// RestartCommand returns the service restart command line.
func (s *Store) RestartCommand() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Guardrail.RestartCommand
}

// WatchdogInterval returns the watchdog polling period.
func (s *Store) WatchdogInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Watchdog.Interval()
}

// AgentModel returns the decision-service model name.
func (s *Store) AgentModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Agent.Model
}

// Update applies fn to both the file contents and the live configuration,
// then saves the file. Environment overrides are never written to disk.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	onDisk, err := decodeFile(s.path)
	if err != nil {
		return err
	}
	onDisk.Migrate()
	fn(onDisk)
	if err := onDisk.Save(s.path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	live := s.cfg.Clone()
	fn(live)
	s.cfg = live
	return nil
}

// OnReload registers fn to run after every successful Reload.
func (s *Store) OnReload(fn func(*Config, *ReloadResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads the file and applies hot-reloadable changes.
func (s *Store) Reload() (*ReloadResult, error) {
	next, err := load(s.path, s.getenv)
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}

	s.mu.Lock()
	// A password from the environment hashes with a fresh salt every load.
	if pw := s.getenv("ADMIN_PASSWORD"); pw != "" && security.CheckPassword(s.cfg.Auth.PasswordHash, pw) == nil {
		next.Auth.PasswordHash = s.cfg.Auth.PasswordHash
	}
	live := s.cfg.Clone()
	result := &ReloadResult{}
	diffAndApply(live, next, result)
	s.cfg = live
	listeners := slices.Clone(s.listeners)
	snapshot := live.Clone()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot, result)
	}
	return result, nil
}
