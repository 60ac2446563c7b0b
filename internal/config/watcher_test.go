package config

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T, body string, env map[string]string) *Store {
	t.Helper()
	path := writeConfig(t, "opsguardian.toml", body)
	s, err := openWithEnv(path, envMap(env), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func rewrite(t *testing.T, s *Store, fn func(*Config)) {
	t.Helper()
	cfg, err := decodeFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	fn(cfg)
	if err := cfg.Save(s.Path()); err != nil {
		t.Fatal(err)
	}
}

func TestStoreMonitorsReadFresh(t *testing.T) {
	s := openTestStore(t, "[[monitors]]\nname = \"a\"\ncommand = \"uptime\"\n", nil)
	if got := s.Monitors(); len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("monitors = %+v", got)
	}

	rewrite(t, s, func(c *Config) {
		c.Monitors = append(c.Monitors, c.Monitors[0])
		c.Monitors[1].Name = "b"
	})
	if got := s.Monitors(); len(got) != 2 || got[1].Name != "b" {
		t.Errorf("edit not visible without reload: %+v", got)
	}

	os.WriteFile(s.Path(), []byte("[[monitors"), 0644)
	if got := s.Monitors(); len(got) != 1 {
		t.Errorf("broken file should fall back to loaded list, got %+v", got)
	}
}

func TestStoreUpdate(t *testing.T) {
	s := openTestStore(t, "", map[string]string{"GOOGLE_API_KEY": "env-key"})

	err := s.Update(func(c *Config) {
		c.Notifications.Webhooks = []string{"https://hooks.example.com/new"}
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.WebhookURLs(); !slices.Equal(got, []string{"https://hooks.example.com/new"}) {
		t.Errorf("live webhooks = %v", got)
	}
	if s.Get().Agent.APIKey != "env-key" {
		t.Error("update dropped env override from live config")
	}

	onDisk, err := decodeFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(onDisk.Notifications.Webhooks, []string{"https://hooks.example.com/new"}) {
		t.Errorf("disk webhooks = %v", onDisk.Notifications.Webhooks)
	}
	if onDisk.Agent.APIKey != "" {
		t.Error("env override persisted")
	}
}

func TestReloadDetectsChangedFields(t *testing.T) {
	s := openTestStore(t, "", nil)

	var notified *ReloadResult
	s.OnReload(func(_ *Config, r *ReloadResult) { notified = r })

	rewrite(t, s, func(c *Config) {
		c.Server.LogLevel = "debug"
		c.Guardrail.SafeCommands = []string{"ls"}
		c.Server.Port = 9999
	})

	result, err := s.Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(result.Changed) != 3 {
		t.Errorf("expected 3 changes, got %v", result.Changed)
	}
	if !result.Has("Server.LogLevel") || !result.Has("Guardrail.SafeCommands") {
		t.Errorf("applied = %v", result.Applied)
	}
	if !slices.Contains(result.Skipped, "Server.Port (requires restart)") {
		t.Errorf("skipped = %v", result.Skipped)
	}

	cfg := s.Get()
	if cfg.Server.LogLevel != "debug" || !slices.Equal(cfg.Guardrail.SafeCommands, []string{"ls"}) {
		t.Errorf("hot fields not applied: %+v", cfg)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port should stay 8000 until restart, got %d", cfg.Server.Port)
	}
	if notified != result {
		t.Error("reload listener not called")
	}
}

func TestReloadNoChanges(t *testing.T) {
	s := openTestStore(t, "", map[string]string{"ADMIN_PASSWORD": "pw"})
	result, err := s.Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(result.Changed) != 0 {
		t.Errorf("expected no changes, got %v", result.Changed)
	}
}

func TestReloadBadFile(t *testing.T) {
	s := openTestStore(t, "", nil)
	os.WriteFile(s.Path(), []byte("{invalid"), 0644)
	if _, err := s.Reload(); err == nil {
		t.Fatal("expected error for invalid file")
	}
	if s.Get().Server.Port != 8000 {
		t.Error("failed reload modified live config")
	}
}

func TestIsRestartRequired(t *testing.T) {
	if !IsRestartRequired("Server.Port") {
		t.Error("Server.Port should require restart")
	}
	if !IsRestartRequired("Workspace") {
		t.Error("Workspace should require restart")
	}
	if IsRestartRequired("Monitors") {
		t.Error("Monitors should not require restart")
	}
	if !slices.Contains(HotReloadableFields(), "Guardrail.SafeCommands") {
		t.Error("expected Guardrail.SafeCommands in hot-reloadable fields")
	}
}

func TestLogResult(t *testing.T) {
	logger := testLogger()

	// No changes
	r := &ReloadResult{}
	r.LogResult(logger) // should not panic

	// With changes
	r2 := &ReloadResult{
		Changed: []string{"Monitors", "Server.Port"},
		Applied: []string{"Monitors"},
		Skipped: []string{"Server.Port (requires restart)"},
	}
	r2.LogResult(logger) // should not panic
}

func TestWatcherDetectsChange(t *testing.T) {
	s := openTestStore(t, "", nil)

	changed := make(chan struct{}, 1)
	w := NewWatcher(s.Path(), 50*time.Millisecond, testLogger(), func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Wait a bit then modify the file
	time.Sleep(100 * time.Millisecond)
	rewrite(t, s, func(c *Config) { c.Server.LogLevel = "debug" })

	select {
	case <-changed:
		// OK
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not detect change within timeout")
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	s := openTestStore(t, "", nil)
	w := NewWatcher(s.Path(), 50*time.Millisecond, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
