package config

import (
	"log/slog"
	"reflect"
	"slices"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // list of changed fields
	Applied []string // successfully applied
	Skipped []string // require restart
	Errors  []error
}

// restartRequiredFields lists config fields that cannot be hot-reloaded
// and require a full process restart.
var restartRequiredFields = map[string]bool{
	"Server.Port":           true,
	"Server.DataDir":        true,
	"Server.LogFormat":      true,
	"Server.AllowedOrigins": true,
	"Auth":                  true,
	"Workspace":             true,
	"Guardrail.Timeouts":    true,
	"Watchdog.Enabled":      true,
	"Notifications.MQTT":    true,
	"Agent.Provider":        true,
	"Agent.Limits":          true,
	"Audit":                 true,
	"Scheduler":             true,
}

// hotReloadableFields lists fields that can be applied at runtime.
var hotReloadableFields = []string{
	"Server.LogLevel",
	"Server.FrontendURL",
	"Guardrail.SafeCommands",
	"Guardrail.RestartCommand",
	"Watchdog.IntervalSec",
	"Monitors",
	"Notifications.Webhooks",
	"Agent.Model",
	"Agent.APIKey",
}

// diffAndApply compares old and new configs, applying hot-reloadable changes.
func diffAndApply(old, new *Config, result *ReloadResult) {
	result.apply("Server.LogLevel", old.Server.LogLevel != new.Server.LogLevel, func() {
		old.Server.LogLevel = new.Server.LogLevel
	})
	result.apply("Server.FrontendURL", old.Server.FrontendURL != new.Server.FrontendURL, func() {
		old.Server.FrontendURL = new.Server.FrontendURL
	})
	result.skip("Server.Port", old.Server.Port != new.Server.Port)
	result.skip("Server.DataDir", old.Server.DataDir != new.Server.DataDir)
	result.skip("Server.LogFormat", old.Server.LogFormat != new.Server.LogFormat)
	result.skip("Server.AllowedOrigins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))

	result.skip("Auth", old.Auth != new.Auth)
	result.skip("Workspace", old.Workspace != new.Workspace)

	result.apply("Guardrail.SafeCommands", !slices.Equal(old.Guardrail.SafeCommands, new.Guardrail.SafeCommands), func() {
		old.Guardrail.SafeCommands = slices.Clone(new.Guardrail.SafeCommands)
	})
	result.apply("Guardrail.RestartCommand", old.Guardrail.RestartCommand != new.Guardrail.RestartCommand, func() {
		old.Guardrail.RestartCommand = new.Guardrail.RestartCommand
	})
	result.skip("Guardrail.Timeouts",
		old.Guardrail.CommandTimeoutSec != new.Guardrail.CommandTimeoutSec ||
			old.Guardrail.ScriptTimeoutSec != new.Guardrail.ScriptTimeoutSec ||
			old.Guardrail.ScriptInterpreter != new.Guardrail.ScriptInterpreter)

	result.apply("Watchdog.IntervalSec", old.Watchdog.IntervalSec != new.Watchdog.IntervalSec, func() {
		old.Watchdog.IntervalSec = new.Watchdog.IntervalSec
	})
	result.skip("Watchdog.Enabled", old.Watchdog.Enabled != new.Watchdog.Enabled)

	result.apply("Monitors", !slices.Equal(old.Monitors, new.Monitors), func() {
		old.Monitors = slices.Clone(new.Monitors)
	})

	result.apply("Notifications.Webhooks", !slices.Equal(old.Notifications.Webhooks, new.Notifications.Webhooks), func() {
		old.Notifications.Webhooks = slices.Clone(new.Notifications.Webhooks)
	})
	result.skip("Notifications.MQTT", old.Notifications.MQTT != new.Notifications.MQTT)

	result.apply("Agent.Model", old.Agent.Model != new.Agent.Model, func() {
		old.Agent.Model = new.Agent.Model
	})
	result.apply("Agent.APIKey", old.Agent.APIKey != new.Agent.APIKey, func() {
		old.Agent.APIKey = new.Agent.APIKey
	})
	result.skip("Agent.Provider", old.Agent.Provider != new.Agent.Provider)
	result.skip("Agent.Limits",
		old.Agent.MaxIterations != new.Agent.MaxIterations || old.Agent.MaxParallelTools != new.Agent.MaxParallelTools)

	result.skip("Audit", old.Audit != new.Audit)
	result.skip("Scheduler", !reflect.DeepEqual(old.Scheduler, new.Scheduler))
}

func (r *ReloadResult) apply(field string, changed bool, fn func()) {
	if !changed {
		return
	}
	r.Changed = append(r.Changed, field)
	fn()
	r.Applied = append(r.Applied, field)
}

func (r *ReloadResult) skip(field string, changed bool) {
	if !changed {
		return
	}
	r.Changed = append(r.Changed, field)
	r.Skipped = append(r.Skipped, field+" (requires restart)")
}

// Has reports whether field was applied.
func (r *ReloadResult) Has(field string) bool {
	return slices.Contains(r.Applied, field)
}

// LogResult logs the reload result at the appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", len(r.Applied),
		"skipped", len(r.Skipped),
		"errors", len(r.Errors),
	)

	for _, field := range r.Applied {
		logger.Info("config field hot-reloaded", "field", field)
	}

	for _, field := range r.Skipped {
		logger.Warn("config field requires restart", "field", field)
	}

	for _, err := range r.Errors {
		logger.Error("config reload error", "error", err)
	}
}

// IsRestartRequired returns true if the field requires a restart.
func IsRestartRequired(field string) bool {
	return restartRequiredFields[field]
}

// HotReloadableFields returns the list of hot-reloadable field names.
func HotReloadableFields() []string {
	return hotReloadableFields
}
