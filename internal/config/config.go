// Package config loads, migrates and hot-reloads the OpsGuardian
// configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/clawinfra/opsguardian/internal/monitor"
	"github.com/clawinfra/opsguardian/internal/security"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "opsguardian.toml"

// Config holds all OpsGuardian configuration
type Config struct {
	Server        ServerConfig         `toml:"server" yaml:"server" json:"server"`
	Auth          AuthConfig           `toml:"auth" yaml:"auth" json:"auth"`
	Workspace     WorkspaceConfig      `toml:"workspace" yaml:"workspace" json:"workspace"`
	Guardrail     GuardrailConfig      `toml:"guardrail" yaml:"guardrail" json:"guardrail"`
	Watchdog      WatchdogConfig       `toml:"watchdog" yaml:"watchdog" json:"watchdog"`
	Monitors      []monitor.Definition `toml:"monitors" yaml:"monitors" json:"monitors"`
	Notifications NotificationsConfig  `toml:"notifications" yaml:"notifications" json:"notifications"`
	Agent         AgentConfig          `toml:"agent" yaml:"agent" json:"agent"`
	Audit         AuditConfig          `toml:"audit" yaml:"audit" json:"audit"`
	Scheduler     SchedulerConfig      `toml:"scheduler" yaml:"scheduler" json:"scheduler"`
}

type ServerConfig struct {
	Port           int      `toml:"port" yaml:"port" json:"port"`
	DataDir        string   `toml:"data_dir" yaml:"data_dir" json:"data_dir"`
	LogLevel       string   `toml:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat      string   `toml:"log_format" yaml:"log_format" json:"log_format"` // "text" or "json"
	FrontendURL    string   `toml:"frontend_url" yaml:"frontend_url" json:"frontend_url"`
	AllowedOrigins []string `toml:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret       string `toml:"jwt_secret" yaml:"jwt_secret" json:"-"`
	PasswordHash    string `toml:"password_hash" yaml:"password_hash" json:"-"`
	TokenTTLMinutes int    `toml:"token_ttl_minutes" yaml:"token_ttl_minutes" json:"token_ttl_minutes"`
}

// TokenTTL returns the session lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

type WorkspaceConfig struct {
	Root            string `toml:"root" yaml:"root" json:"root"`
	MaxContextFiles int    `toml:"max_context_files" yaml:"max_context_files" json:"max_context_files"`
	MaxExtraFiles   int    `toml:"max_extra_files" yaml:"max_extra_files" json:"max_extra_files"`
}

type GuardrailConfig struct {
	SafeCommands      []string `toml:"safe_commands" yaml:"safe_commands" json:"safe_commands"`
	CommandTimeoutSec int      `toml:"command_timeout_sec" yaml:"command_timeout_sec" json:"command_timeout_sec"`
	ScriptInterpreter string   `toml:"script_interpreter" yaml:"script_interpreter" json:"script_interpreter"`
	ScriptTimeoutSec  int      `toml:"script_timeout_sec" yaml:"script_timeout_sec" json:"script_timeout_sec"`
	RestartCommand    string   `toml:"restart_command" yaml:"restart_command" json:"restart_command"`
}

type WatchdogConfig struct {
	Enabled     bool `toml:"enabled" yaml:"enabled" json:"enabled"`
	IntervalSec int  `toml:"interval_sec" yaml:"interval_sec" json:"interval_sec"`
}

// Interval returns the polling period.
func (w WatchdogConfig) Interval() time.Duration {
	return time.Duration(w.IntervalSec) * time.Second
}

type NotificationsConfig struct {
	Webhooks []string `toml:"webhooks" yaml:"webhooks" json:"webhooks"`
	// DiscordWebhookURL is the pre-list single webhook. It is merged into
	// Webhooks on load and never written back.
	DiscordWebhookURL string     `toml:"discord_webhook_url,omitempty" yaml:"discord_webhook_url,omitempty" json:"-"`
	MQTT              MQTTConfig `toml:"mqtt" yaml:"mqtt" json:"mqtt"`
}

type MQTTConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled" json:"enabled"`
	Broker      string `toml:"broker" yaml:"broker" json:"broker"`
	Port        int    `toml:"port" yaml:"port" json:"port"`
	Username    string `toml:"username,omitempty" yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `toml:"password,omitempty" yaml:"password,omitempty" json:"-"`
	ClientID    string `toml:"client_id,omitempty" yaml:"client_id,omitempty" json:"client_id,omitempty"`
	TopicPrefix string `toml:"topic_prefix" yaml:"topic_prefix" json:"topic_prefix"`
}

type AgentConfig struct {
	Provider         string `toml:"provider" yaml:"provider" json:"provider"` // "gemini"
	Model            string `toml:"model" yaml:"model" json:"model"`
	APIKey           string `toml:"api_key" yaml:"api_key" json:"-"`
	MaxIterations    int    `toml:"max_iterations" yaml:"max_iterations" json:"max_iterations"`
	MaxParallelTools int    `toml:"max_parallel_tools" yaml:"max_parallel_tools" json:"max_parallel_tools"`
}

type AuditConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled" json:"enabled"`
	DBPath  string `toml:"db_path" yaml:"db_path" json:"db_path"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled bool        `toml:"enabled" yaml:"enabled" json:"enabled"`
	Jobs    []JobConfig `toml:"jobs" yaml:"jobs" json:"jobs"`
}

// JobConfig defines a scheduled job
type JobConfig struct {
	ID       string         `toml:"id" yaml:"id" json:"id"`
	Name     string         `toml:"name" yaml:"name" json:"name"`
	Schedule ScheduleConfig `toml:"schedule" yaml:"schedule" json:"schedule"`
	Action   ActionConfig   `toml:"action" yaml:"action" json:"action"`
	Enabled  bool           `toml:"enabled" yaml:"enabled" json:"enabled"`
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `toml:"kind" yaml:"kind" json:"kind"` // "interval", "cron", "at"
	IntervalMs int64  `toml:"interval_ms,omitempty" yaml:"interval_ms,omitempty" json:"interval_ms,omitempty"`
	Expr       string `toml:"expr,omitempty" yaml:"expr,omitempty" json:"expr,omitempty"` // cron expression
	Time       string `toml:"time,omitempty" yaml:"time,omitempty" json:"time,omitempty"` // "HH:MM" for daily
	Timezone   string `toml:"timezone,omitempty" yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// ActionConfig defines what a job does
type ActionConfig struct {
	Kind    string            `toml:"kind" yaml:"kind" json:"kind"` // "command", "prompt", "mqtt", "http"
	Command string            `toml:"command,omitempty" yaml:"command,omitempty" json:"command,omitempty"`
	Prompt  string            `toml:"prompt,omitempty" yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Topic   string            `toml:"topic,omitempty" yaml:"topic,omitempty" json:"topic,omitempty"`
	Payload map[string]any    `toml:"payload,omitempty" yaml:"payload,omitempty" json:"payload,omitempty"`
	URL     string            `toml:"url,omitempty" yaml:"url,omitempty" json:"url,omitempty"`
	Method  string            `toml:"method,omitempty" yaml:"method,omitempty" json:"method,omitempty"`
	Headers map[string]string `toml:"headers,omitempty" yaml:"headers,omitempty" json:"headers,omitempty"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8000,
			DataDir:     "./data",
			LogLevel:    "info",
			LogFormat:   "text",
			FrontendURL: "http://localhost:3000",
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 12 * 60,
		},
		Workspace: WorkspaceConfig{
			Root:            "./agent_workspace",
			MaxContextFiles: 5,
			MaxExtraFiles:   5,
		},
		Guardrail: GuardrailConfig{
			SafeCommands:      slices.Clone(security.DefaultSafeCommands),
			CommandTimeoutSec: 10,
			ScriptInterpreter: "python3",
			ScriptTimeoutSec:  30,
		},
		Watchdog: WatchdogConfig{
			Enabled:     true,
			IntervalSec: 10,
		},
		Notifications: NotificationsConfig{
			MQTT: MQTTConfig{
				Port:        1883,
				TopicPrefix: "opsguardian",
			},
		},
		Agent: AgentConfig{
			Provider:         "gemini",
			Model:            "gemini-2.5-flash-lite",
			MaxIterations:    10,
			MaxParallelTools: 5,
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "./data/audit.db",
		},
	}
}

// Load reads config from a TOML or YAML file, creating it from defaults
// when missing. Legacy fields are migrated and environment overrides
// applied.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg, err := decodeFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	// Persist the migration before overrides so env secrets never reach disk.
	if cfg.Migrate() {
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// decodeFile parses path over the defaults without migration or overrides.
func decodeFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes config to path in the format its extension implies
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var data []byte
	if isYAML(path) {
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		data = out
	} else {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		data = buf.Bytes()
	}

	return os.WriteFile(path, data, 0640)
}

// Migrate folds the legacy single Discord webhook into the webhook list.
// It reports whether anything changed.
func (c *Config) Migrate() bool {
	legacy := strings.TrimSpace(c.Notifications.DiscordWebhookURL)
	if legacy == "" {
		return false
	}
	c.Notifications.DiscordWebhookURL = ""
	c.Notifications.Webhooks = appendUnique(c.Notifications.Webhooks, legacy)
	return true
}

// ApplyEnv overlays environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("GOOGLE_API_KEY"); v != "" {
		c.Agent.APIKey = v
	}
	if v := getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Notifications.Webhooks = appendUnique(c.Notifications.Webhooks, v)
	}
	if v := getenv("FRONTEND_URL"); v != "" {
		c.Server.FrontendURL = v
	}
	if v := getenv("OPSGUARDIAN_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("ADMIN_PASSWORD"); v != "" {
		hash, err := security.HashPassword(v)
		if err != nil {
			return fmt.Errorf("hash ADMIN_PASSWORD: %w", err)
		}
		c.Auth.PasswordHash = hash
	}
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	_ = json.Unmarshal(data, clone)
	// Secrets are excluded from JSON.
	clone.Auth = c.Auth
	clone.Agent.APIKey = c.Agent.APIKey
	clone.Notifications.MQTT.Password = c.Notifications.MQTT.Password
	clone.Notifications.DiscordWebhookURL = c.Notifications.DiscordWebhookURL
	return clone
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
