// Package config loads the sitebackup YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config represents the top-level configuration.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Retry      RetryConfig      `yaml:"retry"`
	Throttle   ThrottleConfig   `yaml:"throttle"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Debug      DebugConfig      `yaml:"debug"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tasks      []TaskConfig     `yaml:"tasks"`
}

// SiteConfig holds the remote site and session settings.
type SiteConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIPath   string `yaml:"api_path"`
	UserAgent string `yaml:"user_agent"`
	SessionID string `yaml:"session_id"`
	CSRFToken string `yaml:"csrf_token"`
	APIKey    string `yaml:"api_key"`

	// CookieOrder is "session_first" or "csrf_first".
	CookieOrder   string `yaml:"cookie_order"`
	SessionCookie string `yaml:"session_cookie"`
	CSRFCookie    string `yaml:"csrf_cookie"`
}

// RetryConfig holds the retry policy.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"` // 0 = unbounded
	Delay             time.Duration `yaml:"delay"`        // 0 = no wait
	RetryableStatuses []int         `yaml:"retryable_statuses"`
}

// ThrottleConfig holds the ad-hoc fetch throttle.
type ThrottleConfig struct {
	Spacing time.Duration `yaml:"spacing"` // 0 = no spacing
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend  string `yaml:"backend"` // file, redis
	Dir      string `yaml:"dir"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

// StorageConfig holds the record store location.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"` // debug, info, warn, error
	Pretty bool   `yaml:"pretty"`
}

// DebugConfig controls per-request dumps.
type DebugConfig struct {
	Enabled bool     `yaml:"enabled"`
	Dir     string   `yaml:"dir"`
	Redact  []string `yaml:"redact"`
}

// MetricsConfig holds the metrics listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TaskConfig describes a paged JSON-RPC list to back up.
type TaskConfig struct {
	Name       string        `yaml:"name"`
	Method     string        `yaml:"method"`
	Params     yaml.MapSlice `yaml:"params"`
	PageParam  string        `yaml:"page_param"`
	Mode       string        `yaml:"mode"` // total_pages, until_empty
	ItemsField string        `yaml:"items_field"`
	TotalField string        `yaml:"total_field"`
	IDField    string        `yaml:"id_field"`
	MaxPages   int           `yaml:"max_pages"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() Config {
	return Config{
		Site: SiteConfig{
			APIPath:       "/api/v1/api.php",
			UserAgent:     "sitebackup/0.1.0",
			CookieOrder:   "session_first",
			SessionCookie: "PHPSESSID",
			CSRFCookie:    "csrf_token",
		},
		Retry: RetryConfig{
			MaxAttempts:       0,
			Delay:             5 * time.Second,
			RetryableStatuses: []int{429, 524},
		},
		Throttle: ThrottleConfig{
			Spacing: 25 * time.Millisecond,
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Dir:     "recovery",
			Prefix:  "sitebackup",
		},
		Storage: StorageConfig{
			SQLitePath: "sitebackup.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Debug: DebugConfig{
			Dir: "debug",
		},
	}
}

// Load reads configuration from a YAML file. Environment variables in the
// file are expanded first; keys the file omits keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.UnmarshalStrict([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for i := range cfg.Tasks {
		task := &cfg.Tasks[i]
		if task.PageParam == "" {
			task.PageParam = "page"
		}
		if task.Mode == "" {
			task.Mode = "total_pages"
		}
		if task.TotalField == "" {
			task.TotalField = "total_pages"
		}
		if task.IDField == "" {
			task.IDField = "id"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Site.UserAgent == "" {
		return fmt.Errorf("site.user_agent is required")
	}
	switch c.Site.CookieOrder {
	case "session_first", "csrf_first":
	default:
		return fmt.Errorf("site.cookie_order must be session_first or csrf_first (got %q)", c.Site.CookieOrder)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0 (got %d)", c.Retry.MaxAttempts)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must be >= 0 (got %s)", c.Retry.Delay)
	}
	if c.Throttle.Spacing < 0 {
		return fmt.Errorf("throttle.spacing must be >= 0 (got %s)", c.Throttle.Spacing)
	}
	switch c.Checkpoint.Backend {
	case "file":
	case "redis":
		if c.Checkpoint.RedisURL == "" {
			return fmt.Errorf("checkpoint.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be file or redis (got %q)", c.Checkpoint.Backend)
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i, task := range c.Tasks {
		if task.Name == "" {
			return fmt.Errorf("tasks[%d].name is required", i)
		}
		if seen[task.Name] {
			return fmt.Errorf("tasks[%d]: duplicate task name %q", i, task.Name)
		}
		seen[task.Name] = true
		if task.Method == "" {
			return fmt.Errorf("task %s: method is required", task.Name)
		}
		switch task.Mode {
		case "total_pages", "until_empty":
		default:
			return fmt.Errorf("task %s: mode must be total_pages or until_empty (got %q)", task.Name, task.Mode)
		}
		for _, item := range task.Params {
			if !validParam(item.Value) {
				return fmt.Errorf("task %s: param %v must be a scalar or a list of scalars", task.Name, item.Key)
			}
		}
	}
	return nil
}

// Task returns the task named name.
func (c *Config) Task(name string) (TaskConfig, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskConfig{}, false
}

func validParam(v any) bool {
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if !isScalar(item) {
				return false
			}
		}
		return true
	default:
		return isScalar(v)
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, int, int64, uint64, float64, bool:
		return true
	default:
		return false
	}
}
