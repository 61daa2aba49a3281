package config

import (
	"fmt"
	"time"
)

// Config represents a mender.yaml configuration file. All values are
// optional and act as defaults for mender run flags. CLI flags and
// environment variables always override config values.
type Config struct {
	DevinAPIKey     string `yaml:"devin_api_key"`
	DevinAPIBaseURL string `yaml:"devin_api_base_url"`

	MockMode       bool     `yaml:"mock_mode"`
	HybridMode     bool     `yaml:"hybrid_mode"`
	ConnectedRepos []string `yaml:"connected_repos"`

	MaxParallelSessions int     `yaml:"max_parallel_sessions"`
	MaxACUPerSession    int     `yaml:"max_acu_per_session"`
	WaveSize            int     `yaml:"wave_size"`
	MinSuccessRate      float64 `yaml:"min_success_rate"`

	PollIntervalSeconds   int `yaml:"poll_interval_seconds"`
	SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`

	MaxRetries                    int     `yaml:"max_retries"`
	RetryJitterMaxSeconds         float64 `yaml:"retry_jitter_max_seconds"`
	CircuitBreakerThreshold       int     `yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldownSeconds int     `yaml:"circuit_breaker_cooldown_seconds"`

	StateFilePath string `yaml:"state_file_path"`
	RunsDir       string `yaml:"runs_dir"`
	MemoryDir     string `yaml:"memory_dir"`
	PlaybooksDir  string `yaml:"playbooks_dir"`

	Notify  NotifyConfig  `yaml:"notify"`
	Archive ArchiveConfig `yaml:"archive"`
}

// NotifyConfig holds run-completion notification settings. Both sinks are
// optional; an empty URL disables the corresponding sink.
type NotifyConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Redis   RedisConfig   `yaml:"redis"`
}

// WebhookConfig configures the HTTP POST notification sink.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// RedisConfig configures the redis pub/sub notification sink.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// ArchiveConfig configures the optional S3 archive of run state and
// memory items.
type ArchiveConfig struct {
	S3Path      string `yaml:"s3_path"` // s3://bucket/prefix
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns a Config populated with documented defaults.
func Default() *Config {
	return &Config{
		DevinAPIBaseURL:               "https://api.devin.ai/v1",
		MaxParallelSessions:           10,
		MaxACUPerSession:              5,
		WaveSize:                      10,
		MinSuccessRate:                0.7,
		PollIntervalSeconds:           20,
		SessionTimeoutMinutes:         90,
		MaxRetries:                    3,
		RetryJitterMaxSeconds:         1.0,
		CircuitBreakerThreshold:       5,
		CircuitBreakerCooldownSeconds: 30,
		StateFilePath:                 "state.json",
		RunsDir:                       "runs",
		MemoryDir:                     "memory",
		PlaybooksDir:                  "playbooks",
	}
}

// PollInterval returns the session poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SessionTimeout returns the per-session wall-clock limit as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

// CircuitBreakerCooldown returns the breaker open-state duration.
func (c *Config) CircuitBreakerCooldown() time.Duration {
	return time.Duration(c.CircuitBreakerCooldownSeconds) * time.Second
}

// RetryJitterMax returns the max uniform jitter added to retry backoff.
func (c *Config) RetryJitterMax() time.Duration {
	return time.Duration(c.RetryJitterMaxSeconds * float64(time.Second))
}

// Validate rejects configurations the orchestrator cannot run with.
// Live-mode requirements (API key, connected repos for hybrid) are checked
// separately during preflight because they depend on the chosen data source.
func (c *Config) Validate() error {
	if c.WaveSize <= 0 {
		return fmt.Errorf("wave_size must be positive, got %d", c.WaveSize)
	}
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 1 {
		return fmt.Errorf("min_success_rate must be in [0, 1], got %g", c.MinSuccessRate)
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive, got %d", c.PollIntervalSeconds)
	}
	if c.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("session_timeout_minutes must be positive, got %d", c.SessionTimeoutMinutes)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("circuit_breaker_threshold must be at least 1, got %d", c.CircuitBreakerThreshold)
	}
	if c.MaxACUPerSession < 1 {
		return fmt.Errorf("max_acu_per_session must be at least 1, got %d", c.MaxACUPerSession)
	}
	return nil
}
