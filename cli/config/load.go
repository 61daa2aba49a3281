package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment variables in its
// contents, layers environment overrides on top, and validates the result.
// An empty path skips the file and loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
		}

		expanded := ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers environment variables over the loaded config.
// Each config key maps to its uppercased name, e.g. wave_size ← WAVE_SIZE.
func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	var envErr error
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			envErr = fmt.Errorf("invalid %s=%q: %w", key, v, err)
			return
		}
		*dst = n
	}
	setFloat := func(key string, dst *float64) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			envErr = fmt.Errorf("invalid %s=%q: %w", key, v, err)
			return
		}
		*dst = f
	}
	setBool := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			envErr = fmt.Errorf("invalid %s=%q: %w", key, v, err)
			return
		}
		*dst = b
	}

	setString("DEVIN_API_KEY", &cfg.DevinAPIKey)
	setString("DEVIN_API_BASE_URL", &cfg.DevinAPIBaseURL)
	setBool("MOCK_MODE", &cfg.MockMode)
	setBool("HYBRID_MODE", &cfg.HybridMode)
	setInt("MAX_PARALLEL_SESSIONS", &cfg.MaxParallelSessions)
	setInt("MAX_ACU_PER_SESSION", &cfg.MaxACUPerSession)
	setInt("WAVE_SIZE", &cfg.WaveSize)
	setFloat("MIN_SUCCESS_RATE", &cfg.MinSuccessRate)
	setInt("POLL_INTERVAL_SECONDS", &cfg.PollIntervalSeconds)
	setInt("SESSION_TIMEOUT_MINUTES", &cfg.SessionTimeoutMinutes)
	setInt("MAX_RETRIES", &cfg.MaxRetries)
	setFloat("RETRY_JITTER_MAX_SECONDS", &cfg.RetryJitterMaxSeconds)
	setInt("CIRCUIT_BREAKER_THRESHOLD", &cfg.CircuitBreakerThreshold)
	setInt("CIRCUIT_BREAKER_COOLDOWN_SECONDS", &cfg.CircuitBreakerCooldownSeconds)
	setString("STATE_FILE_PATH", &cfg.StateFilePath)
	setString("RUNS_DIR", &cfg.RunsDir)
	setString("MEMORY_DIR", &cfg.MemoryDir)
	setString("PLAYBOOKS_DIR", &cfg.PlaybooksDir)

	// CONNECTED_REPOS is a comma-separated list in the environment.
	if v, ok := os.LookupEnv("CONNECTED_REPOS"); ok && v != "" {
		repos := make([]string, 0)
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				repos = append(repos, r)
			}
		}
		cfg.ConnectedRepos = repos
	}

	return envErr
}
