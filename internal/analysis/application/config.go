package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the engine tuning knobs shared by the batch processor, the
// incident correlator and the retention purge.
type Config struct {
	BatchLimit        int           `yaml:"batch_limit"`
	BatchInterval     time.Duration `yaml:"batch_interval"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	CorrelationWindow time.Duration `yaml:"correlation_window"`
	RetentionDays     int           `yaml:"retention_days"`
	PurgeInterval     time.Duration `yaml:"purge_interval"`
}

// LoadConfig loads engine configuration from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		BatchLimit:        getenvIntDefault("ENGINE_BATCH_LIMIT", defaultBatchLimit),
		BatchInterval:     getenvDuration("ENGINE_BATCH_INTERVAL", 5*time.Second),
		RetryAttempts:     getenvIntDefault("ENGINE_RETRY_ATTEMPTS", defaultRetryAttempts),
		RetryDelay:        getenvDuration("ENGINE_RETRY_DELAY", defaultRetryDelay),
		CorrelationWindow: getenvDuration("ENGINE_CORRELATION_WINDOW", 2*time.Hour),
		RetentionDays:     getenvIntDefault("ENGINE_RETENTION_DAYS", 30),
		PurgeInterval:     getenvDuration("ENGINE_PURGE_INTERVAL", 24*time.Hour),
	}

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.BatchLimit <= 0 {
		return cfg, errors.New("engine config: batch_limit must be positive")
	}
	if cfg.CorrelationWindow <= 0 {
		return cfg, errors.New("engine config: correlation_window must be positive")
	}
	if cfg.RetentionDays <= 0 {
		return cfg, errors.New("engine config: retention_days must be positive")
	}
	return cfg, nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
