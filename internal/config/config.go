// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Resources  ResourcesConfig  `mapstructure:"resources"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Ops        OpsConfig        `mapstructure:"ops"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AdmissionConfig bounds concurrent in-flight work.
type AdmissionConfig struct {
	GlobalLimit     int `mapstructure:"global_limit"`
	PerHostLimit    int `mapstructure:"per_host_limit"`
	HostCooldownSec int `mapstructure:"host_cooldown_seconds"`
}

// ChunkingConfig governs adaptive work-unit sizing.
type ChunkingConfig struct {
	Size             int     `mapstructure:"size"`
	Min              int     `mapstructure:"min"`
	Max              int     `mapstructure:"max"`
	ShrinkFactor     float64 `mapstructure:"shrink_factor"`
	GrowFactor       float64 `mapstructure:"grow_factor"`
	FailureTolerance float64 `mapstructure:"failure_tolerance"`
}

// ResourcesConfig sets monitor thresholds.
type ResourcesConfig struct {
	WindowSize        int     `mapstructure:"window_size"`
	CPUAbortPct       float64 `mapstructure:"cpu_abort_pct"`
	MemAbortPct       float64 `mapstructure:"mem_abort_pct"`
	CPUHighPct        float64 `mapstructure:"cpu_high_pct"`
	MemHighPct        float64 `mapstructure:"mem_high_pct"`
	CPULowPct         float64 `mapstructure:"cpu_low_pct"`
	MemLowPct         float64 `mapstructure:"mem_low_pct"`
	ReclaimMemPct     float64 `mapstructure:"reclaim_mem_pct"`
	ReclaimEveryItems int     `mapstructure:"reclaim_every_items"`
}

// BreakerConfig tunes the per-host circuit breaker.
type BreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	ResetTimeoutSec  int    `mapstructure:"reset_timeout_seconds"`
	StatePath        string `mapstructure:"state_path"`
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// FetcherConfig controls the reference fetch-and-analyze collaborator.
type FetcherConfig struct {
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	PerDomainRPS   float64  `mapstructure:"per_domain_rps"`
	Burst          int      `mapstructure:"burst"`
	BlockedTerms   []string `mapstructure:"blocked_terms"`
}

// DBConfig controls the optional Postgres status repository.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for optional publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpsConfig controls the observability HTTP listener; port 0 disables it.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("URLCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("admission.global_limit", 10)
	v.SetDefault("admission.per_host_limit", 2)
	v.SetDefault("admission.host_cooldown_seconds", 1)
	v.SetDefault("chunking.size", 10)
	v.SetDefault("chunking.min", 1)
	v.SetDefault("chunking.max", 50)
	v.SetDefault("chunking.shrink_factor", 0.5)
	v.SetDefault("chunking.grow_factor", 1.5)
	v.SetDefault("chunking.failure_tolerance", 0.1)
	v.SetDefault("resources.window_size", 30)
	v.SetDefault("resources.cpu_abort_pct", 90)
	v.SetDefault("resources.mem_abort_pct", 90)
	v.SetDefault("resources.cpu_high_pct", 75)
	v.SetDefault("resources.mem_high_pct", 80)
	v.SetDefault("resources.cpu_low_pct", 40)
	v.SetDefault("resources.mem_low_pct", 50)
	v.SetDefault("resources.reclaim_mem_pct", 70)
	v.SetDefault("resources.reclaim_every_items", 500)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_seconds", 300)
	v.SetDefault("breaker.state_path", "./state/breaker.json")
	v.SetDefault("checkpoint.backend", "file")
	v.SetDefault("checkpoint.dir", "./checkpoints")
	v.SetDefault("fetcher.user_agent", "url-compliance-bot/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.per_domain_rps", 1)
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("ops.port", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Admission.GlobalLimit <= 0 {
		return fmt.Errorf("admission.global_limit must be > 0")
	}
	if c.Admission.PerHostLimit <= 0 {
		return fmt.Errorf("admission.per_host_limit must be > 0")
	}
	if c.Admission.PerHostLimit > c.Admission.GlobalLimit {
		return fmt.Errorf("admission.per_host_limit must not exceed admission.global_limit")
	}
	if c.Chunking.Min <= 0 || c.Chunking.Max < c.Chunking.Min {
		return fmt.Errorf("chunking.min/max must satisfy 0 < min <= max")
	}
	if c.Chunking.ShrinkFactor <= 0 || c.Chunking.ShrinkFactor >= 1 {
		return fmt.Errorf("chunking.shrink_factor must be in (0, 1)")
	}
	if c.Chunking.GrowFactor <= 1 {
		return fmt.Errorf("chunking.grow_factor must be > 1")
	}
	switch c.Checkpoint.Backend {
	case "file":
		if c.Checkpoint.Dir == "" {
			return fmt.Errorf("checkpoint.dir must be set for the file backend")
		}
	case "gcs":
		if c.Checkpoint.GCSBucket == "" {
			return fmt.Errorf("checkpoint.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend: %s", c.Checkpoint.Backend)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	return nil
}

// HostCooldown returns the admission cooldown as a duration.
func (c Config) HostCooldown() time.Duration {
	return time.Duration(c.Admission.HostCooldownSec) * time.Second
}

// BreakerResetTimeout returns the circuit reset timeout as a duration.
func (c Config) BreakerResetTimeout() time.Duration {
	return time.Duration(c.Breaker.ResetTimeoutSec) * time.Second
}

// FetcherTimeout returns the fetch timeout as a duration.
func (c Config) FetcherTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}
