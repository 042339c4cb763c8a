// Package config loads and validates the immutable process configuration.
// Values come from defaults, then an optional YAML file, then CADRE_*
// environment overrides. Validation is strict: zero or out-of-range values
// fail startup rather than being clamped.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the coordination runtime configuration.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Lock     LockConfig     `yaml:"lock"`
	Agents   AgentConfig    `yaml:"agents"`
	Work     WorkConfig     `yaml:"work"`
	Quorum   QuorumConfig   `yaml:"quorum"`
	Teams    TeamConfig     `yaml:"teams"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Log      LogConfig      `yaml:"log"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

type DataConfig struct {
	Dir string `yaml:"dir"`
}

type LockConfig struct {
	Retries    int           `yaml:"retries"`
	Backoff    time.Duration `yaml:"backoff"`
	BackoffCap time.Duration `yaml:"backoff_cap"`
	Timeout    time.Duration `yaml:"timeout"`
}

type AgentConfig struct {
	Max              int           `yaml:"max"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

type WorkConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	ClaimTTL    time.Duration `yaml:"claim_ttl"`
}

// QuorumConfig sets the vote floor: either an absolute member count or a
// percentage of registered members. Exactly one must be positive.
type QuorumConfig struct {
	Minimum int `yaml:"minimum"`
	Percent int `yaml:"percent"`
}

type TeamConfig struct {
	MinSize        int `yaml:"min_size"`
	MaxSize        int `yaml:"max_size"`
	ScaleThreshold int `yaml:"scale_threshold"`
}

type RealtimeConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
	LatencyBudget time.Duration `yaml:"latency_budget"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from an optional YAML file and environment
// variables, then validates it.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CADRE_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if dir := os.Getenv("CADRE_DATA_DIR"); dir != "" {
		cfg.Data.Dir = dir
	}
	if level := os.Getenv("CADRE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if path := os.Getenv("CADRE_ARCHIVE_PATH"); path != "" {
		cfg.Archive.Path = path
	}
	if raw := os.Getenv("CADRE_MAX_AGENTS"); raw != "" {
		max, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CADRE_MAX_AGENTS: %w", err)
		}
		cfg.Agents.Max = max
	}
	if raw := os.Getenv("CADRE_HEARTBEAT_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CADRE_HEARTBEAT_TIMEOUT: %w", err)
		}
		cfg.Agents.HeartbeatTimeout = d
	}
	if raw := os.Getenv("CADRE_LOCK_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CADRE_LOCK_TIMEOUT: %w", err)
		}
		cfg.Lock.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the documented operational defaults.
func Default() Config {
	return Config{
		Data: DataConfig{Dir: ".cadre"},
		Lock: LockConfig{
			Retries:    5,
			Backoff:    2 * time.Millisecond,
			BackoffCap: 250 * time.Millisecond,
			Timeout:    5 * time.Second,
		},
		Agents: AgentConfig{
			Max:              64,
			HeartbeatTimeout: 90 * time.Second,
			SweepInterval:    30 * time.Second,
		},
		Work: WorkConfig{
			MaxAttempts: 3,
			ClaimTTL:    90 * time.Second,
		},
		Quorum: QuorumConfig{Minimum: 3},
		Teams: TeamConfig{
			MinSize:        3,
			MaxSize:        9,
			ScaleThreshold: 5,
		},
		Realtime: RealtimeConfig{
			FlushInterval: 100 * time.Millisecond,
			BatchSize:     64,
			LatencyBudget: 5 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		},
		Log:     LogConfig{Level: "info"},
		Archive: ArchiveConfig{Path: "cadre-archive.db"},
	}
}

// Validate rejects zero and out-of-range values. Configuration problems are
// fatal at startup by design.
func (c Config) Validate() error {
	if c.Data.Dir == "" {
		return fmt.Errorf("config: data.dir is required")
	}
	if c.Lock.Retries < 1 {
		return fmt.Errorf("config: lock.retries must be positive, got %d", c.Lock.Retries)
	}
	if c.Lock.Backoff <= 0 {
		return fmt.Errorf("config: lock.backoff must be positive, got %s", c.Lock.Backoff)
	}
	if c.Lock.BackoffCap < c.Lock.Backoff {
		return fmt.Errorf("config: lock.backoff_cap %s below lock.backoff %s", c.Lock.BackoffCap, c.Lock.Backoff)
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("config: lock.timeout must be positive, got %s", c.Lock.Timeout)
	}
	if c.Agents.Max < 1 {
		return fmt.Errorf("config: agents.max must be positive, got %d", c.Agents.Max)
	}
	if c.Agents.HeartbeatTimeout <= 0 {
		return fmt.Errorf("config: agents.heartbeat_timeout must be positive, got %s", c.Agents.HeartbeatTimeout)
	}
	if c.Agents.SweepInterval <= 0 {
		return fmt.Errorf("config: agents.sweep_interval must be positive, got %s", c.Agents.SweepInterval)
	}
	if c.Work.MaxAttempts < 1 {
		return fmt.Errorf("config: work.max_attempts must be positive, got %d", c.Work.MaxAttempts)
	}
	if c.Work.ClaimTTL <= 0 {
		return fmt.Errorf("config: work.claim_ttl must be positive, got %s", c.Work.ClaimTTL)
	}
	if c.Quorum.Minimum <= 0 && c.Quorum.Percent <= 0 {
		return fmt.Errorf("config: one of quorum.minimum or quorum.percent must be positive")
	}
	if c.Quorum.Minimum > 0 && c.Quorum.Percent > 0 {
		return fmt.Errorf("config: quorum.minimum and quorum.percent are mutually exclusive")
	}
	if c.Quorum.Percent < 0 || c.Quorum.Percent > 100 {
		return fmt.Errorf("config: quorum.percent must be within 0-100, got %d", c.Quorum.Percent)
	}
	if c.Teams.MinSize < 1 {
		return fmt.Errorf("config: teams.min_size must be positive, got %d", c.Teams.MinSize)
	}
	if c.Teams.MaxSize < c.Teams.MinSize {
		return fmt.Errorf("config: teams.max_size %d below teams.min_size %d", c.Teams.MaxSize, c.Teams.MinSize)
	}
	if c.Teams.ScaleThreshold < 1 {
		return fmt.Errorf("config: teams.scale_threshold must be positive, got %d", c.Teams.ScaleThreshold)
	}
	if c.Realtime.FlushInterval <= 0 {
		return fmt.Errorf("config: realtime.flush_interval must be positive, got %s", c.Realtime.FlushInterval)
	}
	if c.Realtime.BatchSize < 1 {
		return fmt.Errorf("config: realtime.batch_size must be positive, got %d", c.Realtime.BatchSize)
	}
	if c.Realtime.LatencyBudget <= 0 {
		return fmt.Errorf("config: realtime.latency_budget must be positive, got %s", c.Realtime.LatencyBudget)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("config: breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("config: breaker.recovery_timeout must be positive, got %s", c.Breaker.RecoveryTimeout)
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
