package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ".cadre", cfg.Data.Dir)
	require.Equal(t, 64, cfg.Agents.Max)
	require.Equal(t, 90*time.Second, cfg.Agents.HeartbeatTimeout)
	require.Equal(t, 3, cfg.Quorum.Minimum)
	require.Equal(t, 0, cfg.Quorum.Percent)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CADRE_DATA_DIR", "/tmp/coord")
	t.Setenv("CADRE_LOG_LEVEL", "debug")
	t.Setenv("CADRE_MAX_AGENTS", "12")
	t.Setenv("CADRE_HEARTBEAT_TIMEOUT", "45s")
	t.Setenv("CADRE_LOCK_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/coord", cfg.Data.Dir)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 12, cfg.Agents.Max)
	require.Equal(t, 45*time.Second, cfg.Agents.HeartbeatTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.Lock.Timeout)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("CADRE_MAX_AGENTS", "plenty")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CADRE_MAX_AGENTS")
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadre.yaml")
	body := `
data:
  dir: /srv/coordination
work:
  max_attempts: 5
  claim_ttl: 2m
quorum:
  minimum: 0
  percent: 60
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("CADRE_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/srv/coordination", cfg.Data.Dir)
	require.Equal(t, 5, cfg.Work.MaxAttempts)
	require.Equal(t, 2*time.Minute, cfg.Work.ClaimTTL)
	require.Equal(t, 60, cfg.Quorum.Percent)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadre.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data:\n  dir: /from/file\n"), 0o644))
	t.Setenv("CADRE_CONFIG_PATH", path)
	t.Setenv("CADRE_DATA_DIR", "/from/env")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/from/env", cfg.Data.Dir)
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Setenv("CADRE_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Data.Dir = "" }},
		{"zero lock retries", func(c *Config) { c.Lock.Retries = 0 }},
		{"zero lock backoff", func(c *Config) { c.Lock.Backoff = 0 }},
		{"backoff cap below backoff", func(c *Config) { c.Lock.BackoffCap = c.Lock.Backoff / 2 }},
		{"zero lock timeout", func(c *Config) { c.Lock.Timeout = 0 }},
		{"zero max agents", func(c *Config) { c.Agents.Max = 0 }},
		{"zero heartbeat timeout", func(c *Config) { c.Agents.HeartbeatTimeout = 0 }},
		{"zero max attempts", func(c *Config) { c.Work.MaxAttempts = 0 }},
		{"zero claim ttl", func(c *Config) { c.Work.ClaimTTL = 0 }},
		{"no quorum rule", func(c *Config) { c.Quorum = QuorumConfig{} }},
		{"both quorum rules", func(c *Config) { c.Quorum = QuorumConfig{Minimum: 3, Percent: 50} }},
		{"percent out of range", func(c *Config) { c.Quorum = QuorumConfig{Percent: 150} }},
		{"zero min team size", func(c *Config) { c.Teams.MinSize = 0 }},
		{"max team below min", func(c *Config) { c.Teams.MaxSize = c.Teams.MinSize - 1 }},
		{"zero batch size", func(c *Config) { c.Realtime.BatchSize = 0 }},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
