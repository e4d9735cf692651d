package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/espalier/pkg/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "espalier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverFile, cfg.Store.Driver)
	assert.Equal(t, 100, cfg.Engine.MaxSteps)
	assert.Equal(t, 3, cfg.Policy().MaxRetries)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeFile(t, `
store:
  driver: redis
  redis:
    addr: redis:6379
    ttl: 24h
  mask_columns: "email,phone"
engine:
  max_retries: 4
  cooldown: 30s
  backoff_jitter: 0.25
routing:
  high_confidence: 0.9
nodes:
  execute:
    max_retries: "4"
    cooldown: 5s
pipeline:
  command:
    command: bq
    args: [query, --format=json]
    env:
      PROJECT: demo
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "espalier:session:", cfg.Store.Redis.Prefix, "unset keys keep their default")
	assert.Equal(t, 24*time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, []string{"email", "phone"}, cfg.Store.MaskColumns)
	assert.Equal(t, 4, cfg.Engine.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Engine.Cooldown)
	assert.Equal(t, 0.25, cfg.Policy().Backoff.Jitter)
	assert.Equal(t, 0.9, cfg.Routing.HighConfidence)
	assert.Equal(t, 0.5, cfg.Routing.LowConfidence)
	assert.Equal(t, "bq", cfg.Pipeline.Command.Command)
	assert.Equal(t, []string{"query", "--format=json"}, cfg.Pipeline.Command.Args)
	assert.Equal(t, map[string]string{"PROJECT": "demo"}, cfg.Pipeline.Command.Env)

	policies, err := cfg.NodePolicies()
	require.NoError(t, err)
	assert.Equal(t, 4, policies[domain.NodeExecute].MaxRetries)
	assert.Equal(t, 5*time.Second, policies[domain.NodeExecute].Cooldown)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "engine:\n  max_retrys: 2\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retrys")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ESPALIER_STORE_DRIVER": "postgres",
		"ESPALIER_POSTGRES_DSN": "postgres://localhost/espalier",
		"ESPALIER_REDIS_DB":     "2",
		"ESPALIER_HTTP_ADDR":    ":9090",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/espalier", cfg.Store.Postgres.DSN)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	require.NoError(t, cfg.Validate())

	env["ESPALIER_REDIS_DB"] = "two"
	require.Error(t, Default().applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "s3" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.postgres.dsn"},
		{"file without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"overlapping bands", func(c *Config) { c.Routing.LowConfidence = 0.95 }, "confidence"},
		{"reroutes over retries", func(c *Config) { c.Routing.MaxReroutes = 5 }, "max_reroutes"},
		{"node retries under reroutes", func(c *Config) {
			c.Nodes = map[string]NodeConfig{"execute": {MaxRetries: 1}}
		}, "nodes: "},
		{"jitter over one", func(c *Config) { c.Engine.BackoffJitter = 1.5 }, "backoff_jitter"},
		{"unknown node", func(c *Config) { c.Nodes = map[string]NodeConfig{"publish": {}} }, "publish"},
		{"short key", func(c *Config) { c.Store.EncryptionKey = "abcd" }, "encryption_key"},
		{"fallback without key", func(c *Config) { c.Store.FallbackKeys = []string{"x"} }, "fallback_keys"},
		{"dsn and command", func(c *Config) {
			c.Pipeline.DatabaseDSN = "postgres://localhost/db"
			c.Pipeline.Command.Command = "bq-query"
		}, "mutually exclusive"},
		{"reserved command env", func(c *Config) {
			c.Pipeline.Command.Command = "bq-query"
			c.Pipeline.Command.Env = map[string]string{"ESPALIER_SQL": "x"}
		}, "pipeline.command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEncryptionKeys(t *testing.T) {
	cfg := Default()
	active, fallback, err := cfg.EncryptionKeys()
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Nil(t, fallback)

	cfg.Store.EncryptionKey = strings.Repeat("ab", 32)
	cfg.Store.FallbackKeys = []string{"MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE="}
	active, fallback, err = cfg.EncryptionKeys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	require.Len(t, fallback, 1)
	assert.Equal(t, []byte("01234567890123456789012345678901"), fallback[0])
}
