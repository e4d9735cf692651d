// Package config loads the espalier configuration: defaults, then an optional
// YAML file, then ESPALIER_* environment variables. Command-line flags are
// applied last by the CLI.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/process"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/graph"
	"github.com/aretw0/espalier/pkg/pipeline"
	"github.com/aretw0/espalier/pkg/retry"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Log      LogConfig             `mapstructure:"log"`
	Store    StoreConfig           `mapstructure:"store"`
	Engine   EngineConfig          `mapstructure:"engine"`
	Routing  RoutingConfig         `mapstructure:"routing"`
	Nodes    map[string]NodeConfig `mapstructure:"nodes"`
	Pipeline PipelineConfig        `mapstructure:"pipeline"`
	HTTP     HTTPConfig            `mapstructure:"http"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Path     string         `mapstructure:"path"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	// EncryptionKey is a 32-byte key, hex or base64 encoded. Empty disables encryption.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
	// MaskColumns are regular expressions of result columns masked before persistence.
	MaskColumns []string `mapstructure:"mask_columns"`
	// LockTTL bounds how long a distributed session lock survives a crashed holder.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	// Lock enables the distributed session lock across replicas.
	Lock bool `mapstructure:"lock"`
}

type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type EngineConfig struct {
	MaxSteps         int           `mapstructure:"max_steps"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay    time.Duration `mapstructure:"max_retry_delay"`
	BackoffJitter    float64       `mapstructure:"backoff_jitter"`
}

type RoutingConfig struct {
	HighConfidence float64 `mapstructure:"high_confidence"`
	LowConfidence  float64 `mapstructure:"low_confidence"`
	MaxReroutes    int     `mapstructure:"max_reroutes"`
}

// NodeConfig overrides the engine retry policy of one node.
type NodeConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type PipelineConfig struct {
	// Catalog is the YAML file of known questions; empty uses the bundled one.
	Catalog string `mapstructure:"catalog"`
	// DatabaseDSN points the executor at Postgres; empty serves catalog sample rows.
	DatabaseDSN  string        `mapstructure:"database_dsn"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	RowLimit     int           `mapstructure:"row_limit"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
	// Command runs statements through an external program instead of a DSN.
	Command process.Config `mapstructure:"command"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	p := graph.DefaultParams()
	policy := runtime.DefaultPolicy()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Driver:  DriverFile,
			Path:    ".espalier/sessions",
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "espalier:session:"},
			LockTTL: 5 * time.Minute,
		},
		Engine: EngineConfig{
			MaxSteps:   runtime.DefaultMaxSteps,
			MaxRetries:    policy.MaxRetries,
			Cooldown:      policy.Cooldown,
			BackoffJitter: 0.5,
		},
		Routing: RoutingConfig{
			HighConfidence: p.HighConfidence,
			LowConfidence:  p.LowConfidence,
			MaxReroutes:    p.MaxReroutes,
		},
		Pipeline: PipelineConfig{
			QueryTimeout: 30 * time.Second,
			RowLimit:     1000,
			MaxBytes:     200 << 30,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge decodes YAML over the current values; absent keys keep their value.
func (c *Config) merge(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"ESPALIER_LOG_LEVEL":      &c.Log.Level,
		"ESPALIER_LOG_FORMAT":     &c.Log.Format,
		"ESPALIER_STORE_DRIVER":   &c.Store.Driver,
		"ESPALIER_STORE_PATH":     &c.Store.Path,
		"ESPALIER_REDIS_ADDR":     &c.Store.Redis.Addr,
		"ESPALIER_REDIS_PASSWORD": &c.Store.Redis.Password,
		"ESPALIER_POSTGRES_DSN":   &c.Store.Postgres.DSN,
		"ESPALIER_ENCRYPTION_KEY": &c.Store.EncryptionKey,
		"ESPALIER_CATALOG":        &c.Pipeline.Catalog,
		"ESPALIER_DATABASE_DSN":   &c.Pipeline.DatabaseDSN,
		"ESPALIER_HTTP_ADDR":      &c.HTTP.Addr,
		"ESPALIER_METRICS_ADDR":   &c.HTTP.MetricsAddr,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("ESPALIER_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ESPALIER_REDIS_DB: %w", err)
		}
		c.Store.Redis.DB = db
	}
	return nil
}

// Validate rejects inconsistent settings before anything is started.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text, json or pretty", c.Log.Format))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file store"))
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis store"))
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be memory, file, redis or postgres", c.Store.Driver))
	}
	if c.Store.Redis.Lock && c.Store.Redis.Addr == "" {
		errs = append(errs, errors.New("store.redis.lock requires store.redis.addr"))
	}
	if _, _, err := c.EncryptionKeys(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.MaxRetries < 0 || c.Engine.BreakerThreshold < 0 || c.Engine.MaxSteps < 0 {
		errs = append(errs, errors.New("engine limits must not be negative"))
	}
	if c.Engine.BackoffJitter < 0 || c.Engine.BackoffJitter > 1 {
		errs = append(errs, fmt.Errorf("engine.backoff_jitter %v must be within [0, 1]", c.Engine.BackoffJitter))
	}
	// Reroutes and in-place retries share the per-node counter.
	if c.Routing.MaxReroutes > c.Engine.MaxRetries {
		errs = append(errs, fmt.Errorf("routing.max_reroutes (%d) must not exceed engine.max_retries (%d)",
			c.Routing.MaxReroutes, c.Engine.MaxRetries))
	}
	if _, err := c.NodePolicies(); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.Command.Enabled() {
		if c.Pipeline.DatabaseDSN != "" {
			errs = append(errs, errors.New("pipeline.database_dsn and pipeline.command are mutually exclusive"))
		}
		if err := c.Pipeline.Command.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.command: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Params returns the routing thresholds.
func (c *Config) Params() graph.Params {
	return graph.Params{
		HighConfidence: c.Routing.HighConfidence,
		LowConfidence:  c.Routing.LowConfidence,
		MaxReroutes:    c.Routing.MaxReroutes,
	}
}

// Policy returns the engine-wide retry policy.
func (c *Config) Policy() runtime.Policy {
	return runtime.Policy{
		MaxRetries:       c.Engine.MaxRetries,
		BreakerThreshold: c.Engine.BreakerThreshold,
		Cooldown:         c.Engine.Cooldown,
		Backoff:          retry.Backoff{
			Base:   c.Engine.RetryDelay,
			Max:    c.Engine.MaxRetryDelay,
			Jitter: c.Engine.BackoffJitter,
		},
	}
}

// NodePolicies converts the per-node overrides, rejecting unknown node ids.
func (c *Config) NodePolicies() (map[domain.NodeID]graph.Policy, error) {
	out := make(map[domain.NodeID]graph.Policy, len(c.Nodes))
	for raw, n := range c.Nodes {
		id, err := domain.ParseNodeID(raw)
		if err != nil {
			return nil, fmt.Errorf("nodes.%s: %w", raw, err)
		}
		out[id] = graph.Policy{
			MaxRetries:       n.MaxRetries,
			BreakerThreshold: n.BreakerThreshold,
			Cooldown:         n.Cooldown,
		}
	}
	if err := pipeline.CheckPolicies(c.Params(), out); err != nil {
		return nil, fmt.Errorf("nodes: %w", err)
	}
	return out, nil
}

// EncryptionKeys decodes the active and fallback keys. A nil active key
// means encryption is disabled.
func (c *Config) EncryptionKeys() ([]byte, [][]byte, error) {
	if c.Store.EncryptionKey == "" {
		if len(c.Store.FallbackKeys) > 0 {
			return nil, nil, errors.New("store.fallback_keys requires store.encryption_key")
		}
		return nil, nil, nil
	}
	active, err := decodeKey(c.Store.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	var fallback [][]byte
	for i, raw := range c.Store.FallbackKeys {
		k, err := decodeKey(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, k)
	}
	return active, fallback, nil
}

func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if k, err := hex.DecodeString(raw); err == nil && len(k) == 32 {
		return k, nil
	}
	if k, err := base64.StdEncoding.DecodeString(raw); err == nil && len(k) == 32 {
		return k, nil
	}
	return nil, errors.New("key must be 32 bytes, hex or base64 encoded")
}
