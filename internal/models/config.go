// Package models - service configuration and operational settings.
//
// Configuration is hierarchical with one section per component (server, store,
// gateway, security, logging, metrics, observability, policies). Defaults work
// out of the box for a single-node memory deployment; every section validates
// itself so misconfigurations fail at startup, never at request time.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Store backend type constants.
const (
	StoreBackendMemory   = "memory"
	StoreBackendRedis    = "redis"
	StoreBackendSQLite   = "sqlite"
	StoreBackendPostgres = "postgres"
)

// Gateway failure mode constants. They decide what the HTTP layer does when
// the counter store is unreachable: fail-open admits traffic (flagged as
// degraded), fail-closed returns 503.
const (
	FailureModeOpen   = "open"
	FailureModeClosed = "closed"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Store         StoreConfig         `yaml:"store" json:"store"`
	Gateway       GatewayConfig       `yaml:"gateway" json:"gateway"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Policies      []PolicyRule        `yaml:"policies" json:"policies"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// StoreConfig selects and configures the counter store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend"`

	// IdleTTLMultiple controls advisory eviction: a key's state expires after
	// IdleTTLMultiple * policy window without requests. Eviction is cleanup,
	// not correctness; an evicted key is lazily recreated with full quota.
	IdleTTLMultiple int `yaml:"idle_ttl_multiple" json:"idle_ttl_multiple"`

	// CleanupInterval is how often the memory backend sweeps idle entries and
	// how often the SQL backends purge expired rows.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// GatewayConfig tunes the decision gateway.
type GatewayConfig struct {
	// FailureMode is "open" or "closed" and applies only when the counter
	// store is unavailable. A deny decision is never affected by it.
	FailureMode string `yaml:"failure_mode" json:"failure_mode"`

	// RequestTimeout bounds one store round trip. A timeout is surfaced as
	// coordination unavailability, not as a denied request.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

type SecurityConfig struct {
	EnableAuth bool     `yaml:"enable_auth" json:"enable_auth"`
	APIKeys    []APIKey `yaml:"api_keys" json:"api_keys"`
}

type APIKey struct {
	Key         string   `yaml:"key" json:"key"`
	Name        string   `yaml:"name" json:"name"`
	Permissions []string `yaml:"permissions" json:"permissions"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // "stdout" or "otlp"
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults:
// memory store, fail-closed gateway, JSON logging, metrics enabled, and a
// single catch-all policy so a bare service still answers decisions.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"*"},
				MaxAge:         86400,
			},
		},
		Store: StoreConfig{
			Backend:         StoreBackendMemory,
			IdleTTLMultiple: 3,
			CleanupInterval: 5 * time.Minute,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "ratelimitd:",
			},
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Gateway: GatewayConfig{
			FailureMode:    FailureModeClosed,
			RequestTimeout: 2 * time.Second,
		},
		Security: SecurityConfig{
			EnableAuth: false,
			APIKeys:    []APIKey{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "ratelimitd",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
		Policies: []PolicyRule{
			{
				Pattern: "*",
				Policy: Policy{
					Algorithm: AlgorithmTokenBucket,
					Limit:     100,
					Window:    time.Minute,
					Burst:     100,
				},
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	if len(c.Policies) == 0 {
		return errors.New("at least one policy is required")
	}
	for _, rule := range c.Policies {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid policy: %w", err)
		}
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StoreConfig) Validate() error {
	switch stc.Backend {
	case StoreBackendMemory:
	case StoreBackendRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for the redis backend")
		}
	case StoreBackendSQLite, StoreBackendPostgres:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database backends")
		}
	default:
		return fmt.Errorf("invalid store backend: %s", stc.Backend)
	}

	if stc.IdleTTLMultiple < 2 {
		return errors.New("idle TTL multiple must be at least 2")
	}

	if stc.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}

	return nil
}

func (gc *GatewayConfig) Validate() error {
	if gc.FailureMode != FailureModeOpen && gc.FailureMode != FailureModeClosed {
		return fmt.Errorf("invalid failure mode: %s", gc.FailureMode)
	}

	if gc.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.EnableAuth && len(sec.APIKeys) == 0 {
		return errors.New("at least one API key is required when auth is enabled")
	}

	for _, apiKey := range sec.APIKeys {
		if apiKey.Key == "" {
			return errors.New("API key cannot be empty")
		}
		if apiKey.Name == "" {
			return errors.New("API key name cannot be empty")
		}
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	switch lc.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if oc.Tracing.Enabled {
		switch oc.Tracing.Exporter {
		case "stdout":
		case "otlp":
			if oc.Tracing.OTLPEndpoint == "" {
				return errors.New("OTLP endpoint is required for the otlp exporter")
			}
		default:
			return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
		}
	}

	return nil
}

func (ak *APIKey) HasPermission(permission string) bool {
	if !ak.Enabled {
		return false
	}
	for _, p := range ak.Permissions {
		if p == permission || p == "*" {
			return true
		}
	}
	return false
}
