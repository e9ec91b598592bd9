package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ratelimitd/internal/models"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("RATELIMITD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("RATELIMITD_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("RATELIMITD_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("RATELIMITD_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("RATELIMITD_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	if tls := os.Getenv("RATELIMITD_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}

	if certFile := os.Getenv("RATELIMITD_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}

	if keyFile := os.Getenv("RATELIMITD_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Store configuration
	if backend := os.Getenv("RATELIMITD_STORE_BACKEND"); backend != "" {
		config.Store.Backend = backend
	}

	if multiple := os.Getenv("RATELIMITD_STORE_IDLE_TTL_MULTIPLE"); multiple != "" {
		if m, err := strconv.Atoi(multiple); err == nil {
			config.Store.IdleTTLMultiple = m
		}
	}

	if interval := os.Getenv("RATELIMITD_STORE_CLEANUP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Store.CleanupInterval = d
		}
	}

	if addr := os.Getenv("RATELIMITD_REDIS_ADDR"); addr != "" {
		config.Store.Redis.Addr = addr
	}

	if password := os.Getenv("RATELIMITD_REDIS_PASSWORD"); password != "" {
		config.Store.Redis.Password = password
	}

	if db := os.Getenv("RATELIMITD_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.Store.Redis.DB = n
		}
	}

	if prefix := os.Getenv("RATELIMITD_REDIS_KEY_PREFIX"); prefix != "" {
		config.Store.Redis.KeyPrefix = prefix
	}

	if dsn := os.Getenv("RATELIMITD_DATABASE_DSN"); dsn != "" {
		config.Store.Database.DSN = dsn
	}

	if maxOpen := os.Getenv("RATELIMITD_DATABASE_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.Store.Database.MaxOpenConns = conns
		}
	}

	if maxIdle := os.Getenv("RATELIMITD_DATABASE_MAX_IDLE_CONNS"); maxIdle != "" {
		if conns, err := strconv.Atoi(maxIdle); err == nil {
			config.Store.Database.MaxIdleConns = conns
		}
	}

	// Gateway configuration
	if mode := os.Getenv("RATELIMITD_FAILURE_MODE"); mode != "" {
		config.Gateway.FailureMode = strings.ToLower(mode)
	}

	if timeout := os.Getenv("RATELIMITD_REQUEST_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Gateway.RequestTimeout = d
		}
	}

	// Security configuration
	if auth := os.Getenv("RATELIMITD_ENABLE_AUTH"); auth != "" {
		config.Security.EnableAuth = strings.ToLower(auth) == "true"
	}

	// Logging configuration
	if level := os.Getenv("RATELIMITD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("RATELIMITD_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("RATELIMITD_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("RATELIMITD_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if enabled := os.Getenv("RATELIMITD_METRICS_ENABLED"); enabled != "" {
		config.Metrics.Enabled = strings.ToLower(enabled) == "true"
	}

	if port := os.Getenv("RATELIMITD_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}

	// Observability configuration
	if name := os.Getenv("RATELIMITD_SERVICE_NAME"); name != "" {
		config.Observability.ServiceName = name
	}

	if enabled := os.Getenv("RATELIMITD_TRACING_ENABLED"); enabled != "" {
		config.Observability.Tracing.Enabled = strings.ToLower(enabled) == "true"
	}

	if exporter := os.Getenv("RATELIMITD_TRACE_EXPORTER"); exporter != "" {
		config.Observability.Tracing.Exporter = exporter
	}

	if endpoint := os.Getenv("RATELIMITD_OTLP_ENDPOINT"); endpoint != "" {
		config.Observability.Tracing.OTLPEndpoint = endpoint
	}
}
