package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, FailureModeClosed, cfg.Gateway.FailureMode)
}

func TestServerConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Server.TLSEnabled = true
	assert.Error(t, cfg.Validate(), "TLS without cert files")

	cfg.Server.TLSCertFile = "cert.pem"
	cfg.Server.TLSKeyFile = "key.pem"
	assert.NoError(t, cfg.Validate())
}

func TestStoreConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Store.Backend = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Store.Backend = StoreBackendRedis
	cfg.Store.Redis.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Store.Backend = StoreBackendPostgres
	assert.Error(t, cfg.Validate(), "postgres without DSN")
	cfg.Store.Database.DSN = "postgres://localhost/ratelimitd"
	assert.NoError(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Store.IdleTTLMultiple = 1
	assert.Error(t, cfg.Validate(), "idle TTL multiple below 2")
}

func TestGatewayConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Gateway.FailureMode = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Gateway.RequestTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Gateway.FailureMode = FailureModeOpen
	cfg.Gateway.RequestTimeout = 100 * time.Millisecond
	assert.NoError(t, cfg.Validate())
}

func TestSecurityConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Security.EnableAuth = true
	assert.Error(t, cfg.Validate(), "auth enabled without keys")

	cfg.Security.APIKeys = []APIKey{{Key: "k", Name: "ci", Enabled: true}}
	assert.NoError(t, cfg.Validate())

	cfg.Security.APIKeys = []APIKey{{Key: "", Name: "ci"}}
	assert.Error(t, cfg.Validate())
}

func TestConfigRequiresPolicies(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Policies = nil
	assert.Error(t, cfg.Validate())
}

func TestAPIKeyHasPermission(t *testing.T) {
	key := APIKey{Permissions: []string{"read"}, Enabled: true}
	assert.True(t, key.HasPermission("read"))
	assert.False(t, key.HasPermission("admin"))

	key.Enabled = false
	assert.False(t, key.HasPermission("read"), "disabled keys grant nothing")

	wildcard := APIKey{Permissions: []string{"*"}, Enabled: true}
	assert.True(t, wildcard.HasPermission("admin"))
}
