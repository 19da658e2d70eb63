package configs

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, RegistryBackendFile, cfg.Registry.Backend)
	assert.Equal(t, 4, cfg.Deployer.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Deployer.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Deployer.ConfirmationTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, uint64(31337), cfg.Sandbox.ChainID)

	url, ok := cfg.RPCURL("localhost")
	assert.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:8545", url)
}

func TestValidateDeploy_ReportsEveryProblem(t *testing.T) {
	cfg := MustDefaultConfig()
	cfg.Deployer.PrivateKey = ""
	cfg.Deployer.Concurrency = 0
	cfg.Deployer.FactoryAddress = "not-an-address"
	cfg.Registry.Backend = "postgres"

	err := cfg.ValidateDeploy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deployer.private-key is required")
	assert.Contains(t, err.Error(), "deployer.concurrency must be at least 1")
	assert.Contains(t, err.Error(), "not a valid address")
	assert.Contains(t, err.Error(), "registry.backend must be either")
}

func TestValidateDeploy_Valid(t *testing.T) {
	cfg := MustDefaultConfig()
	cfg.Deployer.PrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	require.NoError(t, cfg.ValidateDeploy())
}

func TestValidateRegistry(t *testing.T) {
	cfg := MustDefaultConfig()
	cfg.Registry.Backend = RegistryBackendSQLite
	cfg.Registry.DSN = ""
	require.Error(t, cfg.ValidateRegistry())

	cfg.Registry.DSN = ":memory:"
	require.NoError(t, cfg.ValidateRegistry())
	assert.Equal(t, ":memory:", cfg.RegistryLocation())
}

func TestApplyDefaults_PartialOverride(t *testing.T) {
	v := viper.New()
	require.NoError(t, ApplyDefaults(v))
	v.Set("deployer.concurrency", 8)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	assert.Equal(t, 8, cfg.Deployer.Concurrency)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestRPCURL_Unknown(t *testing.T) {
	cfg := Config{RPC: map[string]string{"arbitrumsepolia": "https://example.invalid"}}

	_, ok := cfg.RPCURL("mainnet")
	assert.False(t, ok)

	url, ok := cfg.RPCURL("arbitrumSepolia")
	assert.True(t, ok)
	assert.Equal(t, "https://example.invalid", url)
}
