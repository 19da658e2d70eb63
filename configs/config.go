package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var Values Config

type (
	RegistryBackend string

	Config struct {
		Log          Log               `mapstructure:"log"`
		NetworksFile string            `mapstructure:"networks-file"`
		Definitions  string            `mapstructure:"definitions"`
		ArtifactsDir string            `mapstructure:"artifacts-dir"`
		RPC          map[string]string `mapstructure:"rpc"`
		Registry     Registry          `mapstructure:"registry"`
		Deployer     Deployer          `mapstructure:"deployer"`
		Retry        Retry             `mapstructure:"retry"`
		Verifier     Verifier          `mapstructure:"verifier"`
		Sandbox      Sandbox           `mapstructure:"sandbox"`
	}

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	Registry struct {
		Backend RegistryBackend `mapstructure:"backend"`
		Dir     string          `mapstructure:"dir"`
		DSN     string          `mapstructure:"dsn"`
	}

	Deployer struct {
		PrivateKey          string        `mapstructure:"private-key"`
		FactoryAddress      string        `mapstructure:"factory-address"`
		Concurrency         int           `mapstructure:"concurrency"`
		GasLimit            uint64        `mapstructure:"gas-limit"`
		PollInterval        time.Duration `mapstructure:"poll-interval"`
		ConfirmationTimeout time.Duration `mapstructure:"confirmation-timeout"`
	}

	Retry struct {
		MaxAttempts     int           `mapstructure:"max-attempts"`
		InitialInterval time.Duration `mapstructure:"initial-interval"`
		MaxInterval     time.Duration `mapstructure:"max-interval"`
	}

	Verifier struct {
		Enabled           bool          `mapstructure:"enabled"`
		APIKey            string        `mapstructure:"api-key"`
		APIURL            string        `mapstructure:"api-url"`
		RequestsPerSecond float64       `mapstructure:"requests-per-second"`
		MaxAttempts       int           `mapstructure:"max-attempts"`
		Workers           int           `mapstructure:"workers"`
		WaitTimeout       time.Duration `mapstructure:"wait-timeout"`
	}

	Sandbox struct {
		Image         string `mapstructure:"image"`
		ContainerName string `mapstructure:"container-name"`
		Port          int    `mapstructure:"port"`
		ChainID       uint64 `mapstructure:"chain-id"`
		BlockTime     int    `mapstructure:"block-time"`
	}
)

const (
	RegistryBackendFile   RegistryBackend = "file"
	RegistryBackendSQLite RegistryBackend = "sqlite"
)

// RPCURL returns the endpoint configured for a network name.
func (c Config) RPCURL(network string) (string, bool) {
	url, ok := c.RPC[network]
	if !ok {
		// viper lower-cases map keys
		url, ok = c.RPC[strings.ToLower(network)]
	}
	return url, ok && url != ""
}

// ValidateDeploy checks the keys required by commands that talk to a chain.
func (c *Config) ValidateDeploy() error {
	var errs []error

	if c.Definitions == "" {
		errs = append(errs, errors.New("definitions is required"))
	}
	if c.ArtifactsDir == "" {
		errs = append(errs, errors.New("artifacts-dir is required"))
	}
	if c.Deployer.PrivateKey == "" {
		errs = append(errs, errors.New("deployer.private-key is required"))
	}
	if c.Deployer.FactoryAddress != "" && !common.IsHexAddress(c.Deployer.FactoryAddress) {
		errs = append(errs, fmt.Errorf("deployer.factory-address %q is not a valid address", c.Deployer.FactoryAddress))
	}
	if c.Deployer.Concurrency < 1 {
		errs = append(errs, errors.New("deployer.concurrency must be at least 1"))
	}
	if c.Deployer.PollInterval <= 0 {
		errs = append(errs, errors.New("deployer.poll-interval must be positive"))
	}
	if c.Deployer.ConfirmationTimeout <= 0 {
		errs = append(errs, errors.New("deployer.confirmation-timeout must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max-attempts must be at least 1"))
	}
	if c.Verifier.Enabled && c.Verifier.APIKey == "" {
		errs = append(errs, errors.New("verifier.api-key is required when the verifier is enabled"))
	}

	if err := c.ValidateRegistry(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("deploy configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// ValidateRegistry checks only the registry section.
func (c *Config) ValidateRegistry() error {
	switch c.Registry.Backend {
	case RegistryBackendFile:
		if c.Registry.Dir == "" {
			return errors.New("registry.dir is required for the file backend")
		}
	case RegistryBackendSQLite:
		if c.Registry.DSN == "" {
			return errors.New("registry.dsn is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("registry.backend must be either '%s' or '%s'", RegistryBackendFile, RegistryBackendSQLite)
	}

	return nil
}

// RegistryLocation returns the dir or dsn depending on the backend.
func (c Config) RegistryLocation() string {
	if c.Registry.Backend == RegistryBackendSQLite {
		return c.Registry.DSN
	}
	return c.Registry.Dir
}
