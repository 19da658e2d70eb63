package network

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var (
	//go:embed networks.yaml
	defaultTableYAML []byte

	defaultTableOnce sync.Once
	defaultTable     *Table
	defaultTableErr  error

	saltPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

type (
	tableFile struct {
		// DeploymentSalt applies to every network that does not set its own.
		DeploymentSalt string         `yaml:"deployment-salt"`
		Networks       []networkEntry `yaml:"networks"`
	}

	networkEntry struct {
		Name           string         `yaml:"name"`
		ChainID        uint64         `yaml:"chain-id"`
		DeploymentSalt string         `yaml:"deployment-salt"`
		Confirmations  uint64         `yaml:"confirmations"`
		Local          bool           `yaml:"local"`
		Explorer       explorerEntry  `yaml:"explorer"`
		Parameters     map[string]any `yaml:"parameters"`
	}

	explorerEntry struct {
		APIURL     string `yaml:"api-url"`
		BrowserURL string `yaml:"browser-url"`
	}
)

// Default returns the table compiled into the binary. It is parsed once.
func Default() (*Table, error) {
	defaultTableOnce.Do(func() {
		defaultTable, defaultTableErr = Parse(defaultTableYAML)
		if defaultTableErr != nil {
			defaultTableErr = fmt.Errorf("failed to parse embedded networks.yaml: %w", defaultTableErr)
		}
	})

	return defaultTable, defaultTableErr
}

// Load reads an operator supplied table. An empty path yields Default.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network table: %w", err)
	}

	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse network table '%s': %w", path, err)
	}

	return table, nil
}

// Parse decodes a YAML network table.
func Parse(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	cfgs := make([]Config, 0, len(file.Networks))
	for _, entry := range file.Networks {
		saltHex := entry.DeploymentSalt
		if saltHex == "" {
			saltHex = file.DeploymentSalt
		}

		salt, err := parseSalt(saltHex)
		if err != nil {
			return nil, fmt.Errorf("network %q: %w", entry.Name, err)
		}

		cfgs = append(cfgs, Config{
			ChainID:        entry.ChainID,
			Name:           entry.Name,
			DeploymentSalt: salt,
			Confirmations:  entry.Confirmations,
			Local:          entry.Local,
			Explorer: Explorer{
				APIURL:     entry.Explorer.APIURL,
				BrowserURL: entry.Explorer.BrowserURL,
			},
			Parameters: entry.Parameters,
		})
	}

	return NewTable(cfgs...)
}

func parseSalt(s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, nil
	}
	if !saltPattern.MatchString(s) {
		return common.Hash{}, fmt.Errorf("deployment salt %q must be a 0x-prefixed 32 byte hex string", s)
	}
	return common.HexToHash(s), nil
}
