// Package network resolves a network name to the immutable parameter set a
// deployment run uses: chain id, deterministic-deployment salt, default
// confirmation depth and the free-form parameters node arguments refer to.
package network

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownNetwork is returned for any name or chain id missing from the table.
var ErrUnknownNetwork = errors.New("unknown network")

type (
	// Config is the resolved, read-only view of one network.
	Config struct {
		ChainID        uint64
		Name           string
		DeploymentSalt common.Hash
		Confirmations  uint64
		// Local marks ephemeral sandboxes; nothing deployed there is verified.
		Local      bool
		Explorer   Explorer
		Parameters map[string]any
	}

	Explorer struct {
		APIURL     string
		BrowserURL string
	}

	// Table is the static lookup table. It is never mutated after construction.
	Table struct {
		byName    map[string]Config
		byChainID map[uint64]Config
	}

	UnknownNetworkError struct {
		Name    string
		ChainID uint64
	}
)

func (e *UnknownNetworkError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %q is not present in the network table", ErrUnknownNetwork, e.Name)
	}
	return fmt.Sprintf("%s: chain id %d is not present in the network table", ErrUnknownNetwork, e.ChainID)
}

func (e *UnknownNetworkError) Unwrap() error {
	return ErrUnknownNetwork
}

// NewTable validates and indexes the given configs.
func NewTable(cfgs ...Config) (*Table, error) {
	t := &Table{
		byName:    make(map[string]Config, len(cfgs)),
		byChainID: make(map[uint64]Config, len(cfgs)),
	}

	var errs []error
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			errs = append(errs, fmt.Errorf("network with chain id %d has no name", cfg.ChainID))
			continue
		}
		if cfg.ChainID == 0 {
			errs = append(errs, fmt.Errorf("network %q has no chain id", cfg.Name))
			continue
		}
		if _, exists := t.byName[cfg.Name]; exists {
			errs = append(errs, fmt.Errorf("network %q is declared twice", cfg.Name))
			continue
		}
		if other, exists := t.byChainID[cfg.ChainID]; exists {
			errs = append(errs, fmt.Errorf("networks %q and %q share chain id %d", other.Name, cfg.Name, cfg.ChainID))
			continue
		}
		if cfg.Confirmations == 0 {
			cfg.Confirmations = 1
		}

		cfg.Parameters = cloneMap(cfg.Parameters)
		t.byName[cfg.Name] = cfg
		t.byChainID[cfg.ChainID] = cfg
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid network table: %w", errors.Join(errs...))
	}

	return t, nil
}

// Resolve looks a network up by exact name. There is no default entry. The
// returned parameters are a copy the caller may modify.
func (t *Table) Resolve(name string) (Config, error) {
	cfg, ok := t.byName[name]
	if !ok {
		return Config{}, &UnknownNetworkError{Name: name}
	}
	cfg.Parameters = cloneMap(cfg.Parameters)
	return cfg, nil
}

func (t *Table) ByChainID(id uint64) (Config, error) {
	cfg, ok := t.byChainID[id]
	if !ok {
		return Config{}, &UnknownNetworkError{ChainID: id}
	}
	cfg.Parameters = cloneMap(cfg.Parameters)
	return cfg, nil
}

// Names returns every network name, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parameter reads a parameter. Dots in key descend into nested maps, so
// "feeController.maxFeeLimits" reads Parameters["feeController"]["maxFeeLimits"].
// A literal key containing dots wins over the nested interpretation.
func (c Config) Parameter(key string) (any, bool) {
	if v, ok := c.Parameters[key]; ok {
		return v, true
	}

	var current any = c.Parameters
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}
		return out
	default:
		return val
	}
}
