package registry

import (
	"context"
	"slices"
	"strings"
	"sync"
)

type (
	key struct {
		network string
		node    string
	}

	// Memory is a process-local Registry.
	Memory struct {
		mu      sync.Mutex
		records map[key]Record
	}
)

func NewMemory() *Memory {
	return &Memory{records: make(map[key]Record)}
}

func (m *Memory) Lookup(_ context.Context, network, node string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key{network, node}]
	return rec, ok, nil
}

func (m *Memory) Record(_ context.Context, rec Record, force bool) error {
	if err := rec.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{rec.Network, rec.Node}
	if _, exists := m.records[k]; exists && !force {
		return newError("record", rec.Network, rec.Node, ErrDuplicateRecord)
	}
	rec.Args = slices.Clone(rec.Args)
	m.records[k] = rec

	return nil
}

func (m *Memory) Forget(_ context.Context, network, node string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{network, node}
	if _, ok := m.records[k]; !ok {
		return newError("forget", network, node, ErrNotFound)
	}
	delete(m.records, k)

	return nil
}

func (m *Memory) List(_ context.Context, network string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for k, rec := range m.records {
		if k.network == network {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Node, b.Node) })

	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
