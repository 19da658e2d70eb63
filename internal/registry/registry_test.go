package registry

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Registry {
	return map[string]func(t *testing.T) Registry{
		"memory": func(t *testing.T) Registry {
			return NewMemory()
		},
		"file": func(t *testing.T) Registry {
			reg, err := NewFile(t.TempDir())
			require.NoError(t, err)
			return reg
		},
		"sqlite": func(t *testing.T) Registry {
			reg, err := NewSQLite(filepath.Join(t.TempDir(), "registry.db"))
			require.NoError(t, err)
			t.Cleanup(func() { reg.Close() })
			return reg
		},
	}
}

func testRecord(network, node string) Record {
	return Record{
		Network:         network,
		Node:            node,
		Artifact:        node + "Artifact",
		Address:         common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Args:            []any{"0x00000000000000000000000000000000000000b2", float64(500)},
		TransactionHash: common.HexToHash("0x01"),
		Block:           42,
		Timestamp:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRegistry_RecordAndLookup(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := open(t)

			_, ok, err := reg.Lookup(ctx, "localhost", "Oracle")
			require.NoError(t, err)
			assert.False(t, ok)

			want := testRecord("localhost", "Oracle")
			require.NoError(t, reg.Record(ctx, want, false))

			got, ok, err := reg.Lookup(ctx, "localhost", "Oracle")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want.Address, got.Address)
			assert.Equal(t, want.TransactionHash, got.TransactionHash)
			assert.Equal(t, want.Block, got.Block)
			assert.Equal(t, want.Artifact, got.Artifact)
			assert.Equal(t, want.Args, got.Args)
			assert.True(t, want.Timestamp.Equal(got.Timestamp))

			_, ok, err = reg.Lookup(ctx, "arbitrumSepolia", "Oracle")
			require.NoError(t, err)
			assert.False(t, ok, "records are scoped by network")
		})
	}
}

func TestRegistry_WriteOnce(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := open(t)

			first := testRecord("localhost", "Oracle")
			require.NoError(t, reg.Record(ctx, first, false))

			second := first
			second.Address = common.HexToAddress("0x00000000000000000000000000000000000000c3")
			err := reg.Record(ctx, second, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDuplicateRecord)

			got, _, err := reg.Lookup(ctx, "localhost", "Oracle")
			require.NoError(t, err)
			assert.Equal(t, first.Address, got.Address, "rejected write leaves the record untouched")

			require.NoError(t, reg.Record(ctx, second, true))
			got, _, err = reg.Lookup(ctx, "localhost", "Oracle")
			require.NoError(t, err)
			assert.Equal(t, second.Address, got.Address)
		})
	}
}

func TestRegistry_PendingCalls(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := open(t)

			rec := testRecord("localhost", "Oracle")
			rec.PendingCalls = 2
			require.NoError(t, reg.Record(ctx, rec, false))

			got, _, err := reg.Lookup(ctx, "localhost", "Oracle")
			require.NoError(t, err)
			assert.Equal(t, 2, got.PendingCalls)

			rec.PendingCalls = 0
			require.NoError(t, reg.Record(ctx, rec, true))
			got, _, err = reg.Lookup(ctx, "localhost", "Oracle")
			require.NoError(t, err)
			assert.Zero(t, got.PendingCalls)

			rec.PendingCalls = -1
			assert.ErrorIs(t, reg.Record(ctx, rec, true), ErrInvalidRecord)
		})
	}
}

func TestRegistry_ForgetAndList(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := open(t)

			for _, node := range []string{"FeeHandler", "Oracle", "FeeController"} {
				require.NoError(t, reg.Record(ctx, testRecord("localhost", node), false))
			}
			require.NoError(t, reg.Record(ctx, testRecord("other", "Oracle"), false))

			list, err := reg.List(ctx, "localhost")
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "FeeController", list[0].Node)
			assert.Equal(t, "FeeHandler", list[1].Node)
			assert.Equal(t, "Oracle", list[2].Node)

			require.NoError(t, reg.Forget(ctx, "localhost", "Oracle"))
			assert.ErrorIs(t, reg.Forget(ctx, "localhost", "Oracle"), ErrNotFound)

			_, ok, err := reg.Lookup(ctx, "localhost", "Oracle")
			require.NoError(t, err)
			assert.False(t, ok)

			// forgetting allows a fresh write
			require.NoError(t, reg.Record(ctx, testRecord("localhost", "Oracle"), false))

			empty, err := reg.List(ctx, "nowhere")
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestRegistry_ConcurrentWritersOneWins(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := open(t)

			var (
				wg         sync.WaitGroup
				wins       atomic.Int32
				duplicates atomic.Int32
			)
			for i := range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec := testRecord("localhost", "Oracle")
					rec.Block = uint64(i + 1)
					err := reg.Record(ctx, rec, false)
					switch {
					case err == nil:
						wins.Add(1)
					case assert.ErrorIs(t, err, ErrDuplicateRecord):
						duplicates.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(7), duplicates.Load())
		})
	}
}

func TestRegistry_RejectsInvalidRecords(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			reg := open(t)
			rec := testRecord("localhost", "Oracle")
			rec.Address = common.Address{}
			assert.ErrorIs(t, reg.Record(context.Background(), rec, false), ErrInvalidRecord)
		})
	}
}

func TestFile_RejectsUnsafeNames(t *testing.T) {
	reg, err := NewFile(t.TempDir())
	require.NoError(t, err)

	for _, node := range []string{"../escape", "a/b", ".hidden", ".."} {
		err := reg.Record(context.Background(), testRecord("localhost", node), false)
		assert.ErrorIs(t, err, ErrInvalidRecord, node)
	}
}

func TestFile_SharedDirectoryAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFile(dir)
	require.NoError(t, err)
	b, err := NewFile(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Record(ctx, testRecord("localhost", "Oracle"), false))
	assert.ErrorIs(t, b.Record(ctx, testRecord("localhost", "Oracle"), false), ErrDuplicateRecord)

	_, ok, err := b.Lookup(ctx, "localhost", "Oracle")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_InMemory(t *testing.T) {
	reg, err := NewSQLite(":memory:")
	require.NoError(t, err)
	defer reg.Close()

	ctx := context.Background()
	require.NoError(t, reg.Record(ctx, testRecord("localhost", "Oracle"), false))
	_, ok, err := reg.Lookup(ctx, "localhost", "Oracle")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen(t *testing.T) {
	reg, err := Open(BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, reg)

	reg, err = Open(BackendFile, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &File{}, reg)

	reg, err = Open(BackendSQLite, filepath.Join(t.TempDir(), "r.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, reg)
	require.NoError(t, reg.Close())

	_, err = Open("etcd", "")
	assert.Error(t, err)
}
