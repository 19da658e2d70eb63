package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/deploykit/internal/chain/evm"
)

type fakeRuntime struct {
	images    map[string]bool
	container *Container
	pulled    []string
	runs      []ContainerSpec
	removed   []string
}

func (f *fakeRuntime) ImageExists(_ context.Context, image string) (bool, error) {
	return f.images[image], nil
}

func (f *fakeRuntime) PullImage(_ context.Context, image string) error {
	f.pulled = append(f.pulled, image)
	f.images[image] = true
	return nil
}

func (f *fakeRuntime) FindContainer(context.Context, string) (Container, bool, error) {
	if f.container == nil {
		return Container{}, false, nil
	}
	return *f.container, true, nil
}

func (f *fakeRuntime) RunDetached(_ context.Context, spec ContainerSpec) (string, error) {
	f.runs = append(f.runs, spec)
	f.container = &Container{ID: "c1", Running: true}
	return "c1", nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	f.container = nil
	return nil
}

// fakeAnvil answers eth_getCode and records anvil_setCode.
type fakeAnvil struct {
	mu   sync.Mutex
	code map[string]string
	sets int
}

func (a *fakeAnvil) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params []any           `json:"params"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	defer a.mu.Unlock()

	var result any
	switch req.Method {
	case "eth_getCode":
		code, ok := a.code[req.Params[0].(string)]
		if !ok {
			code = "0x"
		}
		result = code
	case "anvil_setCode":
		a.sets++
		a.code[req.Params[0].(string)] = req.Params[1].(string)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func testSandbox(rt Runtime) (*Sandbox, *[]string) {
	sb := New(rt, Config{Image: "anvil:test", ContainerName: "sb", Port: 18545, ChainID: 31337, BlockTime: 1})
	var calls []string
	sb.waitForRPC = func(_ context.Context, url string, _ time.Duration) error {
		calls = append(calls, "wait "+url)
		return nil
	}
	sb.ensureFactory = func(_ context.Context, _ string, factory common.Address) error {
		calls = append(calls, "factory "+factory.Hex())
		return nil
	}
	return sb, &calls
}

func TestStart_PullsAndRuns(t *testing.T) {
	rt := &fakeRuntime{images: map[string]bool{}}
	sb, calls := testSandbox(rt)

	url, err := sb.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:18545", url)

	assert.Equal(t, []string{"anvil:test"}, rt.pulled)
	require.Len(t, rt.runs, 1)
	spec := rt.runs[0]
	assert.Equal(t, "sb", spec.Name)
	assert.Equal(t, []string{"anvil"}, spec.Entrypoint)
	assert.Equal(t, []string{"--host", "0.0.0.0", "--port", "18545", "--chain-id", "31337", "--block-time", "1"}, spec.Cmd)
	assert.Equal(t, 18545, spec.HostPort)
	assert.Equal(t, []string{"wait " + url, "factory " + evm.DefaultFactory.Hex()}, *calls)
}

func TestStart_ReusesRunningContainer(t *testing.T) {
	rt := &fakeRuntime{images: map[string]bool{"anvil:test": true}, container: &Container{ID: "old", Running: true}}
	sb, _ := testSandbox(rt)

	_, err := sb.Start(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rt.runs)
	assert.Empty(t, rt.pulled)
	assert.Empty(t, rt.removed)
}

func TestStart_ReplacesStoppedContainer(t *testing.T) {
	rt := &fakeRuntime{images: map[string]bool{"anvil:test": true}, container: &Container{ID: "old"}}
	sb, _ := testSandbox(rt)

	_, err := sb.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, rt.removed)
	assert.Len(t, rt.runs, 1)
	assert.Empty(t, rt.pulled)
}

func TestStop(t *testing.T) {
	rt := &fakeRuntime{images: map[string]bool{}}
	sb, _ := testSandbox(rt)
	require.NoError(t, sb.Stop(context.Background()), "nothing to stop is fine")

	rt.container = &Container{ID: "c9", Running: true}
	require.NoError(t, sb.Stop(context.Background()))
	assert.Equal(t, []string{"c9"}, rt.removed)
}

func TestEnsureFactory(t *testing.T) {
	anvil := &fakeAnvil{code: map[string]string{}}
	server := httptest.NewServer(anvil)
	defer server.Close()

	ctx := context.Background()
	require.NoError(t, EnsureFactory(ctx, server.URL, evm.DefaultFactory))
	assert.Equal(t, 1, anvil.sets)

	require.NoError(t, EnsureFactory(ctx, server.URL, evm.DefaultFactory))
	assert.Equal(t, 1, anvil.sets, "present code is left alone")
}
