package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyVerifier struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	block    chan struct{}
}

func (f *flakyVerifier) Verify(ctx context.Context, req Request) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Node]++
	if f.failures[req.Node] > 0 {
		f.failures[req.Node]--
		return errors.New("explorer hiccup")
	}
	return nil
}

func newFlaky(failures map[string]int) *flakyVerifier {
	return &flakyVerifier{failures: failures, calls: make(map[string]int)}
}

var fastQueue = QueueConfig{Workers: 2, MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestQueue_RetriesIndependently(t *testing.T) {
	verifier := newFlaky(map[string]int{"FeeController": 2, "FeeHandler": 5})
	q := NewQueue(verifier, fastQueue)
	q.Start(context.Background())

	for _, node := range []string{"Oracle", "FeeController", "FeeHandler"} {
		q.Enqueue(Request{Network: "arbitrumSepolia", Node: node, Address: common.HexToAddress("0x01")})
	}
	require.NoError(t, q.Wait(context.Background()))

	results := q.Results()
	require.Len(t, results, 3)

	assert.Equal(t, "FeeController", results[0].Node)
	assert.Equal(t, StatusVerified, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)

	assert.Equal(t, "FeeHandler", results[1].Node)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Equal(t, 3, results[1].Attempts)
	assert.Error(t, results[1].Err)

	assert.Equal(t, "Oracle", results[2].Node)
	assert.Equal(t, StatusVerified, results[2].Status)
	assert.Equal(t, 1, results[2].Attempts)
}

func TestQueue_EnqueueNeverBlocks(t *testing.T) {
	verifier := newFlaky(nil)
	verifier.block = make(chan struct{})
	q := NewQueue(verifier, QueueConfig{Workers: 1, MaxAttempts: 1})
	q.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := range 50 {
			q.Enqueue(Request{Network: "n", Node: string(rune('a' + i%26)) + string(rune('a' + i/26))})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked while the verifier was stuck")
	}

	for _, res := range q.Results() {
		assert.Equal(t, StatusPending, res.Status)
	}

	close(verifier.block)
	require.NoError(t, q.Wait(context.Background()))
	for _, res := range q.Results() {
		assert.Equal(t, StatusVerified, res.Status)
	}
}

func TestQueue_WaitHonoursContext(t *testing.T) {
	verifier := newFlaky(nil)
	verifier.block = make(chan struct{})
	defer close(verifier.block)

	q := NewQueue(verifier, QueueConfig{Workers: 1, MaxAttempts: 1})
	q.Start(context.Background())
	q.Enqueue(Request{Network: "n", Node: "Oracle"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, StatusPending, q.Results()[0].Status)
}

func TestQueue_EnqueueAfterWaitFails(t *testing.T) {
	q := NewQueue(newFlaky(nil), fastQueue)
	q.Start(context.Background())
	require.NoError(t, q.Wait(context.Background()))

	q.Enqueue(Request{Network: "n", Node: "late"})
	res := q.Results()
	require.Len(t, res, 1)
	assert.Equal(t, StatusFailed, res[0].Status)
}

func TestQueue_NoSourceIsNotRetried(t *testing.T) {
	calls := 0
	v := verifierFunc(func(ctx context.Context, req Request) error {
		calls++
		return ErrNoSource
	})

	q := NewQueue(v, fastQueue)
	q.Start(context.Background())
	q.Enqueue(Request{Network: "n", Node: "Oracle"})
	require.NoError(t, q.Wait(context.Background()))

	assert.Equal(t, 1, calls)
	assert.Equal(t, StatusFailed, q.Results()[0].Status)
}

type verifierFunc func(ctx context.Context, req Request) error

func (f verifierFunc) Verify(ctx context.Context, req Request) error {
	return f(ctx, req)
}
