package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	deployErrs []error
	callErrs   []error
	deploys    int
	calls      int
}

func (s *scriptedClient) Deploy(_ context.Context, req DeployRequest) (Receipt, error) {
	s.deploys++
	if len(s.deployErrs) > 0 {
		err := s.deployErrs[0]
		s.deployErrs = s.deployErrs[1:]
		if err != nil {
			return Receipt{}, err
		}
	}
	return Receipt{Address: common.HexToAddress("0x01"), Block: 7}, nil
}

func (s *scriptedClient) Call(_ context.Context, req CallRequest) (CallReceipt, error) {
	s.calls++
	if len(s.callErrs) > 0 {
		err := s.callErrs[0]
		s.callErrs = s.callErrs[1:]
		if err != nil {
			return CallReceipt{}, err
		}
	}
	return CallReceipt{Block: 8}, nil
}

var fastPolicy = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestWithRetry_RecoversFromTransientErrors(t *testing.T) {
	inner := &scriptedClient{deployErrs: []error{
		fmt.Errorf("nonce too low: %w", ErrSubmission),
		fmt.Errorf("waiting: %w", ErrConfirmationTimeout),
	}}

	receipt, err := WithRetry(inner, fastPolicy).Deploy(context.Background(), DeployRequest{Node: "Oracle"})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), receipt.Block)
	assert.Equal(t, 3, inner.deploys)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	inner := &scriptedClient{deployErrs: []error{ErrSubmission, ErrSubmission, ErrSubmission, nil}}

	_, err := WithRetry(inner, fastPolicy).Deploy(context.Background(), DeployRequest{Node: "Oracle"})
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Equal(t, 3, inner.deploys)
}

func TestWithRetry_DoesNotRetryPermanentErrors(t *testing.T) {
	reverted := fmt.Errorf("constructor: %w", ErrReverted)
	inner := &scriptedClient{deployErrs: []error{reverted}}

	_, err := WithRetry(inner, fastPolicy).Deploy(context.Background(), DeployRequest{Node: "Oracle"})
	assert.ErrorIs(t, err, ErrReverted)
	assert.Equal(t, 1, inner.deploys)
}

func TestWithRetry_CallRetriesOnlySubmission(t *testing.T) {
	inner := &scriptedClient{callErrs: []error{ErrSubmission, nil}}
	client := WithRetry(inner, fastPolicy)

	_, err := client.Call(context.Background(), CallRequest{Node: "Oracle", Method: "setOracleID"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	inner = &scriptedClient{callErrs: []error{ErrConfirmationTimeout, nil}}
	_, err = WithRetry(inner, fastPolicy).Call(context.Background(), CallRequest{Node: "Oracle"})
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &scriptedClient{deployErrs: []error{ErrSubmission, ErrSubmission, ErrSubmission}}
	_, err := WithRetry(inner, RetryPolicy{MaxAttempts: 3, InitialInterval: time.Hour}).Deploy(ctx, DeployRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrSubmission))
	assert.Equal(t, 1, inner.deploys)
}
