package chain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/compose-network/deploykit/internal/logger"
)

type (
	RetryPolicy struct {
		MaxAttempts     int
		InitialInterval time.Duration
		MaxInterval     time.Duration
	}

	retryClient struct {
		next   Client
		policy RetryPolicy
		logger *slog.Logger
	}
)

// WithRetry retries submissions and confirmation timeouts. Deterministic
// deployment makes a repeated Deploy safe: a transaction that did land leaves
// code at the address and the retry becomes a no-op.
func WithRetry(client Client, policy RetryPolicy) Client {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryClient{
		next:   client,
		policy: policy,
		logger: logger.Named("chain_retry"),
	}
}

func (r *retryClient) Deploy(ctx context.Context, req DeployRequest) (Receipt, error) {
	var receipt Receipt
	err := r.retry(ctx, req.Node, func() error {
		var err error
		receipt, err = r.next.Deploy(ctx, req)
		return err
	})
	return receipt, err
}

// Call retries only submission failures; a call that timed out waiting for
// confirmations may already have executed.
func (r *retryClient) Call(ctx context.Context, req CallRequest) (CallReceipt, error) {
	var receipt CallReceipt
	err := r.retry(ctx, req.Node, func() error {
		var err error
		receipt, err = r.next.Call(ctx, req)
		if err != nil && !errors.Is(err, ErrSubmission) {
			return backoff.Permanent(err)
		}
		return err
	})
	return receipt, err
}

func (r *retryClient) retry(ctx context.Context, node string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt < r.policy.MaxAttempts {
			r.logger.With("node", node, "attempt", attempt, "err", err.Error()).Warn("retrying after transient chain error")
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)), ctx)
	return backoff.Retry(wrapped, policy)
}

func retryable(err error) bool {
	return errors.Is(err, ErrSubmission) || errors.Is(err, ErrConfirmationTimeout)
}
