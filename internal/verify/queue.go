package verify

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/compose-network/deploykit/internal/logger"
)

type (
	QueueConfig struct {
		Workers         int
		MaxAttempts     int
		InitialInterval time.Duration
		MaxInterval     time.Duration
	}

	// Queue runs verification requests on a fixed set of workers. Enqueue
	// never blocks, so a slow explorer cannot stall deployment.
	Queue struct {
		verifier Verifier
		cfg      QueueConfig
		logger   *slog.Logger

		mu      sync.Mutex
		cond    *sync.Cond
		pending []Request
		results map[string]*Result
		closed  bool
		stopped bool

		group   *errgroup.Group
		started bool
	}
)

func NewQueue(verifier Verifier, cfg QueueConfig) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 5 * time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Minute
	}

	q := &Queue{
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.Named("verify_queue"),
		results:  make(map[string]*Result),
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Start launches the workers. They stop when ctx is done or, after Wait, once
// the queue is drained.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		q.cond.Broadcast()
	})

	q.group = &errgroup.Group{}
	for range q.cfg.Workers {
		q.group.Go(func() error {
			q.work(ctx)
			return nil
		})
	}
}

func (q *Queue) Enqueue(req Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res := &Result{Network: req.Network, Node: req.Node, Address: req.Address, Status: StatusPending}
	q.results[resultKey(req)] = res

	if q.closed {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("%w: queue is closed", ErrVerification)
		return
	}

	q.pending = append(q.pending, req)
	q.cond.Signal()

	q.logger.With("node", req.Node, "address", req.Address.Hex()).Debug("verification queued")
}

// Wait stops accepting requests and blocks until every queued request is
// settled or ctx is done. Requests still running when ctx ends stay pending.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	group := q.group
	q.mu.Unlock()
	q.cond.Broadcast()

	if group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns a snapshot ordered by network then node.
func (q *Queue) Results() []Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Result, 0, len(q.results))
	for _, res := range q.results {
		out = append(out, *res)
	}
	slices.SortFunc(out, func(a, b Result) int {
		return cmp.Or(cmp.Compare(a.Network, b.Network), cmp.Compare(a.Node, b.Node))
	})

	return out
}

func (q *Queue) next() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped || len(q.pending) == 0 {
		return Request{}, false
	}

	req := q.pending[0]
	q.pending = q.pending[1:]
	return req, true
}

func (q *Queue) work(ctx context.Context) {
	for {
		req, ok := q.next()
		if !ok {
			return
		}
		q.process(ctx, req)
	}
}

func (q *Queue) process(ctx context.Context, req Request) {
	log := q.logger.With("node", req.Node, "network", req.Network, "address", req.Address.Hex())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialInterval
	b.MaxInterval = q.cfg.MaxInterval
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := q.verifier.Verify(ctx, req)
		if errors.Is(err, ErrNoSource) {
			return backoff.Permanent(err)
		}
		if err != nil && attempts < q.cfg.MaxAttempts {
			log.With("attempt", attempts, "err", err.Error()).Warn("verification attempt failed")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(q.cfg.MaxAttempts-1)), ctx))

	q.mu.Lock()
	defer q.mu.Unlock()

	res := q.results[resultKey(req)]
	res.Attempts = attempts
	switch {
	case err == nil:
		res.Status = StatusVerified
		log.Info("contract verified")
	case ctx.Err() != nil:
		res.Err = ctx.Err()
	default:
		res.Status = StatusFailed
		res.Err = err
		log.With("err", err.Error(), "attempts", attempts).Error("verification failed")
	}
}

func resultKey(req Request) string {
	return req.Network + "/" + req.Node
}
