// Package orchestrator walks a deployment graph against one network: it skips
// what the registry already knows, deploys the rest through the chain client,
// records the results and hands them to the verifier.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/compose-network/deploykit/internal/chain"
	"github.com/compose-network/deploykit/internal/graph"
	"github.com/compose-network/deploykit/internal/logger"
	"github.com/compose-network/deploykit/internal/network"
	"github.com/compose-network/deploykit/internal/registry"
	"github.com/compose-network/deploykit/internal/verify"
)

var (
	ErrMissingParameter             = errors.New("missing parameter")
	ErrConcurrentDeploymentConflict = errors.New("concurrent deployment conflict")
)

type (
	MissingParameterError struct {
		Node    string
		Key     string
		Network string
	}

	// ConflictError reports that another run recorded the node first.
	ConflictError struct {
		Network string
		Node    string
		Err     error
	}

	// Enqueuer accepts verification work without blocking.
	Enqueuer interface {
		Enqueue(req verify.Request)
	}

	Option func(*Orchestrator)

	Orchestrator struct {
		registry    registry.Registry
		client      chain.Client
		verifier    Enqueuer
		predictor   chain.Predictor
		dryRun      bool
		concurrency int
		logger      *slog.Logger
		now         func() time.Time
	}

	result struct {
		node    *graph.Node
		outcome Outcome
		record  *registry.Record
		fatal   error
	}
)

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s: node %q needs parameter %q which network %q does not define", ErrMissingParameter, e.Node, e.Key, e.Network)
}

func (e *MissingParameterError) Unwrap() error {
	return ErrMissingParameter
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s/%s was recorded by another run: %v", ErrConcurrentDeploymentConflict, e.Network, e.Node, e.Err)
}

func (e *ConflictError) Unwrap() []error {
	return []error{ErrConcurrentDeploymentConflict, e.Err}
}

func WithVerifier(v Enqueuer) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

// WithConcurrency bounds how many independent nodes are in flight at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithDryRun makes Run compute addresses with p instead of deploying. Nothing
// is written to the chain or the registry.
func WithDryRun(p chain.Predictor) Option {
	return func(o *Orchestrator) {
		o.dryRun = true
		o.predictor = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func New(reg registry.Registry, client chain.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    reg,
		client:      client,
		concurrency: 1,
		logger:      logger.Named("orchestrator"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run deploys g onto net. Node level failures are reported in the Report and
// do not make Run fail; only a concurrent deployment conflict or cancellation
// of ctx is returned as an error, always together with the report so far.
func (o *Orchestrator) Run(ctx context.Context, g *graph.Graph, net network.Config) (*Report, error) {
	if o.dryRun && o.predictor == nil {
		return nil, errors.New("dry run requires an address predictor")
	}
	if !o.dryRun && o.client == nil {
		return nil, errors.New("chain client is required")
	}

	nodes := g.Nodes()
	report := &Report{
		RunID:     uuid.NewString(),
		Network:   net.Name,
		ChainID:   net.ChainID,
		DryRun:    o.dryRun,
		StartedAt: o.now(),
		Outcomes:  make([]Outcome, len(nodes)),
		records:   make(map[string]registry.Record),
	}

	log := o.logger.With("run_id", report.RunID, "network", net.Name)
	log.With("nodes", len(nodes), "dry_run", o.dryRun, "concurrency", o.concurrency).Info("deployment run started")

	position := make(map[string]int, len(nodes))
	waiting := make(map[string]int, len(nodes))
	for i, n := range nodes {
		position[n.Name] = i
		waiting[n.Name] = len(n.DependsOn)
		report.Outcomes[i] = Outcome{Node: n.Name, Artifact: n.Artifact}
	}

	var ready []*graph.Node
	for _, n := range nodes {
		if waiting[n.Name] == 0 {
			ready = append(ready, n)
		}
	}

	// workers finish what they started even after ctx is cancelled so a
	// submitted transaction always gets recorded
	workCtx := context.WithoutCancel(ctx)
	results := make(chan result)
	done := ctx.Done()

	var (
		group     errgroup.Group
		inflight  int
		halted    bool
		cancelled bool
		fatal     error
	)

	launch := func(n *graph.Node) {
		outputs := make(map[string]registry.Record, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			outputs[dep] = report.records[dep]
		}
		inflight++
		group.Go(func() error {
			results <- o.process(workCtx, n, net, outputs)
			return nil
		})
	}

	skipDependents := func(root string) {
		queue := g.Dependents(root)
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			out := &report.Outcomes[position[name]]
			if out.Status != "" {
				continue
			}
			out.Status = StatusSkippedDependencyFailed
			out.Cause = root
			log.With("node", name, "cause", root).Warn("skipping node, prerequisite failed")
			queue = append(queue, g.Dependents(name)...)
		}
	}

	for {
		if !halted && ctx.Err() != nil {
			halted, cancelled = true, true
			log.Warn("run cancelled, waiting for in-flight nodes")
		}

		for !halted && inflight < o.concurrency && len(ready) > 0 {
			n := ready[0]
			ready = ready[1:]
			if report.Outcomes[position[n.Name]].Status != "" {
				continue
			}
			launch(n)
		}

		if inflight == 0 {
			break
		}

		select {
		case <-done:
			done = nil
			if !halted {
				halted, cancelled = true, true
				log.Warn("run cancelled, waiting for in-flight nodes")
			}
		case res := <-results:
			inflight--
			report.Outcomes[position[res.node.Name]] = res.outcome

			if res.fatal != nil {
				if fatal == nil {
					fatal = res.fatal
				}
				halted = true
				log.With("node", res.node.Name, "err", res.fatal.Error()).Error("fatal error, no further nodes will be started")
			}

			if res.record == nil {
				skipDependents(res.node.Name)
				continue
			}

			report.records[res.node.Name] = *res.record
			for _, name := range g.Dependents(res.node.Name) {
				waiting[name]--
				if waiting[name] == 0 && report.Outcomes[position[name]].Status == "" {
					ready = insertByPosition(ready, name, g, position)
				}
			}
		}
	}

	_ = group.Wait()

	for i := range report.Outcomes {
		if report.Outcomes[i].Status == "" {
			report.Outcomes[i].Status = StatusNotStarted
		}
	}
	report.FinishedAt = o.now()

	counts := report.Counts()
	log.With(
		"deployed", counts[StatusDeployed],
		"present", counts[StatusSkippedAlreadyPresent],
		"planned", counts[StatusPlanned],
		"failed", counts[StatusFailed],
		"skipped", counts[StatusSkippedDependencyFailed],
		"not_started", counts[StatusNotStarted],
	).Info("deployment run finished")

	switch {
	case fatal != nil:
		return report, fatal
	case cancelled:
		return report, ctx.Err()
	default:
		return report, nil
	}
}

func insertByPosition(ready []*graph.Node, name string, g *graph.Graph, position map[string]int) []*graph.Node {
	n, _ := g.Node(name)
	i := 0
	for i < len(ready) && position[ready[i].Name] < position[name] {
		i++
	}
	ready = append(ready, nil)
	copy(ready[i+1:], ready[i:])
	ready[i] = n
	return ready
}

// process runs one node to completion. outputs holds the records of the
// node's prerequisites.
func (o *Orchestrator) process(ctx context.Context, n *graph.Node, net network.Config, outputs map[string]registry.Record) result {
	res := result{node: n, outcome: Outcome{Node: n.Name, Artifact: n.Artifact}}
	log := o.logger.With("network", net.Name, "node", n.Name)

	fail := func(err error) result {
		res.outcome.Status = StatusFailed
		res.outcome.Err = err
		log.With("err", err.Error()).Error("node failed")
		return res
	}

	confirmations := n.Confirmations
	if confirmations == 0 {
		confirmations = net.Confirmations
	}

	existing, found, err := o.registry.Lookup(ctx, net.Name, n.Name)
	if err != nil {
		return fail(fmt.Errorf("failed to look up record: %w", err))
	}
	if found {
		res.outcome.Address = existing.Address
		res.outcome.TransactionHash = existing.TransactionHash
		res.outcome.Block = existing.Block
		if existing.PendingCalls > 0 {
			return o.resume(ctx, res, existing, n, net, outputs, confirmations, fail)
		}
		res.outcome.Status = StatusSkippedAlreadyPresent
		res.record = &existing
		log.With("address", existing.Address.Hex()).Info("already deployed, skipping")
		return res
	}

	args, err := resolveArgs(n.Name, n.Args, net, outputs)
	if err != nil {
		return fail(err)
	}

	req := chain.DeployRequest{
		Node:          n.Name,
		Artifact:      n.Artifact,
		Args:          args,
		Salt:          net.DeploymentSalt,
		Confirmations: confirmations,
	}

	if o.dryRun {
		return o.plan(res, req, n, net, outputs, fail)
	}

	receipt, err := o.client.Deploy(ctx, req)
	if err != nil {
		return fail(err)
	}

	rec := registry.Record{
		Network:         net.Name,
		Node:            n.Name,
		Artifact:        n.Artifact,
		Address:         receipt.Address,
		Args:            args,
		TransactionHash: receipt.TxHash,
		Block:           receipt.Block,
		Timestamp:       o.now().UTC(),
		PendingCalls:    len(n.Calls),
	}

	if err := o.registry.Record(ctx, rec, false); err != nil {
		if errors.Is(err, registry.ErrDuplicateRecord) {
			conflict := &ConflictError{Network: net.Name, Node: n.Name, Err: err}
			res.fatal = conflict
			return fail(conflict)
		}
		return fail(fmt.Errorf("deployed at %s but failed to record: %w", receipt.Address.Hex(), err))
	}

	res.outcome.Address = rec.Address
	res.outcome.TransactionHash = rec.TransactionHash
	res.outcome.Block = rec.Block
	if receipt.AlreadyDeployed {
		log.With("address", rec.Address.Hex()).Info("code already on chain, recorded existing deployment")
	} else {
		log.With("address", rec.Address.Hex(), "tx_hash", rec.TransactionHash.Hex(), "block", rec.Block).Info("node deployed")
	}

	rec, err = o.runCalls(ctx, n, net, rec, outputs, confirmations)
	if err != nil {
		// the record keeps the pending calls; dependents must not build on a
		// half configured node
		return fail(err)
	}

	res.outcome.Status = StatusDeployed
	res.record = &rec
	o.enqueueVerification(net, n, rec)

	return res
}

// resume finishes the post-deploy calls an earlier run left pending on rec.
func (o *Orchestrator) resume(ctx context.Context, res result, rec registry.Record, n *graph.Node, net network.Config, outputs map[string]registry.Record, confirmations uint64, fail func(error) result) result {
	log := o.logger.With("network", net.Name, "node", n.Name, "address", rec.Address.Hex(), "pending_calls", rec.PendingCalls)

	if o.dryRun {
		withSelf := withOutput(outputs, rec)
		for _, call := range pendingCalls(n, rec) {
			if _, err := resolveArgs(n.Name, call.Args, net, withSelf); err != nil {
				return fail(err)
			}
		}
		res.outcome.Status = StatusPlanned
		res.record = &rec
		log.Info("planned, post-deploy calls pending")
		return res
	}

	log.Info("already deployed, resuming post-deploy calls")
	rec, err := o.runCalls(ctx, n, net, rec, outputs, confirmations)
	if err != nil {
		return fail(err)
	}

	res.outcome.Status = StatusSkippedAlreadyPresent
	res.record = &rec
	o.enqueueVerification(net, n, rec)

	return res
}

func (o *Orchestrator) enqueueVerification(net network.Config, n *graph.Node, rec registry.Record) {
	if net.Local || o.verifier == nil {
		return
	}
	o.verifier.Enqueue(verify.Request{
		Network:         net.Name,
		Node:            n.Name,
		Artifact:        n.Artifact,
		Address:         rec.Address,
		ConstructorArgs: rec.Args,
	})
}

func (o *Orchestrator) plan(res result, req chain.DeployRequest, n *graph.Node, net network.Config, outputs map[string]registry.Record, fail func(error) result) result {
	address, err := o.predictor.PredictAddress(req)
	if err != nil {
		return fail(err)
	}

	rec := registry.Record{
		Network:  net.Name,
		Node:     n.Name,
		Artifact: n.Artifact,
		Address:  address,
		Args:     req.Args,
	}

	// surface missing parameters of post-deploy calls before a real run
	withSelf := withOutput(outputs, rec)
	for _, call := range n.Calls {
		if _, err := resolveArgs(n.Name, call.Args, net, withSelf); err != nil {
			return fail(err)
		}
	}

	res.outcome.Status = StatusPlanned
	res.outcome.Address = address
	res.record = &rec
	o.logger.With("network", net.Name, "node", n.Name, "address", address.Hex()).Info("planned")

	return res
}

// pendingCalls returns the trailing calls of n that rec has not confirmed.
func pendingCalls(n *graph.Node, rec registry.Record) []graph.Call {
	start := max(len(n.Calls)-rec.PendingCalls, 0)
	return n.Calls[start:]
}

// runCalls sends the calls still pending on self and writes the progress to
// the registry after each confirmed call. The returned record has no pending
// calls left unless err is set.
func (o *Orchestrator) runCalls(ctx context.Context, n *graph.Node, net network.Config, self registry.Record, outputs map[string]registry.Record, confirmations uint64) (registry.Record, error) {
	calls := pendingCalls(n, self)
	withSelf := withOutput(outputs, self)

	for i, call := range calls {
		args, err := resolveArgs(n.Name, call.Args, net, withSelf)
		if err != nil {
			return self, err
		}

		receipt, err := o.client.Call(ctx, chain.CallRequest{
			Node:          n.Name,
			Address:       self.Address,
			Artifact:      n.Artifact,
			Method:        call.Method,
			Args:          args,
			Confirmations: confirmations,
		})
		if err != nil {
			return self, fmt.Errorf("post-deploy call %s: %w", call.Method, err)
		}

		o.logger.With("network", net.Name, "node", n.Name, "method", call.Method, "tx_hash", receipt.TxHash.Hex()).Info("post-deploy call confirmed")

		self.PendingCalls = len(calls) - i - 1
		if err := o.registry.Record(ctx, self, true); err != nil {
			return self, fmt.Errorf("post-deploy call %s confirmed but failed to record progress: %w", call.Method, err)
		}
	}

	// the definition may have dropped calls since the record was written
	if self.PendingCalls != 0 {
		self.PendingCalls = 0
		if err := o.registry.Record(ctx, self, true); err != nil {
			return self, fmt.Errorf("failed to clear pending calls: %w", err)
		}
	}

	return self, nil
}

func withOutput(outputs map[string]registry.Record, rec registry.Record) map[string]registry.Record {
	out := make(map[string]registry.Record, len(outputs)+1)
	for k, v := range outputs {
		out[k] = v
	}
	out[rec.Node] = rec
	return out
}
