package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/compose-network/deploykit/configs"
	"github.com/compose-network/deploykit/internal/artifact"
	"github.com/compose-network/deploykit/internal/chain"
	"github.com/compose-network/deploykit/internal/chain/evm"
	"github.com/compose-network/deploykit/internal/graph"
	"github.com/compose-network/deploykit/internal/infra/filesystem"
	"github.com/compose-network/deploykit/internal/infra/filesystem/json"
	"github.com/compose-network/deploykit/internal/logger"
	"github.com/compose-network/deploykit/internal/network"
	"github.com/compose-network/deploykit/internal/orchestrator"
	"github.com/compose-network/deploykit/internal/registry"
	"github.com/compose-network/deploykit/internal/verify"
)

type (
	Options struct {
		Network string
		Tags    []string
		DryRun  bool
		// RPCURL overrides the endpoint configured under rpc.<network>.
		RPCURL     string
		ReportFile string
	}

	Result struct {
		Report        *orchestrator.Report
		Verifications []verify.Result
	}

	Service struct {
		cfg    configs.Config
		writer filesystem.Writer
		logger *slog.Logger
	}
)

func NewService(cfg configs.Config) *Service {
	return &Service{
		cfg:    cfg,
		writer: json.NewWriter(),
		logger: logger.Named("deploy"),
	}
}

// Run resolves the network and graph, then deploys or plans it. The returned
// Result carries the report even when err is a conflict or cancellation.
func (s *Service) Run(ctx context.Context, opts Options) (*Result, error) {
	net, err := ResolveNetwork(s.cfg, opts.Network)
	if err != nil {
		return nil, err
	}

	g, err := LoadGraph(s.cfg.Definitions, opts.Tags)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(string(s.cfg.Registry.Backend), s.cfg.RegistryLocation())
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	defer reg.Close()

	store := artifact.NewStore(s.cfg.ArtifactsDir)
	factory := s.factory()

	log := s.logger.With("network", net.Name, "chain_id", net.ChainID, "nodes", g.Len())

	var (
		result = &Result{}
		runErr error
	)

	if opts.DryRun {
		log.Info("planning deployment")
		orch := orchestrator.New(reg, nil,
			orchestrator.WithDryRun(evm.NewPredictor(store, factory)),
			orchestrator.WithConcurrency(s.cfg.Deployer.Concurrency),
		)
		result.Report, runErr = orch.Run(ctx, g, net)
	} else {
		result.Report, result.Verifications, runErr = s.deploy(ctx, g, net, reg, store, factory, opts.RPCURL)
	}

	if result.Report != nil && opts.ReportFile != "" {
		if err := s.writer.WriteJSON(opts.ReportFile, result.Report); err != nil {
			return result, errors.Join(runErr, fmt.Errorf("failed to write report: %w", err))
		}
		log.With("path", opts.ReportFile).Info("report written")
	}

	return result, runErr
}

func (s *Service) deploy(
	ctx context.Context,
	g *graph.Graph,
	net network.Config,
	reg registry.Registry,
	store *artifact.Store,
	factory common.Address,
	rpcURL string,
) (*orchestrator.Report, []verify.Result, error) {
	if rpcURL == "" {
		var ok bool
		if rpcURL, ok = s.cfg.RPCURL(net.Name); !ok {
			return nil, nil, fmt.Errorf("no rpc url configured for network %q (set rpc.%s or --rpc-url)", net.Name, net.Name)
		}
	}

	client, err := evm.Dial(ctx, rpcURL, evm.Config{
		PrivateKey:          s.cfg.Deployer.PrivateKey,
		Factory:             factory,
		GasLimit:            s.cfg.Deployer.GasLimit,
		PollInterval:        s.cfg.Deployer.PollInterval,
		ConfirmationTimeout: s.cfg.Deployer.ConfirmationTimeout,
	}, store)
	if err != nil {
		return nil, nil, err
	}
	defer client.Close()

	if client.ChainID() != net.ChainID {
		return nil, nil, fmt.Errorf("rpc endpoint reports chain id %d but network %q expects %d", client.ChainID(), net.Name, net.ChainID)
	}

	s.logger.With("network", net.Name, "deployer", client.From().Hex()).Info("connected to network")

	opts := []orchestrator.Option{orchestrator.WithConcurrency(s.cfg.Deployer.Concurrency)}

	queue := s.verifierQueue(net, store)
	if queue != nil {
		queue.Start(ctx)
		opts = append(opts, orchestrator.WithVerifier(queue))
	}

	retrying := chain.WithRetry(client, chain.RetryPolicy{
		MaxAttempts:     s.cfg.Retry.MaxAttempts,
		InitialInterval: s.cfg.Retry.InitialInterval,
		MaxInterval:     s.cfg.Retry.MaxInterval,
	})

	report, runErr := orchestrator.New(reg, retrying, opts...).Run(ctx, g, net)
	if queue == nil {
		return report, nil, runErr
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Verifier.WaitTimeout)
	defer cancel()
	if err := queue.Wait(waitCtx); err != nil {
		s.logger.With("err", err.Error()).Warn("verification still pending, results are incomplete")
	}

	return report, queue.Results(), runErr
}

// verifierQueue returns nil when verification is disabled or the network is
// local.
func (s *Service) verifierQueue(net network.Config, store *artifact.Store) *verify.Queue {
	if !s.cfg.Verifier.Enabled || net.Local {
		return nil
	}

	apiURL := net.Explorer.APIURL
	if apiURL == "" {
		apiURL = s.cfg.Verifier.APIURL
	}

	limit := rate.Inf
	if s.cfg.Verifier.RequestsPerSecond > 0 {
		limit = rate.Limit(s.cfg.Verifier.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	explorer := verify.NewEtherscanClient(s.cfg.Verifier.APIKey, apiURL, net.ChainID, limiter)

	return verify.NewQueue(verify.NewEtherscan(explorer, store, 0), verify.QueueConfig{
		Workers:         s.cfg.Verifier.Workers,
		MaxAttempts:     s.cfg.Verifier.MaxAttempts,
		InitialInterval: s.cfg.Retry.InitialInterval,
		MaxInterval:     s.cfg.Retry.MaxInterval,
	})
}

func (s *Service) factory() common.Address {
	if s.cfg.Deployer.FactoryAddress == "" {
		return evm.DefaultFactory
	}
	return common.HexToAddress(s.cfg.Deployer.FactoryAddress)
}

// ResolveNetwork loads the configured network table and looks name up in it.
func ResolveNetwork(cfg configs.Config, name string) (network.Config, error) {
	if name == "" {
		return network.Config{}, errors.New("network is required")
	}

	table, err := network.Load(cfg.NetworksFile)
	if err != nil {
		return network.Config{}, err
	}

	return table.Resolve(name)
}

// LoadGraph reads the definitions file, builds the graph and narrows it to
// tags, if any.
func LoadGraph(path string, tags []string) (*graph.Graph, error) {
	defs, err := graph.LoadDefinitions(path)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(defs)
	if err != nil {
		return nil, fmt.Errorf("invalid deployment definitions '%s': %w", path, err)
	}

	return g.Select(tags...)
}
