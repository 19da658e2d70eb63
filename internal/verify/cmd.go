package verify

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/compose-network/deploykit/configs"
	"github.com/compose-network/deploykit/internal/artifact"
	"github.com/compose-network/deploykit/internal/flags"
	"github.com/compose-network/deploykit/internal/logger"
	"github.com/compose-network/deploykit/internal/network"
	"github.com/compose-network/deploykit/internal/registry"
)

var CMD = &cobra.Command{
	Use:   "verify [node]...",
	Short: "Verify recorded deployments of a network on its block explorer",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("network")
		return run(cmd.Context(), configs.Values, name, args)
	},
}

func init() {
	flags.MustDeclare(CMD.Flags(), []flags.Def[string]{{Name: "network", Description: "Network name"}})
	_ = CMD.MarkFlagRequired("network")
}

func run(ctx context.Context, cfg configs.Config, name string, nodes []string) error {
	log := logger.Named("verify").With("network", name)

	table, err := network.Load(cfg.NetworksFile)
	if err != nil {
		return err
	}
	net, err := table.Resolve(name)
	if err != nil {
		return err
	}
	if net.Local {
		return fmt.Errorf("network %q is local, there is no explorer to verify on", name)
	}
	if cfg.Verifier.APIKey == "" {
		return fmt.Errorf("verifier.api-key is required")
	}
	if err := cfg.ValidateRegistry(); err != nil {
		return err
	}

	reg, err := registry.Open(string(cfg.Registry.Backend), cfg.RegistryLocation())
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer reg.Close()

	apiURL := net.Explorer.APIURL
	if apiURL == "" {
		apiURL = cfg.Verifier.APIURL
	}
	limit := rate.Inf
	if cfg.Verifier.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.Verifier.RequestsPerSecond)
	}

	client := NewEtherscanClient(cfg.Verifier.APIKey, apiURL, net.ChainID, rate.NewLimiter(limit, 1))
	queue := NewQueue(NewEtherscan(client, artifact.NewStore(cfg.ArtifactsDir), 0), QueueConfig{
		Workers:         cfg.Verifier.Workers,
		MaxAttempts:     cfg.Verifier.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	})
	queue.Start(ctx)

	queued, err := EnqueueRecorded(ctx, reg, queue, name, nodes)
	if err != nil {
		_ = queue.Wait(ctx)
		return err
	}
	log.With("contracts", queued).Info("verification queued")

	if err := queue.Wait(ctx); err != nil {
		return fmt.Errorf("verification interrupted: %w", err)
	}

	var failed int
	for _, res := range queue.Results() {
		entry := log.With("node", res.Node, "address", res.Address.Hex(), "status", string(res.Status), "attempts", res.Attempts)
		if res.Err != nil {
			failed++
			entry.With("err", res.Err.Error()).Error("verification failed")
			continue
		}
		entry.Info("verification finished")
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d contracts", ErrVerification, failed, queued)
	}

	return nil
}

// EnqueueRecorded queues every recorded deployment of network, or only the
// given nodes when any are named. It returns how many were queued.
func EnqueueRecorded(ctx context.Context, reg registry.Registry, q interface{ Enqueue(Request) }, network string, nodes []string) (int, error) {
	recs, err := reg.List(ctx, network)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}

	var queued int
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		seen[rec.Node] = true
		if len(nodes) > 0 && !slices.Contains(nodes, rec.Node) {
			continue
		}
		q.Enqueue(Request{
			Network:         rec.Network,
			Node:            rec.Node,
			Artifact:        rec.Artifact,
			Address:         rec.Address,
			ConstructorArgs: rec.Args,
		})
		queued++
	}

	for _, node := range nodes {
		if !seen[node] {
			return queued, fmt.Errorf("%w: %s/%s", registry.ErrNotFound, network, node)
		}
	}

	return queued, nil
}
