// Package sandbox runs a disposable anvil chain in docker for local
// deployments.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/compose-network/deploykit/internal/chain/evm"
	"github.com/compose-network/deploykit/internal/logger"
)

type (
	Container struct {
		ID      string
		Running bool
	}

	ContainerSpec struct {
		Name          string
		Image         string
		Entrypoint    []string
		Cmd           []string
		ContainerPort int
		HostPort      int
	}

	// Runtime is the subset of a container engine the sandbox needs.
	Runtime interface {
		ImageExists(ctx context.Context, image string) (bool, error)
		PullImage(ctx context.Context, image string) error
		FindContainer(ctx context.Context, name string) (Container, bool, error)
		RunDetached(ctx context.Context, spec ContainerSpec) (string, error)
		Remove(ctx context.Context, id string) error
	}

	Config struct {
		Image         string
		ContainerName string
		Port          int
		ChainID       uint64
		// BlockTime in seconds; zero mines on every transaction.
		BlockTime int
		// Factory is injected when the chain does not already carry it.
		Factory     common.Address
		StartupWait time.Duration
	}

	Sandbox struct {
		runtime Runtime
		cfg     Config
		logger  *slog.Logger

		waitForRPC    func(ctx context.Context, url string, timeout time.Duration) error
		ensureFactory func(ctx context.Context, url string, factory common.Address) error
	}
)

func New(runtime Runtime, cfg Config) *Sandbox {
	if cfg.Factory == (common.Address{}) {
		cfg.Factory = evm.DefaultFactory
	}
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = time.Minute
	}

	return &Sandbox{
		runtime:       runtime,
		cfg:           cfg,
		logger:        logger.Named("sandbox"),
		waitForRPC:    evm.WaitForRPC,
		ensureFactory: EnsureFactory,
	}
}

// URL is the host side RPC endpoint.
func (s *Sandbox) URL() string {
	return "http://127.0.0.1:" + strconv.Itoa(s.cfg.Port)
}

// Start brings the sandbox up and returns its RPC url. A running container of
// the same name is reused; a stopped one is replaced.
func (s *Sandbox) Start(ctx context.Context) (string, error) {
	log := s.logger.With("container", s.cfg.ContainerName, "image", s.cfg.Image)

	existing, found, err := s.runtime.FindContainer(ctx, s.cfg.ContainerName)
	if err != nil {
		return "", err
	}
	if found && existing.Running {
		log.Info("sandbox already running")
		return s.URL(), s.ready(ctx)
	}
	if found {
		if err := s.runtime.Remove(ctx, existing.ID); err != nil {
			return "", err
		}
	}

	exists, err := s.runtime.ImageExists(ctx, s.cfg.Image)
	if err != nil {
		return "", fmt.Errorf("failed to inspect image: %w", err)
	}
	if !exists {
		if err := s.runtime.PullImage(ctx, s.cfg.Image); err != nil {
			return "", err
		}
	}

	id, err := s.runtime.RunDetached(ctx, s.spec())
	if err != nil {
		return "", err
	}
	log.With("id", id, "url", s.URL()).Info("sandbox container started")

	return s.URL(), s.ready(ctx)
}

// Stop removes the sandbox container. It is not an error if there is none.
func (s *Sandbox) Stop(ctx context.Context) error {
	existing, found, err := s.runtime.FindContainer(ctx, s.cfg.ContainerName)
	if err != nil {
		return err
	}
	if !found {
		s.logger.With("container", s.cfg.ContainerName).Info("no sandbox to stop")
		return nil
	}

	if err := s.runtime.Remove(ctx, existing.ID); err != nil {
		return err
	}
	s.logger.With("container", s.cfg.ContainerName).Info("sandbox removed")

	return nil
}

func (s *Sandbox) spec() ContainerSpec {
	cmd := []string{
		"--host", "0.0.0.0",
		"--port", strconv.Itoa(s.cfg.Port),
		"--chain-id", strconv.FormatUint(s.cfg.ChainID, 10),
	}
	if s.cfg.BlockTime > 0 {
		cmd = append(cmd, "--block-time", strconv.Itoa(s.cfg.BlockTime))
	}

	return ContainerSpec{
		Name:          s.cfg.ContainerName,
		Image:         s.cfg.Image,
		Entrypoint:    []string{"anvil"},
		Cmd:           cmd,
		ContainerPort: s.cfg.Port,
		HostPort:      s.cfg.Port,
	}
}

func (s *Sandbox) ready(ctx context.Context) error {
	if err := s.waitForRPC(ctx, s.URL(), s.cfg.StartupWait); err != nil {
		return err
	}
	return s.ensureFactory(ctx, s.URL(), s.cfg.Factory)
}

// EnsureFactory installs the deterministic deployment proxy at factory through
// anvil_setCode when the chain has no code there.
func EnsureFactory(ctx context.Context, url string, factory common.Address) error {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	defer client.Close()

	var code hexutil.Bytes
	if err := client.CallContext(ctx, &code, "eth_getCode", factory, "latest"); err != nil {
		return fmt.Errorf("failed to read factory code: %w", err)
	}
	if len(code) > 0 {
		return nil
	}

	if err := client.CallContext(ctx, nil, "anvil_setCode", factory, evm.FactoryRuntimeCode); err != nil {
		return fmt.Errorf("failed to install deployment factory: %w", err)
	}
	logger.Named("sandbox").With("factory", factory.Hex()).Info("deployment factory installed")

	return nil
}
