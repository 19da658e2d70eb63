// Package evm implements chain.Client on top of go-ethereum, deploying through
// a CREATE2 factory so addresses only depend on salt and init code.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/compose-network/deploykit/internal/artifact"
	"github.com/compose-network/deploykit/internal/chain"
	"github.com/compose-network/deploykit/internal/logger"
)

type (
	// Backend is the subset of an RPC client the deployer uses. Both
	// *ethclient.Client and the simulated backend satisfy it.
	Backend interface {
		bind.ContractBackend
		TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
		BlockNumber(ctx context.Context) (uint64, error)
		ChainID(ctx context.Context) (*big.Int, error)
	}

	ArtifactSource interface {
		Load(name string) (*artifact.Artifact, error)
	}

	Config struct {
		PrivateKey          string
		Factory             common.Address
		GasLimit            uint64
		PollInterval        time.Duration
		ConfirmationTimeout time.Duration
	}

	Client struct {
		backend   Backend
		artifacts ArtifactSource
		auth      *bind.TransactOpts
		chainID   *big.Int
		factory   common.Address
		cfg       Config
		closer    func()
		logger    *slog.Logger

		// sendMu serializes nonce assignment and submission for the signer.
		sendMu sync.Mutex
	}
)

const (
	defaultPollInterval        = 2 * time.Second
	defaultConfirmationTimeout = 5 * time.Minute
)

// Dial connects to url and builds a Client for the configured signer.
func Dial(ctx context.Context, url string, cfg Config, artifacts ArtifactSource) (*Client, error) {
	ethClient, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	client, err := New(ctx, ethClient, cfg, artifacts)
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	client.closer = ethClient.Close

	return client, nil
}

func New(ctx context.Context, backend Backend, cfg Config, artifacts ArtifactSource) (*Client, error) {
	key, err := parseKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	if cfg.Factory == (common.Address{}) {
		cfg.Factory = DefaultFactory
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = defaultConfirmationTimeout
	}

	return &Client{
		backend:   backend,
		artifacts: artifacts,
		auth:      auth,
		chainID:   chainID,
		factory:   cfg.Factory,
		cfg:       cfg,
		logger:    logger.Named("evm_client").With("chain_id", chainID.Uint64()),
	}, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

func (c *Client) From() common.Address {
	return c.auth.From
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// PredictAddress implements chain.Predictor.
func (c *Client) PredictAddress(req chain.DeployRequest) (common.Address, error) {
	return NewPredictor(c.artifacts, c.factory).PredictAddress(req)
}

func (c *Client) Deploy(ctx context.Context, req chain.DeployRequest) (chain.Receipt, error) {
	code, err := initCode(c.artifacts, req)
	if err != nil {
		return chain.Receipt{}, err
	}
	address := PredictAddress(c.factory, req.Salt, code)
	log := c.logger.With("node", req.Node, "address", address.Hex())

	existing, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return chain.Receipt{}, fmt.Errorf("%w: failed to read code at %s: %w", chain.ErrSubmission, address, err)
	}
	if len(existing) > 0 {
		head, err := c.backend.BlockNumber(ctx)
		if err != nil {
			return chain.Receipt{}, fmt.Errorf("%w: failed to read head: %w", chain.ErrSubmission, err)
		}
		log.Info("code already present at deterministic address, skipping submission")
		return chain.Receipt{Address: address, Block: head, AlreadyDeployed: true}, nil
	}

	factoryCode, err := c.backend.CodeAt(ctx, c.factory, nil)
	if err != nil {
		return chain.Receipt{}, fmt.Errorf("%w: failed to read factory code: %w", chain.ErrSubmission, err)
	}
	if len(factoryCode) == 0 {
		return chain.Receipt{}, fmt.Errorf("deterministic deployment factory %s is not deployed on chain %d", c.factory, c.chainID)
	}

	payload := make([]byte, 0, common.HashLength+len(code))
	payload = append(payload, req.Salt.Bytes()...)
	payload = append(payload, code...)

	factory := bind.NewBoundContract(c.factory, abi.ABI{}, c.backend, c.backend, c.backend)
	tx, err := c.send(ctx, factory, payload)
	if err != nil {
		return chain.Receipt{}, fmt.Errorf("failed to deploy %s: %w", req.Node, err)
	}

	log.With("tx_hash", tx.Hash().Hex()).Info("deployment transaction sent")

	receipt, err := c.waitConfirmed(ctx, tx.Hash(), req.Confirmations)
	if err != nil {
		return chain.Receipt{}, fmt.Errorf("failed to confirm %s: %w", req.Node, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return chain.Receipt{}, fmt.Errorf("%w: deployment of %s in tx %s", chain.ErrReverted, req.Node, tx.Hash())
	}

	deployed, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return chain.Receipt{}, fmt.Errorf("%w: failed to read code at %s: %w", chain.ErrSubmission, address, err)
	}
	if len(deployed) == 0 {
		return chain.Receipt{}, fmt.Errorf("%w: no code at %s after deploying %s", chain.ErrReverted, address, req.Node)
	}

	log.With("tx_hash", tx.Hash().Hex(), "block", receipt.BlockNumber.Uint64()).Info("contract deployed")

	return chain.Receipt{
		Address: address,
		TxHash:  tx.Hash(),
		Block:   receipt.BlockNumber.Uint64(),
	}, nil
}

func (c *Client) Call(ctx context.Context, req chain.CallRequest) (chain.CallReceipt, error) {
	art, err := c.artifacts.Load(req.Artifact)
	if err != nil {
		return chain.CallReceipt{}, fmt.Errorf("%w: %w", chain.ErrCall, err)
	}

	data, err := art.CallData(req.Method, req.Args)
	if err != nil {
		return chain.CallReceipt{}, fmt.Errorf("%w: %w", chain.ErrCall, err)
	}

	contract := bind.NewBoundContract(req.Address, art.ABI, c.backend, c.backend, c.backend)
	tx, err := c.send(ctx, contract, data)
	if err != nil {
		return chain.CallReceipt{}, fmt.Errorf("%w: %s.%s: %w", chain.ErrCall, req.Node, req.Method, err)
	}

	c.logger.With("node", req.Node, "method", req.Method, "tx_hash", tx.Hash().Hex()).Info("call transaction sent")

	receipt, err := c.waitConfirmed(ctx, tx.Hash(), req.Confirmations)
	if err != nil {
		return chain.CallReceipt{}, fmt.Errorf("%w: %s.%s: %w", chain.ErrCall, req.Node, req.Method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return chain.CallReceipt{}, fmt.Errorf("%w: %s.%s: %w in tx %s", chain.ErrCall, req.Node, req.Method, chain.ErrReverted, tx.Hash())
	}

	return chain.CallReceipt{TxHash: tx.Hash(), Block: receipt.BlockNumber.Uint64()}, nil
}

func (c *Client) send(ctx context.Context, contract *bind.BoundContract, data []byte) (*types.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	opts := *c.auth
	opts.Context = ctx
	opts.GasLimit = c.cfg.GasLimit

	tx, err := contract.RawTransact(&opts, data)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %w", chain.ErrReverted, err)
		}
		return nil, fmt.Errorf("%w: %w", chain.ErrSubmission, err)
	}

	return tx, nil
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}
