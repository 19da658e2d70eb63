package evm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/compose-network/deploykit/internal/chain"
	"github.com/compose-network/deploykit/internal/logger"
)

var errNotConfirmed = errors.New("not confirmed")

// waitConfirmed polls until the transaction's block is depth blocks deep
// (depth 1 means mined). A receipt that disappears after a reorg puts the wait
// back to the start.
func (c *Client) waitConfirmed(ctx context.Context, hash common.Hash, depth uint64) (*types.Receipt, error) {
	if depth == 0 {
		depth = 1
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.confirmedReceipt(waitCtx, hash, depth)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, errNotConfirmed) && !errors.Is(err, ethereum.NotFound) {
			c.logger.With("tx_hash", hash.Hex(), "err", err.Error()).Debug("receipt poll failed")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: tx %s did not reach %d confirmations within %s",
				chain.ErrConfirmationTimeout, hash, depth, c.cfg.ConfirmationTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) confirmedReceipt(ctx context.Context, hash common.Hash, depth uint64) (*types.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, errNotConfirmed
	}

	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if head+1 < receipt.BlockNumber.Uint64()+depth {
		return nil, errNotConfirmed
	}

	return receipt, nil
}

// WaitForRPC blocks until url answers eth_blockNumber or timeout elapses.
func WaitForRPC(ctx context.Context, url string, timeout time.Duration) error {
	log := logger.Named("evm_client").With("url", url)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		client, err := ethclient.DialContext(ctx, url)
		if err == nil {
			_, err = client.BlockNumber(ctx)
			client.Close()
			if err == nil {
				log.Debug("RPC is up")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for RPC at %s: %w", url, err)
		case <-ticker.C:
		}
	}
}
