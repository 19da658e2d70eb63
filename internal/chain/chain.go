// Package chain defines what the deployment engine needs from a ledger.
package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrSubmission means the transaction was not accepted by the node.
	ErrSubmission = errors.New("transaction submission failed")
	// ErrConfirmationTimeout means the transaction was not buried deep enough in time.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrCall means a post-deploy call failed or reverted.
	ErrCall = errors.New("contract call failed")
	// ErrReverted means the transaction was mined but reverted.
	ErrReverted = errors.New("transaction reverted")
)

type (
	DeployRequest struct {
		Node     string
		Artifact string
		// Args are the resolved constructor arguments in declaration order.
		Args          []any
		Salt          common.Hash
		Confirmations uint64
	}

	Receipt struct {
		Address common.Address
		TxHash  common.Hash
		Block   uint64
		// AlreadyDeployed is set when code was found at the deterministic
		// address and nothing was submitted.
		AlreadyDeployed bool
	}

	CallRequest struct {
		Node          string
		Address       common.Address
		Artifact      string
		Method        string
		Args          []any
		Confirmations uint64
	}

	CallReceipt struct {
		TxHash common.Hash
		Block  uint64
	}

	Client interface {
		// Deploy submits the creation transaction and waits until it has the
		// requested confirmation depth.
		Deploy(ctx context.Context, req DeployRequest) (Receipt, error)
		Call(ctx context.Context, req CallRequest) (CallReceipt, error)
	}

	// Predictor computes deployment addresses without touching the chain.
	Predictor interface {
		PredictAddress(req DeployRequest) (common.Address, error)
	}
)
