// Package registry persists what has been deployed, keyed by network and node
// name. A record is written once; later runs consult it to skip work.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateRecord = errors.New("record already exists")
	ErrInvalidRecord   = errors.New("invalid record")
	ErrStorage         = errors.New("registry storage failure")
)

type (
	// Record is the durable proof that a node was deployed on a network.
	Record struct {
		Network         string         `json:"network"`
		Node            string         `json:"node"`
		Artifact        string         `json:"artifact"`
		Address         common.Address `json:"address"`
		Args            []any          `json:"args"`
		TransactionHash common.Hash    `json:"transactionHash"`
		Block           uint64         `json:"blockNumber"`
		Timestamp       time.Time      `json:"timestamp"`
		// PendingCalls counts the node's trailing post-deploy calls that have
		// not been confirmed yet.
		PendingCalls int `json:"pendingCalls,omitempty"`
	}

	Registry interface {
		// Lookup returns the record for (network, node) and whether it exists.
		Lookup(ctx context.Context, network, node string) (Record, bool, error)
		// Record stores rec. Without force an existing record is left untouched
		// and ErrDuplicateRecord is returned.
		Record(ctx context.Context, rec Record, force bool) error
		Forget(ctx context.Context, network, node string) error
		// List returns the records of a network sorted by node name.
		List(ctx context.Context, network string) ([]Record, error)
		Close() error
	}

	Error struct {
		Op      string
		Network string
		Node    string
		Err     error
	}
)

func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Network, e.Node, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Network, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, network, node string, err error) *Error {
	return &Error{Op: op, Network: network, Node: node, Err: err}
}

func (r Record) validate() error {
	if r.Network == "" || r.Node == "" {
		return fmt.Errorf("%w: network and node are required", ErrInvalidRecord)
	}
	if r.Address == (common.Address{}) {
		return fmt.Errorf("%w: %s/%s has no address", ErrInvalidRecord, r.Network, r.Node)
	}
	if r.PendingCalls < 0 {
		return fmt.Errorf("%w: %s/%s has a negative pending call count", ErrInvalidRecord, r.Network, r.Node)
	}
	return nil
}
