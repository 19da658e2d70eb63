// Package verify publishes contract sources to block explorers. Verification
// runs beside deployment and never changes a deployment's outcome.
package verify

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/deploykit/internal/artifact"
)

var (
	ErrVerification = errors.New("verification failed")
	ErrNoSource     = errors.New("artifact has no verifiable source")
)

type (
	Status string

	// Request identifies one deployed contract to verify.
	Request struct {
		Network  string
		Node     string
		Artifact string
		Address  common.Address
		// ConstructorArgs are the resolved values the contract was deployed with.
		ConstructorArgs []any
	}

	Result struct {
		Network  string
		Node     string
		Address  common.Address
		Status   Status
		Attempts int
		Err      error
	}

	Verifier interface {
		// Verify returns nil when the contract is verified, including when it
		// already was.
		Verify(ctx context.Context, req Request) error
	}

	ArtifactSource interface {
		Load(name string) (*artifact.Artifact, error)
	}
)

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)
