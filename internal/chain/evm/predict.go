package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/compose-network/deploykit/internal/chain"
)

// DefaultFactory is the deterministic deployment proxy present on most EVM
// networks and preloaded by hardhat, anvil and the OP devnets.
var DefaultFactory = common.HexToAddress("0x4e59b44847b379578588920ca78fbf26c0b4956c")

// FactoryRuntimeCode is the proxy's deployed bytecode. Local chains that lack
// the proxy can have it injected at DefaultFactory.
const FactoryRuntimeCode = "0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe03601600081602082378035828234f58015156039578182fd5b8082525050506014600cf3"

// Predictor computes CREATE2 addresses offline.
type Predictor struct {
	artifacts ArtifactSource
	factory   common.Address
}

func NewPredictor(artifacts ArtifactSource, factory common.Address) *Predictor {
	if factory == (common.Address{}) {
		factory = DefaultFactory
	}
	return &Predictor{artifacts: artifacts, factory: factory}
}

func (p *Predictor) PredictAddress(req chain.DeployRequest) (common.Address, error) {
	initCode, err := initCode(p.artifacts, req)
	if err != nil {
		return common.Address{}, err
	}
	return PredictAddress(p.factory, req.Salt, initCode), nil
}

// PredictAddress returns the address the factory will create initCode at.
func PredictAddress(factory common.Address, salt common.Hash, initCode []byte) common.Address {
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode))
}

func initCode(artifacts ArtifactSource, req chain.DeployRequest) ([]byte, error) {
	art, err := artifacts.Load(req.Artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact for %s: %w", req.Node, err)
	}

	code, err := art.InitCode(req.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", req.Node, err)
	}

	return code, nil
}
