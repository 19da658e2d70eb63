// Package artifact loads compiled contract artifacts and encodes deployment
// and call data from loosely typed arguments.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrInvalidArtifact  = errors.New("invalid artifact")
	ErrEncoding         = errors.New("argument encoding failed")
)

type (
	// Artifact is a compiled contract ready to be deployed.
	Artifact struct {
		Name     string
		ABI      abi.ABI
		RawABI   string
		Bytecode []byte

		// Source metadata used for explorer verification. Any of these may be
		// empty when the artifact was produced without them.
		SourceName      string
		CompilerVersion string
		StandardInput   json.RawMessage
	}

	hardhatArtifact struct {
		ContractName string          `json:"contractName"`
		SourceName   string          `json:"sourceName"`
		ABI          json.RawMessage `json:"abi"`
		Bytecode     json.RawMessage `json:"bytecode"`
		Metadata     json.RawMessage `json:"metadata"`
	}

	foundryBytecode struct {
		Object string `json:"object"`
	}

	metadata struct {
		Compiler struct {
			Version string `json:"version"`
		} `json:"compiler"`
		Settings struct {
			CompilationTarget map[string]string `json:"compilationTarget"`
		} `json:"settings"`
	}
)

// QualifiedName is the "path/File.sol:Contract" form explorers expect.
func (a *Artifact) QualifiedName() string {
	if a.SourceName == "" {
		return a.Name
	}
	return a.SourceName + ":" + a.Name
}

// Verifiable reports whether the artifact carries enough source metadata for
// explorer verification.
func (a *Artifact) Verifiable() bool {
	return len(a.StandardInput) > 0 && a.CompilerVersion != ""
}

// parse accepts both hardhat ({"bytecode": "0x.."}) and foundry
// ({"bytecode": {"object": "0x.."}}) artifact documents.
func parse(name string, data []byte) (*Artifact, error) {
	var raw hardhatArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidArtifact, name, err)
	}

	bytecode, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidArtifact, name, err)
	}

	art, err := newArtifact(name, raw.ABI, bytecode)
	if err != nil {
		return nil, err
	}
	art.SourceName = raw.SourceName
	if raw.ContractName != "" {
		art.Name = raw.ContractName
	}

	if len(raw.Metadata) > 0 {
		applyMetadata(art, raw.Metadata)
	}

	return art, nil
}

func newArtifact(name string, rawABI json.RawMessage, bytecode string) (*Artifact, error) {
	if len(rawABI) == 0 {
		return nil, fmt.Errorf("%w %s: missing abi", ErrInvalidArtifact, name)
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(rawABI)))
	if err != nil {
		return nil, fmt.Errorf("%w %s: failed to parse ABI: %v", ErrInvalidArtifact, name, err)
	}

	code := common.FromHex(bytecode)
	if len(code) == 0 {
		return nil, fmt.Errorf("%w %s: empty bytecode (abstract contract or interface?)", ErrInvalidArtifact, name)
	}

	return &Artifact{
		Name:     name,
		ABI:      parsedABI,
		RawABI:   string(rawABI),
		Bytecode: code,
	}, nil
}

func decodeBytecode(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("missing bytecode")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var obj foundryBytecode
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("bytecode is neither a string nor an object: %w", err)
	}

	return obj.Object, nil
}

// applyMetadata reads the solc metadata, which hardhat stores as a string and
// foundry as an object.
func applyMetadata(art *Artifact, raw json.RawMessage) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}

	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return
	}

	if meta.Compiler.Version != "" {
		art.CompilerVersion = "v" + strings.TrimPrefix(meta.Compiler.Version, "v")
	}
	for source, contract := range meta.Settings.CompilationTarget {
		if contract == art.Name && art.SourceName == "" {
			art.SourceName = source
		}
	}
}
