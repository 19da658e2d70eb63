package artifact

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feeControllerABI = `[
  {"type":"constructor","inputs":[
    {"name":"oracle","type":"address"},
    {"name":"maxFeeLimits","type":"uint256[]"},
    {"name":"owner","type":"address"}
  ]},
  {"type":"function","name":"setOracleID","stateMutability":"nonpayable","inputs":[
    {"name":"token","type":"address"},
    {"name":"oracleId","type":"bytes32"}
  ],"outputs":[]},
  {"type":"function","name":"configure","stateMutability":"nonpayable","inputs":[
    {"name":"cfg","type":"tuple","components":[
      {"name":"vault","type":"address"},
      {"name":"percentage","type":"uint16"},
      {"name":"enabled","type":"bool"}
    ]}
  ],"outputs":[]}
]`

const (
	testOracle = "0x00000000000000000000000000000000000000a1"
	testOwner  = "0x00000000000000000000000000000000000000b2"
)

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func hardhatDoc(t *testing.T) string {
	t.Helper()
	doc, err := json.Marshal(map[string]any{
		"_format":      "hh-sol-artifact-1",
		"contractName": "FeeController",
		"sourceName":   "contracts/FeeController.sol",
		"abi":          json.RawMessage(feeControllerABI),
		"bytecode":     "0x6080604052",
	})
	require.NoError(t, err)
	return string(doc)
}

func TestStore_HardhatTree(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "contracts", "FeeController.sol")
	writeFile(t, filepath.Join(base, "FeeController.json"), hardhatDoc(t))
	writeFile(t, filepath.Join(base, "FeeController.dbg.json"), `{"buildInfo":"x"}`)
	writeFile(t, filepath.Join(base, "FeeController.input.json"), `{"language":"Solidity","sources":{}}`)

	store := NewStore(dir)
	art, err := store.Load("FeeController")
	require.NoError(t, err)

	assert.Equal(t, "FeeController", art.Name)
	assert.Equal(t, common.FromHex("0x6080604052"), art.Bytecode)
	assert.Equal(t, "contracts/FeeController.sol:FeeController", art.QualifiedName())
	assert.JSONEq(t, `{"language":"Solidity","sources":{}}`, string(art.StandardInput))
	assert.Contains(t, art.ABI.Methods, "setOracleID")

	again, err := store.Load("FeeController")
	require.NoError(t, err)
	assert.Same(t, art, again)

	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"FeeController"}, names)
}

func TestStore_FoundryArtifact(t *testing.T) {
	dir := t.TempDir()
	doc := `{
	  "abi": ` + feeControllerABI + `,
	  "bytecode": {"object": "0x6080604052"},
	  "metadata": {
	    "compiler": {"version": "0.8.24+commit.e11b9ed9"},
	    "settings": {"compilationTarget": {"src/FeeController.sol": "FeeController"}}
	  }
	}`
	writeFile(t, filepath.Join(dir, "FeeController.sol", "FeeController.json"), doc)

	art, err := NewStore(dir).Load("FeeController")
	require.NoError(t, err)
	assert.Equal(t, "v0.8.24+commit.e11b9ed9", art.CompilerVersion)
	assert.Equal(t, "src/FeeController.sol:FeeController", art.QualifiedName())
	assert.False(t, art.Verifiable(), "no standard input next to the artifact")
}

func TestStore_CombinedFile(t *testing.T) {
	dir := t.TempDir()
	combined, err := json.Marshal(map[string]any{
		"FeeController": map[string]any{
			"abi":      json.RawMessage(feeControllerABI),
			"bytecode": "0x6080604052",
		},
	})
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "contracts.json"), string(combined))

	art, err := NewStore(dir).Load("FeeController")
	require.NoError(t, err)
	assert.Equal(t, "FeeController", art.QualifiedName())
}

func TestStore_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Interface.json"), `{"abi":[],"bytecode":"0x"}`)
	writeFile(t, filepath.Join(dir, "Broken.json"), `{"abi":[],`)

	store := NewStore(dir)

	_, err := store.Load("Missing")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, err = store.Load("Interface")
	assert.ErrorIs(t, err, ErrInvalidArtifact)

	_, err = store.Load("Broken")
	assert.ErrorIs(t, err, ErrInvalidArtifact)

	_, err = NewStore(filepath.Join(dir, "nope")).Load("FeeController")
	assert.Error(t, err)
}

func loadTestArtifact(t *testing.T) *Artifact {
	t.Helper()
	art, err := parse("FeeController", []byte(hardhatDoc(t)))
	require.NoError(t, err)
	return art
}

func TestInitCode(t *testing.T) {
	art := loadTestArtifact(t)

	args := []any{testOracle, []any{500, "1000"}, testOwner}
	code, err := art.InitCode(args)
	require.NoError(t, err)

	packed, err := art.ABI.Constructor.Inputs.Pack(
		common.HexToAddress(testOracle),
		[]*big.Int{big.NewInt(500), big.NewInt(1000)},
		common.HexToAddress(testOwner),
	)
	require.NoError(t, err)
	assert.Equal(t, append(common.FromHex("0x6080604052"), packed...), code)

	again, err := art.InitCode(args)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(code), crypto.Keccak256Hash(again), "encoding is deterministic")
}

func TestInitCode_ArgumentErrors(t *testing.T) {
	art := loadTestArtifact(t)

	tests := map[string][]any{
		"arity":           {testOracle},
		"bad address":     {"0x1234", []any{1}, testOwner},
		"negative uint":   {testOracle, []any{-1}, testOwner},
		"fractional uint": {testOracle, []any{1.5}, testOwner},
		"not a list":      {testOracle, 7, testOwner},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := art.InitCode(args)
			assert.ErrorIs(t, err, ErrEncoding)
		})
	}
}

func TestCallData(t *testing.T) {
	art := loadTestArtifact(t)

	id := "0x" + common.Bytes2Hex(crypto.Keccak256([]byte("ETH/USD")))
	data, err := art.CallData("setOracleID", []any{testOracle, id})
	require.NoError(t, err)
	assert.Equal(t, art.ABI.Methods["setOracleID"].ID, data[:4])
	assert.Len(t, data, 4+64)

	_, err = art.CallData("setOracleID", []any{testOracle, "0x1234"})
	assert.ErrorIs(t, err, ErrEncoding, "bytes32 needs exactly 32 bytes")

	_, err = art.CallData("missing", nil)
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestCallData_Tuple(t *testing.T) {
	art := loadTestArtifact(t)

	byName, err := art.CallData("configure", []any{map[string]any{
		"vault":      testOwner,
		"percentage": 8500,
		"enabled":    "true",
	}})
	require.NoError(t, err)

	positional, err := art.CallData("configure", []any{[]any{testOwner, 8500, true}})
	require.NoError(t, err)
	assert.Equal(t, byName, positional)

	_, err = art.CallData("configure", []any{map[string]any{"vault": testOwner, "percentage": 70000, "enabled": true}})
	assert.ErrorIs(t, err, ErrEncoding, "uint16 overflow")
}

func TestConvert_Integers(t *testing.T) {
	art := loadTestArtifact(t)
	inputs := art.ABI.Methods["configure"].Inputs[0].Type.TupleElems

	v, err := convert(*inputs[1], "0x10")
	require.NoError(t, err)
	assert.Equal(t, uint16(16), v)

	v, err = convert(*inputs[1], json.Number("42"))
	require.NoError(t, err)
	assert.Equal(t, uint16(42), v)
}
