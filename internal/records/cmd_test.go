package records

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/deploykit/internal/registry"
)

func TestRender(t *testing.T) {
	recs := []registry.Record{{
		Network:         "devnet",
		Node:            "Oracle",
		Artifact:        "PriceOracle",
		Address:         common.HexToAddress("0xa1"),
		Args:            []any{"0x01"},
		TransactionHash: common.HexToHash("0xbeef"),
		Block:           12,
		Timestamp:       time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}}

	var table bytes.Buffer
	require.NoError(t, Render(&table, "table", recs))
	assert.Contains(t, table.String(), common.HexToAddress("0xa1").Hex())
	assert.Contains(t, table.String(), "Oracle")

	var doc bytes.Buffer
	require.NoError(t, Render(&doc, "json", recs))
	var parsed []map[string]any
	require.NoError(t, json.Unmarshal(doc.Bytes(), &parsed))
	require.Len(t, parsed, 1)
	assert.Equal(t, "Oracle", parsed[0]["node"])
	assert.EqualValues(t, 12, parsed[0]["blockNumber"])

	doc.Reset()
	require.NoError(t, Render(&doc, "json", nil))
	assert.JSONEq(t, "[]", doc.String())

	assert.Error(t, Render(&doc, "xml", recs))
}
