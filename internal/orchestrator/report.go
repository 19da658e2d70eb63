package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/deploykit/internal/registry"
)

type (
	Status string

	Outcome struct {
		Node            string
		Artifact        string
		Status          Status
		Address         common.Address
		TransactionHash common.Hash
		Block           uint64
		Err             error
		// Cause names the failed prerequisite of a skipped dependent.
		Cause string
	}

	Report struct {
		RunID      string
		Network    string
		ChainID    uint64
		DryRun     bool
		StartedAt  time.Time
		FinishedAt time.Time
		// Outcomes follow the graph's topological order.
		Outcomes []Outcome

		records map[string]registry.Record
	}
)

const (
	StatusDeployed                Status = "deployed"
	StatusSkippedAlreadyPresent   Status = "skipped-already-present"
	StatusFailed                  Status = "failed"
	StatusSkippedDependencyFailed Status = "skipped-dependency-failed"
	StatusPlanned                 Status = "planned"
	StatusNotStarted              Status = "not-started"
)

func (r *Report) Outcome(node string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Node == node {
			return o, true
		}
	}
	return Outcome{}, false
}

// Records maps every node that has an output after the run (deployed,
// already present or planned) to its record.
func (r *Report) Records() map[string]registry.Record {
	out := make(map[string]registry.Record, len(r.records))
	for k, v := range r.records {
		out[k] = v
	}
	return out
}

func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Succeeded reports whether every node ended deployed, present or planned.
func (r *Report) Succeeded() bool {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusDeployed, StatusSkippedAlreadyPresent, StatusPlanned:
		default:
			return false
		}
	}
	return true
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	type view struct {
		Node            string `json:"node"`
		Artifact        string `json:"artifact"`
		Status          Status `json:"status"`
		Address         string `json:"address,omitempty"`
		TransactionHash string `json:"transactionHash,omitempty"`
		Block           uint64 `json:"blockNumber,omitempty"`
		Error           string `json:"error,omitempty"`
		Cause           string `json:"cause,omitempty"`
	}

	v := view{
		Node:     o.Node,
		Artifact: o.Artifact,
		Status:   o.Status,
		Block:    o.Block,
		Cause:    o.Cause,
	}
	if o.Address != (common.Address{}) {
		v.Address = o.Address.Hex()
	}
	if o.TransactionHash != (common.Hash{}) {
		v.TransactionHash = o.TransactionHash.Hex()
	}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}

	return json.Marshal(v)
}

func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RunID      string    `json:"runId"`
		Network    string    `json:"network"`
		ChainID    uint64    `json:"chainId"`
		DryRun     bool      `json:"dryRun"`
		StartedAt  time.Time `json:"startedAt"`
		FinishedAt time.Time `json:"finishedAt"`
		Outcomes   []Outcome `json:"outcomes"`
	}{r.RunID, r.Network, r.ChainID, r.DryRun, r.StartedAt, r.FinishedAt, r.Outcomes})
}
