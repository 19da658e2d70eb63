package deploy

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"github.com/compose-network/deploykit/internal/orchestrator"
	"github.com/compose-network/deploykit/internal/verify"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// Render writes the result in the requested format.
func Render(w io.Writer, format string, res *Result) error {
	switch strings.ToLower(format) {
	case OutputJSON:
		return renderJSON(w, res)
	case OutputTable, "":
		return renderTable(w, res)
	default:
		return fmt.Errorf("unknown output format %q, expected %s or %s", format, OutputTable, OutputJSON)
	}
}

func renderJSON(w io.Writer, res *Result) error {
	type verification struct {
		Node     string `json:"node"`
		Address  string `json:"address"`
		Status   string `json:"status"`
		Attempts int    `json:"attempts"`
		Error    string `json:"error,omitempty"`
	}

	doc := struct {
		Report        *orchestrator.Report `json:"report"`
		Verifications []verification       `json:"verifications,omitempty"`
	}{Report: res.Report}

	for _, v := range res.Verifications {
		entry := verification{Node: v.Node, Address: v.Address.Hex(), Status: string(v.Status), Attempts: v.Attempts}
		if v.Err != nil {
			entry.Error = v.Err.Error()
		}
		doc.Verifications = append(doc.Verifications, entry)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func renderTable(w io.Writer, res *Result) error {
	report := res.Report
	mode := "deploy"
	if report.DryRun {
		mode = "plan"
	}
	if _, err := fmt.Fprintf(w, "%s on %s (chain %d), run %s\n", mode, report.Network, report.ChainID, report.RunID); err != nil {
		return err
	}

	verified := make(map[string]verify.Result, len(res.Verifications))
	for _, v := range res.Verifications {
		verified[v.Node] = v
	}

	table := tablewriter.NewWriter(w)
	header := []any{"Node", "Artifact", "Status", "Address", "Block", "Detail"}
	if len(verified) > 0 {
		header = append(header, "Verification")
	}
	table.Header(header...)

	for _, o := range report.Outcomes {
		row := []string{o.Node, o.Artifact, string(o.Status), address(o.Address), block(o.Block), detail(o)}
		if len(verified) > 0 {
			row = append(row, string(verified[o.Node].Status))
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to render report: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	counts := report.Counts()
	_, err := fmt.Fprintf(w, "deployed=%d present=%d planned=%d failed=%d skipped=%d not-started=%d\n",
		counts[orchestrator.StatusDeployed],
		counts[orchestrator.StatusSkippedAlreadyPresent],
		counts[orchestrator.StatusPlanned],
		counts[orchestrator.StatusFailed],
		counts[orchestrator.StatusSkippedDependencyFailed],
		counts[orchestrator.StatusNotStarted],
	)
	return err
}

func address(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func block(b uint64) string {
	if b == 0 {
		return ""
	}
	return strconv.FormatUint(b, 10)
}

func detail(o orchestrator.Outcome) string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.Cause != "":
		return "prerequisite " + o.Cause + " failed"
	default:
		return ""
	}
}
