// Package records exposes the deployment registry on the command line.
package records

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/compose-network/deploykit/configs"
	"github.com/compose-network/deploykit/internal/flags"
	"github.com/compose-network/deploykit/internal/registry"
)

var (
	CMD = &cobra.Command{
		Use:   "records",
		Short: "Inspect and edit the deployment registry",
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List recorded deployments of a network",
		RunE: func(cmd *cobra.Command, args []string) error {
			network, _ := cmd.Flags().GetString("network")
			output, _ := cmd.Flags().GetString("output")

			reg, err := open()
			if err != nil {
				return err
			}
			defer reg.Close()

			recs, err := reg.List(cmd.Context(), network)
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}

			return Render(cmd.OutOrStdout(), output, recs)
		},
	}

	forgetCmd = &cobra.Command{
		Use:   "forget <node>...",
		Short: "Remove records so the next run deploys or re-adopts those nodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network, _ := cmd.Flags().GetString("network")

			reg, err := open()
			if err != nil {
				return err
			}
			defer reg.Close()

			for _, node := range args {
				if err := reg.Forget(cmd.Context(), network, node); err != nil {
					return fmt.Errorf("failed to forget %s: %w", node, err)
				}
				slog.With("network", network, "node", node).Info("record removed")
			}

			return nil
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{listCmd, forgetCmd} {
		flags.MustDeclare(cmd.Flags(), []flags.Def[string]{{Name: "network", Description: "Network name"}})
		_ = cmd.MarkFlagRequired("network")
	}
	flags.MustDeclare(listCmd.Flags(), []flags.Def[string]{{Name: "output", DefaultValue: "table", Description: "Output format (table or json)"}})

	CMD.AddCommand(listCmd)
	CMD.AddCommand(forgetCmd)
}

func open() (registry.Registry, error) {
	if err := configs.Values.ValidateRegistry(); err != nil {
		return nil, err
	}

	reg, err := registry.Open(string(configs.Values.Registry.Backend), configs.Values.RegistryLocation())
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	return reg, nil
}

// Render prints records as a table or as a JSON array.
func Render(w io.Writer, format string, recs []registry.Record) error {
	switch strings.ToLower(format) {
	case "json":
		if recs == nil {
			recs = []registry.Record{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Node", "Artifact", "Address", "Block", "Transaction", "Recorded")
	for _, rec := range recs {
		row := []string{
			rec.Node,
			rec.Artifact,
			rec.Address.Hex(),
			strconv.FormatUint(rec.Block, 10),
			rec.TransactionHash.Hex(),
			rec.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to render records: %w", err)
		}
	}

	return table.Render()
}
