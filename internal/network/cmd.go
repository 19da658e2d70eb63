package network

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/compose-network/deploykit/configs"
)

var CMD = &cobra.Command{
	Use:   "networks",
	Short: "List the networks deployments can target",
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := Load(configs.Values.NetworksFile)
		if err != nil {
			return err
		}
		return table.Render(cmd.OutOrStdout())
	},
}

// Render prints one row per network, sorted by name.
func (t *Table) Render(w io.Writer) error {
	out := tablewriter.NewWriter(w)
	out.Header("Name", "Chain ID", "Confirmations", "Local", "Salt", "Explorer")

	for _, name := range t.Names() {
		cfg := t.byName[name]
		row := []string{
			cfg.Name,
			strconv.FormatUint(cfg.ChainID, 10),
			strconv.FormatUint(cfg.Confirmations, 10),
			strconv.FormatBool(cfg.Local),
			cfg.DeploymentSalt.Hex(),
			cfg.Explorer.BrowserURL,
		}
		if err := out.Append(row); err != nil {
			return fmt.Errorf("failed to render network table: %w", err)
		}
	}

	return out.Render()
}
