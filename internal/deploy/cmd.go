package deploy

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compose-network/deploykit/configs"
	"github.com/compose-network/deploykit/internal/flags"
	"github.com/compose-network/deploykit/internal/orchestrator"
)

var (
	CMD = &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the definitions graph onto a network",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			return run(cmd, dryRun)
		},
	}

	PlanCMD = &cobra.Command{
		Use:   "plan",
		Short: "Show what deploy would do without sending transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, true)
		},
	}

	commonFlags = []flags.Def[string]{
		{Name: "network", Description: "Network name from the network table"},
		{Name: "tags", Description: "Comma separated tags; selected nodes pull in their prerequisites"},
		{Name: "output", DefaultValue: OutputTable, Description: "Report format (table or json)"},
		{Name: "report-file", Description: "Also write the JSON report to this path"},
	}

	deployFlags = []flags.Def[string]{
		{Name: "rpc-url", Description: "RPC endpoint, overrides rpc.<network>"},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{CMD, PlanCMD} {
		flags.MustDeclare(cmd.Flags(), commonFlags)
		_ = cmd.MarkFlagRequired("network")
	}
	flags.MustDeclare(CMD.Flags(), deployFlags)
	flags.MustDeclare(CMD.Flags(), []flags.Def[bool]{{Name: "dry-run", Description: "Plan only, same as the plan command"}})
}

func run(cmd *cobra.Command, dryRun bool) error {
	fs := cmd.Flags()
	opts := Options{DryRun: dryRun}
	opts.Network, _ = fs.GetString("network")
	opts.ReportFile, _ = fs.GetString("report-file")
	if fs.Lookup("rpc-url") != nil {
		opts.RPCURL, _ = fs.GetString("rpc-url")
	}
	tags, _ := fs.GetString("tags")
	opts.Tags = splitTags(tags)
	output, _ := fs.GetString("output")

	if err := validate(configs.Values, dryRun); err != nil {
		return err
	}

	slog.With("network", opts.Network, "tags", opts.Tags, "dry_run", dryRun).Info("starting deployment command")

	res, err := NewService(configs.Values).Run(cmd.Context(), opts)
	if res != nil && res.Report != nil {
		if renderErr := Render(cmd.OutOrStdout(), output, res); renderErr != nil {
			return errors.Join(err, renderErr)
		}
	}
	if err != nil {
		return fmt.Errorf("deployment run failed: %w", err)
	}

	if !res.Report.Succeeded() {
		return fmt.Errorf("%d of %d nodes did not complete", len(res.Report.Outcomes)-completed(res), len(res.Report.Outcomes))
	}

	return nil
}

func validate(cfg configs.Config, dryRun bool) error {
	if !dryRun {
		return cfg.ValidateDeploy()
	}

	var errs []error
	if cfg.Definitions == "" {
		errs = append(errs, errors.New("definitions is required"))
	}
	if cfg.ArtifactsDir == "" {
		errs = append(errs, errors.New("artifacts-dir is required"))
	}
	if err := cfg.ValidateRegistry(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("plan configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func completed(res *Result) int {
	counts := res.Report.Counts()
	return counts[orchestrator.StatusDeployed] + counts[orchestrator.StatusSkippedAlreadyPresent] + counts[orchestrator.StatusPlanned]
}

func splitTags(s string) []string {
	var tags []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
