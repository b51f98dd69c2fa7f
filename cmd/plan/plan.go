// cmd/plan/plan.go

package plan

import (
	"fmt"

	"github.com/fulcrumsec/tenantctl/pkg/engine"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_cli"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_err"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_io"
	"github.com/spf13/cobra"
)

var (
	environment string
	configPath  string
	dryRun      bool
)

// PlanCmd builds and prints the deployment plan without mutating anything.
var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build and validate the deployment plan",
	Long: `Load the configuration items, build the dependency graph, and print the
deterministic deployment order with its waves and every validation finding.

Planning never contacts the tenant; it is always safe to run.

EXAMPLES:
  tenantctl plan --environment staging --config-path ./config
  tenantctl plan --environment prod --config-path ./config --dry-run`,
	RunE: tenant_cli.Wrap(runPlan),
}

func init() {
	PlanCmd.Flags().StringVar(&environment, "environment", "", "target environment: dev, staging or prod")
	PlanCmd.Flags().StringVar(&configPath, "config-path", "", "directory holding configuration item files")
	PlanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "accepted for symmetry with apply; plan never mutates")
	_ = PlanCmd.MarkFlagRequired("environment")
	_ = PlanCmd.MarkFlagRequired("config-path")
}

func runPlan(rc *tenant_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	eng, err := engine.Build(rc, engine.Inputs{
		Environment: environment,
		ConfigPath:  configPath,
		DryRun:      true, // plan never needs a live client
	})
	if err != nil {
		return err
	}

	p, err := eng.Orchestrator.Plan(rc.Ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Deployment plan %s (environment %s)\n", p.DeploymentID, p.Environment)
	fmt.Fprintf(out, "%d items in %d waves:\n", len(p.Order), len(p.Waves))
	for wi, wave := range p.Waves {
		fmt.Fprintf(out, "  wave %d:\n", wi+1)
		for _, ref := range wave {
			fmt.Fprintf(out, "    %s\n", ref)
		}
	}

	for _, issue := range p.Report.Warnings {
		fmt.Fprintf(out, "warning: %s\n", issue)
	}
	for _, issue := range p.Report.Errors {
		fmt.Fprintf(out, "error: %s\n", issue)
	}

	if p.Report.HasErrors() {
		return tenant_err.NewValidationError(
			fmt.Sprintf("plan has %d hard validation errors", len(p.Report.Errors)),
			"Fix the errors listed above; the plan is blocked until they clear")
	}

	fmt.Fprintln(out, "Plan is valid.")
	return nil
}
