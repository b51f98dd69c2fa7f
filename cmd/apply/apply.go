// cmd/apply/apply.go

package apply

import (
	"fmt"
	"os"

	"github.com/fulcrumsec/tenantctl/pkg/approval"
	"github.com/fulcrumsec/tenantctl/pkg/engine"
	"github.com/fulcrumsec/tenantctl/pkg/state"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_cli"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_err"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_io"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	environment  string
	configPath   string
	dryRun       bool
	deploymentID string
	approveAs    []string
)

// ApplyCmd runs the full deployment pipeline.
var ApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Deploy the configuration into the tenant",
	Long: `Run the full pipeline: plan, validate, approval gate, backup, apply,
verify, record.

Apply halts on the first failed item and automatically restores the
pre-deployment snapshot. Approvals are per-environment: dev deployments are
auto-approved, staging needs one approver, prod needs two distinct approvers.

Approver identities are taken as already authenticated; supply them with
--approve-as, or run 'tenantctl approve' separately and re-run apply with
--deployment-id.

EXAMPLES:
  tenantctl apply --environment dev --config-path ./config
  tenantctl apply --environment prod --config-path ./config \
      --approve-as alice@example.com --approve-as bob@example.com
  tenantctl apply --environment staging --config-path ./config --dry-run`,
	RunE: tenant_cli.Wrap(runApply),
}

func init() {
	ApplyCmd.Flags().StringVar(&environment, "environment", "", "target environment: dev, staging or prod")
	ApplyCmd.Flags().StringVar(&configPath, "config-path", "", "directory holding configuration item files")
	ApplyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "apply against an in-memory tenant; no remote calls")
	ApplyCmd.Flags().StringVar(&deploymentID, "deployment-id", "", "resume a deployment that was awaiting approval")
	ApplyCmd.Flags().StringArrayVar(&approveAs, "approve-as", nil, "authenticated approver identity (repeatable)")
	_ = ApplyCmd.MarkFlagRequired("environment")
	_ = ApplyCmd.MarkFlagRequired("config-path")
}

func runApply(rc *tenant_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	eng, err := engine.Build(rc, engine.Inputs{
		Environment: environment,
		ConfigPath:  configPath,
		DryRun:      dryRun,
	})
	if err != nil {
		return err
	}

	p, err := eng.Orchestrator.Plan(rc.Ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, issue := range p.Report.Warnings {
		fmt.Fprintf(out, "warning: %s\n", issue)
	}
	if p.Report.HasErrors() {
		for _, issue := range p.Report.Errors {
			fmt.Fprintf(out, "error: %s\n", issue)
		}
		return tenant_err.NewValidationError(
			fmt.Sprintf("plan has %d hard validation errors; nothing was deployed", len(p.Report.Errors)))
	}

	// A resumed attempt keeps its original id so the approval record, the
	// restore point and the deployment record all line up.
	if deploymentID != "" {
		p.DeploymentID = deploymentID
	}

	gate, err := openGate(rc, eng, p.DeploymentID)
	if err != nil {
		return err
	}

	for _, approver := range approveAs {
		if _, err := gate.Submit(approver); err != nil {
			rc.Log.Warn("Approval submission not recorded",
				zap.String("approver", approver),
				zap.Error(err))
		}
	}

	rec := gate.Record()
	if err := eng.Store.SaveJSON(state.CategoryApprovals, rec.DeploymentID, rec); err != nil {
		return err
	}

	if rec.State != approval.StateApproved {
		fmt.Fprintf(out, "Deployment %s is awaiting approval: %d of %d received.\n",
			rec.DeploymentID, len(rec.ReceivedApprovals), rec.RequiredApprovals)
		fmt.Fprintf(out, "Approve with: tenantctl approve --deployment-id %s --as <identity>\n", rec.DeploymentID)
		fmt.Fprintf(out, "Then re-run apply with --deployment-id %s\n", rec.DeploymentID)
		return tenant_err.NewApprovalError(
			fmt.Sprintf("deployment %s is awaiting approval", rec.DeploymentID), nil)
	}

	record, err := eng.Orchestrator.Apply(rc.Ctx, p, gate)
	if record != nil {
		fmt.Fprintf(out, "Deployment %s finished with outcome %s.\n", record.DeploymentID, record.Outcome)
		for _, warning := range record.Warnings {
			fmt.Fprintf(out, "warning: %s\n", warning)
		}
	}
	return err
}

// openGate creates the gate for a fresh attempt, or resumes the persisted
// record when --deployment-id points at a pending one.
func openGate(rc *tenant_io.RuntimeContext, eng *engine.Engine, attemptID string) (*approval.Gate, error) {
	if deploymentID != "" {
		var rec approval.Record
		err := eng.Store.LoadJSON(state.CategoryApprovals, deploymentID, &rec)
		if err == nil {
			rc.Log.Info("Resuming persisted approval record",
				zap.String("deployment_id", deploymentID),
				zap.String("state", string(rec.State)))
			return approval.Resume(rec), nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
		return nil, tenant_err.NewApprovalError(
			fmt.Sprintf("no approval record found for deployment %s", deploymentID), nil)
	}

	return approval.NewGate(attemptID, eng.Environment, approval.RequiredFor(eng.Environment)), nil
}
