// cmd/approve/approve.go

package approve

import (
	"errors"
	"fmt"

	"github.com/fulcrumsec/tenantctl/pkg/approval"
	"github.com/fulcrumsec/tenantctl/pkg/settings"
	"github.com/fulcrumsec/tenantctl/pkg/state"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_cli"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_err"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_io"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	deploymentID string
	approver     string
	reject       bool
)

// ApproveCmd records one approval (or rejection) on a pending deployment.
var ApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Record an approval for a pending deployment",
	Long: `Record one approval on a deployment that is awaiting its gate. The
identity passed with --as is taken as already authenticated; identity
verification is the caller's responsibility.

The same identity approving twice is counted once. Once enough distinct
identities have approved, re-running apply with --deployment-id proceeds.

EXAMPLES:
  tenantctl approve --deployment-id 20260830T101500Z-1a2b3c4d --as alice@example.com
  tenantctl approve --deployment-id 20260830T101500Z-1a2b3c4d --as bob@example.com --reject`,
	RunE: tenant_cli.Wrap(runApprove),
}

func init() {
	ApproveCmd.Flags().StringVar(&deploymentID, "deployment-id", "", "deployment awaiting approval")
	ApproveCmd.Flags().StringVar(&approver, "as", "", "authenticated approver identity")
	ApproveCmd.Flags().BoolVar(&reject, "reject", false, "reject the deployment instead of approving")
	_ = ApproveCmd.MarkFlagRequired("deployment-id")
	_ = ApproveCmd.MarkFlagRequired("as")
}

func runApprove(rc *tenant_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	cfg, err := settings.Load()
	if err != nil {
		return err
	}
	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return err
	}

	rec, err := recordDecision(store, deploymentID, approver, reject)
	if err != nil {
		return err
	}

	rc.Log.Info("Approval recorded",
		zap.String("deployment_id", deploymentID),
		zap.String("approver", approver),
		zap.String("state", string(rec.State)))

	out := cmd.OutOrStdout()
	switch rec.State {
	case approval.StateApproved:
		fmt.Fprintf(out, "Deployment %s is approved (%d of %d).\n",
			deploymentID, len(rec.ReceivedApprovals), rec.RequiredApprovals)
	case approval.StateRejected:
		fmt.Fprintf(out, "Deployment %s was rejected by %s.\n", deploymentID, rec.RejectedBy)
	default:
		fmt.Fprintf(out, "Deployment %s now has %d of %d approvals.\n",
			deploymentID, len(rec.ReceivedApprovals), rec.RequiredApprovals)
	}
	return nil
}

// recordDecision applies one approval decision to the persisted record. The
// whole load-mutate-save sequence runs under the deployment lock, so two
// approve processes can never both read the same record version and the
// threshold is crossed by exactly one submission.
func recordDecision(store *state.Store, id, identity string, rejecting bool) (approval.Record, error) {
	release, err := store.AcquireLock(id)
	if err != nil {
		if errors.Is(err, state.ErrLocked) {
			return approval.Record{}, tenant_err.NewApprovalError(
				fmt.Sprintf("another operation holds the lock for deployment %s; re-run approve", id), err)
		}
		return approval.Record{}, err
	}
	defer release()

	var loaded approval.Record
	if err := store.LoadJSON(state.CategoryApprovals, id, &loaded); err != nil {
		return approval.Record{}, tenant_err.NewApprovalError(
			fmt.Sprintf("no approval record found for deployment %s", id), err)
	}

	gate := approval.Resume(loaded)
	var rec approval.Record
	if rejecting {
		rec, err = gate.Reject(identity)
	} else {
		rec, err = gate.Submit(identity)
	}
	if err != nil {
		return rec, tenant_err.NewApprovalError(
			fmt.Sprintf("approval not recorded for deployment %s", id), err)
	}

	if err := store.SaveJSON(state.CategoryApprovals, id, rec); err != nil {
		return rec, err
	}
	return rec, nil
}
