// cmd/rollback/rollback.go

package rollback

import (
	"fmt"

	"github.com/fulcrumsec/tenantctl/pkg/engine"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_cli"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_io"
	"github.com/spf13/cobra"
)

var (
	environment  string
	configPath   string
	dryRun       bool
	deploymentID string
)

// RollbackCmd restores the restore point captured for a past deployment.
var RollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the tenant to a deployment's restore point",
	Long: `Replay the restore point captured before a deployment, in reverse
deployment order: items that did not exist beforehand are deleted, the rest
are overwritten with their prior documents.

Restore is best-effort: a failure on one item is recorded and restoration
continues. An incomplete restore exits non-zero and lists every item that
needs manual reconciliation.

WARNING: rollback overwrites remote changes made after the restore point was
captured, including changes made by a third party in the meantime.

EXAMPLES:
  tenantctl rollback --environment prod --config-path ./config \
      --deployment-id 20260830T101500Z-1a2b3c4d`,
	RunE: tenant_cli.Wrap(runRollback),
}

func init() {
	RollbackCmd.Flags().StringVar(&environment, "environment", "", "target environment: dev, staging or prod")
	RollbackCmd.Flags().StringVar(&configPath, "config-path", "", "directory holding configuration item files")
	RollbackCmd.Flags().BoolVar(&dryRun, "dry-run", false, "restore against an in-memory tenant; no remote calls")
	RollbackCmd.Flags().StringVar(&deploymentID, "deployment-id", "", "deployment whose restore point to replay")
	_ = RollbackCmd.MarkFlagRequired("environment")
	_ = RollbackCmd.MarkFlagRequired("deployment-id")
}

func runRollback(rc *tenant_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	eng, err := engine.Build(rc, engine.Inputs{
		Environment: environment,
		ConfigPath:  configPath,
		DryRun:      dryRun,
	})
	if err != nil {
		return err
	}

	record, err := eng.Orchestrator.Rollback(rc.Ctx, deploymentID)
	if record != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Rollback of %s finished with outcome %s.\n",
			record.DeploymentID, record.Outcome)
		for _, warning := range record.Warnings {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", warning)
		}
	}
	return err
}
