/* cmd/root.go */

package cmd

import (
	"os"

	"github.com/fulcrumsec/tenantctl/cmd/apply"
	"github.com/fulcrumsec/tenantctl/cmd/approve"
	"github.com/fulcrumsec/tenantctl/cmd/history"
	"github.com/fulcrumsec/tenantctl/cmd/plan"
	"github.com/fulcrumsec/tenantctl/cmd/rollback"
	"github.com/fulcrumsec/tenantctl/pkg/logger"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_err"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd is the base command for tenantctl.
var RootCmd = &cobra.Command{
	Use:   "tenantctl",
	Short: "Deploy declarative identity and access configuration into a directory tenant",
	Long: `tenantctl deploys declarative identity/access configuration (security
groups, trusted network locations, access policies, app registrations, SSO
integrations) into a remote directory tenant.

Configuration items may reference each other with {{Kind:Name}} placeholders;
tenantctl resolves the dependency graph, validates safety invariants (including
break-glass exclusions), enforces per-environment approval gates, snapshots
remote state before mutating anything, and rolls back automatically when an
apply fails partway.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// RegisterCommands adds all subcommands to the root command.
func RegisterCommands() {
	RootCmd.AddCommand(
		plan.PlanCmd,
		apply.ApplyCmd,
		approve.ApproveCmd,
		rollback.RollbackCmd,
		history.HistoryCmd,
	)
}

// Execute runs the CLI and exits with the classified code for any failure.
func Execute() {
	RegisterCommands()

	if err := RootCmd.Execute(); err != nil {
		log := logger.GetLogger()
		log.Error("tenantctl failed", zap.Error(err))
		logger.SafeSync()
		os.Exit(tenant_err.GetExitCode(err))
	}
	logger.SafeSync()
}
