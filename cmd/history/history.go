// cmd/history/history.go

package history

import (
	"encoding/json"
	"fmt"

	"github.com/fulcrumsec/tenantctl/pkg/deploy"
	"github.com/fulcrumsec/tenantctl/pkg/settings"
	"github.com/fulcrumsec/tenantctl/pkg/state"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_cli"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_io"
	"github.com/spf13/cobra"
)

var asJSON bool

// HistoryCmd lists finalized deployment records from the audit log.
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past deployment attempts",
	Long: `Read the append-only deployment audit log and print every finalized
attempt, oldest first.

EXAMPLES:
  tenantctl history
  tenantctl history --json`,
	RunE: tenant_cli.Wrap(runHistory),
}

func init() {
	HistoryCmd.Flags().BoolVar(&asJSON, "json", false, "emit raw JSON records")
}

func runHistory(rc *tenant_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	cfg, err := settings.Load()
	if err != nil {
		return err
	}
	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return err
	}

	lines, err := store.ReadLog("deployments")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(lines) == 0 {
		fmt.Fprintln(out, "No deployments recorded.")
		return nil
	}

	for _, line := range lines {
		if asJSON {
			fmt.Fprintln(out, string(line))
			continue
		}
		var rec deploy.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decoding audit log entry: %w", err)
		}
		applied := 0
		for _, r := range rec.Results {
			if r.Status == deploy.ItemApplied {
				applied++
			}
		}
		fmt.Fprintf(out, "%s  %-8s  %-15s  %d/%d items applied, %d warnings\n",
			rec.DeploymentID, rec.Environment, rec.Outcome, applied, len(rec.Plan), len(rec.Warnings))
	}
	return nil
}
