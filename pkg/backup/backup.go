// pkg/backup/backup.go
//
// Restore points: a snapshot of current remote state for every item a plan
// will touch, taken immediately before apply. Restore replays snapshots in
// reverse deployment order so dependents are removed or reverted before the
// things they depend on. The remote service has no transactions; this is a
// compensating replay, and partial restoration is a first-class outcome.

package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulcrumsec/tenantctl/pkg/config"
	"github.com/fulcrumsec/tenantctl/pkg/directory"
	"github.com/fulcrumsec/tenantctl/pkg/state"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ItemSnapshot is the prior remote state of one (kind, name) key. Absent
// means the object did not exist when the snapshot was taken; restoring it
// deletes whatever apply created.
type ItemSnapshot struct {
	Kind     config.Kind        `json:"kind"`
	Name     string             `json:"name"`
	Absent   bool               `json:"absent"`
	Document directory.Document `json:"document,omitempty"`
}

func (s ItemSnapshot) Ref() config.Ref {
	return config.Ref{Kind: s.Kind, Name: s.Name}
}

// RestorePoint is immutable once written; a deployment has at most one.
type RestorePoint struct {
	DeploymentID string         `json:"deploymentId"`
	Timestamp    time.Time      `json:"timestamp"`
	Snapshots    []ItemSnapshot `json:"snapshots"`
}

// RestoreFailure records one item that could not be restored.
type RestoreFailure struct {
	Item   config.Ref `json:"item"`
	Reason string     `json:"reason"`
}

// RestoreReport is the outcome of a restore pass. Failures never abort the
// pass; they are aggregated and surfaced.
type RestoreReport struct {
	DeploymentID string           `json:"deploymentId"`
	Restored     []config.Ref     `json:"restored"`
	Failures     []RestoreFailure `json:"failures"`
}

// Complete reports whether every snapshotted item was restored.
func (r *RestoreReport) Complete() bool {
	return len(r.Failures) == 0
}

// Err aggregates per-item failures into one error, nil when complete.
func (r *RestoreReport) Err() error {
	var merr *multierror.Error
	for _, f := range r.Failures {
		merr = multierror.Append(merr, fmt.Errorf("restore %s: %s", f.Item, f.Reason))
	}
	return merr.ErrorOrNil()
}

// Manager owns restore points.
type Manager struct {
	client    directory.Client
	store     *state.Store
	retention time.Duration
}

// NewManager returns a backup manager. Retention bounds how long restore
// points are kept; zero disables pruning.
func NewManager(client directory.Client, store *state.Store, retention time.Duration) *Manager {
	return &Manager{client: client, store: store, retention: retention}
}

// Snapshot reads current remote state for every planned item, in plan
// order, and persists the restore point before returning it. Failing to
// read any single item fails the whole snapshot: an incomplete restore
// point is worse than none.
func (m *Manager) Snapshot(ctx context.Context, deploymentID string, plan []config.Ref) (*RestorePoint, error) {
	logger := otelzap.Ctx(ctx)
	logger.Info("Capturing restore point",
		zap.String("deployment_id", deploymentID),
		zap.Int("items", len(plan)))

	rp := &RestorePoint{
		DeploymentID: deploymentID,
		Timestamp:    time.Now().UTC(),
		Snapshots:    make([]ItemSnapshot, 0, len(plan)),
	}

	for _, ref := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := m.client.Get(ctx, ref.Kind, ref.Name)
		switch {
		case errors.Is(err, directory.ErrNotFound):
			rp.Snapshots = append(rp.Snapshots, ItemSnapshot{Kind: ref.Kind, Name: ref.Name, Absent: true})
		case err != nil:
			return nil, fmt.Errorf("snapshotting %s: %w", ref, err)
		default:
			rp.Snapshots = append(rp.Snapshots, ItemSnapshot{Kind: ref.Kind, Name: ref.Name, Document: doc})
		}
	}

	if err := m.store.SaveJSON(state.CategoryRestorePoints, deploymentID, rp); err != nil {
		return nil, fmt.Errorf("persisting restore point: %w", err)
	}

	logger.Info("Restore point captured", zap.String("deployment_id", deploymentID))
	return rp, nil
}

// Load returns the restore point for a deployment id.
func (m *Manager) Load(deploymentID string) (*RestorePoint, error) {
	var rp RestorePoint
	if err := m.store.LoadJSON(state.CategoryRestorePoints, deploymentID, &rp); err != nil {
		return nil, fmt.Errorf("loading restore point for %s: %w", deploymentID, err)
	}
	return &rp, nil
}

// Restore replays the restore point in reverse deployment order returning a
// best-effort report: one item failing is recorded and the pass continues.
func (m *Manager) Restore(ctx context.Context, rp *RestorePoint) *RestoreReport {
	logger := otelzap.Ctx(ctx)
	logger.Info("Restoring prior remote state",
		zap.String("deployment_id", rp.DeploymentID),
		zap.Int("items", len(rp.Snapshots)))

	report := &RestoreReport{DeploymentID: rp.DeploymentID}

	for i := len(rp.Snapshots) - 1; i >= 0; i-- {
		snap := rp.Snapshots[i]
		if err := ctx.Err(); err != nil {
			report.Failures = append(report.Failures, RestoreFailure{Item: snap.Ref(), Reason: err.Error()})
			continue
		}

		var err error
		if snap.Absent {
			err = m.client.Delete(ctx, snap.Kind, snap.Name)
			if errors.Is(err, directory.ErrNotFound) {
				err = nil
			}
		} else {
			_, err = m.client.CreateOrUpdate(ctx, snap.Kind, snap.Name, snap.Document)
		}

		if err != nil {
			logger.Error("Restore failed for item",
				zap.String("item", snap.Ref().String()),
				zap.Error(err))
			report.Failures = append(report.Failures, RestoreFailure{Item: snap.Ref(), Reason: err.Error()})
			continue
		}
		report.Restored = append(report.Restored, snap.Ref())
	}

	logger.Info("Restore pass finished",
		zap.String("deployment_id", rp.DeploymentID),
		zap.Int("restored", len(report.Restored)),
		zap.Int("failures", len(report.Failures)))
	return report
}

// Prune removes restore points older than the retention window and returns
// how many were removed.
func (m *Manager) Prune(now time.Time) (int, error) {
	if m.retention <= 0 {
		return 0, nil
	}

	ids, err := m.store.List(state.CategoryRestorePoints)
	if err != nil {
		return 0, fmt.Errorf("listing restore points: %w", err)
	}

	pruned := 0
	for _, id := range ids {
		var rp RestorePoint
		if err := m.store.LoadJSON(state.CategoryRestorePoints, id, &rp); err != nil {
			continue
		}
		if now.Sub(rp.Timestamp) > m.retention {
			if err := m.store.Delete(state.CategoryRestorePoints, id); err != nil {
				return pruned, fmt.Errorf("pruning restore point %s: %w", id, err)
			}
			pruned++
		}
	}
	return pruned, nil
}
