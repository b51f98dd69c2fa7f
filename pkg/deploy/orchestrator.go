// pkg/deploy/orchestrator.go
//
// Top-level deployment driver: plan -> validate -> gate -> backup -> apply
// -> verify -> record. Apply is strictly ordered across waves; members of
// one wave may run concurrently because the graph guarantees they carry no
// edges between them.

package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fulcrumsec/tenantctl/pkg/approval"
	"github.com/fulcrumsec/tenantctl/pkg/backup"
	"github.com/fulcrumsec/tenantctl/pkg/config"
	"github.com/fulcrumsec/tenantctl/pkg/directory"
	"github.com/fulcrumsec/tenantctl/pkg/graph"
	"github.com/fulcrumsec/tenantctl/pkg/resolve"
	"github.com/fulcrumsec/tenantctl/pkg/state"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_err"
	"github.com/fulcrumsec/tenantctl/pkg/validate"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// auditLog is the append-only JSONL log of finalized deployment records.
const auditLog = "deployments"

// Options tune one orchestrator instance.
type Options struct {
	Environment     config.Environment
	ConfigPath      string
	BreakGlassGroup string
	WorkerLimit     int
}

// Plan is the validated, ordered deployment plan for one attempt.
type Plan struct {
	DeploymentID string
	Environment  config.Environment
	Items        []*config.Item
	Graph        *graph.Graph
	Order        []config.Ref
	Waves        [][]config.Ref
	Report       *validate.Report
}

// Orchestrator sequences the engine components over one tenant.
type Orchestrator struct {
	client  directory.Client
	store   *state.Store
	backups *backup.Manager
	configs *config.Store
	engine  *validate.Engine
	opts    Options
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(client directory.Client, store *state.Store, backups *backup.Manager, opts Options) *Orchestrator {
	if opts.WorkerLimit <= 0 {
		opts.WorkerLimit = 4
	}
	return &Orchestrator{
		client:  client,
		store:   store,
		backups: backups,
		configs: config.NewStore(),
		engine:  validate.NewEngine(),
		opts:    opts,
	}
}

// Plan loads the configuration, builds the dependency graph, and validates.
// Hard validation errors do not fail Plan itself; callers inspect the report
// and must never carry an erroring plan into Apply. Load and graph failures
// are fatal here because no meaningful plan exists without them.
func (o *Orchestrator) Plan(ctx context.Context) (*Plan, error) {
	logger := otelzap.Ctx(ctx)

	items, err := o.configs.LoadAll(ctx, o.opts.ConfigPath)
	if err != nil {
		return nil, tenant_err.NewValidationError(
			fmt.Sprintf("configuration load failed: %v", err),
			"Fix the malformed files listed above and re-run")
	}

	g, err := graph.Build(items)
	if err != nil {
		return nil, tenant_err.NewGraphError(err)
	}

	report := o.engine.Validate(ctx, items, validate.Options{
		Environment:     o.opts.Environment,
		BreakGlassGroup: o.opts.BreakGlassGroup,
	})

	plan := &Plan{
		DeploymentID: NewDeploymentID(time.Now()),
		Environment:  o.opts.Environment,
		Items:        items,
		Graph:        g,
		Order:        g.Order(),
		Waves:        g.Waves(),
		Report:       report,
	}

	logger.Info("Deployment plan built",
		zap.String("deployment_id", plan.DeploymentID),
		zap.String("environment", string(plan.Environment)),
		zap.Int("items", len(items)),
		zap.Int("waves", len(plan.Waves)),
		zap.Int("validation_errors", len(report.Errors)),
		zap.Int("validation_warnings", len(report.Warnings)))

	return plan, nil
}

// Apply drives backup -> apply -> verify -> record for an approved plan.
// The first failed item halts the plan: in-flight wave members finish and
// are recorded, nothing new starts, and the restore point is replayed.
func (o *Orchestrator) Apply(ctx context.Context, plan *Plan, gate *approval.Gate) (*Record, error) {
	logger := otelzap.Ctx(ctx)

	if plan.Report.HasErrors() {
		return nil, tenant_err.NewValidationError(
			fmt.Sprintf("plan has %d hard validation errors and cannot enter the approval gate", len(plan.Report.Errors)))
	}

	switch rec := gate.Record(); rec.State {
	case approval.StateApproved:
	case approval.StateRejected:
		return nil, tenant_err.NewApprovalError(
			fmt.Sprintf("deployment %s was rejected by %s", plan.DeploymentID, rec.RejectedBy),
			approval.ErrRejected)
	default:
		return nil, tenant_err.NewApprovalError(
			fmt.Sprintf("deployment %s is awaiting approval (%d of %d received)",
				plan.DeploymentID, len(rec.ReceivedApprovals), rec.RequiredApprovals), nil)
	}

	release, err := o.store.AcquireLock(plan.DeploymentID)
	if err != nil {
		return nil, err
	}
	defer release()

	record := &Record{
		DeploymentID: plan.DeploymentID,
		Environment:  plan.Environment,
		Plan:         plan.Order,
		Outcome:      OutcomeInProgress,
		StartedAt:    time.Now().UTC(),
	}
	for _, issue := range plan.Report.Warnings {
		record.Warnings = append(record.Warnings, issue.String())
	}
	if err := o.store.SaveJSON(state.CategoryDeployments, record.DeploymentID, record); err != nil {
		return nil, err
	}

	rp, err := o.backups.Snapshot(ctx, plan.DeploymentID, plan.Order)
	if err != nil {
		record.Outcome = OutcomeFailed
		o.finalize(ctx, record)
		return record, fmt.Errorf("capturing restore point: %w", err)
	}

	rctx := resolve.NewContext()
	resolvedBodies := make(map[config.Ref]directory.Document)
	applied, failure := o.applyWaves(ctx, plan, rctx, record, resolvedBodies)

	if failure != nil {
		if applied == 0 {
			// Nothing was mutated, so there is nothing to roll back.
			record.Outcome = OutcomeFailed
			o.finalize(ctx, record)
			return record, fmt.Errorf("deployment %s failed before any item was applied: %w", record.DeploymentID, failure)
		}

		logger.Warn("Apply halted, rolling back",
			zap.String("deployment_id", record.DeploymentID),
			zap.Int("applied", applied),
			zap.Error(failure))

		// Rollback proceeds even when the failure was a cancellation; the
		// operator asked to stop deploying, not to stop compensating.
		report := o.backups.Restore(context.WithoutCancel(ctx), rp)
		if report.Complete() {
			record.Outcome = OutcomeRolledBack
			o.finalize(ctx, record)
			return record, tenant_err.NewRolledBackError(record.DeploymentID, failure)
		}
		record.Outcome = OutcomePartialFailure
		for _, f := range report.Failures {
			record.Warnings = append(record.Warnings, fmt.Sprintf("restore incomplete for %s: %s", f.Item, f.Reason))
		}
		o.finalize(ctx, record)
		return record, tenant_err.NewRestorePartialError(record.DeploymentID, report.Err())
	}

	record.Warnings = append(record.Warnings, o.verify(ctx, plan, resolvedBodies)...)
	record.Outcome = OutcomeSuccess
	o.finalize(ctx, record)

	logger.Info("Deployment completed",
		zap.String("deployment_id", record.DeploymentID),
		zap.Int("items", len(plan.Order)),
		zap.Int("drift_warnings", len(record.Warnings)))
	return record, nil
}

// applyWaves walks the waves in order. Returns how many items were applied
// and the first failure (nil on full success). Cancellation is honored
// between items and is treated exactly like a failure.
func (o *Orchestrator) applyWaves(ctx context.Context, plan *Plan, rctx *resolve.Context, record *Record, resolvedBodies map[config.Ref]directory.Document) (int, error) {
	logger := otelzap.Ctx(ctx)

	var (
		mu       sync.Mutex
		applied  int
		firstErr error
		halted   bool
	)

	markSkipped := func(from int) {
		for _, wave := range plan.Waves[from:] {
			for _, ref := range wave {
				record.Results = append(record.Results, ItemResult{Item: ref, Status: ItemSkipped})
			}
		}
	}

	for wi, wave := range plan.Waves {
		if err := ctx.Err(); err != nil {
			markSkipped(wi)
			return applied, err
		}

		logger.Debug("Applying wave",
			zap.Int("wave", wi),
			zap.Int("size", len(wave)))

		// In-flight members of a failed wave run to completion; the halted
		// flag only stops work that has not started yet.
		var g errgroup.Group
		g.SetLimit(o.opts.WorkerLimit)

		var skipped []config.Ref
		for _, ref := range wave {
			ref := ref
			g.Go(func() error {
				mu.Lock()
				if halted || ctx.Err() != nil {
					skipped = append(skipped, ref)
					mu.Unlock()
					return nil
				}
				mu.Unlock()

				result, normalized := o.applyItem(ctx, plan, ref, rctx)

				mu.Lock()
				record.Results = append(record.Results, result)
				if result.Status == ItemApplied {
					applied++
					if normalized != nil {
						resolvedBodies[ref] = normalized
					}
				} else {
					halted = true
					if firstErr == nil {
						firstErr = fmt.Errorf("applying %s: %s", ref, result.Error)
					}
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for _, ref := range skipped {
			record.Results = append(record.Results, ItemResult{Item: ref, Status: ItemSkipped})
		}

		if firstErr != nil {
			markSkipped(wi + 1)
			return applied, firstErr
		}
		if err := ctx.Err(); err != nil {
			markSkipped(wi + 1)
			return applied, err
		}
	}
	return applied, nil
}

// applyItem resolves placeholders and upserts one item. The remote call runs
// on a detached context: cancellation takes effect between items, never
// mid-call. The normalized transmitted body is returned for the caller to
// record under its own lock; this function touches no shared state besides
// the resolution context.
func (o *Orchestrator) applyItem(ctx context.Context, plan *Plan, ref config.Ref, rctx *resolve.Context) (ItemResult, directory.Document) {
	logger := otelzap.Ctx(ctx)
	item := plan.Graph.Item(ref)
	start := time.Now()

	body, err := resolve.Resolve(item, rctx)
	if err != nil {
		item.State = config.StateFailed
		return ItemResult{Item: ref, Status: ItemFailed, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	callCtx := context.WithoutCancel(ctx)
	remoteID, err := o.client.CreateOrUpdate(callCtx, item.Kind, item.Name, body)
	if err != nil {
		item.State = config.StateFailed
		logger.Error("Item apply failed",
			zap.String("item", ref.String()),
			zap.Error(err))
		return ItemResult{Item: ref, Status: ItemFailed, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	item.State = config.StateApplied
	item.RemoteID = remoteID
	rctx.MarkApplied(ref, remoteID)

	// Verify compares against the exact resolved body that was transmitted.
	normalized, nerr := normalizeDoc(body)
	if nerr != nil {
		normalized = nil
	}

	logger.Info("Item applied",
		zap.String("item", ref.String()),
		zap.String("remote_id", remoteID),
		zap.Duration("duration", time.Since(start)))
	return ItemResult{Item: ref, Status: ItemApplied, RemoteID: remoteID, Duration: time.Since(start)}, normalized
}

// verify re-reads every applied item and compares the fields this system
// controls against the transmitted body. Drift is reported, never rolled
// back: a concurrent external change is an operator conversation, not a
// deployment failure.
func (o *Orchestrator) verify(ctx context.Context, plan *Plan, resolvedBodies map[config.Ref]directory.Document) []string {
	logger := otelzap.Ctx(ctx)
	var warnings []string

	for _, ref := range plan.Order {
		intended, ok := resolvedBodies[ref]
		if !ok {
			continue
		}
		remote, err := o.client.Get(ctx, ref.Kind, ref.Name)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("verify %s: re-read failed: %v", ref, err))
			continue
		}
		if drifted := driftedFields(intended, remote); len(drifted) > 0 {
			warnings = append(warnings, fmt.Sprintf("verify %s: remote state drifted on %s", ref, strings.Join(drifted, ", ")))
		}
	}

	if len(warnings) > 0 {
		logger.Warn("Post-apply verification found drift", zap.Strings("warnings", warnings))
	}
	return warnings
}

// Rollback restores the stored restore point for a past deployment and
// finalizes its record. Used by the rollback command.
func (o *Orchestrator) Rollback(ctx context.Context, deploymentID string) (*Record, error) {
	release, err := o.store.AcquireLock(deploymentID)
	if err != nil {
		return nil, err
	}
	defer release()

	rp, err := o.backups.Load(deploymentID)
	if err != nil {
		return nil, err
	}

	var record Record
	if err := o.store.LoadJSON(state.CategoryDeployments, deploymentID, &record); err != nil {
		return nil, fmt.Errorf("loading deployment record %s: %w", deploymentID, err)
	}

	report := o.backups.Restore(ctx, rp)
	if report.Complete() {
		record.Outcome = OutcomeRolledBack
		o.finalize(ctx, &record)
		return &record, nil
	}

	record.Outcome = OutcomePartialFailure
	for _, f := range report.Failures {
		record.Warnings = append(record.Warnings, fmt.Sprintf("restore incomplete for %s: %s", f.Item, f.Reason))
	}
	o.finalize(ctx, &record)
	return &record, tenant_err.NewRestorePartialError(deploymentID, report.Err())
}

// History returns finalized records from the append-only audit log, oldest
// first.
func (o *Orchestrator) History() ([]Record, error) {
	lines, err := o.store.ReadLog(auditLog)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decoding audit log entry: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// finalize persists the record and appends it to the audit log.
func (o *Orchestrator) finalize(ctx context.Context, record *Record) {
	logger := otelzap.Ctx(ctx)
	record.FinishedAt = time.Now().UTC()

	if err := o.store.SaveJSON(state.CategoryDeployments, record.DeploymentID, record); err != nil {
		logger.Error("Failed to persist deployment record", zap.Error(err))
	}
	if err := o.store.Append(auditLog, record); err != nil {
		logger.Error("Failed to append deployment record to audit log", zap.Error(err))
	}
}

// driftedFields returns the top-level controlled fields whose remote value
// no longer matches what was transmitted.
func driftedFields(intended, remote directory.Document) []string {
	var drifted []string
	for key, want := range intended {
		if !reflect.DeepEqual(want, remote[key]) {
			drifted = append(drifted, key)
		}
	}
	return drifted
}

// normalizeDoc round-trips a document through JSON so YAML-sourced numeric
// types compare cleanly against remote JSON documents.
func normalizeDoc(doc directory.Document) (directory.Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out directory.Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
