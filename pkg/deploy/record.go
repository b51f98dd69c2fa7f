// pkg/deploy/record.go

package deploy

import (
	"fmt"
	"time"

	"github.com/fulcrumsec/tenantctl/pkg/config"
	"github.com/google/uuid"
)

// Outcome is the final disposition of one deployment attempt.
type Outcome string

const (
	// OutcomeInProgress is the interim state persisted at apply start; a
	// finalized record always carries one of the four terminal outcomes.
	OutcomeInProgress     Outcome = "InProgress"
	OutcomeSuccess        Outcome = "Success"
	OutcomePartialFailure Outcome = "PartialFailure"
	OutcomeFailed         Outcome = "Failed"
	OutcomeRolledBack     Outcome = "RolledBack"
)

// ItemStatus is the per-item disposition inside one attempt.
type ItemStatus string

const (
	ItemApplied ItemStatus = "Applied"
	ItemFailed  ItemStatus = "Failed"
	// ItemSkipped marks plan entries never attempted because an earlier
	// item failed.
	ItemSkipped ItemStatus = "Skipped"
)

// ItemResult records the outcome of one item in one attempt.
type ItemResult struct {
	Item     config.Ref    `json:"item"`
	Status   ItemStatus    `json:"status"`
	RemoteID string        `json:"remoteId,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Record is the append-only audit trail entry for one deployment attempt.
// Created at apply start, finalized at apply end or rollback completion.
type Record struct {
	DeploymentID string             `json:"deploymentId"`
	Environment  config.Environment `json:"environment"`
	Plan         []config.Ref       `json:"plan"`
	Outcome      Outcome            `json:"outcome"`
	Results      []ItemResult       `json:"results"`
	Warnings     []string           `json:"warnings,omitempty"`
	StartedAt    time.Time          `json:"startedAt"`
	FinishedAt   time.Time          `json:"finishedAt,omitempty"`
}

// NewDeploymentID builds a sortable timestamp-based identifier: a UTC
// second-resolution prefix keeps lexical order chronological, the uuid
// suffix disambiguates attempts within the same second.
func NewDeploymentID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}
