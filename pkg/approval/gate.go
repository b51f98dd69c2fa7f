// pkg/approval/gate.go
//
// Approval gate for one deployment attempt. The record is versioned and
// every mutation goes through a compare-and-swap on an atomic pointer, so
// two concurrent submissions can never both act as the approval that
// crosses the threshold.

package approval

import (
	"sort"
	"sync/atomic"

	"github.com/fulcrumsec/tenantctl/pkg/config"
	cerr "github.com/cockroachdb/errors"
)

// State is the gate's position in its lifecycle.
type State string

const (
	StateAwaitingApproval State = "AwaitingApproval"
	StateApproved         State = "Approved"
	StateRejected         State = "Rejected"
)

var (
	// ErrAlreadyDecided is returned for submissions after a terminal state.
	ErrAlreadyDecided = cerr.New("approval record is already in a terminal state")
	// ErrRejected is returned when the gate was rejected.
	ErrRejected = cerr.New("deployment approval was rejected")
)

// Record is the approval state for one deployment attempt. Approver
// identities arrive pre-authenticated from the caller; the gate only counts
// them with set semantics.
type Record struct {
	DeploymentID      string             `json:"deploymentId"`
	Environment       config.Environment `json:"environment"`
	RequiredApprovals int                `json:"requiredApprovals"`
	ReceivedApprovals []string           `json:"receivedApprovals"`
	RejectedBy        string             `json:"rejectedBy,omitempty"`
	State             State              `json:"state"`
	Version           uint64             `json:"version"`
}

// RequiredFor returns the approval threshold fixed by environment policy.
func RequiredFor(env config.Environment) int {
	switch env {
	case config.EnvStaging:
		return 1
	case config.EnvProd:
		return 2
	default:
		return 0
	}
}

// Gate is the in-memory state machine over a versioned Record.
type Gate struct {
	rec atomic.Pointer[Record]
}

// NewGate opens a gate for one deployment attempt. A zero threshold (dev)
// produces a record that is Approved on creation with an empty approver set.
func NewGate(deploymentID string, env config.Environment, required int) *Gate {
	state := StateAwaitingApproval
	if required <= 0 {
		required = 0
		state = StateApproved
	}
	g := &Gate{}
	g.rec.Store(&Record{
		DeploymentID:      deploymentID,
		Environment:       env,
		RequiredApprovals: required,
		ReceivedApprovals: nil,
		State:             state,
		Version:           1,
	})
	return g
}

// Resume rebuilds a gate from a persisted record.
func Resume(rec Record) *Gate {
	g := &Gate{}
	g.rec.Store(&rec)
	return g
}

// Record returns a copy of the current record.
func (g *Gate) Record() Record {
	rec := *g.rec.Load()
	rec.ReceivedApprovals = append([]string(nil), rec.ReceivedApprovals...)
	return rec
}

// Submit records one approval. Submitting the same identity twice is a
// no-op; the state flips to Approved exactly when the distinct approver
// count reaches the threshold. Linearizable via CAS retry.
func (g *Gate) Submit(approver string) (Record, error) {
	for {
		cur := g.rec.Load()
		switch cur.State {
		case StateRejected:
			return g.Record(), ErrRejected
		case StateApproved:
			// Approval is already terminal for the orchestrator; extra
			// submissions are reported, not recorded.
			return g.Record(), ErrAlreadyDecided
		}

		if contains(cur.ReceivedApprovals, approver) {
			return g.Record(), nil
		}

		next := *cur
		next.ReceivedApprovals = append(append([]string(nil), cur.ReceivedApprovals...), approver)
		sort.Strings(next.ReceivedApprovals)
		if len(next.ReceivedApprovals) >= next.RequiredApprovals {
			next.State = StateApproved
		}
		next.Version = cur.Version + 1

		if g.rec.CompareAndSwap(cur, &next) {
			return g.Record(), nil
		}
	}
}

// Reject moves the gate to its terminal Rejected state.
func (g *Gate) Reject(approver string) (Record, error) {
	for {
		cur := g.rec.Load()
		if cur.State != StateAwaitingApproval {
			return g.Record(), ErrAlreadyDecided
		}

		next := *cur
		next.ReceivedApprovals = append([]string(nil), cur.ReceivedApprovals...)
		next.State = StateRejected
		next.RejectedBy = approver
		next.Version = cur.Version + 1

		if g.rec.CompareAndSwap(cur, &next) {
			return g.Record(), nil
		}
	}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
