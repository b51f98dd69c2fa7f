// pkg/approval/gate_test.go

package approval

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumsec/tenantctl/pkg/config"
)

func TestRequiredFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, RequiredFor(config.EnvDev))
	assert.Equal(t, 1, RequiredFor(config.EnvStaging))
	assert.Equal(t, 2, RequiredFor(config.EnvProd))
}

func TestDevGateIsApprovedAtCreation(t *testing.T) {
	t.Parallel()
	g := NewGate("d1", config.EnvDev, RequiredFor(config.EnvDev))

	rec := g.Record()
	assert.Equal(t, StateApproved, rec.State)
	assert.Empty(t, rec.ReceivedApprovals)
	assert.Equal(t, 0, rec.RequiredApprovals)
}

func TestSubmitCrossesThreshold(t *testing.T) {
	t.Parallel()
	g := NewGate("d1", config.EnvProd, RequiredFor(config.EnvProd))

	rec, err := g.Submit("alice")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, rec.State)
	assert.Equal(t, []string{"alice"}, rec.ReceivedApprovals)

	rec, err = g.Submit("bob")
	require.NoError(t, err)
	assert.Equal(t, StateApproved, rec.State)
	assert.Equal(t, []string{"alice", "bob"}, rec.ReceivedApprovals)

	// Further submissions hit the terminal state.
	_, err = g.Submit("carol")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestSubmitSameApproverTwiceCountsOnce(t *testing.T) {
	t.Parallel()
	g := NewGate("d1", config.EnvProd, RequiredFor(config.EnvProd))

	_, err := g.Submit("alice")
	require.NoError(t, err)
	rec, err := g.Submit("alice")
	require.NoError(t, err)

	assert.Equal(t, StateAwaitingApproval, rec.State)
	assert.Equal(t, []string{"alice"}, rec.ReceivedApprovals)
}

func TestConcurrentSubmissionsCrossThresholdExactlyOnce(t *testing.T) {
	t.Parallel()
	g := NewGate("d1", config.EnvProd, 2)

	const approvers = 16
	var wg sync.WaitGroup
	results := make([]error, approvers)
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = g.Submit(fmt.Sprintf("approver-%02d", i))
		}(i)
	}
	wg.Wait()

	rec := g.Record()
	assert.Equal(t, StateApproved, rec.State)
	// Exactly two distinct approvers were recorded before the flip; every
	// later submission got the terminal-state error instead.
	assert.Len(t, rec.ReceivedApprovals, 2)

	var rejectedSubmissions int
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, ErrAlreadyDecided)
			rejectedSubmissions++
		}
	}
	assert.Equal(t, approvers-2, rejectedSubmissions)
}

func TestRejectIsTerminal(t *testing.T) {
	t.Parallel()
	g := NewGate("d1", config.EnvStaging, 1)

	rec, err := g.Reject("mallory")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, rec.State)
	assert.Equal(t, "mallory", rec.RejectedBy)

	_, err = g.Submit("alice")
	assert.ErrorIs(t, err, ErrRejected)

	_, err = g.Reject("mallory")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestRejectAfterApprovalFails(t *testing.T) {
	t.Parallel()
	g := NewGate("d1", config.EnvStaging, 1)

	_, err := g.Submit("alice")
	require.NoError(t, err)

	_, err = g.Reject("mallory")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Equal(t, StateApproved, g.Record().State)
}

func TestResumeContinuesWhereRecordLeftOff(t *testing.T) {
	t.Parallel()

	g := Resume(Record{
		DeploymentID:      "d1",
		Environment:       config.EnvProd,
		RequiredApprovals: 2,
		ReceivedApprovals: []string{"alice"},
		State:             StateAwaitingApproval,
		Version:           2,
	})

	rec, err := g.Submit("bob")
	require.NoError(t, err)
	assert.Equal(t, StateApproved, rec.State)
	assert.Equal(t, []string{"alice", "bob"}, rec.ReceivedApprovals)
	assert.Equal(t, uint64(3), rec.Version)
}

func TestVersionAdvancesPerMutation(t *testing.T) {
	t.Parallel()
	g := NewGate("d1", config.EnvProd, 2)
	assert.Equal(t, uint64(1), g.Record().Version)

	rec, _ := g.Submit("alice")
	assert.Equal(t, uint64(2), rec.Version)

	// Duplicate submissions do not bump the version.
	rec, _ = g.Submit("alice")
	assert.Equal(t, uint64(2), rec.Version)
}
