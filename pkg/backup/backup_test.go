// pkg/backup/backup_test.go

package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumsec/tenantctl/pkg/config"
	"github.com/fulcrumsec/tenantctl/pkg/directory"
	"github.com/fulcrumsec/tenantctl/pkg/state"
)

func newManager(t *testing.T, fake *directory.Fake, retention time.Duration) (*Manager, *state.Store) {
	t.Helper()
	store, err := state.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewManager(fake, store, retention), store
}

func TestSnapshotRecordsPresentAndAbsentItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := directory.NewFake()
	fake.Seed(config.KindGroup, "admins", directory.Document{"displayName": "Old Admins"})

	m, _ := newManager(t, fake, 0)
	plan := []config.Ref{
		{Kind: config.KindGroup, Name: "admins"},
		{Kind: config.KindGroup, Name: "new-group"},
	}

	rp, err := m.Snapshot(ctx, "d1", plan)
	require.NoError(t, err)
	require.Len(t, rp.Snapshots, 2)

	assert.False(t, rp.Snapshots[0].Absent)
	assert.Equal(t, "Old Admins", rp.Snapshots[0].Document["displayName"])
	assert.True(t, rp.Snapshots[1].Absent)
	assert.Nil(t, rp.Snapshots[1].Document)

	// The restore point is durable before Snapshot returns.
	loaded, err := m.Load("d1")
	require.NoError(t, err)
	assert.Equal(t, rp.Snapshots, loaded.Snapshots)
}

func TestSnapshotFailsWhollyOnReadError(t *testing.T) {
	t.Parallel()

	fake := directory.NewFake()
	fake.Seed(config.KindGroup, "a", directory.Document{"displayName": "A"})

	m, _ := newManager(t, fake, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Snapshot(ctx, "d1", []config.Ref{{Kind: config.KindGroup, Name: "a"}})
	require.Error(t, err)

	_, err = m.Load("d1")
	assert.Error(t, err, "a failed snapshot must not be persisted")
}

func TestRestoreReturnsTenantToPriorState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := directory.NewFake()
	fake.Seed(config.KindGroup, "admins", directory.Document{"displayName": "Old Admins"})

	m, _ := newManager(t, fake, 0)
	plan := []config.Ref{
		{Kind: config.KindGroup, Name: "admins"},
		{Kind: config.KindAccessPolicy, Name: "require-mfa"},
	}

	rp, err := m.Snapshot(ctx, "d1", plan)
	require.NoError(t, err)

	// Simulate the deployment: mutate the existing group, create the policy.
	_, err = fake.CreateOrUpdate(ctx, config.KindGroup, "admins", directory.Document{"displayName": "New Admins"})
	require.NoError(t, err)
	_, err = fake.CreateOrUpdate(ctx, config.KindAccessPolicy, "require-mfa", directory.Document{"displayName": "MFA"})
	require.NoError(t, err)

	report := m.Restore(ctx, rp)
	assert.True(t, report.Complete())
	assert.NoError(t, report.Err())

	// Previously-existing object reverted, previously-absent object deleted.
	assert.Equal(t, "Old Admins", fake.Object(config.KindGroup, "admins")["displayName"])
	assert.False(t, fake.Exists(config.KindAccessPolicy, "require-mfa"))

	// Reverse deployment order: the policy goes before the group it uses.
	assert.Equal(t, []config.Ref{
		{Kind: config.KindAccessPolicy, Name: "require-mfa"},
		{Kind: config.KindGroup, Name: "admins"},
	}, report.Restored)
}

func TestRestoreContinuesPastFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := directory.NewFake()
	fake.Seed(config.KindGroup, "a", directory.Document{"displayName": "A"})
	fake.Seed(config.KindGroup, "b", directory.Document{"displayName": "B"})

	m, _ := newManager(t, fake, 0)
	plan := []config.Ref{
		{Kind: config.KindGroup, Name: "a"},
		{Kind: config.KindGroup, Name: "b"},
	}
	rp, err := m.Snapshot(ctx, "d1", plan)
	require.NoError(t, err)

	_, err = fake.CreateOrUpdate(ctx, config.KindGroup, "a", directory.Document{"displayName": "A2"})
	require.NoError(t, err)
	_, err = fake.CreateOrUpdate(ctx, config.KindGroup, "b", directory.Document{"displayName": "B2"})
	require.NoError(t, err)

	fake.FailUpsert[config.Ref{Kind: config.KindGroup, Name: "b"}] = errors.New("remote write denied")

	report := m.Restore(ctx, rp)
	assert.False(t, report.Complete())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, config.Ref{Kind: config.KindGroup, Name: "b"}, report.Failures[0].Item)
	assert.Contains(t, report.Failures[0].Reason, "remote write denied")

	// The failure did not stop the pass: a was still reverted.
	assert.Equal(t, []config.Ref{{Kind: config.KindGroup, Name: "a"}}, report.Restored)
	assert.Equal(t, "A", fake.Object(config.KindGroup, "a")["displayName"])

	err = report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Group:b")
}

func TestRestoreToleratesAlreadyAbsentObjects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := directory.NewFake()
	m, _ := newManager(t, fake, 0)

	rp, err := m.Snapshot(ctx, "d1", []config.Ref{{Kind: config.KindSSOApp, Name: "wiki"}})
	require.NoError(t, err)

	// Apply never created the app, so the delete hits nothing. That is the
	// state the snapshot describes; not a failure.
	report := m.Restore(ctx, rp)
	assert.True(t, report.Complete())
}

func TestPruneRemovesExpiredRestorePoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := directory.NewFake()
	m, store := newManager(t, fake, 24*time.Hour)

	now := time.Now().UTC()
	rp, err := m.Snapshot(ctx, "old", nil)
	require.NoError(t, err)
	rp.Timestamp = now.Add(-48 * time.Hour)
	require.NoError(t, store.SaveJSON(state.CategoryRestorePoints, "old", rp))

	_, err = m.Snapshot(ctx, "fresh", nil)
	require.NoError(t, err)

	pruned, err := m.Prune(now)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = m.Load("old")
	assert.Error(t, err)
	_, err = m.Load("fresh")
	assert.NoError(t, err)
}
