// pkg/state/store_test.go

package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	want := testRecord{ID: "d1", Count: 3}
	require.NoError(t, store.SaveJSON(CategoryDeployments, "d1", want))
	assert.True(t, store.Exists(CategoryDeployments, "d1"))

	var got testRecord
	require.NoError(t, store.LoadJSON(CategoryDeployments, "d1", &got))
	assert.Equal(t, want, got)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	t.Parallel()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveJSON(CategoryApprovals, "d1", testRecord{ID: "d1", Count: 1}))
	require.NoError(t, store.SaveJSON(CategoryApprovals, "d1", testRecord{ID: "d1", Count: 2}))

	var got testRecord
	require.NoError(t, store.LoadJSON(CategoryApprovals, "d1", &got))
	assert.Equal(t, 2, got.Count)

	// No stray temp files left behind.
	ids, err := store.List(CategoryApprovals)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids)
}

func TestListReturnsSortedIDs(t *testing.T) {
	t.Parallel()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"20260830T120000Z-bb", "20260829T090000Z-aa", "20260830T080000Z-cc"} {
		require.NoError(t, store.SaveJSON(CategoryRestorePoints, id, testRecord{ID: id}))
	}

	ids, err := store.List(CategoryRestorePoints)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"20260829T090000Z-aa",
		"20260830T080000Z-cc",
		"20260830T120000Z-bb",
	}, ids)
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveJSON(CategoryDeployments, "d1", testRecord{ID: "d1"}))
	require.NoError(t, store.Delete(CategoryDeployments, "d1"))
	assert.False(t, store.Exists(CategoryDeployments, "d1"))
	require.NoError(t, store.Delete(CategoryDeployments, "d1"))
}

func TestAppendAndReadLog(t *testing.T) {
	t.Parallel()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	entries, err := store.ReadLog("audit")
	require.NoError(t, err)
	assert.Empty(t, entries, "missing log reads as empty")

	require.NoError(t, store.Append("audit", testRecord{ID: "d1", Count: 1}))
	require.NoError(t, store.Append("audit", testRecord{ID: "d2", Count: 2}))

	entries, err = store.ReadLog("audit")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var first testRecord
	require.NoError(t, json.Unmarshal(entries[0], &first))
	assert.Equal(t, "d1", first.ID)
}

func TestAcquireLockIsExclusive(t *testing.T) {
	t.Parallel()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	release, err := store.AcquireLock("d1")
	require.NoError(t, err)

	_, err = store.AcquireLock("d1")
	assert.ErrorIs(t, err, ErrLocked)

	// A different deployment is unaffected.
	release2, err := store.AcquireLock("d2")
	require.NoError(t, err)
	release2()

	release()
	release3, err := store.AcquireLock("d1")
	require.NoError(t, err)
	release3()
}
