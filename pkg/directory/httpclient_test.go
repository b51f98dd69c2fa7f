// pkg/directory/httpclient_test.go

package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumsec/tenantctl/pkg/config"
)

func testClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewHTTPClient(HTTPClientOptions{
		BaseURL:        srv.URL,
		Token:          "test-token",
		PerCallTimeout: 2 * time.Second,
		MaxRetries:     3,
		BaseDelay:      time.Millisecond,
		RequestsPerSec: 1000,
	})
	return client, srv
}

func TestCreateOrUpdateSendsUpsert(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath, gotAuth string
	var gotBody map[string]any
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "obj-123"}`))
	}))

	id, err := client.CreateOrUpdate(context.Background(), config.KindGroup, "admins",
		Document{"displayName": "Admins"})
	require.NoError(t, err)

	assert.Equal(t, "obj-123", id)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/v1/groups/admins", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, map[string]any{"displayName": "Admins"}, gotBody)
}

func TestRetriesTransientFailuresThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": "obj-1"}`))
	}))

	id, err := client.CreateOrUpdate(context.Background(), config.KindSSOApp, "wiki",
		Document{"displayName": "Wiki"})
	require.NoError(t, err)
	assert.Equal(t, "obj-1", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesRateLimitResponses(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"displayName": "Admins"}`))
	}))

	doc, err := client.Get(context.Background(), config.KindGroup, "admins")
	require.NoError(t, err)
	assert.Equal(t, "Admins", doc["displayName"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoesNotRetryTerminalFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail": "displayName must not be empty"}`))
	}))

	_, err := client.CreateOrUpdate(context.Background(), config.KindGroup, "bad", Document{})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "displayName must not be empty")
	assert.Equal(t, int32(1), calls.Load(), "terminal failures must not be retried")
}

func TestRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.Get(context.Background(), config.KindGroup, "admins")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry budget exhausted")
	// Initial attempt plus MaxRetries.
	assert.Equal(t, int32(4), calls.Load())
}

func TestGetMapsMissingObjectToErrNotFound(t *testing.T) {
	t.Parallel()

	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.Get(context.Background(), config.KindNamedLocation, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsTransient(err))
}

func TestRepeatedNotFoundDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	// A snapshot over a fresh tenant sees nothing but absences.
	for i := 0; i < 10; i++ {
		_, err := client.Get(context.Background(), config.KindGroup, "absent")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(10), calls.Load())
}

func TestDeleteByNaturalKey(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))

	err := client.Delete(context.Background(), config.KindSSOApp, "wiki")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/v1/ssoApps/wiki", gotPath)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	t.Parallel()

	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, config.KindGroup, "admins")
	assert.ErrorIs(t, err, context.Canceled)
}
