package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
)

func staticToken(token string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) { return token, nil }
}

func TestPutEntityInjectsExpectedVersion(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/entities/note/n1", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(UpsertResult{SyncVersion: 4, State: []byte(`{"id":"n1"}`)})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, staticToken("tok123"))
	result, err := c.PutEntity(context.Background(), models.EntityNote, "n1",
		[]byte(`{"id":"n1","content":"hello"}`), 3)
	require.NoError(t, err)

	assert.Equal(t, int64(4), result.SyncVersion)
	assert.Equal(t, float64(3), gotBody["expected_sync_version"])
	assert.Equal(t, "hello", gotBody["content"])
	assert.Equal(t, "Bearer tok123", gotAuth)
}

func TestPutEntityVersionConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(VersionConflict{
			CurrentSyncVersion: 7,
			CurrentState:       []byte(`{"id":"n1","content":"server"}`),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.PutEntity(context.Background(), models.EntityNote, "n1", []byte(`{"id":"n1"}`), 3)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	var vc *VersionConflict
	require.True(t, errors.As(err, &vc), "conflict detail must be extractable")
	assert.Equal(t, int64(7), vc.CurrentSyncVersion)
}

func TestDeleteEntityTreats404AsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "2", r.URL.Query().Get("expected_sync_version"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	err := c.DeleteEntity(context.Background(), models.EntityNote, "n1", 2)
	assert.NoError(t, err, "replayed delete must be idempotent")
}

func TestAuthErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.PutEntity(context.Background(), models.EntityNote, "n1", []byte(`{}`), 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrAuth))
	assert.False(t, apperrors.Transient(err), "auth errors must not be blindly retried")
}

func TestValidationErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"code": "TAG_LIMIT_EXCEEDED", "message": "note already has 5 tags",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.PutEntity(context.Background(), models.EntityNoteTag, "n1:t1", []byte(`{}`), 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrTagLimitExceeded))
	assert.True(t, apperrors.Is(err, apperrors.ErrTagLimitExceeded) || apperrors.Is(err, apperrors.ErrValidation))
}

func TestServerErrorsAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.PutEntity(context.Background(), models.EntityNote, "n1", []byte(`{}`), 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrNetwork))
	assert.True(t, apperrors.Transient(err))
}

func TestConnectionRefusedIsNetworkError(t *testing.T) {
	// A server that is immediately closed leaves a port nothing listens on
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.PutEntity(context.Background(), models.EntityNote, "n1", []byte(`{}`), 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrNetwork))
	assert.True(t, apperrors.Transient(err))
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond, nil)
	_, err := c.PutEntity(context.Background(), models.EntityNote, "n1", []byte(`{}`), 0)
	require.Error(t, err)
	assert.True(t, apperrors.Transient(err))
}

func TestFetchSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/entities/note", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("since"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"entities": []RemoteEntity{
				{ID: "n1", SyncVersion: 2, UpdatedAt: 150, State: []byte(`{"id":"n1"}`)},
				{ID: "n2", SyncVersion: 1, UpdatedAt: 160, Deleted: true},
			},
			"server_ts": 160,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	entities, serverTS, err := c.FetchSince(context.Background(), models.EntityNote, 100)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
	assert.Equal(t, int64(160), serverTS)
	assert.True(t, entities[1].Deleted)
}
