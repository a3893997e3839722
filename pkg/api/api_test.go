package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	authproviders "github.com/cbodonnell/tether/pkg/auth/providers"
	"github.com/cbodonnell/tether/pkg/repositories"
	"github.com/cbodonnell/tether/pkg/repositories/models"
	"github.com/cbodonnell/tether/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "secret"

func newTestRouter(t *testing.T) (http.Handler, *repositories.InMemoryRepository, *state.InMemoryStatusManager) {
	repo := repositories.NewInMemoryRepository()
	status := state.NewInMemoryStatusManager()
	router := NewRouter(NewAPIServerOptions{
		AuthProvider:  authproviders.NewStaticAuthProvider(secret),
		Repository:    repo,
		StatusManager: status,
		Admins:        []string{"admin"},
	})
	return router, repo, status
}

func get(router http.Handler, path, uid string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+authproviders.StaticToken(uid, secret))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	router, _, status := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, status.Set(ctx, &state.Status{
		Tick:     120,
		Sessions: []state.SessionStatus{{SessionID: 1, Name: "alice"}},
	}))

	rec := get(router, "/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(router, "/status", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	var got state.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, uint64(120), got.Tick)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, "alice", got.Sessions[0].Name)
}

func TestRecords(t *testing.T) {
	router, repo, _ := newTestRouter(t)
	ctx := context.Background()
	at := time.Unix(1000, 0).UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.SaveDesync(ctx, &models.DesyncRecord{SessionID: byte(i + 1), Kind: "checksum", ReportedAt: at}))
	}
	require.NoError(t, repo.SaveSession(ctx, &models.SessionRecord{SessionID: 1, Name: "alice", Reason: "timed out"}))

	rec := get(router, "/desyncs", "alice")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(router, "/desyncs?limit=2", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	var desyncs []*models.DesyncRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&desyncs))
	require.Len(t, desyncs, 2)
	assert.Equal(t, byte(3), desyncs[0].SessionID)

	rec = get(router, "/sessions", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []*models.SessionRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "timed out", sessions[0].Reason)

	rec = get(router, "/sessions?limit=abc", "admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreflight(t *testing.T) {
	router, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
