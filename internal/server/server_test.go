package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/service"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
)

func newTestServer(t *testing.T, metrics bool) (*httptest.Server, *auth.JWTManager) {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "server.db"), sqlite.DefaultOptions())
	require.NoError(t, err)

	hub := notify.NewHub(8)
	manager := ledger.NewManager(store, notify.NewPublisher(), nil, ledger.DefaultConfig())
	jwtManager := auth.NewJWTManager("server-test-secret", time.Hour)

	srv := New(
		service.NewLedgerService(manager),
		service.NewGroupService(manager),
		service.NewNotificationService(manager, hub),
		jwtManager,
	)
	if metrics {
		srv.EnableMetrics()
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		store.Close()
	})
	return ts, jwtManager
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsToggle(t *testing.T) {
	ts, _ := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ts, _ = newTestServer(t, true)
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, false)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+service.GroupServiceCreateGroupProcedure, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "Ledger-Error-Code")
}

func TestConnectRoutes(t *testing.T) {
	ts, jwtManager := newTestServer(t, false)
	token, err := jwtManager.Generate("alice")
	require.NoError(t, err)

	client := service.NewGroupServiceClient(http.DefaultClient, ts.URL)

	req := connect.NewRequest(&service.CreateGroupRequest{Name: "Flat"})
	req.Header().Set("Authorization", "Bearer "+token)
	resp, err := client.CreateGroup(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Flat", resp.Msg.Group.Name)
	assert.Equal(t, "alice", resp.Msg.Group.CreatedBy)

	_, err = client.CreateGroup(context.Background(), connect.NewRequest(&service.CreateGroupRequest{Name: "Flat"}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}

func TestPlainJSONCall(t *testing.T) {
	ts, jwtManager := newTestServer(t, false)
	token, err := jwtManager.Generate("alice")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+service.LedgerServiceCalculateSplitProcedure,
		strings.NewReader(`{"amount":"9","currency":"EUR","participants":["a","b"]}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSSERouteRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/v1/notifications/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
