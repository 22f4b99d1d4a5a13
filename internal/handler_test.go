package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-rounds/internal"
	"github.com/koopa0/system-design/14-game-rounds/internal/testutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHandler 建立已初始化、附帶成績儲存的伺服器與 HTTP 處理器
func newTestHandler(t *testing.T, store internal.ResultStore) (*internal.Server, *testutils.FakeNetwork, http.Handler) {
	t.Helper()

	reg := prometheus.NewRegistry()
	network := testutils.NewFakeNetwork()
	srv := internal.NewServer(testServerConfig(), network, internal.ServerDeps{
		Logger:  testutils.DiscardLogger(),
		Metrics: internal.NewMetrics(reg),
		Results: store,
	})
	require.NoError(t, srv.Initialize())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return srv, network, internal.NewHandler(srv, reg, testutils.DiscardLogger()).Routes()
}

func doRequest(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]any
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHandler_Health(t *testing.T) {
	_, _, h := newTestHandler(t, nil)

	w, resp := doRequest(t, h, "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["status"])
	assert.NotZero(t, resp["time"])
}

func TestHandler_UsersAndStats(t *testing.T) {
	srv, network, h := newTestHandler(t, nil)

	for _, name := range []string{"bob", "alice"} {
		require.True(t, network.Connect(testutils.NewFakeConnection(name)))
	}

	w, resp := doRequest(t, h, "/api/v1/users")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp["total"])

	users, ok := resp["users"].([]any)
	require.True(t, ok)
	require.Len(t, users, 2)
	first := users[0].(map[string]any)
	assert.Equal(t, "alice", first["username"])
	assert.Equal(t, "witch", first["character"])
	assert.Equal(t, string(internal.StateLobby), first["state"])

	w, resp = doRequest(t, h, "/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp["users"])
	assert.Equal(t, float64(2), resp["lobby_free"])
	assert.Equal(t, float64(0), resp["active_games"])

	w, resp = doRequest(t, h, "/api/v1/lobby")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp["free_users"])
	levels, ok := resp["levels"].([]any)
	require.True(t, ok)
	require.Len(t, levels, 1)
	assert.Equal(t, "test", levels[0].(map[string]any)["name"])

	srv.Update(0)

	w, resp = doRequest(t, h, "/api/v1/games")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["total"])
	games := resp["games"].([]any)
	game := games[0].(map[string]any)
	assert.Equal(t, "test", game["game_type"])
	assert.ElementsMatch(t, []any{"alice", "bob"}, game["players"])
}

func TestHandler_EmptyLists(t *testing.T) {
	_, _, h := newTestHandler(t, nil)

	_, resp := doRequest(t, h, "/api/v1/users")
	assert.Equal(t, []any{}, resp["users"])

	_, resp = doRequest(t, h, "/api/v1/games")
	assert.Equal(t, []any{}, resp["games"])
}

func TestHandler_Leaderboard(t *testing.T) {
	store := testutils.NewMemoryResultStore()
	ctx := context.Background()
	for _, r := range []internal.RaceResult{
		{Level: "race", Player: "alice", Time: 12 * time.Second},
		{Level: "race", Player: "bob", Time: 9 * time.Second},
		{Level: "race", Player: "alice", Time: 15 * time.Second},
		{Level: "race", Player: "carol", Time: 20 * time.Second},
		{Level: "other", Player: "dave", Time: time.Second},
	} {
		require.NoError(t, store.Record(ctx, r))
	}
	_, _, h := newTestHandler(t, store)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		validate       func(t *testing.T, resp map[string]any)
	}{
		{
			name:           "default limit",
			path:           "/api/v1/leaderboard/race",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, "race", resp["level"])
				entries := resp["entries"].([]any)
				require.Len(t, entries, 3)
				assert.Equal(t, "bob", entries[0].(map[string]any)["player"])
				assert.Equal(t, 9.0, entries[0].(map[string]any)["best_seconds"])
				assert.Equal(t, "alice", entries[1].(map[string]any)["player"])
				assert.Equal(t, 12.0, entries[1].(map[string]any)["best_seconds"])
			},
		},
		{
			name:           "with limit",
			path:           "/api/v1/leaderboard/race?limit=1",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Len(t, resp["entries"], 1)
			},
		},
		{
			name:           "unknown level",
			path:           "/api/v1/leaderboard/nowhere",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, []any{}, resp["entries"])
			},
		},
		{
			name:           "limit too large",
			path:           "/api/v1/leaderboard/race?limit=101",
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Contains(t, resp["error"], "limit")
			},
		},
		{
			name:           "limit not a number",
			path:           "/api/v1/leaderboard/race?limit=abc",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "limit zero",
			path:           "/api/v1/leaderboard/race?limit=0",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := doRequest(t, h, tt.path)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.validate != nil {
				tt.validate(t, resp)
			}
		})
	}
}

func TestHandler_LeaderboardUnavailable(t *testing.T) {
	_, _, h := newTestHandler(t, nil)

	w, resp := doRequest(t, h, "/api/v1/leaderboard/race")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "未啟用成績儲存", resp["error"])
}

func TestHandler_LeaderboardStoreError(t *testing.T) {
	store := testutils.NewMemoryResultStore()
	store.TopErr = errors.New("connection refused")
	_, _, h := newTestHandler(t, store)

	w, resp := doRequest(t, h, "/api/v1/leaderboard/race")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "讀取排行榜失敗", resp["error"])
}

func TestHandler_Metrics(t *testing.T) {
	_, network, h := newTestHandler(t, nil)
	require.True(t, network.Connect(testutils.NewFakeConnection("alice")))

	w, _ := doRequest(t, h, "/metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "game_connected_users 1")
}

func TestHandler_MetricsDisabled(t *testing.T) {
	srv := internal.NewServer(testServerConfig(), testutils.NewFakeNetwork(), internal.ServerDeps{})
	h := internal.NewHandler(srv, nil, nil).Routes()

	w, _ := doRequest(t, h, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	_, _, h := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
