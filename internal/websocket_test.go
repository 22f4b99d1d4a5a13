package internal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-game-rounds/internal"
	"github.com/koopa0/system-design/14-game-rounds/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsHarness struct {
	network      *internal.WebSocketNetwork
	connected    chan internal.Connection
	disconnected chan internal.Connection
}

func startWebSocketNetwork(t *testing.T, mutate func(cfg *internal.NetworkConfig)) *wsHarness {
	t.Helper()

	cfg := internal.DefaultConfig().Network
	cfg.Addr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}

	h := &wsHarness{
		network:      internal.NewWebSocketNetwork(cfg, testutils.DiscardLogger()),
		connected:    make(chan internal.Connection, 16),
		disconnected: make(chan internal.Connection, 16),
	}
	h.network.SetClientConnectedCallback(func(c internal.Connection) { h.connected <- c })
	h.network.SetClientDisconnectedCallback(func(c internal.Connection) { h.disconnected <- c })

	require.NoError(t, h.network.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.network.Stop(ctx)
	})
	return h
}

func (h *wsHarness) url(query string) string {
	return "ws://" + h.network.Addr() + "/game?" + query
}

func (h *wsHarness) dial(t *testing.T, name string) (*websocket.Conn, internal.Connection) {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(h.url("name="+name+"&character=witch&style=blue"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	select {
	case c := <-h.connected:
		return ws, c
	case <-time.After(waitFor):
		t.Fatal("connect callback not fired")
		return nil, nil
	}
}

func writePackage(t *testing.T, ws *websocket.Conn, pkg internal.Package) {
	t.Helper()
	data, err := json.Marshal(pkg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func TestWebSocketNetwork_Handshake(t *testing.T) {
	h := startWebSocketNetwork(t, nil)

	_, conn := h.dial(t, "alice")

	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, internal.ClientHello{
		Username:       "alice",
		CharacterName:  "witch",
		CharacterStyle: "blue",
	}, conn.Hello())
	assert.Equal(t, 1, h.network.ConnectionCount())
}

func TestWebSocketNetwork_RejectsMissingName(t *testing.T) {
	h := startWebSocketNetwork(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(h.url("character=witch"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, h.network.ConnectionCount())
}

func TestWebSocketNetwork_InboundPackages(t *testing.T) {
	h := startWebSocketNetwork(t, nil)
	ws, conn := h.dial(t, "alice")

	// 無法解析的訊息直接略過
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	writePackage(t, ws, internal.Package{Type: internal.PackageDoneLoading})
	control, err := internal.NewPackage(internal.PackagePlayerControl, internal.PlayerControlData{
		Position: internal.Vector3{X: 4},
	})
	require.NoError(t, err)
	writePackage(t, ws, control)

	require.Eventually(t, func() bool {
		return conn.NumPackages() == 2
	}, waitFor, tick)

	assert.Equal(t, internal.PackageDoneLoading, conn.Package(0).Type)
	data, err := conn.Package(1).PlayerControl()
	require.NoError(t, err)
	assert.Equal(t, 4.0, data.Position.X)

	conn.ClearPackages(1)
	assert.Equal(t, 1, conn.NumPackages())
	assert.Equal(t, internal.PackagePlayerControl, conn.Package(0).Type)

	// 超出範圍回傳零值
	assert.Equal(t, internal.Package{}, conn.Package(5))

	conn.ClearPackages(10)
	assert.Zero(t, conn.NumPackages())
}

func TestWebSocketNetwork_QueueIsBounded(t *testing.T) {
	h := startWebSocketNetwork(t, func(cfg *internal.NetworkConfig) {
		cfg.MaxQueuedPackages = 2
	})
	ws, conn := h.dial(t, "alice")

	for i := 0; i < 5; i++ {
		writePackage(t, ws, internal.Package{Type: internal.PackageDoneLoading})
	}
	// 最後送一個可辨識的封包，確認前面的都已讀取
	writePackage(t, ws, internal.Package{Type: internal.PackageLeaveGame})

	require.Eventually(t, func() bool {
		return conn.NumPackages() == 2
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, conn.NumPackages())
}

func TestWebSocketNetwork_Outbound(t *testing.T) {
	h := startWebSocketNetwork(t, nil)
	ws, conn := h.dial(t, "alice")

	conn.SendAssignPlayer(7)
	conn.SendGameResult(internal.GameResultData{Type: internal.ResultPosition, Place: 1})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitFor)))

	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var pkg internal.Package
	require.NoError(t, json.Unmarshal(msg, &pkg))
	assert.Equal(t, internal.PackageAssignPlayer, pkg.Type)
	assert.JSONEq(t, `{"actor_id":7}`, string(pkg.Data))

	_, msg, err = ws.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, &pkg))
	assert.Equal(t, internal.PackageGameResult, pkg.Type)
	assert.JSONEq(t, `{"type":"position","place":1}`, string(pkg.Data))
}

func TestWebSocketNetwork_ClientDisconnect(t *testing.T) {
	h := startWebSocketNetwork(t, nil)
	ws, conn := h.dial(t, "alice")

	require.NoError(t, ws.Close())

	select {
	case gone := <-h.disconnected:
		assert.Equal(t, conn.ID(), gone.ID())
	case <-time.After(waitFor):
		t.Fatal("disconnect callback not fired")
	}
	assert.Zero(t, h.network.ConnectionCount())

	// 斷線後送出不會 panic
	conn.SendRemoveObjects([]internal.ActorID{1})

	// 斷線回呼只觸發一次
	select {
	case <-h.disconnected:
		t.Fatal("disconnect callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketNetwork_StopClosesConnections(t *testing.T) {
	h := startWebSocketNetwork(t, nil)
	ws, _ := h.dial(t, "alice")

	// 先清除回呼，關閉時不再觸發
	h.network.SetClientConnectedCallback(nil)
	h.network.SetClientDisconnectedCallback(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.network.Stop(ctx))

	assert.Zero(t, h.network.ConnectionCount())
	assert.Empty(t, h.disconnected)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)

	_, _, err = websocket.DefaultDialer.Dial(h.url("name=bob"), nil)
	assert.Error(t, err)
}
