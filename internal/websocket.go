package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketNetwork 以 WebSocket 實作 Network
//
// 每條連線兩個 goroutine：
//   - readPump：收到的封包排進佇列，等回合 goroutine 輪詢
//   - writePump：送出緩衝 channel 中的訊息，定時送 ping
//
// 連線回呼在 readPump 啟動前觸發，斷線回呼在 readPump 結束時觸發，每條連線各一次。
type WebSocketNetwork struct {
	cfg      NetworkConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	cbMu         sync.RWMutex
	onConnect    ConnectionCallback
	onDisconnect ConnectionCallback

	mu       sync.Mutex
	conns    map[string]*wsConnection
	stopping bool

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewWebSocketNetwork 創建 WebSocket 網路層
func NewWebSocketNetwork(cfg NetworkConfig, logger *slog.Logger) *WebSocketNetwork {
	if logger == nil {
		logger = discardLogger()
	}
	return &WebSocketNetwork{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 遊戲客戶端不是瀏覽器，不檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[string]*wsConnection),
	}
}

// SetClientConnectedCallback 設置連線回呼，nil 表示清除
func (n *WebSocketNetwork) SetClientConnectedCallback(cb ConnectionCallback) {
	n.cbMu.Lock()
	n.onConnect = cb
	n.cbMu.Unlock()
}

// SetClientDisconnectedCallback 設置斷線回呼，nil 表示清除
func (n *WebSocketNetwork) SetClientDisconnectedCallback(cb ConnectionCallback) {
	n.cbMu.Lock()
	n.onDisconnect = cb
	n.cbMu.Unlock()
}

// Handler 只處理遊戲連線路徑的 http.Handler
func (n *WebSocketNetwork) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+n.cfg.Path, n.ServeWS)
	return mux
}

// Start 開始監聽
func (n *WebSocketNetwork) Start() error {
	ln, err := net.Listen("tcp", n.cfg.Addr)
	if err != nil {
		return fmt.Errorf("監聽 %s 失敗: %w", n.cfg.Addr, err)
	}

	n.mu.Lock()
	n.listener = ln
	n.server = &http.Server{
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := n.server
	n.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("遊戲連線伺服器錯誤", "error", err)
		}
	}()

	n.logger.Info("遊戲連線伺服器已啟動", "addr", ln.Addr().String(), "path", n.cfg.Path)
	return nil
}

// Addr 實際監聽的位址
func (n *WebSocketNetwork) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Stop 停止監聽並關閉所有連線
func (n *WebSocketNetwork) Stop(ctx context.Context) error {
	n.mu.Lock()
	n.stopping = true
	srv := n.server
	conns := make([]*wsConnection, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	// Shutdown 不會關閉已升級的連線
	for _, c := range conns {
		c.closeSend()
		c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.logger.Info("遊戲連線伺服器已停止")
	return err
}

// ConnectionCount 目前的連線數
func (n *WebSocketNetwork) ConnectionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// ServeWS 處理 WebSocket 握手
func (n *WebSocketNetwork) ServeWS(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	stopping := n.stopping
	n.mu.Unlock()
	if stopping {
		http.Error(w, "伺服器關閉中", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	hello := ClientHello{
		Username:       q.Get("name"),
		CharacterName:  q.Get("character"),
		CharacterStyle: q.Get("style"),
	}
	if hello.Username == "" {
		http.Error(w, "缺少使用者名稱", http.StatusBadRequest)
		return
	}

	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := &wsConnection{
		id:      uuid.NewString(),
		hello:   hello,
		conn:    ws,
		send:    make(chan []byte, n.cfg.SendBuffer),
		network: n,
	}

	n.mu.Lock()
	if n.stopping {
		n.mu.Unlock()
		ws.Close()
		return
	}
	n.conns[c.id] = c
	n.wg.Add(2)
	n.mu.Unlock()

	n.logger.Info("WebSocket 連接建立", "conn_id", c.id, "user", hello.Username)

	n.cbMu.RLock()
	cb := n.onConnect
	n.cbMu.RUnlock()
	if cb != nil {
		cb(c)
	}

	go c.writePump()
	go c.readPump()
}

// unregister 移除連線並觸發斷線回呼
func (n *WebSocketNetwork) unregister(c *wsConnection) {
	n.mu.Lock()
	_, ok := n.conns[c.id]
	delete(n.conns, c.id)
	n.mu.Unlock()

	if !ok {
		return
	}

	n.cbMu.RLock()
	cb := n.onDisconnect
	n.cbMu.RUnlock()
	if cb != nil {
		cb(c)
	}

	n.logger.Info("WebSocket 連接關閉", "conn_id", c.id, "user", c.hello.Username)
}

// wsConnection 一條 WebSocket 連線
type wsConnection struct {
	id      string
	hello   ClientHello
	conn    *websocket.Conn
	network *WebSocketNetwork

	mu       sync.Mutex
	packages []Package
	send     chan []byte
	closed   bool
}

func (c *wsConnection) ID() string         { return c.id }
func (c *wsConnection) Hello() ClientHello { return c.hello }

func (c *wsConnection) NumPackages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packages)
}

func (c *wsConnection) Package(i int) Package {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.packages) {
		return Package{}
	}
	return c.packages[i]
}

func (c *wsConnection) ClearPackages(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.packages) {
		n = len(c.packages)
	}
	if n <= 0 {
		return
	}
	remaining := copy(c.packages, c.packages[n:])
	for i := remaining; i < len(c.packages); i++ {
		c.packages[i] = Package{}
	}
	c.packages = c.packages[:remaining]
}

func (c *wsConnection) SendCreateObjects(objects []ObjectInstance) {
	c.sendPackage(PackageCreateObjects, CreateObjectsData{Objects: objects})
}

func (c *wsConnection) SendLevelData(data []byte) {
	c.sendPackage(PackageLevelData, LevelData{Data: data})
}

func (c *wsConnection) SendAssignPlayer(id ActorID) {
	c.sendPackage(PackageAssignPlayer, AssignPlayerData{ActorID: id})
}

func (c *wsConnection) SendUpdateObjects(updates []UpdateObjectData, extra []string) {
	if updates == nil {
		updates = []UpdateObjectData{}
	}
	c.sendPackage(PackageUpdateObjects, UpdateObjectsData{Updates: updates, Extra: extra})
}

func (c *wsConnection) SendRemoveObjects(ids []ActorID) {
	c.sendPackage(PackageRemoveObjects, RemoveObjectsData{IDs: ids})
}

func (c *wsConnection) SendObjectAction(id ActorID, action string) {
	c.sendPackage(PackageObjectAction, ObjectActionData{ActorID: id, Action: action})
}

func (c *wsConnection) SendGameResult(result GameResultData) {
	c.sendPackage(PackageGameResult, result)
}

func (c *wsConnection) sendPackage(t PackageType, data any) {
	pkg, err := NewPackage(t, data)
	if err != nil {
		c.network.logger.Error("建立封包失敗", "type", t, "error", err)
		return
	}
	msg, err := json.Marshal(pkg)
	if err != nil {
		c.network.logger.Error("序列化封包失敗", "type", t, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.network.logger.Warn("連接緩衝區滿，丟棄訊息", "conn_id", c.id, "type", t)
	}
}

// closeSend 關閉送出 channel，writePump 隨即送出 close frame
func (c *wsConnection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsConnection) enqueue(pkg Package) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.packages) >= c.network.cfg.MaxQueuedPackages {
		c.network.logger.Warn("封包佇列已滿，丟棄封包", "conn_id", c.id, "type", pkg.Type)
		return
	}
	c.packages = append(c.packages, pkg)
}

// readPump 讀取客戶端訊息，pong 超時即斷線
func (c *wsConnection) readPump() {
	n := c.network
	defer func() {
		n.unregister(c)
		c.closeSend()
		c.conn.Close()
		n.wg.Done()
	}()

	timeout := n.cfg.PongTimeout
	if timeout <= 0 {
		timeout = n.cfg.ReadTimeout
	}
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			n.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(timeout))
		})
	}

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				n.logger.Warn("WebSocket 讀取錯誤", "conn_id", c.id, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var pkg Package
		if err := json.Unmarshal(message, &pkg); err != nil || pkg.Type == "" {
			n.logger.Warn("無法解析客戶端封包", "conn_id", c.id, "error", err)
			continue
		}
		c.enqueue(pkg)
	}
}

// writePump 送出訊息並定時 ping
func (c *wsConnection) writePump() {
	n := c.network
	interval := n.cfg.PingInterval()
	if interval <= 0 {
		interval = 54 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		n.wg.Done()
	}()

	writeTimeout := n.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
