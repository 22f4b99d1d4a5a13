// Package testutils 提供測試用的假網路層、假回合邏輯與測試容器
package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/14-game-rounds/internal"
)

// UpdateBatch 一次 SendUpdateObjects 的內容
type UpdateBatch struct {
	Updates []internal.UpdateObjectData
	Extra   []string
}

// ObjectAction 一次 SendObjectAction 的內容
type ObjectAction struct {
	ID     internal.ActorID
	Action string
}

// FakeConnection 記錄所有送出的訊息，收到的封包由測試手動推入
type FakeConnection struct {
	id    string
	hello internal.ClientHello

	mu          sync.Mutex
	inbox       []internal.Package
	creates     [][]internal.ObjectInstance
	levelData   [][]byte
	assigned    []internal.ActorID
	updates     []UpdateBatch
	removed     [][]internal.ActorID
	actions     []ObjectAction
	results     []internal.GameResultData
	clearCalls  int
	clearedPkgs int
}

// NewFakeConnection 以使用者名稱建立連線
func NewFakeConnection(username string) *FakeConnection {
	return &FakeConnection{
		id: uuid.NewString(),
		hello: internal.ClientHello{
			Username:       username,
			CharacterName:  "witch",
			CharacterStyle: "default",
		},
	}
}

// ID 連線 ID
func (c *FakeConnection) ID() string { return c.id }

// Hello 客戶端身份
func (c *FakeConnection) Hello() internal.ClientHello { return c.hello }

// Push 推入收到的封包，同一次呼叫的封包會一起出現在佇列中
func (c *FakeConnection) Push(pkgs ...internal.Package) {
	c.mu.Lock()
	c.inbox = append(c.inbox, pkgs...)
	c.mu.Unlock()
}

// PushType 推入沒有資料的封包
func (c *FakeConnection) PushType(t internal.PackageType) {
	c.Push(internal.Package{Type: t})
}

// PushData 推入帶資料的封包，data 必須能編碼成 JSON
func (c *FakeConnection) PushData(t internal.PackageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	c.Push(internal.Package{Type: t, Data: raw})
}

func (c *FakeConnection) NumPackages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbox)
}

func (c *FakeConnection) Package(i int) internal.Package {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox[i]
}

func (c *FakeConnection) ClearPackages(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.inbox) {
		n = len(c.inbox)
	}
	c.inbox = append(c.inbox[:0], c.inbox[n:]...)
	c.clearCalls++
	c.clearedPkgs += n
}

func (c *FakeConnection) SendCreateObjects(objects []internal.ObjectInstance) {
	c.mu.Lock()
	c.creates = append(c.creates, append([]internal.ObjectInstance(nil), objects...))
	c.mu.Unlock()
}

func (c *FakeConnection) SendLevelData(data []byte) {
	c.mu.Lock()
	c.levelData = append(c.levelData, append([]byte(nil), data...))
	c.mu.Unlock()
}

func (c *FakeConnection) SendAssignPlayer(id internal.ActorID) {
	c.mu.Lock()
	c.assigned = append(c.assigned, id)
	c.mu.Unlock()
}

func (c *FakeConnection) SendUpdateObjects(updates []internal.UpdateObjectData, extra []string) {
	c.mu.Lock()
	c.updates = append(c.updates, UpdateBatch{
		Updates: append([]internal.UpdateObjectData(nil), updates...),
		Extra:   append([]string(nil), extra...),
	})
	c.mu.Unlock()
}

func (c *FakeConnection) SendRemoveObjects(ids []internal.ActorID) {
	c.mu.Lock()
	c.removed = append(c.removed, append([]internal.ActorID(nil), ids...))
	c.mu.Unlock()
}

func (c *FakeConnection) SendObjectAction(id internal.ActorID, action string) {
	c.mu.Lock()
	c.actions = append(c.actions, ObjectAction{ID: id, Action: action})
	c.mu.Unlock()
}

func (c *FakeConnection) SendGameResult(result internal.GameResultData) {
	c.mu.Lock()
	c.results = append(c.results, result)
	c.mu.Unlock()
}

// Pending 尚未被取走的封包數
func (c *FakeConnection) Pending() int { return c.NumPackages() }

// ClearedPackages ClearPackages 累計清除的封包數
func (c *FakeConnection) ClearedPackages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearedPkgs
}

// CreatedObjects 所有 CREATE_OBJECTS
func (c *FakeConnection) CreatedObjects() [][]internal.ObjectInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]internal.ObjectInstance(nil), c.creates...)
}

// LevelData 所有 LEVEL_DATA
func (c *FakeConnection) LevelData() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.levelData...)
}

// Assigned 所有 ASSIGN_PLAYER
func (c *FakeConnection) Assigned() []internal.ActorID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]internal.ActorID(nil), c.assigned...)
}

// Updates 所有 UPDATE_OBJECTS
func (c *FakeConnection) Updates() []UpdateBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]UpdateBatch(nil), c.updates...)
}

// Removed 所有 REMOVE_OBJECTS
func (c *FakeConnection) Removed() [][]internal.ActorID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]internal.ActorID(nil), c.removed...)
}

// Actions 所有 OBJECT_ACTION
func (c *FakeConnection) Actions() []ObjectAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ObjectAction(nil), c.actions...)
}

// Results 所有 GAME_RESULT
func (c *FakeConnection) Results() []internal.GameResultData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]internal.GameResultData(nil), c.results...)
}

// FakeNetwork 由測試手動觸發連線與斷線
type FakeNetwork struct {
	mu           sync.Mutex
	onConnect    internal.ConnectionCallback
	onDisconnect internal.ConnectionCallback

	// StartErr 非 nil 時 Start 回傳此錯誤
	StartErr error
	// OnStop 在 Stop 中、回傳之前呼叫
	OnStop func()

	StartCalls atomic.Int32
	StopCalls  atomic.Int32
}

// NewFakeNetwork 創建假網路層
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{}
}

func (n *FakeNetwork) SetClientConnectedCallback(cb internal.ConnectionCallback) {
	n.mu.Lock()
	n.onConnect = cb
	n.mu.Unlock()
}

func (n *FakeNetwork) SetClientDisconnectedCallback(cb internal.ConnectionCallback) {
	n.mu.Lock()
	n.onDisconnect = cb
	n.mu.Unlock()
}

func (n *FakeNetwork) Start() error {
	n.StartCalls.Add(1)
	return n.StartErr
}

func (n *FakeNetwork) Stop(ctx context.Context) error {
	n.StopCalls.Add(1)
	if n.OnStop != nil {
		n.OnStop()
	}
	return ctx.Err()
}

// Connect 觸發連線回呼，回傳回呼是否存在
func (n *FakeNetwork) Connect(conn internal.Connection) bool {
	n.mu.Lock()
	cb := n.onConnect
	n.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(conn)
	return true
}

// Disconnect 觸發斷線回呼，回傳回呼是否存在
func (n *FakeNetwork) Disconnect(conn internal.Connection) bool {
	n.mu.Lock()
	cb := n.onDisconnect
	n.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(conn)
	return true
}

// HasCallbacks 兩個回呼是否都已設置
func (n *FakeNetwork) HasCallbacks() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.onConnect != nil && n.onDisconnect != nil
}

// FakeRoundLogic 記錄每個鉤子的呼叫次數
type FakeRoundLogic struct {
	SetupCalls       atomic.Int32
	SendLevelCalls   atomic.Int32
	UpdateCalls      atomic.Int32
	SendUpdatesCalls atomic.Int32

	// 錯誤注入
	SetupErr   error
	SetupPanic any
	UpdateErr  error
	// UpdatePanic 非 nil 時第一次 UpdateLogic 會 panic
	UpdatePanic any

	mu           sync.Mutex
	disconnected []*internal.Player
	lastDT       time.Duration
}

// NewFakeRoundLogic 創建假回合邏輯
func NewFakeRoundLogic() *FakeRoundLogic {
	return &FakeRoundLogic{}
}

func (f *FakeRoundLogic) Setup(r *internal.GameRound) error {
	f.SetupCalls.Add(1)
	if f.SetupPanic != nil {
		panic(f.SetupPanic)
	}
	return f.SetupErr
}

func (f *FakeRoundLogic) SendLevel(r *internal.GameRound) error {
	f.SendLevelCalls.Add(1)
	return nil
}

func (f *FakeRoundLogic) UpdateLogic(r *internal.GameRound, dt time.Duration) error {
	f.UpdateCalls.Add(1)
	f.mu.Lock()
	f.lastDT = dt
	f.mu.Unlock()
	if f.UpdatePanic != nil {
		panic(f.UpdatePanic)
	}
	return f.UpdateErr
}

func (f *FakeRoundLogic) SendUpdates(r *internal.GameRound) error {
	f.SendUpdatesCalls.Add(1)
	return nil
}

func (f *FakeRoundLogic) PlayerDisconnected(r *internal.GameRound, p *internal.Player) {
	f.mu.Lock()
	f.disconnected = append(f.disconnected, p)
	f.mu.Unlock()
}

// Disconnected PlayerDisconnected 收到的玩家
func (f *FakeRoundLogic) Disconnected() []*internal.Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*internal.Player(nil), f.disconnected...)
}

// LastDT 最後一次 UpdateLogic 的 dt
func (f *FakeRoundLogic) LastDT() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastDT
}

// ExtraRoundLogic 額外處理指定的封包類型
type ExtraRoundLogic struct {
	*FakeRoundLogic

	Accept internal.PackageType

	mu      sync.Mutex
	handled []internal.Package
}

// NewExtraRoundLogic 創建會處理 accept 類型封包的回合邏輯
func NewExtraRoundLogic(accept internal.PackageType) *ExtraRoundLogic {
	return &ExtraRoundLogic{FakeRoundLogic: NewFakeRoundLogic(), Accept: accept}
}

func (e *ExtraRoundLogic) HandleExtraPackage(r *internal.GameRound, p *internal.Player, pkg internal.Package) bool {
	if pkg.Type != e.Accept {
		return false
	}
	e.mu.Lock()
	e.handled = append(e.handled, pkg)
	e.mu.Unlock()
	return true
}

// Handled 已處理的封包
func (e *ExtraRoundLogic) Handled() []internal.Package {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]internal.Package(nil), e.handled...)
}

// FakePublisher 收集發布的事件
type FakePublisher struct {
	mu     sync.Mutex
	events []internal.RoundEvent
	closed bool
}

// NewFakePublisher 創建事件收集器
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (p *FakePublisher) Publish(ctx context.Context, event internal.RoundEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *FakePublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Events 所有事件
func (p *FakePublisher) Events() []internal.RoundEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]internal.RoundEvent(nil), p.events...)
}

// Types 依序列出事件類型
func (p *FakePublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// MemoryResultStore 記憶體內的排行榜，保留每位玩家最佳時間
type MemoryResultStore struct {
	mu      sync.Mutex
	best    map[string]map[string]float64
	records []internal.RaceResult

	// TopErr 非 nil 時 Top 回傳此錯誤
	TopErr error
}

// NewMemoryResultStore 創建記憶體排行榜
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{best: make(map[string]map[string]float64)}
}

func (s *MemoryResultStore) Record(ctx context.Context, result internal.RaceResult) error {
	if result.Player == "" {
		return errors.New("缺少玩家名稱")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, result)
	level := s.best[result.Level]
	if level == nil {
		level = make(map[string]float64)
		s.best[result.Level] = level
	}
	secs := result.Time.Seconds()
	if prev, ok := level[result.Player]; !ok || secs < prev {
		level[result.Player] = secs
	}
	return nil
}

func (s *MemoryResultStore) Top(ctx context.Context, level string, n int) ([]internal.LeaderboardEntry, error) {
	if s.TopErr != nil {
		return nil, s.TopErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]internal.LeaderboardEntry, 0, len(s.best[level]))
	for player, best := range s.best[level] {
		out = append(out, internal.LeaderboardEntry{Player: player, Best: best})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Best < out[j].Best })
	if n < len(out) {
		out = out[:max(n, 0)]
	}
	return out, nil
}

func (s *MemoryResultStore) Close() error { return nil }

// Records 所有寫入的成績
func (s *MemoryResultStore) Records() []internal.RaceResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal.RaceResult(nil), s.records...)
}
