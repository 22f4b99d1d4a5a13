package internal

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// 系統設計問題：
//   如何讓每個回合獨立運行，一個回合出錯不影響其他回合與伺服器？
//
// 核心挑戰：
//   1. 隔離：每個回合一個 goroutine，panic 在 goroutine 邊界攔截
//   2. 存活判斷：使用者斷線由 Server 觸發，回合 goroutine 每個 tick 透過 UserHandle 檢查
//   3. 固定頻率：模擬以 20ms 為目標間隔，依實際耗時修正睡眠時間
//   4. 生命週期：goroutine 結束即代表回合結束，結束時通知 GameList 清理
//
// 設計方案：
//   ✅ RoundLogic 介面 - 回合種類只實作 Setup/SendLevel/UpdateLogic/SendUpdates/PlayerDisconnected
//   ✅ 輪詢封包佇列 - 回合 goroutine 上不做阻塞 I/O
//   ✅ atomic 旗標 - running/started/finished 跨 goroutine 讀取

// RoundLogic 回合種類的擴充點
//
// 所有方法都在回合 goroutine 上呼叫（Setup 除外，它在 GameList.AddGameRound 中呼叫）。
type RoundLogic interface {
	// Setup 啟動前建立初始物件
	Setup(r *GameRound) error
	// SendLevel 傳送關卡資料與 ASSIGN_PLAYER
	SendLevel(r *GameRound) error
	// UpdateLogic 推進一個 tick
	UpdateLogic(r *GameRound, dt time.Duration) error
	// SendUpdates 廣播這個 tick 的狀態
	SendUpdates(r *GameRound) error
	// PlayerDisconnected 玩家被移除前呼叫，用來通知其他玩家
	PlayerDisconnected(r *GameRound, p *Player)
}

// ExtraPackageHandler 處理核心以外的封包類型，回傳是否已處理
type ExtraPackageHandler interface {
	HandleExtraPackage(r *GameRound, p *Player, pkg Package) bool
}

// FreeUserQueue 接收離開回合的使用者
type FreeUserQueue interface {
	AddFreeUser(h UserHandle)
}

// roundOwner 回合結束時通知的清單
type roundOwner interface {
	RemoveGameRound()
}

// RoundPhase 回合階段
type RoundPhase string

const (
	PhaseCreated  RoundPhase = "created"  // 尚未啟動
	PhaseLoading  RoundPhase = "loading"  // 等待客戶端載入關卡
	PhaseRunning  RoundPhase = "running"  // 模擬中
	PhaseFinished RoundPhase = "finished" // 已結束
)

// RoundTiming 回合節奏
type RoundTiming struct {
	TickInterval     time.Duration
	LoadPollInterval time.Duration
}

// DefaultRoundTiming 50Hz 模擬、100ms 載入輪詢
func DefaultRoundTiming() RoundTiming {
	return RoundTiming{
		TickInterval:     20 * time.Millisecond,
		LoadPollInterval: 100 * time.Millisecond,
	}
}

// RoundOptions 回合的外部依賴，零值可用
type RoundOptions struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Events  EventPublisher
	Results ResultStore
	Timing  RoundTiming
}

// GameRound 一場遊戲
//
// running 為 true 時回合 goroutine 是回合狀態唯一的寫入者，
// 外部只透過 Players 等方法讀取快照。
type GameRound struct {
	id       string
	gameType string
	level    string
	logic    RoundLogic

	actorFactory *ActorFactory
	returnLobby  FreeUserQueue
	owner        roundOwner

	timing  RoundTiming
	logger  *slog.Logger
	metrics *Metrics
	events  EventPublisher
	results ResultStore

	mu        sync.RWMutex
	players   []*Player
	phase     RoundPhase
	outcome   string
	startedAt time.Time

	running  atomic.Bool
	started  atomic.Bool
	finished atomic.Bool
	stopped  atomic.Bool

	finishOnce sync.Once
	stopOnce   sync.Once
	stopCh     chan struct{}
	done       chan struct{}
}

// NewGameRound 創建回合
func NewGameRound(logic RoundLogic, opts RoundOptions) *GameRound {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Events == nil {
		opts.Events = NopPublisher{}
	}
	def := DefaultRoundTiming()
	if opts.Timing.TickInterval <= 0 {
		opts.Timing.TickInterval = def.TickInterval
	}
	if opts.Timing.LoadPollInterval <= 0 {
		opts.Timing.LoadPollInterval = def.LoadPollInterval
	}

	id := uuid.NewString()
	return &GameRound{
		id:      id,
		logic:   logic,
		timing:  opts.Timing,
		logger:  opts.Logger.With("round_id", id),
		metrics: opts.Metrics,
		events:  opts.Events,
		results: opts.Results,
		phase:   PhaseCreated,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Initialize 設置依賴，必須在 Setup/Start 之前呼叫
func (r *GameRound) Initialize(af *ActorFactory, returnLobby FreeUserQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actorFactory = af
	r.returnLobby = returnLobby
}

// SetOwningList 設置結束時要通知的清單
func (r *GameRound) SetOwningList(owner roundOwner) {
	r.mu.Lock()
	r.owner = owner
	r.mu.Unlock()
}

// AddNewPlayer 加入玩家，只能在 Start 之前
func (r *GameRound) AddNewPlayer(h UserHandle) error {
	if r.started.Load() {
		return NewServerError(ErrCodeInvalidState, "回合已啟動，無法加入玩家")
	}
	r.mu.Lock()
	r.players = append(r.players, NewPlayer(h))
	r.mu.Unlock()
	return nil
}

// Setup 執行回合種類的初始化，panic 轉為 SETUP_FAILED
func (r *GameRound) Setup() (err error) {
	if r.started.Load() {
		return NewServerError(ErrCodeInvalidState, "回合已啟動，無法再 Setup")
	}
	if r.ActorFactory() == nil {
		return NewServerError(ErrCodeNotInitialized, "回合尚未 Initialize")
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = NewServerError(ErrCodeSetupFailed, fmt.Sprintf("Setup panic: %v", rec))
		}
	}()

	if err := r.logic.Setup(r); err != nil {
		return WrapServerError(err, ErrCodeSetupFailed, "回合設置失敗")
	}
	return nil
}

// Start 啟動回合 goroutine，立即返回
func (r *GameRound) Start() error {
	r.mu.RLock()
	ready := r.actorFactory != nil && r.returnLobby != nil
	r.mu.RUnlock()
	if !ready {
		return NewServerError(ErrCodeNotInitialized, "回合尚未 Initialize")
	}
	if r.started.Swap(true) {
		return NewServerError(ErrCodeInvalidState, "回合已啟動")
	}

	r.running.Store(true)
	r.mu.Lock()
	r.startedAt = time.Now()
	r.mu.Unlock()

	go r.run()
	return nil
}

// Stop 要求回合結束，可重複呼叫
func (r *GameRound) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		r.running.Store(false)
		close(r.stopCh)
	})
}

// Done 回合結束時關閉
func (r *GameRound) Done() <-chan struct{} {
	return r.done
}

// Expired 回合已結束（goroutine 已返回或啟動失敗）
func (r *GameRound) Expired() bool {
	return r.finished.Load()
}

// Running 回合是否仍在運行
func (r *GameRound) Running() bool {
	return r.running.Load()
}

// ID 回合 ID
func (r *GameRound) ID() string { return r.id }

// SetGameType 設置遊戲類型
func (r *GameRound) SetGameType(name string) {
	r.mu.Lock()
	r.gameType = name
	r.mu.Unlock()
}

// GameType 遊戲類型
func (r *GameRound) GameType() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gameType
}

// SetLevel 設置關卡名稱，用於成績紀錄
func (r *GameRound) SetLevel(name string) {
	r.mu.Lock()
	r.level = name
	r.mu.Unlock()
}

// Level 關卡名稱，未設置時等於遊戲類型
func (r *GameRound) Level() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.level == "" {
		return r.gameType
	}
	return r.level
}

// Phase 目前階段
func (r *GameRound) Phase() RoundPhase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Outcome 結束原因，未結束時為空
func (r *GameRound) Outcome() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcome
}

// Players 玩家列表快照
func (r *GameRound) Players() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Player, len(r.players))
	copy(out, r.players)
	return out
}

// ActorFactory 回合的 ActorFactory
func (r *GameRound) ActorFactory() *ActorFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actorFactory
}

// Logger 帶有 round_id 的 logger
func (r *GameRound) Logger() *slog.Logger { return r.logger }

// EachConnected 對每位仍在線的玩家呼叫 fn
func (r *GameRound) EachConnected(fn func(p *Player, u *User)) {
	for _, p := range r.Players() {
		if u, ok := p.User().Get(); ok {
			fn(p, u)
		}
	}
}

// RoundInfo 診斷用的回合摘要
type RoundInfo struct {
	ID        string     `json:"round_id"`
	GameType  string     `json:"game_type"`
	Phase     RoundPhase `json:"phase"`
	Players   []string   `json:"players"`
	StartedAt time.Time  `json:"started_at"`
}

// Info 回合摘要
func (r *GameRound) Info() RoundInfo {
	names := make([]string, 0)
	for _, p := range r.Players() {
		if name := p.Name(); name != "" {
			names = append(names, name)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoundInfo{
		ID:        r.id,
		GameType:  r.gameType,
		Phase:     r.phase,
		Players:   names,
		StartedAt: r.startedAt,
	}
}

// Description 控制台顯示用
func (r *GameRound) Description() string {
	info := r.Info()
	return fmt.Sprintf("%s [%s] %s, %d 位玩家 %v", info.GameType, info.ID[:8], info.Phase, len(info.Players), info.Players)
}

// RecordResult 非同步寫入成績並發布 round.result
func (r *GameRound) RecordResult(result RaceResult) {
	result.RoundID = r.id
	if result.Level == "" {
		result.Level = r.Level()
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if r.results != nil {
			if err := r.results.Record(ctx, result); err != nil {
				r.logger.Error("寫入成績失敗", "player", result.Player, "error", err)
			}
		}
		r.publish(ctx, RoundEvent{Type: EventRoundResult, Result: &result})
	}()
}

func (r *GameRound) publish(ctx context.Context, event RoundEvent) {
	event.RoundID = r.id
	event.GameType = r.GameType()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn("發布回合事件失敗", "event", event.Type, "error", err)
	}
}

func (r *GameRound) publishAsync(event RoundEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		r.publish(ctx, event)
	}()
}

func (r *GameRound) setPhase(p RoundPhase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

// run 回合 goroutine
//
// 閉包持有 r，回合物件至少存活到 run 返回。
func (r *GameRound) run() {
	outcome := OutcomeCompleted
	defer func() { r.finish(outcome, true) }()
	defer func() {
		if rec := recover(); rec != nil {
			outcome = OutcomeCrashed
			r.logger.Log(context.Background(), LevelFatal, "未預期的錯誤中止了回合",
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()

	gameType := r.GameType()
	r.logger.Info("回合開始", "game_type", gameType, "players", len(r.Players()))
	r.metrics.roundStarted(gameType)
	r.publishAsync(RoundEvent{Type: EventRoundStarted, Players: r.Info().Players})

	var err error
	outcome, err = r.runPhases()
	if err != nil {
		outcome = OutcomeCrashed
		r.logger.Log(context.Background(), LevelFatal, "未預期的錯誤中止了回合", "error", err)
	}
}

func (r *GameRound) runPhases() (string, error) {
	if err := r.sendLevelAndWait(); err != nil {
		return OutcomeCrashed, err
	}

	if r.stopped.Load() {
		return OutcomeStopped, nil
	}
	if len(r.Players()) == 0 {
		r.logger.Info("所有客戶端在載入完成前離線，回合中止")
		return OutcomeEmpty, nil
	}

	r.logger.Info("客戶端已載入關卡，開始遊戲")
	r.EachConnected(func(_ *Player, u *User) {
		u.SetState(StateInGame)
	})

	if err := r.runGame(); err != nil {
		return OutcomeCrashed, err
	}

	if r.stopped.Load() {
		return OutcomeStopped, nil
	}
	return OutcomeCompleted, nil
}

// sendLevelAndWait 傳送關卡後等待所有在線玩家回報載入完成
func (r *GameRound) sendLevelAndWait() error {
	r.setPhase(PhaseLoading)
	r.EachConnected(func(_ *Player, u *User) {
		u.SetState(StateLoadingLevel)
	})

	if err := r.logic.SendLevel(r); err != nil {
		return fmt.Errorf("傳送關卡失敗: %w", err)
	}

	for r.running.Load() {
		r.handlePackages()
		if r.allDoneLoading() {
			break
		}
		if !r.sleep(r.timing.LoadPollInterval) {
			break
		}
	}

	r.checkForDisconnectedUsers()
	return nil
}

// allDoneLoading 已斷線的玩家不列入
func (r *GameRound) allDoneLoading() bool {
	for _, p := range r.Players() {
		u, ok := p.User().Get()
		if !ok {
			continue
		}
		if u.State() != StateWaitingForStart {
			return false
		}
	}
	return true
}

// runGame 固定頻率的模擬循環
//
// dt 為兩次迭代開始之間的實際時間，睡眠 max(0, tick - 本次耗時)。
func (r *GameRound) runGame() error {
	r.setPhase(PhaseRunning)

	prev := time.Now()
	for r.running.Load() {
		start := time.Now()
		dt := start.Sub(prev)
		prev = start

		r.handlePackages()
		r.checkForDisconnectedUsers()
		if !r.running.Load() {
			break
		}

		if err := r.logic.UpdateLogic(r, dt); err != nil {
			return fmt.Errorf("更新回合邏輯失敗: %w", err)
		}
		if err := r.logic.SendUpdates(r); err != nil {
			return fmt.Errorf("傳送更新失敗: %w", err)
		}

		elapsed := time.Since(start)
		r.metrics.observeTick(elapsed)

		if !r.sleep(r.timing.TickInterval - elapsed) {
			break
		}
	}
	return nil
}

// sleep 回傳 false 代表等待期間收到 Stop
func (r *GameRound) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-r.stopCh:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-r.stopCh:
		return false
	}
}

// handlePackages 取出每位在線玩家的所有待處理封包
func (r *GameRound) handlePackages() {
	for _, p := range r.Players() {
		u, ok := p.User().Get()
		if !ok {
			continue
		}

		conn := u.Connection()
		n := conn.NumPackages()

	dispatch:
		for i := 0; i < n; i++ {
			pkg := conn.Package(i)
			r.metrics.packageHandled(pkg.Type)

			switch pkg.Type {
			case PackagePlayerControl:
				data, err := pkg.PlayerControl()
				if err != nil {
					r.logger.Warn("無效的 PLAYER_CONTROL 封包", "user", u.Username(), "error", err)
					continue
				}
				p.SetControl(data)

			case PackageDoneLoading:
				u.SetState(StateWaitingForStart)

			case PackageLeaveGame:
				r.returnLobby.AddFreeUser(u.Handle())
				p.ReleaseUser()
				r.logger.Info("玩家離開回合", "user", u.Username())
				break dispatch

			default:
				if h, ok := r.logic.(ExtraPackageHandler); ok && h.HandleExtraPackage(r, p, pkg) {
					continue
				}
				r.logger.Warn("收到未處理的封包", "type", pkg.Type, "user", u.Username())
			}
		}

		conn.ClearPackages(n)
	}
}

// checkForDisconnectedUsers 移除已斷線的玩家，列表清空時停止回合
func (r *GameRound) checkForDisconnectedUsers() {
	r.mu.Lock()
	alive := make([]*Player, 0, len(r.players))
	var gone []*Player
	for _, p := range r.players {
		if p.User().Expired() {
			gone = append(gone, p)
		} else {
			alive = append(alive, p)
		}
	}
	r.players = alive
	empty := len(alive) == 0
	r.mu.Unlock()

	for _, p := range gone {
		r.logic.PlayerDisconnected(r, p)
		r.logger.Info("玩家已從回合移除", "remaining", len(alive))
	}

	if empty {
		r.running.Store(false)
	}
}

// finish 標記回合結束，只執行一次
func (r *GameRound) finish(outcome string, notifyOwner bool) {
	r.finishOnce.Do(func() {
		r.running.Store(false)

		r.mu.Lock()
		r.phase = PhaseFinished
		r.outcome = outcome
		owner := r.owner
		gameType := r.gameType
		r.mu.Unlock()

		r.finished.Store(true)

		r.metrics.roundFinished(gameType, outcome)
		if outcome != OutcomeSetupFailed {
			r.publishAsync(RoundEvent{Type: EventRoundFinished, Outcome: outcome})
		}
		r.logger.Info("回合已停止", "game_type", gameType, "outcome", outcome)

		if notifyOwner && owner != nil {
			owner.RemoveGameRound()
		}
		close(r.done)
	})
}

// abandon 啟動失敗的回合直接標記為結束
func (r *GameRound) abandon() {
	r.running.Store(false)
	r.finish(OutcomeSetupFailed, false)
}
