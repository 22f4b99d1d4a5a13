package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RoundStarter 接收並啟動新回合
type RoundStarter interface {
	AddGameRound(r *GameRound) error
}

// AvailableLevel 一個可加入的關卡與正在等待的使用者
type AvailableLevel struct {
	name       string
	maxPlayers int
	timeout    time.Duration
	waited     time.Duration
	joined     []UserHandle
}

// LevelOption 關卡選項
type LevelOption func(*AvailableLevel)

// WithStartTimeout 等待超過 d 就以現有人數開始，0 表示只在滿員時開始
func WithStartTimeout(d time.Duration) LevelOption {
	return func(l *AvailableLevel) {
		l.timeout = d
	}
}

// LevelStatus 關卡的排隊狀態
type LevelStatus struct {
	Name         string        `json:"name"`
	MaxPlayers   int           `json:"max_players"`
	Joined       int           `json:"joined"`
	StartTimeout time.Duration `json:"start_timeout"`
	Waited       time.Duration `json:"waited"`
}

// Lobby 配對大廳
//
// 使用者先進入 free 佇列，每次 CheckFreeUsers 依序分配到第一個關卡，
// 關卡滿員（或等待逾時）時建立回合並交給 RoundStarter。
// 所有路徑都持有 mu；新回合在釋放鎖之後才交出去。
type Lobby struct {
	mu      sync.Mutex
	free    []UserHandle
	levels  []*AvailableLevel
	factory *GameRoundFactory
	starter RoundStarter
	logger  *slog.Logger
	metrics *Metrics
}

// NewLobby 創建大廳
func NewLobby(factory *GameRoundFactory, starter RoundStarter, logger *slog.Logger, metrics *Metrics) *Lobby {
	if logger == nil {
		logger = discardLogger()
	}
	return &Lobby{
		factory: factory,
		starter: starter,
		logger:  logger,
		metrics: metrics,
	}
}

// AddAvailableLevel 註冊可加入的關卡，名稱必須是工廠認得的遊戲類型
func (l *Lobby) AddAvailableLevel(name string, maxPlayers int, opts ...LevelOption) error {
	if maxPlayers < 1 {
		return NewServerError(ErrCodeInvalidConfig, fmt.Sprintf("關卡 %s 的人數上限必須至少為 1", name))
	}
	if l.factory == nil || !l.factory.Has(name) {
		return NewServerError(ErrCodeUnknownGameType, fmt.Sprintf("未知的遊戲類型: %s", name))
	}

	level := &AvailableLevel{name: name, maxPlayers: maxPlayers}
	for _, opt := range opts {
		opt(level)
	}

	l.mu.Lock()
	l.levels = append(l.levels, level)
	l.mu.Unlock()

	l.logger.Info("關卡已加入大廳",
		"level", name,
		"max_players", maxPlayers,
		"start_timeout", level.timeout)
	return nil
}

// AddFreeUser 使用者進入大廳等待分配
func (l *Lobby) AddFreeUser(h UserHandle) {
	if u, ok := h.Get(); ok {
		u.SetState(StateLobby)
	}

	l.mu.Lock()
	l.free = append(l.free, h)
	l.mu.Unlock()
}

type levelBatch struct {
	level string
	users []UserHandle
}

// CheckFreeUsers 分配使用者並啟動已滿員或逾時的關卡
//
// 沒有任何關卡時使用者留在佇列中，下次再分配。
func (l *Lobby) CheckFreeUsers(dt time.Duration) {
	l.mu.Lock()

	l.free = pruneHandles(l.free)
	for _, level := range l.levels {
		level.joined = pruneHandles(level.joined)
	}

	if len(l.levels) == 0 {
		if len(l.free) > 0 {
			l.logger.Info("沒有可用的關卡，使用者留在大廳", "waiting", len(l.free))
		}
		queued := len(l.free)
		l.mu.Unlock()
		l.metrics.setLobbyQueued(queued)
		return
	}

	var batches []levelBatch

	level := l.levels[0]
	for _, h := range l.free {
		u, ok := h.Get()
		if !ok {
			continue
		}
		u.SetState(StateWaitingForGame)
		level.joined = append(level.joined, h)

		if len(level.joined) >= level.maxPlayers {
			batches = append(batches, level.take())
		}
	}
	l.free = nil

	for _, level := range l.levels {
		if len(level.joined) == 0 {
			level.waited = 0
			continue
		}
		if level.timeout <= 0 {
			continue
		}
		level.waited += dt
		if level.waited >= level.timeout {
			l.logger.Info("關卡等待逾時，以現有人數開始",
				"level", level.name,
				"players", len(level.joined))
			batches = append(batches, level.take())
		}
	}

	queued := 0
	for _, level := range l.levels {
		queued += len(level.joined)
	}
	l.mu.Unlock()

	l.metrics.setLobbyQueued(queued)

	for _, b := range batches {
		l.startLevel(b)
	}
}

func (a *AvailableLevel) take() levelBatch {
	b := levelBatch{level: a.name, users: a.joined}
	a.joined = nil
	a.waited = 0
	return b
}

func pruneHandles(hs []UserHandle) []UserHandle {
	kept := hs[:0]
	for _, h := range hs {
		if !h.Expired() {
			kept = append(kept, h)
		}
	}
	for i := len(kept); i < len(hs); i++ {
		hs[i] = UserHandle{}
	}
	return kept
}

// startLevel 建立回合，失敗時使用者回到大廳
func (l *Lobby) startLevel(b levelBatch) {
	r, err := l.factory.CreateRound(b.level, l)
	if err != nil {
		l.logger.Error("建立回合失敗", "level", b.level, "error", err)
		l.requeue(b.users)
		return
	}

	for _, h := range b.users {
		if err := r.AddNewPlayer(h); err != nil {
			l.logger.Error("加入玩家失敗", "level", b.level, "error", err)
		}
	}

	l.logger.Info("開始新回合",
		"level", b.level,
		"round_id", r.ID(),
		"players", len(b.users))

	if err := l.starter.AddGameRound(r); err != nil {
		l.requeue(b.users)
	}
}

func (l *Lobby) requeue(users []UserHandle) {
	for _, h := range users {
		if !h.Expired() {
			l.AddFreeUser(h)
		}
	}
}

// FreeUserCount 等待分配的使用者數
func (l *Lobby) FreeUserCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.free)
}

// Levels 各關卡的排隊狀態
func (l *Lobby) Levels() []LevelStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LevelStatus, 0, len(l.levels))
	for _, level := range l.levels {
		out = append(out, LevelStatus{
			Name:         level.name,
			MaxPlayers:   level.maxPlayers,
			Joined:       len(level.joined),
			StartTimeout: level.timeout,
			Waited:       level.waited,
		})
	}
	return out
}

// Clear 清空所有佇列與關卡
func (l *Lobby) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.free = nil
	l.levels = nil
}
