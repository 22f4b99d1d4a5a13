package internal

import (
	"log/slog"
	"sync"
)

// GameList 進行中回合的清單
//
// 已結束的回合只在 RemoveGameRound 時才從清單移除。
// 回合 goroutine 結束時會自己呼叫 RemoveGameRound。
type GameList struct {
	mu     sync.Mutex
	rounds []*GameRound
	logger *slog.Logger
}

// NewGameList 創建回合清單
func NewGameList(logger *slog.Logger) *GameList {
	if logger == nil {
		logger = discardLogger()
	}
	return &GameList{logger: logger}
}

// AddGameRound 加入並啟動回合
//
// Setup 或 Start 失敗時回合會立即從清單移除，錯誤記錄後回傳給呼叫端。
func (l *GameList) AddGameRound(r *GameRound) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rounds = append(l.rounds, r)
	r.SetOwningList(l)

	err := r.Setup()
	if err == nil {
		err = r.Start()
	}
	if err != nil {
		l.logger.Error("啟動回合失敗",
			"round_id", r.ID(),
			"game_type", r.GameType(),
			"error", err)
		r.abandon()
		l.pruneLocked()
		return err
	}

	return nil
}

// RemoveGameRound 移除所有已結束的回合
func (l *GameList) RemoveGameRound() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
}

func (l *GameList) pruneLocked() {
	kept := l.rounds[:0]
	for _, r := range l.rounds {
		if !r.Expired() {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(l.rounds); i++ {
		l.rounds[i] = nil
	}
	l.rounds = kept
}

// StopAllGames 停止所有回合並清空清單
func (l *GameList) StopAllGames() {
	l.mu.Lock()
	rounds := l.rounds
	l.rounds = nil
	l.mu.Unlock()

	for _, r := range rounds {
		r.Stop()
	}

	if len(rounds) > 0 {
		l.logger.Info("已停止所有回合", "count", len(rounds))
	}
}

// RunningGames 仍在進行的回合快照
func (l *GameList) RunningGames() []*GameRound {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*GameRound, 0, len(l.rounds))
	for _, r := range l.rounds {
		if !r.Expired() {
			out = append(out, r)
		}
	}
	return out
}

// Len 清單中的條目數，包含尚未清理的已結束回合
func (l *GameList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rounds)
}
