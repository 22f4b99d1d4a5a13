package internal

import (
	"fmt"
	"sort"
	"sync"
)

// RoundConstructor 建立一種回合的邏輯
type RoundConstructor func() (RoundLogic, error)

// GameRoundFactory 依遊戲類型名稱建立回合
type GameRoundFactory struct {
	mu    sync.RWMutex
	types map[string]RoundConstructor
	opts  RoundOptions
}

// NewGameRoundFactory 創建工廠，opts 會傳給每個建立的回合
func NewGameRoundFactory(opts RoundOptions) *GameRoundFactory {
	return &GameRoundFactory{
		types: make(map[string]RoundConstructor),
		opts:  opts,
	}
}

// Register 註冊遊戲類型，同名時覆蓋
func (f *GameRoundFactory) Register(name string, ctor RoundConstructor) {
	f.mu.Lock()
	f.types[name] = ctor
	f.mu.Unlock()
}

// Has 是否認得此類型
func (f *GameRoundFactory) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.types[name]
	return ok
}

// Types 已註冊的類型，依名稱排序
func (f *GameRoundFactory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.types))
	for name := range f.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateRound 建立已 Initialize 的回合
func (f *GameRoundFactory) CreateRound(gameType string, returnLobby FreeUserQueue) (*GameRound, error) {
	f.mu.RLock()
	ctor, ok := f.types[gameType]
	f.mu.RUnlock()
	if !ok {
		return nil, NewServerError(ErrCodeUnknownGameType, fmt.Sprintf("未知的遊戲類型: %s", gameType))
	}

	logic, err := ctor()
	if err != nil {
		return nil, WrapServerError(err, ErrCodeSetupFailed, fmt.Sprintf("建立 %s 回合失敗", gameType))
	}

	r := NewGameRound(logic, f.opts)
	r.Initialize(NewActorFactory(), returnLobby)
	r.SetGameType(gameType)
	r.SetLevel(gameType)
	return r, nil
}
