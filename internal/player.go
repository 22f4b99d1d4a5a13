package internal

import "sync"

// Player 一位使用者在某個回合中的資料
//
// user 是弱參考：使用者斷線後 Player 仍保留回合內的紀錄（檢查點進度等），
// 直到回合在下一次清理時移除它。
type Player struct {
	mu          sync.RWMutex
	user        UserHandle
	actor       *Actor
	control     PlayerControlData
	checkpoints *CheckpointSystem
}

// NewPlayer 創建玩家
func NewPlayer(h UserHandle) *Player {
	return &Player{
		user:        h,
		checkpoints: NewCheckpointSystem(),
	}
}

// User 回傳對使用者的弱參考，使用前須檢查 Expired
func (p *Player) User() UserHandle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user
}

// ReleaseUser 清除使用者參考，玩家本身保留到回合清理
func (p *Player) ReleaseUser() {
	p.mu.Lock()
	p.user = UserHandle{}
	p.mu.Unlock()
}

// Actor 玩家角色，尚未指派時為 nil
func (p *Player) Actor() *Actor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.actor
}

// SetActor 指派角色
func (p *Player) SetActor(a *Actor) {
	p.mu.Lock()
	p.actor = a
	p.mu.Unlock()
}

// Control 最後一次收到的控制資料
func (p *Player) Control() PlayerControlData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.control
}

// SetControl 覆蓋控制資料，後到的為準
func (p *Player) SetControl(c PlayerControlData) {
	p.mu.Lock()
	p.control = c
	actor := p.actor
	p.mu.Unlock()

	if actor != nil {
		actor.ApplyControl(c)
	}
}

// Checkpoints 檢查點進度，只由回合 goroutine 使用
func (p *Player) Checkpoints() *CheckpointSystem {
	return p.checkpoints
}

// Name 使用者名稱，已斷線時為空字串
func (p *Player) Name() string {
	if u, ok := p.User().Get(); ok {
		return u.Username()
	}
	return ""
}
