package internal

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// UserState 使用者的會話狀態
//
// 狀態轉換：
//
//	LOBBY → WAITING_FOR_GAME → LOADING_LEVEL → WAITING_FOR_START → IN_GAME
//	  ↑_____________________________________________________________|
//	                         (LEAVE_GAME)
//
// 這一層不檢查轉換是否合法，由 Lobby 與 GameRound 負責。
type UserState string

const (
	StateLobby           UserState = "LOBBY"             // 尚未排入關卡
	StateChangingState   UserState = "CHANGING_STATE"    // 過渡中
	StateWaitingForGame  UserState = "WAITING_FOR_GAME"  // 已排入關卡，回合未開始
	StateLoadingLevel    UserState = "LOADING_LEVEL"     // 回合已開始，客戶端下載關卡
	StateWaitingForStart UserState = "WAITING_FOR_START" // 下載完成，等待其他人
	StateInGame          UserState = "IN_GAME"           // 模擬進行中
)

// User 一個已連線的客戶端
//
// Server 是唯一的擁有者，其他地方只持有 UserHandle。
// 斷線時 Server 呼叫 Release，所有 handle 隨即失效。
type User struct {
	id             string
	conn           Connection
	username       string
	characterName  string
	characterStyle string

	mu    sync.RWMutex
	state UserState

	alive atomic.Bool
}

// NewUser 以連線建立使用者
func NewUser(conn Connection) *User {
	hello := conn.Hello()
	u := &User{
		id:             uuid.NewString(),
		conn:           conn,
		username:       hello.Username,
		characterName:  hello.CharacterName,
		characterStyle: hello.CharacterStyle,
		state:          StateLobby,
	}
	u.alive.Store(true)
	return u
}

// ID 使用者 ID
func (u *User) ID() string { return u.id }

// Connection 連線由網路層擁有
func (u *User) Connection() Connection { return u.conn }

// Username 顯示名稱
func (u *User) Username() string { return u.username }

// CharacterName 角色名稱
func (u *User) CharacterName() string { return u.characterName }

// CharacterStyle 角色樣式
func (u *User) CharacterStyle() string { return u.characterStyle }

// State 目前狀態
func (u *User) State() UserState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// SetState 設置狀態
func (u *User) SetState(s UserState) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}

// Release 標記使用者已斷線，之後所有 handle 都回報過期
func (u *User) Release() {
	u.alive.Store(false)
}

// Alive 是否仍在線
func (u *User) Alive() bool {
	return u.alive.Load()
}

// Handle 取得不延長生命週期的參考
func (u *User) Handle() UserHandle {
	return UserHandle{user: u}
}

// UserHandle 對 User 的弱參考
//
// 零值代表已釋放。使用前必須以 Get 重新檢查存活。
type UserHandle struct {
	user *User
}

// Get 回傳仍在線的使用者
func (h UserHandle) Get() (*User, bool) {
	if h.user == nil || !h.user.Alive() {
		return nil, false
	}
	return h.user, true
}

// Expired 使用者已斷線或 handle 已清除
func (h UserHandle) Expired() bool {
	_, ok := h.Get()
	return !ok
}
