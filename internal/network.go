package internal

import "context"

// ClientHello 連線時客戶端送來的身份資訊
type ClientHello struct {
	Username       string `json:"username"`
	CharacterName  string `json:"character_name"`
	CharacterStyle string `json:"character_style"`
}

// Connection 一條客戶端連線
//
// 收到的封包先排入佇列，由回合的 goroutine 以輪詢方式取出：
// NumPackages/Package 讀取，ClearPackages(n) 確認前 n 個已處理。
// 所有 Send 方法都不阻塞，緩衝區滿時丟棄。
type Connection interface {
	ID() string
	Hello() ClientHello

	NumPackages() int
	Package(i int) Package
	ClearPackages(n int)

	SendCreateObjects(objects []ObjectInstance)
	SendLevelData(data []byte)
	SendAssignPlayer(id ActorID)
	SendUpdateObjects(updates []UpdateObjectData, extra []string)
	SendRemoveObjects(ids []ActorID)
	SendObjectAction(id ActorID, action string)
	SendGameResult(result GameResultData)
}

// ConnectionCallback 連線或斷線回呼
type ConnectionCallback func(conn Connection)

// Network 網路層，回呼在網路層自己的 goroutine 上觸發
type Network interface {
	SetClientConnectedCallback(cb ConnectionCallback)
	SetClientDisconnectedCallback(cb ConnectionCallback)
	Start() error
	Stop(ctx context.Context) error
}
