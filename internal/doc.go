// Package internal 多人遊戲伺服器的回合生命週期與會話管理
//
// 系統設計問題：
//
//	連線的客戶端如何被配對成一場場回合，每場回合如何獨立運行、
//	在玩家中途離線時安全收尾，並在結束後從伺服器的清單中移除？
//
// 元件：
//
//	Server           組合根：擁有所有 User，處理網路層的連線/斷線回呼
//	Lobby            配對：free 佇列 → 第一個關卡 → 滿員或逾時即建立回合
//	GameRoundFactory 依遊戲類型名稱建立回合（註冊表）
//	GameList         進行中回合的清單，已結束的回合在清理時移除
//	GameRound        每場回合一個 goroutine：載入等待 → 50Hz 模擬 → 結束
//	User / Player    會話狀態；Player 只持有 UserHandle（弱參考）
//
// 周邊：WebSocketNetwork（gorilla/websocket）、Handler（診斷 API）、
// Metrics（Prometheus）、NATSPublisher（回合事件）、RedisResultStore（排行榜）。
package internal
