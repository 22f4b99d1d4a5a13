package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ServerDeps Server 的外部依賴，零值可用
type ServerDeps struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Events  EventPublisher
	Results ResultStore
}

// Server 遊戲伺服器的組合根
//
// 依賴關係：
//
//	Network ──callbacks──▶ Server ──▶ Lobby ──▶ GameRoundFactory
//	                         │          │
//	                         └──▶ GameList ◀──┘ (AddGameRound)
//
// Server 是 User 唯一的擁有者；users 只在連線回呼與 Shutdown 中修改，都持有 usersMu。
type Server struct {
	cfg     *Config
	network Network
	logger  *slog.Logger
	metrics *Metrics
	events  EventPublisher
	results ResultStore

	factory *GameRoundFactory
	games   *GameList
	lobby   *Lobby

	usersMu sync.Mutex
	users   map[string]*User

	testActors *ActorFactory

	mu           sync.Mutex
	initialized  bool
	running      bool
	shutdown     bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewServer 創建伺服器
func NewServer(cfg *Config, network Network, deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	if deps.Events == nil {
		deps.Events = NopPublisher{}
	}
	return &Server{
		cfg:        cfg,
		network:    network,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		events:     deps.Events,
		results:    deps.Results,
		users:      make(map[string]*User),
		testActors: NewActorFactory(),
		stopCh:     make(chan struct{}),
	}
}

// Initialize 建立大廳、註冊關卡、啟動網路層
func (s *Server) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return NewServerError(ErrCodeInvalidState, "伺服器已初始化")
	}
	if s.cfg == nil || s.network == nil {
		return NewServerError(ErrCodeNotInitialized, "缺少設定或網路層")
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.factory = NewGameRoundFactory(RoundOptions{
		Logger:  s.logger,
		Metrics: s.metrics,
		Events:  s.events,
		Results: s.results,
		Timing: RoundTiming{
			TickInterval:     s.cfg.Round.TickInterval,
			LoadPollInterval: s.cfg.Round.LoadPollInterval,
		},
	})
	s.factory.Register(LevelTypeTest, newTestRoundLogic)

	for _, lvl := range s.cfg.Levels {
		switch lvl.Type {
		case LevelTypeTest:
			s.factory.Register(lvl.Name, newTestRoundLogic)
		case LevelTypeFile:
			// 啟動時先讀一次，壞掉的關卡檔在這裡就失敗
			if _, err := LoadLevelFile(lvl.File); err != nil {
				return WrapServerError(err, ErrCodeInvalidConfig, fmt.Sprintf("關卡 %s 無法載入", lvl.Name))
			}
			path := lvl.File
			s.factory.Register(lvl.Name, func() (RoundLogic, error) {
				return NewFileRound(path), nil
			})
		}
	}

	s.games = NewGameList(s.logger)
	s.lobby = NewLobby(s.factory, s.games, s.logger, s.metrics)
	for _, lvl := range s.cfg.Levels {
		if err := s.lobby.AddAvailableLevel(lvl.Name, lvl.MaxPlayers, WithStartTimeout(lvl.StartTimeout)); err != nil {
			return err
		}
	}

	s.network.SetClientConnectedCallback(s.ClientConnected)
	s.network.SetClientDisconnectedCallback(s.ClientDisconnected)

	if err := s.network.Start(); err != nil {
		s.network.SetClientConnectedCallback(nil)
		s.network.SetClientDisconnectedCallback(nil)
		return fmt.Errorf("啟動網路層失敗: %w", err)
	}

	s.initialized = true
	s.logger.Info("伺服器已初始化", "levels", len(s.cfg.Levels), "game_types", s.factory.Types())
	return nil
}

func newTestRoundLogic() (RoundLogic, error) {
	return NewTestRound(), nil
}

// Run 啟動更新 goroutine，立即返回
func (s *Server) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return NewServerError(ErrCodeNotInitialized, "伺服器尚未初始化")
	}
	if s.running || s.shutdown {
		return NewServerError(ErrCodeInvalidState, "伺服器已在運行或已關閉")
	}
	s.running = true

	s.wg.Add(1)
	go s.updateLoop()
	return nil
}

// updateLoop 每個間隔分配大廳使用者並清理回合清單
func (s *Server) updateLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Server.UpdateInterval)
	defer ticker.Stop()

	prev := time.Now()
	for {
		select {
		case now := <-ticker.C:
			dt := now.Sub(prev)
			prev = now
			s.update(dt)
		case <-s.stopCh:
			return
		}
	}
}

// update 分配大廳使用者並清理回合清單
func (s *Server) update(dt time.Duration) {
	s.lobby.CheckFreeUsers(dt)
	s.games.RemoveGameRound()
	s.metrics.setActiveRounds(len(s.games.RunningGames()))
}

// Update 手動執行一次更新
func (s *Server) Update(dt time.Duration) {
	s.update(dt)
}

// Shutdown 關閉伺服器
//
// 順序：清除回呼 → 清空大廳 → 停止所有回合 → 等更新 goroutine 結束 → 停止網路層 → 釋放使用者。
// 回呼必須在網路層停止前清除，避免回呼打進關閉中的伺服器。
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		initialized := s.initialized
		s.shutdown = true
		s.mu.Unlock()

		if !initialized {
			return
		}

		s.usersMu.Lock()
		defer s.usersMu.Unlock()

		s.network.SetClientConnectedCallback(nil)
		s.network.SetClientDisconnectedCallback(nil)

		s.lobby.Clear()
		s.games.StopAllGames()

		close(s.stopCh)
		s.wg.Wait()

		if stopErr := s.network.Stop(ctx); stopErr != nil {
			err = fmt.Errorf("停止網路層失敗: %w", stopErr)
		}

		for id, u := range s.users {
			u.Release()
			delete(s.users, id)
			s.metrics.userDisconnected()
		}

		s.logger.Info("伺服器已關閉")
	})
	return err
}

// ClientConnected 網路層的連線回呼
func (s *Server) ClientConnected(conn Connection) {
	u := NewUser(conn)

	s.usersMu.Lock()
	s.users[conn.ID()] = u
	count := len(s.users)
	s.usersMu.Unlock()

	s.metrics.userConnected()
	s.logger.Info("使用者已連線",
		"user", u.Username(),
		"user_id", u.ID(),
		"character", u.CharacterName(),
		"online", count)

	s.lobby.AddFreeUser(u.Handle())
}

// ClientDisconnected 網路層的斷線回呼
func (s *Server) ClientDisconnected(conn Connection) {
	s.usersMu.Lock()
	u, ok := s.users[conn.ID()]
	delete(s.users, conn.ID())
	count := len(s.users)
	s.usersMu.Unlock()

	if !ok {
		return
	}

	u.Release()
	s.metrics.userDisconnected()
	s.logger.Info("使用者已斷線", "user", u.Username(), "user_id", u.ID(), "online", count)
}

// UserNames 在線使用者名稱，依名稱排序
func (s *Server) UserNames() []string {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	names := make([]string, 0, len(s.users))
	for _, u := range s.users {
		names = append(names, u.Username())
	}
	sort.Strings(names)
	return names
}

// UserInfo 診斷用的使用者摘要
type UserInfo struct {
	ID        string    `json:"user_id"`
	Username  string    `json:"username"`
	Character string    `json:"character"`
	State     UserState `json:"state"`
}

// Users 在線使用者快照
func (s *Server) Users() []UserInfo {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	out := make([]UserInfo, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, UserInfo{
			ID:        u.ID(),
			Username:  u.Username(),
			Character: u.CharacterName(),
			State:     u.State(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// GameDescriptions 進行中回合的描述
func (s *Server) GameDescriptions() []string {
	if s.games == nil {
		return nil
	}
	rounds := s.games.RunningGames()
	out := make([]string, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, r.Description())
	}
	return out
}

// Games 進行中回合的摘要
func (s *Server) Games() []RoundInfo {
	if s.games == nil {
		return []RoundInfo{}
	}
	rounds := s.games.RunningGames()
	out := make([]RoundInfo, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, r.Info())
	}
	return out
}

// Levels 大廳各關卡狀態
func (s *Server) Levels() []LevelStatus {
	if s.lobby == nil {
		return []LevelStatus{}
	}
	return s.lobby.Levels()
}

// ServerStats 統計資訊
type ServerStats struct {
	Users       int `json:"users"`
	ActiveGames int `json:"active_games"`
	LobbyFree   int `json:"lobby_free"`
	LobbyQueued int `json:"lobby_queued"`
}

// Stats 統計資訊
func (s *Server) Stats() ServerStats {
	s.usersMu.Lock()
	users := len(s.users)
	s.usersMu.Unlock()

	stats := ServerStats{Users: users}
	if s.games != nil {
		stats.ActiveGames = len(s.games.RunningGames())
	}
	if s.lobby != nil {
		stats.LobbyFree = s.lobby.FreeUserCount()
		for _, lvl := range s.lobby.Levels() {
			stats.LobbyQueued += lvl.Joined
		}
	}
	return stats
}

// GameList 回合清單
func (s *Server) GameList() *GameList { return s.games }

// Lobby 大廳
func (s *Server) Lobby() *Lobby { return s.lobby }

// Results 成績儲存，未設定時為 nil
func (s *Server) Results() ResultStore { return s.results }

// SendTestData 送一個測試方塊給所有在線使用者
func (s *Server) SendTestData() int {
	box := s.testActors.NewBoxActor(Vector3{X: 3, Y: 4, Z: 1}, 0, 0)
	objects := []ObjectInstance{box.Instance()}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	for _, u := range s.users {
		u.Connection().SendCreateObjects(objects)
	}
	return len(s.users)
}

// pulseAction 觸發客戶端的 Pulse 效果
const pulseAction = "Pulse"

// Pulse 讓每個回合中的玩家角色對該回合的使用者 Pulse 一次
func (s *Server) Pulse() int {
	if s.games == nil {
		return 0
	}
	sent := 0
	for _, r := range s.games.RunningGames() {
		players := r.Players()
		r.EachConnected(func(_ *Player, u *User) {
			conn := u.Connection()
			for _, p := range players {
				if a := p.Actor(); a != nil {
					conn.SendObjectAction(a.ID(), pulseAction)
					sent++
				}
			}
		})
	}
	return sent
}
