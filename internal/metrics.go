package internal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// 回合結束原因
const (
	OutcomeCompleted   = "completed"    // 所有玩家離開
	OutcomeEmpty       = "empty"        // 載入後沒有玩家
	OutcomeStopped     = "stopped"      // 伺服器關閉
	OutcomeCrashed     = "crashed"      // 回合 goroutine 出錯
	OutcomeSetupFailed = "setup_failed" // Setup 失敗
)

// Metrics 伺服器指標
//
// nil *Metrics 可直接使用，所有方法都不做事。
type Metrics struct {
	connectedUsers  prometheus.Gauge
	activeRounds    prometheus.Gauge
	lobbyQueued     prometheus.Gauge
	roundsStarted   *prometheus.CounterVec
	roundsFinished  *prometheus.CounterVec
	packagesHandled *prometheus.CounterVec
	tickDuration    prometheus.Histogram
}

// NewMetrics 建立指標並註冊到 reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "game",
			Name:      "connected_users",
			Help:      "目前連線中的使用者",
		}),
		activeRounds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "game",
			Name:      "active_rounds",
			Help:      "進行中的回合",
		}),
		lobbyQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "game",
			Name:      "lobby_queued_users",
			Help:      "在大廳等待分配的使用者",
		}),
		roundsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "game",
			Name:      "rounds_started_total",
			Help:      "已啟動的回合",
		}, []string{"game_type"}),
		roundsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "game",
			Name:      "rounds_finished_total",
			Help:      "已結束的回合，依結束原因分類",
		}, []string{"game_type", "outcome"}),
		packagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "game",
			Name:      "packages_handled_total",
			Help:      "回合處理的客戶端封包",
		}, []string{"type"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "game",
			Name:      "tick_duration_seconds",
			Help:      "一個模擬 tick 的處理時間",
			Buckets:   []float64{.0005, .001, .002, .005, .01, .02, .05, .1},
		}),
	}

	reg.MustRegister(
		m.connectedUsers,
		m.activeRounds,
		m.lobbyQueued,
		m.roundsStarted,
		m.roundsFinished,
		m.packagesHandled,
		m.tickDuration,
	)

	return m
}

// NewRegistry 含 Go runtime 與 process collector 的 registry
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) userConnected() {
	if m == nil {
		return
	}
	m.connectedUsers.Inc()
}

func (m *Metrics) userDisconnected() {
	if m == nil {
		return
	}
	m.connectedUsers.Dec()
}

func (m *Metrics) setActiveRounds(n int) {
	if m == nil {
		return
	}
	m.activeRounds.Set(float64(n))
}

func (m *Metrics) setLobbyQueued(n int) {
	if m == nil {
		return
	}
	m.lobbyQueued.Set(float64(n))
}

func (m *Metrics) roundStarted(gameType string) {
	if m == nil {
		return
	}
	m.roundsStarted.WithLabelValues(gameType).Inc()
}

func (m *Metrics) roundFinished(gameType, outcome string) {
	if m == nil {
		return
	}
	m.roundsFinished.WithLabelValues(gameType, outcome).Inc()
}

func (m *Metrics) packageHandled(t PackageType) {
	if m == nil {
		return
	}
	m.packagesHandled.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) observeTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

// RoundsFinished 供測試讀取的計數器
func (m *Metrics) RoundsFinished() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.roundsFinished
}

// ConnectedUsers 供測試讀取的 gauge
func (m *Metrics) ConnectedUsers() prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.connectedUsers
}
