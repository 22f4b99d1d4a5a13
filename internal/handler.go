package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler 營運用的 HTTP 診斷 API
type Handler struct {
	server   *Server
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewHandler 創建 HTTP 處理器，gatherer 為 nil 時不提供 /metrics
func NewHandler(server *Server, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = discardLogger()
	}
	return &Handler{
		server:   server,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/v1/users", wrap(h.listUsers))
	mux.HandleFunc("GET /api/v1/games", wrap(h.listGames))
	mux.HandleFunc("GET /api/v1/lobby", wrap(h.lobby))
	mux.HandleFunc("GET /api/v1/leaderboard/{level}", wrap(h.leaderboard))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// listUsers 在線使用者
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users := h.server.Users()
	h.jsonResponse(w, map[string]any{
		"users": users,
		"total": len(users),
	}, http.StatusOK)
}

// listGames 進行中的回合
func (h *Handler) listGames(w http.ResponseWriter, r *http.Request) {
	games := h.server.Games()
	h.jsonResponse(w, map[string]any{
		"games": games,
		"total": len(games),
	}, http.StatusOK)
}

// lobby 大廳狀態
func (h *Handler) lobby(w http.ResponseWriter, r *http.Request) {
	stats := h.server.Stats()
	h.jsonResponse(w, map[string]any{
		"free_users": stats.LobbyFree,
		"levels":     h.server.Levels(),
	}, http.StatusOK)
}

// leaderboard 關卡排行榜
func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	level := r.PathValue("level")

	store := h.server.Results()
	if store == nil {
		h.errorResponse(w, "未啟用成績儲存", http.StatusServiceUnavailable)
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			h.errorResponse(w, "limit 必須在 1-100 之間", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := store.Top(r.Context(), level, limit)
	if err != nil {
		h.logger.Error("讀取排行榜失敗", "level", level, "error", err)
		h.errorResponse(w, "讀取排行榜失敗", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{
		"level":   level,
		"entries": entries,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.server.Stats(), http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Debug("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
