package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/koopa0/system-design/14-game-rounds/internal"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "YAML 設定檔路徑，留空使用預設值")
		envFile    = flag.String("env", ".env", "環境變數檔")
		console    = flag.Bool("console", true, "啟用操作員主控台")
	)
	flag.Parse()

	if err := run(*configPath, *envFile, *console); err != nil {
		slog.Error("伺服器異常結束", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string, withConsole bool) error {
	// .env 不存在時略過
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := internal.DefaultConfig()
	if configPath != "" {
		loaded, err := internal.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	logger := internal.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	reg := internal.NewRegistry()
	deps := internal.ServerDeps{
		Logger:  logger,
		Metrics: internal.NewMetrics(reg),
	}

	if cfg.NATS.URL != "" {
		publisher, err := internal.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer publisher.Close()
		deps.Events = publisher
		logger.Info("已連接 NATS", "url", cfg.NATS.URL)
	}

	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		store, err := internal.DialRedisResultStore(ctx, cfg.Redis)
		cancel()
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Results = store
		logger.Info("已連接 Redis", "addr", cfg.Redis.Addr)
	}

	network := internal.NewWebSocketNetwork(cfg.Network, logger)
	srv := internal.NewServer(cfg, network, deps)
	if err := srv.Initialize(); err != nil {
		return err
	}
	if err := srv.Run(); err != nil {
		return err
	}

	// 創建 HTTP 服務器
	api := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      internal.NewHandler(srv, reg, logger).Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("管理 API 啟動", "addr", cfg.HTTP.Addr)
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("管理 API 啟動失敗", "error", err)
			stop()
		}
	}()

	logger.Info("遊戲伺服器啟動",
		"game_addr", network.Addr(),
		"path", cfg.Network.Path,
		"levels", len(cfg.Levels))

	if withConsole {
		go func() {
			if err := runConsole(ctx, os.Stdin, os.Stdout, srv); errors.Is(err, errQuit) {
				stop()
			} else if err != nil {
				logger.Warn("主控台讀取失敗", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("管理 API 關閉失敗", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("伺服器關閉失敗", "error", err)
	}

	logger.Info("服務器已關閉")
	return nil
}
