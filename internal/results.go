package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RaceResult 一位玩家完成一場比賽
type RaceResult struct {
	RoundID    string        `json:"round_id"`
	Level      string        `json:"level"`
	Player     string        `json:"player"`
	Place      int           `json:"place"`
	Time       time.Duration `json:"time"`
	FinishedAt time.Time     `json:"finished_at"`
}

// LeaderboardEntry 排行榜的一筆紀錄
type LeaderboardEntry struct {
	Player string  `json:"player"`
	Best   float64 `json:"best_seconds"`
}

// ResultStore 比賽成績儲存
type ResultStore interface {
	Record(ctx context.Context, result RaceResult) error
	Top(ctx context.Context, level string, n int) ([]LeaderboardEntry, error)
	Close() error
}

// RedisResultStore 以 sorted set 保存每個關卡的最佳成績
//
// key 為 {prefix}:{level}，member 為玩家名稱，score 為秒數，只保留較快的紀錄。
type RedisResultStore struct {
	client *redis.Client
	prefix string
}

// NewRedisResultStore 創建 Redis 成績儲存
func NewRedisResultStore(client *redis.Client, prefix string) *RedisResultStore {
	return &RedisResultStore{client: client, prefix: prefix}
}

// DialRedisResultStore 以設定建立客戶端並確認連線
func DialRedisResultStore(ctx context.Context, cfg RedisConfig) (*RedisResultStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("連接 Redis 失敗: %w", err)
	}

	return NewRedisResultStore(client, cfg.KeyPrefix), nil
}

func (s *RedisResultStore) key(level string) string {
	return s.prefix + ":" + level
}

// Record 寫入成績，已有更快紀錄時不覆蓋
func (s *RedisResultStore) Record(ctx context.Context, result RaceResult) error {
	if result.Player == "" {
		return fmt.Errorf("成績缺少玩家名稱")
	}

	err := s.client.ZAddArgs(ctx, s.key(result.Level), redis.ZAddArgs{
		LT: true,
		Members: []redis.Z{{
			Score:  result.Time.Seconds(),
			Member: result.Player,
		}},
	}).Err()
	if err != nil {
		return fmt.Errorf("寫入成績失敗: %w", err)
	}
	return nil
}

// Top 取前 n 名
func (s *RedisResultStore) Top(ctx context.Context, level string, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		return []LeaderboardEntry{}, nil
	}

	zs, err := s.client.ZRangeWithScores(ctx, s.key(level), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("讀取排行榜失敗: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		name, _ := z.Member.(string)
		entries = append(entries, LeaderboardEntry{Player: name, Best: z.Score})
	}
	return entries, nil
}

// Close 關閉客戶端
func (s *RedisResultStore) Close() error {
	return s.client.Close()
}
