package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 關卡類型
const (
	LevelTypeTest = "test"
	LevelTypeFile = "file"
)

// Config 伺服器設定
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Network NetworkConfig `yaml:"network"`
	HTTP    HTTPConfig    `yaml:"http"`
	Round   RoundConfig   `yaml:"round"`
	Levels  []LevelConfig `yaml:"levels"`
	Log     LogConfig     `yaml:"log"`
	NATS    NATSConfig    `yaml:"nats"`
	Redis   RedisConfig   `yaml:"redis"`
}

// ServerConfig 伺服器主循環設定
type ServerConfig struct {
	UpdateInterval  time.Duration `yaml:"update_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NetworkConfig 遊戲連線設定
type NetworkConfig struct {
	Addr              string        `yaml:"addr"`
	Path              string        `yaml:"path"`
	SendBuffer        int           `yaml:"send_buffer"`
	MaxQueuedPackages int           `yaml:"max_queued_packages"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
}

// PingInterval 取 pong 超時的 9/10，在對端超時前送出 ping
func (c NetworkConfig) PingInterval() time.Duration {
	return c.PongTimeout * 9 / 10
}

// HTTPConfig 管理 API 設定
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RoundConfig 回合節奏
type RoundConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	LoadPollInterval time.Duration `yaml:"load_poll_interval"`
}

// LevelConfig 一個可加入的關卡
type LevelConfig struct {
	Name         string        `yaml:"name"`
	Type         string        `yaml:"type"`
	File         string        `yaml:"file"`
	MaxPlayers   int           `yaml:"max_players"`
	StartTimeout time.Duration `yaml:"start_timeout"`
}

// LogConfig 日誌設定
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NATSConfig 事件發布設定，URL 為空時不發布
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// RedisConfig 成績儲存設定，Addr 為空時不儲存
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig 預設設定
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			UpdateInterval:  20 * time.Millisecond,
			ShutdownTimeout: 10 * time.Second,
		},
		Network: NetworkConfig{
			Addr:              ":31415",
			Path:              "/game",
			SendBuffer:        256,
			MaxQueuedPackages: 1024,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
			PongTimeout:       60 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Round: RoundConfig{
			TickInterval:     20 * time.Millisecond,
			LoadPollInterval: 100 * time.Millisecond,
		},
		Levels: []LevelConfig{
			{Name: "test", Type: LevelTypeTest, MaxPlayers: 2},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		NATS: NATSConfig{
			SubjectPrefix: "game",
		},
		Redis: RedisConfig{
			KeyPrefix: "game:leaderboard",
		},
	}
}

// LoadConfig 讀取 YAML 設定檔，未出現的欄位保留預設值
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("讀取設定檔失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, WrapServerError(err, ErrCodeInvalidConfig, "解析設定檔失敗")
	}

	return cfg, nil
}

// ApplyEnv 以環境變數覆蓋設定
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GAME_NETWORK_ADDR"); v != "" {
		c.Network.Addr = v
	}
	if v := os.Getenv("GAME_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// Validate 檢查設定
func (c *Config) Validate() error {
	if c.Server.UpdateInterval <= 0 {
		return invalidConfig("server.update_interval 必須大於 0")
	}
	if c.Round.TickInterval <= 0 {
		return invalidConfig("round.tick_interval 必須大於 0")
	}
	if c.Round.LoadPollInterval <= 0 {
		return invalidConfig("round.load_poll_interval 必須大於 0")
	}
	if c.Network.Addr == "" {
		return invalidConfig("network.addr 不可為空")
	}
	if c.Network.SendBuffer < 1 {
		return invalidConfig("network.send_buffer 必須至少為 1")
	}
	if c.Network.MaxQueuedPackages < 1 {
		return invalidConfig("network.max_queued_packages 必須至少為 1")
	}

	seen := make(map[string]bool, len(c.Levels))
	for i, lvl := range c.Levels {
		if lvl.Name == "" {
			return invalidConfig(fmt.Sprintf("levels[%d].name 不可為空", i))
		}
		if seen[lvl.Name] {
			return invalidConfig(fmt.Sprintf("關卡名稱重複: %s", lvl.Name))
		}
		seen[lvl.Name] = true

		if lvl.MaxPlayers < 1 {
			return invalidConfig(fmt.Sprintf("關卡 %s 的 max_players 必須至少為 1", lvl.Name))
		}
		if lvl.StartTimeout < 0 {
			return invalidConfig(fmt.Sprintf("關卡 %s 的 start_timeout 不可為負", lvl.Name))
		}

		switch lvl.Type {
		case LevelTypeTest:
		case LevelTypeFile:
			if lvl.File == "" {
				return invalidConfig(fmt.Sprintf("檔案關卡 %s 缺少 file", lvl.Name))
			}
		default:
			return invalidConfig(fmt.Sprintf("關卡 %s 的類型未知: %s", lvl.Name, lvl.Type))
		}
	}

	return nil
}

func invalidConfig(msg string) error {
	return NewServerError(ErrCodeInvalidConfig, msg)
}
