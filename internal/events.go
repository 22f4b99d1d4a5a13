package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// 回合事件類型
const (
	EventRoundStarted  = "round.started"
	EventRoundFinished = "round.finished"
	EventRoundResult   = "round.result"
)

// RoundEvent 回合生命週期事件
type RoundEvent struct {
	Type      string      `json:"type"`
	RoundID   string      `json:"round_id"`
	GameType  string      `json:"game_type"`
	Players   []string    `json:"players,omitempty"`
	Outcome   string      `json:"outcome,omitempty"`
	Result    *RaceResult `json:"result,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventPublisher 發布回合事件
type EventPublisher interface {
	Publish(ctx context.Context, event RoundEvent) error
	Close()
}

// NATSPublisher 把回合事件發布到 NATS
//
// Subject 為 {prefix}.{event type}，例如 game.round.started。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher 連接 NATS
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("game-round-server"),
		nats.Timeout(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject 事件類型對應的 subject
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish 發布事件
func (p *NATSPublisher) Publish(ctx context.Context, event RoundEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	if err := p.conn.Publish(p.Subject(event.Type), data); err != nil {
		return fmt.Errorf("發布事件失敗: %w", err)
	}
	return nil
}

// Close 送出緩衝的訊息後關閉連線
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// NopPublisher 不發布任何事件
type NopPublisher struct{}

// Publish 不做事
func (NopPublisher) Publish(context.Context, RoundEvent) error { return nil }

// Close 不做事
func (NopPublisher) Close() {}
