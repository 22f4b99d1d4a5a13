package internal_test

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-rounds/internal"
	"github.com/koopa0/system-design/14-game-rounds/internal/testutils"
	"github.com/stretchr/testify/require"
)

// fastTiming 測試用的回合節奏
var fastTiming = internal.RoundTiming{
	TickInterval:     2 * time.Millisecond,
	LoadPollInterval: 2 * time.Millisecond,
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// syncBuffer 可在多個 goroutine 同時寫入的日誌緩衝
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Contains(s string) bool {
	return strings.Contains(b.String(), s)
}

func newBufferLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return internal.NewLogger(buf, "debug", "text"), buf
}

// recordingQueue 記錄回到大廳的使用者
type recordingQueue struct {
	mu      sync.Mutex
	handles []internal.UserHandle
}

func (q *recordingQueue) AddFreeUser(h internal.UserHandle) {
	q.mu.Lock()
	q.handles = append(q.handles, h)
	q.mu.Unlock()
}

func (q *recordingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.handles)
}

func (q *recordingQueue) Handles() []internal.UserHandle {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]internal.UserHandle(nil), q.handles...)
}

// newRound 建立已 Initialize 的回合，測試結束時停止
func newRound(t *testing.T, logic internal.RoundLogic, opts internal.RoundOptions) (*internal.GameRound, *recordingQueue) {
	t.Helper()

	if opts.Timing == (internal.RoundTiming{}) {
		opts.Timing = fastTiming
	}
	r := internal.NewGameRound(logic, opts)
	queue := &recordingQueue{}
	r.Initialize(internal.NewActorFactory(), queue)
	r.SetGameType("test")
	t.Cleanup(r.Stop)
	return r, queue
}

// addUsers 建立使用者並加入回合
func addUsers(t *testing.T, r *internal.GameRound, names ...string) ([]*internal.User, []*testutils.FakeConnection) {
	t.Helper()

	users := make([]*internal.User, 0, len(names))
	conns := make([]*testutils.FakeConnection, 0, len(names))
	for _, name := range names {
		conn := testutils.NewFakeConnection(name)
		u := internal.NewUser(conn)
		require.NoError(t, r.AddNewPlayer(u.Handle()))
		users = append(users, u)
		conns = append(conns, conn)
	}
	return users, conns
}

// waitFinished 等待回合結束
func waitFinished(t *testing.T, r *internal.GameRound) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(waitFor):
		t.Fatalf("round %s did not finish, phase=%s", r.ID(), r.Phase())
	}
}
