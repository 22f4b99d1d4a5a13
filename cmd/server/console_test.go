package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsoleServer struct {
	users []string
	games []string
	sends int
	pulse int
}

func (f *fakeConsoleServer) UserNames() []string        { return f.users }
func (f *fakeConsoleServer) GameDescriptions() []string { return f.games }
func (f *fakeConsoleServer) SendTestData() int {
	f.sends++
	return len(f.users)
}
func (f *fakeConsoleServer) Pulse() int {
	f.pulse++
	return 4
}

func TestConsole_Commands(t *testing.T) {
	srv := &fakeConsoleServer{
		users: []string{"alice", "bob"},
		games: []string{"test round abc (2 players)"},
	}
	in := strings.NewReader("help\nlist\ngames\nsend\npulse\n\nbogus\nexit\nsend\n")
	var out bytes.Buffer

	err := runConsole(context.Background(), in, &out, srv)

	assert.ErrorIs(t, err, errQuit)
	text := out.String()
	assert.Contains(t, text, "可用指令")
	assert.Contains(t, text, "alice")
	assert.Contains(t, text, "bob")
	assert.Contains(t, text, "test round abc")
	assert.Contains(t, text, "已送出測試物件給 2 位使用者")
	assert.Contains(t, text, "已送出 4 個 Pulse")
	assert.Contains(t, text, "未知的指令: bogus")

	// exit 之後的指令不執行
	assert.Equal(t, 1, srv.sends)
	assert.Equal(t, 1, srv.pulse)
}

func TestConsole_EmptyServer(t *testing.T) {
	var out bytes.Buffer

	err := runConsole(context.Background(), strings.NewReader("list\ngames\n"), &out, &fakeConsoleServer{})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "沒有在線使用者")
	assert.Contains(t, out.String(), "沒有進行中的回合")
}

func TestConsole_StopsOnContextCancel(t *testing.T) {
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runConsole(ctx, r, io.Discard, &fakeConsoleServer{})
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop")
	}
}
