package internal_test

import (
	"testing"

	"github.com/koopa0/system-design/14-game-rounds/internal"
	"github.com/koopa0/system-design/14-game-rounds/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	conn := testutils.NewFakeConnection("alice")
	u := internal.NewUser(conn)

	assert.NotEmpty(t, u.ID())
	assert.Equal(t, "alice", u.Username())
	assert.Equal(t, "witch", u.CharacterName())
	assert.Equal(t, "default", u.CharacterStyle())
	assert.Equal(t, internal.StateLobby, u.State())
	assert.Same(t, conn, u.Connection())
	assert.True(t, u.Alive())
}

func TestUserHandle(t *testing.T) {
	u := internal.NewUser(testutils.NewFakeConnection("bob"))
	h := u.Handle()

	got, ok := h.Get()
	require.True(t, ok)
	assert.Same(t, u, got)
	assert.False(t, h.Expired())

	u.Release()

	_, ok = h.Get()
	assert.False(t, ok)
	assert.True(t, h.Expired())

	// 之前複製的 handle 也一起失效
	copied := h
	assert.True(t, copied.Expired())
}

func TestUserHandle_ZeroValue(t *testing.T) {
	var h internal.UserHandle
	_, ok := h.Get()
	assert.False(t, ok)
	assert.True(t, h.Expired())
}
