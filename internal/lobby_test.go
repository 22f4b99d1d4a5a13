package internal_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-rounds/internal"
	"github.com/koopa0/system-design/14-game-rounds/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStarter 記錄交出的回合，不啟動它們
type recordingStarter struct {
	mu     sync.Mutex
	rounds []*internal.GameRound
	err    error
}

func (s *recordingStarter) AddGameRound(r *internal.GameRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rounds = append(s.rounds, r)
	return nil
}

func (s *recordingStarter) Rounds() []*internal.GameRound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*internal.GameRound(nil), s.rounds...)
}

func newLobby(t *testing.T, starter internal.RoundStarter) *internal.Lobby {
	t.Helper()
	f := internal.NewGameRoundFactory(internal.RoundOptions{Timing: fastTiming})
	f.Register("test", fakeConstructor)
	f.Register("race", fakeConstructor)
	f.Register("broken", func() (internal.RoundLogic, error) {
		return nil, errors.New("no level")
	})
	return internal.NewLobby(f, starter, testutils.DiscardLogger(), nil)
}

func newLobbyUsers(names ...string) []*internal.User {
	users := make([]*internal.User, 0, len(names))
	for _, name := range names {
		users = append(users, internal.NewUser(testutils.NewFakeConnection(name)))
	}
	return users
}

func playerNames(r *internal.GameRound) []string {
	names := make([]string, 0)
	for _, p := range r.Players() {
		names = append(names, p.Name())
	}
	return names
}

func TestLobby_AddAvailableLevel(t *testing.T) {
	lobby := newLobby(t, &recordingStarter{})

	assert.NoError(t, lobby.AddAvailableLevel("test", 2))
	assert.True(t, internal.IsUnknownGameType(lobby.AddAvailableLevel("arena", 2)))
	assert.ErrorIs(t, lobby.AddAvailableLevel("race", 0), internal.ErrInvalidConfig)

	levels := lobby.Levels()
	require.Len(t, levels, 1)
	assert.Equal(t, "test", levels[0].Name)
	assert.Equal(t, 2, levels[0].MaxPlayers)
}

func TestLobby_FullLevelStartsRound(t *testing.T) {
	starter := &recordingStarter{}
	lobby := newLobby(t, starter)
	require.NoError(t, lobby.AddAvailableLevel("test", 2))

	users := newLobbyUsers("alice", "bob", "carol")
	for _, u := range users {
		lobby.AddFreeUser(u.Handle())
	}
	assert.Equal(t, 3, lobby.FreeUserCount())

	lobby.CheckFreeUsers(20 * time.Millisecond)

	rounds := starter.Rounds()
	require.Len(t, rounds, 1)
	assert.Equal(t, "test", rounds[0].GameType())
	assert.Equal(t, []string{"alice", "bob"}, playerNames(rounds[0]))

	// carol 留在關卡中等待下一位
	assert.Zero(t, lobby.FreeUserCount())
	assert.Equal(t, 1, lobby.Levels()[0].Joined)
	assert.Equal(t, internal.StateWaitingForGame, users[2].State())

	dave := newLobbyUsers("dave")[0]
	lobby.AddFreeUser(dave.Handle())
	lobby.CheckFreeUsers(20 * time.Millisecond)

	rounds = starter.Rounds()
	require.Len(t, rounds, 2)
	assert.Equal(t, []string{"carol", "dave"}, playerNames(rounds[1]))
	assert.Zero(t, lobby.Levels()[0].Joined)
}

func TestLobby_PartialLevelKeepsUsers(t *testing.T) {
	starter := &recordingStarter{}
	lobby := newLobby(t, starter)
	require.NoError(t, lobby.AddAvailableLevel("test", 4))

	for _, u := range newLobbyUsers("alice", "bob") {
		lobby.AddFreeUser(u.Handle())
	}

	for i := 0; i < 5; i++ {
		lobby.CheckFreeUsers(time.Second)
	}

	assert.Empty(t, starter.Rounds())
	assert.Equal(t, 2, lobby.Levels()[0].Joined)
}

func TestLobby_OnlyFirstLevelIsFilled(t *testing.T) {
	starter := &recordingStarter{}
	lobby := newLobby(t, starter)
	require.NoError(t, lobby.AddAvailableLevel("test", 1))
	require.NoError(t, lobby.AddAvailableLevel("race", 1))

	for _, u := range newLobbyUsers("alice", "bob") {
		lobby.AddFreeUser(u.Handle())
	}
	lobby.CheckFreeUsers(0)

	rounds := starter.Rounds()
	require.Len(t, rounds, 2)
	assert.Equal(t, "test", rounds[0].GameType())
	assert.Equal(t, "test", rounds[1].GameType())
	assert.Zero(t, lobby.Levels()[1].Joined)
}

func TestLobby_StartTimeout(t *testing.T) {
	starter := &recordingStarter{}
	lobby := newLobby(t, starter)
	require.NoError(t, lobby.AddAvailableLevel("test", 4, internal.WithStartTimeout(100*time.Millisecond)))

	lobby.AddFreeUser(newLobbyUsers("alice")[0].Handle())

	lobby.CheckFreeUsers(40 * time.Millisecond)
	lobby.CheckFreeUsers(40 * time.Millisecond)
	assert.Empty(t, starter.Rounds())
	assert.Equal(t, 80*time.Millisecond, lobby.Levels()[0].Waited)

	lobby.CheckFreeUsers(40 * time.Millisecond)

	rounds := starter.Rounds()
	require.Len(t, rounds, 1)
	assert.Equal(t, []string{"alice"}, playerNames(rounds[0]))
	assert.Zero(t, lobby.Levels()[0].Waited)
}

func TestLobby_NoLevelsKeepsUsersQueued(t *testing.T) {
	starter := &recordingStarter{}
	lobby := newLobby(t, starter)

	lobby.AddFreeUser(newLobbyUsers("alice")[0].Handle())
	lobby.CheckFreeUsers(0)
	lobby.CheckFreeUsers(0)

	assert.Equal(t, 1, lobby.FreeUserCount())
	assert.Empty(t, starter.Rounds())

	require.NoError(t, lobby.AddAvailableLevel("test", 1))
	lobby.CheckFreeUsers(0)
	assert.Len(t, starter.Rounds(), 1)
}

func TestLobby_ExpiredUsersArePruned(t *testing.T) {
	starter := &recordingStarter{}
	lobby := newLobby(t, starter)
	require.NoError(t, lobby.AddAvailableLevel("test", 2))

	users := newLobbyUsers("alice", "bob", "carol")
	lobby.AddFreeUser(users[0].Handle())
	lobby.CheckFreeUsers(0)
	require.Equal(t, 1, lobby.Levels()[0].Joined)

	// alice 在等待時斷線，bob 在進入大廳後斷線
	users[0].Release()
	lobby.AddFreeUser(users[1].Handle())
	users[1].Release()
	lobby.AddFreeUser(users[2].Handle())

	lobby.CheckFreeUsers(0)

	assert.Empty(t, starter.Rounds())
	assert.Equal(t, 1, lobby.Levels()[0].Joined)
	assert.Zero(t, lobby.FreeUserCount())
}

func TestLobby_StarterFailureRequeuesUsers(t *testing.T) {
	starter := &recordingStarter{err: internal.ErrSetupFailed}
	lobby := newLobby(t, starter)
	require.NoError(t, lobby.AddAvailableLevel("test", 2))

	users := newLobbyUsers("alice", "bob")
	for _, u := range users {
		lobby.AddFreeUser(u.Handle())
	}
	lobby.CheckFreeUsers(0)

	assert.Equal(t, 2, lobby.FreeUserCount())
	for _, u := range users {
		assert.Equal(t, internal.StateLobby, u.State())
	}
}

func TestLobby_CreateRoundFailureRequeuesUsers(t *testing.T) {
	starter := &recordingStarter{}
	lobby := newLobby(t, starter)
	require.NoError(t, lobby.AddAvailableLevel("broken", 1))

	lobby.AddFreeUser(newLobbyUsers("alice")[0].Handle())
	lobby.CheckFreeUsers(0)

	assert.Empty(t, starter.Rounds())
	assert.Equal(t, 1, lobby.FreeUserCount())
}

func TestLobby_Clear(t *testing.T) {
	lobby := newLobby(t, &recordingStarter{})
	require.NoError(t, lobby.AddAvailableLevel("test", 3))
	lobby.AddFreeUser(newLobbyUsers("alice")[0].Handle())

	lobby.Clear()

	assert.Zero(t, lobby.FreeUserCount())
	assert.Empty(t, lobby.Levels())
}

func TestLobby_WithGameList(t *testing.T) {
	list := internal.NewGameList(testutils.DiscardLogger())
	lobby := newLobby(t, list)
	require.NoError(t, lobby.AddAvailableLevel("test", 2))
	t.Cleanup(list.StopAllGames)

	users := newLobbyUsers("alice", "bob")
	for _, u := range users {
		lobby.AddFreeUser(u.Handle())
	}
	lobby.CheckFreeUsers(0)

	running := list.RunningGames()
	require.Len(t, running, 1)
	require.Eventually(t, func() bool {
		return users[0].State() == internal.StateLoadingLevel &&
			users[1].State() == internal.StateLoadingLevel
	}, waitFor, tick)
}
