package internal_test

import (
	"errors"
	"testing"

	"github.com/koopa0/system-design/14-game-rounds/internal"
	"github.com/koopa0/system-design/14-game-rounds/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeConstructor() (internal.RoundLogic, error) {
	return testutils.NewFakeRoundLogic(), nil
}

func TestGameRoundFactory_CreateRound(t *testing.T) {
	f := internal.NewGameRoundFactory(internal.RoundOptions{Timing: fastTiming})
	f.Register("test", fakeConstructor)
	f.Register("broken", func() (internal.RoundLogic, error) {
		return nil, errors.New("level file missing")
	})

	tests := []struct {
		name     string
		gameType string
		check    func(t *testing.T, r *internal.GameRound, err error)
	}{
		{
			name:     "known type",
			gameType: "test",
			check: func(t *testing.T, r *internal.GameRound, err error) {
				require.NoError(t, err)
				require.NotNil(t, r)
				assert.Equal(t, "test", r.GameType())
				assert.Equal(t, "test", r.Level())
				assert.NotNil(t, r.ActorFactory())
				assert.Equal(t, internal.PhaseCreated, r.Phase())
			},
		},
		{
			name:     "unknown type",
			gameType: "arena",
			check: func(t *testing.T, r *internal.GameRound, err error) {
				assert.Nil(t, r)
				assert.True(t, internal.IsUnknownGameType(err))
			},
		},
		{
			name:     "constructor fails",
			gameType: "broken",
			check: func(t *testing.T, r *internal.GameRound, err error) {
				assert.Nil(t, r)
				assert.True(t, internal.IsSetupFailed(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := f.CreateRound(tt.gameType, &recordingQueue{})
			tt.check(t, r, err)
		})
	}
}

func TestGameRoundFactory_EachRoundHasOwnActorIDs(t *testing.T) {
	f := internal.NewGameRoundFactory(internal.RoundOptions{})
	f.Register("test", fakeConstructor)

	a, err := f.CreateRound("test", &recordingQueue{})
	require.NoError(t, err)
	b, err := f.CreateRound("test", &recordingQueue{})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, internal.ActorID(1), a.ActorFactory().NextActorID())
	assert.Equal(t, internal.ActorID(1), b.ActorFactory().NextActorID())
}

func TestGameRoundFactory_Types(t *testing.T) {
	f := internal.NewGameRoundFactory(internal.RoundOptions{})
	f.Register("race", fakeConstructor)
	f.Register("test", fakeConstructor)
	f.Register("arena", fakeConstructor)

	assert.Equal(t, []string{"arena", "race", "test"}, f.Types())
	assert.True(t, f.Has("race"))
	assert.False(t, f.Has("deathmatch"))
}
