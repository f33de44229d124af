package service

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGameSpaceManager_Open(t *testing.T) {
	manager := NewGameSpaceManager(zaptest.NewLogger(t), nil, newTestRegistry(t))

	space, err := manager.Open([]string{"arena", "arena_nether", "arena"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"arena", "arena_nether"}, space.Worlds())
	assert.Same(t, space, manager.ByWorld("arena_nether"))
	assert.Same(t, space, manager.Get(space.ID()))

	_, err = manager.Open([]string{"arena"}, nil)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Contains(t, openErr.Reason, "arena")

	_, err = manager.Open(nil, nil)
	assert.ErrorAs(t, err, &openErr)
	assert.Len(t, manager.Spaces(), 1)
}

func TestGameSpaceManager_Lookup(t *testing.T) {
	f := newTestFixture(t, "arena")
	p := newTestPlayer(t, f.registry, "alice", "lobby")

	assert.Nil(t, f.manager.ByPlayer(p.ID()))
	assert.True(t, f.manager.ShouldSavePlayerData(p.ID()))

	require.NoError(t, f.join(p))

	var lookup GameSpaceLookup = f.manager
	assert.Same(t, f.space, lookup.ByPlayer(p.ID()))
	assert.True(t, lookup.InGame(p.ID()))
	assert.False(t, f.manager.ShouldSavePlayerData(p.ID()))

	require.True(t, f.space.Players().Kick(p.Active()))
	assert.False(t, lookup.InGame(p.ID()))
	assert.True(t, f.manager.ShouldSavePlayerData(p.ID()))
}

func TestGameSpaceManager_AllowWorldChange(t *testing.T) {
	registry := newTestRegistry(t)
	manager := NewGameSpaceManager(zaptest.NewLogger(t), nil, registry)
	first, err := manager.Open([]string{"first", "first_cave"}, nil)
	require.NoError(t, err)
	_, err = manager.Open([]string{"second"}, nil)
	require.NoError(t, err)

	p := newTestPlayer(t, registry, "alice", "lobby")
	assert.True(t, manager.AllowWorldChange(p.Active(), "hub"))
	assert.False(t, manager.AllowWorldChange(p.Active(), "first"))

	require.NoError(t, first.Players().Join(p.PlayerHandle))
	session := p.Active()
	assert.True(t, manager.AllowWorldChange(session, "first_cave"))
	assert.False(t, manager.AllowWorldChange(session, "second"))
	assert.False(t, manager.AllowWorldChange(session, "hub"))
}

func TestGameSpaceManager_OnPlayerDisconnect(t *testing.T) {
	f := newTestFixture(t)
	gone := newTestPlayer(t, f.registry, "gone", "lobby")
	stays := newTestPlayer(t, f.registry, "stays", "lobby")
	require.NoError(t, f.join(gone))
	require.NoError(t, f.join(stays))

	session := gone.Active()
	f.manager.OnPlayerDisconnect(session)

	assert.False(t, f.space.Players().Contains(gone.ID()))
	assert.False(t, f.manager.InGame(gone.ID()))
	// No reverse swap: the host identity is not handed the dead connection back.
	assert.Equal(t, LiveSession, gone.Live())
	assert.Nil(t, gone.Host().Connection())

	f.manager.OnPlayerDisconnect(session)
	assert.Equal(t, 1, f.space.Players().Size())
}

func TestGameSpaceManager_OnPlayerRespawn(t *testing.T) {
	f := newTestFixture(t)
	p := newTestPlayer(t, f.registry, "alice", "lobby")

	assert.False(t, f.manager.OnPlayerRespawn(p.Active()))

	require.NoError(t, f.join(p))
	assert.True(t, f.manager.OnPlayerRespawn(p.Active()))
	assert.Equal(t, LiveHost, p.Live())
	f.registry.assertSingleRecord(p.PlayerHandle)
	assert.True(t, f.space.IsClosed())
}

func TestGameSpaceManager_CloseAll(t *testing.T) {
	registry := newTestRegistry(t)
	manager := NewGameSpaceManager(zaptest.NewLogger(t), nil, registry)

	var players []*testPlayer
	for _, world := range []string{"one", "two"} {
		space, err := manager.Open([]string{world}, nil)
		require.NoError(t, err)
		p := newTestPlayer(t, registry, "in_"+world, "lobby")
		require.NoError(t, space.Players().Join(p.PlayerHandle))
		players = append(players, p)
	}

	manager.CloseAll(CloseReasonShutdown)

	assert.Empty(t, manager.Spaces())
	for _, p := range players {
		assert.Equal(t, LiveHost, p.Live())
		registry.assertSingleRecord(p.PlayerHandle)
		assert.False(t, manager.InGame(p.ID()))
	}
}

func TestGameSpaceManager_PlayerGaugeIsAggregate(t *testing.T) {
	registry := newTestRegistry(t)
	metrics := newTestMetrics()
	manager := NewGameSpaceManager(zaptest.NewLogger(t), metrics, registry)

	var players []*testPlayer
	for _, world := range []string{"one", "two", "three"} {
		space, err := manager.Open([]string{world}, nil)
		require.NoError(t, err)
		p := newTestPlayer(t, registry, "in_"+world, "lobby")
		require.NoError(t, space.Players().Join(p.PlayerHandle))
		players = append(players, p)
	}

	gauge := metrics.gauges["gamespace_players"]
	assert.Empty(t, gauge.tags)
	assert.Equal(t, 3.0, gauge.value)

	require.True(t, manager.ByPlayer(players[0].ID()).Players().Kick(players[0].Active()))
	assert.Equal(t, 2.0, metrics.gauges["gamespace_players"].value)

	manager.CloseAll(CloseReasonShutdown)
	gauge = metrics.gauges["gamespace_players"]
	assert.Empty(t, gauge.tags)
	assert.Zero(t, gauge.value)
	assert.Zero(t, metrics.gauges["gamespace_count"].value)
}

func TestJoinError(t *testing.T) {
	err := NewJoinErrorf(GenericJoinRejected, "rejected by owner: %w", io.EOF)

	assert.ErrorIs(t, err, ErrGenericJoinRejected)
	assert.ErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, ErrAlreadyJoined)
	assert.Equal(t, "join rejected: rejected by owner: EOF", err.Error())
	assert.Equal(t, GenericJoinRejected, JoinErrorCodeOf(err))
	assert.Equal(t, JoinUnknownError, JoinErrorCodeOf(errors.New("plain")))
	assert.Equal(t, "plain", JoinErrorMessage(errors.New("plain")))

	tests := []struct {
		err  error
		code codes.Code
	}{
		{ErrAlreadyJoined, codes.AlreadyExists},
		{ErrWorldMismatch, codes.FailedPrecondition},
		{ErrPlayerInstanceConflict, codes.Aborted},
		{ErrGenericJoinRejected, codes.PermissionDenied},
		{ErrSpaceClosed, codes.Unavailable},
		{ErrJoinThrottled, codes.ResourceExhausted},
		{ErrUnexpectedJoinFailure, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(JoinErrorCodeOf(tt.err).String(), func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(tt.err))
		})
	}
}
