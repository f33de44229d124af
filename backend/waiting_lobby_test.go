package backend

import (
	"testing"

	"github.com/echotools/gamespace/server"
	"github.com/echotools/gamespace/service"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testConnection struct {
	id      uuid.UUID
	packets []service.Packet
}

func newTestConnection() *testConnection {
	return &testConnection{id: uuid.Must(uuid.NewV4())}
}

func (c *testConnection) ID() uuid.UUID { return c.id }

func (c *testConnection) Send(p service.Packet) error {
	c.packets = append(c.packets, p)
	return nil
}

func (c *testConnection) messages() []string {
	var out []string
	for _, p := range c.packets {
		if m, ok := p.(*service.SystemMessagePacket); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (c *testConnection) has(packetType string) bool {
	for _, p := range c.packets {
		if p.PacketType() == packetType {
			return true
		}
	}
	return false
}

type lobbyFixture struct {
	t       *testing.T
	players *server.PlayerManager
	spaces  *service.GameSpaceManager
	joiner  *service.PlayerJoiner
	factory server.LobbyFactory
	conns   map[service.PlayerID]*testConnection
}

func newLobbyFixture(t *testing.T, modify func(*server.LobbyConfig)) *lobbyFixture {
	logger := zaptest.NewLogger(t)
	config := server.NewLobbyConfig()
	if modify != nil {
		modify(config)
	}
	players := server.NewPlayerManager(logger, server.NewGameSpaceConfig(), nil)
	return &lobbyFixture{
		t:       t,
		players: players,
		spaces:  service.NewGameSpaceManager(logger, nil, players),
		joiner:  service.NewPlayerJoiner(logger, players, service.JoinerConfig{}),
		factory: NewLobbyFactory(logger, config),
		conns:   make(map[service.PlayerID]*testConnection),
	}
}

func (f *lobbyFixture) open() (*service.GameSpace, *WaitingLobby) {
	space, err := f.factory(f.spaces)
	require.NoError(f.t, err)
	lobby, ok := space.Behavior().(*WaitingLobby)
	require.True(f.t, ok)
	return space, lobby
}

func (f *lobbyFixture) connect(username string) *service.PlayerHandle {
	conn := newTestConnection()
	handle, err := f.players.Connect(conn, service.Profile{Username: username})
	require.NoError(f.t, err)
	f.conns[handle.ID()] = conn
	return handle
}

func (f *lobbyFixture) join(handle *service.PlayerHandle, space *service.GameSpace) *service.JoinResults {
	return f.joiner.TryJoin(handle, space)
}

func TestLobbyFactory_OpensDistinctWorlds(t *testing.T) {
	f := newLobbyFixture(t, nil)
	first, _ := f.open()
	second, _ := f.open()

	assert.NotEqual(t, first.Worlds(), second.Worlds())
	assert.Len(t, f.spaces.Spaces(), 2)
	assert.Same(t, first, f.spaces.ByWorld(first.Worlds()[0]))
}

func TestWaitingLobby_Join(t *testing.T) {
	f := newLobbyFixture(t, func(c *server.LobbyConfig) {
		c.Spawn = service.Vec3{X: 1, Y: 64, Z: 1}
	})
	space, _ := f.open()
	alice := f.connect("alice")

	results := f.join(alice, space)
	require.True(t, results.OK())

	player := alice.Active()
	assert.Equal(t, service.LiveSession, alice.Live())
	assert.Equal(t, space.Worlds()[0], player.World)
	assert.Equal(t, service.Vec3{X: 1, Y: 64, Z: 1}, player.Position)

	conn := f.conns[alice.ID()]
	assert.True(t, conn.has("team_selection"))
	assert.Contains(t, conn.messages(), "Waiting for players (1/2)")
}

func TestWaitingLobby_ScreenJoins(t *testing.T) {
	t.Run("banned", func(t *testing.T) {
		f := newLobbyFixture(t, func(c *server.LobbyConfig) {
			c.BannedUsernames = []string{"Griefer"}
		})
		space, _ := f.open()
		results := f.join(f.connect("griefer"), space)

		assert.True(t, service.JoinErrorIs(results.GlobalError, service.ScreeningFailed))
		assert.Zero(t, space.Players().Size())
	})

	t.Run("full", func(t *testing.T) {
		f := newLobbyFixture(t, func(c *server.LobbyConfig) {
			c.MaxPlayers = 1
		})
		space, _ := f.open()
		require.True(t, f.join(f.connect("alice"), space).OK())

		results := f.join(f.connect("bob"), space)
		assert.True(t, service.JoinErrorIs(results.GlobalError, service.ScreeningFailed))
		assert.ErrorIs(t, results.GlobalError, ErrLobbyFull)
		assert.Equal(t, 1, space.Players().Size())
	})

	t.Run("party counts toward capacity", func(t *testing.T) {
		f := newLobbyFixture(t, func(c *server.LobbyConfig) {
			c.MaxPlayers = 2
		})
		space, _ := f.open()
		require.True(t, f.join(f.connect("alice"), space).OK())

		carol := f.connect("carol")
		f.joiner.AddPartyCollector(func(_ *service.GameSpace, leader *service.PlayerHandle) []*service.PlayerHandle {
			if leader.Profile().Username == "bob" {
				return []*service.PlayerHandle{carol}
			}
			return nil
		})

		results := f.join(f.connect("bob"), space)
		assert.ErrorIs(t, results.GlobalError, ErrLobbyFull)
		assert.Equal(t, service.LiveHost, carol.Live())
	})
}

func TestWaitingLobby_StartGame(t *testing.T) {
	f := newLobbyFixture(t, func(c *server.LobbyConfig) {
		c.MinPlayers = 2
		c.Teams = []service.Team{
			{Key: "blue", Display: "Blue", Color: "blue", MaxSize: 1},
			{Key: "orange", Display: "Orange", Color: "gold", MaxSize: 1},
		}
	})
	space, lobby := f.open()

	alice := f.connect("alice")
	require.True(t, f.join(alice, space).OK())

	err := lobby.StartGame(space)
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)
	assert.False(t, lobby.Started())

	bob := f.connect("bob")
	carol := f.connect("carol")
	require.True(t, f.join(bob, space).OK())
	require.True(t, f.join(carol, space).OK())

	require.NoError(t, lobby.SelectTeam(alice.Active(), "orange"))
	assert.ErrorIs(t, lobby.SelectTeam(bob.Active(), "purple"), service.ErrUnknownTeam)

	require.NoError(t, lobby.StartGame(space))
	assert.True(t, lobby.Started())

	team, ok := lobby.Assignment(alice.ID())
	require.True(t, ok)
	assert.Equal(t, "orange", team)
	assert.EqualValues(t, 2, alice.Active().Attributes.Get(TeamAttribute))

	team, ok = lobby.Assignment(bob.ID())
	require.True(t, ok)
	assert.Equal(t, "blue", team)
	assert.Contains(t, f.conns[bob.ID()].messages(), "You are on the Blue team")

	// No room left for carol, who goes back to the host.
	_, ok = lobby.Assignment(carol.ID())
	assert.False(t, ok)
	assert.Equal(t, service.LiveHost, carol.Live())
	assert.False(t, space.Players().Contains(carol.ID()))
	assert.Contains(t, f.conns[carol.ID()].messages(), service.JoinErrorMessage(service.ErrAllocationOverflow))

	assert.ErrorIs(t, lobby.StartGame(space), ErrAlreadyStarted)
	assert.ErrorIs(t, lobby.SelectTeam(alice.Active(), "blue"), service.ErrSelectionFinished)

	results := f.join(f.connect("dave"), space)
	assert.True(t, service.JoinErrorIs(results.GlobalError, service.ScreeningFailed))
	assert.ErrorIs(t, results.GlobalError, ErrAlreadyStarted)
}

func TestWaitingLobby_LeavingForgetsAssignment(t *testing.T) {
	f := newLobbyFixture(t, func(c *server.LobbyConfig) {
		c.MinPlayers = 1
	})
	space, lobby := f.open()
	alice := f.connect("alice")
	bob := f.connect("bob")
	require.True(t, f.join(alice, space).OK())
	require.True(t, f.join(bob, space).OK())
	require.NoError(t, lobby.StartGame(space))

	_, ok := lobby.Assignment(alice.ID())
	require.True(t, ok)

	require.True(t, space.Players().Kick(alice.Active()))
	_, ok = lobby.Assignment(alice.ID())
	assert.False(t, ok)
	assert.False(t, space.IsClosed())

	require.True(t, space.Players().Kick(bob.Active()))
	assert.True(t, space.IsClosed())
	assert.Empty(t, f.spaces.Spaces())
}
