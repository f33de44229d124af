package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/echotools/gamespace/server"
	"github.com/echotools/gamespace/service"
	nkruntime "github.com/heroiclabs/nakama-common/runtime"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted   = errors.New("this game has already started")
	ErrLobbyFull        = errors.New("this game is full")
	ErrNotEnoughPlayers = errors.New("not enough players to start")
)

const TeamAttribute = "team"

var (
	_ service.GameBehavior = (*WaitingLobby)(nil)
	_ server.TeamSelector  = (*WaitingLobby)(nil)
	_ server.GameStarter   = (*WaitingLobby)(nil)
)

// lobbySeq keeps the worlds of concurrently open lobbies distinct.
var lobbySeq = atomic.NewInt64(0)

// WaitingLobby holds players until the game is started, then splits them into teams.
type WaitingLobby struct {
	logger nkruntime.Logger
	config *server.LobbyConfig

	space   *service.GameSpace
	teams   *service.TeamSelectionLobby
	banned  map[string]struct{}
	started bool

	// Team key per player, set when the game starts.
	assignments map[service.PlayerID]string
}

// NewLobbyFactory opens a fresh waiting lobby each time the host needs one.
func NewLobbyFactory(logger *zap.Logger, config *server.LobbyConfig) server.LobbyFactory {
	return func(spaces *service.GameSpaceManager) (*service.GameSpace, error) {
		seq := lobbySeq.Inc()
		worlds := lo.Map(config.Worlds, func(w string, _ int) string {
			return fmt.Sprintf("%s_%d", w, seq)
		})

		lobby := NewWaitingLobby(config)
		space, err := spaces.Open(worlds, lobby)
		if err != nil {
			return nil, err
		}
		lobby.Attach(space)
		logger.Info("Opened waiting lobby.", zap.String("mid", space.ID().String()), zap.Strings("worlds", worlds))
		return space, nil
	}
}

func NewWaitingLobby(config *server.LobbyConfig) *WaitingLobby {
	return &WaitingLobby{
		config: config,
		banned: lo.Associate(config.BannedUsernames, func(u string) (string, struct{}) {
			return strings.ToLower(u), struct{}{}
		}),
		assignments: make(map[service.PlayerID]string),
	}
}

// Attach binds the lobby to the space it owns. It must be called before anyone joins.
func (l *WaitingLobby) Attach(space *service.GameSpace) {
	l.space = space
	l.logger = space.RuntimeLogger().WithField("mid", space.ID().String())
	l.teams = service.NewTeamSelectionLobby(space, l.config.Teams)
}

func (l *WaitingLobby) Started() bool {
	return l.started
}

// Assignment returns the team the player was placed in when the game started.
func (l *WaitingLobby) Assignment(id service.PlayerID) (string, bool) {
	key, ok := l.assignments[id]
	return key, ok
}

func (l *WaitingLobby) isBanned(username string) bool {
	_, ok := l.banned[strings.ToLower(username)]
	return ok
}

func (l *WaitingLobby) hasRoomFor(n int) bool {
	return l.config.MaxPlayers <= 0 || l.space.Players().Size()+n <= l.config.MaxPlayers
}

func (l *WaitingLobby) ScreenJoins(space *service.GameSpace, players []*service.PlayerHandle) error {
	if l.started {
		return ErrAlreadyStarted
	}

	for _, p := range players {
		if l.isBanned(p.Profile().Username) {
			return fmt.Errorf("%s may not join this game", p.Profile().Name())
		}
	}

	arriving := lo.CountBy(players, func(p *service.PlayerHandle) bool {
		return !space.Players().Contains(p.ID())
	})
	if !l.hasRoomFor(arriving) {
		return fmt.Errorf("%w: your party of %d does not fit (%d/%d players)", ErrLobbyFull, arriving, space.Players().Size(), l.config.MaxPlayers)
	}
	return nil
}

func (l *WaitingLobby) OfferPlayer(space *service.GameSpace, offer *service.PlayerOffer) service.JoinOfferResult {
	switch {
	case l.started:
		return offer.Reject(ErrAlreadyStarted)
	case l.isBanned(offer.Player.Profile.Username):
		return offer.Reject(nil)
	case !l.hasRoomFor(1):
		return offer.Reject(ErrLobbyFull)
	}

	worlds := space.Worlds()
	return offer.Accept(worlds[0], l.config.Spawn, func(player *service.Identity) {
		// Runs before the player is counted as a member.
		text := fmt.Sprintf("Waiting for players (%d/%d)", space.Players().Size()+1, l.config.MinPlayers)
		if err := player.Send(&service.SystemMessagePacket{Text: text, Color: "yellow"}); err != nil {
			l.logger.WithField("uid", player.PlayerID.String()).Warn("Failed to send welcome: %v", err)
		}
	})
}

func (l *WaitingLobby) OnAddPlayer(_ *service.GameSpace, player *service.Identity) {
	l.logger.WithFields(map[string]any{
		"uid":      player.PlayerID.String(),
		"username": player.Profile.Username,
	}).Debug("Player joined the lobby.")
	l.teams.OnAddPlayer(player)
}

func (l *WaitingLobby) OnRemovePlayer(_ *service.GameSpace, player *service.Identity) {
	l.teams.OnRemovePlayer(player)
	delete(l.assignments, player.PlayerID)
}

func (l *WaitingLobby) OnClose(_ *service.GameSpace, reason service.CloseReason) {
	l.logger.WithField("reason", reason.String()).Info("Lobby closed after %d assignments.", len(l.assignments))
	clear(l.assignments)
}

func (l *WaitingLobby) SelectTeam(player *service.Identity, key string) error {
	return l.teams.SelectTeam(player, key)
}

// StartGame ends the waiting phase and allocates teams. Players that do not fit in any
// team are returned to the host.
func (l *WaitingLobby) StartGame(space *service.GameSpace) error {
	if l.started {
		return ErrAlreadyStarted
	}
	if n := space.Players().Size(); n < l.config.MinPlayers {
		return fmt.Errorf("%w: %d/%d", ErrNotEnoughPlayers, n, l.config.MinPlayers)
	}
	l.started = true

	teamIndex := make(map[string]int, len(l.teams.Teams()))
	for i, t := range l.teams.Teams() {
		teamIndex[t.Key] = i + 1
	}

	err := l.teams.Allocate(func(team service.Team, player *service.Identity) {
		l.assignments[player.PlayerID] = team.Key
		player.Attributes.Set(TeamAttribute, int64(teamIndex[team.Key]))
		if err := player.Send(&service.SystemMessagePacket{Text: "You are on the " + team.Name() + " team", Color: team.Color}); err != nil {
			l.logger.WithField("uid", player.PlayerID.String()).Warn("Failed to announce team: %v", err)
		}
	})

	var overflow *service.AllocationOverflowError
	if errors.As(err, &overflow) {
		for _, player := range overflow.Players {
			if err := player.Send(&service.SystemMessagePacket{Text: service.JoinErrorMessage(service.ErrAllocationOverflow), Color: "red"}); err != nil {
				l.logger.WithField("uid", player.PlayerID.String()).Warn("Failed to send overflow notice: %v", err)
			}
			space.Players().Kick(player)
		}
		return nil
	}
	return err
}
