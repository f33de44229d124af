package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/echotools/gamespace/service"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

var (
	ErrHostStopped   = errors.New("host is not running")
	ErrNotInGame     = errors.New("you are not in a game")
	ErrNoTeamChoice  = errors.New("this game has no team selection")
	ErrCannotStart   = errors.New("this game cannot be started")
	ErrUnknownSpace  = errors.New("that game does not exist")
	ErrNoOpenLobbies = errors.New("there is no game to join")
	ErrAlreadyInGame = errors.New("you are already in a game, leave it first")
)

// LobbyFactory opens the game space new players are sent to when they ask to join
// without naming one.
type LobbyFactory func(spaces *service.GameSpaceManager) (*service.GameSpace, error)

// TeamSelector is implemented by space owners that accept team choices.
type TeamSelector interface {
	SelectTeam(player *service.Identity, key string) error
}

// GameStarter is implemented by space owners that can be started on request.
type GameStarter interface {
	StartGame(space *service.GameSpace) error
}

// Host owns all game state and runs every mutation on a single goroutine.
type Host struct {
	logger  *zap.Logger
	config  *Config
	metrics service.Metrics

	players *PlayerManager
	spaces  *service.GameSpaceManager
	joiner  *service.PlayerJoiner
	lobbies LobbyFactory
	lobby   *service.GameSpace

	ops  chan func()
	done chan struct{}
}

func NewHost(logger *zap.Logger, config *Config, metrics service.Metrics, lobbies LobbyFactory) *Host {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	players := NewPlayerManager(logger, config.GameSpace, metrics)
	spaces := service.NewGameSpaceManager(logger, metrics, players)
	joiner := service.NewPlayerJoiner(logger, players, service.JoinerConfig{
		RateLimit: config.GameSpace.JoinRateLimit,
		Burst:     config.GameSpace.JoinBurst,
	})

	return &Host{
		logger:  logger,
		config:  config,
		metrics: metrics,
		players: players,
		spaces:  spaces,
		joiner:  joiner,
		lobbies: lobbies,
		ops:     make(chan func(), 256),
		done:    make(chan struct{}),
	}
}

func (h *Host) Players() *PlayerManager {
	return h.players
}

func (h *Host) Spaces() *service.GameSpaceManager {
	return h.spaces
}

func (h *Host) Joiner() *service.PlayerJoiner {
	return h.joiner
}

// Run processes submitted operations until ctx is done, then closes every game space.
func (h *Host) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.drain()
			h.spaces.CloseAll(service.CloseReasonShutdown)
			h.logger.Info("Host stopped.")
			return
		case op := <-h.ops:
			h.run(op)
		}
	}
}

func (h *Host) drain() {
	for {
		select {
		case op := <-h.ops:
			h.run(op)
		default:
			return
		}
	}
}

func (h *Host) run(op func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in host operation.", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	op()
}

// Do runs fn on the host goroutine and waits for it to finish.
func (h *Host) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	op := func() {
		result <- fn()
	}
	select {
	case h.ops <- op:
	case <-h.done:
		return ErrHostStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-h.done:
		return ErrHostStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a new player. Must be called on the host goroutine.
func (h *Host) Connect(conn service.Connection, profile service.Profile) (*service.PlayerHandle, error) {
	return h.players.Connect(conn, profile)
}

// Disconnect drops the player from its game space and the player list.
func (h *Host) Disconnect(handle *service.PlayerHandle) {
	if h.spaces.InGame(handle.ID()) {
		h.spaces.OnPlayerDisconnect(handle.Active())
	}
	h.players.Disconnect(handle)
	h.joiner.Forget(handle.ID())
}

// Join sends handle, and its party, to the named space or to the current waiting lobby.
// Members of a game space must leave it before joining another.
func (h *Host) Join(handle *service.PlayerHandle, spaceID string) *service.JoinResults {
	results := service.NewJoinResults()
	if h.spaces.InGame(handle.ID()) {
		results.GlobalError = ErrAlreadyInGame
		return results
	}
	space, err := h.resolveSpace(spaceID)
	if err != nil {
		results.GlobalError = err
		return results
	}
	return h.joiner.TryJoin(handle, space)
}

func (h *Host) resolveSpace(spaceID string) (*service.GameSpace, error) {
	if spaceID != "" {
		id, err := uuid.FromString(spaceID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownSpace, err)
		}
		space := h.spaces.Get(id)
		if space == nil {
			return nil, ErrUnknownSpace
		}
		return space, nil
	}

	if h.lobby != nil && !h.lobby.IsClosed() {
		return h.lobby, nil
	}
	if h.lobbies == nil {
		return nil, ErrNoOpenLobbies
	}
	space, err := h.lobbies(h.spaces)
	if err != nil {
		return nil, err
	}
	h.lobby = space
	return space, nil
}

// Leave returns the player to the host environment.
func (h *Host) Leave(handle *service.PlayerHandle) error {
	space := h.spaces.ByPlayer(handle.ID())
	if space == nil {
		return ErrNotInGame
	}
	space.Players().Kick(handle.Active())
	return nil
}

// Respawn lets the owning game space react first; otherwise the player respawns in place.
func (h *Host) Respawn(handle *service.PlayerHandle) error {
	if h.spaces.OnPlayerRespawn(handle.Active()) {
		return nil
	}
	return h.players.SendHandshake(handle.Active(), false)
}

func (h *Host) SelectTeam(handle *service.PlayerHandle, key string) error {
	space := h.spaces.ByPlayer(handle.ID())
	if space == nil {
		return ErrNotInGame
	}
	selector, ok := space.Behavior().(TeamSelector)
	if !ok {
		return ErrNoTeamChoice
	}
	return selector.SelectTeam(handle.Active(), key)
}

func (h *Host) StartGame(handle *service.PlayerHandle) error {
	space := h.spaces.ByPlayer(handle.ID())
	if space == nil {
		return ErrNotInGame
	}
	starter, ok := space.Behavior().(GameStarter)
	if !ok {
		return ErrCannotStart
	}
	if err := starter.StartGame(space); err != nil {
		return err
	}
	if h.lobby == space {
		h.lobby = nil
	}
	return nil
}

// ChangeWorld moves the live identity to target if its game space allows it.
func (h *Host) ChangeWorld(handle *service.PlayerHandle, target string) error {
	player := handle.Active()
	if !h.spaces.AllowWorldChange(player, target) {
		return fmt.Errorf("you cannot travel to %q", target)
	}
	player.World = target
	return h.players.SendHandshake(player, false)
}

// HandleRequest dispatches one client request. Failures are reported to the player.
func (h *Host) HandleRequest(handle *service.PlayerHandle, request *ClientRequest) error {
	var err error
	switch request.Type {
	case "join":
		results := h.Join(handle, request.Space)
		return results.SendErrorsTo(handle)
	case "leave":
		err = h.Leave(handle)
	case "team":
		err = h.SelectTeam(handle, request.Team)
	case "start":
		err = h.StartGame(handle)
	case "respawn":
		err = h.Respawn(handle)
	case "world":
		err = h.ChangeWorld(handle, request.World)
	default:
		err = fmt.Errorf("unknown request %q", request.Type)
	}
	if err != nil {
		h.logger.Debug("Request rejected.", zap.String("uid", handle.ID().String()), zap.String("type", request.Type), zap.Error(err))
		return handle.SendMessage(service.JoinErrorMessage(err), "red")
	}
	return nil
}
