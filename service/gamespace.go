package service

import (
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
	nkruntime "github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type GameSpaceState uint8

const (
	GameSpaceEmpty GameSpaceState = iota
	GameSpaceActive
	GameSpaceClosed
)

func (s GameSpaceState) String() string {
	switch s {
	case GameSpaceEmpty:
		return "empty"
	case GameSpaceActive:
		return "active"
	case GameSpaceClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type CloseReason uint8

const (
	CloseReasonFinished CloseReason = iota
	CloseReasonCanceled
	CloseReasonErrored
	CloseReasonGarbageCollected
	CloseReasonShutdown
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonFinished:
		return "finished"
	case CloseReasonCanceled:
		return "canceled"
	case CloseReasonErrored:
		return "errored"
	case CloseReasonGarbageCollected:
		return "garbage_collected"
	case CloseReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// GameBehavior is implemented by whoever owns a game space: it decides who may
// join and observes membership changes. Game rules live behind it.
type GameBehavior interface {
	// ScreenJoins checks a whole party before any individual join. It must not have side effects.
	ScreenJoins(space *GameSpace, players []*PlayerHandle) error
	// OfferPlayer returns an accept, a reject, or nil.
	OfferPlayer(space *GameSpace, offer *PlayerOffer) JoinOfferResult
	OnAddPlayer(space *GameSpace, player *Identity)
	OnRemovePlayer(space *GameSpace, player *Identity)
	OnClose(space *GameSpace, reason CloseReason)
}

// BaseBehavior accepts everyone into the space's first world. Embed it to override selectively.
type BaseBehavior struct{}

func (BaseBehavior) ScreenJoins(*GameSpace, []*PlayerHandle) error { return nil }

func (BaseBehavior) OfferPlayer(space *GameSpace, offer *PlayerOffer) JoinOfferResult {
	worlds := space.Worlds()
	if len(worlds) == 0 {
		return offer.Reject(NewJoinError(GenericJoinRejected, "this game has no worlds"))
	}
	return offer.Accept(worlds[0], offer.Player.Position)
}

func (BaseBehavior) OnAddPlayer(*GameSpace, *Identity)    {}
func (BaseBehavior) OnRemovePlayer(*GameSpace, *Identity) {}
func (BaseBehavior) OnClose(*GameSpace, CloseReason)      {}

// GameSpace is an isolated session: a set of worlds plus the participants borrowed into them.
type GameSpace struct {
	id         uuid.UUID
	logger     *zap.Logger
	metrics    Metrics
	registry   PlayerRegistry
	behavior   GameBehavior
	worlds     []string
	players    *GameSpacePlayers
	manager    *GameSpaceManager
	createTime time.Time

	state       GameSpaceState
	closing     *atomic.Bool
	closeReason CloseReason
}

func newGameSpace(logger *zap.Logger, metrics Metrics, registry PlayerRegistry, manager *GameSpaceManager, worlds []string, behavior GameBehavior) *GameSpace {
	if behavior == nil {
		behavior = BaseBehavior{}
	}
	id := uuid.Must(uuid.NewV4())
	s := &GameSpace{
		id:         id,
		logger:     logger.With(zap.String("mid", id.String())),
		metrics:    metrics,
		registry:   registry,
		behavior:   behavior,
		worlds:     slices.Clone(worlds),
		manager:    manager,
		createTime: time.Now().UTC(),
		state:      GameSpaceEmpty,
		closing:    atomic.NewBool(false),
	}
	s.players = newGameSpacePlayers(s)
	return s
}

func (s *GameSpace) ID() uuid.UUID {
	return s.id
}

func (s *GameSpace) Players() *GameSpacePlayers {
	return s.players
}

func (s *GameSpace) Worlds() []string {
	return slices.Clone(s.worlds)
}

func (s *GameSpace) HasWorld(world string) bool {
	return slices.Contains(s.worlds, world)
}

func (s *GameSpace) State() GameSpaceState {
	return s.state
}

func (s *GameSpace) IsClosed() bool {
	return s.closing.Load()
}

// CloseReason is only meaningful once the space is closed.
func (s *GameSpace) CloseReason() CloseReason {
	return s.closeReason
}

func (s *GameSpace) Behavior() GameBehavior {
	return s.behavior
}

func (s *GameSpace) Registry() PlayerRegistry {
	return s.registry
}

// RuntimeLogger returns a logger suitable for the space's owner.
func (s *GameSpace) RuntimeLogger() nkruntime.Logger {
	return NewRuntimeLogger(s.logger)
}

func (s *GameSpace) screenJoins(players []*PlayerHandle) error {
	return s.behavior.ScreenJoins(s, players)
}

func (s *GameSpace) offerPlayer(offer *PlayerOffer) JoinOfferResult {
	return s.behavior.OfferPlayer(s, offer)
}

func (s *GameSpace) onAddPlayer(player *Identity) {
	if s.state == GameSpaceEmpty {
		s.state = GameSpaceActive
	}
	if s.manager != nil {
		s.manager.trackPlayer(player.PlayerID, s)
	}
	s.behavior.OnAddPlayer(s, player)
}

func (s *GameSpace) onRemovePlayer(player *Identity) {
	if s.manager != nil {
		s.manager.untrackPlayer(player.PlayerID, s)
	}
	s.behavior.OnRemovePlayer(s, player)
}

// Close shuts the space down. Remaining members are kicked back to the host.
// Closing a space that is already closing is a no-op.
func (s *GameSpace) Close(reason CloseReason) {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	s.closeReason = reason

	s.logger.Info("Closing game space.", zap.String("reason", reason.String()), zap.Int("players", s.players.Size()), zap.Duration("age", time.Since(s.createTime)))

	for _, p := range s.players.List() {
		s.players.Kick(p)
	}
	s.players.reset()

	s.behavior.OnClose(s, reason)
	s.state = GameSpaceClosed

	if s.manager != nil {
		s.manager.removeSpace(s)
	}
	s.metrics.CounterAdd("gamespace_close_count", map[string]string{"reason": reason.String()}, 1)
}
