package service

import (
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// GameSpaceLookup answers which game space owns a participant or a world.
// It is the only view of the manager the host instrumentation needs.
type GameSpaceLookup interface {
	ByPlayer(id PlayerID) *GameSpace
	ByWorld(world string) *GameSpace
	InGame(id PlayerID) bool
}

var _ GameSpaceLookup = (*GameSpaceManager)(nil)

// GameSpaceManager opens game spaces and indexes them by world and by participant.
type GameSpaceManager struct {
	logger   *zap.Logger
	metrics  Metrics
	registry PlayerRegistry

	spaces   map[uuid.UUID]*GameSpace
	byWorld  map[string]*GameSpace
	byPlayer map[PlayerID]*GameSpace
}

func NewGameSpaceManager(logger *zap.Logger, metrics Metrics, registry PlayerRegistry) *GameSpaceManager {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &GameSpaceManager{
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		spaces:   make(map[uuid.UUID]*GameSpace),
		byWorld:  make(map[string]*GameSpace),
		byPlayer: make(map[PlayerID]*GameSpace),
	}
}

// Open creates an empty game space over worlds. Each world belongs to at most one space.
func (m *GameSpaceManager) Open(worlds []string, behavior GameBehavior) (*GameSpace, error) {
	if len(worlds) == 0 {
		return nil, NewOpenError("a game space needs at least one world", nil)
	}
	for _, w := range worlds {
		if owner, ok := m.byWorld[w]; ok {
			return nil, NewOpenError(fmt.Sprintf("world %q is already in use", w), fmt.Errorf("owned by game space %s", owner.ID()))
		}
	}
	worlds = lo.Uniq(worlds)

	space := newGameSpace(m.logger, m.metrics, m.registry, m, worlds, behavior)
	m.spaces[space.ID()] = space
	for _, w := range worlds {
		m.byWorld[w] = space
	}

	m.logger.Info("Opened game space.", zap.String("mid", space.ID().String()), zap.Strings("worlds", worlds))
	m.metrics.GaugeSet("gamespace_count", nil, float64(len(m.spaces)))
	return space, nil
}

func (m *GameSpaceManager) Get(id uuid.UUID) *GameSpace {
	return m.spaces[id]
}

func (m *GameSpaceManager) Spaces() []*GameSpace {
	return lo.Values(m.spaces)
}

func (m *GameSpaceManager) ByPlayer(id PlayerID) *GameSpace {
	return m.byPlayer[id]
}

func (m *GameSpaceManager) ByWorld(world string) *GameSpace {
	return m.byWorld[world]
}

func (m *GameSpaceManager) InGame(id PlayerID) bool {
	_, ok := m.byPlayer[id]
	return ok
}

func (m *GameSpaceManager) trackPlayer(id PlayerID, space *GameSpace) {
	m.byPlayer[id] = space
	m.reportPlayers()
}

func (m *GameSpaceManager) untrackPlayer(id PlayerID, space *GameSpace) {
	if m.byPlayer[id] == space {
		delete(m.byPlayer, id)
	}
	m.reportPlayers()
}

// reportPlayers publishes the number of participants across all spaces.
func (m *GameSpaceManager) reportPlayers() {
	m.metrics.GaugeSet("gamespace_players", nil, float64(len(m.byPlayer)))
}

func (m *GameSpaceManager) removeSpace(space *GameSpace) {
	delete(m.spaces, space.ID())
	for _, w := range space.worlds {
		if m.byWorld[w] == space {
			delete(m.byWorld, w)
		}
	}
	for id, s := range m.byPlayer {
		if s == space {
			delete(m.byPlayer, id)
		}
	}
	m.metrics.GaugeSet("gamespace_count", nil, float64(len(m.spaces)))
	m.reportPlayers()
}

// CloseAll closes every open game space, returning their members to the host.
func (m *GameSpaceManager) CloseAll(reason CloseReason) {
	for _, space := range m.Spaces() {
		space.Close(reason)
	}
}

// OnPlayerDisconnect is called by the host after a participant's connection is gone.
// Membership is dropped without running the reverse swap: there is nothing to hand back to.
func (m *GameSpaceManager) OnPlayerDisconnect(player *Identity) {
	space := m.ByPlayer(player.PlayerID)
	if space == nil {
		return
	}
	if _, ok := space.Players().Remove(player); ok {
		m.logger.Debug("Removed disconnected player from game space.", zap.String("uid", player.PlayerID.String()), zap.String("mid", space.ID().String()))
	}
}

// OnPlayerRespawn is called by the host before it respawns a participant. A participant
// respawning inside a game space is returned to the host environment instead.
func (m *GameSpaceManager) OnPlayerRespawn(player *Identity) bool {
	space := m.ByPlayer(player.PlayerID)
	if space == nil {
		return false
	}
	return space.Players().Kick(player)
}

// AllowWorldChange reports whether the participant may move into target: only within the
// space that owns it, or between worlds no space owns.
func (m *GameSpaceManager) AllowWorldChange(player *Identity, target string) bool {
	if player.World == target {
		return true
	}
	allowed := m.ByPlayer(player.PlayerID) == m.ByWorld(target)
	if !allowed {
		m.logger.Error("Player tried to change to a world they are not allowed to be in.",
			zap.String("uid", player.PlayerID.String()),
			zap.String("username", player.Profile.Username),
			zap.String("world", target))
	}
	return allowed
}

// ShouldSavePlayerData is false while the participant is inside a game space, so session-local
// state never leaks into the shared environment's persisted profile.
func (m *GameSpaceManager) ShouldSavePlayerData(id PlayerID) bool {
	return !m.InGame(id)
}
