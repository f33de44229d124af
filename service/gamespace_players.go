package service

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
)

// GameSpacePlayers is the membership manager of one game space: the set of joined
// participants and the leave handler captured for each of them.
// The membership set and the leave handler table always have the same keys.
type GameSpacePlayers struct {
	space         *GameSpace
	order         []PlayerID
	players       map[PlayerID]*Identity
	leaveHandlers map[PlayerID]LeaveHandler
}

func newGameSpacePlayers(space *GameSpace) *GameSpacePlayers {
	return &GameSpacePlayers{
		space:         space,
		order:         make([]PlayerID, 0, 8),
		players:       make(map[PlayerID]*Identity),
		leaveHandlers: make(map[PlayerID]LeaveHandler),
	}
}

// ScreenJoins asks the space's owner whether the whole group may join. No side effects.
func (p *GameSpacePlayers) ScreenJoins(players []*PlayerHandle) error {
	if p.space.IsClosed() {
		return ErrSpaceClosed
	}
	if err := p.space.screenJoins(players); err != nil {
		if JoinErrorCodeOf(err) != JoinUnknownError {
			return err
		}
		return NewJoinErrorf(ScreeningFailed, "%w", err)
	}
	return nil
}

// Join moves handle into the first of the space's worlds, unless it already stands in one of
// them, and offers it. A failed offer returns the host identity to the world it came from.
func (p *GameSpacePlayers) Join(handle *PlayerHandle) error {
	staged := handle.stageInto(p.space)
	err := p.Offer(NewOfferContext(handle, p.space.registry))
	if err != nil && staged {
		handle.unstage()
	}
	return err
}

// Offer attempts one participant's join. A failed offer triggers a garbage collection check.
func (p *GameSpacePlayers) Offer(ctx OfferContext) error {
	start := time.Now()
	err := p.attemptOffer(ctx)

	tags := map[string]string{"result": "ok"}
	if err != nil {
		tags["result"] = JoinErrorCodeOf(err).String()
	}
	p.space.metrics.CounterAdd("gamespace_join_count", tags, 1)
	p.space.metrics.TimerRecord("gamespace_join_duration", tags, time.Since(start))

	if err != nil {
		p.attemptGarbageCollection()
	}
	return err
}

func (p *GameSpacePlayers) attemptOffer(ctx OfferContext) error {
	player := ctx.Player

	if p.space.IsClosed() {
		return ErrSpaceClosed
	}
	if p.Contains(player.PlayerID) {
		return ErrAlreadyJoined
	}
	// A participant inside another space has no registered host identity to hand off.
	if h := ctx.Handle; h != nil && (h.Live() != LiveHost || !p.space.registry.Contains(h.Host())) {
		return ErrPlayerInstanceConflict
	}

	offer := &PlayerOffer{Player: player}
	switch result := p.space.offerPlayer(offer).(type) {
	case *JoinReject:
		if result.Reason == nil {
			return ErrGenericJoinRejected
		}
		if JoinErrorCodeOf(result.Reason) != JoinUnknownError {
			return result.Reason
		}
		return NewJoinErrorf(GenericJoinRejected, "%w", result.Reason)
	case *JoinAccept:
		return p.commit(ctx, result)
	default:
		return ErrGenericJoinRejected
	}
}

// commit performs the identity hand-off. Any failure, including a panic, is logged and
// reported as UnexpectedJoinFailure; if the hand-off had already happened it is reversed.
func (p *GameSpacePlayers) commit(ctx OfferContext, accept *JoinAccept) (err error) {
	player := ctx.Player
	registry := p.space.registry
	logger := p.space.logger.With(zap.String("uid", player.PlayerID.String()), zap.String("username", player.Profile.Username))

	handedOff := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while joining game space.", zap.Any("panic", r), zap.Stack("stack"))
			err = ErrUnexpectedJoinFailure
		}
		if err != nil && handedOff {
			p.discard(ctx, logger)
		}
	}()

	// The session identity starts where the host identity stands. Neither that nor the
	// accepted destination may lie outside this space.
	if !p.space.HasWorld(player.World) || !p.space.HasWorld(accept.World) {
		return ErrWorldMismatch
	}
	if registry.Contains(player) {
		return ErrPlayerInstanceConflict
	}

	accept.applyAccept(player)

	if ctx.OnApply != nil {
		ctx.OnApply()
	}
	handedOff = true
	accept.applyJoin(player)

	if err := registry.Register(player); err != nil {
		logger.Error("Failed to register session identity.", zap.Error(err))
		return NewJoinErrorf(UnexpectedJoinFailure, "register session identity: %w", err)
	}
	if err := registry.SendHandshake(player, ctx.FirstEntry); err != nil {
		logger.Error("Failed to send join handshake.", zap.Error(err))
		return NewJoinErrorf(UnexpectedJoinFailure, "send handshake: %w", err)
	}
	if ctx.FirstEntry && ctx.Handle != nil {
		ctx.Handle.MarkEntered()
	}

	leave := ctx.LeaveHandler
	if leave == nil {
		leave = func(*Identity, *GameSpace) {}
	}
	p.leaveHandlers[player.PlayerID] = leave
	p.players[player.PlayerID] = player
	p.order = append(p.order, player.PlayerID)

	p.space.onAddPlayer(player)

	logger.Info("Player joined game space.", zap.String("world", player.World), zap.Bool("first_entry", ctx.FirstEntry))
	return nil
}

// discard undoes a hand-off whose commit failed so no partial registry state remains.
func (p *GameSpacePlayers) discard(ctx OfferContext, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while restoring host identity.", zap.Any("panic", r))
		}
	}()
	if id := ctx.Player.PlayerID; p.players[id] == ctx.Player {
		p.forget(id)
		p.space.onRemovePlayer(ctx.Player)
	}
	if ctx.LeaveHandler != nil {
		ctx.LeaveHandler(ctx.Player, p.space)
	}
}

func (p *GameSpacePlayers) forget(id PlayerID) (*Identity, LeaveHandler) {
	player := p.players[id]
	handler := p.leaveHandlers[id]
	delete(p.players, id)
	delete(p.leaveHandlers, id)
	if i := slices.Index(p.order, id); i >= 0 {
		p.order = slices.Delete(p.order, i, i+1)
	}
	return player, handler
}

// attemptGarbageCollection closes the space once it is empty after having been occupied.
func (p *GameSpacePlayers) attemptGarbageCollection() {
	if len(p.players) == 0 && p.space.state == GameSpaceActive {
		p.space.state = GameSpaceEmpty
		p.space.Close(CloseReasonGarbageCollected)
	}
}

// Kick removes the player and runs its leave handler. It reports whether the player was a member.
func (p *GameSpacePlayers) Kick(player *Identity) bool {
	member, handler, ok := p.removeMember(player)
	if !ok {
		return false
	}
	p.invokeLeave(handler, member)
	p.attemptGarbageCollection()
	return true
}

// Remove takes the player out of the space and returns its leave handler without invoking it,
// so the caller decides when the reverse swap runs. ok is false if the player was not a member.
func (p *GameSpacePlayers) Remove(player *Identity) (handler LeaveHandler, ok bool) {
	_, handler, ok = p.removeMember(player)
	if !ok {
		return nil, false
	}
	p.attemptGarbageCollection()
	return handler, true
}

func (p *GameSpacePlayers) removeMember(player *Identity) (*Identity, LeaveHandler, bool) {
	if player == nil || !p.Contains(player.PlayerID) {
		return nil, nil, false
	}
	member := p.players[player.PlayerID]

	p.space.onRemovePlayer(member)
	_, handler := p.forget(player.PlayerID)

	p.space.logger.Info("Player left game space.", zap.String("uid", member.PlayerID.String()), zap.Int("remaining", len(p.players)))
	p.space.metrics.CounterAdd("gamespace_leave_count", nil, 1)
	return member, handler, true
}

func (p *GameSpacePlayers) invokeLeave(handler LeaveHandler, player *Identity) {
	defer func() {
		if r := recover(); r != nil {
			p.space.logger.Error("Panic in leave handler.", zap.String("uid", player.PlayerID.String()), zap.Any("panic", r))
		}
	}()
	handler(player, p.space)
}

func (p *GameSpacePlayers) reset() {
	clear(p.players)
	clear(p.leaveHandlers)
	p.order = p.order[:0]
}

func (p *GameSpacePlayers) Contains(id PlayerID) bool {
	_, ok := p.players[id]
	return ok
}

// Get returns the member's session identity, or nil.
func (p *GameSpacePlayers) Get(id PlayerID) *Identity {
	return p.players[id]
}

func (p *GameSpacePlayers) Size() int {
	return len(p.players)
}

// List returns the members in join order.
func (p *GameSpacePlayers) List() []*Identity {
	list := make([]*Identity, 0, len(p.order))
	for _, id := range p.order {
		list = append(list, p.players[id])
	}
	return list
}

// Range calls fn for each member in join order until fn returns false.
func (p *GameSpacePlayers) Range(fn func(*Identity) bool) {
	for _, player := range p.List() {
		if !fn(player) {
			return
		}
	}
}

func (p *GameSpacePlayers) String() string {
	return fmt.Sprintf("GameSpacePlayers(%s, size=%d)", p.space.id, len(p.players))
}
