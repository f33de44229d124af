package service

import "go.uber.org/zap"

// LeaveHandler undoes the identity swap for one participant. It is invoked at most once.
type LeaveHandler func(session *Identity, space *GameSpace)

// OfferContext describes one participant's pending join. It is consumed exactly once by Offer.
type OfferContext struct {
	// Handle owns the connection being handed over.
	Handle *PlayerHandle
	// Player is the freshly constructed, unregistered session identity.
	Player *Identity
	// OnApply severs the host identity from the registry and moves the connection.
	// It runs exactly once, at the moment of hand-off.
	OnApply func()
	// FirstEntry selects the full first-join handshake for the session identity.
	FirstEntry bool
	// LeaveHandler reverses OnApply.
	LeaveHandler LeaveHandler
}

// NewOfferContext builds the offer for handle without mutating any registry state.
func NewOfferContext(handle *PlayerHandle, registry PlayerRegistry) OfferContext {
	session := handle.newSessionIdentity()

	return OfferContext{
		Handle: handle,
		Player: session,
		OnApply: func() {
			handle.swapToSession(session, registry)
		},
		FirstEntry: !handle.Entered(),
		LeaveHandler: func(old *Identity, space *GameSpace) {
			if err := handle.swapToHost(old, registry); err != nil && space != nil {
				space.logger.Error("Failed to restore host identity.", zap.String("uid", handle.id.String()), zap.Error(err))
			}
		},
	}
}

// PlayerOffer is what a space owner sees when deciding whether to accept a participant.
type PlayerOffer struct {
	Player *Identity
}

// Accept positions the participant in world at pos. Any thenRun callbacks run after the hand-off.
func (o *PlayerOffer) Accept(world string, pos Vec3, thenRun ...func(*Identity)) JoinOfferResult {
	return &JoinAccept{World: world, Position: pos, thenRun: thenRun}
}

func (o *PlayerOffer) Reject(reason error) JoinOfferResult {
	return &JoinReject{Reason: reason}
}

// JoinOfferResult is one of *JoinAccept, *JoinReject, or nil for no decision.
type JoinOfferResult interface {
	isJoinOfferResult()
}

type JoinAccept struct {
	World    string
	Position Vec3
	thenRun  []func(*Identity)
}

func (*JoinAccept) isJoinOfferResult() {}

// applyAccept sets the session identity's world and position.
func (a *JoinAccept) applyAccept(player *Identity) {
	player.World = a.World
	player.Position = a.Position
}

func (a *JoinAccept) applyJoin(player *Identity) {
	for _, fn := range a.thenRun {
		fn(player)
	}
}

type JoinReject struct {
	Reason error
}

func (*JoinReject) isJoinOfferResult() {}
