package service

import "errors"

var (
	ErrRecordAlreadyRegistered = errors.New("an active record is already registered for this player")
	ErrRecordNotRegistered     = errors.New("active record is not registered")
)

// PlayerRegistry is the host's source of truth for who is connected.
// The core queries and mutates it but does not own it.
type PlayerRegistry interface {
	// Register adds the identity as the player's active record. It fails with
	// ErrRecordAlreadyRegistered when another record holds the same player id.
	Register(identity *Identity) error
	// Unregister removes the identity and marks it removed. Unknown identities are ignored.
	Unregister(identity *Identity)
	// Contains reports whether this exact identity instance is registered.
	Contains(identity *Identity) bool
	// Exists reports whether any active record is registered for the player.
	Exists(id PlayerID) bool
	// SendHandshake sends the full first-join handshake when firstEntry is set,
	// otherwise the re-entry handshake, followed by the state resynchronization.
	SendHandshake(identity *Identity, firstEntry bool) error
	// BroadcastPresence announces the identity to all registered players.
	BroadcastPresence(identity *Identity)
}
