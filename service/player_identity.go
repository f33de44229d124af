package service

import (
	"fmt"
	"slices"

	"github.com/gofrs/uuid/v5"
)

// PlayerID is the stable identifier of a connected participant. It survives identity swaps.
type PlayerID = uuid.UUID

// Live identifies which of a participant's identities currently owns the connection.
type Live uint8

const (
	LiveHost Live = iota
	LiveSession
)

func (l Live) String() string {
	switch l {
	case LiveHost:
		return "host"
	case LiveSession:
		return "session"
	default:
		return "unknown"
	}
}

type Arm uint8

const (
	ArmRight Arm = iota
	ArmLeft
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Profile struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

type Experience struct {
	Level    int     `json:"level"`
	Total    int     `json:"total"`
	Progress float32 `json:"progress"`
}

// Ability flags synchronized to the client.
type Abilities uint8

const (
	AbilityInvulnerable Abilities = 1 << iota
	AbilityFlying
	AbilityAllowFlying
	AbilityCreative
)

type StatusEffect struct {
	ID        string `json:"id"`
	Amplifier int    `json:"amplifier"`
	Duration  int    `json:"duration"`
}

// Well-known tracked attribute keys.
const (
	AttrModelParts = "model_parts"
)

// Attributes is a set of synchronized display values with per-key dirty bits.
type Attributes struct {
	values map[string]int64
	dirty  map[string]struct{}
}

func NewAttributes() *Attributes {
	return &Attributes{
		values: make(map[string]int64),
		dirty:  make(map[string]struct{}),
	}
}

func (a *Attributes) Get(key string) int64 {
	return a.values[key]
}

// Set stores the value and marks it dirty when it changed.
func (a *Attributes) Set(key string, value int64) {
	a.SetForce(key, value, false)
}

// SetForce stores the value; force marks the key dirty even when the value is unchanged.
func (a *Attributes) SetForce(key string, value int64, force bool) {
	if old, ok := a.values[key]; ok && old == value && !force {
		return
	}
	a.values[key] = value
	a.dirty[key] = struct{}{}
}

func (a *Attributes) IsDirty(key string) bool {
	_, ok := a.dirty[key]
	return ok
}

// TakeDirty returns the dirty entries, sorted by key, and clears the dirty bits.
func (a *Attributes) TakeDirty() []AttributeEntry {
	if len(a.dirty) == 0 {
		return nil
	}
	entries := make([]AttributeEntry, 0, len(a.dirty))
	for k := range a.dirty {
		entries = append(entries, AttributeEntry{Key: k, Value: a.values[k]})
	}
	slices.SortFunc(entries, func(x, y AttributeEntry) int {
		switch {
		case x.Key < y.Key:
			return -1
		case x.Key > y.Key:
			return 1
		}
		return 0
	})
	clear(a.dirty)
	return entries
}

type AttributeEntry struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// Identity is an active record: the registry-visible representation of a participant.
// A participant has a host identity and, while inside a game space, a session identity.
// Only the live one has a connection attached and only the live one is registered.
type Identity struct {
	PlayerID      PlayerID
	Kind          Live
	EntityID      int32
	Profile       Profile
	World         string
	Position      Vec3
	MainArm       Arm
	Experience    Experience
	Abilities     Abilities
	StatusEffects []StatusEffect
	Attributes    *Attributes

	conn    Connection
	removed bool
}

func newIdentity(id PlayerID, kind Live, profile Profile, world string) *Identity {
	return &Identity{
		PlayerID:   id,
		Kind:       kind,
		Profile:    profile,
		World:      world,
		Attributes: NewAttributes(),
	}
}

// NewHostIdentity builds the ambient identity a participant wears outside game spaces.
func NewHostIdentity(id PlayerID, entityID int32, profile Profile, world string, conn Connection) *Identity {
	i := newIdentity(id, LiveHost, profile, world)
	i.EntityID = entityID
	i.conn = conn
	return i
}

// Connection returns the attached connection, or nil if this identity is dormant.
func (i *Identity) Connection() Connection {
	return i.conn
}

func (i *Identity) IsRemoved() bool {
	return i.removed
}

// MarkRemoved is called by the registry when the record is unregistered.
func (i *Identity) MarkRemoved() {
	i.removed = true
}

func (i *Identity) unsetRemoved() {
	i.removed = false
}

// Send delivers a packet over the attached connection.
func (i *Identity) Send(p Packet) error {
	if i.conn == nil {
		return fmt.Errorf("identity %s (%s) has no connection attached", i.PlayerID, i.Kind)
	}
	return i.conn.Send(p)
}

func (i *Identity) String() string {
	return fmt.Sprintf("%s[%s/%s]", i.Profile.Name(), i.PlayerID, i.Kind)
}

// PlayerHandle owns a participant's connection and both of its identities.
// Exactly one identity is live; the other is dormant but kept so the swap is reversible.
type PlayerHandle struct {
	id      PlayerID
	conn    Connection
	host    *Identity
	session *Identity
	live    Live
	entered bool

	// origin is the world the host identity was moved out of to enter a game space.
	origin string
	staged bool
}

func NewPlayerHandle(host *Identity) *PlayerHandle {
	return &PlayerHandle{
		id:   host.PlayerID,
		conn: host.conn,
		host: host,
		live: LiveHost,
	}
}

func (h *PlayerHandle) ID() PlayerID {
	return h.id
}

func (h *PlayerHandle) Profile() Profile {
	return h.host.Profile
}

func (h *PlayerHandle) Live() Live {
	return h.live
}

func (h *PlayerHandle) Host() *Identity {
	return h.host
}

// Session returns the session identity, or nil while the host identity is live.
func (h *PlayerHandle) Session() *Identity {
	return h.session
}

// Active returns the identity that currently owns the connection.
func (h *PlayerHandle) Active() *Identity {
	if h.live == LiveSession && h.session != nil {
		return h.session
	}
	return h.host
}

func (h *PlayerHandle) Connection() Connection {
	return h.conn
}

// Entered reports whether the connection has completed a full first-join handshake.
func (h *PlayerHandle) Entered() bool {
	return h.entered
}

// MarkEntered records that the full handshake was sent for this connection.
func (h *PlayerHandle) MarkEntered() {
	h.entered = true
}

// SendMessage delivers a chat line to whichever identity is live.
func (h *PlayerHandle) SendMessage(text string, color string) error {
	if h.conn == nil {
		return fmt.Errorf("player %s has no connection", h.id)
	}
	return h.conn.Send(&SystemMessagePacket{Text: text, Color: color})
}

// newSessionIdentity constructs a fresh, unregistered session identity in the host's world.
func (h *PlayerHandle) newSessionIdentity() *Identity {
	s := newIdentity(h.id, LiveSession, h.host.Profile, h.host.World)
	s.Position = h.host.Position
	return s
}

// stageInto moves the host identity into the first world of space, so the session identity
// is constructed inside it. It reports whether the host identity moved.
func (h *PlayerHandle) stageInto(space *GameSpace) bool {
	worlds := space.Worlds()
	if h.live != LiveHost || h.staged || len(worlds) == 0 || space.HasWorld(h.host.World) {
		return false
	}
	h.origin = h.host.World
	h.staged = true
	h.host.World = worlds[0]
	return true
}

// unstage returns the host identity to the world stageInto moved it out of.
func (h *PlayerHandle) unstage() {
	if !h.staged {
		return
	}
	h.host.World = h.origin
	h.origin = ""
	h.staged = false
}

// swapToSession hands the connection from the host identity to the session identity.
func (h *PlayerHandle) swapToSession(session *Identity, registry PlayerRegistry) {
	host := h.host

	// Detach first; the host identity stays constructed.
	conn := host.conn
	host.conn = nil

	session.conn = conn
	session.EntityID = host.EntityID
	session.MainArm = host.MainArm
	session.Attributes.Set(AttrModelParts, host.Attributes.Get(AttrModelParts))

	registry.Unregister(host)

	h.session = session
	h.live = LiveSession
}

// swapToHost reverses swapToSession. The copied display state is forced dirty so the
// shared environment resynchronizes from the authoritative host copy.
func (h *PlayerHandle) swapToHost(session *Identity, registry PlayerRegistry) error {
	host := h.host

	if registry.Contains(session) {
		registry.Unregister(session)
	}
	host.unsetRemoved()

	conn := session.conn
	if conn == nil {
		conn = h.conn
	}
	session.conn = nil
	host.conn = conn

	host.Attributes.SetForce(AttrModelParts, session.Attributes.Get(AttrModelParts), true)
	h.unstage()

	h.live = LiveHost
	h.session = nil

	if err := registry.Register(host); err != nil {
		return fmt.Errorf("failed to re-register host identity: %w", err)
	}
	if err := registry.SendHandshake(host, false); err != nil {
		return fmt.Errorf("failed to send re-entry handshake: %w", err)
	}
	return nil
}
