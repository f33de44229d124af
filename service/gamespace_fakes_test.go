package service

import (
	"testing"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
)

type testConnection struct {
	id      uuid.UUID
	packets []Packet
}

func newTestConnection() *testConnection {
	return &testConnection{id: uuid.Must(uuid.NewV4())}
}

func (c *testConnection) ID() uuid.UUID { return c.id }

func (c *testConnection) Send(p Packet) error {
	c.packets = append(c.packets, p)
	return nil
}

func (c *testConnection) messages() []string {
	var out []string
	for _, p := range c.packets {
		if m, ok := p.(*SystemMessagePacket); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (c *testConnection) count(packetType string) int {
	n := 0
	for _, p := range c.packets {
		if p.PacketType() == packetType {
			n++
		}
	}
	return n
}

type testHandshake struct {
	identity   *Identity
	firstEntry bool
}

// testRegistry enforces one active record per player the way the host does.
type testRegistry struct {
	t          *testing.T
	records    map[PlayerID]*Identity
	handshakes []testHandshake
	conflicts  map[PlayerID]bool
}

func newTestRegistry(t *testing.T) *testRegistry {
	return &testRegistry{
		t:         t,
		records:   make(map[PlayerID]*Identity),
		conflicts: make(map[PlayerID]bool),
	}
}

func (r *testRegistry) Register(identity *Identity) error {
	if existing, ok := r.records[identity.PlayerID]; ok && existing != identity {
		return ErrRecordAlreadyRegistered
	}
	r.records[identity.PlayerID] = identity
	return nil
}

func (r *testRegistry) Unregister(identity *Identity) {
	if r.records[identity.PlayerID] == identity {
		delete(r.records, identity.PlayerID)
	}
	identity.MarkRemoved()
}

func (r *testRegistry) Contains(identity *Identity) bool {
	if r.conflicts[identity.PlayerID] {
		return true
	}
	return r.records[identity.PlayerID] == identity
}

func (r *testRegistry) Exists(id PlayerID) bool {
	_, ok := r.records[id]
	return ok
}

func (r *testRegistry) SendHandshake(identity *Identity, firstEntry bool) error {
	r.handshakes = append(r.handshakes, testHandshake{identity: identity, firstEntry: firstEntry})
	if firstEntry {
		return identity.Send(&GameJoinPacket{EntityID: identity.EntityID, World: identity.World})
	}
	return identity.Send(&RespawnPacket{World: identity.World})
}

func (r *testRegistry) BroadcastPresence(*Identity) {}

// assertSingleRecord checks the registered record is the handle's live identity.
func (r *testRegistry) assertSingleRecord(h *PlayerHandle) {
	r.t.Helper()
	record, ok := r.records[h.ID()]
	if !ok {
		r.t.Fatalf("no active record for %s", h.ID())
	}
	if record != h.Active() {
		r.t.Fatalf("active record for %s is %s, want %s", h.ID(), record, h.Active())
	}
}

type testPlayer struct {
	*PlayerHandle
	conn *testConnection
}

var testEntityID int32

func newTestPlayer(t *testing.T, registry *testRegistry, username, world string) *testPlayer {
	t.Helper()
	testEntityID++
	conn := newTestConnection()
	host := NewHostIdentity(uuid.Must(uuid.NewV4()), testEntityID, Profile{Username: username}, world, conn)
	if err := registry.Register(host); err != nil {
		t.Fatalf("register host: %v", err)
	}
	h := NewPlayerHandle(host)
	h.MarkEntered()
	return &testPlayer{PlayerHandle: h, conn: conn}
}

// testBehavior records the owner callbacks and lets a test override decisions.
type testBehavior struct {
	BaseBehavior
	screen  func(players []*PlayerHandle) error
	offer   func(space *GameSpace, offer *PlayerOffer) JoinOfferResult
	added   []*Identity
	removed []*Identity
	closed  []CloseReason
	lobby   *TeamSelectionLobby
}

func (b *testBehavior) ScreenJoins(space *GameSpace, players []*PlayerHandle) error {
	if b.screen != nil {
		return b.screen(players)
	}
	return nil
}

func (b *testBehavior) OfferPlayer(space *GameSpace, offer *PlayerOffer) JoinOfferResult {
	if b.offer != nil {
		return b.offer(space, offer)
	}
	return b.BaseBehavior.OfferPlayer(space, offer)
}

func (b *testBehavior) OnAddPlayer(space *GameSpace, player *Identity) {
	b.added = append(b.added, player)
	if b.lobby != nil {
		b.lobby.OnAddPlayer(player)
	}
}

func (b *testBehavior) OnRemovePlayer(space *GameSpace, player *Identity) {
	b.removed = append(b.removed, player)
	if b.lobby != nil {
		b.lobby.OnRemovePlayer(player)
	}
}

func (b *testBehavior) OnClose(space *GameSpace, reason CloseReason) {
	b.closed = append(b.closed, reason)
}

type testFixture struct {
	registry *testRegistry
	manager  *GameSpaceManager
	behavior *testBehavior
	space    *GameSpace
}

func newTestFixture(t *testing.T, worlds ...string) *testFixture {
	t.Helper()
	if len(worlds) == 0 {
		worlds = []string{"arena"}
	}
	registry := newTestRegistry(t)
	manager := NewGameSpaceManager(zaptest.NewLogger(t), nil, registry)
	behavior := &testBehavior{}
	space, err := manager.Open(worlds, behavior)
	if err != nil {
		t.Fatalf("open game space: %v", err)
	}
	return &testFixture{
		registry: registry,
		manager:  manager,
		behavior: behavior,
		space:    space,
	}
}

func (f *testFixture) join(p *testPlayer) error {
	return f.space.Players().Join(p.PlayerHandle)
}

type testGauge struct {
	tags  map[string]string
	value float64
}

// testMetrics keeps the last value set for each gauge.
type testMetrics struct {
	NoopMetrics
	gauges map[string]testGauge
}

func newTestMetrics() *testMetrics {
	return &testMetrics{gauges: make(map[string]testGauge)}
}

func (m *testMetrics) GaugeSet(name string, tags map[string]string, value float64) {
	m.gauges[name] = testGauge{tags: tags, value: value}
}
