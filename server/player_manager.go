// Copyright 2024 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"errors"
	"fmt"
	"slices"

	"github.com/echotools/gamespace/service"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrPlayerAlreadyConnected = errors.New("player is already connected")

// PlayerNamespace derives stable player ids from usernames.
var PlayerNamespace = uuid.Must(uuid.FromString("6f1c3a52-8b4e-4d1a-9a57-1f0e2c7b9d40"))

var _ service.PlayerRegistry = (*PlayerManager)(nil)

// PlayerManager is the host's player list: the one active record per connected player,
// plus the handle that owns each connection.
// It is not safe for concurrent use; the Host serializes every call.
type PlayerManager struct {
	logger  *zap.Logger
	config  *GameSpaceConfig
	metrics service.Metrics

	order   []service.PlayerID
	records map[service.PlayerID]*service.Identity
	handles map[service.PlayerID]*service.PlayerHandle

	recordCount  *atomic.Int32
	nextEntityID *atomic.Int32
}

func NewPlayerManager(logger *zap.Logger, config *GameSpaceConfig, metrics service.Metrics) *PlayerManager {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &PlayerManager{
		logger:  logger,
		config:  config,
		metrics: metrics,

		order:   make([]service.PlayerID, 0, 16),
		records: make(map[service.PlayerID]*service.Identity),
		handles: make(map[service.PlayerID]*service.PlayerHandle),

		recordCount:  atomic.NewInt32(0),
		nextEntityID: atomic.NewInt32(0),
	}
}

// PlayerIDFor returns the stable id of a username.
func PlayerIDFor(username string) service.PlayerID {
	return uuid.NewV5(PlayerNamespace, username)
}

// Connect creates the host identity for a new connection, registers it, and sends the
// full first-join handshake.
func (m *PlayerManager) Connect(conn service.Connection, profile service.Profile) (*service.PlayerHandle, error) {
	id := PlayerIDFor(profile.Username)
	if _, ok := m.handles[id]; ok {
		return nil, ErrPlayerAlreadyConnected
	}

	host := service.NewHostIdentity(id, m.nextEntityID.Inc(), profile, m.config.HostWorld, conn)
	if err := m.Register(host); err != nil {
		return nil, err
	}
	handle := service.NewPlayerHandle(host)
	m.handles[id] = handle

	if err := m.SendHandshake(host, true); err != nil {
		m.logger.Warn("Failed to send first-join handshake.", zap.String("uid", id.String()), zap.Error(err))
	}
	handle.MarkEntered()

	m.logger.Info("Player connected.", zap.String("uid", id.String()), zap.String("username", profile.Username), zap.String("sid", conn.ID().String()))
	return handle, nil
}

// Disconnect forgets the handle and unregisters whichever identity is live.
func (m *PlayerManager) Disconnect(handle *service.PlayerHandle) {
	if m.handles[handle.ID()] != handle {
		return
	}
	delete(m.handles, handle.ID())
	m.Unregister(handle.Active())

	m.logger.Info("Player disconnected.", zap.String("uid", handle.ID().String()), zap.String("username", handle.Profile().Username))
}

// Handle returns the connection owner for id, or nil.
func (m *PlayerManager) Handle(id service.PlayerID) *service.PlayerHandle {
	return m.handles[id]
}

func (m *PlayerManager) Count() int {
	return int(m.recordCount.Load())
}

// Records returns the active records in registration order.
func (m *PlayerManager) Records() []*service.Identity {
	records := make([]*service.Identity, 0, len(m.order))
	for _, id := range m.order {
		records = append(records, m.records[id])
	}
	return records
}

func (m *PlayerManager) Register(identity *service.Identity) error {
	if existing, ok := m.records[identity.PlayerID]; ok {
		if existing == identity {
			return nil
		}
		return fmt.Errorf("%w: %s", service.ErrRecordAlreadyRegistered, identity)
	}
	m.records[identity.PlayerID] = identity
	m.order = append(m.order, identity.PlayerID)
	m.recordCount.Inc()

	m.metrics.GaugeSet("players", nil, float64(m.recordCount.Load()))
	return nil
}

func (m *PlayerManager) Unregister(identity *service.Identity) {
	if identity == nil {
		return
	}
	defer identity.MarkRemoved()

	if m.records[identity.PlayerID] != identity {
		return
	}
	delete(m.records, identity.PlayerID)
	if i := slices.Index(m.order, identity.PlayerID); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	m.recordCount.Dec()
	m.metrics.GaugeSet("players", nil, float64(m.recordCount.Load()))

	remove := &service.PlayerRemovePacket{PlayerID: identity.PlayerID, EntityID: identity.EntityID}
	for _, id := range m.order {
		if err := m.records[id].Send(remove); err != nil {
			m.logger.Debug("Failed to send player removal.", zap.String("uid", id.String()), zap.Error(err))
		}
	}
}

func (m *PlayerManager) Contains(identity *service.Identity) bool {
	return identity != nil && m.records[identity.PlayerID] == identity
}

func (m *PlayerManager) Exists(id service.PlayerID) bool {
	_, ok := m.records[id]
	return ok
}

// SendHandshake sends the first-join or re-entry sequence followed by a full state resync,
// then announces the identity to everyone.
func (m *PlayerManager) SendHandshake(identity *service.Identity, firstEntry bool) error {
	packets := make([]service.Packet, 0, 8+len(identity.StatusEffects))
	if firstEntry {
		packets = append(packets,
			&service.GameJoinPacket{
				EntityID:     identity.EntityID,
				World:        identity.World,
				Worlds:       []string{identity.World},
				ViewDistance: m.config.ViewDistance,
			},
			&service.FeaturesPacket{Features: m.config.Features},
			&service.BrandPacket{Brand: m.config.Brand},
		)
	} else {
		packets = append(packets, &service.RespawnPacket{World: identity.World})
	}

	packets = append(packets,
		&service.ExperiencePacket{Experience: identity.Experience},
		&service.AbilitiesPacket{Flags: identity.Abilities},
		&service.CommandTreePacket{Commands: m.config.Commands},
	)
	for _, effect := range identity.StatusEffects {
		packets = append(packets, &service.StatusEffectPacket{EntityID: identity.EntityID, Effect: effect})
	}
	packets = append(packets, &service.TeleportPacket{Position: identity.Position})
	if dirty := identity.Attributes.TakeDirty(); len(dirty) > 0 {
		packets = append(packets, &service.AttributeUpdatePacket{EntityID: identity.EntityID, Entries: dirty})
	}

	for _, p := range packets {
		if err := identity.Send(p); err != nil {
			return fmt.Errorf("failed to send %s: %w", p.PacketType(), err)
		}
	}

	m.BroadcastPresence(identity)
	return nil
}

func (m *PlayerManager) BroadcastPresence(identity *service.Identity) {
	p := &service.PlayerListPacket{
		PlayerID: identity.PlayerID,
		EntityID: identity.EntityID,
		Profile:  identity.Profile,
		World:    identity.World,
	}
	for _, id := range m.order {
		if err := m.records[id].Send(p); err != nil {
			m.logger.Debug("Failed to send presence.", zap.String("uid", id.String()), zap.Error(err))
		}
	}
}
