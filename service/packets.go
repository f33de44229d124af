package service

import "github.com/gofrs/uuid/v5"

// Connection is the live network link shared by whichever identity is live.
// Sends are synchronous and ordered.
type Connection interface {
	ID() uuid.UUID
	Send(p Packet) error
}

// Packet is a server-to-client message.
type Packet interface {
	PacketType() string
}

// GameJoinPacket is the first packet of a full first-entry handshake.
type GameJoinPacket struct {
	EntityID     int32    `json:"entity_id"`
	World        string   `json:"world"`
	Worlds       []string `json:"worlds"`
	MaxPlayers   int      `json:"max_players"`
	ViewDistance int      `json:"view_distance"`
}

func (*GameJoinPacket) PacketType() string { return "game_join" }

// FeaturesPacket and BrandPacket complete the first-entry handshake.
type FeaturesPacket struct {
	Features []string `json:"features"`
}

func (*FeaturesPacket) PacketType() string { return "features" }

type BrandPacket struct {
	Brand string `json:"brand"`
}

func (*BrandPacket) PacketType() string { return "brand" }

// RespawnPacket replaces the full handshake on re-entry.
type RespawnPacket struct {
	World string `json:"world"`
}

func (*RespawnPacket) PacketType() string { return "respawn" }

type ExperiencePacket struct {
	Experience
}

func (*ExperiencePacket) PacketType() string { return "experience" }

type AbilitiesPacket struct {
	Flags Abilities `json:"flags"`
}

func (*AbilitiesPacket) PacketType() string { return "abilities" }

type CommandTreePacket struct {
	Commands []string `json:"commands"`
}

func (*CommandTreePacket) PacketType() string { return "command_tree" }

type StatusEffectPacket struct {
	EntityID int32        `json:"entity_id"`
	Effect   StatusEffect `json:"effect"`
}

func (*StatusEffectPacket) PacketType() string { return "status_effect" }

type AttributeUpdatePacket struct {
	EntityID int32            `json:"entity_id"`
	Entries  []AttributeEntry `json:"entries"`
}

func (*AttributeUpdatePacket) PacketType() string { return "attribute_update" }

type TeleportPacket struct {
	Position Vec3 `json:"position"`
}

func (*TeleportPacket) PacketType() string { return "teleport" }

// PlayerListPacket announces a participant's presence to everyone.
type PlayerListPacket struct {
	PlayerID PlayerID `json:"player_id"`
	EntityID int32    `json:"entity_id"`
	Profile  Profile  `json:"profile"`
	World    string   `json:"world"`
}

func (*PlayerListPacket) PacketType() string { return "player_list_add" }

type PlayerRemovePacket struct {
	PlayerID PlayerID `json:"player_id"`
	EntityID int32    `json:"entity_id"`
}

func (*PlayerRemovePacket) PacketType() string { return "player_list_remove" }

type SystemMessagePacket struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

func (*SystemMessagePacket) PacketType() string { return "system_message" }

// TeamSelectionPacket lists the teams a participant may request while waiting.
type TeamSelectionPacket struct {
	Teams []Team `json:"teams"`
}

func (*TeamSelectionPacket) PacketType() string { return "team_selection" }
