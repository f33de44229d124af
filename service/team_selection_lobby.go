package service

import (
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrUnknownTeam       = fmt.Errorf("unknown team")
	ErrSelectionFinished = fmt.Errorf("team selection has finished")
	ErrNotInGameSpace    = fmt.Errorf("player is not in this game")
)

// TeamSelectionLobby records team preferences during a game's waiting phase and turns
// them into assignments when the game starts.
type TeamSelectionLobby struct {
	space       *GameSpace
	teams       []Team
	byKey       map[string]Team
	sizes       map[string]int
	preferences map[PlayerID]string
	allocated   bool
}

func NewTeamSelectionLobby(space *GameSpace, teams []Team) *TeamSelectionLobby {
	teams = lo.UniqBy(teams, func(t Team) string { return t.Key })
	return &TeamSelectionLobby{
		space:       space,
		teams:       teams,
		byKey:       lo.KeyBy(teams, func(t Team) string { return t.Key }),
		sizes:       make(map[string]int),
		preferences: make(map[PlayerID]string),
	}
}

func (l *TeamSelectionLobby) Teams() []Team {
	return l.teams
}

// SetSizeForTeam bounds the number of participants allocated to the team. Zero leaves
// the team empty and a negative size lifts the bound, as for TeamAllocator.SetSizeForTeam.
func (l *TeamSelectionLobby) SetSizeForTeam(key string, size int) {
	l.sizes[key] = size
}

// OnAddPlayer announces the selectable teams to a participant who just joined.
func (l *TeamSelectionLobby) OnAddPlayer(player *Identity) {
	if l.allocated || len(l.teams) == 0 {
		return
	}
	if err := player.Send(&TeamSelectionPacket{Teams: l.teams}); err != nil {
		l.space.logger.Warn("Failed to send team selection.", zap.String("uid", player.PlayerID.String()), zap.Error(err))
	}
}

// OnRemovePlayer forgets the participant's choice.
func (l *TeamSelectionLobby) OnRemovePlayer(player *Identity) {
	delete(l.preferences, player.PlayerID)
}

// SelectTeam records the participant's preference. The latest choice wins.
func (l *TeamSelectionLobby) SelectTeam(player *Identity, key string) error {
	if l.allocated {
		return ErrSelectionFinished
	}
	if !l.space.Players().Contains(player.PlayerID) {
		return ErrNotInGameSpace
	}
	team, ok := l.byKey[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTeam, key)
	}
	l.preferences[player.PlayerID] = key

	if err := player.Send(&SystemMessagePacket{Text: "You have selected to join the " + team.Name() + " team", Color: team.Color}); err != nil {
		l.space.logger.Warn("Failed to confirm team selection.", zap.String("uid", player.PlayerID.String()), zap.Error(err))
	}
	return nil
}

// Preference returns the participant's recorded team, if any.
func (l *TeamSelectionLobby) Preference(id PlayerID) (Team, bool) {
	key, ok := l.preferences[id]
	if !ok {
		return Team{}, false
	}
	return l.byKey[key], true
}

// Allocate assigns every current member to a team and ends the selection phase.
// An *AllocationOverflowError is returned after the assignable pairs were delivered.
func (l *TeamSelectionLobby) Allocate(apply func(team Team, player *Identity)) error {
	l.allocated = true

	allocator := NewTeamAllocator(l.teams)
	for key, size := range l.sizes {
		allocator.SetSizeForTeam(key, size)
	}
	for _, player := range l.space.Players().List() {
		allocator.Add(player, l.preferences[player.PlayerID])
	}
	clear(l.preferences)

	err := allocator.Allocate(apply)
	if err != nil {
		l.space.logger.Warn("Team allocation overflowed.", zap.Error(err))
	}
	return err
}
