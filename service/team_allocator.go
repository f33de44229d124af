package service

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// AllocationOverflowError lists the participants who did not fit in any team.
type AllocationOverflowError struct {
	Players []*Identity
}

func (e *AllocationOverflowError) Error() string {
	names := lo.Map(e.Players, func(p *Identity, _ int) string { return p.Profile.Name() })
	return fmt.Sprintf("AllocationOverflow: %d players exceed team capacity: %s", len(e.Players), strings.Join(names, ", "))
}

func (e *AllocationOverflowError) Unwrap() error {
	return ErrAllocationOverflow
}

type allocationEntry struct {
	player     *Identity
	preference string
}

// TeamAllocator assigns participants to teams.
//
// Preferences are honored first, in the order participants were added, while the
// preferred team is under its maximum. Everyone else is then placed, in order, into
// the smallest team that still has room; ties go to the team declared first.
type TeamAllocator struct {
	teams    []Team
	maxSizes map[string]int
	entries  []allocationEntry
	seen     map[PlayerID]int
}

func NewTeamAllocator(teams []Team) *TeamAllocator {
	a := &TeamAllocator{
		teams:    lo.UniqBy(teams, func(t Team) string { return t.Key }),
		maxSizes: make(map[string]int, len(teams)),
		seen:     make(map[PlayerID]int),
	}
	for _, t := range a.teams {
		if t.MaxSize > 0 {
			a.maxSizes[t.Key] = t.MaxSize
		}
	}
	return a
}

// SetSizeForTeam overrides a team's maximum size. Zero closes the team to allocation; a
// negative size removes the bound. Team.MaxSize differs: there zero means unbounded.
func (a *TeamAllocator) SetSizeForTeam(key string, size int) {
	if size < 0 {
		delete(a.maxSizes, key)
		return
	}
	a.maxSizes[key] = size
}

// Add queues a participant. An empty preference means none. Adding the same participant
// again replaces its preference without changing its position.
func (a *TeamAllocator) Add(player *Identity, preference string) {
	if i, ok := a.seen[player.PlayerID]; ok {
		a.entries[i] = allocationEntry{player: player, preference: preference}
		return
	}
	a.seen[player.PlayerID] = len(a.entries)
	a.entries = append(a.entries, allocationEntry{player: player, preference: preference})
}

func (a *TeamAllocator) hasRoom(key string, counts map[string]int) bool {
	max, bounded := a.maxSizes[key]
	return !bounded || counts[key] < max
}

// Allocate delivers every (team, participant) pair to apply, in participant order.
// If participants exceed the total capacity, the assignable pairs are still delivered
// and the rest are returned in an *AllocationOverflowError.
func (a *TeamAllocator) Allocate(apply func(team Team, player *Identity)) error {
	if len(a.entries) == 0 {
		return nil
	}

	byKey := lo.KeyBy(a.teams, func(t Team) string { return t.Key })
	counts := make(map[string]int, len(a.teams))
	assigned := make([]string, len(a.entries))

	for i, e := range a.entries {
		if _, ok := byKey[e.preference]; !ok || e.preference == "" {
			continue
		}
		if a.hasRoom(e.preference, counts) {
			assigned[i] = e.preference
			counts[e.preference]++
		}
	}

	var overflow []*Identity
	for i, e := range a.entries {
		if assigned[i] != "" {
			continue
		}
		key, ok := a.smallestTeamWithRoom(counts)
		if !ok {
			overflow = append(overflow, e.player)
			continue
		}
		assigned[i] = key
		counts[key]++
	}

	for i, e := range a.entries {
		if assigned[i] != "" {
			apply(byKey[assigned[i]], e.player)
		}
	}

	if len(overflow) > 0 {
		return &AllocationOverflowError{Players: overflow}
	}
	return nil
}

func (a *TeamAllocator) smallestTeamWithRoom(counts map[string]int) (string, bool) {
	best, found := "", false
	for _, t := range a.teams {
		if !a.hasRoom(t.Key, counts) {
			continue
		}
		if !found || counts[t.Key] < counts[best] {
			best, found = t.Key, true
		}
	}
	return best, found
}
