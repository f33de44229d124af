package service

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAllocIdentity(name string) *Identity {
	return newIdentity(uuid.Must(uuid.NewV4()), LiveSession, Profile{Username: name}, "arena")
}

type assignment struct {
	Team   string
	Player string
}

func collectAssignments(out *[]assignment) func(Team, *Identity) {
	return func(team Team, player *Identity) {
		*out = append(*out, assignment{Team: team.Key, Player: player.Profile.Username})
	}
}

func TestTeamAllocator_OverflowAssignsOnePerTeam(t *testing.T) {
	allocator := NewTeamAllocator([]Team{
		{Key: "red", MaxSize: 1},
		{Key: "blue", MaxSize: 1},
		{Key: "green", MaxSize: 1},
	})
	for _, name := range []string{"a", "b", "c", "d"} {
		allocator.Add(newAllocIdentity(name), "")
	}

	var got []assignment
	err := allocator.Allocate(collectAssignments(&got))

	require.ErrorIs(t, err, ErrAllocationOverflow)
	assert.Equal(t, AllocationOverflow, JoinErrorCodeOf(err))
	var overflow *AllocationOverflowError
	require.ErrorAs(t, err, &overflow)
	require.Len(t, overflow.Players, 1)
	assert.Equal(t, "d", overflow.Players[0].Profile.Username)

	want := []assignment{
		{Team: "red", Player: "a"},
		{Team: "blue", Player: "b"},
		{Team: "green", Player: "c"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("assignments mismatch (-want +got):\n%s", diff)
	}
}

func TestTeamAllocator_FullPreferenceFallsBack(t *testing.T) {
	allocator := NewTeamAllocator([]Team{
		{Key: "a", MaxSize: 1},
		{Key: "b"},
	})
	allocator.Add(newAllocIdentity("first"), "a")
	allocator.Add(newAllocIdentity("second"), "a")

	var got []assignment
	require.NoError(t, allocator.Allocate(collectAssignments(&got)))

	want := []assignment{
		{Team: "a", Player: "first"},
		{Team: "b", Player: "second"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("assignments mismatch (-want +got):\n%s", diff)
	}
}

func TestTeamAllocator_BalancesWithoutPreferences(t *testing.T) {
	allocator := NewTeamAllocator([]Team{{Key: "red"}, {Key: "blue"}})
	allocator.Add(newAllocIdentity("p1"), "red")
	allocator.Add(newAllocIdentity("p2"), "red")
	allocator.Add(newAllocIdentity("p3"), "")
	allocator.Add(newAllocIdentity("p4"), "")
	allocator.Add(newAllocIdentity("p5"), "unknown")

	var got []assignment
	require.NoError(t, allocator.Allocate(collectAssignments(&got)))

	want := []assignment{
		{Team: "red", Player: "p1"},
		{Team: "red", Player: "p2"},
		{Team: "blue", Player: "p3"},
		{Team: "blue", Player: "p4"},
		{Team: "red", Player: "p5"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("assignments mismatch (-want +got):\n%s", diff)
	}
}

func TestTeamAllocator_SetSizeForTeamAndReAdd(t *testing.T) {
	allocator := NewTeamAllocator([]Team{{Key: "red"}, {Key: "blue"}})
	allocator.SetSizeForTeam("red", 1)

	p := newAllocIdentity("p")
	allocator.Add(p, "blue")
	allocator.Add(newAllocIdentity("q"), "red")
	allocator.Add(newAllocIdentity("r"), "red")
	allocator.Add(p, "red")

	var got []assignment
	require.NoError(t, allocator.Allocate(collectAssignments(&got)))

	want := []assignment{
		{Team: "red", Player: "p"},
		{Team: "blue", Player: "q"},
		{Team: "blue", Player: "r"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("assignments mismatch (-want +got):\n%s", diff)
	}
}

func TestTeamAllocator_SetSizeForTeamBounds(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		want     []assignment
		overflow []string
	}{
		{
			name: "zero closes the team",
			size: 0,
			want: []assignment{
				{Team: "blue", Player: "p"},
			},
			overflow: []string{"q", "r"},
		},
		{
			name: "negative lifts the bound",
			size: -1,
			want: []assignment{
				{Team: "red", Player: "p"},
				{Team: "blue", Player: "q"},
				{Team: "red", Player: "r"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allocator := NewTeamAllocator([]Team{{Key: "red", MaxSize: 1}, {Key: "blue", MaxSize: 1}})
			allocator.SetSizeForTeam("red", tt.size)
			allocator.Add(newAllocIdentity("p"), "red")
			allocator.Add(newAllocIdentity("q"), "")
			allocator.Add(newAllocIdentity("r"), "red")

			var got []assignment
			err := allocator.Allocate(collectAssignments(&got))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("assignments mismatch (-want +got):\n%s", diff)
			}

			if tt.overflow == nil {
				require.NoError(t, err)
				return
			}
			var overflow *AllocationOverflowError
			require.ErrorAs(t, err, &overflow)
			assert.ErrorIs(t, err, ErrAllocationOverflow)
			names := make([]string, 0, len(overflow.Players))
			for _, p := range overflow.Players {
				names = append(names, p.Profile.Username)
			}
			assert.Equal(t, tt.overflow, names)
		})
	}
}

func TestTeamAllocator_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		teamCount := 1 + rng.Intn(4)
		teams := make([]Team, teamCount)
		for i := range teams {
			teams[i] = Team{Key: fmt.Sprintf("t%d", i), MaxSize: rng.Intn(4)}
		}
		allocator := NewTeamAllocator(teams)

		playerCount := rng.Intn(12)
		preferences := make(map[string]string, playerCount)
		for i := 0; i < playerCount; i++ {
			name := fmt.Sprintf("p%d", i)
			pref := ""
			if rng.Intn(3) > 0 {
				pref = teams[rng.Intn(teamCount)].Key
			}
			preferences[name] = pref
			allocator.Add(newAllocIdentity(name), pref)
		}

		var got []assignment
		err := allocator.Allocate(collectAssignments(&got))

		counts := make(map[string]int)
		seen := make(map[string]bool)
		for _, a := range got {
			require.False(t, seen[a.Player], "round %d: %s assigned twice", round, a.Player)
			seen[a.Player] = true
			counts[a.Team]++
		}
		for _, team := range teams {
			if team.MaxSize > 0 {
				require.LessOrEqual(t, counts[team.Key], team.MaxSize, "round %d: team %s over capacity", round, team.Key)
			}
		}
		for _, a := range got {
			pref := preferences[a.Player]
			if pref == "" || pref == a.Team {
				continue
			}
			// A preference is only overridden when the preferred team ended up full.
			max := teams[indexOfTeam(teams, pref)].MaxSize
			require.Positive(t, max, "round %d: %s moved out of unbounded %s", round, a.Player, pref)
			require.Equal(t, max, counts[pref], "round %d: %s moved out of %s with spare capacity", round, a.Player, pref)
		}

		overflowed := 0
		if err != nil {
			var overflow *AllocationOverflowError
			require.ErrorAs(t, err, &overflow)
			overflowed = len(overflow.Players)
			for _, p := range overflow.Players {
				require.False(t, seen[p.Profile.Username], "round %d: %s both assigned and overflowed", round, p.Profile.Username)
			}
		}
		require.Equal(t, playerCount, len(got)+overflowed, "round %d", round)
	}
}

func indexOfTeam(teams []Team, key string) int {
	for i, t := range teams {
		if t.Key == key {
			return i
		}
	}
	return -1
}
