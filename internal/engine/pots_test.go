package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// potState builds a mid-hand state with the given per-seat total
// contributions and statuses.
func potState(contribs map[int]int, statuses map[int]SeatStatus) *TableState {
	st := NewTableState("table-1", 6)
	for seatID, contrib := range contribs {
		st.Seats[seatID].UserID = "user" + string(rune('0'+seatID))
		st.Seats[seatID].Status = statuses[seatID]
		_ = contrib
	}
	st.Hand = &HandState{
		TotalContributions: contribs,
		RoundContributions: map[int]int{},
	}
	return st
}

func TestBuildPotsSingleAllIn(t *testing.T) {
	st := potState(
		map[int]int{0: 50, 1: 100, 2: 100},
		map[int]SeatStatus{0: SeatAllIn, 1: SeatActive, 2: SeatActive},
	)

	pots := BuildPots(st)

	require.Len(t, pots, 2)
	assert.Equal(t, Pot{Amount: 150, EligibleSeats: []int{0, 1, 2}}, pots[0])
	assert.Equal(t, Pot{Amount: 100, EligibleSeats: []int{1, 2}}, pots[1])
}

func TestBuildPotsFoldedContributionsStayIn(t *testing.T) {
	st := potState(
		map[int]int{0: 50, 1: 100, 2: 100},
		map[int]SeatStatus{0: SeatFolded, 1: SeatActive, 2: SeatActive},
	)

	pots := BuildPots(st)

	require.Len(t, pots, 1, "identical eligibility merges into one pot")
	assert.Equal(t, Pot{Amount: 250, EligibleSeats: []int{1, 2}}, pots[0])
}

func TestBuildPotsUncalledExcessToSoleContributor(t *testing.T) {
	st := potState(
		map[int]int{0: 100, 1: 40},
		map[int]SeatStatus{0: SeatActive, 1: SeatFolded},
	)

	pots := BuildPots(st)

	require.Len(t, pots, 1)
	assert.Equal(t, Pot{Amount: 140, EligibleSeats: []int{0}}, pots[0])
}

func TestBuildPotsTwoAllInLevels(t *testing.T) {
	st := potState(
		map[int]int{0: 20, 1: 60, 2: 100, 3: 100},
		map[int]SeatStatus{0: SeatAllIn, 1: SeatAllIn, 2: SeatActive, 3: SeatActive},
	)

	pots := BuildPots(st)

	require.Len(t, pots, 3)
	assert.Equal(t, Pot{Amount: 80, EligibleSeats: []int{0, 1, 2, 3}}, pots[0])
	assert.Equal(t, Pot{Amount: 120, EligibleSeats: []int{1, 2, 3}}, pots[1])
	assert.Equal(t, Pot{Amount: 80, EligibleSeats: []int{2, 3}}, pots[2])
}

func TestBuildPotsAllFoldedCeilingCarries(t *testing.T) {
	// The deepest contributor folded; their excess tops up the last real pot.
	st := potState(
		map[int]int{0: 50, 1: 50, 2: 80},
		map[int]SeatStatus{0: SeatActive, 1: SeatActive, 2: SeatFolded},
	)

	pots := BuildPots(st)

	require.Len(t, pots, 1)
	assert.Equal(t, Pot{Amount: 180, EligibleSeats: []int{0, 1}}, pots[0])
}

func TestBuildPotsNoHand(t *testing.T) {
	st := NewTableState("table-1", 6)
	assert.Nil(t, BuildPots(st))
}

func TestRoundComplete(t *testing.T) {
	st := potState(
		map[int]int{0: 10, 1: 10},
		map[int]SeatStatus{0: SeatActive, 1: SeatActive},
	)
	hand := st.Hand
	hand.RoundContributions = map[int]int{0: 10, 1: 10}
	hand.CurrentBet = 10
	assert.True(t, roundComplete(st), "everyone matched the bet")

	hand.RoundContributions[1] = 4
	assert.False(t, roundComplete(st), "seat 1 still owes chips")

	hand.CurrentBet = 0
	hand.RoundContributions = map[int]int{}
	assert.False(t, roundComplete(st), "nobody has acted yet")
	hand.ActedSeats = []int{0, 1}
	assert.True(t, roundComplete(st))

	st.Seats[1].Status = SeatAllIn
	hand.ActedSeats = []int{0}
	assert.True(t, roundComplete(st), "all-in seats no longer act")
}

func TestNextActingSeat(t *testing.T) {
	st := potState(
		map[int]int{0: 1, 2: 1, 5: 1},
		map[int]SeatStatus{0: SeatActive, 2: SeatAllIn, 5: SeatActive},
	)

	assert.Equal(t, 5, st.nextActingSeat(0), "skips all-in and empty seats")
	assert.Equal(t, 0, st.nextActingSeat(5), "wraps around")

	st.Seats[0].Status = SeatFolded
	st.Seats[5].Status = SeatFolded
	assert.Equal(t, -1, st.nextActingSeat(0))
}

func TestCountInHand(t *testing.T) {
	st := potState(
		map[int]int{0: 1, 1: 1, 2: 1, 3: 1},
		map[int]SeatStatus{0: SeatActive, 1: SeatAllIn, 2: SeatFolded, 3: SeatDisconnected},
	)

	live, acting := st.countInHand()
	assert.Equal(t, 3, live, "active, all-in and disconnected seats are live")
	assert.Equal(t, 2, acting, "only active and disconnected seats take turns")
}
