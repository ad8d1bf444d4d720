package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionType(t *testing.T) {
	for in, want := range map[string]ActionType{
		"FOLD":   ActionFold,
		"check":  ActionCheck,
		"Call":   ActionCall,
		"bet":    ActionBet,
		"RAISE":  ActionRaise,
		"ALL_IN": ActionAllIn,
		"allin":  ActionAllIn,
		"all-in": ActionAllIn,
	} {
		got, err := ParseActionType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseActionType("LIMP")
	assert.True(t, IsCode(err, CodeInvalidAction))
}

func legalTypes(actions []LegalAction) []ActionType {
	types := make([]ActionType, 0, len(actions))
	for _, a := range actions {
		types = append(types, a.Type)
	}
	return types
}

func TestDeriveLegalActionsNoBet(t *testing.T) {
	hand := &HandState{
		MinRaise:           2,
		BigBlind:           2,
		RoundContributions: map[int]int{},
	}
	seat := &Seat{SeatID: 0, Stack: 100, Status: SeatActive}

	actions := DeriveLegalActions(hand, seat)

	assert.Equal(t, []ActionType{ActionFold, ActionCheck, ActionBet, ActionAllIn}, legalTypes(actions))
	bet, _ := findLegal(actions, ActionBet)
	assert.Equal(t, 2, bet.MinAmount)
	assert.Equal(t, 100, bet.MaxAmount)
	allIn, _ := findLegal(actions, ActionAllIn)
	assert.Equal(t, 100, allIn.MinAmount)
	assert.Equal(t, 100, allIn.MaxAmount)
}

func TestDeriveLegalActionsFacingBet(t *testing.T) {
	hand := &HandState{
		CurrentBet:         10,
		MinRaise:           8,
		BigBlind:           2,
		RoundContributions: map[int]int{0: 2},
	}
	seat := &Seat{SeatID: 0, Stack: 98, Status: SeatActive}

	actions := DeriveLegalActions(hand, seat)

	assert.Equal(t, []ActionType{ActionFold, ActionCall, ActionRaise, ActionAllIn}, legalTypes(actions))
	call, _ := findLegal(actions, ActionCall)
	assert.Equal(t, 8, call.MaxAmount)
	raise, _ := findLegal(actions, ActionRaise)
	assert.Equal(t, 18, raise.MinAmount)
	assert.Equal(t, 100, raise.MaxAmount)
}

func TestDeriveLegalActionsShortStackCall(t *testing.T) {
	hand := &HandState{
		CurrentBet:         50,
		MinRaise:           48,
		BigBlind:           2,
		RoundContributions: map[int]int{0: 0},
	}
	seat := &Seat{SeatID: 0, Stack: 30, Status: SeatActive}

	actions := DeriveLegalActions(hand, seat)

	call, _ := findLegal(actions, ActionCall)
	assert.Equal(t, 30, call.MaxAmount, "call is capped at the stack")
	_, hasRaise := findLegal(actions, ActionRaise)
	assert.False(t, hasRaise, "cannot raise below the current bet")
	allIn, _ := findLegal(actions, ActionAllIn)
	assert.Equal(t, 30, allIn.MinAmount)
}

func TestDeriveLegalActionsRaiseCapped(t *testing.T) {
	hand := &HandState{
		CurrentBet:         13,
		MinRaise:           8,
		BigBlind:           2,
		RoundContributions: map[int]int{0: 10, 2: 0},
		ActedSeats:         []int{0},
		RaiseCapped:        true,
	}

	acted := &Seat{SeatID: 0, Stack: 190, Status: SeatActive}
	_, hasRaise := findLegal(DeriveLegalActions(hand, acted), ActionRaise)
	assert.False(t, hasRaise, "seats that already acted cannot reraise")

	fresh := &Seat{SeatID: 2, Stack: 200, Status: SeatActive}
	raise, hasRaise := findLegal(DeriveLegalActions(hand, fresh), ActionRaise)
	require.True(t, hasRaise, "seats yet to act keep their raise")
	assert.Equal(t, 21, raise.MinAmount)
}

func TestDeriveLegalActionsShortRaiseClampsToAllIn(t *testing.T) {
	hand := &HandState{
		CurrentBet:         10,
		MinRaise:           8,
		BigBlind:           2,
		RoundContributions: map[int]int{0: 0},
	}
	seat := &Seat{SeatID: 0, Stack: 14, Status: SeatActive}

	raise, ok := findLegal(DeriveLegalActions(hand, seat), ActionRaise)
	require.True(t, ok)
	assert.Equal(t, 14, raise.MinAmount, "minimum raise clamps to the all-in total")
	assert.Equal(t, 14, raise.MaxAmount)
}

func TestDeriveLegalActionsEmptyStack(t *testing.T) {
	hand := &HandState{
		BigBlind:           2,
		MinRaise:           2,
		RoundContributions: map[int]int{0: 100},
	}
	seat := &Seat{SeatID: 0, Stack: 0, Status: SeatAllIn}

	actions := DeriveLegalActions(hand, seat)
	_, hasAllIn := findLegal(actions, ActionAllIn)
	assert.False(t, hasAllIn, "no all-in with an empty stack")
}
