package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bricerising/homegame/poker"
)

func testConfig() TableConfig {
	return TableConfig{
		SmallBlind:       1,
		BigBlind:         2,
		MaxPlayers:       6,
		StartingStack:    100,
		TurnTimerSeconds: 30,
	}
}

// seatedState builds a table with players user0..userN-1 holding the given
// stacks in seats 0..N-1.
func seatedState(t *testing.T, stacks ...int) *TableState {
	t.Helper()
	st := NewTableState("table-1", 6)
	for i, stack := range stacks {
		st.Seats[i].UserID = "user" + string(rune('0'+i))
		st.Seats[i].Stack = stack
		st.Seats[i].Status = SeatSeated
	}
	return st
}

func mustAct(t *testing.T, st *TableState, seatID int, in ActionInput) *ActionResult {
	t.Helper()
	res, err := ApplyAction(st, seatID, in, false, time.Unix(1700000000, 0))
	require.NoError(t, err)
	return res
}

func TestStartHandBlindsAndDeal(t *testing.T) {
	st := seatedState(t, 100, 100, 100)
	now := time.Unix(1700000000, 0)

	require.NoError(t, StartHand(st, testConfig(), now, nil))

	hand := st.Hand
	require.NotNil(t, hand)
	assert.Equal(t, StreetPreflop, hand.Street)
	assert.Equal(t, 0, st.Button)
	assert.Equal(t, 99, st.Seats[1].Stack, "small blind posted")
	assert.Equal(t, 98, st.Seats[2].Stack, "big blind posted")
	assert.Equal(t, 2, hand.CurrentBet)
	assert.Equal(t, 0, hand.Turn, "first action left of the big blind")
	for i := 0; i < 3; i++ {
		assert.Len(t, st.Seats[i].HoleCards, 2)
		assert.Equal(t, SeatActive, st.Seats[i].Status)
	}
	assert.Len(t, hand.Actions, 2, "both blind posts logged")
}

func TestStartHandHeadsUpButtonPostsSmallBlind(t *testing.T) {
	st := seatedState(t, 100, 100)
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), nil))

	assert.Equal(t, 0, st.Button)
	assert.Equal(t, 1, st.Hand.RoundContributions[0], "button posts the small blind")
	assert.Equal(t, 2, st.Hand.RoundContributions[1])
	assert.Equal(t, 0, st.Hand.Turn, "button acts first preflop heads-up")
}

func TestStartHandButtonRotates(t *testing.T) {
	st := seatedState(t, 100, 100, 100)
	now := time.Unix(1700000000, 0)
	require.NoError(t, StartHand(st, testConfig(), now, nil))
	assert.Equal(t, 0, st.Button)

	st.Hand = nil
	for i := range st.Seats[:3] {
		st.Seats[i].Status = SeatSeated
	}
	require.NoError(t, StartHand(st, testConfig(), now, nil))
	assert.Equal(t, 1, st.Button)
}

func TestStartHandAntes(t *testing.T) {
	cfg := testConfig()
	cfg.SmallBlind = 2
	cfg.BigBlind = 4
	cfg.Ante = 1
	st := seatedState(t, 100, 100, 100)

	require.NoError(t, StartHand(st, cfg, time.Unix(1700000000, 0), nil))

	hand := st.Hand
	assert.Equal(t, 1, hand.TotalContributions[0], "button paid the ante only")
	assert.Equal(t, 3, hand.TotalContributions[1], "ante plus small blind")
	assert.Equal(t, 5, hand.TotalContributions[2], "ante plus big blind")
	assert.Equal(t, 0, hand.RoundContributions[0], "antes are not round contributions")
	assert.Equal(t, 2, hand.RoundContributions[1])
}

func TestStartHandRequiresTwoPlayers(t *testing.T) {
	st := seatedState(t, 100)
	err := StartHand(st, testConfig(), time.Unix(1700000000, 0), nil)
	assert.True(t, IsCode(err, CodeInvalidAction))

	st = seatedState(t, 100, 100)
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), nil))
	err = StartHand(st, testConfig(), time.Unix(1700000000, 0), nil)
	assert.True(t, IsCode(err, CodeInvalidAction), "hand already in progress")
}

func TestStartHandDeterministicDeal(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := seatedState(t, 100, 100, 100)
	b := seatedState(t, 100, 100, 100)

	require.NoError(t, StartHand(a, testConfig(), now, nil))
	require.NoError(t, StartHand(b, testConfig(), now, nil))

	for i := 0; i < 3; i++ {
		assert.Equal(t, a.Seats[i].HoleCards, b.Seats[i].HoleCards)
	}

	c := seatedState(t, 100, 100, 100)
	require.NoError(t, StartHand(c, testConfig(), now.Add(time.Second), nil))
	same := true
	for i := 0; i < 3; i++ {
		if !assert.ObjectsAreEqual(a.Seats[i].HoleCards, c.Seats[i].HoleCards) {
			same = false
		}
	}
	assert.False(t, same, "different start time shuffles differently")
}

func TestHeadsUpFoldWin(t *testing.T) {
	st := seatedState(t, 100, 100)
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), nil))

	res := mustAct(t, st, 0, ActionInput{Type: ActionFold})

	require.True(t, res.HandComplete)
	assert.Equal(t, OutcomeFoldWin, res.Outcome)
	assert.Equal(t, 99, st.Seats[0].Stack)
	assert.Equal(t, 101, st.Seats[1].Stack)
	assert.Equal(t, 0, st.Hand.RakeAmount)
	require.Len(t, st.Hand.Winners, 1)
	assert.Equal(t, 1, st.Hand.Winners[0].SeatID)
	assert.Equal(t, 3, st.Hand.Winners[0].Amount)
	assert.Nil(t, st.Hand.Winners[0].HandValue, "fold wins reveal nothing")
	assert.Equal(t, SeatSeated, st.Seats[1].Status)
	assert.Nil(t, st.Seats[0].HoleCards)
}

func TestHeadsUpCheckedDownShowdown(t *testing.T) {
	st := seatedState(t, 100, 100)
	deck := poker.MustParseCards("Ah Ad Kh Kd 2c 7d 9s 3h 5c")
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), deck))

	mustAct(t, st, 0, ActionInput{Type: ActionCall})
	require.Equal(t, StreetFlop, st.Hand.Street)
	require.Equal(t, 1, st.Hand.Turn, "first to act postflop is left of the button")

	mustAct(t, st, 1, ActionInput{Type: ActionCheck})
	mustAct(t, st, 0, ActionInput{Type: ActionCheck})
	require.Equal(t, StreetTurn, st.Hand.Street)

	mustAct(t, st, 1, ActionInput{Type: ActionCheck})
	mustAct(t, st, 0, ActionInput{Type: ActionCheck})
	require.Equal(t, StreetRiver, st.Hand.Street)

	mustAct(t, st, 1, ActionInput{Type: ActionCheck})
	res := mustAct(t, st, 0, ActionInput{Type: ActionCheck})

	require.True(t, res.HandComplete)
	assert.Equal(t, OutcomeShowdown, res.Outcome)
	assert.Equal(t, StreetShowdown, st.Hand.Street)
	assert.Equal(t, 102, st.Seats[0].Stack, "aces beat kings")
	assert.Equal(t, 98, st.Seats[1].Stack)
	require.Len(t, st.Hand.Winners, 1)
	winner := st.Hand.Winners[0]
	assert.Equal(t, 0, winner.SeatID)
	assert.Equal(t, poker.Pair, winner.HandValue.Category)
	assert.Equal(t, poker.MustParseCards("Ah Ad"), winner.HoleCards, "showdown reveals the winning hand")
}

func TestSplitPotOddChipGoesLeftOfButton(t *testing.T) {
	st := seatedState(t, 100, 100, 100)
	// Seat 1 folds its small blind; seats 0 and 2 check down a board that
	// plays for both, leaving an odd 5-chip pot to split.
	deck := poker.MustParseCards("9h 8h 3c 3d 2c 2d Ah Kh Qh Jh Th")
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), deck))

	mustAct(t, st, 0, ActionInput{Type: ActionCall})
	mustAct(t, st, 1, ActionInput{Type: ActionFold})
	require.Equal(t, StreetFlop, st.Hand.Street)

	for _, street := range []Street{StreetTurn, StreetRiver, StreetShowdown} {
		mustAct(t, st, 2, ActionInput{Type: ActionCheck})
		mustAct(t, st, 0, ActionInput{Type: ActionCheck})
		require.Equal(t, street, st.Hand.Street)
	}

	assert.Equal(t, 99, st.Seats[1].Stack)
	assert.Equal(t, 100, st.Seats[0].Stack, "button is furthest from itself")
	assert.Equal(t, 101, st.Seats[2].Stack, "odd chip lands closest left of the button")
	assert.Equal(t, 300, st.Seats[0].Stack+st.Seats[1].Stack+st.Seats[2].Stack)
}

func TestAllInSidePotsAndRake(t *testing.T) {
	st := seatedState(t, 100, 50, 100)
	deck := poker.MustParseCards("Ah Ad 2c 2d Kh Kd 3h 7s 9d Jc Qh")
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), deck))

	mustAct(t, st, 0, ActionInput{Type: ActionAllIn})
	mustAct(t, st, 1, ActionInput{Type: ActionAllIn})
	res := mustAct(t, st, 2, ActionInput{Type: ActionCall})

	require.True(t, res.HandComplete, "runout once nobody can act")
	hand := st.Hand
	require.Len(t, hand.Pots, 2)
	assert.Equal(t, []int{0, 1, 2}, hand.Pots[0].EligibleSeats)
	assert.Equal(t, 150, hand.Pots[0].Amount)
	assert.Equal(t, []int{0, 2}, hand.Pots[1].EligibleSeats)
	assert.Equal(t, 100, hand.Pots[1].Amount)

	assert.Equal(t, 5, hand.RakeAmount)
	assert.Equal(t, 145, st.Seats[1].Stack, "aces take the raked main pot")
	assert.Equal(t, 100, st.Seats[0].Stack, "kings take the side pot")
	assert.Equal(t, 0, st.Seats[2].Stack)
	assert.Equal(t, 250, st.Seats[0].Stack+st.Seats[1].Stack+st.Seats[2].Stack+hand.RakeAmount,
		"chips are conserved minus rake")
}

func TestShortAllInCapsRaisesForActedSeats(t *testing.T) {
	st := seatedState(t, 200, 13, 200)
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), nil))

	mustAct(t, st, 0, ActionInput{Type: ActionRaise, Amount: 10, HasAmount: true})
	assert.Equal(t, 8, st.Hand.MinRaise)

	// Small blind shoves for 13 total, a short raise of 3.
	mustAct(t, st, 1, ActionInput{Type: ActionAllIn})
	assert.True(t, st.Hand.RaiseCapped)
	assert.Equal(t, 13, st.Hand.CurrentBet)
	assert.Equal(t, 8, st.Hand.MinRaise, "short all-in does not reset the raise size")

	// Big blind has not acted voluntarily, so it may still raise.
	legal := DeriveLegalActions(st.Hand, st.Seat(2))
	raise, ok := findLegal(legal, ActionRaise)
	require.True(t, ok)
	assert.Equal(t, 21, raise.MinAmount)
	mustAct(t, st, 2, ActionInput{Type: ActionCall})

	// The original raiser already acted; the short shove does not reopen action.
	legal = DeriveLegalActions(st.Hand, st.Seat(0))
	_, ok = findLegal(legal, ActionRaise)
	assert.False(t, ok)
	_, err := ApplyAction(st, 0, ActionInput{Type: ActionRaise, Amount: 21, HasAmount: true}, false, time.Unix(1700000000, 0))
	assert.True(t, IsCode(err, CodeIllegalAction))

	res := mustAct(t, st, 0, ActionInput{Type: ActionCall})
	assert.True(t, res.StreetAdvanced)
	assert.Equal(t, StreetFlop, st.Hand.Street)
	assert.False(t, st.Hand.RaiseCapped, "cap clears on the next street")
}

func TestFullRaiseReopensAction(t *testing.T) {
	st := seatedState(t, 200, 200, 200)
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), nil))

	mustAct(t, st, 0, ActionInput{Type: ActionRaise, Amount: 6, HasAmount: true})
	mustAct(t, st, 1, ActionInput{Type: ActionRaise, Amount: 12, HasAmount: true})

	assert.Equal(t, 6, st.Hand.MinRaise)
	assert.Equal(t, 1, st.Hand.LastAggressor)
	assert.Equal(t, []int{1}, st.Hand.ActedSeats, "a full raise reopens action for everyone else")

	legal := DeriveLegalActions(st.Hand, st.Seat(0))
	raise, ok := findLegal(legal, ActionRaise)
	require.True(t, ok)
	assert.Equal(t, 18, raise.MinAmount)
}

func TestApplyActionValidation(t *testing.T) {
	now := time.Unix(1700000000, 0)

	st := seatedState(t, 100, 100, 100)
	_, err := ApplyAction(st, 0, ActionInput{Type: ActionCheck}, false, now)
	assert.True(t, IsCode(err, CodeNoHand))

	require.NoError(t, StartHand(st, testConfig(), now, nil))

	_, err = ApplyAction(st, 1, ActionInput{Type: ActionFold}, false, now)
	assert.True(t, IsCode(err, CodeNotYourTurn))

	_, err = ApplyAction(st, 4, ActionInput{Type: ActionFold}, false, now)
	assert.True(t, IsCode(err, CodeSeatMissing))

	_, err = ApplyAction(st, 0, ActionInput{Type: ActionCheck}, false, now)
	assert.True(t, IsCode(err, CodeIllegalAction), "cannot check facing the blind")

	_, err = ApplyAction(st, 0, ActionInput{Type: ActionRaise}, false, now)
	assert.True(t, IsCode(err, CodeMissingAmount))

	_, err = ApplyAction(st, 0, ActionInput{Type: ActionRaise, Amount: 3, HasAmount: true}, false, now)
	assert.True(t, IsCode(err, CodeAmountTooSmall))

	_, err = ApplyAction(st, 0, ActionInput{Type: ActionRaise, Amount: 1000, HasAmount: true}, false, now)
	assert.True(t, IsCode(err, CodeAmountTooLarge))
}

func TestDisconnectedSeatActsOnlyThroughTimeout(t *testing.T) {
	now := time.Unix(1700000000, 0)
	st := seatedState(t, 100, 100, 100)
	require.NoError(t, StartHand(st, testConfig(), now, nil))
	st.Seats[0].Status = SeatDisconnected

	_, err := ApplyAction(st, 0, ActionInput{Type: ActionFold}, false, now)
	assert.True(t, IsCode(err, CodeSeatInactive), "player input refused while disconnected")

	_, err = ApplyAction(st, 0, ActionInput{Type: ActionCall}, true, now)
	assert.True(t, IsCode(err, CodeSeatInactive), "timeouts only check or fold")

	res, err := ApplyAction(st, 0, ActionInput{Type: ActionFold}, true, now)
	require.NoError(t, err)
	assert.Equal(t, ActionFold, res.Action.Type)
	assert.Equal(t, SeatFolded, st.Seats[0].Status)
}

func TestForfeitOutOfTurnEndsHeadsUpHand(t *testing.T) {
	st := seatedState(t, 100, 100)
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), nil))
	require.Equal(t, 0, st.Hand.Turn)

	// The big blind leaves while the button holds the turn.
	res, err := Forfeit(st, 1, time.Unix(1700000001, 0))
	require.NoError(t, err)

	assert.True(t, res.HandComplete)
	assert.Equal(t, OutcomeFoldWin, res.Outcome)
	assert.Equal(t, 101, st.Seats[0].Stack, "button collects the blinds")
	assert.Equal(t, 98, st.Seats[1].Stack)
}

func TestForfeitOnTurnAdvancesAction(t *testing.T) {
	st := seatedState(t, 100, 100, 100)
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), nil))
	require.Equal(t, 0, st.Hand.Turn)

	res, err := Forfeit(st, 0, time.Unix(1700000001, 0))
	require.NoError(t, err)

	assert.False(t, res.HandComplete)
	assert.Equal(t, SeatFolded, st.Seats[0].Status)
	assert.Equal(t, 1, st.Hand.Turn, "turn passes to the small blind")

	_, err = Forfeit(st, 0, time.Unix(1700000002, 0))
	assert.True(t, IsCode(err, CodeSeatInactive), "folded seats cannot forfeit again")
}

func TestActionLogOrdering(t *testing.T) {
	st := seatedState(t, 100, 100)
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), nil))

	mustAct(t, st, 0, ActionInput{Type: ActionCall})
	mustAct(t, st, 1, ActionInput{Type: ActionCheck})

	types := make([]ActionType, 0, len(st.Hand.Actions))
	for _, a := range st.Hand.Actions {
		types = append(types, a.Type)
	}
	assert.Equal(t, []ActionType{ActionPostBlind, ActionPostBlind, ActionCall, ActionCheck}, types)
	for _, a := range st.Hand.Actions {
		assert.NotEmpty(t, a.ActionID)
		assert.Equal(t, st.Hand.HandID, a.HandID)
	}
}

func TestRepairTurnAdvancesOffUnactableSeat(t *testing.T) {
	st := seatedState(t, 100, 100, 100)
	require.NoError(t, StartHand(st, testConfig(), time.Unix(1700000000, 0), nil))
	require.Equal(t, 0, st.Hand.Turn)

	assert.False(t, RepairTurn(st), "an active turn seat needs no repair")
	assert.Equal(t, 0, st.Hand.Turn)

	// A vacated turn seat hands the turn to the next seat that can act.
	st.Seats[0].UserID = ""
	st.Seats[0].Status = SeatEmpty
	assert.True(t, RepairTurn(st))
	assert.Equal(t, 1, st.Hand.Turn)

	// With nobody able to act the turn parks instead of looping.
	st.Seats[1].Status = SeatSittingOut
	st.Seats[2].Status = SeatSittingOut
	assert.True(t, RepairTurn(st))
	assert.Equal(t, -1, st.Hand.Turn)
}
