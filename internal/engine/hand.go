package engine

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/bricerising/homegame/poker"
)

// Hand end outcomes reported by the resolution pipeline.
const (
	OutcomeFoldWin  = "fold_win"
	OutcomeShowdown = "showdown"
	OutcomeTimeout  = "timeout"
)

// ActionResult reports what applying an action did to the hand.
type ActionResult struct {
	Action            Action
	ContributionDelta int
	HandComplete      bool
	Outcome           string
	StreetAdvanced    bool
}

// StartHand begins a new hand on the table. Requires at least two seated
// players with chips. deck may be nil, in which case a deterministic shuffle
// seeded from the table id and start time is used; tests inject fixed decks.
func StartHand(st *TableState, cfg TableConfig, now time.Time, deck []poker.Card) error {
	if st.Hand != nil {
		return E(CodeInvalidAction, "hand already in progress")
	}
	eligible := eligibleSeatIDs(st)
	if len(eligible) < 2 {
		return E(CodeInvalidAction, "need at least 2 players with chips")
	}

	st.Button = nextInRotation(eligible, st.Button, len(st.Seats))
	headsUp := len(eligible) == 2

	var sbSeat int
	if headsUp {
		// Heads-up: the button posts the small blind.
		sbSeat = st.Button
	} else {
		sbSeat = nextInRotation(eligible, st.Button, len(st.Seats))
	}
	bbSeat := nextInRotation(eligible, sbSeat, len(st.Seats))

	if deck == nil {
		deck = poker.ShuffledDeck(poker.HandSeed(st.TableID, now))
	}
	hand := &HandState{
		HandID:             uuid.NewString(),
		TableID:            st.TableID,
		Street:             StreetPreflop,
		CommunityCards:     []poker.Card{},
		Deck:               deck,
		MinRaise:           cfg.BigBlind,
		BigBlind:           cfg.BigBlind,
		LastAggressor:      bbSeat,
		RoundContributions: map[int]int{},
		TotalContributions: map[int]int{},
		StartedAt:          now,
	}
	st.Hand = hand

	if cfg.Ante > 0 {
		for _, seatID := range eligible {
			seat := st.Seat(seatID)
			ante := min(cfg.Ante, seat.Stack)
			seat.Stack -= ante
			hand.TotalContributions[seatID] += ante
		}
	}

	postBlind(st, sbSeat, cfg.SmallBlind, now)
	postBlind(st, bbSeat, cfg.BigBlind, now)
	hand.CurrentBet = cfg.BigBlind

	// Deal two hole cards to each participant, rotating from the small blind.
	dealOrder := rotationOrder(eligible, sbSeat)
	for _, seatID := range dealOrder {
		seat := st.Seat(seatID)
		seat.HoleCards = draw(hand, 2)
		if seat.Stack == 0 {
			seat.Status = SeatAllIn
		} else {
			seat.Status = SeatActive
		}
	}

	hand.Turn = st.nextActingSeat(bbSeat)
	hand.Pots = BuildPots(st)

	// Blinds/antes can leave at most one seat able to act; run the board out
	// immediately in that case.
	live, acting := st.countInHand()
	if live > 1 && (acting == 0 || (acting == 1 && roundComplete(st))) {
		result := &ActionResult{}
		runOut(st, now, result)
	}
	return nil
}

// ApplyAction validates and applies a player intent to the in-progress hand,
// then runs the post-action resolution pipeline. allowInactive permits FOLD
// and CHECK from DISCONNECTED seats (the timeout path acting on their behalf).
func ApplyAction(st *TableState, seatID int, in ActionInput, allowInactive bool, now time.Time) (*ActionResult, error) {
	hand := st.Hand
	if hand == nil {
		return nil, E(CodeNoHand, "no hand in progress")
	}
	if hand.EndedAt != nil {
		return nil, E(CodeHandComplete, "hand is complete")
	}
	seat := st.Seat(seatID)
	if seat == nil || seat.UserID == "" {
		return nil, E(CodeSeatMissing, "seat %d is not occupied", seatID)
	}
	if hand.Turn != seatID {
		return nil, E(CodeNotYourTurn, "seat %d is not on turn", seatID)
	}

	switch seat.Status {
	case SeatActive:
	case SeatDisconnected:
		if !allowInactive || (in.Type != ActionFold && in.Type != ActionCheck) {
			return nil, E(CodeSeatInactive, "seat %d is disconnected", seatID)
		}
	default:
		return nil, E(CodeSeatInactive, "seat %d has status %s", seatID, seat.Status)
	}

	legal := DeriveLegalActions(hand, seat)
	bounds, ok := findLegal(legal, in.Type)
	if !ok {
		return nil, E(CodeIllegalAction, "%s is not legal for seat %d", in.Type, seatID)
	}
	if in.Type == ActionBet || in.Type == ActionRaise {
		if !in.HasAmount {
			return nil, E(CodeMissingAmount, "%s requires an amount", in.Type)
		}
		if in.Amount < bounds.MinAmount {
			return nil, E(CodeAmountTooSmall, "%s of %d is below minimum %d", in.Type, in.Amount, bounds.MinAmount)
		}
		if in.Amount > bounds.MaxAmount {
			return nil, E(CodeAmountTooLarge, "%s of %d exceeds maximum %d", in.Type, in.Amount, bounds.MaxAmount)
		}
	}

	rc := hand.RoundContributions[seatID]
	maxTotal := seat.Stack + rc
	before := hand.TotalContributions[seatID]
	recorded := 0

	switch in.Type {
	case ActionFold:
		seat.Status = SeatFolded

	case ActionCheck:
		// No chips move.

	case ActionCall:
		toCall := hand.CurrentBet - rc
		pay := min(toCall, seat.Stack)
		contribute(st, seatID, pay)
		if seat.Stack == 0 {
			seat.Status = SeatAllIn
		}
		recorded = pay

	case ActionBet, ActionRaise:
		raiseTo(st, seatID, in.Amount)
		recorded = in.Amount

	case ActionAllIn:
		if maxTotal <= hand.CurrentBet {
			contribute(st, seatID, seat.Stack)
		} else {
			raiseTo(st, seatID, maxTotal)
		}
		seat.Status = SeatAllIn
		recorded = maxTotal

	default:
		return nil, E(CodeInvalidAction, "%s cannot be submitted", in.Type)
	}

	markActed(hand, seatID)
	hand.Pots = BuildPots(st)

	action := Action{
		ActionID:  uuid.NewString(),
		HandID:    hand.HandID,
		SeatID:    seatID,
		UserID:    seat.UserID,
		Type:      in.Type,
		Amount:    recorded,
		Timestamp: now,
	}
	hand.Actions = append(hand.Actions, action)
	seat.LastAction = now

	result := &ActionResult{
		Action:            action,
		ContributionDelta: hand.TotalContributions[seatID] - before,
	}
	resolve(st, now, result)
	return result, nil
}

// Forfeit folds a seat out of turn when its player leaves mid-hand, then
// resolves the hand as if a fold had been applied: the pot re-forms, and the
// hand ends or the turn advances as needed. The seat keeps its chips; the
// caller clears ownership afterwards.
func Forfeit(st *TableState, seatID int, now time.Time) (*ActionResult, error) {
	hand := st.Hand
	if hand == nil || hand.EndedAt != nil {
		return nil, E(CodeNoHand, "no hand in progress")
	}
	seat := st.Seat(seatID)
	if seat == nil || seat.UserID == "" {
		return nil, E(CodeSeatMissing, "seat %d is not occupied", seatID)
	}
	if !inHand(seat) {
		return nil, E(CodeSeatInactive, "seat %d is not in the hand", seatID)
	}

	wasTurn := hand.Turn == seatID
	seat.Status = SeatFolded
	markActed(hand, seatID)
	hand.Pots = BuildPots(st)

	action := Action{
		ActionID:  uuid.NewString(),
		HandID:    hand.HandID,
		SeatID:    seatID,
		UserID:    seat.UserID,
		Type:      ActionFold,
		Amount:    0,
		Timestamp: now,
	}
	hand.Actions = append(hand.Actions, action)

	result := &ActionResult{Action: action}
	if wasTurn {
		resolve(st, now, result)
	} else if live, acting := st.countInHand(); live == 1 {
		settle(st, now, result, OutcomeFoldWin)
	} else if acting == 0 || (acting == 1 && roundComplete(st)) {
		runOut(st, now, result)
	}
	return result, nil
}

// RepairTurn moves the turn off a seat that can no longer act (vacated or
// deactivated without the turn advancing). Reports whether the turn moved.
func RepairTurn(st *TableState) bool {
	hand := st.Hand
	if hand == nil || hand.EndedAt != nil || hand.Turn < 0 {
		return false
	}
	seat := st.Seat(hand.Turn)
	if seat != nil && seat.UserID != "" && canAct(seat) {
		return false
	}
	hand.Turn = st.nextActingSeat(hand.Turn)
	return true
}

// resolve is the post-action pipeline: fold-win, all-in runout, turn advance,
// river showdown, or street advance; first matching step wins.
func resolve(st *TableState, now time.Time, result *ActionResult) {
	hand := st.Hand
	live, acting := st.countInHand()

	switch {
	case live == 1:
		settle(st, now, result, OutcomeFoldWin)

	case acting == 0 || (acting == 1 && roundComplete(st)):
		runOut(st, now, result)

	case !roundComplete(st):
		hand.Turn = st.nextActingSeat(hand.Turn)

	case hand.Street == StreetRiver:
		hand.Street = StreetShowdown
		settle(st, now, result, OutcomeShowdown)

	default:
		advanceStreet(st)
		result.StreetAdvanced = true
	}
}

// runOut deals all remaining community cards and resolves the showdown.
func runOut(st *TableState, now time.Time, result *ActionResult) {
	hand := st.Hand
	for len(hand.CommunityCards) < 5 {
		hand.CommunityCards = append(hand.CommunityCards, draw(hand, 1)...)
	}
	hand.Street = StreetShowdown
	settle(st, now, result, OutcomeShowdown)
}

func advanceStreet(st *TableState) {
	hand := st.Hand
	hand.RoundContributions = map[int]int{}
	hand.CurrentBet = 0
	hand.MinRaise = hand.BigBlind
	hand.RaiseCapped = false
	hand.ActedSeats = nil

	switch hand.Street {
	case StreetPreflop:
		hand.Street = StreetFlop
		hand.CommunityCards = append(hand.CommunityCards, draw(hand, 3)...)
	case StreetFlop:
		hand.Street = StreetTurn
		hand.CommunityCards = append(hand.CommunityCards, draw(hand, 1)...)
	case StreetTurn:
		hand.Street = StreetRiver
		hand.CommunityCards = append(hand.CommunityCards, draw(hand, 1)...)
	}
	hand.Turn = st.nextActingSeat(st.Button)
}

// settle awards every pot, applies rake, resets participants to SEATED and
// stamps the hand as ended. Fold-win pots go to their sole eligible seat;
// showdown pots go to the best five-of-seven evaluation among eligible seats.
func settle(st *TableState, now time.Time, result *ActionResult, outcome string) {
	hand := st.Hand

	total := 0
	for _, pot := range hand.Pots {
		total += pot.Amount
	}
	hand.RakeAmount = poker.Rake(total)
	remainingRake := hand.RakeAmount

	for i := range hand.Pots {
		pot := &hand.Pots[i]
		amount := pot.Amount
		// The main pot (lowest ceiling) absorbs the rake.
		if remainingRake > 0 {
			take := min(remainingRake, amount)
			amount -= take
			remainingRake -= take
		}

		winners := potWinners(st, pot, outcome)
		pot.Winners = winners
		payouts := poker.PotPayouts(amount, winners, st.Button, len(st.Seats))
		for _, seatID := range winners {
			payout := payouts[seatID]
			if payout == 0 {
				continue
			}
			seat := st.Seat(seatID)
			seat.Stack += payout
			hand.Winners = append(hand.Winners, Winner{
				SeatID:    seatID,
				UserID:    seat.UserID,
				Amount:    payout,
				Pot:       i,
				HandValue: showdownValue(st, seatID, outcome),
				HoleCards: showdownCards(st, seatID, outcome),
			})
		}
	}

	for i := range st.Seats {
		seat := &st.Seats[i]
		if inHand(seat) || seat.Status == SeatFolded {
			seat.Status = SeatSeated
		}
		seat.HoleCards = nil
	}

	ended := now
	hand.EndedAt = &ended
	hand.Turn = -1
	result.HandComplete = true
	result.Outcome = outcome
}

func potWinners(st *TableState, pot *Pot, outcome string) []int {
	if len(pot.EligibleSeats) <= 1 || outcome == OutcomeFoldWin {
		return append([]int(nil), pot.EligibleSeats...)
	}
	var best poker.HandValue
	var winners []int
	for _, seatID := range pot.EligibleSeats {
		seat := st.Seat(seatID)
		if seat == nil || len(seat.HoleCards) != 2 {
			continue
		}
		value := poker.EvaluateBest(append(append([]poker.Card{}, seat.HoleCards...), st.Hand.CommunityCards...))
		switch cmp := value.Compare(best); {
		case len(winners) == 0 || cmp > 0:
			best = value
			winners = []int{seatID}
		case cmp == 0:
			winners = append(winners, seatID)
		}
	}
	sort.Ints(winners)
	return winners
}

func showdownValue(st *TableState, seatID int, outcome string) *poker.HandValue {
	if outcome != OutcomeShowdown {
		return nil
	}
	seat := st.Seat(seatID)
	if seat == nil || len(seat.HoleCards) != 2 {
		return nil
	}
	value := poker.EvaluateBest(append(append([]poker.Card{}, seat.HoleCards...), st.Hand.CommunityCards...))
	return &value
}

func showdownCards(st *TableState, seatID int, outcome string) []poker.Card {
	if outcome != OutcomeShowdown {
		return nil
	}
	seat := st.Seat(seatID)
	if seat == nil {
		return nil
	}
	return append([]poker.Card(nil), seat.HoleCards...)
}

func contribute(st *TableState, seatID, amount int) {
	seat := st.Seat(seatID)
	seat.Stack -= amount
	st.Hand.RoundContributions[seatID] += amount
	st.Hand.TotalContributions[seatID] += amount
}

// raiseTo moves the seat's round contribution up to target. A raise at least
// the size of the previous minimum reopens the action (acted set resets to
// the raiser); a short all-in caps further raises for seats that already
// acted this round.
func raiseTo(st *TableState, seatID, target int) {
	hand := st.Hand
	seat := st.Seat(seatID)

	contribute(st, seatID, target-hand.RoundContributions[seatID])
	raiseSize := target - hand.CurrentBet
	hand.CurrentBet = target

	if raiseSize >= hand.MinRaise {
		hand.MinRaise = raiseSize
		hand.LastAggressor = seatID
		hand.ActedSeats = []int{seatID}
	} else {
		hand.RaiseCapped = true
	}
	if seat.Stack == 0 {
		seat.Status = SeatAllIn
	}
}

func postBlind(st *TableState, seatID, blind int, now time.Time) {
	hand := st.Hand
	seat := st.Seat(seatID)
	amount := min(blind, seat.Stack)
	contribute(st, seatID, amount)
	hand.Actions = append(hand.Actions, Action{
		ActionID:  uuid.NewString(),
		HandID:    hand.HandID,
		SeatID:    seatID,
		UserID:    seat.UserID,
		Type:      ActionPostBlind,
		Amount:    amount,
		Timestamp: now,
	})
}

func draw(hand *HandState, n int) []poker.Card {
	if len(hand.Deck) < n {
		return nil
	}
	cards := append([]poker.Card(nil), hand.Deck[:n]...)
	hand.Deck = hand.Deck[n:]
	return cards
}

func findLegal(actions []LegalAction, t ActionType) (LegalAction, bool) {
	for _, a := range actions {
		if a.Type == t {
			return a, true
		}
	}
	return LegalAction{}, false
}

// eligibleSeatIDs lists seats that can be dealt into a new hand.
func eligibleSeatIDs(st *TableState) []int {
	var out []int
	for i := range st.Seats {
		seat := &st.Seats[i]
		if seat.Status == SeatSeated && seat.UserID != "" && seat.Stack > 0 {
			out = append(out, seat.SeatID)
		}
	}
	return out
}

// nextInRotation returns the first seat in eligible strictly after from in
// circular seat order, or the lowest eligible seat when from is out of range.
func nextInRotation(eligible []int, from, seatCount int) int {
	if len(eligible) == 0 {
		return -1
	}
	if from < 0 || from >= seatCount {
		return eligible[0]
	}
	set := mapset.NewThreadUnsafeSet(eligible...)
	for i := 1; i <= seatCount; i++ {
		candidate := (from + i) % seatCount
		if set.Contains(candidate) {
			return candidate
		}
	}
	return eligible[0]
}

func rotationOrder(eligible []int, start int) []int {
	order := make([]int, 0, len(eligible))
	idx := 0
	for i, seatID := range eligible {
		if seatID == start {
			idx = i
			break
		}
	}
	for i := 0; i < len(eligible); i++ {
		order = append(order, eligible[(idx+i)%len(eligible)])
	}
	return order
}
