package engine

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// BuildPots recomputes main and side pots from total contributions and the
// folded set. Distinct positive contribution levels are walked ascending; each
// rising slice forms a pot whose eligibility excludes folded seats, so side
// pots emerge at every all-in ceiling and uncalled excess flows back to its
// lone contributor. Adjacent pots with identical eligibility are merged.
func BuildPots(st *TableState) []Pot {
	hand := st.Hand
	if hand == nil {
		return nil
	}

	levelSet := mapset.NewThreadUnsafeSet[int]()
	for _, contrib := range hand.TotalContributions {
		if contrib > 0 {
			levelSet.Add(contrib)
		}
	}
	levels := levelSet.ToSlice()
	sort.Ints(levels)

	var pots []Pot
	prev := 0
	carry := 0
	for _, level := range levels {
		slice := carry
		carry = 0
		eligible := mapset.NewThreadUnsafeSet[int]()
		for seatID, contrib := range hand.TotalContributions {
			below := min(contrib, prev)
			slice += min(contrib, level) - below
			seat := st.Seat(seatID)
			if seat == nil || contrib < level {
				continue
			}
			if inHand(seat) {
				eligible.Add(seatID)
			}
		}
		prev = level
		if slice == 0 {
			continue
		}
		if eligible.Cardinality() == 0 {
			// Every contributor at this ceiling folded; the chips belong to
			// whichever pot forms next (or the previous one if none does).
			carry = slice
			continue
		}
		seats := eligible.ToSlice()
		sort.Ints(seats)
		if n := len(pots); n > 0 && equalSeatSets(pots[n-1].EligibleSeats, seats) {
			pots[n-1].Amount += slice
			continue
		}
		pots = append(pots, Pot{Amount: slice, EligibleSeats: seats})
	}
	if carry > 0 && len(pots) > 0 {
		pots[len(pots)-1].Amount += carry
	}
	return pots
}

func equalSeatSets(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// roundComplete reports whether the current betting round is finished: with
// no outstanding bet every live seat must have acted, otherwise every live
// seat must have matched the current bet.
func roundComplete(st *TableState) bool {
	hand := st.Hand
	if hand == nil {
		return true
	}
	acted := actedSet(hand)
	for i := range st.Seats {
		seat := &st.Seats[i]
		if !canAct(seat) {
			continue
		}
		if hand.CurrentBet == 0 {
			if !acted.Contains(seat.SeatID) {
				return false
			}
		} else if hand.RoundContributions[seat.SeatID] < hand.CurrentBet {
			return false
		}
	}
	return true
}

// inHand reports whether the seat was dealt into the hand and has not folded.
func inHand(seat *Seat) bool {
	switch seat.Status {
	case SeatActive, SeatAllIn, SeatDisconnected:
		return true
	}
	return false
}

// canAct reports whether the seat still takes turns this hand. Disconnected
// seats keep their turn; timeouts act for them.
func canAct(seat *Seat) bool {
	return seat.Status == SeatActive || seat.Status == SeatDisconnected
}

func (s *TableState) countInHand() (live, acting int) {
	for i := range s.Seats {
		if inHand(&s.Seats[i]) {
			live++
		}
		if canAct(&s.Seats[i]) {
			acting++
		}
	}
	return live, acting
}

// nextActingSeat returns the first seat after from (circularly) that can act,
// or -1 if none.
func (s *TableState) nextActingSeat(from int) int {
	n := len(s.Seats)
	for i := 1; i <= n; i++ {
		seatID := ((from+i)%n + n) % n
		if canAct(&s.Seats[seatID]) {
			return seatID
		}
	}
	return -1
}
