package poker

import "sort"

const (
	rakePercent    = 5
	rakeCap        = 5
	rakeFreesBelow = 20
)

// Rake returns the house take for a hand: 5% of the total pot capped at 5
// chips, and nothing at all for pots of 20 chips or fewer.
func Rake(totalPot int) int {
	if totalPot <= rakeFreesBelow {
		return 0
	}
	rake := totalPot * rakePercent / 100
	if rake > rakeCap {
		rake = rakeCap
	}
	return rake
}

// PotPayouts splits amount evenly between the winning seats. Remainder chips
// go one at a time to winners in button-relative order: the seat closest to
// the button's left collects the first odd chip.
func PotPayouts(amount int, winners []int, buttonSeat, seatCount int) map[int]int {
	payouts := make(map[int]int, len(winners))
	if amount <= 0 || len(winners) == 0 || seatCount <= 0 {
		return payouts
	}

	ordered := make([]int, len(winners))
	copy(ordered, winners)
	sort.Slice(ordered, func(i, j int) bool {
		return buttonDistance(ordered[i], buttonSeat, seatCount) <
			buttonDistance(ordered[j], buttonSeat, seatCount)
	})

	base := amount / len(ordered)
	remainder := amount % len(ordered)
	for i, seat := range ordered {
		payouts[seat] = base
		if i < remainder {
			payouts[seat]++
		}
	}
	return payouts
}

func buttonDistance(seat, buttonSeat, seatCount int) int {
	return ((seat-buttonSeat-1)%seatCount + seatCount) % seatCount
}
