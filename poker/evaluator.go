package poker

import "sort"

// Category ranks hand classes from weakest to strongest.
type Category int

const (
	HighCard Category = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
)

func (c Category) String() string {
	switch c {
	case HighCard:
		return "High Card"
	case Pair:
		return "Pair"
	case TwoPair:
		return "Two Pair"
	case ThreeOfAKind:
		return "Three of a Kind"
	case Straight:
		return "Straight"
	case Flush:
		return "Flush"
	case FullHouse:
		return "Full House"
	case FourOfAKind:
		return "Four of a Kind"
	case StraightFlush:
		return "Straight Flush"
	default:
		return "Unknown"
	}
}

// HandValue is the evaluated strength of a 5-card hand. Two values compare by
// category first, then lexicographically by the tiebreak vector.
type HandValue struct {
	Category Category `json:"category"`
	Tiebreak []int    `json:"tiebreak"`
}

// Compare returns >0 if v beats o, <0 if o beats v, 0 on an exact tie.
func (v HandValue) Compare(o HandValue) int {
	if v.Category != o.Category {
		return int(v.Category) - int(o.Category)
	}
	for i := 0; i < len(v.Tiebreak) && i < len(o.Tiebreak); i++ {
		if v.Tiebreak[i] != o.Tiebreak[i] {
			return v.Tiebreak[i] - o.Tiebreak[i]
		}
	}
	return len(v.Tiebreak) - len(o.Tiebreak)
}

// Evaluate5 evaluates exactly five cards.
func Evaluate5(cards []Card) HandValue {
	if len(cards) != 5 {
		return HandValue{}
	}

	ranks := make([]int, 5)
	for i, c := range cards {
		ranks[i] = int(c.Rank)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ranks)))

	flush := true
	for _, c := range cards[1:] {
		if c.Suit != cards[0].Suit {
			flush = false
			break
		}
	}

	straightHigh := straightHighCard(ranks)

	if flush && straightHigh > 0 {
		return HandValue{Category: StraightFlush, Tiebreak: []int{straightHigh}}
	}

	// Group ranks by multiplicity, then order groups by (count, rank) desc so
	// the tiebreak vector falls straight out.
	counts := map[int]int{}
	for _, r := range ranks {
		counts[r]++
	}
	type group struct{ rank, count int }
	groups := make([]group, 0, len(counts))
	for r, n := range counts {
		groups = append(groups, group{rank: r, count: n})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].rank > groups[j].rank
	})

	tiebreak := make([]int, 0, 5)
	for _, g := range groups {
		tiebreak = append(tiebreak, g.rank)
	}

	switch {
	case groups[0].count == 4:
		return HandValue{Category: FourOfAKind, Tiebreak: tiebreak}
	case groups[0].count == 3 && groups[1].count == 2:
		return HandValue{Category: FullHouse, Tiebreak: tiebreak}
	case flush:
		return HandValue{Category: Flush, Tiebreak: ranks}
	case straightHigh > 0:
		return HandValue{Category: Straight, Tiebreak: []int{straightHigh}}
	case groups[0].count == 3:
		return HandValue{Category: ThreeOfAKind, Tiebreak: tiebreak}
	case groups[0].count == 2 && groups[1].count == 2:
		return HandValue{Category: TwoPair, Tiebreak: tiebreak}
	case groups[0].count == 2:
		return HandValue{Category: Pair, Tiebreak: tiebreak}
	default:
		return HandValue{Category: HighCard, Tiebreak: ranks}
	}
}

// straightHighCard returns the straight's high card for five distinct
// descending ranks, recognising the ace-low wheel as a 5-high straight.
// Returns 0 when the ranks do not form a straight.
func straightHighCard(desc []int) int {
	for i := 1; i < len(desc); i++ {
		if desc[i] == desc[i-1] {
			return 0
		}
	}
	if desc[0]-desc[4] == 4 {
		return desc[0]
	}
	// Wheel: A 5 4 3 2.
	if desc[0] == int(Ace) && desc[1] == 5 && desc[1]-desc[4] == 3 {
		return 5
	}
	return 0
}

// EvaluateBest returns the strongest 5-card hand drawable from 5 to 7 cards.
func EvaluateBest(cards []Card) HandValue {
	if len(cards) < 5 {
		return HandValue{}
	}
	if len(cards) == 5 {
		return Evaluate5(cards)
	}

	best := HandValue{Category: -1}
	pick := make([]Card, 5)
	n := len(cards)
	// All C(n,5) combinations; n is at most 7 so this is 21 evaluations.
	for a := 0; a < n-4; a++ {
		for b := a + 1; b < n-3; b++ {
			for c := b + 1; c < n-2; c++ {
				for d := c + 1; d < n-1; d++ {
					for e := d + 1; e < n; e++ {
						pick[0], pick[1], pick[2], pick[3], pick[4] =
							cards[a], cards[b], cards[c], cards[d], cards[e]
						if v := Evaluate5(pick); v.Compare(best) > 0 {
							best = v
						}
					}
				}
			}
		}
	}
	return best
}
