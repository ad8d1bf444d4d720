package poker

import (
	"hash/fnv"
	"time"
)

// NewDeck returns the 52-card deck in canonical order (suits ascending, ranks
// ascending within each suit).
func NewDeck() []Card {
	cards := make([]Card, 0, 52)
	for suit := Clubs; suit <= Spades; suit++ {
		for rank := Two; rank <= Ace; rank++ {
			cards = append(cards, Card{Rank: rank, Suit: suit})
		}
	}
	return cards
}

// ShuffledDeck returns a full deck permuted deterministically by seed.
func ShuffledDeck(seed uint64) []Card {
	cards := NewDeck()
	Shuffle(cards, seed)
	return cards
}

// lcg is the multiplicative congruential step used for shuffling. The same
// seed always yields the same permutation, which is what makes hands
// replayable from their seed alone.
type lcg struct{ state uint64 }

func (l *lcg) next() uint64 {
	l.state = l.state*6364136223846793005 + 1442695040888963407
	return l.state >> 11
}

// Shuffle permutes cards in place with a Fisher-Yates walk driven by an LCG.
func Shuffle(cards []Card, seed uint64) {
	rng := lcg{state: seed}
	for i := len(cards) - 1; i > 0; i-- {
		j := int(rng.next() % uint64(i+1))
		cards[i], cards[j] = cards[j], cards[i]
	}
}

// HandSeed derives a shuffle seed from the table id and the hand start time.
func HandSeed(tableID string, startedAt time.Time) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tableID))
	return h.Sum64() ^ uint64(startedAt.UnixNano())
}
