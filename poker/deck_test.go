package poker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShuffledDeckIsDeterministic(t *testing.T) {
	a := ShuffledDeck(42)
	b := ShuffledDeck(42)
	assert.Equal(t, a, b)

	c := ShuffledDeck(43)
	assert.NotEqual(t, a, c)
}

func TestShuffledDeckIsAPermutation(t *testing.T) {
	deck := ShuffledDeck(7)
	require.Len(t, deck, 52)

	seen := map[Card]bool{}
	for _, card := range deck {
		assert.False(t, seen[card], "duplicate card %s", card)
		seen[card] = true
	}
}

func TestHandSeedVariesByTableAndTime(t *testing.T) {
	now := time.Now()
	assert.NotEqual(t, HandSeed("t1", now), HandSeed("t2", now))
	assert.NotEqual(t, HandSeed("t1", now), HandSeed("t1", now.Add(time.Nanosecond)))
	assert.Equal(t, HandSeed("t1", now), HandSeed("t1", now))
}
