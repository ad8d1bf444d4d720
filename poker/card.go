// Package poker provides cards, deterministic decks, hand evaluation and pot
// payout arithmetic for no-limit Texas Hold'em.
package poker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Rank is a card rank from Two (2) to Ace (14).
type Rank int

const (
	Two   Rank = 2
	Three Rank = 3
	Four  Rank = 4
	Five  Rank = 5
	Six   Rank = 6
	Seven Rank = 7
	Eight Rank = 8
	Nine  Rank = 9
	Ten   Rank = 10
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
	Ace   Rank = 14
)

const rankRunes = "23456789TJQKA"

func (r Rank) String() string {
	if r < Two || r > Ace {
		return "?"
	}
	return string(rankRunes[r-Two])
}

// Suit is one of the four card suits.
type Suit int

const (
	Clubs Suit = iota
	Diamonds
	Hearts
	Spades
)

const suitRunes = "cdhs"

func (s Suit) String() string {
	if s < Clubs || s > Spades {
		return "?"
	}
	return string(suitRunes[s])
}

// Card is a single playing card.
type Card struct {
	Rank Rank
	Suit Suit
}

func (c Card) String() string {
	return c.Rank.String() + c.Suit.String()
}

// ParseCard parses a two-rune card like "Ah" or "Td". Rank is case-insensitive.
func ParseCard(s string) (Card, error) {
	if len(s) != 2 {
		return Card{}, fmt.Errorf("invalid card %q", s)
	}
	ri := strings.IndexByte(rankRunes, strings.ToUpper(s)[0])
	if ri < 0 {
		return Card{}, fmt.Errorf("invalid card rank %q", s)
	}
	si := strings.IndexByte(suitRunes, strings.ToLower(s)[1])
	if si < 0 {
		return Card{}, fmt.Errorf("invalid card suit %q", s)
	}
	return Card{Rank: Rank(ri) + Two, Suit: Suit(si)}, nil
}

// MustParseCard parses a card and panics on failure. Test helper.
func MustParseCard(s string) Card {
	c, err := ParseCard(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCards parses a space-separated list like "Ah Kd 2c".
func ParseCards(s string) ([]Card, error) {
	fields := strings.Fields(s)
	cards := make([]Card, 0, len(fields))
	for _, f := range fields {
		c, err := ParseCard(f)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// MustParseCards parses a space-separated card list and panics on failure.
func MustParseCards(s string) []Card {
	cards, err := ParseCards(s)
	if err != nil {
		panic(err)
	}
	return cards
}

// Cards serialize as their compact string form ("Ah") so persisted state and
// wire snapshots stay human-readable.
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Card) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCard(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
