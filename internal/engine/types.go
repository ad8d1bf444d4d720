// Package engine implements the deterministic no-limit hold'em hand engine:
// pure functions over table state that deal, validate and apply actions,
// build pots and resolve showdowns. The engine performs no I/O; callers own
// persistence, timers and side effects.
package engine

import (
	"time"

	"github.com/bricerising/homegame/poker"
)

// TableStatus is the table lifecycle status.
type TableStatus string

const (
	TableWaiting TableStatus = "WAITING"
	TablePlaying TableStatus = "PLAYING"
	TablePaused  TableStatus = "PAUSED"
	TableClosed  TableStatus = "CLOSED"
)

// SeatStatus is the per-seat lifecycle status.
type SeatStatus string

const (
	SeatEmpty        SeatStatus = "EMPTY"
	SeatReserved     SeatStatus = "RESERVED"
	SeatSeated       SeatStatus = "SEATED"
	SeatActive       SeatStatus = "ACTIVE"
	SeatFolded       SeatStatus = "FOLDED"
	SeatAllIn        SeatStatus = "ALL_IN"
	SeatSittingOut   SeatStatus = "SITTING_OUT"
	SeatDisconnected SeatStatus = "DISCONNECTED"
)

// Street is the betting round within a hand.
type Street string

const (
	StreetPreflop  Street = "PREFLOP"
	StreetFlop     Street = "FLOP"
	StreetTurn     Street = "TURN"
	StreetRiver    Street = "RIVER"
	StreetShowdown Street = "SHOWDOWN"
)

// TableConfig is the immutable table configuration.
type TableConfig struct {
	SmallBlind       int `json:"smallBlind"`
	BigBlind         int `json:"bigBlind"`
	Ante             int `json:"ante"`
	MaxPlayers       int `json:"maxPlayers"`
	StartingStack    int `json:"startingStack"`
	TurnTimerSeconds int `json:"turnTimerSeconds"`
}

// Validate checks the config bounds enforced at table creation.
func (c TableConfig) Validate() error {
	switch {
	case c.SmallBlind <= 0:
		return E(CodeInvalidAction, "smallBlind must be positive")
	case c.BigBlind < 2*c.SmallBlind:
		return E(CodeInvalidAction, "bigBlind must be at least twice the small blind")
	case c.Ante < 0 || c.Ante >= c.SmallBlind:
		return E(CodeInvalidAction, "ante must be non-negative and below the small blind")
	case c.MaxPlayers < 2 || c.MaxPlayers > 9:
		return E(CodeInvalidAction, "maxPlayers must be between 2 and 9")
	case c.StartingStack <= 0:
		return E(CodeInvalidAction, "startingStack must be positive")
	case c.TurnTimerSeconds <= 0:
		return E(CodeInvalidAction, "turnTimerSeconds must be positive")
	}
	return nil
}

// Table is the persisted table record: immutable config plus lifecycle status.
type Table struct {
	TableID   string      `json:"tableId"`
	Name      string      `json:"name"`
	OwnerID   string      `json:"ownerId"`
	CreatedAt time.Time   `json:"createdAt"`
	Config    TableConfig `json:"config"`
	Status    TableStatus `json:"status"`
}

// Seat is one slot in the fixed-length seat array.
type Seat struct {
	SeatID              int          `json:"seatId"`
	UserID              string       `json:"userId,omitempty"`
	Stack               int          `json:"stack"`
	Status              SeatStatus   `json:"status"`
	HoleCards           []poker.Card `json:"holeCards,omitempty"`
	ReservationID       string       `json:"reservationId,omitempty"`
	PendingBuyInAmount  int          `json:"pendingBuyInAmount,omitempty"`
	BuyInIdempotencyKey string       `json:"buyInIdempotencyKey,omitempty"`
	LastAction          time.Time    `json:"lastAction,omitzero"`
}

// Spectator is a non-seated watcher of a table.
type Spectator struct {
	UserID   string    `json:"userId"`
	Status   string    `json:"status"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Pot is a main or side pot. EligibleSeats excludes folded seats.
type Pot struct {
	Amount        int   `json:"amount"`
	EligibleSeats []int `json:"eligibleSeats"`
	Winners       []int `json:"winners,omitempty"`
}

// Winner records one seat's share of one pot at hand end.
type Winner struct {
	SeatID    int              `json:"seatId"`
	UserID    string           `json:"userId"`
	Amount    int              `json:"amount"`
	Pot       int              `json:"pot"`
	HandValue *poker.HandValue `json:"handValue,omitempty"`
	HoleCards []poker.Card     `json:"holeCards,omitempty"`
}

// Action is one entry of the ordered per-hand action log.
type Action struct {
	ActionID  string     `json:"actionId"`
	HandID    string     `json:"handId"`
	SeatID    int        `json:"seatId"`
	UserID    string     `json:"userId"`
	Type      ActionType `json:"type"`
	Amount    int        `json:"amount,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// HandState is the in-progress hand attached to a table state.
type HandState struct {
	HandID             string       `json:"handId"`
	TableID            string       `json:"tableId"`
	Street             Street       `json:"street"`
	CommunityCards     []poker.Card `json:"communityCards"`
	Deck               []poker.Card `json:"deck,omitempty"`
	Pots               []Pot        `json:"pots"`
	CurrentBet         int          `json:"currentBet"`
	MinRaise           int          `json:"minRaise"`
	BigBlind           int          `json:"bigBlind"`
	Turn               int          `json:"turn"`
	LastAggressor      int          `json:"lastAggressor"`
	RoundContributions map[int]int  `json:"roundContributions"`
	TotalContributions map[int]int  `json:"totalContributions"`
	ActedSeats         []int        `json:"actedSeats"`
	RaiseCapped        bool         `json:"raiseCapped"`
	Actions            []Action     `json:"actions"`
	RakeAmount         int          `json:"rakeAmount"`
	StartedAt          time.Time    `json:"startedAt"`
	EndedAt            *time.Time   `json:"endedAt,omitempty"`
	Winners            []Winner     `json:"winners,omitempty"`
	TimedOut           bool         `json:"timedOut,omitempty"`
}

// TableState is the authoritative mutable snapshot for one table.
type TableState struct {
	TableID    string      `json:"tableId"`
	Button     int         `json:"button"`
	Version    int64       `json:"version"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	Seats      []Seat      `json:"seats"`
	Spectators []Spectator `json:"spectators,omitempty"`
	Hand       *HandState  `json:"hand,omitempty"`
}

// NewTableState returns an empty state with maxPlayers empty seats.
func NewTableState(tableID string, maxPlayers int) *TableState {
	seats := make([]Seat, maxPlayers)
	for i := range seats {
		seats[i] = Seat{SeatID: i, Status: SeatEmpty}
	}
	return &TableState{TableID: tableID, Button: -1, Seats: seats}
}

// Seat returns the seat with the given id, or nil if out of range.
func (s *TableState) Seat(seatID int) *Seat {
	if seatID < 0 || seatID >= len(s.Seats) {
		return nil
	}
	return &s.Seats[seatID]
}

// SeatOfUser finds the user's seat, breaking ties between duplicate claims on
// the same userId (reconnect edge cases) by preferring, in order: the seat
// holding the current turn, a seat with dealt hole cards, a seat still in the
// hand, and finally the first match.
func (s *TableState) SeatOfUser(userID string) *Seat {
	if userID == "" {
		return nil
	}
	var matches []*Seat
	for i := range s.Seats {
		if s.Seats[i].UserID == userID && s.Seats[i].Status != SeatEmpty {
			matches = append(matches, &s.Seats[i])
		}
	}
	switch len(matches) {
	case 0:
		return nil
	case 1:
		return matches[0]
	}
	if s.Hand != nil {
		for _, seat := range matches {
			if seat.SeatID == s.Hand.Turn {
				return seat
			}
		}
	}
	for _, seat := range matches {
		if len(seat.HoleCards) == 2 {
			return seat
		}
	}
	for _, seat := range matches {
		switch seat.Status {
		case SeatActive, SeatAllIn, SeatFolded:
			return seat
		}
	}
	return matches[0]
}

// Clone returns a deep copy of the state.
func (s *TableState) Clone() *TableState {
	out := *s
	out.Seats = make([]Seat, len(s.Seats))
	copy(out.Seats, s.Seats)
	for i := range out.Seats {
		out.Seats[i].HoleCards = cloneCards(s.Seats[i].HoleCards)
	}
	out.Spectators = make([]Spectator, len(s.Spectators))
	copy(out.Spectators, s.Spectators)
	if s.Hand != nil {
		hand := *s.Hand
		hand.CommunityCards = cloneCards(s.Hand.CommunityCards)
		hand.Deck = cloneCards(s.Hand.Deck)
		hand.Pots = make([]Pot, len(s.Hand.Pots))
		for i, pot := range s.Hand.Pots {
			hand.Pots[i] = Pot{
				Amount:        pot.Amount,
				EligibleSeats: append([]int(nil), pot.EligibleSeats...),
				Winners:       append([]int(nil), pot.Winners...),
			}
		}
		hand.RoundContributions = cloneIntMap(s.Hand.RoundContributions)
		hand.TotalContributions = cloneIntMap(s.Hand.TotalContributions)
		hand.ActedSeats = append([]int(nil), s.Hand.ActedSeats...)
		hand.Actions = append([]Action(nil), s.Hand.Actions...)
		hand.Winners = make([]Winner, len(s.Hand.Winners))
		for i, w := range s.Hand.Winners {
			hand.Winners[i] = w
			hand.Winners[i].HoleCards = cloneCards(w.HoleCards)
			if w.HandValue != nil {
				hv := *w.HandValue
				hv.Tiebreak = append([]int(nil), w.HandValue.Tiebreak...)
				hand.Winners[i].HandValue = &hv
			}
		}
		if s.Hand.EndedAt != nil {
			ended := *s.Hand.EndedAt
			hand.EndedAt = &ended
		}
		out.Hand = &hand
	}
	return &out
}

// Redacted returns a copy safe to cross the trust boundary: hole cards are
// visible only to their owning user, and buy-in bookkeeping plus the
// remaining deck are stripped entirely.
func (s *TableState) Redacted(forUserID string) *TableState {
	out := s.Clone()
	for i := range out.Seats {
		seat := &out.Seats[i]
		if forUserID == "" || seat.UserID != forUserID {
			seat.HoleCards = nil
		}
		seat.ReservationID = ""
		seat.PendingBuyInAmount = 0
		seat.BuyInIdempotencyKey = ""
	}
	if out.Hand != nil {
		out.Hand.Deck = nil
	}
	return out
}

func cloneCards(cards []poker.Card) []poker.Card {
	if cards == nil {
		return nil
	}
	return append([]poker.Card(nil), cards...)
}

func cloneIntMap(m map[int]int) map[int]int {
	if m == nil {
		return nil
	}
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
