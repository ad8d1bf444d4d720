package engine

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ActionType enumerates the tagged action union. POST_BLIND entries are
// engine-generated and never accepted from callers.
type ActionType string

const (
	ActionPostBlind ActionType = "POST_BLIND"
	ActionFold      ActionType = "FOLD"
	ActionCheck     ActionType = "CHECK"
	ActionCall      ActionType = "CALL"
	ActionBet       ActionType = "BET"
	ActionRaise     ActionType = "RAISE"
	ActionAllIn     ActionType = "ALL_IN"
)

// ParseActionType normalizes a wire action string. String matching happens
// only here at the boundary.
func ParseActionType(s string) (ActionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FOLD":
		return ActionFold, nil
	case "CHECK":
		return ActionCheck, nil
	case "CALL":
		return ActionCall, nil
	case "BET":
		return ActionBet, nil
	case "RAISE":
		return ActionRaise, nil
	case "ALL_IN", "ALLIN", "ALL-IN":
		return ActionAllIn, nil
	default:
		return "", E(CodeInvalidAction, "unknown action %q", s)
	}
}

// ActionInput is a parsed player intent.
type ActionInput struct {
	Type      ActionType
	Amount    int
	HasAmount bool
}

// LegalAction is one enumerated legal move with its amount bounds. Bounds are
// raise-to totals for BET/RAISE/ALL_IN and the chips owed for CALL.
type LegalAction struct {
	Type      ActionType `json:"type"`
	MinAmount int        `json:"minAmount,omitempty"`
	MaxAmount int        `json:"maxAmount,omitempty"`
}

// DeriveLegalActions enumerates the legal action set for the seat given the
// current betting state. FOLD is always legal.
func DeriveLegalActions(hand *HandState, seat *Seat) []LegalAction {
	actions := []LegalAction{{Type: ActionFold}}
	if hand == nil || seat == nil {
		return actions
	}

	rc := hand.RoundContributions[seat.SeatID]
	toCall := hand.CurrentBet - rc
	if toCall < 0 {
		toCall = 0
	}
	maxTotal := seat.Stack + rc
	mayRaise := !hand.RaiseCapped || !actedSet(hand).Contains(seat.SeatID)

	if toCall == 0 {
		actions = append(actions, LegalAction{Type: ActionCheck})
		if hand.CurrentBet == 0 && seat.Stack >= hand.MinRaise {
			actions = append(actions, LegalAction{
				Type:      ActionBet,
				MinAmount: hand.MinRaise,
				MaxAmount: seat.Stack,
			})
		}
		if hand.CurrentBet > 0 && mayRaise && maxTotal > hand.CurrentBet {
			actions = append(actions, raiseBounds(hand, maxTotal))
		}
	} else {
		call := toCall
		if call > seat.Stack {
			call = seat.Stack
		}
		actions = append(actions, LegalAction{Type: ActionCall, MaxAmount: call})
		if mayRaise && maxTotal > hand.CurrentBet {
			actions = append(actions, raiseBounds(hand, maxTotal))
		}
	}

	if seat.Stack > 0 {
		actions = append(actions, LegalAction{
			Type:      ActionAllIn,
			MinAmount: maxTotal,
			MaxAmount: maxTotal,
		})
	}
	return actions
}

func raiseBounds(hand *HandState, maxTotal int) LegalAction {
	minAmount := hand.CurrentBet + hand.MinRaise
	if minAmount > maxTotal {
		minAmount = maxTotal
	}
	return LegalAction{Type: ActionRaise, MinAmount: minAmount, MaxAmount: maxTotal}
}

func actedSet(hand *HandState) mapset.Set[int] {
	return mapset.NewThreadUnsafeSet(hand.ActedSeats...)
}

func markActed(hand *HandState, seatID int) {
	for _, id := range hand.ActedSeats {
		if id == seatID {
			return
		}
	}
	hand.ActedSeats = append(hand.ActedSeats, seatID)
}
