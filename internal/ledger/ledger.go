// Package ledger talks to the external chip ledger service. Every call is
// idempotent under a caller-supplied key, and every failure is classified as
// either semantic (the ledger answered no: insufficient balance, unknown
// reservation) or unavailable (the answer is unknown: timeouts, 5xx, network
// errors). Callers make different decisions for the two: semantic errors roll
// the game action back, unavailability is absorbed and reconciled later.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable wraps any failure where the ledger's decision is unknown.
var ErrUnavailable = errors.New("ledger: unavailable")

// APIError is a semantic refusal from the ledger.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger: %s: %s", e.Code, e.Message)
}

// IsSemantic reports whether err is a definitive refusal rather than an
// availability failure.
func IsSemantic(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Reservation is an accepted buy-in hold awaiting commit or release.
type Reservation struct {
	ReservationID string
	UserID        string
	Amount        int
}

// SettlementEntry is one user's share of a settled pot.
type SettlementEntry struct {
	UserID string
	Amount int
}

// Client is the ledger operation surface used by the table orchestrator.
type Client interface {
	// ReserveForBuyIn places a hold on the user's balance for a seat buy-in.
	ReserveForBuyIn(ctx context.Context, userID string, amount int, idempotencyKey string) (*Reservation, error)
	// CommitReservation converts a hold into a debit once the seat is final.
	CommitReservation(ctx context.Context, reservationID, idempotencyKey string) error
	// ReleaseReservation returns held chips when seating fails.
	ReleaseReservation(ctx context.Context, reservationID, idempotencyKey string) error
	// ProcessCashOut credits a leaving player's remaining stack.
	ProcessCashOut(ctx context.Context, userID, tableID string, amount int, idempotencyKey string) error
	// RecordContribution records chips moving from a stack into the pot.
	RecordContribution(ctx context.Context, userID, tableID, handID, actionID string, amount int, idempotencyKey string) error
	// SettlePot records a finished hand's payouts and rake.
	SettlePot(ctx context.Context, tableID, handID string, entries []SettlementEntry, rake int, idempotencyKey string) error
	// CancelPot voids a hand's recorded contributions when the hand is aborted.
	CancelPot(ctx context.Context, tableID, handID, idempotencyKey string) error
}

// Nop is a ledger that approves everything. Used in tests and for tables
// running without a ledger service.
type Nop struct{}

var _ Client = Nop{}

func (Nop) ReserveForBuyIn(_ context.Context, userID string, amount int, idempotencyKey string) (*Reservation, error) {
	return &Reservation{ReservationID: "nop-" + idempotencyKey, UserID: userID, Amount: amount}, nil
}

func (Nop) CommitReservation(context.Context, string, string) error  { return nil }
func (Nop) ReleaseReservation(context.Context, string, string) error { return nil }

func (Nop) ProcessCashOut(context.Context, string, string, int, string) error { return nil }

func (Nop) RecordContribution(context.Context, string, string, string, string, int, string) error {
	return nil
}

func (Nop) SettlePot(context.Context, string, string, []SettlementEntry, int, string) error {
	return nil
}

func (Nop) CancelPot(context.Context, string, string, string) error { return nil }
