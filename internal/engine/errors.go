package engine

import (
	"errors"
	"fmt"
)

// Code identifies a domain, transient or consistency failure. Codes cross the
// RPC boundary verbatim and map onto transport statuses there.
type Code string

const (
	CodeTableNotFound         Code = "TABLE_NOT_FOUND"
	CodeSeatNotAvailable      Code = "SEAT_NOT_AVAILABLE"
	CodeAlreadySeated         Code = "ALREADY_SEATED"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeNoHand                Code = "NO_HAND"
	CodeNoHandInProgress      Code = "NO_HAND_IN_PROGRESS"
	CodeNotYourTurn           Code = "NOT_YOUR_TURN"
	CodeSeatMissing           Code = "SEAT_MISSING"
	CodePlayerNotAtTable      Code = "PLAYER_NOT_AT_TABLE"
	CodeInvalidAction         Code = "INVALID_ACTION"
	CodeIllegalAction         Code = "ILLEGAL_ACTION"
	CodeMissingAmount         Code = "MISSING_AMOUNT"
	CodeAmountTooSmall        Code = "AMOUNT_TOO_SMALL"
	CodeAmountTooLarge        Code = "AMOUNT_TOO_LARGE"
	CodeHandComplete          Code = "HAND_COMPLETE"
	CodeSeatInactive          Code = "SEAT_INACTIVE"
	CodeNotAuthorized         Code = "NOT_AUTHORIZED"
	CodeMissingIdempotencyKey Code = "MISSING_IDEMPOTENCY_KEY"
	CodeIdempotencyInProgress Code = "IDEMPOTENCY_IN_PROGRESS"
	CodeTableLost             Code = "TABLE_LOST"
	CodeSeatLost              Code = "SEAT_LOST"
	CodeInternal              Code = "INTERNAL"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds a coded error.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code from err, defaulting to INTERNAL for anything
// that is not a coded engine error.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
