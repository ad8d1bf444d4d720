package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

const (
	defaultTimeout = 10 * time.Second
	// Buy-in reservations gate a player taking a seat; give the ledger longer
	// before declaring it unavailable.
	reserveTimeout = 30 * time.Second
)

// HTTPClient implements Client against the ledger service's JSON API.
// Chip amounts cross the wire as decimal strings; the ledger keeps balances
// in arbitrary precision and refuses floats.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     *log.Logger
}

func NewHTTPClient(baseURL string, logger *log.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger,
	}
}

var _ Client = (*HTTPClient)(nil)

type reserveRequest struct {
	UserID string `json:"userId"`
	Amount string `json:"amount"`
}

type reserveResponse struct {
	ReservationID string `json:"reservationId"`
}

func (c *HTTPClient) ReserveForBuyIn(ctx context.Context, userID string, amount int, idempotencyKey string) (*Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, reserveTimeout)
	defer cancel()

	var resp reserveResponse
	err := c.post(ctx, "/v1/reservations", idempotencyKey, reserveRequest{
		UserID: userID,
		Amount: strconv.Itoa(amount),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &Reservation{ReservationID: resp.ReservationID, UserID: userID, Amount: amount}, nil
}

func (c *HTTPClient) CommitReservation(ctx context.Context, reservationID, idempotencyKey string) error {
	return c.post(ctx, "/v1/reservations/"+reservationID+"/commit", idempotencyKey, struct{}{}, nil)
}

func (c *HTTPClient) ReleaseReservation(ctx context.Context, reservationID, idempotencyKey string) error {
	return c.post(ctx, "/v1/reservations/"+reservationID+"/release", idempotencyKey, struct{}{}, nil)
}

type cashOutRequest struct {
	UserID  string `json:"userId"`
	TableID string `json:"tableId"`
	Amount  string `json:"amount"`
}

func (c *HTTPClient) ProcessCashOut(ctx context.Context, userID, tableID string, amount int, idempotencyKey string) error {
	return c.post(ctx, "/v1/cashouts", idempotencyKey, cashOutRequest{
		UserID:  userID,
		TableID: tableID,
		Amount:  strconv.Itoa(amount),
	}, nil)
}

type contributionRequest struct {
	UserID   string `json:"userId"`
	TableID  string `json:"tableId"`
	HandID   string `json:"handId"`
	ActionID string `json:"actionId"`
	Amount   string `json:"amount"`
}

func (c *HTTPClient) RecordContribution(ctx context.Context, userID, tableID, handID, actionID string, amount int, idempotencyKey string) error {
	return c.post(ctx, "/v1/contributions", idempotencyKey, contributionRequest{
		UserID:   userID,
		TableID:  tableID,
		HandID:   handID,
		ActionID: actionID,
		Amount:   strconv.Itoa(amount),
	}, nil)
}

type settlementRequest struct {
	TableID string            `json:"tableId"`
	HandID  string            `json:"handId"`
	Rake    string            `json:"rake"`
	Entries []settlementEntry `json:"entries"`
}

type settlementEntry struct {
	UserID string `json:"userId"`
	Amount string `json:"amount"`
}

func (c *HTTPClient) SettlePot(ctx context.Context, tableID, handID string, entries []SettlementEntry, rake int, idempotencyKey string) error {
	req := settlementRequest{
		TableID: tableID,
		HandID:  handID,
		Rake:    strconv.Itoa(rake),
		Entries: make([]settlementEntry, len(entries)),
	}
	for i, e := range entries {
		req.Entries[i] = settlementEntry{UserID: e.UserID, Amount: strconv.Itoa(e.Amount)}
	}
	return c.post(ctx, "/v1/settlements", idempotencyKey, req, nil)
}

type cancelPotRequest struct {
	TableID string `json:"tableId"`
	HandID  string `json:"handId"`
}

func (c *HTTPClient) CancelPot(ctx context.Context, tableID, handID, idempotencyKey string) error {
	return c.post(ctx, "/v1/settlements/cancel", idempotencyKey, cancelPotRequest{
		TableID: tableID,
		HandID:  handID,
	}, nil)
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// post sends one idempotent JSON request and classifies the outcome.
func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("ledger request failed", "path", path, "err", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error.Code == "" {
			return &APIError{Code: "REJECTED", Message: fmt.Sprintf("ledger returned %d", resp.StatusCode)}
		}
		return &apiErr.Error

	default:
		c.log.Warn("ledger returned server error", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
