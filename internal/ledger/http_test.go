package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, log.New(io.Discard))
}

func TestReserveForBuyIn(t *testing.T) {
	var gotKey string
	var gotBody map[string]string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reservations", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"reservationId": "res-1"})
	})

	res, err := c.ReserveForBuyIn(context.Background(), "alice", 100, "buyin:t1:alice:k1")

	require.NoError(t, err)
	assert.Equal(t, "res-1", res.ReservationID)
	assert.Equal(t, 100, res.Amount)
	assert.Equal(t, "buyin:t1:alice:k1", gotKey)
	assert.Equal(t, "100", gotBody["amount"], "amounts cross the wire as strings")
}

func TestSemanticErrorIsNotUnavailable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "INSUFFICIENT_BALANCE", "message": "balance is 40"},
		})
	})

	_, err := c.ReserveForBuyIn(context.Background(), "alice", 100, "k1")

	require.Error(t, err)
	assert.True(t, IsSemantic(err))
	assert.NotErrorIs(t, err, ErrUnavailable)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INSUFFICIENT_BALANCE", apiErr.Code)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.RecordContribution(context.Background(), "alice", "t1", "h1", "a1", 10, "contrib:h1:a1")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, IsSemantic(err))
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", log.New(io.Discard))

	err := c.CommitReservation(context.Background(), "res-1", "k1")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMalformedSemanticErrorStillSemantic(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("not json"))
	})

	err := c.CancelPot(context.Background(), "t1", "h1", "cancel:h1")

	require.Error(t, err)
	assert.True(t, IsSemantic(err), "4xx without a body is still a refusal")
}

func TestSettlePotPayload(t *testing.T) {
	var got settlementRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/settlements", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := c.SettlePot(context.Background(), "t1", "h1", []SettlementEntry{
		{UserID: "alice", Amount: 145},
		{UserID: "bob", Amount: 100},
	}, 5, "settle:t1:h1")

	require.NoError(t, err)
	assert.Equal(t, "5", got.Rake)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, settlementEntry{UserID: "alice", Amount: "145"}, got.Entries[0])
}
