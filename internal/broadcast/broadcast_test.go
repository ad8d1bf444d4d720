package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bricerising/homegame/internal/engine"
	"github.com/bricerising/homegame/poker"
)

func TestEnvelopeTarget(t *testing.T) {
	assert.Equal(t, "table:t1", Envelope{Channel: ChannelTable, TableID: "t1"}.Target())
	assert.Equal(t, "lobby", Envelope{Channel: ChannelLobby, TableID: "lobby"}.Target())
	assert.Equal(t, "user:alice", Envelope{Channel: ChannelUser, UserID: "alice"}.Target())
}

func TestMemoryBusFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()

	a, stopA, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stopA()
	b, stopB, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stopB()

	require.NoError(t, bus.Publish(ctx, Envelope{Channel: ChannelTable, TableID: "t1"}))

	for _, ch := range []<-chan Envelope{a, b} {
		select {
		case env := <-ch:
			assert.Equal(t, "t1", env.TableID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive envelope")
		}
	}

	stopA()
	stopA() // idempotent
	require.NoError(t, bus.Publish(ctx, Envelope{Channel: ChannelTable, TableID: "t2"}))
	select {
	case env := <-b:
		assert.Equal(t, "t2", env.TableID)
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber did not receive envelope")
	}
}

func snapshotEnvelope(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("no envelope received")
		return Envelope{}
	}
}

func TestBroadcasterTableSnapshotIsRedacted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()
	ch, stop, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	b := NewBroadcaster(bus, "game-1", log.New(io.Discard))

	st := engine.NewTableState("t1", 6)
	st.Seats[0].UserID = "alice"
	st.Seats[0].Status = engine.SeatActive
	st.Seats[0].HoleCards = poker.MustParseCards("Ah Ad")
	st.Seats[0].ReservationID = "res-1"
	b.TableSnapshot(ctx, st)

	env := snapshotEnvelope(t, ch)
	assert.Equal(t, ChannelTable, env.Channel)
	assert.Equal(t, "game-1", env.SourceID)

	var payload struct {
		Type       string             `json:"type"`
		TableState *engine.TableState `json:"tableState"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "TableSnapshot", payload.Type)
	assert.Nil(t, payload.TableState.Seats[0].HoleCards)
	assert.Empty(t, payload.TableState.Seats[0].ReservationID)

	assert.NotNil(t, st.Seats[0].HoleCards, "source state untouched")
}

func TestBroadcasterHoleCards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()
	ch, stop, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	b := NewBroadcaster(bus, "game-1", log.New(io.Discard))
	b.HoleCards(ctx, "t1", "h1", "alice", poker.MustParseCards("Ah Ad"))

	env := snapshotEnvelope(t, ch)
	assert.Equal(t, ChannelUser, env.Channel)
	assert.Equal(t, "user:alice", env.Target())

	var payload struct {
		Type   string       `json:"type"`
		HandID string       `json:"handId"`
		Cards  []poker.Card `json:"cards"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "HoleCards", payload.Type)
	assert.Equal(t, "h1", payload.HandID)
	assert.Equal(t, poker.MustParseCards("Ah Ad"), payload.Cards)
}

func TestBroadcasterLobbyTables(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()
	ch, stop, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	b := NewBroadcaster(bus, "game-1", log.New(io.Discard))
	b.LobbyTables(ctx, []TableSummary{{TableID: "t1", Name: "Friday", Players: 2, MaxPlayers: 6}})

	env := snapshotEnvelope(t, ch)
	assert.Equal(t, "lobby", env.Target())

	var payload struct {
		Type   string         `json:"type"`
		Tables []TableSummary `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "LobbyTablesUpdated", payload.Type)
	require.Len(t, payload.Tables, 1)
	assert.Equal(t, "t1", payload.Tables[0].TableID)
}
