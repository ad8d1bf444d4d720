package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bricerising/homegame/internal/auth"
	"github.com/bricerising/homegame/internal/broadcast"
	"github.com/bricerising/homegame/internal/engine"
	"github.com/bricerising/homegame/internal/events"
	"github.com/bricerising/homegame/internal/store"
	"github.com/bricerising/homegame/internal/table"
)

type fixture struct {
	gateway  *Gateway
	server   *httptest.Server
	store    *store.Memory
	bus      *broadcast.MemoryBus
	events   *events.Recorder
	orch     *table.Orchestrator
	shutdown context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New(io.Discard)
	mem := store.NewMemory(nil)
	bus := broadcast.NewMemoryBus()
	recorder := &events.Recorder{}
	orch := table.NewOrchestrator(table.Deps{
		Store:     mem,
		Events:    recorder,
		Broadcast: broadcast.NewBroadcaster(bus, "test", logger),
		Log:       logger,
	})
	t.Cleanup(orch.Close)

	g := New(Deps{
		Orchestrator: orch,
		Sessions:     mem,
		Bus:          bus,
		Validator: auth.StaticValidator{
			"alice-token": {UserID: "alice", DisplayName: "Alice"},
			"bob-token":   {UserID: "bob", DisplayName: "Bob"},
		},
		Events:      recorder,
		Log:         logger,
		AuthTimeout: 200 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = g.Run(ctx) }()
	t.Cleanup(cancel)

	server := httptest.NewServer(g.Handler())
	t.Cleanup(server.Close)
	return &fixture{gateway: g, server: server, store: mem, bus: bus, events: recorder, orch: orch, shutdown: cancel}
}

func (f *fixture) wsURL(query string) string {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrame reads frames until one of the wanted types arrives.
func readFrame(t *testing.T, conn *websocket.Conn, wantTypes ...string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %v", wantTypes)
		frameType, _ := frame["type"].(string)
		for _, want := range wantTypes {
			if frameType == want {
				return frame
			}
		}
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func (f *fixture) createTable(t *testing.T) string {
	t.Helper()
	created, err := f.orch.CreateTable(context.Background(), "alice", "ws table", engine.TableConfig{
		SmallBlind: 1, BigBlind: 2, MaxPlayers: 6, StartingStack: 100, TurnTimerSeconds: 30,
	})
	require.NoError(t, err)
	return created.TableID
}

func TestAuthViaQueryToken(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "token=alice-token")

	welcome := readFrame(t, conn, msgWelcome)
	assert.Equal(t, "alice", welcome["userId"])
	assert.NotEmpty(t, welcome["connectionId"])

	require.Len(t, f.events.OfType(events.TypeSessionStarted), 1)
}

func TestAuthViaMessage(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")
	sendFrame(t, conn, map[string]any{"type": "Authenticate", "token": "bob-token"})

	welcome := readFrame(t, conn, msgWelcome)
	assert.Equal(t, "bob", welcome["userId"])
}

func TestAuthDeadlineCloses(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "Authentication required", closeErr.Text)
}

func TestInvalidTokenRejected(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")
	sendFrame(t, conn, map[string]any{"type": "Authenticate", "token": "garbage"})

	errFrame := readFrame(t, conn, msgError)
	assert.Equal(t, "INVALID_TOKEN", errFrame["code"])
}

func TestUnauthenticatedCommandsRefused(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")
	sendFrame(t, conn, map[string]any{"type": "SubscribeTable", "tableId": "x"})

	errFrame := readFrame(t, conn, msgError)
	assert.Equal(t, "NOT_AUTHENTICATED", errFrame["code"])
}

func TestSubscribeTableDeliversSnapshotsAndChat(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)

	conn := f.dial(t, "token=alice-token")
	readFrame(t, conn, msgWelcome)

	sendFrame(t, conn, map[string]any{"type": "SubscribeTable", "tableId": tableID})
	snapshot := readFrame(t, conn, "TableSnapshot")
	state := snapshot["tableState"].(map[string]any)
	assert.Equal(t, tableID, state["tableId"])

	// A state change published on the bus reaches the subscriber.
	_, err := f.orch.JoinSeat(context.Background(), tableID, "bob", 1, 100)
	require.NoError(t, err)
	snapshot = readFrame(t, conn, "TableSnapshot")
	state = snapshot["tableState"].(map[string]any)
	seats := state["seats"].([]any)
	assert.Equal(t, "bob", seats[1].(map[string]any)["userId"])

	// Chat relays on the table channel.
	require.NoError(t, f.orch.Chat(context.Background(), tableID, "bob", "hello"))
	chat := readFrame(t, conn, "ChatMessage")
	assert.Equal(t, "hello", chat["text"])
}

func TestSubscribeUnknownTable(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "token=alice-token")
	readFrame(t, conn, msgWelcome)

	sendFrame(t, conn, map[string]any{"type": "SubscribeTable", "tableId": "missing"})
	errFrame := readFrame(t, conn, msgError)
	assert.Equal(t, "TABLE_NOT_FOUND", errFrame["code"])
}

func TestHoleCardsArriveOnUserChannel(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)

	alice := f.dial(t, "token=alice-token")
	readFrame(t, alice, msgWelcome)

	_, err := f.orch.JoinSeat(context.Background(), tableID, "alice", 0, 100)
	require.NoError(t, err)
	_, err = f.orch.JoinSeat(context.Background(), tableID, "bob", 1, 100)
	require.NoError(t, err)

	frame := readFrame(t, alice, "HoleCards")
	assert.Equal(t, tableID, frame["tableId"])
	cards := frame["cards"].([]any)
	assert.Len(t, cards, 2)
}

func TestActionOverWS(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)

	conn := f.dial(t, "token=alice-token")
	readFrame(t, conn, msgWelcome)

	_, err := f.orch.JoinSeat(context.Background(), tableID, "alice", 0, 100)
	require.NoError(t, err)
	_, err = f.orch.JoinSeat(context.Background(), tableID, "bob", 1, 100)
	require.NoError(t, err)

	// Heads-up: alice is the button and acts first.
	sendFrame(t, conn, map[string]any{"type": "Action", "tableId": tableID, "action": "fold"})
	result := readFrame(t, conn, msgActionResult)
	assert.Equal(t, true, result["accepted"])

	// Acting again with no hand running is refused with the reason code.
	sendFrame(t, conn, map[string]any{"type": "Action", "tableId": tableID, "action": "fold"})
	result = readFrame(t, conn, msgActionResult)
	assert.Equal(t, false, result["accepted"])
	assert.Equal(t, "NO_HAND_IN_PROGRESS", result["reason"])
}

func TestLobbyUpdatesOnTableCreate(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "token=alice-token")
	readFrame(t, conn, msgWelcome)

	f.createTable(t)
	frame := readFrame(t, conn, "LobbyTablesUpdated")
	tables := frame["tables"].([]any)
	require.Len(t, tables, 1)
	assert.Equal(t, "ws table", tables[0].(map[string]any)["name"])
}

func TestDisconnectTearsDownSession(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)

	conn := f.dial(t, "token=alice-token")
	welcome := readFrame(t, conn, msgWelcome)
	connID := welcome["connectionId"].(string)

	sendFrame(t, conn, map[string]any{"type": "SubscribeTable", "tableId": tableID})
	readFrame(t, conn, "TableSnapshot")

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		_, err := f.store.UserOfConnection(context.Background(), connID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "connection deregistered")

	require.Eventually(t, func() bool {
		return len(f.events.OfType(events.TypeSessionEnded)) == 1
	}, 2*time.Second, 10*time.Millisecond, "session end event emitted")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := newFixture(t)
	tableID := f.createTable(t)

	conn := f.dial(t, "token=alice-token")
	readFrame(t, conn, msgWelcome)
	sendFrame(t, conn, map[string]any{"type": "SubscribeTable", "tableId": tableID})
	readFrame(t, conn, "TableSnapshot")

	sendFrame(t, conn, map[string]any{"type": "UnsubscribeTable", "tableId": tableID})

	// Give the unsubscribe a moment to land, then trigger a publish.
	require.Eventually(t, func() bool {
		f.gateway.mu.RLock()
		defer f.gateway.mu.RUnlock()
		return len(f.gateway.subs["table:"+tableID]) == 0
	}, time.Second, 10*time.Millisecond)

	_, err := f.orch.JoinSeat(context.Background(), tableID, "bob", 1, 100)
	require.NoError(t, err)

	// Only lobby updates may arrive now; no table snapshot for this table.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		if frame["type"] == "TableSnapshot" {
			raw, _ := json.Marshal(frame)
			t.Fatalf("snapshot delivered after unsubscribe: %s", raw)
		}
	}
}
