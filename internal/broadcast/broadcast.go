// Package broadcast carries realtime payloads from the game service to
// gateway processes over a single pub/sub channel. Envelopes are addressed to
// a logical channel (a table, the lobby, or one user); each gateway instance
// receives every envelope and fans it out to its own subscribed sockets.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/bricerising/homegame/internal/engine"
	"github.com/bricerising/homegame/poker"
)

// PubSubChannel is the single bus channel all gateway traffic flows over.
const PubSubChannel = "gateway:ws:events"

// Logical channel kinds inside an envelope.
const (
	ChannelTable = "table"
	ChannelLobby = "lobby"
	ChannelUser  = "user"
)

// Envelope is one addressed broadcast message.
type Envelope struct {
	Channel  string          `json:"channel"`
	TableID  string          `json:"tableId"`
	UserID   string          `json:"userId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	SourceID string          `json:"sourceId"`
}

// Target is the subscription key a gateway matches sockets against.
func (e Envelope) Target() string {
	switch e.Channel {
	case ChannelLobby:
		return "lobby"
	case ChannelUser:
		return "user:" + e.UserID
	default:
		return "table:" + e.TableID
	}
}

// Bus publishes envelopes and hands inbound ones to subscribers.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe delivers envelopes until ctx is done. The returned stop
	// function is idempotent.
	Subscribe(ctx context.Context) (<-chan Envelope, func(), error)
}

// TableSummary is one lobby listing row.
type TableSummary struct {
	TableID    string             `json:"tableId"`
	Name       string             `json:"name"`
	Status     engine.TableStatus `json:"status"`
	Players    int                `json:"players"`
	MaxPlayers int                `json:"maxPlayers"`
	SmallBlind int                `json:"smallBlind"`
	BigBlind   int                `json:"bigBlind"`
}

// Broadcaster builds well-formed payloads and publishes them fire-and-forget.
type Broadcaster struct {
	bus      Bus
	sourceID string
	log      *log.Logger
}

func NewBroadcaster(bus Bus, sourceID string, logger *log.Logger) *Broadcaster {
	return &Broadcaster{bus: bus, sourceID: sourceID, log: logger}
}

// TableSnapshot publishes the redacted state of one table. The snapshot never
// carries hole cards; those travel per-user via HoleCards.
func (b *Broadcaster) TableSnapshot(ctx context.Context, state *engine.TableState) {
	b.publish(ctx, "snapshot", Envelope{
		Channel: ChannelTable,
		TableID: state.TableID,
		Payload: mustPayload(map[string]any{
			"type":       "TableSnapshot",
			"tableState": state.Redacted(""),
		}),
	})
}

// HoleCards delivers a player's own cards on their private channel.
func (b *Broadcaster) HoleCards(ctx context.Context, tableID, handID, userID string, cards []poker.Card) {
	b.publish(ctx, "holecards", Envelope{
		Channel: ChannelUser,
		TableID: tableID,
		UserID:  userID,
		Payload: mustPayload(map[string]any{
			"type":    "HoleCards",
			"tableId": tableID,
			"handId":  handID,
			"cards":   cards,
		}),
	})
}

// LobbyTables publishes the lobby listing to every lobby subscriber.
func (b *Broadcaster) LobbyTables(ctx context.Context, tables []TableSummary) {
	b.publish(ctx, "lobby", Envelope{
		Channel: ChannelLobby,
		TableID: "lobby",
		Payload: mustPayload(map[string]any{
			"type":   "LobbyTablesUpdated",
			"tables": tables,
		}),
	})
}

// Chat relays a table chat line.
func (b *Broadcaster) Chat(ctx context.Context, tableID, userID, text string) {
	b.publish(ctx, "chat", Envelope{
		Channel: ChannelTable,
		TableID: tableID,
		Payload: mustPayload(map[string]any{
			"type":    "ChatMessage",
			"tableId": tableID,
			"userId":  userID,
			"text":    text,
		}),
	})
}

func (b *Broadcaster) publish(ctx context.Context, op string, env Envelope) {
	env.SourceID = b.sourceID
	if err := b.bus.Publish(ctx, env); err != nil {
		b.log.Error(fmt.Sprintf("broadcast.%s.failed", op), "tableId", env.TableID, "err", err)
	}
}

func mustPayload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// Payloads are built from our own types; a marshal failure is a bug.
		panic(fmt.Sprintf("broadcast: marshal payload: %v", err))
	}
	return raw
}
