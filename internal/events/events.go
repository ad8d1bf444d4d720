// Package events emits domain events to the external event store. Emission is
// fire-and-forget: events are queued and delivered by background workers, and
// delivery failures are logged, never surfaced to gameplay. Deterministic
// idempotency keys let the event store dedupe retries.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Domain event types.
const (
	TypeTableCreated       = "TABLE_CREATED"
	TypeTableDeleted       = "TABLE_DELETED"
	TypePlayerJoined       = "PLAYER_JOINED"
	TypePlayerLeft         = "PLAYER_LEFT"
	TypeSpectatorJoined    = "SPECTATOR_JOINED"
	TypeSpectatorLeft      = "SPECTATOR_LEFT"
	TypeHandStarted        = "HAND_STARTED"
	TypeHandEnded          = "HAND_ENDED"
	TypeHandCompleted      = "HAND_COMPLETED"
	TypePreflopDealt       = "PREFLOP_DEALT"
	TypeFlopDealt          = "FLOP_DEALT"
	TypeTurnDealt          = "TURN_DEALT"
	TypeRiverDealt         = "RIVER_DEALT"
	TypeActionTaken        = "ACTION_TAKEN"
	TypeTurnStarted        = "TURN_STARTED"
	TypeCardsShown         = "CARDS_SHOWN"
	TypePotAwarded         = "POT_AWARDED"
	TypePlayerKicked       = "PLAYER_KICKED"
	TypePlayerMuted        = "PLAYER_MUTED"
	TypePlayerUnmuted      = "PLAYER_UNMUTED"
	TypeBalanceUnavailable = "BALANCE_UNAVAILABLE"
	TypeCashOutFailed      = "CASHOUT_FAILED"
	TypeSettlementFailed   = "SETTLEMENT_FAILED"
	TypeSessionStarted     = "SESSION_STARTED"
	TypeSessionEnded       = "SESSION_ENDED"
)

// Event is the envelope appended to the event store.
type Event struct {
	Type           string         `json:"type"`
	TableID        string         `json:"tableId"`
	HandID         string         `json:"handId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	SeatID         *int           `json:"seatId,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

// Key builds the deterministic idempotency key for an event about id.
func Key(eventType, id string) string {
	return fmt.Sprintf("event:%s:%s", eventType, id)
}

// Seat boxes a seat id for the optional envelope field.
func Seat(seatID int) *int { return &seatID }

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(event Event)
}

// Sink delivers a single event synchronously.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// Processor fans queued events out to a fixed pool of delivery workers.
type Processor struct {
	sink  Sink
	log   *log.Logger
	queue chan Event

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ Publisher = (*Processor)(nil)

func NewProcessor(sink Sink, logger *log.Logger, workers, queueSize int) *Processor {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Processor{
		sink:  sink,
		log:   logger,
		queue: make(chan Event, queueSize),
		stop:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Publish queues the event. A full queue drops the event rather than
// backpressuring gameplay.
func (p *Processor) Publish(event Event) {
	select {
	case <-p.stop:
		p.log.Warn("events.publish.failed", "reason", "processor stopped", "type", event.Type)
	case p.queue <- event:
	default:
		p.log.Error("events.publish.failed", "reason", "queue full", "type", event.Type, "tableId", event.TableID)
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case event := <-p.queue:
					p.emit(event)
				default:
					return
				}
			}
		case event := <-p.queue:
			p.emit(event)
		}
	}
}

func (p *Processor) emit(event Event) {
	if err := p.sink.Emit(context.Background(), event); err != nil {
		p.log.Error("events.emit.failed", "type", event.Type, "tableId", event.TableID,
			"idempotencyKey", event.IdempotencyKey, "err", err)
	}
}

// Close stops accepting events, drains the queue and waits for the workers.
func (p *Processor) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Recorder collects published events for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a snapshot of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, event := range r.Events() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
