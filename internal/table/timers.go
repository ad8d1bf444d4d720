package table

import (
	"context"
	"fmt"
	"time"

	"github.com/bricerising/homegame/internal/engine"
	"github.com/bricerising/homegame/internal/events"
)

// startTurnTimer arms the turn clock for the acting seat, replacing any
// previous timer for the table. Must run within the table task.
func (o *Orchestrator) startTurnTimer(table *engine.Table, st *engine.TableState) {
	hand := st.Hand
	if hand == nil || hand.EndedAt != nil || hand.Turn < 0 {
		return
	}
	tableID := table.TableID
	handID := hand.HandID
	seatID := hand.Turn
	duration := time.Duration(table.Config.TurnTimerSeconds) * time.Second

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	t := o.timers[tableID]
	if t == nil {
		t = &tableTimers{}
		o.timers[tableID] = t
	}
	if t.turn != nil {
		t.turn.Stop()
	}
	t.handID = handID
	t.turnSeat = seatID
	t.turnStartedAt = o.clock.Now()
	t.turn = o.clock.AfterFunc(duration, func() {
		o.onTurnTimeout(tableID, handID, seatID)
	})

	o.events.Publish(events.Event{
		Type:           events.TypeTurnStarted,
		TableID:        tableID,
		HandID:         handID,
		SeatID:         events.Seat(seatID),
		Payload:        map[string]any{"timerSeconds": table.Config.TurnTimerSeconds},
		IdempotencyKey: events.Key(events.TypeTurnStarted, fmt.Sprintf("%s:%d:%d", handID, seatID, len(hand.Actions))),
	})
}

// ensureTurnTimer re-arms the turn clock for handID if no timer covers it.
// Safe to call from read paths; the arm itself happens under the table task.
func (o *Orchestrator) ensureTurnTimer(ctx context.Context, tableID, handID string) {
	if meta := o.turnMeta(tableID); meta != nil && meta.turn != nil && meta.handID == handID {
		return
	}
	err := o.serialized(ctx, tableID, func(ctx context.Context) error {
		table, err := o.loadTable(ctx, tableID)
		if err != nil {
			return err
		}
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			return err
		}
		if st.Hand == nil || st.Hand.EndedAt != nil || st.Hand.HandID != handID {
			return nil
		}
		if meta := o.turnMeta(tableID); meta != nil && meta.turn != nil && meta.handID == handID {
			return nil
		}
		o.startTurnTimer(table, st)
		return nil
	})
	if err != nil {
		o.log.Warn("table.timerRepair.failed", "tableId", tableID, "err", err)
	}
}

// turnMeta reads the timer slot without arming or stopping anything.
func (o *Orchestrator) turnMeta(tableID string) *tableTimers {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.timers[tableID]
	if t == nil {
		return nil
	}
	snapshot := *t
	return &snapshot
}

// clearTurnTimer stops the turn clock but leaves a pending next-hand timer.
func (o *Orchestrator) clearTurnTimer(tableID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.timers[tableID]
	if t == nil {
		return
	}
	if t.turn != nil {
		t.turn.Stop()
		t.turn = nil
	}
	t.handID = ""
	t.turnSeat = -1
}

// clearTimers drops every timer for the table.
func (o *Orchestrator) clearTimers(tableID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.timers[tableID]
	if t == nil {
		return
	}
	if t.turn != nil {
		t.turn.Stop()
	}
	if t.next != nil {
		t.next.Stop()
	}
	delete(o.timers, tableID)
}

// scheduleNextHand arms the inter-hand delay. The deal itself runs as a
// serialized task so the scheduled callback never races a join or leave.
func (o *Orchestrator) scheduleNextHand(tableID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	t := o.timers[tableID]
	if t == nil {
		t = &tableTimers{}
		o.timers[tableID] = t
	}
	if t.next != nil {
		t.next.Stop()
	}
	t.next = o.clock.AfterFunc(nextHandDelay, func() {
		err := o.serialized(context.Background(), tableID, func(ctx context.Context) error {
			table, err := o.loadTable(ctx, tableID)
			if err != nil {
				return err
			}
			st, err := o.loadState(ctx, tableID)
			if err != nil {
				return err
			}
			o.checkStartHand(ctx, table, st)
			return nil
		})
		if err != nil {
			o.log.Warn("table.nextHand.failed", "tableId", tableID, "err", err)
		}
	})
}

// onTurnTimeout fires when the acting seat's clock expires. The hand may have
// moved on between the timer firing and the task running, so the expected
// hand and seat are re-checked under serialization.
func (o *Orchestrator) onTurnTimeout(tableID, handID string, seatID int) {
	err := o.serialized(context.Background(), tableID, func(ctx context.Context) error {
		table, err := o.loadTable(ctx, tableID)
		if err != nil {
			return err
		}
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			return err
		}
		hand := st.Hand
		if hand == nil || hand.EndedAt != nil || hand.HandID != handID {
			return nil
		}
		if hand.Turn != seatID {
			// The action the timer was guarding already happened.
			o.startTurnTimer(table, st)
			return nil
		}
		if engine.RepairTurn(st) {
			// The turn seat can no longer act; hand it to the next seat that
			// can instead of folding a ghost.
			if err := o.persistState(ctx, st); err != nil {
				return err
			}
			o.startTurnTimer(table, st)
			return nil
		}

		o.metrics.TurnTimeouts.Inc()
		input := engine.ActionInput{Type: engine.ActionFold}
		if checkIsLegal(hand, st.Seat(seatID)) {
			input.Type = engine.ActionCheck
		}
		if _, err := o.applyAction(ctx, table, st, seatID, input, true, true); err != nil {
			o.log.Error("table.turnTimeout.apply.failed", "tableId", tableID, "seatId", seatID, "err", err)
			o.startTurnTimer(table, st)
		}
		return nil
	})
	if err != nil {
		o.log.Warn("table.turnTimeout.failed", "tableId", tableID, "err", err)
	}
}

func checkIsLegal(hand *engine.HandState, seat *engine.Seat) bool {
	for _, a := range engine.DeriveLegalActions(hand, seat) {
		if a.Type == engine.ActionCheck {
			return true
		}
	}
	return false
}
