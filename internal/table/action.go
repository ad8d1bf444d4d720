package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/bricerising/homegame/internal/engine"
	"github.com/bricerising/homegame/internal/events"
	"github.com/bricerising/homegame/internal/ledger"
)

// SubmitAction applies a player's action to the in-progress hand and runs the
// full side-effect chain: persist, publish, ledger contribution, events,
// timers.
func (o *Orchestrator) SubmitAction(ctx context.Context, tableID, userID string, input engine.ActionInput) (*engine.ActionResult, error) {
	var result *engine.ActionResult
	err := o.serialized(ctx, tableID, func(ctx context.Context) error {
		table, err := o.loadTable(ctx, tableID)
		if err != nil {
			return err
		}
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			return err
		}
		if st.Hand == nil || st.Hand.EndedAt != nil {
			return engine.E(engine.CodeNoHandInProgress, "no hand in progress on table %s", tableID)
		}
		seat := st.SeatOfUser(userID)
		if seat == nil {
			return engine.E(engine.CodePlayerNotAtTable, "user %s holds no seat", userID)
		}

		// allowInactive so a DISCONNECTED seat can still fold or check for
		// itself; anything else is rejected inside the engine.
		applied, err := o.applyAction(ctx, table, st, seat.SeatID, input, false, true)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	return result, err
}

// applyAction is the shared tail of SubmitAction and the timeout scheduler.
// Must run within the table task.
func (o *Orchestrator) applyAction(ctx context.Context, table *engine.Table, st *engine.TableState, seatID int, input engine.ActionInput, timeout, allowInactive bool) (*engine.ActionResult, error) {
	hand := st.Hand
	if timeout {
		hand.TimedOut = true
	}
	if meta := o.turnMeta(table.TableID); meta != nil && meta.handID == hand.HandID && meta.turnSeat == seatID {
		o.metrics.TurnDuration.Observe(o.clock.Now().Sub(meta.turnStartedAt).Seconds())
	}

	result, err := engine.ApplyAction(st, seatID, input, allowInactive, o.clock.Now())
	if err != nil {
		return nil, err
	}
	o.metrics.Actions.WithLabelValues(string(result.Action.Type)).Inc()

	if err := o.persistState(ctx, st); err != nil {
		return nil, err
	}

	if result.ContributionDelta > 0 {
		o.recordContribution(table.TableID, hand.HandID, result.Action, result.ContributionDelta)
	}

	o.events.Publish(events.Event{
		Type:           events.TypeActionTaken,
		TableID:        table.TableID,
		HandID:         hand.HandID,
		UserID:         result.Action.UserID,
		SeatID:         events.Seat(seatID),
		Payload:        map[string]any{"action": result.Action.Type, "amount": result.Action.Amount, "timeout": timeout},
		IdempotencyKey: events.Key(events.TypeActionTaken, result.Action.ActionID),
	})
	if result.StreetAdvanced {
		o.emitStreetDealt(table.TableID, st)
	}

	if result.HandComplete {
		o.handEnded(ctx, table, st, o.outcomeLabel(st, result))
	} else {
		o.startTurnTimer(table, st)
	}
	return result, nil
}

// outcomeLabel resolves the hand-ended label: a timeout anywhere in the hand
// overrides fold-win and showdown.
func (o *Orchestrator) outcomeLabel(st *engine.TableState, result *engine.ActionResult) string {
	if st.Hand != nil && st.Hand.TimedOut {
		return engine.OutcomeTimeout
	}
	return result.Outcome
}

// recordContribution fires the ledger call for chips that moved into the pot.
func (o *Orchestrator) recordContribution(tableID, handID string, action engine.Action, delta int) {
	label := string(action.Type)
	if action.Type == engine.ActionPostBlind {
		label = "BLIND"
	}
	key := fmt.Sprintf("contrib:%s:%s:%s", tableID, handID, action.ActionID)
	userID := action.UserID
	o.fireAndForget("ledger.recordContribution", func(ctx context.Context) error {
		err := o.ledger.RecordContribution(ctx, userID, tableID, handID, action.ActionID, delta, key)
		if errors.Is(err, ledger.ErrUnavailable) {
			o.events.Publish(events.Event{
				Type:           events.TypeBalanceUnavailable,
				TableID:        tableID,
				HandID:         handID,
				UserID:         userID,
				Payload:        map[string]any{"action": "RECORD_CONTRIBUTION", "type": label, "amount": delta},
				IdempotencyKey: events.Key(events.TypeBalanceUnavailable, key),
			})
		}
		return err
	})
}

func (o *Orchestrator) emitStreetDealt(tableID string, st *engine.TableState) {
	hand := st.Hand
	var eventType string
	switch hand.Street {
	case engine.StreetFlop:
		eventType = events.TypeFlopDealt
	case engine.StreetTurn:
		eventType = events.TypeTurnDealt
	case engine.StreetRiver:
		eventType = events.TypeRiverDealt
	default:
		return
	}
	o.events.Publish(events.Event{
		Type:           eventType,
		TableID:        tableID,
		HandID:         hand.HandID,
		Payload:        map[string]any{"communityCards": hand.CommunityCards},
		IdempotencyKey: events.Key(eventType, hand.HandID),
	})
}

// checkStartHand deals a new hand if the table is idle and two players can
// play. Must run within the table task.
func (o *Orchestrator) checkStartHand(ctx context.Context, table *engine.Table, st *engine.TableState) {
	if table.Status == engine.TablePlaying || st.Hand != nil {
		return
	}
	eligible := 0
	for i := range st.Seats {
		if st.Seats[i].Status == engine.SeatSeated && st.Seats[i].Stack > 0 {
			eligible++
		}
	}
	if eligible < 2 {
		return
	}

	if err := engine.StartHand(st, table.Config, o.clock.Now(), nil); err != nil {
		o.log.Error("hand.start.failed", "tableId", table.TableID, "err", err)
		return
	}
	hand := st.Hand
	table.Status = engine.TablePlaying
	if err := o.store.SaveTable(ctx, table); err != nil {
		o.log.Error("hand.start.saveTable.failed", "tableId", table.TableID, "err", err)
	}
	if err := o.persistState(ctx, st); err != nil {
		o.log.Error("hand.start.persist.failed", "tableId", table.TableID, "err", err)
		return
	}
	o.metrics.HandsStarted.Inc()

	o.dealHoleCards(ctx, table.TableID, st)
	o.recordHandStartContributions(table.TableID, st)

	o.events.Publish(events.Event{
		Type:           events.TypeHandStarted,
		TableID:        table.TableID,
		HandID:         hand.HandID,
		Payload:        map[string]any{"button": st.Button, "street": hand.Street},
		IdempotencyKey: events.Key(events.TypeHandStarted, hand.HandID),
	})
	o.events.Publish(events.Event{
		Type:           events.TypePreflopDealt,
		TableID:        table.TableID,
		HandID:         hand.HandID,
		IdempotencyKey: events.Key(events.TypePreflopDealt, hand.HandID),
	})

	// Blinds can leave everyone all-in; the hand may already be over.
	if hand.EndedAt != nil {
		o.handEnded(ctx, table, st, engine.OutcomeShowdown)
		return
	}
	o.startTurnTimer(table, st)
}

// dealHoleCards delivers each participant's cards on their private channel.
func (o *Orchestrator) dealHoleCards(ctx context.Context, tableID string, st *engine.TableState) {
	if o.broadcast == nil {
		return
	}
	for i := range st.Seats {
		seat := &st.Seats[i]
		if len(seat.HoleCards) == 2 && seat.UserID != "" {
			o.broadcast.HoleCards(ctx, tableID, st.Hand.HandID, seat.UserID, seat.HoleCards)
		}
	}
}

// recordHandStartContributions batches the ledger calls for blinds and antes.
func (o *Orchestrator) recordHandStartContributions(tableID string, st *engine.TableState) {
	hand := st.Hand
	for _, action := range hand.Actions {
		if action.Type == engine.ActionPostBlind && action.Amount > 0 {
			o.recordContribution(tableID, hand.HandID, action, action.Amount)
		}
	}
	// Antes are not logged as actions; they are the gap between total and
	// round contributions at deal time.
	for seatID, total := range hand.TotalContributions {
		ante := total - hand.RoundContributions[seatID]
		if ante <= 0 {
			continue
		}
		seat := st.Seat(seatID)
		if seat == nil || seat.UserID == "" {
			continue
		}
		key := fmt.Sprintf("contrib:%s:%s:ante:%d", tableID, hand.HandID, seatID)
		userID := seat.UserID
		handID := hand.HandID
		amount := ante
		o.fireAndForget("ledger.recordContribution", func(ctx context.Context) error {
			return o.ledger.RecordContribution(ctx, userID, tableID, handID, "", amount, key)
		})
	}
}

// handEnded settles a finished hand and schedules the next one. Must run
// within the table task; st.Hand is complete but not yet cleared.
func (o *Orchestrator) handEnded(ctx context.Context, table *engine.Table, st *engine.TableState, outcome string) {
	hand := st.Hand
	if hand == nil {
		return
	}
	o.clearTurnTimer(table.TableID)
	o.metrics.HandsEnded.WithLabelValues(outcome).Inc()

	winners := hand.Winners
	winnerUserIDs := make([]string, 0, len(winners))
	for _, w := range winners {
		winnerUserIDs = append(winnerUserIDs, w.UserID)
	}
	actionLog := make([]engine.Action, len(hand.Actions))
	copy(actionLog, hand.Actions)

	o.events.Publish(events.Event{
		Type:           events.TypeHandEnded,
		TableID:        table.TableID,
		HandID:         hand.HandID,
		Payload:        map[string]any{"outcome": outcome, "winners": winners, "winnerUserIds": winnerUserIDs, "rakeAmount": hand.RakeAmount, "actions": actionLog},
		IdempotencyKey: events.Key(events.TypeHandEnded, hand.HandID),
	})
	if outcome == engine.OutcomeShowdown {
		o.events.Publish(events.Event{
			Type:           events.TypeCardsShown,
			TableID:        table.TableID,
			HandID:         hand.HandID,
			Payload:        map[string]any{"winners": winners},
			IdempotencyKey: events.Key(events.TypeCardsShown, hand.HandID),
		})
	}
	o.emitPotsAwarded(table.TableID, hand)

	o.settleWithLedger(table.TableID, hand)

	st.Hand = nil
	table.Status = engine.TableWaiting
	if err := o.store.SaveTable(ctx, table); err != nil {
		o.log.Error("hand.end.saveTable.failed", "tableId", table.TableID, "err", err)
	}
	if err := o.persistState(ctx, st); err != nil {
		o.log.Error("hand.end.persist.failed", "tableId", table.TableID, "err", err)
	}

	o.events.Publish(events.Event{
		Type:           events.TypeHandCompleted,
		TableID:        table.TableID,
		HandID:         hand.HandID,
		IdempotencyKey: events.Key(events.TypeHandCompleted, hand.HandID),
	})
	o.scheduleNextHand(table.TableID)
}

// emitPotsAwarded publishes one POT_AWARDED per pot with that pot's share of
// the winner list.
func (o *Orchestrator) emitPotsAwarded(tableID string, hand *engine.HandState) {
	for potIndex := range hand.Pots {
		awarded := make([]engine.Winner, 0, 1)
		for _, w := range hand.Winners {
			if w.Pot == potIndex {
				awarded = append(awarded, w)
			}
		}
		if len(awarded) == 0 {
			continue
		}
		o.events.Publish(events.Event{
			Type:           events.TypePotAwarded,
			TableID:        tableID,
			HandID:         hand.HandID,
			Payload:        map[string]any{"potIndex": potIndex, "amount": hand.Pots[potIndex].Amount, "winners": awarded},
			IdempotencyKey: events.Key(events.TypePotAwarded, fmt.Sprintf("%s:%d", hand.HandID, potIndex)),
		})
	}
}

// settleWithLedger reports the hand's payouts and rake, classifying failures
// for reconciliation.
func (o *Orchestrator) settleWithLedger(tableID string, hand *engine.HandState) {
	totals := map[string]int{}
	order := []string{}
	for _, w := range hand.Winners {
		if _, seen := totals[w.UserID]; !seen {
			order = append(order, w.UserID)
		}
		totals[w.UserID] += w.Amount
	}
	entries := make([]ledger.SettlementEntry, 0, len(order))
	for _, userID := range order {
		entries = append(entries, ledger.SettlementEntry{UserID: userID, Amount: totals[userID]})
	}
	key := fmt.Sprintf("settle:%s:%s", tableID, hand.HandID)
	handID := hand.HandID
	rake := hand.RakeAmount

	o.fireAndForget("ledger.settlePot", func(ctx context.Context) error {
		err := o.ledger.SettlePot(ctx, tableID, handID, entries, rake, key)
		switch {
		case errors.Is(err, ledger.ErrUnavailable):
			o.events.Publish(events.Event{
				Type:           events.TypeBalanceUnavailable,
				TableID:        tableID,
				HandID:         handID,
				Payload:        map[string]any{"action": "SETTLE_POT"},
				IdempotencyKey: events.Key(events.TypeBalanceUnavailable, key),
			})
		case err != nil:
			o.events.Publish(events.Event{
				Type:           events.TypeSettlementFailed,
				TableID:        tableID,
				HandID:         handID,
				Payload:        map[string]any{"reason": err.Error()},
				IdempotencyKey: events.Key(events.TypeSettlementFailed, key),
			})
		}
		return err
	})
}
