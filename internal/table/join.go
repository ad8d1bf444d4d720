package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bricerising/homegame/internal/engine"
	"github.com/bricerising/homegame/internal/events"
	"github.com/bricerising/homegame/internal/ledger"
)

// Seat-join result labels, reported as metric labels and returned to callers.
const (
	JoinOK                 = "OK"
	JoinResumed            = "RESUMED"
	JoinIdempotent         = "IDEMPOTENT"
	JoinBalanceUnavailable = "BALANCE_UNAVAILABLE"
)

// JoinResult reports how a seat join concluded.
type JoinResult struct {
	Label  string
	SeatID int
	Stack  int
}

// joinStage carries the reservation bookkeeping from the prepare stage to the
// ledger call and finalization.
type joinStage struct {
	amount         int
	idempotencyKey string
	done           *JoinResult
}

// JoinSeat runs the three-stage seat join: reserve the seat under the table
// task, call the ledger under the seat task (no table lock held), then
// finalize under the table task again. The seat task orders concurrent
// retries of the same buy-in. The ledger being unavailable never blocks
// seating (trust-and-continue).
func (o *Orchestrator) JoinSeat(ctx context.Context, tableID, userID string, seatID, buyInAmount int) (*JoinResult, error) {
	// Stage 1: claim the seat.
	var stage joinStage
	err := o.serialized(ctx, tableID, func(ctx context.Context) error {
		prepared, err := o.prepareSeat(ctx, tableID, userID, seatID, buyInAmount)
		if err != nil {
			return err
		}
		stage = prepared
		return nil
	})
	if err != nil {
		o.countJoin(engine.CodeOf(err))
		return nil, err
	}
	if stage.done != nil {
		o.metrics.SeatJoins.WithLabelValues(stage.done.Label).Inc()
		return stage.done, nil
	}

	// Stages 2-3 are exclusive per seat so a retried buy-in cannot interleave
	// with the attempt it is retrying.
	var result *JoinResult
	seatKey := fmt.Sprintf("%s:%d", tableID, seatID)
	err = o.seats.Do(ctx, seatKey, func(ctx context.Context) error {
		finished, err := o.buyIn(ctx, tableID, userID, seatID, stage)
		if err != nil {
			return err
		}
		result = finished
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// buyIn is the ledger leg of a join. Must run within the seat task.
func (o *Orchestrator) buyIn(ctx context.Context, tableID, userID string, seatID int, stage joinStage) (*JoinResult, error) {
	// A concurrent retry may have completed the buy-in while this task was
	// queued.
	if done, err := o.replayedSeat(ctx, tableID, userID, seatID); err != nil {
		o.countJoin(engine.CodeOf(err))
		return nil, err
	} else if done != nil {
		o.metrics.SeatJoins.WithLabelValues(done.Label).Inc()
		return done, nil
	}

	reservation, err := o.ledger.ReserveForBuyIn(ctx, userID, stage.amount, stage.idempotencyKey)
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		return o.seatWithoutLedger(ctx, tableID, userID, seatID, stage.amount)

	case err != nil:
		releaseErr := o.releaseSeat(ctx, tableID, userID, seatID)
		if releaseErr != nil {
			o.log.Error("join.release.failed", "tableId", tableID, "seatId", seatID, "err", releaseErr)
		}
		code := refusalCode(err)
		o.countJoin(code)
		return nil, engine.E(code, "buy-in refused: %v", err)
	}

	if err := o.attachReservation(ctx, tableID, userID, seatID, reservation.ReservationID); err != nil {
		o.fireAndForget("ledger.releaseReservation", func(ctx context.Context) error {
			return o.ledger.ReleaseReservation(ctx, reservation.ReservationID, stage.idempotencyKey)
		})
		o.countJoin(engine.CodeOf(err))
		return nil, err
	}

	if err := o.ledger.CommitReservation(ctx, reservation.ReservationID, stage.idempotencyKey); err != nil {
		if rollbackErr := o.releaseSeat(ctx, tableID, userID, seatID); rollbackErr != nil {
			o.log.Error("join.rollback.failed", "tableId", tableID, "seatId", seatID, "err", rollbackErr)
		}
		o.fireAndForget("ledger.releaseReservation", func(ctx context.Context) error {
			return o.ledger.ReleaseReservation(ctx, reservation.ReservationID, stage.idempotencyKey)
		})
		code := refusalCode(err)
		o.countJoin(code)
		return nil, engine.E(code, "buy-in commit refused: %v", err)
	}

	// Stage 3: finalize.
	return o.finalizeSeat(ctx, tableID, userID, seatID, stage.amount, JoinOK)
}

// refusalCode carries the ledger's own error code through to the caller;
// refusals without one read as an insufficient balance.
func refusalCode(err error) engine.Code {
	var apiErr *ledger.APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		return engine.Code(apiErr.Code)
	}
	return engine.CodeInsufficientBalance
}

// replayedSeat reports a buy-in already finalized for this user and seat.
func (o *Orchestrator) replayedSeat(ctx context.Context, tableID, userID string, seatID int) (*JoinResult, error) {
	var done *JoinResult
	err := o.serialized(ctx, tableID, func(ctx context.Context) error {
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			return err
		}
		seat := st.Seat(seatID)
		if seat != nil && seat.UserID == userID && seat.Status == engine.SeatSeated {
			done = &JoinResult{Label: JoinIdempotent, SeatID: seatID, Stack: seat.Stack}
		}
		return nil
	})
	return done, err
}

func (o *Orchestrator) countJoin(code engine.Code) {
	o.metrics.SeatJoins.WithLabelValues(string(code)).Inc()
}

func (o *Orchestrator) prepareSeat(ctx context.Context, tableID, userID string, seatID, amount int) (joinStage, error) {
	table, err := o.loadTable(ctx, tableID)
	if err != nil {
		return joinStage{}, err
	}
	if amount <= 0 {
		amount = table.Config.StartingStack
	}
	st, err := o.loadState(ctx, tableID)
	if err != nil {
		return joinStage{}, err
	}
	seat := st.Seat(seatID)
	if seat == nil {
		return joinStage{}, engine.E(engine.CodeSeatNotAvailable, "seat %d does not exist", seatID)
	}

	if existing := st.SeatOfUser(userID); existing != nil && existing.SeatID != seatID {
		return joinStage{}, engine.E(engine.CodeAlreadySeated, "user already holds seat %d", existing.SeatID)
	}

	switch {
	case seat.UserID == userID && seat.Status != engine.SeatEmpty && seat.Status != engine.SeatReserved:
		// Replayed join after success.
		return joinStage{done: &JoinResult{Label: JoinIdempotent, SeatID: seatID, Stack: seat.Stack}}, nil

	case seat.UserID == userID && seat.Status == engine.SeatReserved:
		// A previous attempt died between stages; resume with its key.
		return joinStage{amount: seat.PendingBuyInAmount, idempotencyKey: seat.BuyInIdempotencyKey}, nil

	case seat.Status != engine.SeatEmpty:
		return joinStage{}, engine.E(engine.CodeSeatNotAvailable, "seat %d is %s", seatID, seat.Status)
	}

	seat.UserID = userID
	seat.Status = engine.SeatReserved
	seat.PendingBuyInAmount = amount
	seat.BuyInIdempotencyKey = fmt.Sprintf("buyin:%s:%d:%s:%s", tableID, seatID, userID, uuid.NewString())
	if err := o.persistState(ctx, st); err != nil {
		return joinStage{}, err
	}
	return joinStage{amount: amount, idempotencyKey: seat.BuyInIdempotencyKey}, nil
}

// seatWithoutLedger is the trust-and-continue path: the ledger's answer is
// unknown, so the player is seated with the requested stack and the situation
// is recorded for reconciliation.
func (o *Orchestrator) seatWithoutLedger(ctx context.Context, tableID, userID string, seatID, amount int) (*JoinResult, error) {
	result, err := o.finalizeSeat(ctx, tableID, userID, seatID, amount, JoinBalanceUnavailable)
	if err != nil {
		return nil, err
	}
	o.events.Publish(events.Event{
		Type:           events.TypeBalanceUnavailable,
		TableID:        tableID,
		UserID:         userID,
		SeatID:         events.Seat(seatID),
		Payload:        map[string]any{"action": "BUY_IN", "amount": amount},
		IdempotencyKey: events.Key(events.TypeBalanceUnavailable, fmt.Sprintf("%s:%d:%s", tableID, seatID, userID)),
	})
	return result, nil
}

// releaseSeat returns a reserved seat to EMPTY after a refused or failed
// buy-in.
func (o *Orchestrator) releaseSeat(ctx context.Context, tableID, userID string, seatID int) error {
	return o.serialized(ctx, tableID, func(ctx context.Context) error {
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			return err
		}
		seat := st.Seat(seatID)
		if seat == nil || seat.UserID != userID || seat.Status != engine.SeatReserved {
			return nil
		}
		clearSeat(seat)
		return o.persistState(ctx, st)
	})
}

func (o *Orchestrator) attachReservation(ctx context.Context, tableID, userID string, seatID int, reservationID string) error {
	return o.serialized(ctx, tableID, func(ctx context.Context) error {
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			if engine.IsCode(err, engine.CodeTableNotFound) {
				return engine.E(engine.CodeTableLost, "table %s vanished during join", tableID)
			}
			return err
		}
		seat := st.Seat(seatID)
		if seat == nil || seat.UserID != userID || seat.Status != engine.SeatReserved {
			return engine.E(engine.CodeSeatLost, "seat %d lost during join", seatID)
		}
		seat.ReservationID = reservationID
		return o.persistState(ctx, st)
	})
}

func (o *Orchestrator) finalizeSeat(ctx context.Context, tableID, userID string, seatID, amount int, label string) (*JoinResult, error) {
	var result *JoinResult
	err := o.serialized(ctx, tableID, func(ctx context.Context) error {
		table, err := o.loadTable(ctx, tableID)
		if err != nil {
			if engine.IsCode(err, engine.CodeTableNotFound) {
				return engine.E(engine.CodeTableLost, "table %s vanished during join", tableID)
			}
			return err
		}
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			return err
		}
		seat := st.Seat(seatID)
		if seat == nil || seat.UserID != userID {
			return engine.E(engine.CodeSeatLost, "seat %d lost during join", seatID)
		}
		seat.Stack = amount
		seat.Status = engine.SeatSeated
		seat.ReservationID = ""
		seat.PendingBuyInAmount = 0
		seat.BuyInIdempotencyKey = ""
		if err := o.persistState(ctx, st); err != nil {
			return err
		}

		o.events.Publish(events.Event{
			Type:           events.TypePlayerJoined,
			TableID:        tableID,
			UserID:         userID,
			SeatID:         events.Seat(seatID),
			Payload:        map[string]any{"stack": amount},
			IdempotencyKey: events.Key(events.TypePlayerJoined, fmt.Sprintf("%s:%d:%s", tableID, seatID, userID)),
		})
		result = &JoinResult{Label: label, SeatID: seatID, Stack: amount}
		o.checkStartHand(ctx, table, st)
		return nil
	})
	if err != nil {
		o.countJoin(engine.CodeOf(err))
		return nil, err
	}
	o.metrics.SeatJoins.WithLabelValues(label).Inc()
	o.publishLobby(ctx)
	return result, nil
}

func clearSeat(seat *engine.Seat) {
	seat.UserID = ""
	seat.Stack = 0
	seat.Status = engine.SeatEmpty
	seat.HoleCards = nil
	seat.ReservationID = ""
	seat.PendingBuyInAmount = 0
	seat.BuyInIdempotencyKey = ""
}

// LeaveSeat removes the user's seat from the table. Mid-hand the seat folds
// first; any remaining stack is cashed out fire-and-forget.
func (o *Orchestrator) LeaveSeat(ctx context.Context, tableID, userID string) error {
	return o.leaveSeat(ctx, tableID, userID, events.TypePlayerLeft, userID)
}

func (o *Orchestrator) leaveSeat(ctx context.Context, tableID, userID, eventType, actorID string) error {
	return o.serialized(ctx, tableID, func(ctx context.Context) error {
		table, err := o.loadTable(ctx, tableID)
		if err != nil {
			return err
		}
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			return err
		}
		seat := st.SeatOfUser(userID)
		if seat == nil {
			return engine.E(engine.CodePlayerNotAtTable, "user %s holds no seat", userID)
		}
		seatID := seat.SeatID

		if seat.Status == engine.SeatReserved && seat.ReservationID != "" {
			reservationID, key := seat.ReservationID, seat.BuyInIdempotencyKey
			o.fireAndForget("ledger.releaseReservation", func(ctx context.Context) error {
				return o.ledger.ReleaseReservation(ctx, reservationID, key)
			})
		}

		var result *engine.ActionResult
		heldTurn := false
		if st.Hand != nil && st.Hand.EndedAt == nil {
			heldTurn = st.Hand.Turn == seatID
			if forfeited, ferr := engine.Forfeit(st, seatID, o.clock.Now()); ferr == nil {
				result = forfeited
			}
		}

		remaining := seat.Stack
		clearSeat(seat)
		if err := o.persistState(ctx, st); err != nil {
			return err
		}

		o.events.Publish(events.Event{
			Type:           eventType,
			TableID:        tableID,
			UserID:         userID,
			SeatID:         events.Seat(seatID),
			Payload:        map[string]any{"by": actorID},
			IdempotencyKey: events.Key(eventType, fmt.Sprintf("%s:%d:%s", tableID, seatID, userID)),
		})

		switch {
		case result != nil && result.HandComplete:
			o.handEnded(ctx, table, st, result.Outcome)
		case result != nil && st.Hand != nil && heldTurn:
			// Only a leaver who held the turn hands it to someone new; anyone
			// else folding out of turn leaves the acting player's clock alone.
			o.startTurnTimer(table, st)
		}

		if remaining > 0 {
			key := fmt.Sprintf("cashout:%s:%s:%d:%s", tableID, userID, seatID, uuid.NewString())
			o.fireAndForget("ledger.processCashOut", func(ctx context.Context) error {
				err := o.ledger.ProcessCashOut(ctx, userID, tableID, remaining, key)
				switch {
				case errors.Is(err, ledger.ErrUnavailable):
					o.events.Publish(events.Event{
						Type:           events.TypeBalanceUnavailable,
						TableID:        tableID,
						UserID:         userID,
						Payload:        map[string]any{"action": "CASH_OUT", "amount": remaining},
						IdempotencyKey: events.Key(events.TypeBalanceUnavailable, key),
					})
				case err != nil:
					o.events.Publish(events.Event{
						Type:           events.TypeCashOutFailed,
						TableID:        tableID,
						UserID:         userID,
						Payload:        map[string]any{"amount": remaining, "reason": err.Error()},
						IdempotencyKey: events.Key(events.TypeCashOutFailed, key),
					})
				}
				return err
			})
		}
		o.publishLobby(ctx)
		return nil
	})
}

// KickPlayer forces targetUserID off the table. Owner only.
func (o *Orchestrator) KickPlayer(ctx context.Context, tableID, ownerID, targetUserID string) error {
	table, err := o.loadTable(ctx, tableID)
	if err != nil {
		return err
	}
	if table.OwnerID != ownerID {
		return engine.E(engine.CodeNotAuthorized, "only the owner can kick players")
	}
	if err := o.leaveSeat(ctx, tableID, targetUserID, events.TypePlayerKicked, ownerID); err != nil {
		return err
	}
	return nil
}

// MutePlayer toggles the target's table chat mute. Owner only.
func (o *Orchestrator) MutePlayer(ctx context.Context, tableID, ownerID, targetUserID string, muted bool) error {
	table, err := o.loadTable(ctx, tableID)
	if err != nil {
		return err
	}
	if table.OwnerID != ownerID {
		return engine.E(engine.CodeNotAuthorized, "only the owner can mute players")
	}

	eventType := events.TypePlayerMuted
	if muted {
		if err := o.store.Mute(ctx, tableID, targetUserID); err != nil {
			return err
		}
	} else {
		eventType = events.TypePlayerUnmuted
		if err := o.store.Unmute(ctx, tableID, targetUserID); err != nil {
			return err
		}
	}
	o.events.Publish(events.Event{
		Type:           eventType,
		TableID:        tableID,
		UserID:         targetUserID,
		Payload:        map[string]any{"by": ownerID},
		IdempotencyKey: events.Key(eventType, fmt.Sprintf("%s:%s:%s", tableID, targetUserID, uuid.NewString())),
	})
	return nil
}

// JoinSpectator registers a watcher on the table.
func (o *Orchestrator) JoinSpectator(ctx context.Context, tableID, userID string) error {
	return o.serialized(ctx, tableID, func(ctx context.Context) error {
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			return err
		}
		for _, spec := range st.Spectators {
			if spec.UserID == userID {
				return nil
			}
		}
		st.Spectators = append(st.Spectators, engine.Spectator{
			UserID:   userID,
			Status:   "WATCHING",
			JoinedAt: o.clock.Now(),
		})
		if err := o.persistState(ctx, st); err != nil {
			return err
		}
		o.events.Publish(events.Event{
			Type:           events.TypeSpectatorJoined,
			TableID:        tableID,
			UserID:         userID,
			IdempotencyKey: events.Key(events.TypeSpectatorJoined, tableID+":"+userID),
		})
		return nil
	})
}

// LeaveSpectator drops a watcher. Unknown spectators are a no-op so the
// gateway teardown chain can call it unconditionally.
func (o *Orchestrator) LeaveSpectator(ctx context.Context, tableID, userID string) error {
	return o.serialized(ctx, tableID, func(ctx context.Context) error {
		st, err := o.loadState(ctx, tableID)
		if err != nil {
			return err
		}
		kept := st.Spectators[:0]
		found := false
		for _, spec := range st.Spectators {
			if spec.UserID == userID {
				found = true
				continue
			}
			kept = append(kept, spec)
		}
		if !found {
			return nil
		}
		st.Spectators = kept
		if err := o.persistState(ctx, st); err != nil {
			return err
		}
		o.events.Publish(events.Event{
			Type:           events.TypeSpectatorLeft,
			TableID:        tableID,
			UserID:         userID,
			IdempotencyKey: events.Key(events.TypeSpectatorLeft, tableID+":"+userID),
		})
		return nil
	})
}
