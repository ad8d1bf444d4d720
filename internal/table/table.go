// Package table is the stateful coordinator for every table: it serializes
// work per table id, drives the hand engine, persists state through the
// store, dispatches ledger calls, emits domain events, publishes realtime
// snapshots and runs the turn/restart timers. All gameplay mutations flow
// through here.
package table

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/bricerising/homegame/internal/broadcast"
	"github.com/bricerising/homegame/internal/engine"
	"github.com/bricerising/homegame/internal/events"
	"github.com/bricerising/homegame/internal/keyed"
	"github.com/bricerising/homegame/internal/ledger"
	"github.com/bricerising/homegame/internal/metrics"
	"github.com/bricerising/homegame/internal/store"
)

const nextHandDelay = 3000 * time.Millisecond

// Orchestrator coordinates all table operations.
type Orchestrator struct {
	store     store.Store
	runner    *keyed.Runner
	seats     *keyed.Runner
	ledger    ledger.Client
	events    events.Publisher
	broadcast *broadcast.Broadcaster
	clock     quartz.Clock
	metrics   *metrics.Metrics
	log       *log.Logger

	mu     sync.Mutex
	timers map[string]*tableTimers
	closed bool
}

// tableTimers is the per-table timer slot: at most one turn timer and one
// pending next-hand timer.
type tableTimers struct {
	turn          *quartz.Timer
	next          *quartz.Timer
	handID        string
	turnSeat      int
	turnStartedAt time.Time
}

type Deps struct {
	Store     store.Store
	Ledger    ledger.Client
	Events    events.Publisher
	Broadcast *broadcast.Broadcaster
	Clock     quartz.Clock
	Metrics   *metrics.Metrics
	Log       *log.Logger
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = quartz.NewReal()
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.Nop{}
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Orchestrator{
		store:     deps.Store,
		runner:    keyed.NewRunner(deps.Log),
		seats:     keyed.NewRunner(deps.Log),
		ledger:    deps.Ledger,
		events:    deps.Events,
		broadcast: deps.Broadcast,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		log:       deps.Log,
		timers:    map[string]*tableTimers{},
	}
}

// Close stops every timer; queued table tasks still drain.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for id, t := range o.timers {
		if t.turn != nil {
			t.turn.Stop()
		}
		if t.next != nil {
			t.next.Stop()
		}
		delete(o.timers, id)
	}
}

// serialized runs fn as the table's exclusive task.
func (o *Orchestrator) serialized(ctx context.Context, tableID string, fn func(ctx context.Context) error) error {
	return o.runner.Do(ctx, tableID, fn)
}

// persistState bumps the version, saves and publishes the snapshot.
func (o *Orchestrator) persistState(ctx context.Context, st *engine.TableState) error {
	st.Version++
	st.UpdatedAt = o.clock.Now()
	if err := o.store.SaveState(ctx, st); err != nil {
		return err
	}
	if o.broadcast != nil {
		o.broadcast.TableSnapshot(ctx, st)
	}
	return nil
}

// fireAndForget detaches fn with an error hook so nothing fails silently.
func (o *Orchestrator) fireAndForget(op string, fn func(ctx context.Context) error) {
	go func() {
		if err := fn(context.Background()); err != nil {
			o.log.Error(op+".failed", "err", err)
		}
	}()
}

// loadTable fetches the table record, translating absence to TABLE_NOT_FOUND.
func (o *Orchestrator) loadTable(ctx context.Context, tableID string) (*engine.Table, error) {
	table, err := o.store.GetTable(ctx, tableID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, engine.E(engine.CodeTableNotFound, "table %s not found", tableID)
	}
	return table, err
}

func (o *Orchestrator) loadState(ctx context.Context, tableID string) (*engine.TableState, error) {
	st, err := o.store.GetState(ctx, tableID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, engine.E(engine.CodeTableNotFound, "state for table %s not found", tableID)
	}
	return st, err
}

// CreateTable validates the config and persists a fresh table plus its empty
// state.
func (o *Orchestrator) CreateTable(ctx context.Context, ownerID, name string, cfg engine.TableConfig) (*engine.Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table := &engine.Table{
		TableID:   uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: o.clock.Now(),
		Config:    cfg,
		Status:    engine.TableWaiting,
	}
	if err := o.store.SaveTable(ctx, table); err != nil {
		return nil, err
	}
	st := engine.NewTableState(table.TableID, cfg.MaxPlayers)
	if err := o.persistState(ctx, st); err != nil {
		return nil, err
	}

	o.events.Publish(events.Event{
		Type:           events.TypeTableCreated,
		TableID:        table.TableID,
		UserID:         ownerID,
		Payload:        map[string]any{"name": name},
		IdempotencyKey: events.Key(events.TypeTableCreated, table.TableID),
	})
	o.publishLobby(ctx)
	return table, nil
}

// DeleteTable removes a table. Owner only. Queued tasks for the table fail
// with ErrCleared and in-flight timers are dropped.
func (o *Orchestrator) DeleteTable(ctx context.Context, tableID, callerID string) error {
	err := o.serialized(ctx, tableID, func(ctx context.Context) error {
		table, err := o.loadTable(ctx, tableID)
		if err != nil {
			return err
		}
		if table.OwnerID != callerID {
			return engine.E(engine.CodeNotAuthorized, "only the owner can delete the table")
		}
		if err := o.store.DeleteState(ctx, tableID); err != nil {
			return err
		}
		if err := o.store.DeleteTable(ctx, tableID, table.OwnerID); err != nil {
			return err
		}
		o.clearTimers(tableID)
		o.events.Publish(events.Event{
			Type:           events.TypeTableDeleted,
			TableID:        tableID,
			UserID:         callerID,
			IdempotencyKey: events.Key(events.TypeTableDeleted, tableID),
		})
		return nil
	})
	if err != nil {
		return err
	}
	o.runner.Clear(tableID)
	o.publishLobby(ctx)
	return nil
}

// GetTable returns the table record.
func (o *Orchestrator) GetTable(ctx context.Context, tableID string) (*engine.Table, error) {
	return o.loadTable(ctx, tableID)
}

// GetTableState returns the last committed state redacted for the caller.
// Reading state doubles as timer repair: a live hand whose turn timer was
// lost (process restart) gets it re-armed.
func (o *Orchestrator) GetTableState(ctx context.Context, tableID, forUserID string) (*engine.TableState, error) {
	st, err := o.loadState(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if st.Hand != nil && st.Hand.EndedAt == nil {
		o.ensureTurnTimer(ctx, tableID, st.Hand.HandID)
	}
	return st.Redacted(forUserID), nil
}

// ListTables returns lobby summaries for every table, sorted by name.
func (o *Orchestrator) ListTables(ctx context.Context) ([]broadcast.TableSummary, error) {
	ids, err := o.store.ListTableIDs(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]broadcast.TableSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := o.summarize(ctx, id)
		if err != nil {
			// Deleted concurrently; skip.
			continue
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}

func (o *Orchestrator) summarize(ctx context.Context, tableID string) (broadcast.TableSummary, error) {
	table, err := o.store.GetTable(ctx, tableID)
	if err != nil {
		return broadcast.TableSummary{}, err
	}
	st, err := o.store.GetState(ctx, tableID)
	if err != nil {
		return broadcast.TableSummary{}, err
	}
	players := 0
	for i := range st.Seats {
		if st.Seats[i].UserID != "" && st.Seats[i].Status != engine.SeatEmpty {
			players++
		}
	}
	return broadcast.TableSummary{
		TableID:    table.TableID,
		Name:       table.Name,
		Status:     table.Status,
		Players:    players,
		MaxPlayers: table.Config.MaxPlayers,
		SmallBlind: table.Config.SmallBlind,
		BigBlind:   table.Config.BigBlind,
	}, nil
}

func (o *Orchestrator) publishLobby(ctx context.Context) {
	if o.broadcast == nil {
		return
	}
	summaries, err := o.ListTables(ctx)
	if err != nil {
		o.log.Error("lobby.list.failed", "err", err)
		return
	}
	o.broadcast.LobbyTables(ctx, summaries)
}
