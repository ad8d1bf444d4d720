package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/bricerising/homegame/internal/engine"
)

// Memory implements Store and SessionStore in process memory. It round-trips
// tables and states through JSON so callers get the same copy semantics the
// redis implementation gives them.
type Memory struct {
	clock quartz.Clock

	mu     sync.Mutex
	tables map[string][]byte
	states map[string][]byte
	owners map[string]map[string]struct{}
	mutes  map[string]map[string]struct{}
	idem   map[string]idemEntry

	conns     map[string]string
	userConns map[string]map[string]struct{}
	subs      map[string]map[string]struct{}
}

type idemEntry struct {
	value     []byte
	pending   bool
	expiresAt time.Time
}

func NewMemory(clock quartz.Clock) *Memory {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Memory{
		clock:     clock,
		tables:    map[string][]byte{},
		states:    map[string][]byte{},
		owners:    map[string]map[string]struct{}{},
		mutes:     map[string]map[string]struct{}{},
		idem:      map[string]idemEntry{},
		conns:     map[string]string{},
		userConns: map[string]map[string]struct{}{},
		subs:      map[string]map[string]struct{}{},
	}
}

var _ Store = (*Memory)(nil)
var _ SessionStore = (*Memory)(nil)

func (m *Memory) SaveTable(_ context.Context, table *engine.Table) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table.TableID] = raw
	if m.owners[table.OwnerID] == nil {
		m.owners[table.OwnerID] = map[string]struct{}{}
	}
	m.owners[table.OwnerID][table.TableID] = struct{}{}
	return nil
}

func (m *Memory) GetTable(_ context.Context, tableID string) (*engine.Table, error) {
	m.mu.Lock()
	raw, ok := m.tables[tableID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var table engine.Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

func (m *Memory) DeleteTable(_ context.Context, tableID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, tableID)
	delete(m.mutes, tableID)
	if owned := m.owners[ownerID]; owned != nil {
		delete(owned, tableID)
	}
	return nil
}

func (m *Memory) ListTableIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tables))
	for id := range m.tables {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) ListTableIDsByOwner(_ context.Context, ownerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.owners[ownerID]))
	for id := range m.owners[ownerID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) SaveState(_ context.Context, state *engine.TableState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.TableID] = raw
	return nil
}

func (m *Memory) GetState(_ context.Context, tableID string) (*engine.TableState, error) {
	m.mu.Lock()
	raw, ok := m.states[tableID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var state engine.TableState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *Memory) DeleteState(_ context.Context, tableID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, tableID)
	return nil
}

func (m *Memory) Mute(_ context.Context, tableID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mutes[tableID] == nil {
		m.mutes[tableID] = map[string]struct{}{}
	}
	m.mutes[tableID][userID] = struct{}{}
	return nil
}

func (m *Memory) Unmute(_ context.Context, tableID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if muted := m.mutes[tableID]; muted != nil {
		delete(muted, userID)
	}
	return nil
}

func (m *Memory) IsMuted(_ context.Context, tableID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mutes[tableID][userID]
	return ok, nil
}

func (m *Memory) ClaimIdempotency(_ context.Context, method, key string, ttl time.Duration) ([]byte, error) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	k := idemKey(method, key)
	entry, ok := m.idem[k]
	if ok && now.Before(entry.expiresAt) {
		if entry.pending {
			return nil, ErrInProgress
		}
		return entry.value, nil
	}
	m.idem[k] = idemEntry{pending: true, expiresAt: now.Add(ttl)}
	return nil, nil
}

func (m *Memory) CompleteIdempotency(_ context.Context, method, key string, response []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idem[idemKey(method, key)] = idemEntry{
		value:     append([]byte(nil), response...),
		expiresAt: m.clock.Now().Add(ttl),
	}
	return nil
}

func (m *Memory) ReleaseIdempotency(_ context.Context, method, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idem, idemKey(method, key))
	return nil
}

func (m *Memory) RegisterConnection(_ context.Context, connID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[connID] = userID
	if m.userConns[userID] == nil {
		m.userConns[userID] = map[string]struct{}{}
	}
	m.userConns[userID][connID] = struct{}{}
	return nil
}

func (m *Memory) DeregisterConnection(_ context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.conns[connID]
	if !ok {
		return nil
	}
	delete(m.conns, connID)
	delete(m.subs, connID)
	if conns := m.userConns[userID]; conns != nil {
		delete(conns, connID)
	}
	return nil
}

func (m *Memory) UserOfConnection(_ context.Context, connID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.conns[connID]
	if !ok {
		return "", ErrNotFound
	}
	return userID, nil
}

func (m *Memory) ConnectionsOfUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.userConns[userID]))
	for id := range m.userConns[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) AddSubscription(_ context.Context, connID, tableID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[connID] == nil {
		m.subs[connID] = map[string]struct{}{}
	}
	m.subs[connID][tableID] = struct{}{}
	return nil
}

func (m *Memory) RemoveSubscription(_ context.Context, connID, tableID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs := m.subs[connID]; subs != nil {
		delete(subs, tableID)
	}
	return nil
}

func (m *Memory) Subscriptions(_ context.Context, connID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.subs[connID]))
	for id := range m.subs[connID] {
		ids = append(ids, id)
	}
	return ids, nil
}
