// Package store persists table records, authoritative table state, chat
// mutes, idempotency results and gateway session bookkeeping. The redis
// implementation backs production; the memory implementation backs tests and
// single-process deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bricerising/homegame/internal/engine"
)

// ErrNotFound is returned when a table, state or idempotency record does not
// exist. Callers map it onto their own error codes.
var ErrNotFound = errors.New("store: not found")

// ErrInProgress is returned by ClaimIdempotency when another request holds
// the pending marker for the same key.
var ErrInProgress = errors.New("store: request in progress")

// Store is the durable game-side keyspace.
type Store interface {
	// Tables.
	SaveTable(ctx context.Context, table *engine.Table) error
	GetTable(ctx context.Context, tableID string) (*engine.Table, error)
	DeleteTable(ctx context.Context, tableID string, ownerID string) error
	ListTableIDs(ctx context.Context) ([]string, error)
	ListTableIDsByOwner(ctx context.Context, ownerID string) ([]string, error)

	// Authoritative per-table state.
	SaveState(ctx context.Context, state *engine.TableState) error
	GetState(ctx context.Context, tableID string) (*engine.TableState, error)
	DeleteState(ctx context.Context, tableID string) error

	// Chat mutes.
	Mute(ctx context.Context, tableID, userID string) error
	Unmute(ctx context.Context, tableID, userID string) error
	IsMuted(ctx context.Context, tableID, userID string) (bool, error)

	// Idempotency. ClaimIdempotency atomically claims the key for the caller:
	// it returns (nil, nil) when the claim is fresh, the cached response when
	// a previous request already completed, and ErrInProgress while another
	// request holds the claim. CompleteIdempotency stores the response under
	// the same TTL; ReleaseIdempotency drops a claim whose request failed in
	// a retryable way.
	ClaimIdempotency(ctx context.Context, method, key string, ttl time.Duration) ([]byte, error)
	CompleteIdempotency(ctx context.Context, method, key string, response []byte, ttl time.Duration) error
	ReleaseIdempotency(ctx context.Context, method, key string) error
}

// SessionStore tracks live gateway connections so broadcasts and duplicate
// session teardown can find them across processes.
type SessionStore interface {
	RegisterConnection(ctx context.Context, connID, userID string) error
	DeregisterConnection(ctx context.Context, connID string) error
	UserOfConnection(ctx context.Context, connID string) (string, error)
	ConnectionsOfUser(ctx context.Context, userID string) ([]string, error)

	AddSubscription(ctx context.Context, connID, tableID string) error
	RemoveSubscription(ctx context.Context, connID, tableID string) error
	Subscriptions(ctx context.Context, connID string) ([]string, error)
}

// Key layout shared by both implementations.
func tableKey(tableID string) string   { return "table:" + tableID }
func stateKey(tableID string) string   { return "state:" + tableID }
func mutesKey(tableID string) string   { return "mutes:" + tableID }
func ownerKey(ownerID string) string   { return "tables:by-owner:" + ownerID }
func userConnsKey(userID string) string { return "gateway:user_connections:" + userID }
func subsKey(connID string) string     { return "gateway:subscriptions:" + connID }

const (
	allTablesKey   = "tables:all"
	connectionsKey = "gateway:connections"
)

func idemKey(method, key string) string {
	return fmt.Sprintf("idempotency:game:%s:%s", method, key)
}

// pendingMarker is the value stored while a claimed request is still running.
// Responses are JSON objects, so the marker can never collide with one.
const pendingMarker = "__pending__"
