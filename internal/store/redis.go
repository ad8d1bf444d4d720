package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bricerising/homegame/internal/engine"
)

// Redis implements Store and SessionStore on a redis keyspace. All values are
// JSON; set membership drives listings.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

var _ Store = (*Redis)(nil)
var _ SessionStore = (*Redis)(nil)

func (r *Redis) SaveTable(ctx context.Context, table *engine.Table) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("marshal table: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tableKey(table.TableID), raw, 0)
		pipe.SAdd(ctx, allTablesKey, table.TableID)
		pipe.SAdd(ctx, ownerKey(table.OwnerID), table.TableID)
		return nil
	})
	return err
}

func (r *Redis) GetTable(ctx context.Context, tableID string) (*engine.Table, error) {
	raw, err := r.client.Get(ctx, tableKey(tableID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var table engine.Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("unmarshal table %s: %w", tableID, err)
	}
	return &table, nil
}

func (r *Redis) DeleteTable(ctx context.Context, tableID, ownerID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tableKey(tableID))
		pipe.SRem(ctx, allTablesKey, tableID)
		pipe.SRem(ctx, ownerKey(ownerID), tableID)
		pipe.Del(ctx, mutesKey(tableID))
		return nil
	})
	return err
}

func (r *Redis) ListTableIDs(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, allTablesKey).Result()
}

func (r *Redis) ListTableIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	return r.client.SMembers(ctx, ownerKey(ownerID)).Result()
}

func (r *Redis) SaveState(ctx context.Context, state *engine.TableState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return r.client.Set(ctx, stateKey(state.TableID), raw, 0).Err()
}

func (r *Redis) GetState(ctx context.Context, tableID string) (*engine.TableState, error) {
	raw, err := r.client.Get(ctx, stateKey(tableID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var state engine.TableState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", tableID, err)
	}
	return &state, nil
}

func (r *Redis) DeleteState(ctx context.Context, tableID string) error {
	return r.client.Del(ctx, stateKey(tableID)).Err()
}

func (r *Redis) Mute(ctx context.Context, tableID, userID string) error {
	return r.client.SAdd(ctx, mutesKey(tableID), userID).Err()
}

func (r *Redis) Unmute(ctx context.Context, tableID, userID string) error {
	return r.client.SRem(ctx, mutesKey(tableID), userID).Err()
}

func (r *Redis) IsMuted(ctx context.Context, tableID, userID string) (bool, error) {
	return r.client.SIsMember(ctx, mutesKey(tableID), userID).Result()
}

func (r *Redis) ClaimIdempotency(ctx context.Context, method, key string, ttl time.Duration) ([]byte, error) {
	claimed, err := r.client.SetNX(ctx, idemKey(method, key), pendingMarker, ttl).Result()
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, nil
	}
	raw, err := r.client.Get(ctx, idemKey(method, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as in progress, the caller retries.
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, err
	}
	if string(raw) == pendingMarker {
		return nil, ErrInProgress
	}
	return raw, nil
}

func (r *Redis) CompleteIdempotency(ctx context.Context, method, key string, response []byte, ttl time.Duration) error {
	return r.client.Set(ctx, idemKey(method, key), response, ttl).Err()
}

func (r *Redis) ReleaseIdempotency(ctx context.Context, method, key string) error {
	return r.client.Del(ctx, idemKey(method, key)).Err()
}

func (r *Redis) RegisterConnection(ctx context.Context, connID, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, connectionsKey, connID, userID)
		pipe.SAdd(ctx, userConnsKey(userID), connID)
		return nil
	})
	return err
}

func (r *Redis) DeregisterConnection(ctx context.Context, connID string) error {
	userID, err := r.client.HGet(ctx, connectionsKey, connID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, connectionsKey, connID)
		pipe.SRem(ctx, userConnsKey(userID), connID)
		pipe.Del(ctx, subsKey(connID))
		return nil
	})
	return err
}

func (r *Redis) UserOfConnection(ctx context.Context, connID string) (string, error) {
	userID, err := r.client.HGet(ctx, connectionsKey, connID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return userID, err
}

func (r *Redis) ConnectionsOfUser(ctx context.Context, userID string) ([]string, error) {
	return r.client.SMembers(ctx, userConnsKey(userID)).Result()
}

func (r *Redis) AddSubscription(ctx context.Context, connID, tableID string) error {
	return r.client.SAdd(ctx, subsKey(connID), tableID).Err()
}

func (r *Redis) RemoveSubscription(ctx context.Context, connID, tableID string) error {
	return r.client.SRem(ctx, subsKey(connID), tableID).Err()
}

func (r *Redis) Subscriptions(ctx context.Context, connID string) ([]string, error) {
	return r.client.SMembers(ctx, subsKey(connID)).Result()
}
