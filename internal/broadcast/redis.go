package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// RedisBus carries envelopes over a redis pub/sub channel so any number of
// game-service and gateway processes share one fan-out plane.
type RedisBus struct {
	client redis.UniversalClient
	log    *log.Logger
}

func NewRedisBus(client redis.UniversalClient, logger *log.Logger) *RedisBus {
	return &RedisBus{client: client, log: logger}
}

var _ Bus = (*RedisBus)(nil)

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, PubSubChannel, raw).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Envelope, func(), error) {
	sub := b.client.Subscribe(ctx, PubSubChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Envelope, 64)
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() { _ = sub.Close() })
	}

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Error("broadcast.decode.failed", "err", err)
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				stop()
				return
			}
		}
	}()
	return out, stop, nil
}
