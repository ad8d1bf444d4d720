package broadcast

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-node deployments.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[int]chan Envelope
	next int
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[int]chan Envelope{}}
}

var _ Bus = (*MemoryBus)(nil)

func (b *MemoryBus) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
			// Slow subscribers drop, same as redis pub/sub.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Envelope, func(), error) {
	ch := make(chan Envelope, 64)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ch, stop, nil
}
