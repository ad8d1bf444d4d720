// Package keyed serializes work per key: tasks submitted under the same key
// run one at a time in submission order, while tasks under different keys run
// concurrently. The table orchestrator funnels every mutation of a table
// through its table id so state transitions never interleave.
package keyed

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/charmbracelet/log"
)

// ErrCleared is returned to waiters whose queue was discarded by Clear.
var ErrCleared = errors.New("keyed: queue cleared")

// Runner owns one FIFO queue per active key. A drain goroutine exists only
// while its key has pending tasks.
type Runner struct {
	log *log.Logger

	mu     sync.Mutex
	queues map[string][]*task
}

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

func NewRunner(logger *log.Logger) *Runner {
	return &Runner{
		log:    logger,
		queues: map[string][]*task{},
	}
}

// Do runs fn serialized under key and returns its error. Submission order is
// execution order. If ctx is done before the task reaches the front of its
// queue, the task is skipped and ctx.Err() is returned.
func (r *Runner) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	r.mu.Lock()
	pending, active := r.queues[key]
	r.queues[key] = append(pending, t)
	r.mu.Unlock()

	if !active {
		go r.drain(key)
	}
	return <-t.done
}

// drain pops tasks for key until the queue empties, then retires both the
// queue entry and itself.
func (r *Runner) drain(key string) {
	for {
		r.mu.Lock()
		pending := r.queues[key]
		if len(pending) == 0 {
			delete(r.queues, key)
			r.mu.Unlock()
			return
		}
		t := pending[0]
		r.queues[key] = pending[1:]
		r.mu.Unlock()

		t.done <- r.run(key, t)
	}
}

func (r *Runner) run(key string, t *task) (err error) {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("keyed task panicked", "key", key, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("keyed: task panicked: %v", rec)
		}
	}()
	return t.fn(t.ctx)
}

// Clear discards every pending task for key, failing their waiters with
// ErrCleared. A task already running is not interrupted.
func (r *Runner) Clear(key string) {
	r.mu.Lock()
	pending, active := r.queues[key]
	if active {
		r.queues[key] = nil
	}
	r.mu.Unlock()

	for _, t := range pending {
		t.done <- ErrCleared
	}
}

// Pending reports the number of queued tasks for key, the running task
// excluded. Exposed for metrics.
func (r *Runner) Pending(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[key])
}
