// Package queue implements the Tick Queue (C2): a bounded, byte-accounted,
// back-pressured hand-off between the engine producer and one or more
// competing consumers. It generalizes the mutex-guarded buffer idiom of the
// teacher's core/port.go defaultPort into a standalone data structure
// rather than a sim.Port tied to a component.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/evochora/evochora/tickstate"
)

// ErrClosed is returned by Put once the queue has been closed; it is a
// terminal-kind error per spec §4.2.
var ErrClosed = errors.New("queue: closed")

// ErrDrained is returned by Take once the queue is closed and has no more
// messages to deliver — the sentinel a consumer uses to stop looping.
var ErrDrained = errors.New("queue: drained")

// defaultBudgetBytes is the ~512MB default capacity budget from spec §4.2.
const defaultBudgetBytes = 512 * 1024 * 1024

// Builder constructs a TickQueue, mirroring the teacher's chained-builder
// idiom.
type Builder struct {
	budgetBytes int64
}

// NewBuilder returns a Builder defaulted to the spec's ~512MB budget.
func NewBuilder() Builder {
	return Builder{budgetBytes: defaultBudgetBytes}
}

// WithBudgetBytes overrides the byte-accounted capacity budget.
func (b Builder) WithBudgetBytes(n int64) Builder {
	b.budgetBytes = n
	return b
}

// Build constructs the queue.
func (b Builder) Build() *TickQueue {
	q := &TickQueue{budgetBytes: b.budgetBytes}
	q.cond = sync.NewCond(&q.mu)
	return q
}

type item struct {
	msg   *tickstate.RawTickState
	bytes int64
}

// TickQueue is a FIFO, byte-accounted, bounded blocking queue delivering
// each message to exactly one consumer (competing-consumer semantics).
type TickQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []item
	bytes  int64
	closed bool

	budgetBytes int64
}

// Size returns the current queue depth (message count, not bytes).
func (q *TickQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Bytes returns the current byte-accounted total.
func (q *TickQueue) Bytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// watchCtx wakes every sleeper on the queue's condition variable when ctx is
// canceled, so blocked Put/Take calls can observe cancellation cooperatively
// rather than blocking forever (spec §5 "Cancellation and timeouts").
func (q *TickQueue) watchCtx(ctx context.Context, done chan struct{}) {
	select {
	case <-ctx.Done():
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	case <-done:
	}
}

// Put blocks while admitting msg would push the byte total over the budget
// (an empty queue always admits), then admits msg. It fails fast with ErrClosed if the queue has been closed, and
// returns ctx.Err() if ctx is canceled while blocked.
func (q *TickQueue) Put(ctx context.Context, msg *tickstate.RawTickState) error {
	done := make(chan struct{})
	go q.watchCtx(ctx, done)
	defer close(done)

	cost := msg.EstimateBytes()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return ErrClosed
		}
		if q.bytes+cost <= q.budgetBytes || len(q.items) == 0 {
			// Always admit into an empty queue so a single oversized
			// message cannot deadlock the producer forever.
			q.items = append(q.items, item{msg: msg, bytes: cost})
			q.bytes += cost
			q.cond.Broadcast()
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
}

// Take blocks while the queue is empty, then removes and returns the oldest
// message. It returns ErrDrained once the queue is closed and empty, or
// ctx.Err() if ctx is canceled while blocked.
func (q *TickQueue) Take(ctx context.Context) (*tickstate.RawTickState, error) {
	done := make(chan struct{})
	go q.watchCtx(ctx, done)
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if len(q.items) > 0 {
			it := q.items[0]
			q.items = q.items[1:]
			q.bytes -= it.bytes
			q.cond.Broadcast()
			return it.msg, nil
		}
		if q.closed {
			return nil, ErrDrained
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}
}

// Poll is the non-blocking variant of Take: it returns immediately with
// ok=false if the queue is empty.
func (q *TickQueue) Poll() (msg *tickstate.RawTickState, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	q.bytes -= it.bytes
	q.cond.Broadcast()
	return it.msg, true
}

// PollTimeout is the bounded-blocking variant of Take: it waits up to
// timeout for a message before returning ok=false.
func (q *TickQueue) PollTimeout(timeout time.Duration) (msg *tickstate.RawTickState, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	m, err := q.Take(ctx)
	if err != nil {
		return nil, false
	}
	return m, true
}

// Close marks the queue closed: further Put calls fail fast with
// ErrClosed; Take continues to drain remaining messages, then returns
// ErrDrained.
func (q *TickQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
