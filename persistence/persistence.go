// Package persistence implements the Persistence Service (C3): it consumes
// RawTickState messages from the Tick Queue, serializes each to the
// canonical textual form, and appends them in atomic batches to the raw
// store (spec §4.3).
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evochora/evochora/queue"
	"github.com/evochora/evochora/store"
	"github.com/evochora/evochora/tickstate"
)

// ErrBatchFailed is returned by flush when a batch could not be committed
// after retries, per spec §4.3's transient-error policy.
var ErrBatchFailed = errors.New("persistence: batch commit failed")

const defaultTable = "raw_ticks"

// Builder constructs a Service.
type Builder struct {
	queue         *queue.TickQueue
	writer        *store.Writer
	batchSize     int
	flushTimeout  time.Duration
	retryAttempts int
	retryBackoff  time.Duration
	logger        *slog.Logger
}

// NewBuilder returns a Builder with the spec's defaults: batchSize 1000, a
// 1s flush timeout, and up to three commit attempts per batch.
func NewBuilder() Builder {
	return Builder{
		batchSize:     1000,
		flushTimeout:  time.Second,
		retryAttempts: 3,
		retryBackoff:  50 * time.Millisecond,
		logger:        slog.Default(),
	}
}

// WithQueue sets the tick queue the service consumes from.
func (b Builder) WithQueue(q *queue.TickQueue) Builder { b.queue = q; return b }

// WithWriter sets the write-capable handle to the raw store.
func (b Builder) WithWriter(w *store.Writer) Builder { b.writer = w; return b }

// WithBatchSize overrides the messages-per-commit threshold.
func (b Builder) WithBatchSize(n int) Builder { b.batchSize = n; return b }

// WithFlushTimeout overrides the max age of the oldest pending message
// before a partial batch is flushed.
func (b Builder) WithFlushTimeout(d time.Duration) Builder { b.flushTimeout = d; return b }

// WithLogger overrides the structured logger.
func (b Builder) WithLogger(l *slog.Logger) Builder { b.logger = l; return b }

// Build constructs the Service.
func (b Builder) Build() (*Service, error) {
	if b.queue == nil {
		return nil, fmt.Errorf("persistence: queue is required")
	}
	if b.writer == nil {
		return nil, fmt.Errorf("persistence: writer is required")
	}
	return &Service{
		queue:         b.queue,
		writer:        b.writer,
		batchSize:     b.batchSize,
		flushTimeout:  b.flushTimeout,
		retryAttempts: b.retryAttempts,
		retryBackoff:  b.retryBackoff,
		log:           b.logger,
		state:         stateNotStarted,
	}, nil
}

type lifecycleState int

const (
	stateNotStarted lifecycleState = iota
	stateRunning
	statePaused
	stateStopped
)

// Service is the single long-lived persistence worker, matching the
// teacher's one-cooperative-loop-per-component shape (core/core.go
// Core.Tick driven by an outer loop, generalized here into a batch loop).
type Service struct {
	queue  *queue.TickQueue
	writer *store.Writer

	batchSize     int
	flushTimeout  time.Duration
	retryAttempts int
	retryBackoff  time.Duration

	log *slog.Logger

	state          lifecycleState
	pauseRequested bool
	stopRequested  bool

	lastPersistedTick int64
	haveLastPersisted bool
}

// LastPersistedTick returns the highest tick_number committed so far, for
// observability (spec §4.3, §8 property 8).
func (s *Service) LastPersistedTick() (int64, bool) {
	return s.lastPersistedTick, s.haveLastPersisted
}

// Pause requests the service pause after its current in-flight batch
// completes (spec §4.5: pause completes the atomic unit of work first).
func (s *Service) Pause() { s.pauseRequested = true }

// Resume clears a pending/active pause.
func (s *Service) Resume() { s.pauseRequested = false }

// Stop requests the service drain and stop after its current batch.
func (s *Service) Stop() { s.stopRequested = true }

// IsPaused reports whether the service has completed its boundary
// transition into paused.
func (s *Service) IsPaused() bool { return s.state == statePaused }

// State reports the service's lifecycle state as a status string matching
// spec §4.5.
func (s *Service) State() string {
	switch s.state {
	case stateNotStarted:
		return "NOT_STARTED"
	case stateRunning:
		return "started"
	case statePaused:
		return "paused"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run drives the service's batch loop until Stop is requested or ctx is
// canceled. Each iteration accumulates up to batchSize messages (or until
// flushTimeout elapses since the oldest pending message) and commits them
// atomically.
func (s *Service) Run(ctx context.Context) error {
	s.state = stateRunning
	for {
		if s.stopRequested {
			s.state = stateStopped
			return nil
		}
		if s.pauseRequested {
			s.state = statePaused
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.state = stateRunning

		batch, err := s.collectBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.state = stateStopped
				return ctx.Err()
			}
			return err
		}
		if len(batch) == 0 {
			continue
		}
		if err := s.flush(ctx, batch); err != nil {
			return err
		}
	}
}

// collectBatch takes messages from the queue until batchSize is reached or
// flushTimeout elapses since the first message of the batch.
func (s *Service) collectBatch(ctx context.Context) ([]*tickstate.RawTickState, error) {
	var batch []*tickstate.RawTickState

	first, err := s.queue.Take(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrDrained) {
			return nil, nil
		}
		return nil, err
	}
	batch = append(batch, first)

	deadline := time.Now().Add(s.flushTimeout)
	for len(batch) < s.batchSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		msg, ok := s.queue.PollTimeout(remaining)
		if !ok {
			break
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// flush serializes and commits one batch atomically, retrying transient
// store errors with bounded backoff before giving up (spec §4.3, §7).
// Serialization errors on a single message drop that message without
// stalling the rest of the batch.
func (s *Service) flush(ctx context.Context, batch []*tickstate.RawTickState) error {
	rows := make([]store.Row, 0, len(batch))
	for _, raw := range batch {
		data, err := raw.Marshal()
		if err != nil {
			s.log.Error("persistence: dropping unserializable tick", "tick", raw.TickNumber, "error", err)
			continue
		}
		rows = append(rows, store.Row{TickNumber: raw.TickNumber, Data: data})
	}
	if len(rows) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if err := s.writer.WriteBatch(ctx, rows); err != nil {
			lastErr = err
			s.log.Warn("persistence: batch commit failed, retrying", "attempt", attempt, "error", err)
			time.Sleep(s.retryBackoff * time.Duration(attempt+1))
			continue
		}
		s.lastPersistedTick = rows[len(rows)-1].TickNumber
		s.haveLastPersisted = true
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBatchFailed, lastErr)
}
