// internal/app/queue.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/deskpilot/internal/types"
)

// Update is one stream notification: the full message array for a session
// after the chat runtime appended or extended a message.
type Update struct {
	SessionID types.SessionID
	Messages  []types.Message
}

var (
	// ErrQueueFull means the session's lane buffer is saturated.
	ErrQueueFull = errors.New("queue full")
	// ErrStopped means the queue has been shut down and accepts no work.
	ErrStopped = errors.New("queue stopped")
)

// Queue manages per-session lanes with a global concurrency semaphore.
// Each session gets its own FIFO channel so that a session's stream updates
// are reconciled strictly in order, while the semaphore caps how many
// sessions are being reconciled at once.
type Queue struct {
	lanes map[types.SessionID]chan *Update
	// pending counts updates accepted for a session but not yet fully
	// processed. Incremented on Enqueue, decremented when the processor
	// returns, so Flush and WaitIdle never observe a dequeued-but-unprocessed
	// update as done.
	pending   map[types.SessionID]*atomic.Int64
	semaphore *semaphore.Weighted
	processor func(*Update) error
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue allowing up to maxConcurrent sessions to be
// reconciled simultaneously.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.SessionID]chan *Update),
		pending:   make(map[types.SessionID]*atomic.Int64),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish. Once stopped, Enqueue fails with ErrStopped; calling
// Stop again is a no-op.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds an update to the session's lane, creating the lane (and its
// goroutine) on first use. Fails with ErrQueueFull when the lane's buffer is
// full and ErrStopped after Stop.
func (q *Queue) Enqueue(update *Update) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return fmt.Errorf("enqueue for session %s: %w", update.SessionID, ErrStopped)
	}

	lane, exists := q.lanes[update.SessionID]
	if !exists {
		lane = make(chan *Update, 100)
		q.lanes[update.SessionID] = lane
		q.pending[update.SessionID] = &atomic.Int64{}
		q.wg.Add(1)
		go q.processLane(update.SessionID, lane, q.pending[update.SessionID])
	}

	select {
	case lane <- update:
		q.pending[update.SessionID].Add(1)
		return nil
	default:
		return fmt.Errorf("session %s: %w", update.SessionID, ErrQueueFull)
	}
}

// processLane drains a single session lane, acquiring a semaphore slot before
// running the processor synchronously. FIFO within the session; the semaphore
// limits cross-session parallelism.
func (q *Queue) processLane(sessionID types.SessionID, lane chan *Update, pending *atomic.Int64) {
	defer q.wg.Done()
	for {
		select {
		case update, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				pending.Add(-1)
				return
			}
			if q.processor != nil {
				if err := q.processor(update); err != nil {
					slog.Error("stream update failed", "session_id", string(sessionID), "error", err)
				}
			}
			q.semaphore.Release(1)
			pending.Add(-1)
		case <-q.ctx.Done():
			return
		}
	}
}

// Flush blocks until every update already accepted for the session has been
// processed, or the timeout expires. Returns true if the lane drained.
func (q *Queue) Flush(sessionID types.SessionID, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		q.mu.RLock()
		pending := q.pending[sessionID]
		q.mu.RUnlock()
		if pending == nil || pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// WaitIdle blocks until every accepted update has been processed, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.totalPending() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) totalPending() int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var n int64
	for _, pending := range q.pending {
		n += pending.Load()
	}
	return n
}

// SetProcessor sets the function invoked for each dequeued update.
func (q *Queue) SetProcessor(fn func(*Update) error) {
	q.processor = fn
}
