package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimitQueue defers provider calls while the provider's advertised
// retry-after window is open. Once the window elapses, deferred callers are
// released one at a time in arrival order: each waiter is unblocked only
// after the one ahead of it has resumed from Wait.
//
// The queue is a single in-process structure; a horizontally scaled
// deployment would need it backed by shared infrastructure to be globally
// correct (known single-instance limitation).
type RateLimitQueue struct {
	mu       sync.Mutex
	until    time.Time
	waiters  []*waiter
	draining bool
	logger   *zap.Logger
}

// waiter is one deferred caller. release is closed by the drain goroutine to
// unblock it; done is closed by the caller once it resumes (or abandons the
// wait), letting the drain move on to the next waiter.
type waiter struct {
	release chan struct{}
	done    chan struct{}
}

// NewRateLimitQueue creates an idle rate-limit queue.
func NewRateLimitQueue(logger *zap.Logger) *RateLimitQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitQueue{logger: logger}
}

// Block opens (or extends) the rate-limit window by retryAfter.
func (q *RateLimitQueue) Block(retryAfter time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	until := time.Now().Add(retryAfter)
	if until.After(q.until) {
		q.until = until
	}
	q.logger.Warn("provider rate limited, deferring requests",
		zap.Duration("retry_after", retryAfter))
	q.startDrainLocked()
}

// Wait returns immediately when no window is open. Otherwise the caller is
// queued and blocks until the window elapses or ctx is done.
func (q *RateLimitQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if time.Now().After(q.until) && len(q.waiters) == 0 {
		q.mu.Unlock()
		return nil
	}
	w := &waiter{release: make(chan struct{}), done: make(chan struct{})}
	q.waiters = append(q.waiters, w)
	q.startDrainLocked()
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		close(w.done)
		return ctx.Err()
	case <-w.release:
		close(w.done)
		return nil
	}
}

// Pending returns the number of deferred callers, for observability.
func (q *RateLimitQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

func (q *RateLimitQueue) startDrainLocked() {
	if q.draining {
		return
	}
	q.draining = true
	go q.drain()
}

func (q *RateLimitQueue) drain() {
	for {
		q.mu.Lock()
		wait := time.Until(q.until)
		q.mu.Unlock()
		if wait > 0 {
			time.Sleep(wait)
			continue
		}

		q.mu.Lock()
		// Window may have been extended while sleeping.
		if time.Now().Before(q.until) {
			q.mu.Unlock()
			continue
		}
		waiters := q.waiters
		q.waiters = nil
		q.draining = false
		q.mu.Unlock()

		for _, w := range waiters {
			close(w.release)
			<-w.done
		}
		if len(waiters) > 0 {
			q.logger.Info("rate-limit window elapsed, drained deferred requests",
				zap.Int("count", len(waiters)))
		}
		return
	}
}
