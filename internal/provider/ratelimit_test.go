package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitQueueIdle(t *testing.T) {
	q := NewRateLimitQueue(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx), "no window open, no waiting")
	assert.Zero(t, q.Pending())
}

func TestRateLimitQueueSequencedRelease(t *testing.T) {
	q := NewRateLimitQueue(nil)
	first := &waiter{release: make(chan struct{}), done: make(chan struct{})}
	second := &waiter{release: make(chan struct{}), done: make(chan struct{})}

	q.mu.Lock()
	q.until = time.Now().Add(30 * time.Millisecond)
	q.waiters = []*waiter{first, second}
	q.startDrainLocked()
	q.mu.Unlock()

	select {
	case <-first.release:
	case <-time.After(time.Second):
		t.Fatal("first waiter was never released")
	}

	// The second waiter stays blocked until the first one acks.
	select {
	case <-second.release:
		t.Fatal("second waiter released before the first resumed")
	case <-time.After(50 * time.Millisecond):
	}
	close(first.done)

	select {
	case <-second.release:
	case <-time.After(time.Second):
		t.Fatal("second waiter was never released")
	}
	close(second.done)
}

func TestRateLimitQueueReleasesAllWaiters(t *testing.T) {
	q := NewRateLimitQueue(nil)
	q.Block(100 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, q.Wait(context.Background()))
		}()
	}
	wg.Wait()
	assert.Zero(t, q.Pending())
}

func TestRateLimitQueueBlockExtendsWindow(t *testing.T) {
	q := NewRateLimitQueue(nil)
	q.Block(50 * time.Millisecond)
	q.Block(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, q.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond,
		"the later, longer window wins")
}

func TestRateLimitQueueContextCancel(t *testing.T) {
	q := NewRateLimitQueue(nil)
	q.Block(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
