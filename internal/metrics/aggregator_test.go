package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/backend/internal/models"
)

type fakeCounters struct {
	joins     map[uuid.UUID]int
	peaks     map[uuid.UUID]int
	finalized map[uuid.UUID]float64
	calls     int
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{
		joins:     make(map[uuid.UUID]int),
		peaks:     make(map[uuid.UUID]int),
		finalized: make(map[uuid.UUID]float64),
	}
}

func (f *fakeCounters) IncrementJoins(_ context.Context, id uuid.UUID) error {
	f.joins[id]++
	return nil
}

func (f *fakeCounters) RaisePeakViewers(_ context.Context, id uuid.UUID, peak int) error {
	if peak > f.peaks[id] {
		f.peaks[id] = peak
	}
	return nil
}

func (f *fakeCounters) FinalizeMetrics(_ context.Context, id uuid.UUID, avg float64) error {
	f.finalized[id] = avg
	f.calls++
	return nil
}

func newTestAggregator() (*Aggregator, *fakeCounters, *time.Time) {
	counters := newFakeCounters()
	agg := NewAggregator(NewMemoryStore(), counters, nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &now
	agg.now = func() time.Time { return *clock }
	return agg, counters, clock
}

func TestJoinLeaveWatchTime(t *testing.T) {
	agg, counters, clock := newTestAggregator()
	ctx := context.Background()
	sessionID := uuid.New()
	userID := uuid.New()

	require.NoError(t, agg.Join(ctx, sessionID, userID))
	*clock = clock.Add(2 * time.Minute)
	require.NoError(t, agg.Leave(ctx, sessionID, userID))

	require.NoError(t, agg.Finalize(ctx, &models.Session{ID: sessionID, Metrics: &models.Metrics{}}))
	assert.InDelta(t, 120, counters.finalized[sessionID], 0.001)
	assert.Equal(t, 1, counters.joins[sessionID])
}

func TestPeakViewersMonotonic(t *testing.T) {
	agg, counters, _ := newTestAggregator()
	ctx := context.Background()
	sessionID := uuid.New()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, agg.Join(ctx, sessionID, a))
	require.NoError(t, agg.Join(ctx, sessionID, b))
	require.NoError(t, agg.Join(ctx, sessionID, c))
	assert.Equal(t, 3, counters.peaks[sessionID])

	require.NoError(t, agg.Leave(ctx, sessionID, b))
	require.NoError(t, agg.Leave(ctx, sessionID, c))
	d := uuid.New()
	require.NoError(t, agg.Join(ctx, sessionID, d))
	assert.Equal(t, 3, counters.peaks[sessionID], "peak never decreases")
	assert.Equal(t, 4, counters.joins[sessionID])
}

func TestFinalizeSynthesizesLeaves(t *testing.T) {
	agg, counters, clock := newTestAggregator()
	ctx := context.Background()
	sessionID := uuid.New()

	left, stayed := uuid.New(), uuid.New()
	require.NoError(t, agg.Join(ctx, sessionID, left))
	require.NoError(t, agg.Join(ctx, sessionID, stayed))

	*clock = clock.Add(time.Minute)
	require.NoError(t, agg.Leave(ctx, sessionID, left)) // watched 60s

	*clock = clock.Add(time.Minute) // stayed watches 120s total
	require.NoError(t, agg.Finalize(ctx, &models.Session{ID: sessionID, Metrics: &models.Metrics{}}))
	assert.InDelta(t, 90, counters.finalized[sessionID], 0.001)
}

func TestFinalizeIdempotent(t *testing.T) {
	agg, counters, clock := newTestAggregator()
	ctx := context.Background()
	sessionID := uuid.New()
	userID := uuid.New()

	require.NoError(t, agg.Join(ctx, sessionID, userID))
	*clock = clock.Add(time.Minute)
	require.NoError(t, agg.Leave(ctx, sessionID, userID))

	sess := &models.Session{ID: sessionID, Metrics: &models.Metrics{}}
	require.NoError(t, agg.Finalize(ctx, sess))
	require.Equal(t, 1, counters.calls)
	assert.InDelta(t, 60, counters.finalized[sessionID], 0.001)

	// Re-running after a completed pass finds no transient data and leaves
	// the stored average alone.
	sess.Metrics.Finalized = true
	sess.Metrics.AvgWatchSecs = 60
	require.NoError(t, agg.Finalize(ctx, sess))
	assert.Equal(t, 1, counters.calls, "second pass must not overwrite the average")
	assert.InDelta(t, 60, counters.finalized[sessionID], 0.001)
}

func TestLeaveWithoutJoin(t *testing.T) {
	agg, counters, _ := newTestAggregator()
	ctx := context.Background()
	sessionID := uuid.New()

	require.NoError(t, agg.Leave(ctx, sessionID, uuid.New()))
	require.NoError(t, agg.Finalize(ctx, &models.Session{ID: sessionID, Metrics: &models.Metrics{}}))
	assert.Zero(t, counters.finalized[sessionID])
}
