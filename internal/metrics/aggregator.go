// Package metrics tracks per-session viewer activity and finalizes watch-time
// aggregates when a session ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
)

// TransientStore holds the short-lived per-session tracking state: join
// timestamps, the currently-active viewer set, and recorded watch times.
// Entries expire on their own after 24 hours in case finalization never runs.
type TransientStore interface {
	SetJoinTime(ctx context.Context, sessionID, userID uuid.UUID, t time.Time) error
	JoinTime(ctx context.Context, sessionID, userID uuid.UUID) (time.Time, bool, error)
	DeleteJoinTime(ctx context.Context, sessionID, userID uuid.UUID) error
	AddActive(ctx context.Context, sessionID, userID uuid.UUID) (int, error)
	RemoveActive(ctx context.Context, sessionID, userID uuid.UUID) error
	ActiveMembers(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error)
	SetWatchSecs(ctx context.Context, sessionID, userID uuid.UUID, secs float64) error
	WatchSecs(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]float64, error)
	Clear(ctx context.Context, sessionID uuid.UUID) error
}

// CounterStore persists the durable per-session counters.
type CounterStore interface {
	IncrementJoins(ctx context.Context, id uuid.UUID) error
	RaisePeakViewers(ctx context.Context, id uuid.UUID, peak int) error
	FinalizeMetrics(ctx context.Context, id uuid.UUID, avgWatchSecs float64) error
}

// Aggregator implements join/leave tracking and end-of-session finalization.
type Aggregator struct {
	transient TransientStore
	counters  CounterStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewAggregator creates a metrics aggregator.
func NewAggregator(transient TransientStore, counters CounterStore, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{transient: transient, counters: counters, logger: logger, now: time.Now}
}

// Join records a viewer joining: bumps total joins, stamps the join time,
// grows the active set, and raises the peak high-water mark if exceeded.
func (a *Aggregator) Join(ctx context.Context, sessionID, userID uuid.UUID) error {
	if err := a.counters.IncrementJoins(ctx, sessionID); err != nil {
		return fmt.Errorf("increment joins: %w", err)
	}
	if err := a.transient.SetJoinTime(ctx, sessionID, userID, a.now()); err != nil {
		return fmt.Errorf("set join time: %w", err)
	}
	active, err := a.transient.AddActive(ctx, sessionID, userID)
	if err != nil {
		return fmt.Errorf("add active: %w", err)
	}
	if err := a.counters.RaisePeakViewers(ctx, sessionID, active); err != nil {
		return fmt.Errorf("raise peak: %w", err)
	}
	return nil
}

// Leave records a viewer leaving. A leave without a prior join is not an
// error: the viewer is removed from the active set regardless.
func (a *Aggregator) Leave(ctx context.Context, sessionID, userID uuid.UUID) error {
	joined, ok, err := a.transient.JoinTime(ctx, sessionID, userID)
	if err != nil {
		return fmt.Errorf("join time: %w", err)
	}
	if ok {
		secs := a.now().Sub(joined).Seconds()
		if secs < 0 {
			secs = 0
		}
		if err := a.transient.SetWatchSecs(ctx, sessionID, userID, secs); err != nil {
			return fmt.Errorf("set watch secs: %w", err)
		}
		if err := a.transient.DeleteJoinTime(ctx, sessionID, userID); err != nil {
			a.logger.Warn("delete join time failed", zap.Error(err))
		}
	}
	if err := a.transient.RemoveActive(ctx, sessionID, userID); err != nil {
		return fmt.Errorf("remove active: %w", err)
	}
	return nil
}

// Finalize computes the average watch time across all viewers with any
// recorded watch time, synthesizing an implicit leave at "now" for viewers
// still active, then deletes every transient key. Idempotent: a re-run after
// a completed pass finds no transient data and leaves the stored average
// untouched.
func (a *Aggregator) Finalize(ctx context.Context, sess *models.Session) error {
	sessionID := sess.ID

	members, err := a.transient.ActiveMembers(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("active members: %w", err)
	}
	for _, userID := range members {
		joined, ok, err := a.transient.JoinTime(ctx, sessionID, userID)
		if err != nil {
			a.logger.Warn("finalize: join time lookup failed",
				zap.String("session_id", sessionID.String()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		secs := a.now().Sub(joined).Seconds()
		if secs < 0 {
			secs = 0
		}
		if err := a.transient.SetWatchSecs(ctx, sessionID, userID, secs); err != nil {
			a.logger.Warn("finalize: synthesized watch time write failed",
				zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}

	watch, err := a.transient.WatchSecs(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("watch secs: %w", err)
	}

	if len(watch) == 0 && sess.Metrics != nil && sess.Metrics.Finalized {
		// Already finalized and nothing new recorded; keep the stored value.
		return a.transient.Clear(ctx, sessionID)
	}

	var avg float64
	if len(watch) > 0 {
		var total float64
		for _, secs := range watch {
			total += secs
		}
		avg = total / float64(len(watch))
	}
	if err := a.counters.FinalizeMetrics(ctx, sessionID, avg); err != nil {
		return fmt.Errorf("finalize metrics: %w", err)
	}
	if err := a.transient.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear transient keys: %w", err)
	}
	a.logger.Info("session metrics finalized",
		zap.String("session_id", sessionID.String()),
		zap.Float64("avg_watch_secs", avg),
		zap.Int("viewers", len(watch)))
	return nil
}
