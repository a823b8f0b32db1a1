// Package recordingsync reconciles session recording state against the video
// provider after a session ends.
package recordingsync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/provider"
	"github.com/classlive/backend/pkg/queue"
)

const (
	// retryInterval is the delay between reconciliation attempts while the
	// provider is still processing the recording.
	retryInterval = 5 * time.Minute
	// maxAttempts caps retries at roughly 24 hours of polling.
	maxAttempts = 288
)

// SessionStore is the persistence surface the syncer needs.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	UpdateRecording(ctx context.Context, id uuid.UUID, rec models.Recording) error
}

// Scheduler re-enqueues a sync pass after a delay.
type Scheduler interface {
	EnqueueRecordingSyncIn(ctx context.Context, payload queue.RecordingSyncPayload, delay time.Duration) error
}

// Syncer pulls recording metadata from the provider and persists it on the
// session. Writes are last-writer-wins: the provider is idempotent per
// meeting, so concurrent passes converge on the same result.
type Syncer struct {
	store     SessionStore
	provider  provider.Client
	scheduler Scheduler
	logger    *zap.Logger
}

// NewSyncer creates a recording syncer.
func NewSyncer(store SessionStore, client provider.Client, scheduler Scheduler, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{store: store, provider: client, scheduler: scheduler, logger: logger}
}

// Sync runs one reconciliation pass for the session. attempt counts prior
// passes; when the provider has nothing yet the pass schedules a retry until
// the attempt cap is reached, after which the recording is marked failed for
// good.
func (s *Syncer) Sync(ctx context.Context, sessionID uuid.UUID, attempt int) error {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		s.logger.Warn("recording sync for unknown session", zap.String("session_id", sessionID.String()))
		return nil
	}
	if sess.LegacyProvider {
		return nil
	}
	if sess.Status != models.SessionStatusEnded {
		s.logger.Warn("recording sync skipped, session not ended",
			zap.String("session_id", sessionID.String()), zap.String("status", sess.Status))
		return nil
	}
	if sess.Meeting.MeetingID == "" {
		return fmt.Errorf("session %s has no meeting binding", sessionID)
	}
	if sess.Recording.Status == models.RecordingStatusCompleted {
		return nil
	}

	files, err := s.provider.ListRecordings(ctx, sess.Meeting.MeetingID)
	if err != nil {
		return fmt.Errorf("list recordings: %w", err)
	}

	rec := sess.Recording
	rec.SyncAttempts = attempt + 1

	best := pickRecording(files)
	switch {
	case best == nil:
		// Nothing at the provider yet. Keep polling until the cap.
		rec.Status = models.RecordingStatusFailed
		if rec.SyncAttempts < maxAttempts {
			rec.Status = models.RecordingStatusPending
			s.scheduleRetry(ctx, sessionID, rec.SyncAttempts)
		} else {
			s.logger.Warn("recording sync giving up",
				zap.String("session_id", sessionID.String()),
				zap.Int("attempts", rec.SyncAttempts))
		}
	case !best.Completed:
		rec.Status = models.RecordingStatusProcessing
		rec.RecordingID = best.ID
		if rec.SyncAttempts < maxAttempts {
			s.scheduleRetry(ctx, sessionID, rec.SyncAttempts)
		}
	default:
		rec.Status = models.RecordingStatusCompleted
		rec.RecordingID = best.ID
		rec.DownloadURL = best.DownloadURL
		rec.PlayURL = best.PlayURL
		rec.DurationMs = best.DurationMs
		rec.FileSize = best.FileSize
		if !best.RecordedAt.IsZero() {
			t := best.RecordedAt
			rec.RecordedAt = &t
		}
	}

	if err := s.store.UpdateRecording(ctx, sessionID, rec); err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	s.logger.Info("recording sync pass",
		zap.String("session_id", sessionID.String()),
		zap.String("recording_status", rec.Status),
		zap.Int("attempt", rec.SyncAttempts))
	return nil
}

func (s *Syncer) scheduleRetry(ctx context.Context, sessionID uuid.UUID, attempt int) {
	err := s.scheduler.EnqueueRecordingSyncIn(ctx, queue.RecordingSyncPayload{
		SessionID: sessionID,
		Attempt:   attempt,
	}, retryInterval)
	if err != nil {
		s.logger.Error("schedule recording sync retry failed",
			zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

// pickRecording chooses the recording to surface: completed cloud recordings
// win, then any cloud recording, then anything at all.
func pickRecording(files []provider.RecordingFile) *provider.RecordingFile {
	var fallback *provider.RecordingFile
	for i := range files {
		f := &files[i]
		if f.Type == provider.RecordingTypeCloud && f.Completed {
			return f
		}
		if fallback == nil || (f.Type == provider.RecordingTypeCloud && fallback.Type != provider.RecordingTypeCloud) {
			fallback = f
		}
	}
	return fallback
}
