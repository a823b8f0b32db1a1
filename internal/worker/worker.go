// Package worker runs the background job loop for session lifecycle side
// effects: audience enrollment, notification fan-out, recording sync, and
// metrics finalization.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classlive/backend/internal/metrics"
	"github.com/classlive/backend/internal/recordingsync"
	"github.com/classlive/backend/internal/sessions"
	"github.com/classlive/backend/pkg/queue"
)

// dequeueTimeout bounds each blocking pop so the loop can promote delayed
// jobs and notice context cancellation.
const dequeueTimeout = 5 * time.Second

// Processor executes session lifecycle jobs pulled off the queue.
type Processor struct {
	queue  *queue.Queue
	ctrl   *sessions.Controller
	syncer *recordingsync.Syncer
	agg    *metrics.Aggregator
	loader sessions.SessionStore
	logger *zap.Logger
}

// NewProcessor creates a job processor.
func NewProcessor(q *queue.Queue, ctrl *sessions.Controller, syncer *recordingsync.Syncer, agg *metrics.Aggregator, loader sessions.SessionStore, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{queue: q, ctrl: ctrl, syncer: syncer, agg: agg, loader: loader, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeEnrollAudience:
		var payload queue.EnrollAudiencePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.ctrl.EnrollAudience(ctx, payload.SessionID)

	case queue.JobTypeSessionNotice:
		var payload queue.SessionNoticePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.ctrl.NotifyAudience(ctx, payload.SessionID, payload.Kind, payload.ChangedFields)

	case queue.JobTypeRecordingSync:
		var payload queue.RecordingSyncPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.syncer.Sync(ctx, payload.SessionID, payload.Attempt)

	case queue.JobTypeFinalizeMetrics:
		var payload queue.FinalizeMetricsPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		sess, err := p.loader.GetByID(ctx, payload.SessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sess == nil {
			p.logger.Warn("finalize metrics for unknown session", zap.String("session_id", payload.SessionID.String()))
			return nil
		}
		return p.agg.Finalize(ctx, sess)
	}
	return fmt.Errorf("unknown job type: %s", job.Type)
}

// Run starts the worker loop: promote due delayed jobs, dequeue, process,
// retry on error. Blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("session worker stopping")
			return
		default:
		}

		if err := p.queue.PromoteDue(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("promote delayed jobs failed", zap.Error(err))
		}

		job, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
		}
	}
}
