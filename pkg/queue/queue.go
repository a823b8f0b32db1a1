package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueSessions is the Redis list key for session lifecycle jobs.
	QueueSessions = "worker:sessions"
	// QueueDelayed is the Redis sorted set holding jobs scheduled for later,
	// scored by their ready-at unix time.
	QueueDelayed = "worker:sessions:delayed"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeEnrollAudience  JobType = "enroll_audience"
	JobTypeSessionNotice   JobType = "session_notice"
	JobTypeRecordingSync   JobType = "recording_sync"
	JobTypeFinalizeMetrics JobType = "finalize_metrics"
)

// EnrollAudiencePayload targets audience resolution for a freshly created session.
type EnrollAudiencePayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// SessionNoticePayload fans a notification out to a session's audience.
// ChangedFields is set for update notices and names what changed.
type SessionNoticePayload struct {
	SessionID     uuid.UUID `json:"session_id"`
	Kind          string    `json:"kind"`
	ChangedFields []string  `json:"changed_fields,omitempty"`
}

// RecordingSyncPayload triggers a recording reconciliation pass.
type RecordingSyncPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Attempt   int       `json:"attempt"`
}

// FinalizeMetricsPayload triggers watch-time finalization after session end.
type FinalizeMetricsPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues session lifecycle jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, jobType JobType, payload any) error {
	raw, err := marshalJob(jobType, payload)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueSessions, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("type", string(jobType)))
	return nil
}

// EnqueueEnrollAudience enqueues a background auto-enrollment job.
func (q *Queue) EnqueueEnrollAudience(ctx context.Context, payload EnrollAudiencePayload) error {
	return q.enqueue(ctx, JobTypeEnrollAudience, payload)
}

// EnqueueSessionNotice enqueues a notification fan-out job.
func (q *Queue) EnqueueSessionNotice(ctx context.Context, payload SessionNoticePayload) error {
	return q.enqueue(ctx, JobTypeSessionNotice, payload)
}

// EnqueueRecordingSync enqueues an immediate recording sync job.
func (q *Queue) EnqueueRecordingSync(ctx context.Context, payload RecordingSyncPayload) error {
	return q.enqueue(ctx, JobTypeRecordingSync, payload)
}

// EnqueueRecordingSyncIn schedules a recording sync job after the given delay.
func (q *Queue) EnqueueRecordingSyncIn(ctx context.Context, payload RecordingSyncPayload, delay time.Duration) error {
	raw, err := marshalJob(JobTypeRecordingSync, payload)
	if err != nil {
		return err
	}
	readyAt := float64(time.Now().Add(delay).Unix())
	if err := q.client.ZAdd(ctx, QueueDelayed, redis.Z{Score: readyAt, Member: raw}).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	q.logger.Debug("scheduled recording sync",
		zap.String("session_id", payload.SessionID.String()),
		zap.Int("attempt", payload.Attempt),
		zap.Duration("delay", delay))
	return nil
}

// EnqueueFinalizeMetrics enqueues a metrics finalization job.
func (q *Queue) EnqueueFinalizeMetrics(ctx context.Context, payload FinalizeMetricsPayload) error {
	return q.enqueue(ctx, JobTypeFinalizeMetrics, payload)
}

// PromoteDue moves jobs whose ready-at time has passed from the delayed set
// onto the main queue. Called periodically by the worker loop.
func (q *Queue) PromoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().Unix())
	members, err := q.client.ZRangeByScore(ctx, QueueDelayed, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore: %w", err)
	}
	for _, m := range members {
		if err := q.client.RPush(ctx, QueueSessions, m).Err(); err != nil {
			return fmt.Errorf("promote rpush: %w", err)
		}
		if err := q.client.ZRem(ctx, QueueDelayed, m).Err(); err != nil {
			return fmt.Errorf("promote zrem: %w", err)
		}
	}
	return nil
}

// Dequeue blocks until a job is available, the timeout elapses, or ctx is
// done. Returns nil job on timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueSessions).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries,
// pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueSessions, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

func marshalJob(jobType JobType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return raw, nil
}
