// Package notifications dispatches session notices and keeps the per-session
// notification log. Actual delivery (email, push) lives in a separate system;
// this package records intent and outcome.
package notifications

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
)

// Dispatcher delivers one notification to one viewer. Delivery failures are
// the caller's to log; they never roll back the surrounding operation.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, userID uuid.UUID, channel, kind, message string) error
}

// Repository persists the append-only session notification log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notification log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append records one notification attempt.
func (r *Repository) Append(ctx context.Context, e *models.NotificationEntry) error {
	const q = `INSERT INTO session_notifications (id, session_id, user_id, channel, kind, delivered)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, e.SessionID, e.UserID, e.Channel, e.Kind, e.Delivered).
		Scan(&e.ID, &e.CreatedAt)
}

// ListBySession returns the notification log for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.NotificationEntry, error) {
	const q = `SELECT id, session_id, user_id, channel, kind, delivered, created_at
		FROM session_notifications WHERE session_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.NotificationEntry
	for rows.Next() {
		var e models.NotificationEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Channel, &e.Kind, &e.Delivered, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// LogDispatcher records notifications in the log and emits a structured log
// line in place of a real delivery backend.
type LogDispatcher struct {
	repo   *Repository
	logger *zap.Logger
}

var _ Dispatcher = (*LogDispatcher)(nil)

// NewLogDispatcher creates a log-backed dispatcher.
func NewLogDispatcher(repo *Repository, logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{repo: repo, logger: logger}
}

// Dispatch appends a delivered log entry and logs the notice.
func (d *LogDispatcher) Dispatch(ctx context.Context, sessionID, userID uuid.UUID, channel, kind, message string) error {
	entry := &models.NotificationEntry{
		SessionID: sessionID,
		UserID:    userID,
		Channel:   channel,
		Kind:      kind,
		Delivered: true,
	}
	if err := d.repo.Append(ctx, entry); err != nil {
		return err
	}
	d.logger.Info("notification dispatched",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", userID.String()),
		zap.String("channel", channel),
		zap.String("kind", kind),
		zap.String("message", message))
	return nil
}
