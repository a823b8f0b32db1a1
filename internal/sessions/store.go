package sessions

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classlive/backend/internal/models"
)

const sessionColumns = `id, topic, description, category, tags,
	organization_id, instructor_id, course_id, enrolled_students,
	start_time, duration_minutes, timezone, ended_at,
	meeting_id, meeting_number, meeting_passcode_enc, join_url, host_url, host_email, meeting_created_at,
	status,
	recording_status, recording_id, recording_download_url, recording_play_url,
	recording_duration_ms, recording_file_size, recorded_at, recording_sync_attempts,
	total_joins, peak_viewers, avg_watch_secs, metrics_finalized,
	last_notified_at, is_deleted, legacy_provider, created_at, updated_at`

// ListFilter narrows List results to the actor's visible scope.
type ListFilter struct {
	OrganizationID *uuid.UUID
	InstructorID   *uuid.UUID
	StudentID      *uuid.UUID // sessions where the student is enrolled, or org-wide course-less sessions of StudentOrgID
	StudentOrgID   *uuid.UUID
}

// UpdateFields carries the allow-listed mutable fields for Update. Nil
// pointers leave the stored value untouched.
type UpdateFields struct {
	Topic            *string
	Description      *string
	Category         *string
	Tags             []string
	StartTime        *time.Time
	DurationMinutes  *int
	Timezone         *string
	EnrolledStudents []uuid.UUID
	JoinURL          *string
	Status           *string
}

// Store persists sessions in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a session store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a session. The remote meeting binding must already be
// populated: a session row is never persisted without one.
func (s *Store) Create(ctx context.Context, sess *models.Session) error {
	const q = `INSERT INTO sessions (
		id, topic, description, category, tags,
		organization_id, instructor_id, course_id, enrolled_students,
		start_time, duration_minutes, timezone,
		meeting_id, meeting_number, meeting_passcode_enc, join_url, host_url, host_email, meeting_created_at,
		status)
	VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	RETURNING id, created_at, updated_at`
	return s.pool.QueryRow(ctx, q,
		sess.Topic, sess.Description, sess.Category, sess.Tags,
		sess.OrganizationID, sess.InstructorID, sess.CourseID, sess.EnrolledStudents,
		sess.StartTime, sess.DurationMinutes, sess.Timezone,
		sess.Meeting.MeetingID, sess.Meeting.MeetingNumber, sess.Meeting.EncryptedPasscode,
		sess.Meeting.JoinURL, sess.Meeting.HostURL, sess.Meeting.HostEmail, sess.Meeting.CreatedAt,
		sess.Status,
	).Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt)
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var sess models.Session
	var m models.Metrics
	err := row.Scan(
		&sess.ID, &sess.Topic, &sess.Description, &sess.Category, &sess.Tags,
		&sess.OrganizationID, &sess.InstructorID, &sess.CourseID, &sess.EnrolledStudents,
		&sess.StartTime, &sess.DurationMinutes, &sess.Timezone, &sess.EndedAt,
		&sess.Meeting.MeetingID, &sess.Meeting.MeetingNumber, &sess.Meeting.EncryptedPasscode,
		&sess.Meeting.JoinURL, &sess.Meeting.HostURL, &sess.Meeting.HostEmail, &sess.Meeting.CreatedAt,
		&sess.Status,
		&sess.Recording.Status, &sess.Recording.RecordingID, &sess.Recording.DownloadURL,
		&sess.Recording.PlayURL, &sess.Recording.DurationMs, &sess.Recording.FileSize,
		&sess.Recording.RecordedAt, &sess.Recording.SyncAttempts,
		&m.TotalJoins, &m.PeakViewers, &m.AvgWatchSecs, &m.Finalized,
		&sess.LastNotifiedAt, &sess.IsDeleted, &sess.LegacyProvider, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sess.Metrics = &m
	return &sess, nil
}

// GetByID returns a session by ID, or nil when no matching row exists.
// Soft-deleted rows are still returned; callers decide on visibility.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// GetByMeetingID resolves a session from its remote meeting identifier.
func (s *Store) GetByMeetingID(ctx context.Context, meetingID string) (*models.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE meeting_id = $1`, meetingID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// List returns non-deleted sessions matching the filter, newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE is_deleted = FALSE`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.StudentID != nil {
		cond := ` AND (` + arg(*f.StudentID) + ` = ANY(enrolled_students)`
		if f.StudentOrgID != nil {
			cond += ` OR (course_id IS NULL AND organization_id = ` + arg(*f.StudentOrgID) + `)`
		}
		q += cond + `)`
	}
	// Instructor and organization conditions combine, for filtered org listings.
	if f.InstructorID != nil {
		q += ` AND instructor_id = ` + arg(*f.InstructorID)
	}
	if f.OrganizationID != nil {
		q += ` AND organization_id = ` + arg(*f.OrganizationID)
	}
	q += ` ORDER BY start_time DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *sess)
	}
	return list, rows.Err()
}

// ListAvailableRecordings returns ended sessions with completed recordings,
// newest-ended first. Backed by the compound (status, recording_status,
// ended_at DESC) index.
func (s *Store) ListAvailableRecordings(ctx context.Context, orgID *uuid.UUID, limit int) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = $1 AND recording_status = $2 AND is_deleted = FALSE`
	args := []interface{}{models.SessionStatusEnded, models.RecordingStatusCompleted}
	if orgID != nil {
		args = append(args, *orgID)
		q += ` AND organization_id = $3`
	}
	q += ` ORDER BY ended_at DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *sess)
	}
	return list, rows.Err()
}

// SetLive transitions a session to live and overwrites start_time with the
// actual wall-clock start.
func (s *Store) SetLive(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	const q = `UPDATE sessions SET status = $1, start_time = $2, updated_at = NOW() WHERE id = $3`
	_, err := s.pool.Exec(ctx, q, models.SessionStatusLive, startedAt, id)
	return err
}

// SetEnded transitions a session to ended and records the end time.
func (s *Store) SetEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	const q = `UPDATE sessions SET status = $1, ended_at = $2, updated_at = NOW() WHERE id = $3`
	_, err := s.pool.Exec(ctx, q, models.SessionStatusEnded, endedAt, id)
	return err
}

// SoftDelete cancels a session. History is never purged.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE sessions SET status = $1, is_deleted = TRUE, updated_at = NOW() WHERE id = $2`
	_, err := s.pool.Exec(ctx, q, models.SessionStatusCancelled, id)
	return err
}

// Update applies the allow-listed mutable fields.
func (s *Store) Update(ctx context.Context, id uuid.UUID, f UpdateFields) error {
	const q = `UPDATE sessions SET
		topic = COALESCE($1, topic),
		description = COALESCE($2, description),
		category = COALESCE($3, category),
		tags = COALESCE($4, tags),
		start_time = COALESCE($5, start_time),
		duration_minutes = COALESCE($6, duration_minutes),
		timezone = COALESCE($7, timezone),
		enrolled_students = COALESCE($8, enrolled_students),
		join_url = COALESCE($9, join_url),
		status = COALESCE($10, status),
		updated_at = NOW()
	WHERE id = $11`
	_, err := s.pool.Exec(ctx, q,
		f.Topic, f.Description, f.Category, f.Tags,
		f.StartTime, f.DurationMinutes, f.Timezone,
		f.EnrolledStudents, f.JoinURL, f.Status, id)
	return err
}

// SetEnrolledStudents replaces the audience list.
func (s *Store) SetEnrolledStudents(ctx context.Context, id uuid.UUID, students []uuid.UUID) error {
	const q = `UPDATE sessions SET enrolled_students = $1, updated_at = NOW() WHERE id = $2`
	_, err := s.pool.Exec(ctx, q, students, id)
	return err
}

// UpdateRecording writes the recording sub-record. Last writer wins: the
// provider is the source of truth and idempotent per meeting.
func (s *Store) UpdateRecording(ctx context.Context, id uuid.UUID, rec models.Recording) error {
	const q = `UPDATE sessions SET
		recording_status = $1, recording_id = $2, recording_download_url = $3,
		recording_play_url = $4, recording_duration_ms = $5, recording_file_size = $6,
		recorded_at = $7, recording_sync_attempts = $8, updated_at = NOW()
	WHERE id = $9`
	_, err := s.pool.Exec(ctx, q,
		rec.Status, rec.RecordingID, rec.DownloadURL, rec.PlayURL,
		rec.DurationMs, rec.FileSize, rec.RecordedAt, rec.SyncAttempts, id)
	return err
}

// IncrementJoins bumps the monotonic total-joins counter.
func (s *Store) IncrementJoins(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE sessions SET total_joins = total_joins + 1, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	return err
}

// RaisePeakViewers raises the peak-viewers high-water mark; never lowers it.
func (s *Store) RaisePeakViewers(ctx context.Context, id uuid.UUID, peak int) error {
	const q = `UPDATE sessions SET peak_viewers = $1, updated_at = NOW() WHERE id = $2 AND $1 > peak_viewers`
	_, err := s.pool.Exec(ctx, q, peak, id)
	return err
}

// FinalizeMetrics persists the average watch time and marks metrics final.
func (s *Store) FinalizeMetrics(ctx context.Context, id uuid.UUID, avgWatchSecs float64) error {
	const q = `UPDATE sessions SET avg_watch_secs = $1, metrics_finalized = TRUE, updated_at = NOW() WHERE id = $2`
	_, err := s.pool.Exec(ctx, q, avgWatchSecs, id)
	return err
}

// SetLastNotified records the last notification fan-out time.
func (s *Store) SetLastNotified(ctx context.Context, id uuid.UUID, t time.Time) error {
	const q = `UPDATE sessions SET last_notified_at = $1, updated_at = NOW() WHERE id = $2`
	_, err := s.pool.Exec(ctx, q, t, id)
	return err
}
