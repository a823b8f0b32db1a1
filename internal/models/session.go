package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
const (
	SessionStatusScheduled = "scheduled"
	SessionStatusLive      = "live"
	SessionStatusEnded     = "ended"
	SessionStatusCancelled = "cancelled"
)

// RecordingStatus is the lifecycle state of a session recording.
const (
	RecordingStatusPending    = "pending"
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
)

// Meeting is the remote meeting binding returned by the video provider at
// creation time. Written once; never mutated afterwards.
type Meeting struct {
	MeetingID         string    `json:"meeting_id"`
	MeetingNumber     int64     `json:"meeting_number"`
	EncryptedPasscode string    `json:"-"`
	JoinURL           string    `json:"join_url"`
	HostURL           string    `json:"host_url,omitempty"`
	HostEmail         string    `json:"host_email,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Recording is the session's recording sub-record, reconciled against the
// provider by the sync operation.
type Recording struct {
	Status       string     `json:"status"`
	RecordingID  string     `json:"recording_id,omitempty"`
	DownloadURL  string     `json:"download_url,omitempty"`
	PlayURL      string     `json:"play_url,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	FileSize     int64      `json:"file_size"`
	RecordedAt   *time.Time `json:"recorded_at,omitempty"`
	SyncAttempts int        `json:"-"`
}

// Metrics holds per-session viewer counters. TotalJoins and PeakViewers are
// updated live; AvgWatchSecs is computed once at finalization.
type Metrics struct {
	TotalJoins   int     `json:"total_joins"`
	PeakViewers  int     `json:"peak_viewers"`
	AvgWatchSecs float64 `json:"avg_watch_secs"`
	Finalized    bool    `json:"-"`
}

// Session is a scheduled, provider-backed live video session.
type Session struct {
	ID          uuid.UUID `json:"id"`
	Topic       string    `json:"topic"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`

	OrganizationID uuid.UUID  `json:"organization_id"`
	InstructorID   uuid.UUID  `json:"instructor_id"`
	CourseID       *uuid.UUID `json:"course_id,omitempty"`

	EnrolledStudents []uuid.UUID `json:"enrolled_students,omitempty"`

	StartTime       time.Time  `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Timezone        string     `json:"timezone,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`

	Meeting   Meeting   `json:"meeting"`
	Status    string    `json:"status"`
	Recording Recording `json:"recording"`
	Metrics   *Metrics  `json:"metrics,omitempty"`

	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`

	IsDeleted      bool `json:"-"`
	LegacyProvider bool `json:"legacy_provider,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEnrolled reports whether the given user appears in the audience list.
func (s *Session) IsEnrolled(userID uuid.UUID) bool {
	for _, id := range s.EnrolledStudents {
		if id == userID {
			return true
		}
	}
	return false
}

// Terminal reports whether the session reached a state that permits no
// further lifecycle transitions.
func (s *Session) Terminal() bool {
	return s.Status == SessionStatusEnded || s.Status == SessionStatusCancelled
}
