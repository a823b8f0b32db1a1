// Package provider wraps the external video-conferencing provider's REST API.
package provider

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnavailable is returned when the provider could not be reached after
	// all retries. Callers must not persist partial state when they see it.
	ErrUnavailable = errors.New("video provider unavailable")
	// ErrConfiguration is returned on credential/authentication failures.
	// Deliberately generic: provider credentials never appear in errors.
	ErrConfiguration = errors.New("video provider configuration error")
)

// Recording type classifications. Provider-specific recording-type strings
// are normalized into these two.
const (
	RecordingTypeCloud = "cloud"
	RecordingTypeLocal = "local"
)

// Meeting is the remote meeting created for a session.
type Meeting struct {
	ID        string
	Number    int64
	Passcode  string
	JoinURL   string
	HostURL   string
	HostEmail string
	CreatedAt time.Time
}

// CreateMeetingInput is the request to create a remote meeting.
type CreateMeetingInput struct {
	Topic           string
	Agenda          string
	StartTime       time.Time
	DurationMinutes int
	Timezone        string
	HostEmail       string
}

// RecordingFile is one normalized recording descriptor.
type RecordingFile struct {
	ID          string
	Type        string // cloud or local
	DownloadURL string
	PlayURL     string
	DurationMs  int64
	FileSize    int64
	RecordedAt  time.Time
	Completed   bool
}

// Client is the provider API surface consumed by the lifecycle engine.
type Client interface {
	CreateMeeting(ctx context.Context, input CreateMeetingInput) (*Meeting, error)
	ListRecordings(ctx context.Context, meetingID string) ([]RecordingFile, error)
}

// normalizeRecordingType collapses provider recording-type strings into the
// binary cloud/local classification.
func normalizeRecordingType(raw string) string {
	if strings.Contains(strings.ToLower(raw), "local") {
		return RecordingTypeLocal
	}
	return RecordingTypeCloud
}

// recordingDurationMs computes the millisecond delta between provider start
// and end timestamps. Missing timestamps yield zero, never an error.
func recordingDurationMs(start, end time.Time) int64 {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}
