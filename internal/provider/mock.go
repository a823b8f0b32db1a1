package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// MockClient is a fully deterministic in-process provider for local
// development and tests. Meetings it creates are remembered so recording
// lookups resolve against them.
type MockClient struct {
	mu       sync.Mutex
	meetings map[string]*Meeting
	// FailCreate forces CreateMeeting to fail with ErrUnavailable.
	FailCreate bool
	// Recordings, when set, overrides the canned recording response.
	Recordings map[string][]RecordingFile
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates an empty mock provider.
func NewMockClient() *MockClient {
	return &MockClient{meetings: make(map[string]*Meeting)}
}

// CreateMeeting derives a stable meeting number from the topic and start
// time, so repeated runs against the mock produce identical bindings.
func (m *MockClient) CreateMeeting(_ context.Context, input CreateMeetingInput) (*Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate {
		return nil, ErrUnavailable
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(input.Topic))
	_, _ = h.Write([]byte(input.StartTime.UTC().Format(time.RFC3339)))
	number := int64(h.Sum64() % 1_000_000_0000)
	meetingID := fmt.Sprintf("mock-%d", number)

	mtg := &Meeting{
		ID:        meetingID,
		Number:    number,
		Passcode:  fmt.Sprintf("%06d", number%1_000_000),
		JoinURL:   fmt.Sprintf("https://meet.example.com/j/%d", number),
		HostURL:   fmt.Sprintf("https://meet.example.com/s/%d", number),
		HostEmail: input.HostEmail,
		CreatedAt: input.StartTime.Add(-time.Minute),
	}
	m.meetings[meetingID] = mtg
	return mtg, nil
}

// ListRecordings returns the configured recordings for the meeting, or a
// single canned completed cloud recording for meetings the mock created.
func (m *MockClient) ListRecordings(_ context.Context, meetingID string) ([]RecordingFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Recordings != nil {
		return m.Recordings[meetingID], nil
	}
	mtg, ok := m.meetings[meetingID]
	if !ok {
		return nil, nil
	}
	start := mtg.CreatedAt.Add(time.Minute)
	return []RecordingFile{{
		ID:          meetingID + "-rec",
		Type:        RecordingTypeCloud,
		DownloadURL: fmt.Sprintf("https://meet.example.com/rec/%d/download", mtg.Number),
		PlayURL:     fmt.Sprintf("https://meet.example.com/rec/%d/play", mtg.Number),
		DurationMs:  recordingDurationMs(start, start.Add(30*time.Minute)),
		FileSize:    64 << 20,
		RecordedAt:  start,
		Completed:   true,
	}}, nil
}
