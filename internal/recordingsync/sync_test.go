package recordingsync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/provider"
	"github.com/classlive/backend/pkg/queue"
)

type fakeStore struct {
	sessions map[uuid.UUID]*models.Session
	writes   []models.Recording
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) UpdateRecording(_ context.Context, id uuid.UUID, rec models.Recording) error {
	s.writes = append(s.writes, rec)
	s.sessions[id].Recording = rec
	return nil
}

type fakeScheduler struct {
	scheduled []queue.RecordingSyncPayload
	delays    []time.Duration
}

func (f *fakeScheduler) EnqueueRecordingSyncIn(_ context.Context, p queue.RecordingSyncPayload, d time.Duration) error {
	f.scheduled = append(f.scheduled, p)
	f.delays = append(f.delays, d)
	return nil
}

func endedSession() *models.Session {
	endedAt := time.Now().Add(-time.Minute)
	return &models.Session{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Status:         models.SessionStatusEnded,
		EndedAt:        &endedAt,
		Meeting:        models.Meeting{MeetingID: "mtg-42"},
		Recording:      models.Recording{Status: models.RecordingStatusPending},
	}
}

func newSyncRig(sess *models.Session, files []provider.RecordingFile) (*Syncer, *fakeStore, *fakeScheduler) {
	store := &fakeStore{sessions: map[uuid.UUID]*models.Session{sess.ID: sess}}
	mock := provider.NewMockClient()
	mock.Recordings = map[string][]provider.RecordingFile{sess.Meeting.MeetingID: files}
	sched := &fakeScheduler{}
	return NewSyncer(store, mock, sched, nil), store, sched
}

func TestSyncNoRecordingsSchedulesRetry(t *testing.T) {
	sess := endedSession()
	syncer, store, sched := newSyncRig(sess, nil)

	require.NoError(t, syncer.Sync(context.Background(), sess.ID, 0))

	require.Len(t, store.writes, 1)
	assert.Equal(t, models.RecordingStatusPending, store.writes[0].Status)
	assert.Equal(t, 1, store.writes[0].SyncAttempts)

	require.Len(t, sched.scheduled, 1)
	assert.Equal(t, 1, sched.scheduled[0].Attempt)
	assert.Equal(t, 5*time.Minute, sched.delays[0])
}

func TestSyncProcessingRecording(t *testing.T) {
	sess := endedSession()
	syncer, store, sched := newSyncRig(sess, []provider.RecordingFile{{
		ID:        "rec-1",
		Type:      provider.RecordingTypeCloud,
		Completed: false,
	}})

	require.NoError(t, syncer.Sync(context.Background(), sess.ID, 0))

	require.Len(t, store.writes, 1)
	assert.Equal(t, models.RecordingStatusProcessing, store.writes[0].Status)
	assert.Equal(t, "rec-1", store.writes[0].RecordingID)
	assert.Len(t, sched.scheduled, 1, "still processing, keep polling")
}

func TestSyncCompletedRecording(t *testing.T) {
	recordedAt := time.Now().Add(-time.Hour)
	sess := endedSession()
	syncer, store, sched := newSyncRig(sess, []provider.RecordingFile{
		{ID: "rec-local", Type: provider.RecordingTypeLocal, Completed: true},
		{
			ID:          "rec-cloud",
			Type:        provider.RecordingTypeCloud,
			DownloadURL: "https://example.com/dl",
			PlayURL:     "https://example.com/play",
			DurationMs:  1800000,
			FileSize:    1 << 30,
			RecordedAt:  recordedAt,
			Completed:   true,
		},
	})

	require.NoError(t, syncer.Sync(context.Background(), sess.ID, 3))

	require.Len(t, store.writes, 1)
	rec := store.writes[0]
	assert.Equal(t, models.RecordingStatusCompleted, rec.Status)
	assert.Equal(t, "rec-cloud", rec.RecordingID, "completed cloud recordings win")
	assert.Equal(t, "https://example.com/play", rec.PlayURL)
	assert.Equal(t, int64(1800000), rec.DurationMs)
	assert.Equal(t, 4, rec.SyncAttempts)
	assert.Empty(t, sched.scheduled, "completed recordings stop the polling loop")
}

func TestSyncGivesUpAfterAttemptCap(t *testing.T) {
	sess := endedSession()
	syncer, store, sched := newSyncRig(sess, nil)

	require.NoError(t, syncer.Sync(context.Background(), sess.ID, maxAttempts-1))

	require.Len(t, store.writes, 1)
	assert.Equal(t, models.RecordingStatusFailed, store.writes[0].Status)
	assert.Empty(t, sched.scheduled)
}

func TestSyncSkipsWrongStates(t *testing.T) {
	live := endedSession()
	live.Status = models.SessionStatusLive
	syncer, store, _ := newSyncRig(live, nil)
	require.NoError(t, syncer.Sync(context.Background(), live.ID, 0))
	assert.Empty(t, store.writes, "only ended sessions sync")

	legacy := endedSession()
	legacy.LegacyProvider = true
	syncer, store, _ = newSyncRig(legacy, nil)
	require.NoError(t, syncer.Sync(context.Background(), legacy.ID, 0))
	assert.Empty(t, store.writes)

	done := endedSession()
	done.Recording.Status = models.RecordingStatusCompleted
	syncer, store, _ = newSyncRig(done, nil)
	require.NoError(t, syncer.Sync(context.Background(), done.ID, 0))
	assert.Empty(t, store.writes, "completed recordings are never rewritten")

	// Unknown session is not an error; the job is consumed.
	syncer, store, _ = newSyncRig(endedSession(), nil)
	require.NoError(t, syncer.Sync(context.Background(), uuid.New(), 0))
	assert.Empty(t, store.writes)
}

func TestSyncRequiresMeetingBinding(t *testing.T) {
	sess := endedSession()
	sess.Meeting.MeetingID = ""
	syncer, _, _ := newSyncRig(sess, nil)
	assert.Error(t, syncer.Sync(context.Background(), sess.ID, 0))
}
