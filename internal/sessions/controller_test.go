package sessions

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/provider"
	"github.com/classlive/backend/pkg/crypto"
	"github.com/classlive/backend/pkg/queue"
)

var testEncKey = hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

type fakeStore struct {
	sessions map[uuid.UUID]*models.Session
	creates  int
	updates  []UpdateFields
	notified []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[uuid.UUID]*models.Session)}
}

func (s *fakeStore) put(sess *models.Session) {
	cp := *sess
	s.sessions[sess.ID] = &cp
}

func (s *fakeStore) Create(_ context.Context, sess *models.Session) error {
	s.creates++
	sess.ID = uuid.New()
	sess.CreatedAt = time.Now()
	sess.UpdatedAt = sess.CreatedAt
	s.put(sess)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) List(_ context.Context, f ListFilter) ([]models.Session, error) {
	var out []models.Session
	for _, sess := range s.sessions {
		if sess.IsDeleted {
			continue
		}
		if f.OrganizationID != nil && sess.OrganizationID != *f.OrganizationID {
			continue
		}
		if f.InstructorID != nil && sess.InstructorID != *f.InstructorID {
			continue
		}
		if f.StudentID != nil {
			orgWide := sess.CourseID == nil && f.StudentOrgID != nil && sess.OrganizationID == *f.StudentOrgID
			if !sess.IsEnrolled(*f.StudentID) && !orgWide {
				continue
			}
		}
		out = append(out, *sess)
	}
	return out, nil
}

func (s *fakeStore) ListAvailableRecordings(_ context.Context, orgID *uuid.UUID, _ int) ([]models.Session, error) {
	var out []models.Session
	for _, sess := range s.sessions {
		if sess.Status != models.SessionStatusEnded || sess.Recording.Status != models.RecordingStatusCompleted {
			continue
		}
		if orgID != nil && sess.OrganizationID != *orgID {
			continue
		}
		out = append(out, *sess)
	}
	return out, nil
}

func (s *fakeStore) SetLive(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	s.sessions[id].Status = models.SessionStatusLive
	s.sessions[id].StartTime = startedAt
	return nil
}

func (s *fakeStore) SetEnded(_ context.Context, id uuid.UUID, endedAt time.Time) error {
	s.sessions[id].Status = models.SessionStatusEnded
	s.sessions[id].EndedAt = &endedAt
	return nil
}

func (s *fakeStore) SoftDelete(_ context.Context, id uuid.UUID) error {
	s.sessions[id].Status = models.SessionStatusCancelled
	s.sessions[id].IsDeleted = true
	return nil
}

func (s *fakeStore) Update(_ context.Context, id uuid.UUID, f UpdateFields) error {
	s.updates = append(s.updates, f)
	sess := s.sessions[id]
	if f.Topic != nil {
		sess.Topic = *f.Topic
	}
	if f.StartTime != nil {
		sess.StartTime = *f.StartTime
	}
	if f.JoinURL != nil {
		sess.Meeting.JoinURL = *f.JoinURL
	}
	if f.Status != nil {
		sess.Status = *f.Status
	}
	return nil
}

func (s *fakeStore) SetEnrolledStudents(_ context.Context, id uuid.UUID, students []uuid.UUID) error {
	s.sessions[id].EnrolledStudents = students
	return nil
}

func (s *fakeStore) SetLastNotified(_ context.Context, id uuid.UUID, t time.Time) error {
	s.notified = append(s.notified, t)
	s.sessions[id].LastNotifiedAt = &t
	return nil
}

type fakeQueue struct {
	enrolls    []queue.EnrollAudiencePayload
	notices    []queue.SessionNoticePayload
	syncs      []queue.RecordingSyncPayload
	finalizes  []queue.FinalizeMetricsPayload
}

func (q *fakeQueue) EnqueueEnrollAudience(_ context.Context, p queue.EnrollAudiencePayload) error {
	q.enrolls = append(q.enrolls, p)
	return nil
}

func (q *fakeQueue) EnqueueSessionNotice(_ context.Context, p queue.SessionNoticePayload) error {
	q.notices = append(q.notices, p)
	return nil
}

func (q *fakeQueue) EnqueueRecordingSync(_ context.Context, p queue.RecordingSyncPayload) error {
	q.syncs = append(q.syncs, p)
	return nil
}

func (q *fakeQueue) EnqueueFinalizeMetrics(_ context.Context, p queue.FinalizeMetricsPayload) error {
	q.finalizes = append(q.finalizes, p)
	return nil
}

type fakeUsers struct {
	users map[uuid.UUID]*models.User
}

func (u *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return u.users[id], nil
}

type fakeAudience struct {
	course []uuid.UUID
	org    []uuid.UUID
}

func (a *fakeAudience) CourseStudentIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return a.course, nil
}

func (a *fakeAudience) OrgStudentIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return a.org, nil
}

type dispatched struct {
	userID  uuid.UUID
	channel string
	kind    string
}

type fakeNotifier struct {
	sent []dispatched
}

func (n *fakeNotifier) Dispatch(_ context.Context, _, userID uuid.UUID, channel, kind, _ string) error {
	n.sent = append(n.sent, dispatched{userID: userID, channel: channel, kind: kind})
	return nil
}

type fakeTracker struct {
	joins  []uuid.UUID
	leaves []uuid.UUID
}

func (t *fakeTracker) Join(_ context.Context, _, userID uuid.UUID) error {
	t.joins = append(t.joins, userID)
	return nil
}

func (t *fakeTracker) Leave(_ context.Context, _, userID uuid.UUID) error {
	t.leaves = append(t.leaves, userID)
	return nil
}

type testRig struct {
	ctrl     *Controller
	store    *fakeStore
	queue    *fakeQueue
	mock     *provider.MockClient
	notifier *fakeNotifier
	tracker  *fakeTracker
	audience *fakeAudience
	users    *fakeUsers
	enc      *crypto.Encryptor

	orgID        uuid.UUID
	instructorID uuid.UUID
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	enc, err := crypto.New(testEncKey)
	require.NoError(t, err)

	orgID := uuid.New()
	instructorID := uuid.New()
	rig := &testRig{
		store:    newFakeStore(),
		queue:    &fakeQueue{},
		mock:     provider.NewMockClient(),
		notifier: &fakeNotifier{},
		tracker:  &fakeTracker{},
		audience: &fakeAudience{},
		users: &fakeUsers{users: map[uuid.UUID]*models.User{
			instructorID: {ID: instructorID, Email: "teach@example.com", Role: models.RoleInstructor, OrganizationID: &orgID},
		}},
		enc:          enc,
		orgID:        orgID,
		instructorID: instructorID,
	}
	rig.ctrl = NewController(
		rig.store, NoopCache{}, rig.mock, rig.users, rig.audience,
		rig.notifier, rig.tracker, rig.queue, enc,
		NewSigner("sdk-key", "sdk-secret", time.Hour), nil)
	return rig
}

func (r *testRig) orgActor() Actor {
	return Actor{ID: uuid.New(), Role: models.RoleOrganization, OrgID: &r.orgID}
}

func (r *testRig) createInput() CreateInput {
	return CreateInput{
		Topic:           "Algebra Review",
		InstructorID:    r.instructorID,
		StartTime:       time.Now().Add(time.Hour),
		DurationMinutes: 60,
		Timezone:        "UTC",
	}
}

// seed inserts a session directly into the fake store.
func (r *testRig) seed(mutate func(*models.Session)) *models.Session {
	sess := &models.Session{
		ID:             uuid.New(),
		Topic:          "Seeded",
		OrganizationID: r.orgID,
		InstructorID:   r.instructorID,
		StartTime:      time.Now().Add(time.Hour),
		DurationMinutes: 60,
		Meeting: models.Meeting{
			MeetingID:     "mtg-1",
			MeetingNumber: 1234567890,
			JoinURL:       "https://example.com/j/1234567890",
			HostURL:       "https://example.com/s/1234567890",
			HostEmail:     "teach@example.com",
			CreatedAt:     time.Now(),
		},
		Status:    models.SessionStatusScheduled,
		Recording: models.Recording{Status: models.RecordingStatusPending},
		Metrics:   &models.Metrics{},
	}
	enc, _ := r.enc.Encrypt("pass123")
	sess.Meeting.EncryptedPasscode = enc
	if mutate != nil {
		mutate(sess)
	}
	r.store.put(sess)
	return sess
}

func TestCreateSession(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	sess, err := rig.ctrl.Create(ctx, rig.orgActor(), rig.createInput())
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, models.SessionStatusScheduled, sess.Status)
	assert.Equal(t, models.RecordingStatusPending, sess.Recording.Status)
	assert.NotEmpty(t, sess.Meeting.MeetingID)
	assert.NotZero(t, sess.Meeting.MeetingNumber)
	assert.Empty(t, sess.Meeting.EncryptedPasscode, "view must strip the encrypted passcode")

	stored := rig.store.sessions[sess.ID]
	require.NotNil(t, stored)
	assert.NotEmpty(t, stored.Meeting.EncryptedPasscode)
	plain, err := rig.enc.Decrypt(stored.Meeting.EncryptedPasscode)
	require.NoError(t, err)
	assert.NotEmpty(t, plain)

	require.Len(t, rig.queue.enrolls, 1)
	assert.Equal(t, sess.ID, rig.queue.enrolls[0].SessionID)
}

func TestCreateSessionValidation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	actor := rig.orgActor()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
		field  string
	}{
		{"empty topic", func(in *CreateInput) { in.Topic = "   " }, "topic"},
		{"past start", func(in *CreateInput) { in.StartTime = time.Now().Add(-time.Minute) }, "start_time"},
		{"zero duration", func(in *CreateInput) { in.DurationMinutes = 0 }, "duration_minutes"},
		{"missing instructor", func(in *CreateInput) { in.InstructorID = uuid.Nil }, "instructor_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := rig.createInput()
			tc.mutate(&in)
			_, err := rig.ctrl.Create(ctx, actor, in)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
	assert.Zero(t, rig.store.creates, "validation failures must not persist anything")
}

func TestCreateSessionRoles(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.ctrl.Create(ctx, Actor{ID: uuid.New(), Role: models.RoleInstructor, OrgID: &rig.orgID}, rig.createInput())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = rig.ctrl.Create(ctx, Actor{ID: uuid.New(), Role: models.RoleStudent, OrgID: &rig.orgID}, rig.createInput())
	assert.ErrorIs(t, err, ErrForbidden)

	// Admin must name a target organization.
	admin := Actor{ID: uuid.New(), Role: models.RoleAdmin}
	_, err = rig.ctrl.Create(ctx, admin, rig.createInput())
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "organization_id", vErr.Field)

	in := rig.createInput()
	in.OrganizationID = &rig.orgID
	sess, err := rig.ctrl.Create(ctx, admin, in)
	require.NoError(t, err)
	assert.Equal(t, rig.orgID, sess.OrganizationID)
}

func TestCreateSessionProviderFailureLeavesNothing(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.FailCreate = true

	_, err := rig.ctrl.Create(context.Background(), rig.orgActor(), rig.createInput())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Zero(t, rig.store.creates)
	assert.Empty(t, rig.queue.enrolls)
}

func TestStartSession(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sess := rig.seed(nil)
	scheduledStart := sess.StartTime

	got, err := rig.ctrl.Start(ctx, rig.orgActor(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusLive, got.Status)
	assert.NotEqual(t, scheduledStart, got.StartTime, "start must record the actual start time")

	// Already live: second start is rejected.
	_, err = rig.ctrl.Start(ctx, rig.orgActor(), sess.ID)
	var tErr *TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, models.SessionStatusLive, tErr.From)
}

func TestStartAuthorization(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sess := rig.seed(nil)

	// The session's own instructor may start it.
	_, err := rig.ctrl.Start(ctx, Actor{ID: rig.instructorID, Role: models.RoleInstructor, OrgID: &rig.orgID}, sess.ID)
	require.NoError(t, err)

	// A different instructor may not.
	other := rig.seed(nil)
	_, err = rig.ctrl.Start(ctx, Actor{ID: uuid.New(), Role: models.RoleInstructor, OrgID: &rig.orgID}, other.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEndSession(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sess := rig.seed(func(s *models.Session) { s.Status = models.SessionStatusLive })

	got, err := rig.ctrl.End(ctx, rig.orgActor(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, got.Status)
	require.NotNil(t, got.EndedAt)

	require.Len(t, rig.queue.finalizes, 1)
	require.Len(t, rig.queue.syncs, 1)
	assert.Equal(t, sess.ID, rig.queue.finalizes[0].SessionID)
	assert.Equal(t, sess.ID, rig.queue.syncs[0].SessionID)
}

func TestEndSessionLenient(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// A scheduled session that never went live can still be ended.
	sess := rig.seed(nil)
	got, err := rig.ctrl.End(ctx, rig.orgActor(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, got.Status)

	// Re-ending is a no-op, no duplicate background jobs.
	_, err = rig.ctrl.End(ctx, rig.orgActor(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, rig.queue.finalizes, 1)
	assert.Len(t, rig.queue.syncs, 1)

	// A cancelled session cannot be ended.
	cancelled := rig.seed(func(s *models.Session) {
		s.Status = models.SessionStatusCancelled
		s.IsDeleted = true
	})
	_, err = rig.ctrl.End(ctx, rig.orgActor(), cancelled.ID)
	var tErr *TransitionError
	assert.ErrorAs(t, err, &tErr)
}

func TestCancelSession(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	sess := rig.seed(func(s *models.Session) { s.Status = models.SessionStatusLive })
	require.NoError(t, rig.ctrl.Cancel(ctx, rig.orgActor(), sess.ID))
	stored := rig.store.sessions[sess.ID]
	assert.Equal(t, models.SessionStatusCancelled, stored.Status)
	assert.True(t, stored.IsDeleted, "cancellation soft-deletes, never purges")

	// Idempotent.
	require.NoError(t, rig.ctrl.Cancel(ctx, rig.orgActor(), sess.ID))

	// Ended sessions stay ended.
	ended := rig.seed(func(s *models.Session) { s.Status = models.SessionStatusEnded })
	err := rig.ctrl.Cancel(ctx, rig.orgActor(), ended.ID)
	var tErr *TransitionError
	assert.ErrorAs(t, err, &tErr)
}

func TestUpdateSessionNotifiesChangedFields(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sess := rig.seed(nil)

	newTopic := "Renamed"
	newStart := time.Now().Add(2 * time.Hour)
	_, err := rig.ctrl.Update(ctx, rig.orgActor(), sess.ID, UpdateInput{
		Topic:     &newTopic,
		StartTime: &newStart,
	})
	require.NoError(t, err)

	require.Len(t, rig.queue.notices, 1)
	notice := rig.queue.notices[0]
	assert.Equal(t, models.NotificationKindUpdated, notice.Kind)
	assert.ElementsMatch(t, []string{"topic", "start_time"}, notice.ChangedFields)
}

func TestUpdateSessionNoNoticeForQuietFields(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sess := rig.seed(nil)

	desc := "new description"
	_, err := rig.ctrl.Update(ctx, rig.orgActor(), sess.ID, UpdateInput{Description: &desc})
	require.NoError(t, err)
	assert.Empty(t, rig.queue.notices)
}

func TestUpdateTerminalSessionRejected(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sess := rig.seed(func(s *models.Session) { s.Status = models.SessionStatusEnded })

	topic := "nope"
	_, err := rig.ctrl.Update(ctx, rig.orgActor(), sess.ID, UpdateInput{Topic: &topic})
	var tErr *TransitionError
	assert.ErrorAs(t, err, &tErr)

	terminal := models.SessionStatusEnded
	live := rig.seed(nil)
	_, err = rig.ctrl.Update(ctx, rig.orgActor(), live.ID, UpdateInput{Status: &terminal})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestLegacySessionIsReadOnly(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	actor := rig.orgActor()
	sess := rig.seed(func(s *models.Session) {
		s.Status = models.SessionStatusLive
		s.LegacyProvider = true
	})

	_, err := rig.ctrl.Start(ctx, actor, sess.ID)
	assert.ErrorIs(t, err, ErrLegacyReadOnly)
	_, err = rig.ctrl.End(ctx, actor, sess.ID)
	assert.ErrorIs(t, err, ErrLegacyReadOnly)
	topic := "x"
	_, err = rig.ctrl.Update(ctx, actor, sess.ID, UpdateInput{Topic: &topic})
	assert.ErrorIs(t, err, ErrLegacyReadOnly)
	assert.ErrorIs(t, rig.ctrl.Cancel(ctx, actor, sess.ID), ErrLegacyReadOnly)
	assert.ErrorIs(t, rig.ctrl.Join(ctx, actor, sess.ID), ErrLegacyReadOnly)
	_, err = rig.ctrl.SDKConfigFor(ctx, actor, sess.ID)
	assert.ErrorIs(t, err, ErrLegacyReadOnly)

	// Reads still work.
	got, err := rig.ctrl.Get(ctx, actor, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.LegacyProvider)
}

func TestGetRedactsForStudents(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	studentID := uuid.New()
	sess := rig.seed(func(s *models.Session) {
		s.EnrolledStudents = []uuid.UUID{studentID}
		s.Metrics = &models.Metrics{TotalJoins: 10, PeakViewers: 5}
	})

	student := Actor{ID: studentID, Role: models.RoleStudent, OrgID: &rig.orgID}
	got, err := rig.ctrl.Get(ctx, student, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Metrics)
	assert.Empty(t, got.Meeting.HostURL)
	assert.Empty(t, got.Meeting.HostEmail)
	assert.NotEmpty(t, got.Meeting.JoinURL)

	org, err := rig.ctrl.Get(ctx, rig.orgActor(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, org.Metrics)
	assert.Equal(t, 10, org.Metrics.TotalJoins)
}

func TestGetVisibility(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	courseID := uuid.New()

	courseSession := rig.seed(func(s *models.Session) { s.CourseID = &courseID })
	orgWide := rig.seed(nil)

	outsider := Actor{ID: uuid.New(), Role: models.RoleStudent, OrgID: &rig.orgID}
	_, err := rig.ctrl.Get(ctx, outsider, courseSession.ID)
	assert.ErrorIs(t, err, ErrForbidden, "unenrolled student cannot see a course session")

	_, err = rig.ctrl.Get(ctx, outsider, orgWide.ID)
	assert.NoError(t, err, "course-less org session is visible to the whole org")

	otherOrg := uuid.New()
	stranger := Actor{ID: uuid.New(), Role: models.RoleStudent, OrgID: &otherOrg}
	_, err = rig.ctrl.Get(ctx, stranger, orgWide.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestNotifyCooldown(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sess := rig.seed(nil)
	actor := rig.orgActor()

	require.NoError(t, rig.ctrl.Notify(ctx, actor, sess.ID))
	require.Len(t, rig.queue.notices, 1)
	assert.Equal(t, models.NotificationKindReminder, rig.queue.notices[0].Kind)

	err := rig.ctrl.Notify(ctx, actor, sess.ID)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, rig.queue.notices, 1)
}

func TestPlayback(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	actor := rig.orgActor()

	pending := rig.seed(func(s *models.Session) { s.Status = models.SessionStatusEnded })
	_, err := rig.ctrl.PlaybackURL(ctx, actor, pending.ID)
	assert.ErrorIs(t, err, ErrRecordingNotReady)

	ready := rig.seed(func(s *models.Session) {
		s.Status = models.SessionStatusEnded
		s.Recording = models.Recording{
			Status:  models.RecordingStatusCompleted,
			PlayURL: "https://example.com/play/abc",
		}
	})
	url, err := rig.ctrl.PlaybackURL(ctx, actor, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/play/abc", url)
}

func TestRecordingStatusTriggersOnDemandSync(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	actor := rig.orgActor()

	processing := rig.seed(func(s *models.Session) {
		s.Status = models.SessionStatusEnded
		s.Recording.Status = models.RecordingStatusProcessing
	})
	rec, err := rig.ctrl.RecordingStatus(ctx, actor, processing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusProcessing, rec.Status)
	assert.Len(t, rig.queue.syncs, 1)

	done := rig.seed(func(s *models.Session) {
		s.Status = models.SessionStatusEnded
		s.Recording.Status = models.RecordingStatusCompleted
	})
	_, err = rig.ctrl.RecordingStatus(ctx, actor, done.ID)
	require.NoError(t, err)
	assert.Len(t, rig.queue.syncs, 1, "completed recordings do not re-sync")
}

func TestJoinLeave(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	studentID := uuid.New()
	sess := rig.seed(func(s *models.Session) {
		s.Status = models.SessionStatusLive
		s.EnrolledStudents = []uuid.UUID{studentID}
	})
	student := Actor{ID: studentID, Role: models.RoleStudent, OrgID: &rig.orgID}

	require.NoError(t, rig.ctrl.Join(ctx, student, sess.ID))
	require.NoError(t, rig.ctrl.Leave(ctx, student, sess.ID))
	assert.Equal(t, []uuid.UUID{studentID}, rig.tracker.joins)
	assert.Equal(t, []uuid.UUID{studentID}, rig.tracker.leaves)

	scheduled := rig.seed(nil)
	err := rig.ctrl.Join(ctx, rig.orgActor(), scheduled.ID)
	var tErr *TransitionError
	assert.ErrorAs(t, err, &tErr, "join requires a live session")
}

func TestSDKConfig(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	studentID := uuid.New()
	sess := rig.seed(func(s *models.Session) {
		s.Status = models.SessionStatusLive
		s.EnrolledStudents = []uuid.UUID{studentID}
	})

	instructor := Actor{ID: rig.instructorID, Role: models.RoleInstructor, OrgID: &rig.orgID}
	cfg, err := rig.ctrl.SDKConfigFor(ctx, instructor, sess.ID)
	require.NoError(t, err)
	assert.True(t, cfg.Host)
	assert.Equal(t, "sdk-key", cfg.SDKKey)
	assert.Equal(t, "pass123", cfg.Passcode, "passcode is decrypted for the joining client")
	assert.NotEmpty(t, cfg.Signature)
	assert.Equal(t, sess.Meeting.MeetingNumber, cfg.MeetingNumber)

	student := Actor{ID: studentID, Role: models.RoleStudent, OrgID: &rig.orgID}
	cfg, err = rig.ctrl.SDKConfigFor(ctx, student, sess.ID)
	require.NoError(t, err)
	assert.False(t, cfg.Host)

	ended := rig.seed(func(s *models.Session) { s.Status = models.SessionStatusEnded })
	_, err = rig.ctrl.SDKConfigFor(ctx, instructor, ended.ID)
	var tErr *TransitionError
	assert.ErrorAs(t, err, &tErr)
}

func TestEnrollAudience(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	explicit := uuid.New()
	s1, s2 := uuid.New(), uuid.New()
	rig.audience.org = []uuid.UUID{s1, s2, explicit}
	sess := rig.seed(func(s *models.Session) { s.EnrolledStudents = []uuid.UUID{explicit} })

	require.NoError(t, rig.ctrl.EnrollAudience(ctx, sess.ID))

	stored := rig.store.sessions[sess.ID]
	assert.ElementsMatch(t, []uuid.UUID{explicit, s1, s2}, stored.EnrolledStudents)

	// Only the newly added students are notified, on both channels.
	notifiedUsers := map[uuid.UUID]int{}
	for _, d := range rig.notifier.sent {
		assert.Equal(t, models.NotificationKindScheduled, d.kind)
		notifiedUsers[d.userID]++
	}
	assert.NotContains(t, notifiedUsers, explicit)
	assert.Equal(t, 2, notifiedUsers[s1])
	assert.Equal(t, 2, notifiedUsers[s2])
}

func TestEnrollAudienceCourseScope(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	courseStudent := uuid.New()
	rig.audience.course = []uuid.UUID{courseStudent}
	rig.audience.org = []uuid.UUID{uuid.New(), uuid.New()}
	courseID := uuid.New()
	sess := rig.seed(func(s *models.Session) { s.CourseID = &courseID })

	require.NoError(t, rig.ctrl.EnrollAudience(ctx, sess.ID))
	assert.Equal(t, []uuid.UUID{courseStudent}, rig.store.sessions[sess.ID].EnrolledStudents,
		"course sessions enroll the course roster, not the whole org")
}

func TestListScopes(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	studentID := uuid.New()
	rig.seed(func(s *models.Session) { s.EnrolledStudents = []uuid.UUID{studentID} })
	rig.seed(func(s *models.Session) { s.OrganizationID = uuid.New() })

	admin, err := rig.ctrl.List(ctx, Actor{ID: uuid.New(), Role: models.RoleAdmin}, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, admin, 2)

	org, err := rig.ctrl.List(ctx, rig.orgActor(), ListOptions{})
	require.NoError(t, err)
	assert.Len(t, org, 1)

	student, err := rig.ctrl.List(ctx, Actor{ID: studentID, Role: models.RoleStudent, OrgID: &rig.orgID}, ListOptions{})
	require.NoError(t, err)
	require.Len(t, student, 1)
	assert.Nil(t, student[0].Metrics)
}

func TestListInstructorFilter(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	mine := rig.seed(nil)
	otherInstructor := uuid.New()
	rig.seed(func(s *models.Session) { s.InstructorID = otherInstructor })
	rig.seed(func(s *models.Session) {
		s.InstructorID = otherInstructor
		s.OrganizationID = uuid.New()
	})

	id := rig.instructorID
	admin, err := rig.ctrl.List(ctx, Actor{ID: uuid.New(), Role: models.RoleAdmin}, ListOptions{InstructorID: &id})
	require.NoError(t, err)
	require.Len(t, admin, 1)
	assert.Equal(t, mine.ID, admin[0].ID)

	// Organization listings stay scoped to the org even when filtered.
	org, err := rig.ctrl.List(ctx, rig.orgActor(), ListOptions{InstructorID: &otherInstructor})
	require.NoError(t, err)
	require.Len(t, org, 1)
	assert.Equal(t, rig.orgID, org[0].OrganizationID)
}
