package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/notifications"
	"github.com/classlive/backend/internal/provider"
	"github.com/classlive/backend/pkg/crypto"
	"github.com/classlive/backend/pkg/queue"
)

// notifyCooldown bounds how often the manual reminder fan-out may run for a
// single session.
const notifyCooldown = 5 * time.Minute

// SessionStore is the persistence surface the controller depends on.
type SessionStore interface {
	Create(ctx context.Context, sess *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	List(ctx context.Context, f ListFilter) ([]models.Session, error)
	ListAvailableRecordings(ctx context.Context, orgID *uuid.UUID, limit int) ([]models.Session, error)
	SetLive(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	SetEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Update(ctx context.Context, id uuid.UUID, f UpdateFields) error
	SetEnrolledStudents(ctx context.Context, id uuid.UUID, students []uuid.UUID) error
	SetLastNotified(ctx context.Context, id uuid.UUID, t time.Time) error
}

// UserDirectory resolves user records, used to bind the meeting host.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AudienceResolver answers who should be auto-enrolled into a session.
type AudienceResolver interface {
	CourseStudentIDs(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error)
	OrgStudentIDs(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error)
}

// Enqueuer hands background work to the job queue.
type Enqueuer interface {
	EnqueueEnrollAudience(ctx context.Context, payload queue.EnrollAudiencePayload) error
	EnqueueSessionNotice(ctx context.Context, payload queue.SessionNoticePayload) error
	EnqueueRecordingSync(ctx context.Context, payload queue.RecordingSyncPayload) error
	EnqueueFinalizeMetrics(ctx context.Context, payload queue.FinalizeMetricsPayload) error
}

// Tracker records join/leave activity for a session's metrics.
type Tracker interface {
	Join(ctx context.Context, sessionID, userID uuid.UUID) error
	Leave(ctx context.Context, sessionID, userID uuid.UUID) error
}

// Controller runs the session lifecycle: creation bound to a remote meeting,
// the scheduled/live/ended state machine with cancellation, reads behind the
// cache, and the background side effects each transition triggers.
type Controller struct {
	store    SessionStore
	cache    Cache
	provider provider.Client
	users    UserDirectory
	audience AudienceResolver
	notifier notifications.Dispatcher
	tracker  Tracker
	queue    Enqueuer
	enc      *crypto.Encryptor
	signer   *Signer
	logger   *zap.Logger
	now      func() time.Time
}

// NewController wires a session lifecycle controller.
func NewController(
	store SessionStore,
	cache Cache,
	client provider.Client,
	users UserDirectory,
	audience AudienceResolver,
	notifier notifications.Dispatcher,
	tracker Tracker,
	enqueuer Enqueuer,
	enc *crypto.Encryptor,
	signer *Signer,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NoopCache{}
	}
	return &Controller{
		store:    store,
		cache:    cache,
		provider: client,
		users:    users,
		audience: audience,
		notifier: notifier,
		tracker:  tracker,
		queue:    enqueuer,
		enc:      enc,
		signer:   signer,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateInput carries the create-session request.
type CreateInput struct {
	Topic            string
	Description      string
	Category         string
	Tags             []string
	OrganizationID   *uuid.UUID // admin actors must name the target organization
	InstructorID     uuid.UUID
	CourseID         *uuid.UUID
	EnrolledStudents []uuid.UUID
	StartTime        time.Time
	DurationMinutes  int
	Timezone         string
	MeetingLink      string // optional join-URL override
}

// Create validates the request, creates the remote meeting, and persists the
// session. The order matters: nothing is written locally until the provider
// call succeeds, so a failed remote call never leaves an orphaned session.
func (c *Controller) Create(ctx context.Context, actor Actor, in CreateInput) (*models.Session, error) {
	orgID, err := c.resolveOrg(actor, in.OrganizationID)
	if err != nil {
		return nil, err
	}

	in.Topic = strings.TrimSpace(in.Topic)
	if in.Topic == "" {
		return nil, &ValidationError{Field: "topic", Message: "must not be empty"}
	}
	if !in.StartTime.After(c.now()) {
		return nil, &ValidationError{Field: "start_time", Message: "must be in the future"}
	}
	if in.DurationMinutes <= 0 {
		return nil, &ValidationError{Field: "duration_minutes", Message: "must be positive"}
	}
	if in.InstructorID == uuid.Nil {
		return nil, &ValidationError{Field: "instructor_id", Message: "is required"}
	}

	instructor, err := c.users.GetByID(ctx, in.InstructorID)
	if err != nil {
		return nil, fmt.Errorf("resolve instructor: %w", err)
	}
	if instructor == nil {
		return nil, &ValidationError{Field: "instructor_id", Message: "unknown instructor"}
	}

	meeting, err := c.provider.CreateMeeting(ctx, provider.CreateMeetingInput{
		Topic:           in.Topic,
		Agenda:          in.Description,
		StartTime:       in.StartTime,
		DurationMinutes: in.DurationMinutes,
		Timezone:        in.Timezone,
		HostEmail:       instructor.Email,
	})
	if err != nil {
		c.logger.Error("remote meeting creation failed", zap.Error(err), zap.String("topic", in.Topic))
		if err == provider.ErrConfiguration {
			return nil, err
		}
		return nil, ErrProviderUnavailable
	}

	encPasscode, err := c.enc.Encrypt(meeting.Passcode)
	if err != nil {
		return nil, fmt.Errorf("encrypt passcode: %w", err)
	}

	joinURL := meeting.JoinURL
	if in.MeetingLink != "" {
		joinURL = in.MeetingLink
	}

	sess := &models.Session{
		Topic:            in.Topic,
		Description:      in.Description,
		Category:         in.Category,
		Tags:             in.Tags,
		OrganizationID:   orgID,
		InstructorID:     in.InstructorID,
		CourseID:         in.CourseID,
		EnrolledStudents: in.EnrolledStudents,
		StartTime:        in.StartTime,
		DurationMinutes:  in.DurationMinutes,
		Timezone:         in.Timezone,
		Meeting: models.Meeting{
			MeetingID:         meeting.ID,
			MeetingNumber:     meeting.Number,
			EncryptedPasscode: encPasscode,
			JoinURL:           joinURL,
			HostURL:           meeting.HostURL,
			HostEmail:         meeting.HostEmail,
			CreatedAt:         meeting.CreatedAt,
		},
		Status:    models.SessionStatusScheduled,
		Recording: models.Recording{Status: models.RecordingStatusPending},
		Metrics:   &models.Metrics{},
	}
	if err := c.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	// Audience resolution and the scheduled notice run in the background;
	// the creator gets the session back immediately.
	if err := c.queue.EnqueueEnrollAudience(ctx, queue.EnrollAudiencePayload{SessionID: sess.ID}); err != nil {
		c.logger.Error("enqueue enroll audience failed", zap.Error(err), zap.String("session_id", sess.ID.String()))
	}

	c.cache.InvalidateOrgList(ctx, orgID)
	return View(actor, sess), nil
}

func (c *Controller) resolveOrg(actor Actor, requested *uuid.UUID) (uuid.UUID, error) {
	switch actor.Role {
	case models.RoleAdmin:
		if requested == nil {
			return uuid.Nil, &ValidationError{Field: "organization_id", Message: "is required"}
		}
		return *requested, nil
	case models.RoleOrganization:
		if actor.OrgID == nil {
			return uuid.Nil, ErrForbidden
		}
		if requested != nil && *requested != *actor.OrgID {
			return uuid.Nil, ErrForbidden
		}
		return *actor.OrgID, nil
	}
	return uuid.Nil, ErrForbidden
}

// loadSession fetches a session cache-first. Returns ErrNotFound when no row
// exists.
func (c *Controller) loadSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if sess, ok := c.cache.GetSession(ctx, id); ok {
		return sess, nil
	}
	sess, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	c.cache.SetSession(ctx, sess)
	return sess, nil
}

// Get returns one session shaped for the actor.
func (c *Controller) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.Session, error) {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, sess) {
		c.logger.Warn("session read denied",
			zap.String("session_id", id.String()),
			zap.String("actor_id", actor.ID.String()),
			zap.String("role", string(actor.Role)))
		return nil, ErrForbidden
	}
	return View(actor, sess), nil
}

// ListOptions narrows a listing within the actor's visible scope. Instructors
// and students already see a fixed scope, so the filter only applies to admin
// and organization actors.
type ListOptions struct {
	InstructorID *uuid.UUID
}

// List returns the sessions visible to the actor, newest first. Organization
// listings are served cache-aside.
func (c *Controller) List(ctx context.Context, actor Actor, opts ListOptions) ([]*models.Session, error) {
	switch actor.Role {
	case models.RoleAdmin:
		list, err := c.store.List(ctx, ListFilter{InstructorID: opts.InstructorID})
		if err != nil {
			return nil, err
		}
		return ViewList(actor, list), nil
	case models.RoleOrganization:
		if actor.OrgID == nil {
			return nil, ErrForbidden
		}
		if opts.InstructorID != nil {
			// Filtered listings bypass the org-list cache; it only holds the
			// unfiltered result.
			list, err := c.store.List(ctx, ListFilter{OrganizationID: actor.OrgID, InstructorID: opts.InstructorID})
			if err != nil {
				return nil, err
			}
			return ViewList(actor, list), nil
		}
		if list, ok := c.cache.GetOrgList(ctx, *actor.OrgID); ok {
			return ViewList(actor, list), nil
		}
		list, err := c.store.List(ctx, ListFilter{OrganizationID: actor.OrgID})
		if err != nil {
			return nil, err
		}
		c.cache.SetOrgList(ctx, *actor.OrgID, list)
		return ViewList(actor, list), nil
	case models.RoleInstructor:
		id := actor.ID
		list, err := c.store.List(ctx, ListFilter{InstructorID: &id})
		if err != nil {
			return nil, err
		}
		return ViewList(actor, list), nil
	case models.RoleStudent:
		id := actor.ID
		list, err := c.store.List(ctx, ListFilter{StudentID: &id, StudentOrgID: actor.OrgID})
		if err != nil {
			return nil, err
		}
		return ViewList(actor, list), nil
	}
	return nil, ErrForbidden
}

// ListRecordings returns ended sessions whose recordings are ready to play.
// Non-admin actors see their own organization only.
func (c *Controller) ListRecordings(ctx context.Context, actor Actor, limit int) ([]*models.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var orgID *uuid.UUID
	if actor.Role != models.RoleAdmin {
		if actor.OrgID == nil {
			return nil, ErrForbidden
		}
		orgID = actor.OrgID
	}
	list, err := c.store.ListAvailableRecordings(ctx, orgID, limit)
	if err != nil {
		return nil, err
	}
	return ViewList(actor, list), nil
}

// Status returns just the lifecycle status, served from the short-TTL status
// cache when warm.
func (c *Controller) Status(ctx context.Context, actor Actor, id uuid.UUID) (string, error) {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return "", err
	}
	if !canView(actor, sess) {
		return "", ErrForbidden
	}
	if status, ok := c.cache.GetStatus(ctx, id); ok {
		return status, nil
	}
	c.cache.SetStatus(ctx, id, sess.Status)
	return sess.Status, nil
}

// Start transitions a scheduled session to live and overwrites the scheduled
// start time with the actual one.
func (c *Controller) Start(ctx context.Context, actor Actor, id uuid.UUID) (*models.Session, error) {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.LegacyProvider {
		return nil, ErrLegacyReadOnly
	}
	if !canRunLifecycle(actor, sess) {
		return nil, ErrForbidden
	}
	if sess.Status != models.SessionStatusScheduled {
		return nil, &TransitionError{From: sess.Status, Event: "start"}
	}

	startedAt := c.now()
	if err := c.store.SetLive(ctx, id, startedAt); err != nil {
		return nil, fmt.Errorf("set live: %w", err)
	}
	c.invalidate(ctx, sess)

	sess.Status = models.SessionStatusLive
	sess.StartTime = startedAt
	return View(actor, sess), nil
}

// End transitions a session to ended and kicks off metrics finalization and
// recording sync as independent background jobs. Deliberately lenient: a
// scheduled session that never went live can still be ended, and re-ending
// an ended session is a no-op.
func (c *Controller) End(ctx context.Context, actor Actor, id uuid.UUID) (*models.Session, error) {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.LegacyProvider {
		return nil, ErrLegacyReadOnly
	}
	if !canRunLifecycle(actor, sess) {
		return nil, ErrForbidden
	}
	if sess.IsDeleted || sess.Status == models.SessionStatusCancelled {
		return nil, &TransitionError{From: sess.Status, Event: "end"}
	}
	if sess.Status == models.SessionStatusEnded {
		return View(actor, sess), nil
	}

	endedAt := c.now()
	if err := c.store.SetEnded(ctx, id, endedAt); err != nil {
		return nil, fmt.Errorf("set ended: %w", err)
	}

	// Each side effect is queued on its own; one failing to enqueue never
	// blocks the other or the response.
	if err := c.queue.EnqueueFinalizeMetrics(ctx, queue.FinalizeMetricsPayload{SessionID: id}); err != nil {
		c.logger.Error("enqueue finalize metrics failed", zap.Error(err), zap.String("session_id", id.String()))
	}
	if err := c.queue.EnqueueRecordingSync(ctx, queue.RecordingSyncPayload{SessionID: id}); err != nil {
		c.logger.Error("enqueue recording sync failed", zap.Error(err), zap.String("session_id", id.String()))
	}

	c.invalidate(ctx, sess)

	sess.Status = models.SessionStatusEnded
	sess.EndedAt = &endedAt
	return View(actor, sess), nil
}

// UpdateInput carries the mutable-field patch. Nil pointers mean "unchanged".
type UpdateInput struct {
	Topic            *string
	Description      *string
	Category         *string
	Tags             []string
	StartTime        *time.Time
	DurationMinutes  *int
	Timezone         *string
	EnrolledStudents []uuid.UUID
	MeetingLink      *string
	Status           *string
}

// Update applies the allow-listed mutable fields to a non-terminal session.
// When the topic, start time, or meeting link changed, the enrolled audience
// is notified in the background with exactly those field names.
func (c *Controller) Update(ctx context.Context, actor Actor, id uuid.UUID, in UpdateInput) (*models.Session, error) {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.LegacyProvider {
		return nil, ErrLegacyReadOnly
	}
	if !canManage(actor, sess.OrganizationID) {
		return nil, ErrForbidden
	}
	if sess.Terminal() || sess.IsDeleted {
		return nil, &TransitionError{From: sess.Status, Event: "update"}
	}
	if in.DurationMinutes != nil && *in.DurationMinutes <= 0 {
		return nil, &ValidationError{Field: "duration_minutes", Message: "must be positive"}
	}
	if in.Topic != nil {
		trimmed := strings.TrimSpace(*in.Topic)
		if trimmed == "" {
			return nil, &ValidationError{Field: "topic", Message: "must not be empty"}
		}
		in.Topic = &trimmed
	}
	if in.Status != nil {
		// Terminal transitions go through the end and cancel operations.
		if *in.Status != models.SessionStatusScheduled && *in.Status != models.SessionStatusLive {
			return nil, &ValidationError{Field: "status", Message: "only scheduled or live may be set here"}
		}
	}

	var changed []string
	if in.Topic != nil && *in.Topic != sess.Topic {
		changed = append(changed, "topic")
	}
	if in.StartTime != nil && !in.StartTime.Equal(sess.StartTime) {
		changed = append(changed, "start_time")
	}
	if in.MeetingLink != nil && *in.MeetingLink != sess.Meeting.JoinURL {
		changed = append(changed, "meeting_link")
	}

	fields := UpdateFields{
		Topic:            in.Topic,
		Description:      in.Description,
		Category:         in.Category,
		Tags:             in.Tags,
		StartTime:        in.StartTime,
		DurationMinutes:  in.DurationMinutes,
		Timezone:         in.Timezone,
		EnrolledStudents: in.EnrolledStudents,
		JoinURL:          in.MeetingLink,
		Status:           in.Status,
	}
	if err := c.store.Update(ctx, id, fields); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	c.invalidate(ctx, sess)

	if len(changed) > 0 {
		err := c.queue.EnqueueSessionNotice(ctx, queue.SessionNoticePayload{
			SessionID:     id,
			Kind:          models.NotificationKindUpdated,
			ChangedFields: changed,
		})
		if err != nil {
			c.logger.Error("enqueue update notice failed", zap.Error(err), zap.String("session_id", id.String()))
		}
	}

	updated, err := c.store.GetByID(ctx, id)
	if err != nil || updated == nil {
		return View(actor, sess), nil
	}
	return View(actor, updated), nil
}

// Cancel soft-deletes a session. The row survives for history; the status
// moves to cancelled. Idempotent for already-cancelled sessions.
func (c *Controller) Cancel(ctx context.Context, actor Actor, id uuid.UUID) error {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.LegacyProvider {
		return ErrLegacyReadOnly
	}
	if !canManage(actor, sess.OrganizationID) {
		return ErrForbidden
	}
	if sess.Status == models.SessionStatusCancelled {
		return nil
	}
	if sess.Status == models.SessionStatusEnded {
		return &TransitionError{From: sess.Status, Event: "cancel"}
	}
	if err := c.store.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	c.invalidate(ctx, sess)
	return nil
}

// Notify fans a manual reminder out to the enrolled audience, rate limited
// per session.
func (c *Controller) Notify(ctx context.Context, actor Actor, id uuid.UUID) error {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return err
	}
	if !canManage(actor, sess.OrganizationID) && !canRunLifecycle(actor, sess) {
		return ErrForbidden
	}
	if sess.LastNotifiedAt != nil && c.now().Sub(*sess.LastNotifiedAt) < notifyCooldown {
		return &ValidationError{Field: "notify", Message: "audience was notified recently, try again later"}
	}
	err = c.queue.EnqueueSessionNotice(ctx, queue.SessionNoticePayload{
		SessionID: id,
		Kind:      models.NotificationKindReminder,
	})
	if err != nil {
		return fmt.Errorf("enqueue reminder: %w", err)
	}
	now := c.now()
	if err := c.store.SetLastNotified(ctx, id, now); err != nil {
		c.logger.Warn("set last notified failed", zap.Error(err), zap.String("session_id", id.String()))
	}
	c.cache.InvalidateSession(ctx, id)
	return nil
}

// RecordingStatus returns the recording sub-record. Asking about a still
// processing recording of an ended session triggers an on-demand sync pass.
func (c *Controller) RecordingStatus(ctx context.Context, actor Actor, id uuid.UUID) (*models.Recording, error) {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, sess) {
		return nil, ErrForbidden
	}
	if sess.Status == models.SessionStatusEnded && !sess.LegacyProvider &&
		(sess.Recording.Status == models.RecordingStatusPending || sess.Recording.Status == models.RecordingStatusProcessing) {
		err := c.queue.EnqueueRecordingSync(ctx, queue.RecordingSyncPayload{
			SessionID: id,
			Attempt:   sess.Recording.SyncAttempts,
		})
		if err != nil {
			c.logger.Warn("enqueue on-demand recording sync failed", zap.Error(err), zap.String("session_id", id.String()))
		}
	}
	rec := sess.Recording
	return &rec, nil
}

// PlaybackURL returns the recording playback link once the session ended and
// the recording completed.
func (c *Controller) PlaybackURL(ctx context.Context, actor Actor, id uuid.UUID) (string, error) {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return "", err
	}
	if !canView(actor, sess) {
		return "", ErrForbidden
	}
	if sess.Status != models.SessionStatusEnded || sess.Recording.Status != models.RecordingStatusCompleted || sess.Recording.PlayURL == "" {
		return "", ErrRecordingNotReady
	}
	return sess.Recording.PlayURL, nil
}

// Join records the actor joining a live session.
func (c *Controller) Join(ctx context.Context, actor Actor, id uuid.UUID) error {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.LegacyProvider {
		return ErrLegacyReadOnly
	}
	if !canView(actor, sess) {
		return ErrForbidden
	}
	if sess.Status != models.SessionStatusLive {
		return &TransitionError{From: sess.Status, Event: "join"}
	}
	return c.tracker.Join(ctx, id, actor.ID)
}

// Leave records the actor leaving. Accepted in any state: a viewer may leave
// after the session was ended underneath them.
func (c *Controller) Leave(ctx context.Context, actor Actor, id uuid.UUID) error {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return err
	}
	if !canView(actor, sess) {
		return ErrForbidden
	}
	return c.tracker.Leave(ctx, id, actor.ID)
}

// SDKConfig is everything a client needs to join the meeting through the
// provider SDK.
type SDKConfig struct {
	SDKKey        string    `json:"sdk_key"`
	Signature     string    `json:"signature"`
	MeetingNumber int64     `json:"meeting_number"`
	Passcode      string    `json:"passcode"`
	JoinURL       string    `json:"join_url"`
	Host          bool      `json:"host"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SDKConfigFor issues a signed SDK join configuration for the actor. Hosts
// (the instructor, the owning organization, admins) get a host-role token.
func (c *Controller) SDKConfigFor(ctx context.Context, actor Actor, id uuid.UUID) (*SDKConfig, error) {
	sess, err := c.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.LegacyProvider {
		return nil, ErrLegacyReadOnly
	}
	if !canView(actor, sess) {
		return nil, ErrForbidden
	}
	if sess.IsDeleted || sess.Status == models.SessionStatusCancelled || sess.Status == models.SessionStatusEnded {
		return nil, &TransitionError{From: sess.Status, Event: "join"}
	}

	passcode, err := c.enc.Decrypt(sess.Meeting.EncryptedPasscode)
	if err != nil {
		return nil, fmt.Errorf("decrypt passcode: %w", err)
	}

	host := canRunLifecycle(actor, sess)
	signature, expiresAt, err := c.signer.Sign(sess.Meeting.MeetingNumber, host)
	if err != nil {
		return nil, fmt.Errorf("sign sdk token: %w", err)
	}
	return &SDKConfig{
		SDKKey:        c.signer.Key(),
		Signature:     signature,
		MeetingNumber: sess.Meeting.MeetingNumber,
		Passcode:      passcode,
		JoinURL:       sess.Meeting.JoinURL,
		Host:          host,
		ExpiresAt:     expiresAt,
	}, nil
}

// EnrollAudience resolves the target audience (course enrollees when the
// session belongs to a course, otherwise every student in the organization),
// merges it with any explicitly enrolled students, and notifies the newly
// added viewers. Runs from the worker.
func (c *Controller) EnrollAudience(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := c.store.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.IsDeleted {
		return nil
	}

	var targets []uuid.UUID
	if sess.CourseID != nil {
		targets, err = c.audience.CourseStudentIDs(ctx, *sess.CourseID)
	} else {
		targets, err = c.audience.OrgStudentIDs(ctx, sess.OrganizationID)
	}
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	existing := make(map[uuid.UUID]struct{}, len(sess.EnrolledStudents))
	merged := append([]uuid.UUID(nil), sess.EnrolledStudents...)
	for _, id := range sess.EnrolledStudents {
		existing[id] = struct{}{}
	}
	var added []uuid.UUID
	for _, id := range targets {
		if _, ok := existing[id]; ok {
			continue
		}
		existing[id] = struct{}{}
		merged = append(merged, id)
		added = append(added, id)
	}

	if len(added) > 0 {
		if err := c.store.SetEnrolledStudents(ctx, sessionID, merged); err != nil {
			return fmt.Errorf("set enrolled students: %w", err)
		}
	}

	message := fmt.Sprintf("New live session %q scheduled for %s",
		sess.Topic, sess.StartTime.Format(time.RFC3339))
	c.dispatchAll(ctx, sessionID, added, models.NotificationKindScheduled, message)

	now := c.now()
	if err := c.store.SetLastNotified(ctx, sessionID, now); err != nil {
		c.logger.Warn("set last notified failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	c.invalidate(ctx, sess)
	c.logger.Info("audience enrolled",
		zap.String("session_id", sessionID.String()),
		zap.Int("added", len(added)),
		zap.Int("total", len(merged)))
	return nil
}

// NotifyAudience fans a notice out to every enrolled viewer. Runs from the
// worker for update notices and manual reminders.
func (c *Controller) NotifyAudience(ctx context.Context, sessionID uuid.UUID, kind string, changedFields []string) error {
	sess, err := c.store.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.IsDeleted {
		return nil
	}

	var message string
	switch kind {
	case models.NotificationKindUpdated:
		message = fmt.Sprintf("Session %q was updated: %s changed", sess.Topic, strings.Join(changedFields, ", "))
	case models.NotificationKindReminder:
		message = fmt.Sprintf("Reminder: session %q starts at %s", sess.Topic, sess.StartTime.Format(time.RFC3339))
	default:
		message = fmt.Sprintf("Session %q has news", sess.Topic)
	}

	c.dispatchAll(ctx, sessionID, sess.EnrolledStudents, kind, message)
	return nil
}

// dispatchAll delivers one notice per viewer on both channels. Individual
// delivery failures are logged and skipped.
func (c *Controller) dispatchAll(ctx context.Context, sessionID uuid.UUID, userIDs []uuid.UUID, kind, message string) {
	channels := []string{models.NotificationChannelEmail, models.NotificationChannelPush}
	for _, userID := range userIDs {
		for _, channel := range channels {
			if err := c.notifier.Dispatch(ctx, sessionID, userID, channel, kind, message); err != nil {
				c.logger.Warn("notification dispatch failed",
					zap.Error(err),
					zap.String("session_id", sessionID.String()),
					zap.String("user_id", userID.String()),
					zap.String("channel", channel))
			}
		}
	}
}

// invalidate drops every cache entry a mutation could have staled.
func (c *Controller) invalidate(ctx context.Context, sess *models.Session) {
	c.cache.InvalidateSession(ctx, sess.ID)
	c.cache.InvalidateOrgList(ctx, sess.OrganizationID)
}
