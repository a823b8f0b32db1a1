package sessions

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classlive/backend/internal/middleware"
	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/internal/provider"
	"github.com/classlive/backend/pkg/response"
)

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Topic            string   `json:"topic" binding:"required"`
	Description      string   `json:"description"`
	Category         string   `json:"category"`
	Tags             []string `json:"tags"`
	OrganizationID   *string  `json:"organization_id"` // admin only
	InstructorID     string   `json:"instructor_id" binding:"required,uuid"`
	CourseID         *string  `json:"course_id"`
	EnrolledStudents []string `json:"enrolled_students"`
	StartTime        string   `json:"start_time" binding:"required"`
	DurationMinutes  int      `json:"duration_minutes" binding:"required"`
	Timezone         string   `json:"timezone"`
	MeetingLink      string   `json:"meeting_link"`
}

// UpdateRequest is the body for PATCH /sessions/:id. Absent fields stay
// unchanged.
type UpdateRequest struct {
	Topic            *string  `json:"topic"`
	Description      *string  `json:"description"`
	Category         *string  `json:"category"`
	Tags             []string `json:"tags"`
	StartTime        *string  `json:"start_time"`
	DurationMinutes  *int     `json:"duration_minutes"`
	Timezone         *string  `json:"timezone"`
	EnrolledStudents []string `json:"enrolled_students"`
	MeetingLink      *string  `json:"meeting_link"`
	Status           *string  `json:"status"`
}

// Handler exposes the session lifecycle over HTTP.
type Handler struct {
	ctrl *Controller
}

// NewHandler creates a session handler.
func NewHandler(ctrl *Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

func actorFrom(c *gin.Context) Actor {
	actor := Actor{
		ID:    c.MustGet(middleware.ContextUserID).(uuid.UUID),
		Role:  c.MustGet(middleware.ContextUserRole).(models.Role),
		Email: c.GetString(middleware.ContextUserEmail),
	}
	if v, ok := c.Get(middleware.ContextOrgID); ok {
		orgID := v.(uuid.UUID)
		actor.OrgID = &orgID
	}
	return actor
}

func respondErr(c *gin.Context, err error) {
	var vErr *ValidationError
	var tErr *TransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "session not found")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, "not authorized for this session")
	case errors.Is(err, ErrLegacyReadOnly):
		response.BadRequest(c, "legacy session is read-only")
	case errors.Is(err, ErrRecordingNotReady):
		response.BadRequest(c, "recording not ready")
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, provider.ErrUnavailable):
		response.ServiceUnavailable(c, "video provider unavailable, try again later")
	case errors.Is(err, provider.ErrConfiguration):
		response.ServiceUnavailable(c, "video provider configuration error")
	case errors.As(err, &vErr), errors.As(err, &tErr):
		response.BadRequest(c, err.Error())
	default:
		response.Internal(c, "internal error")
	}
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Create handles POST /sessions (organization or admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	startTime, err := parseTime(req.StartTime)
	if err != nil {
		response.BadRequest(c, "invalid start_time")
		return
	}
	instructorID, err := uuid.Parse(req.InstructorID)
	if err != nil {
		response.BadRequest(c, "invalid instructor_id")
		return
	}
	students, err := parseUUIDs(req.EnrolledStudents)
	if err != nil {
		response.BadRequest(c, "invalid enrolled_students")
		return
	}

	in := CreateInput{
		Topic:            req.Topic,
		Description:      req.Description,
		Category:         req.Category,
		Tags:             req.Tags,
		InstructorID:     instructorID,
		EnrolledStudents: students,
		StartTime:        startTime,
		DurationMinutes:  req.DurationMinutes,
		Timezone:         req.Timezone,
		MeetingLink:      req.MeetingLink,
	}
	if req.OrganizationID != nil {
		orgID, err := uuid.Parse(*req.OrganizationID)
		if err != nil {
			response.BadRequest(c, "invalid organization_id")
			return
		}
		in.OrganizationID = &orgID
	}
	if req.CourseID != nil {
		courseID, err := uuid.Parse(*req.CourseID)
		if err != nil {
			response.BadRequest(c, "invalid course_id")
			return
		}
		in.CourseID = &courseID
	}

	sess, err := h.ctrl.Create(c.Request.Context(), actorFrom(c), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.Created(c, sess)
}

// List handles GET /sessions. ?mine=1 narrows to sessions the caller
// instructs; ?instructor_id=<uuid> narrows to a specific instructor.
func (h *Handler) List(c *gin.Context) {
	actor := actorFrom(c)

	var opts ListOptions
	if c.Query("mine") == "1" {
		id := actor.ID
		opts.InstructorID = &id
	} else if raw := c.Query("instructor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid instructor_id")
			return
		}
		opts.InstructorID = &id
	}

	list, err := h.ctrl.List(c.Request.Context(), actor, opts)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.ctrl.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, sess)
}

// Status handles GET /sessions/:id/status.
func (h *Handler) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	status, err := h.ctrl.Status(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, gin.H{"status": status})
}

// Start handles POST /sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.ctrl.Start(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, sess)
}

// End handles POST /sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.ctrl.End(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, sess)
}

// Update handles PATCH /sessions/:id.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	in := UpdateInput{
		Topic:           req.Topic,
		Description:     req.Description,
		Category:        req.Category,
		Tags:            req.Tags,
		DurationMinutes: req.DurationMinutes,
		Timezone:        req.Timezone,
		MeetingLink:     req.MeetingLink,
		Status:          req.Status,
	}
	if req.StartTime != nil {
		t, err := parseTime(*req.StartTime)
		if err != nil {
			response.BadRequest(c, "invalid start_time")
			return
		}
		in.StartTime = &t
	}
	if req.EnrolledStudents != nil {
		students, err := parseUUIDs(req.EnrolledStudents)
		if err != nil {
			response.BadRequest(c, "invalid enrolled_students")
			return
		}
		in.EnrolledStudents = students
	}

	sess, err := h.ctrl.Update(c.Request.Context(), actorFrom(c), id, in)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, sess)
}

// Cancel handles DELETE /sessions/:id.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.ctrl.Cancel(c.Request.Context(), actorFrom(c), id); err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, gin.H{"cancelled": true})
}

// Notify handles POST /sessions/:id/notify.
func (h *Handler) Notify(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.ctrl.Notify(c.Request.Context(), actorFrom(c), id); err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) && vErr.Field == "notify" {
			response.TooManyRequests(c, vErr.Message)
			return
		}
		respondErr(c, err)
		return
	}
	response.OK(c, gin.H{"notified": true})
}

// RecordingStatus handles GET /sessions/:id/recording.
func (h *Handler) RecordingStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	rec, err := h.ctrl.RecordingStatus(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, rec)
}

// Playback handles GET /sessions/:id/recording/play.
func (h *Handler) Playback(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	url, err := h.ctrl.PlaybackURL(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, gin.H{"play_url": url})
}

// Join handles POST /sessions/:id/join.
func (h *Handler) Join(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.ctrl.Join(c.Request.Context(), actorFrom(c), id); err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, gin.H{"joined": true})
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.ctrl.Leave(c.Request.Context(), actorFrom(c), id); err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, gin.H{"left": true})
}

// SDKConfig handles GET /sessions/:id/sdk-config.
func (h *Handler) SDKConfig(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	cfg, err := h.ctrl.SDKConfigFor(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, cfg)
}

// ListRecordings handles GET /recordings.
func (h *Handler) ListRecordings(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	list, err := h.ctrl.ListRecordings(c.Request.Context(), actorFrom(c), limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.OK(c, list)
}
