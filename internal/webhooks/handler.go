package webhooks

import (
	"context"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/pkg/queue"
	"github.com/classlive/backend/pkg/response"
)

// Signature headers sent by the provider.
const (
	HeaderSignature = "x-zm-signature"
	HeaderTimestamp = "x-zm-request-timestamp"
)

// Provider event types handled here.
const (
	EventURLValidation      = "endpoint.url_validation"
	EventRecordingCompleted = "recording.completed"
)

// SessionResolver maps a provider meeting ID to a session.
type SessionResolver interface {
	GetByMeetingID(ctx context.Context, meetingID string) (*models.Session, error)
}

// Enqueuer hands recording sync work to the job queue.
type Enqueuer interface {
	EnqueueRecordingSync(ctx context.Context, payload queue.RecordingSyncPayload) error
}

type event struct {
	Event   string `json:"event"`
	Payload struct {
		PlainToken string `json:"plainToken"`
		Object     struct {
			ID   json.Number `json:"id"`
			UUID string      `json:"uuid"`
		} `json:"object"`
	} `json:"payload"`
}

// Handler ingests provider webhook callbacks.
type Handler struct {
	validator *Validator
	sessions  SessionResolver
	enqueuer  Enqueuer
	logger    *zap.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(validator *Validator, sessions SessionResolver, enqueuer Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{validator: validator, sessions: sessions, enqueuer: enqueuer, logger: logger}
}

// Receive handles POST /webhooks/provider. Verified events always get a 200,
// including ones the service does not act on and ones whose processing fails;
// a non-2xx answer only tells the provider to retry.
func (h *Handler) Receive(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("webhook handler panic", zap.Any("panic", r))
			response.OK(c, gin.H{"received": true})
		}
	}()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}

	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		response.BadRequest(c, "invalid payload")
		return
	}

	// The handshake must succeed even before a secret is provisioned, or
	// the endpoint can never be registered.
	if ev.Event == EventURLValidation {
		response.OK(c, gin.H{
			"plainToken":     ev.Payload.PlainToken,
			"encryptedToken": h.validator.EncryptToken(ev.Payload.PlainToken),
		})
		return
	}

	// Only the handshake gets the no-secret leniency; everything else is
	// rejected until a secret is provisioned.
	if !h.validator.Configured() {
		h.logger.Warn("webhook rejected: no secret configured",
			zap.String("event", ev.Event),
			zap.String("remote_addr", c.ClientIP()))
		response.Unauthorized(c, "webhook secret not configured")
		return
	}

	sig := c.GetHeader(HeaderSignature)
	ts := c.GetHeader(HeaderTimestamp)
	if err := h.validator.Verify(sig, ts, body); err != nil {
		h.logger.Warn("webhook rejected",
			zap.Error(err),
			zap.String("event", ev.Event),
			zap.String("remote_addr", c.ClientIP()))
		response.Unauthorized(c, "signature verification failed")
		return
	}

	switch ev.Event {
	case EventRecordingCompleted:
		h.handleRecordingCompleted(c, &ev)
	default:
		h.logger.Debug("webhook event ignored", zap.String("event", ev.Event))
		response.OK(c, gin.H{"received": true})
	}
}

func (h *Handler) handleRecordingCompleted(c *gin.Context, ev *event) {
	meetingID := ev.Payload.Object.ID.String()
	if meetingID == "" {
		meetingID = ev.Payload.Object.UUID
	}
	sess, err := h.sessions.GetByMeetingID(c.Request.Context(), meetingID)
	if err != nil {
		// Acknowledge anyway: a 5xx here would make the provider retry-storm
		// a verified event we already logged.
		h.logger.Error("webhook session lookup failed", zap.Error(err), zap.String("meeting_id", meetingID))
		response.OK(c, gin.H{"received": true})
		return
	}
	if sess == nil {
		// Not an error: the meeting may belong to another deployment or a
		// deleted session. Acknowledge so the provider stops retrying.
		h.logger.Warn("webhook for unknown meeting", zap.String("meeting_id", meetingID))
		response.OK(c, gin.H{"received": true})
		return
	}

	err = h.enqueuer.EnqueueRecordingSync(c.Request.Context(), queue.RecordingSyncPayload{
		SessionID: sess.ID,
		Attempt:   sess.Recording.SyncAttempts,
	})
	if err != nil {
		h.logger.Error("webhook enqueue failed", zap.Error(err), zap.String("session_id", sess.ID.String()))
		response.OK(c, gin.H{"received": true})
		return
	}
	h.logger.Info("recording completion received",
		zap.String("session_id", sess.ID.String()),
		zap.String("meeting_id", meetingID))
	response.OK(c, gin.H{"received": true})
}
