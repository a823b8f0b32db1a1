package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification channels.
const (
	NotificationChannelEmail = "email"
	NotificationChannelPush  = "push"
)

// Notification kinds dispatched by the session lifecycle.
const (
	NotificationKindScheduled = "session_scheduled"
	NotificationKindUpdated   = "session_updated"
	NotificationKindReminder  = "session_reminder"
)

// NotificationEntry is one append-only row in a session's notification log.
type NotificationEntry struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	Channel   string    `json:"channel"`
	Kind      string    `json:"kind"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}
