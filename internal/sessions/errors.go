package sessions

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no session matched the identifier.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden means the actor may not perform the operation.
	ErrForbidden = errors.New("not authorized for this session")
	// ErrProviderUnavailable means the remote meeting call failed after
	// retries; nothing was persisted.
	ErrProviderUnavailable = errors.New("video provider unavailable, try again later")
	// ErrLegacyReadOnly means the session predates the current provider
	// integration and only serves reads.
	ErrLegacyReadOnly = errors.New("legacy session is read-only")
	// ErrRecordingNotReady means playback was requested before the recording
	// completed.
	ErrRecordingNotReady = errors.New("recording not ready")
)

// ValidationError reports a rejected input field. Rejections happen before
// any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransitionError reports an illegal state-machine transition.
type TransitionError struct {
	From  string
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a session in status %q", e.Event, e.From)
}
