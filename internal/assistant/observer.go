package assistant

// SessionState is the lifecycle state of a stream session.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateSending   SessionState = "sending"
	StateStreaming SessionState = "streaming"
	StateCompleted SessionState = "completed"
	StateCancelled SessionState = "cancelled"
	StateFailed    SessionState = "failed"
)

// Terminal reports whether the state ends a session.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Observer receives synchronous notifications from a Controller. Callbacks
// are invoked in application order from the session's reader goroutine (or
// the caller's goroutine for Send/Clear), never concurrently for one
// conversation. Implementations must not block.
type Observer interface {
	// MessagePublished is invoked for every appended message and for every
	// content update of the streaming placeholder.
	MessagePublished(msg Message)

	// MessageRemoved is invoked when a placeholder is discarded on
	// cancellation.
	MessageRemoved(messageID string)

	// ConversationCleared is invoked when the conversation is reset.
	ConversationCleared()

	// SessionFinished is invoked on every terminal transition.
	SessionFinished(state SessionState)
}

// NopObserver is an Observer that ignores all notifications.
type NopObserver struct{}

func (NopObserver) MessagePublished(Message)     {}
func (NopObserver) MessageRemoved(string)        {}
func (NopObserver) ConversationCleared()         {}
func (NopObserver) SessionFinished(SessionState) {}
