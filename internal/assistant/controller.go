package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adpulse/assistant-gateway/internal/logger"
	"github.com/google/uuid"
)

// readBufferSize is the size of the chunk buffer for upstream reads.
const readBufferSize = 4096

// ErrEmptyMessage is returned by Send when the content is blank.
var ErrEmptyMessage = errors.New("message content is empty")

// StreamRequest describes one upstream streaming call.
type StreamRequest struct {
	ConversationID string
	Messages       []Message
	AnalysisType   string
}

// StreamOpener opens the upstream byte stream for a request. The returned
// body delivers raw SSE bytes; the opener must honor ctx so that an in-flight
// read fails with context.Canceled once the session is cancelled.
type StreamOpener interface {
	OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error)
}

// Controller orchestrates one conversation: it owns the message history, runs
// at most one stream session at a time, and applies the error and
// finalization policy for every terminal transition.
//
// Concurrency model: Send, Stop and Clear are serialized. A new Send first
// cancels the prior session and waits for its teardown, so two sessions never
// publish to the same conversation concurrently. Chunks of a session are
// consumed strictly in delivery order by a single goroutine; cancellation is
// a cooperative token observed at chunk boundaries.
type Controller struct {
	id       string
	opener   StreamOpener
	observer Observer
	logger   *logger.Logger

	// sendMu serializes the cancel-then-start supersede path.
	sendMu sync.Mutex

	mu       sync.Mutex
	conv     *Conversation
	active   *streamSession
	lastUsed time.Time
}

// streamSession is the consumption of exactly one streamed response for one
// sent message.
type streamSession struct {
	targetMessageID string
	state           SessionState
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	consumer        *StreamConsumer
	accumulated     strings.Builder
}

// NewController creates a controller for one conversation.
func NewController(id string, opener StreamOpener, observer Observer, log *logger.Logger) *Controller {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Controller{
		id:       id,
		opener:   opener,
		observer: observer,
		logger: log.WithComponent("assistant-controller").WithFields(map[string]interface{}{
			"conversation_id": id,
		}),
		conv:     NewConversation(),
		lastUsed: time.Now(),
	}
}

// ID returns the conversation identifier.
func (c *Controller) ID() string {
	return c.id
}

// Messages returns a snapshot of the conversation in order.
func (c *Controller) Messages() []Message {
	return c.conv.Messages()
}

// Streaming reports whether a session is currently active.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// State returns the state of the active session, or StateIdle.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return StateIdle
	}
	return c.active.state
}

// LastUsed returns the time of the last send, clear or terminal transition.
func (c *Controller) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// Idle reports whether the conversation has no active session and has been
// unused for at least ttl.
func (c *Controller) Idle(ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == nil && time.Since(c.lastUsed) >= ttl
}

// Send appends a user message and an empty assistant placeholder, then starts
// a new stream session targeting the placeholder. If a prior session is still
// active it is cancelled first and its teardown (placeholder removal) runs to
// completion before the new placeholder is created.
func (c *Controller) Send(content, analysisType string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if prior := c.activeSession(); prior != nil {
		prior.cancel()
		<-prior.done
	}

	now := time.Now()
	userMsg := Message{ID: uuid.NewString(), Role: RoleUser, Content: content, Timestamp: now}
	placeholder := Message{ID: uuid.NewString(), Role: RoleAssistant, Timestamp: now}
	c.conv.Append(userMsg)
	c.conv.Append(placeholder)

	sctx, cancel := context.WithCancel(context.Background())
	s := &streamSession{
		targetMessageID: placeholder.ID,
		state:           StateSending,
		ctx:             sctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		consumer:        NewStreamConsumer(),
	}

	c.mu.Lock()
	c.active = s
	c.lastUsed = now
	c.mu.Unlock()

	c.observer.MessagePublished(userMsg)
	c.observer.MessagePublished(placeholder)

	history := c.conv.Messages()
	metricSessionsStarted.Inc()
	metricActiveSessions.Inc()

	go c.run(s, history, analysisType)

	return nil
}

// Stop cancels the active session, if any, and waits for its teardown.
// Conversation history is kept. Returns false when no session was active.
func (c *Controller) Stop() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.activeSession()
	if s == nil {
		return false
	}
	s.cancel()
	<-s.done
	return true
}

// Clear cancels any active session and resets the conversation to empty.
func (c *Controller) Clear() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if s := c.activeSession(); s != nil {
		s.cancel()
		<-s.done
	}

	c.conv.Reset()

	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()

	c.observer.ConversationCleared()
}

func (c *Controller) activeSession() *streamSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) setState(s *streamSession, state SessionState) {
	c.mu.Lock()
	s.state = state
	c.mu.Unlock()
}

// run is the reader loop of one session. It owns the session from the open
// call to the terminal transition.
func (c *Controller) run(s *streamSession, history []Message, analysisType string) {
	defer close(s.done)
	defer metricActiveSessions.Dec()

	body, err := c.opener.OpenStream(s.ctx, StreamRequest{
		ConversationID: c.id,
		Messages:       history,
		AnalysisType:   analysisType,
	})
	if err != nil {
		if s.ctx.Err() != nil || isCancellation(err) {
			c.teardownCancelled(s)
			return
		}
		c.fail(s, err)
		return
	}
	if body == nil {
		c.fail(s, ErrStreamUnsupported)
		return
	}
	defer body.Close()

	c.setState(s, StateStreaming)

	buf := make([]byte, readBufferSize)
	for {
		// Cancellation is cooperative, observed once per chunk. Unread bytes
		// past the cancellation point are dropped.
		if s.ctx.Err() != nil {
			c.teardownCancelled(s)
			return
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			deltas, terminated := s.consumer.Feed(buf[:n])
			c.applyDeltas(s, deltas)
			if terminated {
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if s.ctx.Err() != nil || isCancellation(readErr) {
				c.teardownCancelled(s)
				return
			}
			c.fail(s, readErr)
			return
		}
	}

	c.applyDeltas(s, s.consumer.Flush())
	c.complete(s)
}

// applyDeltas appends deltas to the accumulated text in arrival order and
// publishes the full placeholder content after each one.
func (c *Controller) applyDeltas(s *streamSession, deltas []string) {
	for _, delta := range deltas {
		s.accumulated.WriteString(delta)
		msg, ok := c.conv.SetContent(s.targetMessageID, s.accumulated.String())
		if !ok {
			continue
		}
		metricDeltasApplied.Inc()
		metricDeltaBytes.Add(float64(len(delta)))
		c.observer.MessagePublished(msg)
	}
}

func (c *Controller) complete(s *streamSession) {
	if s.accumulated.Len() == 0 {
		if msg, ok := c.conv.SetContent(s.targetMessageID, FallbackResponseText); ok {
			c.observer.MessagePublished(msg)
		}
	}

	c.logger.Info("stream session completed",
		slog.String("message_id", s.targetMessageID),
		slog.Int("content_length", s.accumulated.Len()))

	c.finish(s, StateCompleted)
}

// teardownCancelled removes the placeholder entirely: a cancelled session
// never leaves partial content behind.
func (c *Controller) teardownCancelled(s *streamSession) {
	if c.conv.Remove(s.targetMessageID) {
		c.observer.MessageRemoved(s.targetMessageID)
	}

	c.logger.Info("stream session cancelled",
		slog.String("message_id", s.targetMessageID))

	c.finish(s, StateCancelled)
}

// fail replaces the placeholder content with the fixed error text. The
// underlying error goes to diagnostics, never to the caller.
func (c *Controller) fail(s *streamSession, err error) {
	c.logger.Error("stream session failed",
		slog.String("message_id", s.targetMessageID),
		slog.String("error", err.Error()))

	if msg, ok := c.conv.SetContent(s.targetMessageID, ErrorResponseText); ok {
		c.observer.MessagePublished(msg)
	}

	c.finish(s, StateFailed)
}

func (c *Controller) finish(s *streamSession, state SessionState) {
	c.mu.Lock()
	s.state = state
	if c.active == s {
		c.active = nil
	}
	c.lastUsed = time.Now()
	c.mu.Unlock()

	metricSessionsFinished.WithLabelValues(string(state)).Inc()
	c.observer.SessionFinished(state)
}
