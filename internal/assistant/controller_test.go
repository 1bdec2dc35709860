package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adpulse/assistant-gateway/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

// openerFunc adapts a function to the StreamOpener interface.
type openerFunc func(ctx context.Context, req StreamRequest) (io.ReadCloser, error)

func (f openerFunc) OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	return f(ctx, req)
}

// mockReadCloser implements io.ReadCloser for testing
type mockReadCloser struct {
	reader io.Reader
	closed bool
}

func (m *mockReadCloser) Read(p []byte) (n int, err error) {
	return m.reader.Read(p)
}

func (m *mockReadCloser) Close() error {
	m.closed = true
	return nil
}

func newMockSSEStream(stream string) io.ReadCloser {
	return &mockReadCloser{reader: strings.NewReader(stream)}
}

// blockingBody yields its data once, then blocks until the session context is
// cancelled, simulating an upstream that never finishes on its own.
type blockingBody struct {
	ctx  context.Context
	data []byte
	sent bool
}

func (b *blockingBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, b.data), nil
	}
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *blockingBody) Close() error { return nil }

// recordingObserver captures observer callbacks for assertions.
type recordingObserver struct {
	mu        sync.Mutex
	published []Message
	removed   []string
	cleared   int
	finished  chan SessionState
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(chan SessionState, 8)}
}

func (r *recordingObserver) MessagePublished(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, msg)
}

func (r *recordingObserver) MessageRemoved(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, messageID)
}

func (r *recordingObserver) ConversationCleared() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
}

func (r *recordingObserver) SessionFinished(state SessionState) {
	r.finished <- state
}

func (r *recordingObserver) publishedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func waitFinished(t *testing.T, rec *recordingObserver) SessionState {
	t.Helper()
	select {
	case state := <-rec.finished:
		return state
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to finish")
		return StateIdle
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestControllerSendCompletes(t *testing.T) {
	stream := deltaEvent("Hello") + deltaEvent(" World") + "data: [DONE]\n"
	opener := openerFunc(func(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
		return newMockSSEStream(stream), nil
	})

	rec := newRecordingObserver()
	ctrl := NewController("conv-1", opener, rec, testLogger())

	if err := ctrl.Send("how is my CTR trending?", "performance"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if state := waitFinished(t, rec); state != StateCompleted {
		t.Errorf("expected completed, got %s", state)
	}

	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "how is my CTR trending?" {
		t.Errorf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Hello World" {
		t.Errorf("unexpected assistant message: %+v", msgs[1])
	}
	if ctrl.Streaming() {
		t.Error("expected no active session after completion")
	}
	if ctrl.State() != StateIdle {
		t.Errorf("expected idle state, got %s", ctrl.State())
	}
}

func TestControllerEmptyStreamFallback(t *testing.T) {
	opener := openerFunc(func(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
		return newMockSSEStream("data: [DONE]\n"), nil
	})

	rec := newRecordingObserver()
	ctrl := NewController("conv-1", opener, rec, testLogger())

	if err := ctrl.Send("hello", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if state := waitFinished(t, rec); state != StateCompleted {
		t.Errorf("expected completed, got %s", state)
	}

	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Content != FallbackResponseText {
		t.Errorf("expected fallback text, got %q", msgs[1].Content)
	}
}

func TestControllerSendRejectsBlankContent(t *testing.T) {
	opener := openerFunc(func(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
		t.Fatal("opener must not be called for blank content")
		return nil, nil
	})

	ctrl := NewController("conv-1", opener, nil, testLogger())

	if err := ctrl.Send("   \n\t", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if len(ctrl.Messages()) != 0 {
		t.Error("blank send must not touch the conversation")
	}
}

func TestControllerStopRemovesPlaceholder(t *testing.T) {
	opener := openerFunc(func(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
		return &blockingBody{ctx: ctx, data: []byte(deltaEvent("partial answer"))}, nil
	})

	rec := newRecordingObserver()
	ctrl := NewController("conv-1", opener, rec, testLogger())

	if err := ctrl.Send("hello", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Wait for the partial delta to land so we know the session is mid-stream.
	waitFor(t, func() bool { return rec.publishedCount() >= 3 })

	if !ctrl.Stop() {
		t.Fatal("expected Stop to cancel an active session")
	}
	if state := waitFinished(t, rec); state != StateCancelled {
		t.Errorf("expected cancelled, got %s", state)
	}

	// The placeholder and its partial content are gone; the user message stays.
	msgs := ctrl.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleUser {
		t.Errorf("expected only the user message to remain, got %v", msgs)
	}

	rec.mu.Lock()
	removed := len(rec.removed)
	rec.mu.Unlock()
	if removed != 1 {
		t.Errorf("expected one removal event, got %d", removed)
	}

	if ctrl.Stop() {
		t.Error("expected Stop to report no active session")
	}
}

func TestControllerSendSupersedesActiveSession(t *testing.T) {
	var calls int
	var mu sync.Mutex
	opener := openerFunc(func(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return &blockingBody{ctx: ctx, data: []byte(deltaEvent("draft"))}, nil
		}
		return newMockSSEStream(deltaEvent("Second") + "data: [DONE]\n"), nil
	})

	rec := newRecordingObserver()
	ctrl := NewController("conv-1", opener, rec, testLogger())

	if err := ctrl.Send("first", ""); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	waitFor(t, func() bool { return rec.publishedCount() >= 3 })

	if err := ctrl.Send("second", ""); err != nil {
		t.Fatalf("second Send failed: %v", err)
	}

	if state := waitFinished(t, rec); state != StateCancelled {
		t.Errorf("expected first session cancelled, got %s", state)
	}
	if state := waitFinished(t, rec); state != StateCompleted {
		t.Errorf("expected second session completed, got %s", state)
	}

	msgs := ctrl.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d: %v", len(msgs), msgs)
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("unexpected user messages: %v", msgs)
	}
	if msgs[2].Role != RoleAssistant || msgs[2].Content != "Second" {
		t.Errorf("unexpected assistant message: %+v", msgs[2])
	}
}

func TestControllerOpenFailureSetsErrorText(t *testing.T) {
	opener := openerFunc(func(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
		return nil, &TransportError{StatusCode: 502, Body: "bad gateway"}
	})

	rec := newRecordingObserver()
	ctrl := NewController("conv-1", opener, rec, testLogger())

	if err := ctrl.Send("hello", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if state := waitFinished(t, rec); state != StateFailed {
		t.Errorf("expected failed, got %s", state)
	}

	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Content != ErrorResponseText {
		t.Errorf("expected error text, got %q", msgs[1].Content)
	}
}

func TestControllerNilBodyFails(t *testing.T) {
	opener := openerFunc(func(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
		return nil, nil
	})

	rec := newRecordingObserver()
	ctrl := NewController("conv-1", opener, rec, testLogger())

	if err := ctrl.Send("hello", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if state := waitFinished(t, rec); state != StateFailed {
		t.Errorf("expected failed, got %s", state)
	}
	if msgs := ctrl.Messages(); msgs[1].Content != ErrorResponseText {
		t.Errorf("expected error text, got %q", msgs[1].Content)
	}
}

func TestControllerClear(t *testing.T) {
	opener := openerFunc(func(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
		return newMockSSEStream(deltaEvent("done") + "data: [DONE]\n"), nil
	})

	rec := newRecordingObserver()
	ctrl := NewController("conv-1", opener, rec, testLogger())

	if err := ctrl.Send("hello", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitFinished(t, rec)

	ctrl.Clear()

	if len(ctrl.Messages()) != 0 {
		t.Error("expected empty conversation after Clear")
	}

	rec.mu.Lock()
	cleared := rec.cleared
	rec.mu.Unlock()
	if cleared != 1 {
		t.Errorf("expected one cleared event, got %d", cleared)
	}
}

func TestControllerClearCancelsActiveSession(t *testing.T) {
	opener := openerFunc(func(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
		return &blockingBody{ctx: ctx, data: []byte(deltaEvent("partial"))}, nil
	})

	rec := newRecordingObserver()
	ctrl := NewController("conv-1", opener, rec, testLogger())

	if err := ctrl.Send("hello", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitFor(t, func() bool { return rec.publishedCount() >= 3 })

	ctrl.Clear()

	if state := waitFinished(t, rec); state != StateCancelled {
		t.Errorf("expected cancelled, got %s", state)
	}
	if len(ctrl.Messages()) != 0 {
		t.Error("expected empty conversation after Clear")
	}
	if ctrl.Streaming() {
		t.Error("expected no active session after Clear")
	}
}
