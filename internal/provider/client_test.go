package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adpulse/assistant-gateway/internal/assistant"
	"github.com/adpulse/assistant-gateway/internal/config"
	"github.com/adpulse/assistant-gateway/internal/logger"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := &config.Config{
		ProviderBaseURL:        baseURL,
		ProviderAPIKey:         "test-key",
		ProviderRequestTimeout: 5 * time.Second,
		Assistant:              config.DefaultAssistantConfig(),
	}
	return NewClient(cfg, logger.New(logger.Config{Level: slog.LevelError}))
}

func TestOpenStreamSendsChatCompletionRequest(t *testing.T) {
	var captured chatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("unexpected accept header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"hi"}}]}` + "\n\ndata: [DONE]\n"))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)

	body, err := client.OpenStream(context.Background(), assistant.StreamRequest{
		ConversationID: "conv-1",
		AnalysisType:   "budget",
		Messages: []assistant.Message{
			{Role: assistant.RoleUser, Content: "how is pacing?"},
			{Role: assistant.RoleAssistant, Content: ""}, // placeholder, must be skipped
		},
	})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if len(raw) == 0 {
		t.Error("expected SSE bytes")
	}

	if !captured.Stream {
		t.Error("expected stream=true")
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" {
		t.Errorf("expected system prompt first, got %s", captured.Messages[0].Role)
	}
	if captured.Messages[0].Content != config.DefaultAssistantConfig().PromptFor("budget") {
		t.Errorf("expected the budget analysis prompt, got %q", captured.Messages[0].Content)
	}
	if captured.Messages[1].Content != "how is pacing?" {
		t.Errorf("unexpected user message %q", captured.Messages[1].Content)
	}
}

func TestOpenStreamNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)

	_, err := client.OpenStream(context.Background(), assistant.StreamRequest{ConversationID: "conv-1"})
	if err == nil {
		t.Fatal("expected an error")
	}

	var terr *assistant.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %T", err)
	}
	if terr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", terr.StatusCode)
	}
}

func TestOpenStreamHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.OpenStream(ctx, assistant.StreamRequest{ConversationID: "conv-1"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
