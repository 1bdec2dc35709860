package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/adpulse/assistant-gateway/internal/assistant"
	"github.com/adpulse/assistant-gateway/internal/config"
	"github.com/adpulse/assistant-gateway/internal/logger"
)

// maxErrorBodyBytes bounds how much of an error response is read for
// diagnostics.
const maxErrorBodyBytes = 4 * 1024

// chatMessage is one entry of the upstream chat-completions request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the upstream request body.
type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Client opens streaming chat-completion calls against the hosted AI
// provider. It implements assistant.StreamOpener.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	prompts    *config.AssistantConfig
	logger     *logger.Logger
}

// NewClient creates a provider client from the application config.
func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	prompts := cfg.Assistant
	if prompts == nil {
		prompts = config.DefaultAssistantConfig()
	}

	return &Client{
		// The timeout caps the whole call including the streamed body read,
		// so a stalled upstream cannot hold a session open forever.
		httpClient: &http.Client{Timeout: cfg.ProviderRequestTimeout},
		baseURL:    cfg.ProviderBaseURL,
		apiKey:     cfg.ProviderAPIKey,
		prompts:    prompts,
		logger:     log.WithComponent("provider"),
	}
}

// OpenStream starts the upstream streaming call and returns its body. The
// system prompt is selected by the request's analysis type; the conversation
// history follows it in order.
func (c *Client) OpenStream(ctx context.Context, req assistant.StreamRequest) (io.ReadCloser, error) {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	messages = append(messages, chatMessage{
		Role:    "system",
		Content: c.prompts.PromptFor(req.AnalysisType),
	})
	for _, msg := range req.Messages {
		// The empty placeholder is part of the snapshot; it carries nothing
		// the model should see.
		if msg.Content == "" {
			continue
		}
		messages = append(messages, chatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:    c.prompts.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("opening upstream stream",
		slog.String("conversation_id", req.ConversationID),
		slog.String("analysis_type", req.AnalysisType),
		slog.Int("history_messages", len(messages)-1))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &assistant.TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &assistant.TransportError{
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}
	}

	if resp.Body == nil {
		return nil, assistant.ErrStreamUnsupported
	}

	return resp.Body, nil
}
