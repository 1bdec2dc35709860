package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adpulse/assistant-gateway/internal/logger"
	"github.com/nats-io/nats.go"
)

const (
	// NATS subject for session cancellation requests.
	sessionCancelSubject = "assistant.session.cancel"

	// Timeout for distributed cancel requests.
	distributedCancelTimeout = 5 * time.Second
)

// CancelRequest asks whichever instance owns the conversation's active
// session to cancel it.
type CancelRequest struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
}

// CancelResponse is the reply from the owning instance.
type CancelResponse struct {
	Success    bool   `json:"success"`
	Found      bool   `json:"found"`
	Error      string `json:"error,omitempty"`
	InstanceID string `json:"instance_id"`
}

// DistributedCancelService handles cross-instance session cancellation via
// NATS. Conversations live in-memory on the instance that created them; when
// a stop request lands on a different instance, the request is broadcast on
// the cancel subject and the owning instance replies with the result.
type DistributedCancelService struct {
	nc           *nats.Conn
	manager      *Manager
	logger       *logger.Logger
	instanceID   string
	subscription *nats.Subscription
}

// NewDistributedCancelService creates the service. Returns nil if no NATS
// connection is available; callers treat a nil service as single-instance
// mode.
func NewDistributedCancelService(nc *nats.Conn, manager *Manager, logger *logger.Logger, instanceID string) *DistributedCancelService {
	if nc == nil {
		return nil
	}

	return &DistributedCancelService{
		nc:         nc,
		manager:    manager,
		logger:     logger.WithComponent("distributed-cancel"),
		instanceID: instanceID,
	}
}

// Start begins listening for cancel requests from other instances.
func (s *DistributedCancelService) Start() error {
	sub, err := s.nc.Subscribe(sessionCancelSubject, s.handleCancelRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sessionCancelSubject, err)
	}

	s.subscription = sub
	s.logger.Info("distributed cancel service started",
		slog.String("subject", sessionCancelSubject),
		slog.String("instance_id", s.instanceID))

	return nil
}

// Stop gracefully shuts down the service.
func (s *DistributedCancelService) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	s.logger.Info("distributed cancel service stopped")
	return nil
}

// RequestCancel broadcasts a cancel request and waits for the owning
// instance's reply. A missing reply means no instance owns an active session
// for the conversation.
func (s *DistributedCancelService) RequestCancel(ctx context.Context, conversationID string) (*CancelResponse, error) {
	req := CancelRequest{
		ConversationID: conversationID,
		Reason:         "user_cancelled",
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, distributedCancelTimeout)
	defer cancel()

	msg, err := s.nc.RequestWithContext(reqCtx, sessionCancelSubject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return &CancelResponse{Success: false, Found: false}, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return &CancelResponse{Success: false, Found: false}, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}

	var resp CancelResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// handleCancelRequest processes incoming cancel requests. Only the instance
// that owns the conversation replies; others stay silent.
func (s *DistributedCancelService) handleCancelRequest(msg *nats.Msg) {
	var req CancelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("received invalid cancel request", slog.String("error", err.Error()))
		return
	}

	found, stopped := s.manager.CancelActive(req.ConversationID)
	if !found {
		s.logger.Debug("conversation not owned by this instance, ignoring",
			slog.String("conversation_id", req.ConversationID))
		return
	}

	resp := CancelResponse{
		Success:    stopped,
		Found:      true,
		InstanceID: s.instanceID,
	}
	if !stopped {
		resp.Error = "no active session"
	}

	s.reply(msg, resp)

	s.logger.Info("processed distributed cancel request",
		slog.String("conversation_id", req.ConversationID),
		slog.Bool("success", resp.Success))
}

// reply sends a response back to the requester.
func (s *DistributedCancelService) reply(msg *nats.Msg, resp CancelResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", slog.String("error", err.Error()))
		return
	}

	if err := msg.Respond(data); err != nil {
		s.logger.Error("failed to send response", slog.String("error", err.Error()))
	}
}
