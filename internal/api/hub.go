package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adpulse/assistant-gateway/internal/assistant"
	"github.com/adpulse/assistant-gateway/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	// heartbeatInterval keeps idle dashboard connections alive through proxies.
	heartbeatInterval = 30 * time.Second

	// writeTimeout is the per-message websocket write deadline.
	writeTimeout = 10 * time.Second

	// subscriberBufferSize is the capacity of a subscriber's send channel.
	subscriberBufferSize = 100
)

// errHubClosed is returned when subscribing to a hub that has shut down.
var errHubClosed = errors.New("hub is closed")

// wsEvent is the envelope pushed to dashboard clients.
// Type is one of: snapshot, message_published, message_removed,
// conversation_cleared, session_finished, heartbeat.
type wsEvent struct {
	Type      string              `json:"type"`
	Timestamp string              `json:"timestamp"`
	Message   *assistant.Message  `json:"message,omitempty"`
	MessageID string              `json:"message_id,omitempty"`
	State     string              `json:"state,omitempty"`
	Messages  []assistant.Message `json:"messages,omitempty"`
	Streaming bool                `json:"streaming,omitempty"`
}

// ConversationHub fans conversation updates out to the websocket clients of a
// single conversation. It implements assistant.Observer, so the controller's
// synchronous publish calls become broadcast events; sends are non-blocking
// so a slow client never stalls the stream consumer.
type ConversationHub struct {
	conversationID string
	logger         *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]*wsSubscriber
	closed      bool
}

// wsSubscriber is one dashboard websocket connection.
type wsSubscriber struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewConversationHub creates a hub for one conversation.
func NewConversationHub(conversationID string, log *logger.Logger) *ConversationHub {
	return &ConversationHub{
		conversationID: conversationID,
		logger:         log.WithComponent("conversation-hub"),
		subscribers:    make(map[string]*wsSubscriber),
	}
}

// MessagePublished implements assistant.Observer.
func (h *ConversationHub) MessagePublished(msg assistant.Message) {
	h.broadcast(wsEvent{
		Type:      "message_published",
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   &msg,
	})
}

// MessageRemoved implements assistant.Observer.
func (h *ConversationHub) MessageRemoved(messageID string) {
	h.broadcast(wsEvent{
		Type:      "message_removed",
		Timestamp: time.Now().Format(time.RFC3339),
		MessageID: messageID,
	})
}

// ConversationCleared implements assistant.Observer.
func (h *ConversationHub) ConversationCleared() {
	h.broadcast(wsEvent{
		Type:      "conversation_cleared",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// SessionFinished implements assistant.Observer.
func (h *ConversationHub) SessionFinished(state assistant.SessionState) {
	h.broadcast(wsEvent{
		Type:      "session_finished",
		Timestamp: time.Now().Format(time.RFC3339),
		State:     string(state),
	})
}

// Subscribe adds a websocket connection and starts its send loop. The caller
// keeps reading from conn to detect disconnects and must call Unsubscribe
// when the read side fails.
func (h *ConversationHub) Subscribe(ctx context.Context, subscriberID string, conn *websocket.Conn, snapshot wsEvent) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errHubClosed
	}

	subCtx, subCancel := context.WithCancel(ctx)
	sub := &wsSubscriber{
		id:     subscriberID,
		conn:   conn,
		sendCh: make(chan []byte, subscriberBufferSize),
		ctx:    subCtx,
		cancel: subCancel,
	}

	// The snapshot is queued before the subscriber becomes reachable by
	// broadcast, so it is always the first event a client receives and a
	// concurrent publish can never be ordered ahead of it.
	sub.sendCh <- data
	h.subscribers[subscriberID] = sub
	total := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Info("subscriber added",
		slog.String("subscriber_id", subscriberID),
		slog.String("conversation_id", h.conversationID),
		slog.Int("total_subscribers", total))

	go h.sendLoop(sub)

	return nil
}

// Unsubscribe removes a websocket connection.
func (h *ConversationHub) Unsubscribe(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, exists := h.subscribers[subscriberID]
	if !exists {
		return
	}

	sub.cancel()
	delete(h.subscribers, subscriberID)

	h.logger.Info("subscriber removed",
		slog.String("subscriber_id", subscriberID),
		slog.String("conversation_id", h.conversationID),
		slog.Int("remaining_subscribers", len(h.subscribers)))
}

// SubscriberCount returns the number of connected clients.
func (h *ConversationHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close cancels all subscribers and rejects future ones.
func (h *ConversationHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, sub := range h.subscribers {
		sub.cancel()
	}
	h.subscribers = make(map[string]*wsSubscriber)
}

// broadcast sends an event to all subscribers without blocking.
func (h *ConversationHub) broadcast(event wsEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.subscribers) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", slog.String("error", err.Error()))
		return
	}

	for _, sub := range h.subscribers {
		select {
		case sub.sendCh <- data:
		default:
			// Channel full, subscriber is slow.
			h.logger.Warn("subscriber channel full, dropping event",
				slog.String("subscriber_id", sub.id),
				slog.String("conversation_id", h.conversationID))
		}
	}
}

// sendLoop writes queued events and heartbeats to one connection.
func (h *ConversationHub) sendLoop(sub *wsSubscriber) {
	defer func() {
		sub.conn.Close()
		h.Unsubscribe(sub.id)
	}()

	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case data := <-sub.sendCh:
			if err := h.write(sub, data); err != nil {
				h.logger.Warn("failed to write to websocket",
					slog.String("error", err.Error()),
					slog.String("subscriber_id", sub.id))
				return
			}

		case <-heartbeatTicker.C:
			data, err := json.Marshal(wsEvent{
				Type:      "heartbeat",
				Timestamp: time.Now().Format(time.RFC3339),
			})
			if err != nil {
				continue
			}
			if err := h.write(sub, data); err != nil {
				return
			}

		case <-sub.ctx.Done():
			return
		}
	}
}

func (h *ConversationHub) write(sub *wsSubscriber, data []byte) error {
	sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.conn.WriteMessage(websocket.TextMessage, data)
}

// HubRegistry holds one hub per conversation and doubles as the observer
// factory handed to the conversation manager.
type HubRegistry struct {
	mu     sync.Mutex
	hubs   map[string]*ConversationHub
	logger *logger.Logger
}

func NewHubRegistry(log *logger.Logger) *HubRegistry {
	return &HubRegistry{
		hubs:   make(map[string]*ConversationHub),
		logger: log,
	}
}

// Hub returns the hub for a conversation, creating it on first use.
func (r *HubRegistry) Hub(conversationID string) *ConversationHub {
	r.mu.Lock()
	defer r.mu.Unlock()

	hub, exists := r.hubs[conversationID]
	if !exists {
		hub = NewConversationHub(conversationID, r.logger)
		r.hubs[conversationID] = hub
	}
	return hub
}

// ObserverFor implements assistant.ObserverFactory.
func (r *HubRegistry) ObserverFor(conversationID string) assistant.Observer {
	return r.Hub(conversationID)
}

// Remove closes and drops the hub of a conversation. Called when the
// conversation itself is removed, so hub lifetime tracks conversation
// lifetime.
func (r *HubRegistry) Remove(conversationID string) {
	r.mu.Lock()
	hub, exists := r.hubs[conversationID]
	if exists {
		delete(r.hubs, conversationID)
	}
	r.mu.Unlock()

	if exists {
		hub.Close()
	}
}

// Close shuts down every hub.
func (r *HubRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, hub := range r.hubs {
		hub.Close()
	}
	r.hubs = make(map[string]*ConversationHub)
}
