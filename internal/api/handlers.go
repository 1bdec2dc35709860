package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/adpulse/assistant-gateway/internal/assistant"
	"github.com/adpulse/assistant-gateway/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sendMessageRequest is the body of POST /v1/conversations/:id/messages.
type sendMessageRequest struct {
	Content      string `json:"content" binding:"required"`
	AnalysisType string `json:"analysis_type"`
}

// Handler carries the dependencies of the HTTP surface.
type Handler struct {
	manager     *assistant.Manager
	hubs        *HubRegistry
	distributed *assistant.DistributedCancelService
	logger      *logger.Logger
	upgrader    websocket.Upgrader
}

// NewHandler creates the HTTP handler set. distributed may be nil in
// single-instance mode.
func NewHandler(manager *assistant.Manager, hubs *HubRegistry, distributed *assistant.DistributedCancelService, log *logger.Logger) *Handler {
	return &Handler{
		manager:     manager,
		hubs:        hubs,
		distributed: distributed,
		logger:      log.WithComponent("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens in the CORS middleware; the dashboard
			// fronts this service behind its own gateway.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SendMessage handles POST /v1/conversations/:id/messages. The send is
// accepted and streamed in the background; clients follow progress over the
// conversation's websocket.
func (h *Handler) SendMessage(c *gin.Context) {
	conversationID := c.Param("id")

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	ctrl, _ := h.manager.GetOrCreate(conversationID)

	if err := ctrl.Send(req.Content, req.AnalysisType); err != nil {
		if errors.Is(err, assistant.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}
		h.logger.Error("failed to start stream session",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"conversation_id": conversationID,
		"streaming":       true,
	})
}

// GetConversation handles GET /v1/conversations/:id. Unknown conversations
// return an empty snapshot rather than 404: the dashboard treats every
// conversation ID as lazily created.
func (h *Handler) GetConversation(c *gin.Context) {
	conversationID := c.Param("id")

	ctrl := h.manager.Get(conversationID)
	if ctrl == nil {
		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conversationID,
			"messages":        []assistant.Message{},
			"streaming":       false,
			"state":           string(assistant.StateIdle),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"messages":        ctrl.Messages(),
		"streaming":       ctrl.Streaming(),
		"state":           string(ctrl.State()),
	})
}

// ClearConversation handles DELETE /v1/conversations/:id/messages. An active
// session is cancelled before the history is reset.
func (h *Handler) ClearConversation(c *gin.Context) {
	conversationID := c.Param("id")

	ctrl := h.manager.Get(conversationID)
	if ctrl != nil {
		ctrl.Clear()
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"cleared":         true,
	})
}

// StopStream handles POST /v1/conversations/:id/stop. The stop is first tried
// locally; if this instance does not own the conversation the request is
// forwarded over NATS to whichever instance does.
func (h *Handler) StopStream(c *gin.Context) {
	conversationID := c.Param("id")

	found, stopped := h.manager.CancelActive(conversationID)
	if found {
		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conversationID,
			"stopped":         stopped,
		})
		return
	}

	if h.distributed == nil {
		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conversationID,
			"stopped":         false,
		})
		return
	}

	resp, err := h.distributed.RequestCancel(c.Request.Context(), conversationID)
	if err != nil {
		h.logger.Error("distributed cancel failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel request failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"stopped":         resp.Success,
	})
}

// StreamEvents handles GET /v1/conversations/:id/ws. It upgrades to a
// websocket, sends a snapshot of the conversation, then forwards hub events
// until the client disconnects.
func (h *Handler) StreamEvents(c *gin.Context) {
	conversationID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
		return
	}

	snapshot := wsEvent{Type: "snapshot", Timestamp: time.Now().Format(time.RFC3339)}
	if ctrl := h.manager.Get(conversationID); ctrl != nil {
		snapshot.Messages = ctrl.Messages()
		snapshot.Streaming = ctrl.Streaming()
	} else {
		snapshot.Messages = []assistant.Message{}
	}

	hub := h.hubs.Hub(conversationID)
	subscriberID := uuid.NewString()

	if err := hub.Subscribe(c.Request.Context(), subscriberID, conn, snapshot); err != nil {
		conn.Close()
		return
	}

	// Read loop: clients send nothing meaningful, but reading is how we learn
	// the connection dropped.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			hub.Unsubscribe(subscriberID)
			return
		}
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"conversations": h.manager.Count(),
	})
}
