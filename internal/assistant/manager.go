package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adpulse/assistant-gateway/internal/logger"
	"github.com/robfig/cron/v3"
)

// ObserverFactory builds the observer attached to a new conversation's
// controller, typically the websocket hub for that conversation.
type ObserverFactory func(conversationID string) Observer

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Opener          StreamOpener
	ObserverFactory ObserverFactory

	// OnRemove is invoked with the conversation ID whenever the idle sweep
	// drops a conversation, letting per-conversation resources (the websocket
	// hub) be released with it. Optional.
	OnRemove func(conversationID string)

	IdleTTL   time.Duration
	SweepSpec string // cron spec, e.g. "@every 5m"
	Logger    *logger.Logger
}

// Manager is the registry of live conversations.
//
// Responsibilities:
//   - Create controllers on first use of a conversation ID
//   - Look up controllers for sends, stops and snapshots
//   - Sweep idle conversations on a schedule to bound memory
//   - Cancel all active sessions on shutdown
//
// All public methods are thread-safe.
type Manager struct {
	mu            sync.RWMutex
	conversations map[string]*Controller

	opener          StreamOpener
	observerFactory ObserverFactory
	onRemove        func(conversationID string)
	idleTTL         time.Duration
	logger          *logger.Logger
	cron            *cron.Cron
}

// NewManager creates a manager and starts its idle sweep schedule.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Opener == nil {
		return nil, fmt.Errorf("manager requires a stream opener")
	}
	if opts.ObserverFactory == nil {
		opts.ObserverFactory = func(string) Observer { return NopObserver{} }
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.SweepSpec == "" {
		opts.SweepSpec = "@every 5m"
	}

	m := &Manager{
		conversations:   make(map[string]*Controller),
		opener:          opts.Opener,
		observerFactory: opts.ObserverFactory,
		onRemove:        opts.OnRemove,
		idleTTL:         opts.IdleTTL,
		logger:          opts.Logger.WithComponent("assistant-manager"),
		cron:            cron.New(),
	}

	if _, err := m.cron.AddFunc(opts.SweepSpec, m.sweepIdle); err != nil {
		return nil, fmt.Errorf("invalid sweep spec %q: %w", opts.SweepSpec, err)
	}
	m.cron.Start()

	m.logger.Info("conversation manager initialized",
		slog.Duration("idle_ttl", opts.IdleTTL),
		slog.String("sweep_spec", opts.SweepSpec))

	return m, nil
}

// Get returns the controller for a conversation, or nil if it does not exist.
func (m *Manager) Get(conversationID string) *Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conversations[conversationID]
}

// GetOrCreate returns the controller for a conversation, creating it on first
// use. The second return value reports whether it was created.
func (m *Manager) GetOrCreate(conversationID string) (*Controller, bool) {
	m.mu.RLock()
	if ctrl, exists := m.conversations[conversationID]; exists {
		m.mu.RUnlock()
		return ctrl, false
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check: another goroutine might have created it while we waited
	// for the write lock.
	if ctrl, exists := m.conversations[conversationID]; exists {
		return ctrl, false
	}

	ctrl := NewController(conversationID, m.opener, m.observerFactory(conversationID), m.logger)
	m.conversations[conversationID] = ctrl

	m.logger.Info("conversation created",
		slog.String("conversation_id", conversationID))

	return ctrl, true
}

// CancelActive cancels the active session of a conversation owned by this
// instance. Returns found (the conversation exists here) and stopped (a
// session was actually cancelled).
func (m *Manager) CancelActive(conversationID string) (found, stopped bool) {
	ctrl := m.Get(conversationID)
	if ctrl == nil {
		return false, false
	}
	return true, ctrl.Stop()
}

// Count returns the number of live conversations.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// sweepIdle drops conversations with no active session that have been unused
// for longer than the idle TTL.
func (m *Manager) sweepIdle() {
	m.mu.Lock()
	var removed []string
	for id, ctrl := range m.conversations {
		if ctrl.Idle(m.idleTTL) {
			delete(m.conversations, id)
			removed = append(removed, id)
		}
	}
	remaining := len(m.conversations)
	m.mu.Unlock()

	if m.onRemove != nil {
		for _, id := range removed {
			m.onRemove(id)
		}
	}

	if len(removed) > 0 {
		m.logger.Info("swept idle conversations",
			slog.Int("removed", len(removed)),
			slog.Int("remaining", remaining))
	}
}

// Shutdown stops the sweep schedule and cancels every active session. It
// returns once all sessions have torn down or ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cron.Stop()

	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.conversations))
	for _, ctrl := range m.conversations {
		controllers = append(controllers, ctrl)
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		for _, ctrl := range controllers {
			ctrl.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("conversation manager shut down",
			slog.Int("conversations", len(controllers)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
