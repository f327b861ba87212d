package hub

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tickfeed/pkg/metrics"
)

type SessionInterface interface {
	ID() string
	RemoteAddr() string
	Close()
}

// Hub tracks live sessions. Sessions never talk to each other through it;
// it exists for connection accounting and shutdown.
type Hub struct {
	sessions map[string]SessionInterface

	logger *zap.Logger
	clock  clockwork.Clock
	mu     sync.RWMutex
}

func NewHub(logger *zap.Logger, clock clockwork.Clock) *Hub {
	return &Hub{
		sessions: make(map[string]SessionInterface),
		logger:   logger,
		clock:    clock,
	}
}

func (h *Hub) Register(s SessionInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s.ID()] = s
	metrics.ActiveSessions.Set(float64(len(h.sessions)))
	h.logger.Info("Client connected",
		zap.String("session_id", s.ID()),
		zap.String("remote_addr", s.RemoteAddr()),
		zap.Int("sessions", len(h.sessions)))
}

// Unregister is idempotent.
func (h *Hub) Unregister(s SessionInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID()]; !ok {
		return
	}
	delete(h.sessions, s.ID())
	metrics.ActiveSessions.Set(float64(len(h.sessions)))
	h.logger.Info("Client disconnected",
		zap.String("session_id", s.ID()),
		zap.String("remote_addr", s.RemoteAddr()),
		zap.Int("sessions", len(h.sessions)))
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Sessions() []SessionInterface {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]SessionInterface, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every registered session. Sessions unregister themselves
// once their loops have stopped.
func (h *Hub) CloseAll() {
	// Close outside the lock; Close may race with the session's own Unregister
	for _, s := range h.Sessions() {
		s.Close()
	}
}

// RunStatusReporter logs the connected client count every interval until ctx is done.
func (h *Hub) RunStatusReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := h.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.logger.Info("Server status", zap.Int("connected_clients", h.Count()))
		}
	}
}
