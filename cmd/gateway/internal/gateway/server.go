package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/feed"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/tickfeed/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Addr           string
	Session        SessionConfig
	StatusInterval time.Duration
}

// Server accepts WebSocket connections and runs one Session per connection.
type Server struct {
	opts   Options
	hub    *hub.Hub
	source feed.Source
	logger *zap.Logger
	clock  clockwork.Clock

	// sessions outlive their HTTP handler's request context, so they hang off this one
	sessionCtx   context.Context
	stopSessions context.CancelFunc
	mu           sync.Mutex
	listener     net.Listener
	httpServer   *http.Server
}

func NewServer(opts Options, h *hub.Hub, source feed.Source, logger *zap.Logger, clock clockwork.Clock) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:         opts,
		hub:          h,
		source:       source,
		logger:       logger,
		clock:        clock,
		sessionCtx:   ctx,
		stopSessions: cancel,
	}
}

// Handler routes /healthz and /metrics; every other path is the feed endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		metrics.HandshakeFailures.Inc()
		s.logger.Debug("Handshake failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	session := NewSession(wrapConn(conn, rw), s.source, s.hub, s.logger, s.clock, s.opts.Session)
	session.Run(s.sessionCtx)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Sessions  int       `json:"sessions"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Sessions:  s.hub.Count(),
		Symbol:    s.opts.Session.Symbol,
		Timestamp: s.clock.Now(),
	})
}

// Listen binds the configured address. No connection is accepted until Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.opts.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done, then stops the listener and
// closes every live session.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return errors.New("serve called before listen")
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	go s.hub.RunStatusReporter(ctx, s.opts.StatusInterval)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server Started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	// Hijacked connections are invisible to http.Server.Shutdown
	s.stopSessions()
	s.hub.CloseAll()

	return serveErr
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}
