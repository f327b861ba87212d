package gateway

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/feed"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/tickfeed/pkg/metrics"
)

const defaultMaxMessageSize = 512 * 1024

// State is the connection state of a session. It only moves from OPEN to CLOSED.
type State int32

const (
	StateOpen   State = iota // accepted and serving ticks
	StateClosed              // terminal
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// SessionConfig controls the cadence and limits of a single session.
type SessionConfig struct {
	Symbol         string
	Interval       time.Duration
	PingPeriod     time.Duration // 0 disables keepalive pings
	WriteWait      time.Duration // 0 means writes never time out
	MaxMessageSize int64
}

// Session drives one client connection: a send loop pushing ticks and a
// receive loop draining whatever the client sends.
type Session struct {
	id          string
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time

	source feed.Source
	hub    *hub.Hub
	logger *zap.Logger
	clock  clockwork.Clock
	cfg    SessionConfig

	writeMu   sync.Mutex
	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(conn net.Conn, source feed.Source, h *hub.Hub, logger *zap.Logger, clock clockwork.Clock, cfg SessionConfig) *Session {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()

	return &Session{
		id:          id,
		conn:        conn,
		remoteAddr:  remote,
		connectedAt: clock.Now(),
		source:      source,
		hub:         h,
		logger:      logger.With(zap.String("session_id", id), zap.String("remote_addr", remote)),
		clock:       clock,
		cfg:         cfg,
		done:        make(chan struct{}),
	}
}

// ID is the generated session identifier used in logs and the hub registry.
func (s *Session) ID() string { return s.id }

// RemoteAddr is the peer address captured at accept time.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// State reports whether the session is still open.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session has transitioned to CLOSED.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close releases the connection and stops both loops. Safe to call repeatedly
// and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		_ = s.conn.Close()
	})
}

// Run blocks until both loops have stopped. Cancelling ctx closes the session.
func (s *Session) Run(ctx context.Context) {
	s.hub.Register(s)
	metrics.SessionsTotal.Inc()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer s.Close()
		s.sendLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		defer s.Close()
		s.receiveLoop()
	}()

	select {
	case <-ctx.Done():
		s.Close()
	case <-s.done:
	}
	wg.Wait()

	s.hub.Unregister(s)
	metrics.SessionDuration.Observe(s.clock.Since(s.connectedAt).Seconds())
}

func (s *Session) sendLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var ping <-chan time.Time
	if s.cfg.PingPeriod > 0 {
		pingTicker := s.clock.NewTicker(s.cfg.PingPeriod)
		defer pingTicker.Stop()
		ping = pingTicker.Chan()
	}

	// First tick goes out as soon as the connection is accepted
	if err := s.sendTick(ctx); err != nil {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			if err := s.sendTick(ctx); err != nil {
				return
			}
		case <-ping:
			if err := s.write(ws.OpPing, nil); err != nil {
				s.logWriteError("Ping failed", err)
				return
			}
		}
	}
}

// sendTick returns an error only when the connection is unusable.
func (s *Session) sendTick(ctx context.Context) error {
	tick, err := s.source.NextTick(ctx, s.cfg.Symbol)
	if err != nil {
		metrics.FeedErrors.Inc()
		s.logger.Warn("Feed source failed, skipping tick", zap.Error(err))
		return nil
	}

	payload, err := protocol.EncodeTick(tick)
	if err != nil {
		metrics.FeedErrors.Inc()
		s.logger.Error("Tick encode failed, skipping tick", zap.Error(err))
		return nil
	}

	if err := s.write(ws.OpText, payload); err != nil {
		s.logWriteError("Tick write failed", err)
		return err
	}

	metrics.TicksSent.Inc()
	s.logger.Info("Sent tick", zap.ByteString("payload", payload))
	return nil
}

func (s *Session) receiveLoop() {
	var (
		message []byte
		msgOp   ws.OpCode
		// StateFragmented is set while a fragmented message awaits its final frame
		state = ws.StateServerSide
	)

	for {
		header, err := ws.ReadHeader(s.conn)
		if err != nil {
			s.logReadError(err)
			return
		}

		// Rejects unmasked frames, reserved opcodes and RSV bits, bad control
		// frames, and continuations that do not match the fragmentation state
		if err := ws.CheckHeader(header, state); err != nil {
			s.logger.Warn("Protocol violation", zap.Error(err))
			s.writeClose(ws.StatusProtocolError, err.Error())
			return
		}

		if header.Length > s.cfg.MaxMessageSize || int64(len(message))+header.Length > s.cfg.MaxMessageSize {
			s.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			s.writeClose(ws.StatusMessageTooBig, "message too big")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(s.conn, payload); err != nil {
			s.logReadError(err)
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			code, reason := ws.ParseCloseFrameData(payload)
			s.logger.Info("Client closed connection", zap.Int("code", int(code)), zap.String("reason", reason))
			s.writeClose(ws.StatusNormalClosure, "")
			return
		case ws.OpPing:
			if err := s.write(ws.OpPong, payload); err != nil {
				s.logWriteError("Pong failed", err)
				return
			}
			continue
		case ws.OpPong:
			continue
		case ws.OpText, ws.OpBinary:
			message, msgOp = payload, header.OpCode
		case ws.OpContinuation:
			message = append(message, payload...)
		}

		if !header.Fin {
			state = state.Set(ws.StateFragmented)
			continue
		}
		state = state.Clear(ws.StateFragmented)
		s.onMessage(msgOp, message)
		message = nil
	}
}

// onMessage records a client message. Content is never interpreted.
func (s *Session) onMessage(op ws.OpCode, payload []byte) {
	metrics.ClientMessages.Inc()
	if op == ws.OpBinary {
		s.logger.Info("Received", zap.Binary("message", payload))
		return
	}
	s.logger.Info("Received", zap.ByteString("message", payload))
}

// write serializes every frame written to the connection.
func (s *Session) write(op ws.OpCode, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteWait > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	}
	return wsutil.WriteServerMessage(s.conn, op, payload)
}

func (s *Session) writeClose(code ws.StatusCode, reason string) {
	if err := s.write(ws.OpClose, ws.NewCloseFrameBody(code, reason)); err != nil {
		s.logger.Debug("Close frame not delivered", zap.Error(err))
	}
}

func (s *Session) logReadError(err error) {
	if s.State() == StateClosed || isClosedErr(err) {
		s.logger.Info("Connection closed", zap.String("loop", "receive"), zap.Error(err))
		return
	}
	s.logger.Warn("Read failed", zap.Error(err))
}

func (s *Session) logWriteError(msg string, err error) {
	if s.State() == StateClosed || isClosedErr(err) {
		s.logger.Info("Connection closed", zap.String("loop", "send"), zap.Error(err))
		return
	}
	s.logger.Warn(msg, zap.Error(err))
}

// isClosedErr reports whether err means the peer or the server hung up.
func isClosedErr(err error) bool {
	var closed wsutil.ClosedError
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.As(err, &closed)
}

// bufferedConn serves reads from the handshake reader until it drains.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func wrapConn(conn net.Conn, rw *bufio.ReadWriter) net.Conn {
	if rw == nil || rw.Reader.Buffered() == 0 {
		return conn
	}
	return &bufferedConn{Conn: conn, r: rw.Reader}
}
