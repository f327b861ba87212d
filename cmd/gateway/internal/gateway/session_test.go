package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/feed"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/testutils"
	"github.com/shubham-shewale/tickfeed/pkg/models"
)

type testEnv struct {
	server *httptest.Server
	hub    *hub.Hub
	logs   *observer.ObservedLogs
}

type envOption func(*envConfig)

type envConfig struct {
	session gateway.SessionConfig
	source  feed.Source
	clock   clockwork.Clock
}

func withSource(src feed.Source) envOption      { return func(c *envConfig) { c.source = src } }
func withClock(clock clockwork.Clock) envOption { return func(c *envConfig) { c.clock = clock } }
func withSession(mutate func(*gateway.SessionConfig)) envOption {
	return func(c *envConfig) { mutate(&c.session) }
}

func startEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{
		session: gateway.SessionConfig{Symbol: "AAPL", Interval: 50 * time.Millisecond},
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.source == nil {
		cfg.source = feed.NewStaticSource(150.0, 100, cfg.clock)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	h := hub.NewHub(logger, cfg.clock)
	srv := gateway.NewServer(gateway.Options{Session: cfg.session}, h, cfg.source, logger, cfg.clock)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.CloseAll()
		ts.Close()
	})

	return &testEnv{server: ts, hub: h, logs: logs}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	return e.dialWith(t, websocket.DefaultDialer)
}

func (e *testEnv) dialWith(t *testing.T, dialer *websocket.Dialer) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err, "failed to connect to websocket")
	return conn
}

func readTick(t *testing.T, conn *websocket.Conn) models.MarketTick {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)

	tick, err := protocol.DecodeTick(payload)
	require.NoError(t, err)
	return tick
}

func closeClient(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

func TestSession_FirstMessageIsWellFormed(t *testing.T) {
	env := startEnv(t)
	conn := env.dial(t)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	assert.Len(t, fields, 5)

	assert.IsType(t, "", fields["type"])
	assert.IsType(t, "", fields["symbol"])
	assert.IsType(t, float64(0), fields["price"])
	assert.IsType(t, "", fields["timestamp"])

	qty, ok := fields["quantity"].(float64)
	require.True(t, ok)
	assert.Equal(t, float64(int64(qty)), qty, "quantity must be an integer")

	assert.Equal(t, "market_data", fields["type"])
	_, err = time.Parse(time.RFC3339Nano, fields["timestamp"].(string))
	assert.NoError(t, err)
}

func TestSession_TicksAtInterval(t *testing.T) {
	interval := 50 * time.Millisecond
	env := startEnv(t)
	conn := env.dial(t)
	defer closeClient(conn)

	var ticks []models.MarketTick
	var arrivals []time.Time
	for i := 0; i < 5; i++ {
		ticks = append(ticks, readTick(t, conn))
		arrivals = append(arrivals, time.Now())
	}

	for i, tick := range ticks {
		assert.Equal(t, "AAPL", tick.Symbol)
		assert.Equal(t, 150.0, tick.Price)
		assert.Equal(t, int64(100), tick.Quantity)
		if i > 0 {
			assert.True(t, tick.Timestamp.After(ticks[i-1].Timestamp), "timestamps must strictly increase")
		}
	}

	// The first tick is immediate; the rest follow the ticker
	total := arrivals[len(arrivals)-1].Sub(arrivals[1])
	assert.GreaterOrEqual(t, total, 3*interval-interval/2)
}

func TestSession_FakeClockCadence(t *testing.T) {
	interval := time.Second
	clock := clockwork.NewFakeClock()
	env := startEnv(t, withClock(clock), withSession(func(c *gateway.SessionConfig) { c.Interval = interval }))
	conn := env.dial(t)
	defer closeClient(conn)

	prev := readTick(t, conn)
	assert.True(t, prev.Timestamp.Equal(clock.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(interval)

		next := readTick(t, conn)
		assert.Equal(t, interval, next.Timestamp.Sub(prev.Timestamp))
		prev = next
	}
}

func TestSession_ClientMessageIsLoggedAndIgnored(t *testing.T) {
	env := startEnv(t)
	conn := env.dial(t)
	defer closeClient(conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	// Ticks keep flowing after the client message
	for i := 0; i < 3; i++ {
		tick := readTick(t, conn)
		assert.Equal(t, "AAPL", tick.Symbol)
	}

	require.Eventually(t, func() bool {
		for _, entry := range env.logs.FilterMessage("Received").All() {
			if entry.ContextMap()["message"] == "ping" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSession_MalformedPayloadAccepted(t *testing.T) {
	env := startEnv(t)
	conn := env.dial(t)
	defer closeClient(conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{ "action": "subsc`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0xff}))

	for i := 0; i < 2; i++ {
		readTick(t, conn)
	}
	assert.Equal(t, 1, env.hub.Count())
}

func TestSession_ClientCloseReleasesSession(t *testing.T) {
	interval := 50 * time.Millisecond
	env := startEnv(t)
	conn := env.dial(t)

	readTick(t, conn)
	require.Equal(t, 1, env.hub.Count())

	closeClient(conn)

	assert.Eventually(t, func() bool { return env.hub.Count() == 0 }, 2*interval, 5*time.Millisecond)
}

func TestSession_NoLeakAfterCycles(t *testing.T) {
	env := startEnv(t)

	for i := 0; i < 10; i++ {
		conn := env.dial(t)
		readTick(t, conn)
		if i%2 == 0 {
			closeClient(conn)
		} else {
			// Abrupt close without a close frame
			_ = conn.Close()
		}
	}

	assert.Eventually(t, func() bool { return env.hub.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 10, env.logs.FilterMessage("Client connected").Len())
	assert.Equal(t, 10, env.logs.FilterMessage("Client disconnected").Len())
}

func TestSession_ServerClosesOnOversizedMessage(t *testing.T) {
	env := startEnv(t, withSession(func(c *gateway.SessionConfig) { c.MaxMessageSize = 16 }))
	conn := env.dial(t)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("a", 100))))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "got %v", err)
	assert.Eventually(t, func() bool { return env.hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSession_ProtocolViolationClosesWith1002(t *testing.T) {
	masked := func(op ws.OpCode, fin bool, payload string) ws.Frame {
		return ws.MaskFrame(ws.NewFrame(op, fin, []byte(payload)))
	}

	tests := []struct {
		name   string
		frames []ws.Frame
	}{
		{"reserved opcode", []ws.Frame{masked(ws.OpCode(0x3), true, "junk")}},
		{"unmasked frame", []ws.Frame{ws.NewFrame(ws.OpText, true, []byte("unmasked"))}},
		{"continuation without start", []ws.Frame{masked(ws.OpContinuation, true, "orphan")}},
		{"new message inside fragmented one", []ws.Frame{
			masked(ws.OpText, false, "part"),
			masked(ws.OpText, true, "interleaved"),
		}},
		{"fragmented control frame", []ws.Frame{masked(ws.OpPing, false, "")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := startEnv(t)
			conn := env.dial(t)
			defer conn.Close()

			readTick(t, conn)
			for _, f := range tt.frames {
				require.NoError(t, ws.WriteFrame(conn.UnderlyingConn(), f))
			}

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			var err error
			for err == nil {
				_, _, err = conn.ReadMessage()
			}
			assert.True(t, websocket.IsCloseError(err, websocket.CloseProtocolError), "got %v", err)
			assert.Eventually(t, func() bool { return env.hub.Count() == 0 }, time.Second, 5*time.Millisecond)
			assert.Zero(t, env.logs.FilterMessage("Received").Len(), "invalid frames must not be logged as client messages")
		})
	}
}

func TestSession_FragmentedMessage(t *testing.T) {
	env := startEnv(t)
	// A tiny write buffer forces gorilla to split the message into continuation frames
	conn := env.dialWith(t, &websocket.Dialer{WriteBufferSize: 64})
	defer closeClient(conn)

	message := strings.Repeat("x", 300)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(message)))

	require.Eventually(t, func() bool {
		for _, entry := range env.logs.FilterMessage("Received").All() {
			if entry.ContextMap()["message"] == message {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSession_KeepalivePing(t *testing.T) {
	env := startEnv(t, withSession(func(c *gateway.SessionConfig) {
		c.Interval = time.Hour
		c.PingPeriod = 20 * time.Millisecond
	}))
	conn := env.dial(t)
	defer closeClient(conn)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	readTick(t, conn)

	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("server never pinged")
	}
}

func TestSession_AnswersClientPing(t *testing.T) {
	env := startEnv(t, withSession(func(c *gateway.SessionConfig) { c.Interval = time.Hour }))
	conn := env.dial(t)
	defer closeClient(conn)

	ponged := make(chan string, 1)
	conn.SetPongHandler(func(data string) error {
		ponged <- data
		return nil
	})

	readTick(t, conn)
	require.NoError(t, conn.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second)))

	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	}()

	select {
	case data := <-ponged:
		assert.Equal(t, "hb", data)
	case <-time.After(2 * time.Second):
		t.Fatal("server never answered ping")
	}
}

func TestSession_FeedErrorSkipsCycle(t *testing.T) {
	clock := clockwork.NewRealClock()
	calls := 0
	src := &testutils.MockSource{Next: func(symbol string) (models.MarketTick, error) {
		calls++
		if calls == 1 {
			return models.MarketTick{}, errors.New("feed unavailable")
		}
		return models.NewMarketTick(symbol, 150.0, 100, clock.Now())
	}}

	env := startEnv(t, withSource(src))
	conn := env.dial(t)
	defer closeClient(conn)

	tick := readTick(t, conn)
	assert.Equal(t, "AAPL", tick.Symbol)
	assert.GreaterOrEqual(t, src.CallCount(), 2)
	assert.Equal(t, 1, env.hub.Count(), "a feed error must not end the session")
}

func TestSession_StateString(t *testing.T) {
	assert.Equal(t, "OPEN", gateway.StateOpen.String())
	assert.Equal(t, "CLOSED", gateway.StateClosed.String())
	assert.Equal(t, "UNKNOWN", fmt.Sprint(gateway.State(7)))
}
