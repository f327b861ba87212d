package testutils

import (
	"context"
	"sync"

	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/tickfeed/pkg/models"
)

// MockSession stands in for a live gateway session
type MockSession struct {
	IDVal  string
	Addr   string
	closed bool
	Mu     sync.Mutex
}

func NewMockSession(id string) *MockSession {
	return &MockSession{IDVal: id, Addr: "127.0.0.1:0"}
}

func (m *MockSession) ID() string         { return m.IDVal }
func (m *MockSession) RemoteAddr() string { return m.Addr }

func (m *MockSession) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.closed = true
}

func (m *MockSession) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.closed
}

// MockTickStore simulates the Redis snapshot cache
type MockTickStore struct {
	Ticks map[string]models.MarketTick
	Err   error
	Calls int
	Mu    sync.Mutex
}

func (m *MockTickStore) Latest(ctx context.Context, symbol string) (models.MarketTick, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls++

	if m.Err != nil {
		return models.MarketTick{}, m.Err
	}
	tick, ok := m.Ticks[symbol]
	if !ok {
		return models.MarketTick{}, repository.ErrNoSnapshot
	}
	return tick, nil
}

func (m *MockTickStore) Close() error { return nil }

// MockSource delegates every call to Next and counts calls.
type MockSource struct {
	Next  func(symbol string) (models.MarketTick, error)
	Calls int
	Mu    sync.Mutex
}

func (m *MockSource) NextTick(ctx context.Context, symbol string) (models.MarketTick, error) {
	m.Mu.Lock()
	m.Calls++
	next := m.Next
	m.Mu.Unlock()
	return next(symbol)
}

func (m *MockSource) CallCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Calls
}
