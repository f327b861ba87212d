package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/tickfeed/cmd/generator/internal/generator"
)

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

// MockClock advances virtual time instead of waiting
type MockClock struct {
	CurrentTime time.Time
	Mu          sync.Mutex
}

func (m *MockClock) Now() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.CurrentTime = m.CurrentTime.Add(d)
	ch := make(chan time.Time, 1)
	ch <- m.CurrentTime
	return ch
}

type MockRand struct {
	ValFloat float64
}

func (m *MockRand) Float64() float64 { return m.ValFloat }

// MockKafkaConn records topic administration calls
type MockKafkaConn struct {
	CreatedTopics []string
	Partitions    int
	Closed        bool
}

func (c *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "controller", Port: 9092}, nil
}

func (c *MockKafkaConn) Close() error {
	c.Closed = true
	return nil
}

func (c *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		c.CreatedTopics = append(c.CreatedTopics, t.Topic)
		c.Partitions = t.NumPartitions
	}
	return nil
}

func (c *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if len(c.CreatedTopics) == 0 {
		return nil, errors.New("unknown topic")
	}
	return make([]kafka.Partition, c.Partitions), nil
}

// MockKafkaDialer hands out one shared ConnSpy and fails for FailAddrs
type MockKafkaDialer struct {
	ConnSpy   *MockKafkaConn
	FailAddrs map[string]bool
	Dialed    []string
}

func (d *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (generator.KafkaConn, error) {
	d.Dialed = append(d.Dialed, address)
	if d.FailAddrs[address] {
		return nil, errors.New("connection refused")
	}
	if d.ConnSpy == nil {
		d.ConnSpy = &MockKafkaConn{}
	}
	return d.ConnSpy, nil
}
