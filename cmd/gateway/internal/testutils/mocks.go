package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/connector"
	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/journal"
	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

// Envelope is a subscriber message with its payload left undecoded.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MockSubscriber simulates a connected websocket client
type MockSubscriber struct {
	IDVal      string
	Open       bool
	RawBytes   []string
	CloseCount int
	Mu         sync.Mutex
}

func NewMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{IDVal: id, Open: true}
}

func (m *MockSubscriber) ID() string { return m.IDVal }

func (m *MockSubscriber) IsOpen() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Open
}

func (m *MockSubscriber) SetOpen(open bool) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Open = open
}

func (m *MockSubscriber) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockSubscriber) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Open = false
	m.CloseCount++
}

func (m *MockSubscriber) Envelopes() []Envelope {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([]Envelope, 0, len(m.RawBytes))
	for _, raw := range m.RawBytes {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// MockSnapshotSource returns fixed ticks. When Block is set, Latest signals
// Called and waits for Block to close or ctx to end.
type MockSnapshotSource struct {
	Ticks  []models.PriceTick
	Err    error
	Block  chan struct{}
	Called chan struct{}
}

func (m *MockSnapshotSource) Latest(ctx context.Context, symbols []string) ([]models.PriceTick, error) {
	if m.Called != nil {
		m.Called <- struct{}{}
	}
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.Ticks, m.Err
}

// MockSink collects ingested ticks
type MockSink struct {
	Ticks chan models.PriceTick
}

func NewMockSink() *MockSink {
	return &MockSink{Ticks: make(chan models.PriceTick, 64)}
}

func (m *MockSink) Ingest(ctx context.Context, tick models.PriceTick) {
	m.Ticks <- tick
}

// MockClock hands out timers that only fire when the test says so.
type MockClock struct {
	Requested []time.Duration
	Scheduled chan time.Duration
	pending   []chan time.Time
	Mu        sync.Mutex
}

func NewMockClock() *MockClock {
	return &MockClock{Scheduled: make(chan time.Duration, 16)}
}

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.Mu.Lock()
	m.Requested = append(m.Requested, d)
	m.pending = append(m.pending, ch)
	m.Mu.Unlock()

	select {
	case m.Scheduled <- d:
	default:
	}
	return ch
}

// Fire releases the oldest pending timer.
func (m *MockClock) Fire() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.pending) == 0 {
		return false
	}
	ch := m.pending[0]
	m.pending = m.pending[1:]
	ch <- time.Now()
	return true
}

// MockConn replays scripted frames. EndStream simulates a remote close.
type MockConn struct {
	Frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewMockConn(frames ...string) *MockConn {
	c := &MockConn{
		Frames: make(chan []byte, len(frames)+16),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		c.Frames <- []byte(f)
	}
	return c
}

func (c *MockConn) ReadMessage() ([]byte, error) {
	select {
	case f, ok := <-c.Frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *MockConn) EndStream() { close(c.Frames) }

func (c *MockConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *MockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// MockDialer hands out Conns in order and refuses once they run out.
type MockDialer struct {
	Conns  []*MockConn
	URLs   []string
	Dialed chan string
	Mu     sync.Mutex
}

func NewMockDialer(conns ...*MockConn) *MockDialer {
	return &MockDialer{Conns: conns, Dialed: make(chan string, 16)}
}

func (m *MockDialer) Dial(ctx context.Context, url string) (connector.Conn, error) {
	m.Mu.Lock()
	m.URLs = append(m.URLs, url)
	var conn *MockConn
	if len(m.Conns) > 0 {
		conn = m.Conns[0]
		m.Conns = m.Conns[1:]
	}
	m.Mu.Unlock()

	select {
	case m.Dialed <- url:
	default:
	}
	if conn == nil {
		return nil, errors.New("connection refused")
	}
	return conn, nil
}

func (m *MockDialer) DialCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.URLs)
}

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

type MockKafkaConn struct {
	CreatedTopics  []string
	CreateErr      error
	Ready          bool
	PartitionReads int
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return m.CreateErr
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	m.PartitionReads++
	if !m.Ready {
		return nil, nil
	}
	return []kafka.Partition{{ID: 0}}, nil
}

// MockKafkaDialer hands out ConnSpy for every address and records the addresses.
type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
	Fail    bool
	Addrs   []string
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (journal.KafkaConn, error) {
	m.Addrs = append(m.Addrs, address)
	if m.Fail {
		return nil, errors.New("dial failed")
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{Ready: true}
	}
	return m.ConnSpy, nil
}

// MockKafkaReader replays Messages, then reports DeadlineExceeded.
type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	Closed   bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}
	if m.Index >= len(m.Messages) {
		return kafka.Message{}, context.DeadlineExceeded
	}
	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// MockTickStore fails every Put with Err.
type MockTickStore struct {
	Err error
}

func (m *MockTickStore) Put(ctx context.Context, tick models.PriceTick) (bool, error) {
	return false, m.Err
}
