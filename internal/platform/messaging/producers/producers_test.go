package producers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockKafkaWriter mocks KafkaWriter interface
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockNATSConn struct {
	mock.Mock
}

func (m *MockNATSConn) PublishMsg(msg *nats.Msg) error {
	return m.Called(msg).Error(0)
}

func (m *MockNATSConn) FlushWithContext(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockNATSConn) Drain() error {
	return m.Called().Error(0)
}

type testEvent struct {
	Type   string `json:"type"`
	HoldID string `json:"hold_id"`
}

func (e testEvent) RoutingKey() string { return e.Type }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestKafkaNotificationProducer_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("keyed with event header", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &KafkaNotificationProducer{logger: newTestLogger(), writer: mockWriter, topic: "escrow_notifications"}
		event := testEvent{Type: "transfer.accepted", HoldID: "h-1"}
		expected, _ := json.Marshal(event)

		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 {
				return false
			}
			msg := msgs[0]
			return string(msg.Key) == "h-1" &&
				bytes.Equal(msg.Value, expected) &&
				len(msg.Headers) == 1 &&
				msg.Headers[0].Key == eventTypeHeader &&
				string(msg.Headers[0].Value) == "transfer.accepted"
		})).Return(nil).Once()

		require.NoError(t, producer.Publish(ctx, "h-1", event))
		mockWriter.AssertExpectations(t)
	})

	t.Run("plain value has no header", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &KafkaNotificationProducer{logger: newTestLogger(), writer: mockWriter, topic: "escrow_notifications"}

		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			return len(msgs) == 1 && len(msgs[0].Headers) == 0
		})).Return(nil).Once()

		require.NoError(t, producer.Publish(ctx, "k", map[string]string{"a": "b"}))
		mockWriter.AssertExpectations(t)
	})

	t.Run("writer error", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &KafkaNotificationProducer{logger: newTestLogger(), writer: mockWriter, topic: "escrow_notifications"}
		writerError := errors.New("kafka write error")

		mockWriter.On("WriteMessages", ctx, mock.AnythingOfType("[]kafka.Message")).Return(writerError).Once()

		err := producer.Publish(ctx, "k", testEvent{Type: "transfer.created"})
		assert.ErrorIs(t, err, writerError)
		mockWriter.AssertExpectations(t)
	})

	t.Run("unmarshalable value", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &KafkaNotificationProducer{logger: newTestLogger(), writer: mockWriter, topic: "escrow_notifications"}

		err := producer.Publish(ctx, "k", make(chan int))
		assert.ErrorContains(t, err, "failed to marshal notification")
		mockWriter.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
	})
}

func TestKafkaNotificationProducer_Close(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	producer := &KafkaNotificationProducer{logger: newTestLogger(), writer: mockWriter, topic: "t"}
	closeError := errors.New("kafka close error")

	mockWriter.On("Close").Return(closeError).Once()

	assert.ErrorIs(t, producer.Close(), closeError)
	mockWriter.AssertExpectations(t)
}

func TestNATSPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("subject from event type", func(t *testing.T) {
		conn := new(MockNATSConn)
		publisher := &NATSPublisher{logger: newTestLogger(), conn: conn, prefix: "escrow"}

		conn.On("PublishMsg", mock.MatchedBy(func(msg *nats.Msg) bool {
			return msg.Subject == "escrow.transfer.expired" &&
				msg.Header.Get(msgKeyHeader) == "h-9" &&
				bytes.Contains(msg.Data, []byte(`"hold_id":"h-9"`))
		})).Return(nil).Once()
		conn.On("FlushWithContext", ctx).Return(nil).Once()

		require.NoError(t, publisher.Publish(ctx, "h-9", testEvent{Type: "transfer.expired", HoldID: "h-9"}))
		conn.AssertExpectations(t)
	})

	t.Run("fallback subject", func(t *testing.T) {
		conn := new(MockNATSConn)
		publisher := &NATSPublisher{logger: newTestLogger(), conn: conn, prefix: "escrow"}

		conn.On("PublishMsg", mock.MatchedBy(func(msg *nats.Msg) bool {
			return msg.Subject == "escrow.notification"
		})).Return(nil).Once()
		conn.On("FlushWithContext", ctx).Return(nil).Once()

		require.NoError(t, publisher.Publish(ctx, "k", map[string]int{"n": 1}))
		conn.AssertExpectations(t)
	})

	t.Run("flush timeout", func(t *testing.T) {
		conn := new(MockNATSConn)
		publisher := &NATSPublisher{logger: newTestLogger(), conn: conn, prefix: "escrow"}

		conn.On("PublishMsg", mock.Anything).Return(nil).Once()
		conn.On("FlushWithContext", ctx).Return(context.DeadlineExceeded).Once()

		err := publisher.Publish(ctx, "k", testEvent{Type: "transfer.opened"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("no connection", func(t *testing.T) {
		conn := new(MockNATSConn)
		publisher := &NATSPublisher{logger: newTestLogger(), conn: conn, prefix: "escrow"}

		conn.On("PublishMsg", mock.Anything).Return(nats.ErrConnectionClosed).Once()

		err := publisher.Publish(ctx, "k", testEvent{Type: "transfer.opened"})
		assert.ErrorIs(t, err, nats.ErrConnectionClosed)
		conn.AssertNotCalled(t, "FlushWithContext", mock.Anything)
	})
}

func TestNATSPublisher_Close(t *testing.T) {
	conn := new(MockNATSConn)
	conn.On("Drain").Return(nil).Once()

	publisher := &NATSPublisher{logger: newTestLogger(), conn: conn, prefix: "escrow"}
	assert.NoError(t, publisher.Close())
	conn.AssertExpectations(t)
}

func TestLogPublisher_Publish(t *testing.T) {
	var buf bytes.Buffer
	publisher := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, publisher.Publish(context.Background(), "h-2", testEvent{Type: "transfer.declined", HoldID: "h-2"}))
	assert.Contains(t, buf.String(), `"event":"transfer.declined"`)
	assert.Contains(t, buf.String(), `"key":"h-2"`)
	assert.NoError(t, publisher.Close())
}

// Verify interface implementations
var (
	_ KafkaWriter      = (*MockKafkaWriter)(nil)
	_ NATSConn         = (*MockNATSConn)(nil)
	_ NATSConn         = (*nats.Conn)(nil)
	_ MessagePublisher = (*KafkaNotificationProducer)(nil)
	_ MessagePublisher = (*NATSPublisher)(nil)
	_ MessagePublisher = (*LogPublisher)(nil)
)
