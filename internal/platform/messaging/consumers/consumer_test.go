package consumers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/escrow-invite-ledger/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves queued messages, then blocks until ctx is canceled
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func newTestConsumer(reader KafkaReader) *KafkaConsumer {
	return &KafkaConsumer{
		reader: reader,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
		topic:  "escrow_notifications",
		done:   make(chan struct{}),
	}
}

func TestNewKafkaConsumer(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := &config.KafkaConfig{
		Brokers:           "localhost:9092",
		NotificationTopic: "test-topic",
		ConsumerGroup:     "test-group",
		MinBytes:          1024,
		MaxBytes:          10240,
		MaxWait:           time.Second,
	}

	consumer := NewKafkaConsumer(context.Background(), logger, cfg)
	require.NotNil(t, consumer)
	require.NotNil(t, consumer.reader, "Kafka reader should be initialized")
	assert.Equal(t, "test-topic", consumer.topic)
	assert.Equal(t, "test-group", consumer.groupID)
	assert.NoError(t, consumer.Close())
}

func TestKafkaConsumer_Subscribe_CommitsOnlyHandledMessages(t *testing.T) {
	reader := &fakeReader{
		fetchErrs: []error{errors.New("broker not available")},
		queue: []kafka.Message{
			{Offset: 1, Key: []byte("ok")},
			{Offset: 2, Key: []byte("bad")},
			{Offset: 3, Key: []byte("ok")},
		},
	}
	consumer := newTestConsumer(reader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	handler := func(_ context.Context, key, _ []byte) error {
		mu.Lock()
		seen = append(seen, string(key))
		mu.Unlock()
		if string(key) == "bad" {
			return errors.New("unprocessable")
		}
		return nil
	}

	require.NoError(t, consumer.Subscribe(ctx, handler))

	assert.Eventually(t, func() bool {
		return len(reader.commits()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 3}, reader.commits())

	cancel()
	select {
	case <-consumer.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ok", "bad", "ok"}, seen)
}

func TestKafkaConsumer_Subscribe_RetriesFailedMessageInPlace(t *testing.T) {
	reader := &fakeReader{
		queue: []kafka.Message{
			{Offset: 1, Key: []byte("flaky")},
			{Offset: 2, Key: []byte("broken")},
			{Offset: 3, Key: []byte("ok")},
		},
	}
	consumer := newTestConsumer(reader)
	consumer.maxAttempts = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := map[string]int{}
	handler := func(_ context.Context, key, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls[string(key)]++
		switch {
		case string(key) == "flaky" && calls["flaky"] < 3:
			return errors.New("smtp timeout")
		case string(key) == "broken":
			return errors.New("smtp rejected")
		}
		return nil
	}

	require.NoError(t, consumer.Subscribe(ctx, handler))

	assert.Eventually(t, func() bool {
		return len(reader.commits()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 3}, reader.commits())

	cancel()
	<-consumer.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls["flaky"])
	assert.Equal(t, 3, calls["broken"])
	assert.Equal(t, 1, calls["ok"])
}

func TestKafkaConsumer_Close(t *testing.T) {
	t.Run("CloseWithNilReader", func(t *testing.T) {
		consumer := &KafkaConsumer{reader: nil, logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}
		require.NoError(t, consumer.Close(), "Close should return nil if reader is nil")
	})
}
