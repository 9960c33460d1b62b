package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/webshop-saga/pkg/httpmiddleware"
)

type testPayload struct {
	OrderID int64
}

func (testPayload) EventType() string { return "test.happened" }

func (p testPayload) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(p.OrderID) })
	})
}

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducer_PublishFlushesOnClose(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, ProducerConfig{ClientID: "test"}, zap.NewNop())
	fixed := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	p.Start()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, p.Publish(context.Background(), Event{
			Topic:   TopicOrderPlaced,
			Key:     "order-1",
			Payload: testPayload{OrderID: i},
		}))
	}
	p.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 3)
	assert.True(t, w.closed)

	for i, m := range w.msgs {
		assert.Equal(t, TopicOrderPlaced, m.Topic)
		assert.Equal(t, "order-1", string(m.Key))

		var (
			eventType string
			producer  string
			orderID   int64
		)
		err := jx.DecodeBytes(m.Value).Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "event_type":
				v, err := d.Str()
				eventType = v
				return err
			case "producer":
				v, err := d.Str()
				producer = v
				return err
			case "payload":
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "order_id" {
						return d.Skip()
					}
					v, err := d.Int64()
					orderID = v
					return err
				})
			default:
				return d.Skip()
			}
		})
		require.NoError(t, err)
		assert.Equal(t, "test.happened", eventType)
		assert.Equal(t, "test", producer)
		assert.Equal(t, int64(i+1), orderID)
	}
}

func TestProducer_PublishAfterClose(t *testing.T) {
	p := newProducer(&recordingWriter{}, ProducerConfig{}, nil)
	p.Start()
	p.Close()

	err := p.Publish(context.Background(), Event{Topic: TopicOrderPlaced, Payload: testPayload{}})
	assert.ErrorIs(t, err, ErrProducerClosed)
}

func TestProducer_BufferFull(t *testing.T) {
	w := &recordingWriter{}
	// Not started, so nothing drains the inbox.
	p := newProducer(w, ProducerConfig{Buffer: 1}, nil)

	require.NoError(t, p.Publish(context.Background(), Event{Topic: TopicStockLevel, Payload: testPayload{}}))
	err := p.Publish(context.Background(), Event{Topic: TopicStockLevel, Payload: testPayload{}})
	assert.ErrorIs(t, err, ErrBufferFull)

	p.Close()
	assert.True(t, w.closed)
}

func TestEnvelope_OmitsEmptyCorrelation(t *testing.T) {
	env := NewEnvelope("svc", Event{Topic: TopicStockLevel, Payload: testPayload{OrderID: 7}}, "", time.Now())
	raw := string(env.Bytes())

	assert.NotContains(t, raw, "correlation_id")
	assert.NotContains(t, raw, "trace_id")
	assert.Contains(t, raw, `"event_version":1`)
	assert.Contains(t, raw, `"payload":{"order_id":7}`)
}

func TestProducer_RequestIDHeader(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, ProducerConfig{}, zap.NewNop())
	p.Start()

	ctx := httpmiddleware.WithRequestID(context.Background(), "req-42")
	require.NoError(t, p.Publish(ctx, Event{Topic: TopicOrderPlaced, Key: "1", Payload: testPayload{OrderID: 1}}))
	require.NoError(t, p.Publish(context.Background(), Event{Topic: TopicOrderPlaced, Key: "2", Payload: testPayload{OrderID: 2}}))
	p.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 2)

	header := func(m kafka.Message, key string) string {
		for _, h := range m.Headers {
			if h.Key == key {
				return string(h.Value)
			}
		}
		return ""
	}
	assert.Equal(t, "req-42", header(w.msgs[0], "x-request-id"))
	assert.Empty(t, header(w.msgs[1], "x-request-id"))
	assert.Equal(t, "test.happened", header(w.msgs[1], "x-event-type"))
}
