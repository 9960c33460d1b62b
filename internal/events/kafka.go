package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/webshop-saga/pkg/httpmiddleware"
)

// ErrProducerClosed is returned by Publish after Close.
var ErrProducerClosed = errors.New("producer closed")

// ErrBufferFull is returned when the producer inbox cannot take more events.
var ErrBufferFull = errors.New("producer buffer full")

// writer is the subset of kafka.Writer the producer uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerConfig configures a Kafka producer.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	// Buffer is the number of events queued before Publish fails fast.
	Buffer int
}

// Producer publishes envelopes to Kafka from a single background goroutine
// so callers never wait on the broker.
type Producer struct {
	w        writer
	producer string
	inbox    chan kafka.Message
	done     chan struct{}
	lg       *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	closed  bool
	started bool
}

// NewProducer creates a producer writing to the given brokers. Topics are set
// per message.
func NewProducer(cfg ProducerConfig, lg *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newProducer(w, cfg, lg)
}

func newProducer(w writer, cfg ProducerConfig, lg *zap.Logger) *Producer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "webshop-saga"
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Producer{
		w:        w,
		producer: cfg.ClientID,
		inbox:    make(chan kafka.Message, cfg.Buffer),
		done:     make(chan struct{}),
		lg:       lg,
		now:      time.Now,
	}
}

// Start runs the delivery loop until Close is called.
func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.lg.Error("Kafka write failed",
					zap.String("topic", m.Topic),
					zap.ByteString("key", m.Key),
					zap.Error(err),
				)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.lg.Warn("Kafka writer close failed", zap.Error(err))
		}
	}()
}

// Publish queues an event. It never blocks on the broker.
func (p *Producer) Publish(ctx context.Context, ev Event) error {
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	env := NewEnvelope(p.producer, ev, traceID, p.now())

	msg := kafka.Message{
		Topic: ev.Topic,
		Key:   []byte(ev.Key),
		Value: env.Bytes(),
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.Type)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(env.Version))},
		},
	}
	if id := httpmiddleware.RequestIDFromContext(ctx); id != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "x-request-id", Value: []byte(id)})
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops accepting events, flushes the queue and waits for the writer
// to shut down.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.inbox)
	started := p.started
	p.mu.Unlock()
	if !started {
		_ = p.w.Close()
		return
	}
	<-p.done
}
