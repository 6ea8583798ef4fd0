// Package notify delivers participant notifications to a Sink, either
// inline or through a bounded queue drained by a background worker.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"secretsanta/internal/platform/metrics"
)

var (
	ErrBufferFull = errors.New("notification buffer full")
	ErrClosed     = errors.New("publisher closed")
)

// Sink delivers a single notification.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

type Publisher struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	bufferSize      int
	deliveryTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Notification
	done   chan struct{}
}

type Option func(*Publisher)

// WithAsyncBuffer queues up to size notifications and delivers them from a
// worker goroutine. Publish never blocks on the sink in this mode.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.bufferSize = size
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithDeliveryTimeout bounds each asynchronous delivery.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.deliveryTimeout = d
		}
	}
}

func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:            sink,
		logger:          slog.Default(),
		deliveryTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.queue = make(chan Notification, p.bufferSize)
		p.done = make(chan struct{})
		go p.run()
	}
	return p
}

// Publish delivers n, or enqueues it in async mode. A full queue drops n and
// returns ErrBufferFull.
func (p *Publisher) Publish(ctx context.Context, n Notification) error {
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.queue == nil {
		return p.sink.Deliver(ctx, n)
	}

	select {
	case p.queue <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.dropped(ctx, n, ErrBufferFull)
		return ErrBufferFull
	}
}

// Close stops accepting notifications and, in async mode, waits until the
// queue is drained.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()

	if p.done != nil {
		<-p.done
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for n := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.deliveryTimeout)
		if err := p.sink.Deliver(ctx, n); err != nil {
			p.dropped(ctx, n, err)
		}
		cancel()
	}
}

func (p *Publisher) dropped(ctx context.Context, n Notification, err error) {
	if p.metrics != nil {
		p.metrics.IncrementNotificationsDropped()
	}
	p.logger.WarnContext(ctx, "notification dropped",
		"kind", n.Kind,
		"recipient", n.Recipient,
		"notification_id", n.ID,
		"error", err.Error(),
	)
}
