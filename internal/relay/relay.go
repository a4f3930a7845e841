// Package relay доставляет события из очереди отправки подписчикам: в ленту WebSocket,
// в Kafka и во внешний webhook уведомлений.
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
)

const (
	defaultInterval    = 200 * time.Millisecond
	defaultBatchSize   = 100
	defaultMaxAttempts = 5
)

// Store описывает очередь событий, записанных вместе с изменениями счетов.
type Store interface {
	PendingEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error)
	MarkEventSent(ctx context.Context, id string) error
	MarkEventFailed(ctx context.Context, id, reason string, maxAttempts int) error
}

// Publisher доставляет событие одному получателю.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

type sink struct {
	name      string
	publisher Publisher
	accept    func(model.Event) bool
}

// Relay периодически выбирает неотправленные события и доставляет их всем получателям.
// Событие считается отправленным, когда его приняли все подходящие получатели;
// иначе оно повторяется, пока не исчерпан лимит попыток.
type Relay struct {
	store       Store
	sinks       []sink
	logger      *zap.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// Option настраивает Relay.
type Option func(*Relay)

// WithInterval задаёт период опроса очереди.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithMaxAttempts задаёт лимит попыток доставки одного события.
func WithMaxAttempts(n int) Option {
	return func(r *Relay) { r.maxAttempts = n }
}

// New создаёт Relay поверх очереди событий.
func New(store Store, logger *zap.Logger, opts ...Option) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		store:       store,
		logger:      logger,
		interval:    defaultInterval,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add регистрирует получателя. accept может быть nil, тогда получатель принимает все события.
func (r *Relay) Add(name string, p Publisher, accept func(model.Event) bool) {
	r.sinks = append(r.sinks, sink{name: name, publisher: p, accept: accept})
}

// Run опрашивает очередь до отмены контекста.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started", zap.Int("sinks", len(r.sinks)), zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("outbox flush failed", zap.Error(err))
			}
		}
	}
}

// Flush доставляет одну пачку событий и возвращает количество отправленных.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.PendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range events {
		if r.deliver(ctx, ev) {
			sent++
		}
	}
	return sent, nil
}

func (r *Relay) deliver(ctx context.Context, oe repository.OutboxEvent) bool {
	ev := oe.Event

	for _, s := range r.sinks {
		if s.accept != nil && !s.accept(ev) {
			continue
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			r.logger.Warn("event delivery failed",
				zap.String("event", ev.ID),
				zap.String("type", ev.Type()),
				zap.String("sink", s.name),
				zap.Int("attempt", oe.Attempts+1),
				zap.Error(err),
			)
			if markErr := r.store.MarkEventFailed(ctx, ev.ID, err.Error(), r.maxAttempts); markErr != nil {
				r.logger.Error("failed to mark event failed", zap.String("event", ev.ID), zap.Error(markErr))
			}
			return false
		}
	}

	if err := r.store.MarkEventSent(ctx, ev.ID); err != nil {
		r.logger.Error("failed to mark event sent", zap.String("event", ev.ID), zap.Error(err))
		return false
	}
	return true
}
