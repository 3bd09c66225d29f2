package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/store"
)

const (
	DefaultTopic     = "sales-orders"
	defaultTick      = time.Second
	defaultBatchSize = 100
)

type Config struct {
	Brokers      []string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

// MessageWriter is the part of *kafka.Writer the poller uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller publishes order status events from the outbox to Kafka.
// Events are marked processed only after a successful write, so delivery
// is at least once.
type OutboxPoller struct {
	eventTick time.Duration
	batchSize int
	outbox    store.Outbox
	writer    MessageWriter
	breaker   *gobreaker.CircuitBreaker[struct{}]
	logger    *zap.Logger
}

func NewOutboxPoller(outbox store.Outbox, cfg Config, logger *zap.Logger) *OutboxPoller {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return newOutboxPoller(outbox, w, cfg, logger)
}

func newOutboxPoller(outbox store.Outbox, w MessageWriter, cfg Config, logger *zap.Logger) *OutboxPoller {
	tick := cfg.PollInterval
	if tick <= 0 {
		tick = defaultTick
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &OutboxPoller{
		eventTick: tick,
		batchSize: batch,
		outbox:    outbox,
		writer:    w,
		breaker:   newBreaker(logger),
		logger:    logger,
	}
}

// newBreaker opens after five consecutive failed writes and probes the
// broker again after 30s.
func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-outbox",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processUnpublishedEvents returns the number of events published.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.outbox.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to fetch outbox events", zap.Error(err))
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				p.logger.Warn("kafka unavailable, postponing outbox batch", zap.Int("pending", len(events)-published))
				return published
			}
			p.logger.Error("failed to publish event", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}

		if err := p.outbox.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error("failed to mark event as processed", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		published++
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, event *domain.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps per-order ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	})
	return err
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}
