package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_ucp/internal/repository"
	"github.com/fjod/go_ucp/pkg/metrics"
	"github.com/segmentio/kafka-go"
)

const batchSize = 100

// Outbox is the part of the order store the poller drains.
type Outbox interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller publishes order events written by the ledger to Kafka. An
// event is marked processed only after the broker accepted it, so delivery
// is at least once and consumers dedupe by event_id.
type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	repo      Outbox
	writer    MessageWriter
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewOutboxPoller(repo Outbox, topic string, interval time.Duration, m *metrics.Metrics, log *slog.Logger, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newOutboxPoller(repo, w, interval, m, log)
}

func newOutboxPoller(repo Outbox, w MessageWriter, interval time.Duration, m *metrics.Metrics, log *slog.Logger) *OutboxPoller {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: interval,
		repo:      repo,
		writer:    w,
		metrics:   m,
		log:       log,
	}
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

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

// processUnpublishedEvents publishes one batch in creation order and stops at
// the first failure so later events of the same order are not sent ahead of it.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, event := range events {
		errPublish := p.publishToKafka(ctx, event)
		p.metrics.ObservePublish(event.EventType, errPublish)
		if errPublish != nil {
			p.log.WarnContext(ctx, "failed to publish event", "event_id", event.ID, "event_type", event.EventType, "error", errPublish)
			return published
		}

		if errMark := p.repo.MarkEventAsProcessed(ctx, event.ID); errMark != nil {
			p.log.ErrorContext(ctx, "failed to mark event as processed", "event_id", event.ID, "error", errMark)
			return published
		}
		published++
	}
	return published
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *repository.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps one order on one partition
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
