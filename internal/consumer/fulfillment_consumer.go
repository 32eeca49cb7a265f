package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/ledger"
	"github.com/segmentio/kafka-go"
)

const maxBackoff = 5 * time.Second

// FulfillmentMessage is the payload carriers and warehouses publish for a
// shipment-side fact. OrderID may be omitted when the message key carries it.
type FulfillmentMessage struct {
	OrderID string            `json:"order_id"`
	Event   ledger.EventInput `json:"event"`
}

// Ledger is the part of the order ledger the consumer appends to.
type Ledger interface {
	RecordFulfillmentEvent(ctx context.Context, orderID string, in ledger.EventInput) (*domain.Order, error)
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	ledger  Ledger
	reader  MessageReader
	backoff time.Duration
	log     *slog.Logger
}

func NewConsumer(l Ledger, topic, groupID string, log *slog.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(l, reader, log)
}

func newConsumer(l Ledger, r MessageReader, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{ledger: l, reader: r, backoff: 200 * time.Millisecond, log: log}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.log.ErrorContext(ctx, "error reading message", "error", err)
		c.sleep(ctx, c.backoff)
		return
	}

	if err := c.handle(ctx, m); err != nil {
		// canceled mid-retry, the message is redelivered after restart
		return
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.ErrorContext(ctx, "error committing message", "offset", m.Offset, "error", err)
	}
}

// handle applies one message, retrying transient ledger failures until they
// succeed or ctx ends. Malformed or rejected messages are logged and dropped.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	msg, err := decode(m)
	if err != nil {
		c.log.WarnContext(ctx, "dropping malformed fulfillment message", "offset", m.Offset, "error", err)
		return nil
	}

	delay := c.backoff
	for {
		_, err := c.ledger.RecordFulfillmentEvent(ctx, msg.OrderID, msg.Event)
		switch {
		case err == nil:
			c.log.InfoContext(ctx, "fulfillment event recorded", "order_id", msg.OrderID, "type", msg.Event.Type)
			return nil
		case errors.Is(err, ledger.ErrAlreadyRecorded):
			c.log.DebugContext(ctx, "fulfillment event already recorded", "order_id", msg.OrderID, "event_id", msg.Event.ID)
			return nil
		case errors.Is(err, ledger.ErrConcurrentUpdate):
			// another writer appended first, retry against the new version
		case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrOrderNotFound), errors.Is(err, ledger.ErrConflict):
			c.log.WarnContext(ctx, "fulfillment event rejected", "order_id", msg.OrderID, "error", err)
			return nil
		}

		c.log.WarnContext(ctx, "failed to record fulfillment event, retrying", "order_id", msg.OrderID, "error", err, "backoff", delay)
		if !c.sleep(ctx, delay) {
			return ctx.Err()
		}
		delay = min(delay*2, maxBackoff)
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func decode(m kafka.Message) (*FulfillmentMessage, error) {
	var msg FulfillmentMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if msg.OrderID == "" {
		msg.OrderID = string(m.Key)
	}
	if msg.OrderID == "" {
		return nil, errors.New("message has no order_id")
	}
	return &msg, nil
}
