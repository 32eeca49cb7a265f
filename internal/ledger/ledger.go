package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/repository"
	"github.com/fjod/go_ucp/pkg/keylock"
	"github.com/fjod/go_ucp/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	EventOrderPlaced      = "order_placed"
	EventOrderFulfillment = "order_fulfillment_event"
	EventOrderAdjustment  = "order_adjustment"
)

// Notification is the outbox payload for every order change.
type Notification struct {
	EventID     string        `json:"event_id"`
	EventType   string        `json:"event_type"`
	CreatedTime time.Time     `json:"created_time"`
	Order       *domain.Order `json:"order"`
}

type Config struct {
	PermalinkBase string
	Now           func() time.Time
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Ledger owns orders after checkout completion. Orders only grow by
// fulfillment events and adjustments, appended one at a time per order.
type Ledger struct {
	repo          repository.OrderRepository
	locks         *keylock.Locks
	reads         singleflight.Group
	permalinkBase string
	now           func() time.Time
	metrics       *metrics.Metrics
	log           *slog.Logger
}

func New(repo repository.OrderRepository, cfg Config) *Ledger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PermalinkBase == "" {
		cfg.PermalinkBase = "https://example.com/orders"
	}
	return &Ledger{
		repo:          repo,
		locks:         keylock.New(),
		permalinkBase: strings.TrimRight(cfg.PermalinkBase, "/"),
		now:           cfg.Now,
		metrics:       cfg.Metrics,
		log:           cfg.Logger,
	}
}

// NewOrder seeds an order from a checkout at completion time. Line item ids,
// items, quantities and totals are copied; nothing is fulfilled yet.
func NewOrder(id, permalink string, c *domain.Checkout, expectations []domain.Expectation) *domain.Order {
	lines := make([]domain.OrderLineItem, len(c.LineItems))
	for i, li := range c.LineItems {
		lines[i] = domain.OrderLineItem{
			ID:       li.ID,
			Item:     li.Item,
			Quantity: domain.Quantity{Total: li.Quantity},
			Totals:   append(domain.Totals{}, li.Totals...),
			Status:   domain.LineItemStatusProcessing,
			ParentID: li.ParentID,
		}
	}
	if expectations == nil {
		expectations = []domain.Expectation{}
	}
	return &domain.Order{
		UCP:          c.UCP,
		ID:           id,
		CheckoutID:   c.ID,
		PermalinkURL: permalink,
		LineItems:    lines,
		Fulfillment: domain.OrderFulfillment{
			Expectations: expectations,
			Events:       []domain.FulfillmentEvent{},
		},
		Adjustments: []domain.Adjustment{},
		Totals:      append(domain.Totals{}, c.Totals...),
	}
}

// PlaceOrder creates the order for a completed checkout. Placing the same
// checkout twice returns the order created the first time.
func (l *Ledger) PlaceOrder(ctx context.Context, c *domain.Checkout, expectations []domain.Expectation) (*domain.Order, error) {
	id := uuid.NewString()
	o := NewOrder(id, l.permalinkBase+"/"+id, c, expectations)

	payload, err := l.notification(EventOrderPlaced, o)
	if err != nil {
		return nil, err
	}

	err = l.repo.CreateOrder(ctx, o, repository.OutboxEvent{
		AggregateID: o.ID,
		EventType:   EventOrderPlaced,
		Payload:     payload,
	})
	if errors.Is(err, repository.ErrDuplicateCheckout) {
		existing, getErr := l.repo.GetOrderByCheckoutID(ctx, c.ID)
		if getErr != nil {
			return nil, fmt.Errorf("load existing order for checkout %s: %w", c.ID, getErr)
		}
		return Project(existing), nil
	}
	l.metrics.ObserveLedgerAppend(EventOrderPlaced, err)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	l.log.InfoContext(ctx, "order placed", "order_id", o.ID, "checkout_id", c.ID)
	return Project(o), nil
}

// GetOrder returns the projected order. Concurrent reads of one order share a
// single load, so the result must be treated as read-only.
func (l *Ledger) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	v, err, _ := l.reads.Do(id, func() (any, error) {
		o, err := l.repo.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		return Project(o), nil
	})
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return v.(*domain.Order), nil
}

func (l *Ledger) GetOrderByCheckoutID(ctx context.Context, checkoutID string) (*domain.Order, error) {
	o, err := l.repo.GetOrderByCheckoutID(ctx, checkoutID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order for checkout %s: %w", checkoutID, err)
	}
	return Project(o), nil
}

// RecordFulfillmentEvent appends a fulfillment event. An event that would
// push any line item past its ordered quantity is rejected with ErrConflict
// and nothing is written.
func (l *Ledger) RecordFulfillmentEvent(ctx context.Context, orderID string, in EventInput) (*domain.Order, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(orderID)
	defer unlock()

	stored, err := l.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if in.ID != "" && hasEvent(stored, in.ID) {
		return nil, ErrAlreadyRecorded
	}

	fulfilled := FulfilledQuantities(stored.Fulfillment.Events)
	for i, ref := range in.LineItems {
		li, ok := stored.LineItem(ref.ID)
		if !ok {
			return nil, invalid(fmt.Sprintf("$.line_items[%d].id", i), "unknown line item %q", ref.ID)
		}
		fulfilled[ref.ID] += ref.Quantity
		if fulfilled[ref.ID] > li.Quantity.Total {
			return nil, fmt.Errorf("%w: line item %s would be fulfilled %d of %d",
				ErrConflict, ref.ID, fulfilled[ref.ID], li.Quantity.Total)
		}
	}

	ev := domain.FulfillmentEvent{
		ID:             orDefault(in.ID, "evt_"+uuid.NewString()),
		OccurredAt:     orNow(in.OccurredAt, l.now),
		Type:           in.Type,
		LineItems:      refs(in.LineItems),
		TrackingNumber: in.TrackingNumber,
		TrackingURL:    in.TrackingURL,
		Carrier:        in.Carrier,
		Description:    in.Description,
	}

	next := *stored
	next.Fulfillment.Events = append(append([]domain.FulfillmentEvent{}, stored.Fulfillment.Events...), ev)
	projected := Project(&next)

	payload, err := l.notification(EventOrderFulfillment, projected)
	if err != nil {
		return nil, err
	}
	err = l.repo.AppendFulfillmentEvent(ctx, orderID, stored.Version, ev, repository.OutboxEvent{
		AggregateID: orderID,
		EventType:   EventOrderFulfillment,
		Payload:     payload,
	})
	l.metrics.ObserveLedgerAppend(EventOrderFulfillment, err)
	if err != nil {
		return nil, appendError(err)
	}

	projected.Version = stored.Version + 1
	l.log.InfoContext(ctx, "fulfillment event recorded", "order_id", orderID, "event_id", ev.ID, "type", ev.Type)
	return projected, nil
}

// RecordAdjustment appends an adjustment. Completed adjustments may not
// refund more than the order was placed for.
func (l *Ledger) RecordAdjustment(ctx context.Context, orderID string, in AdjustmentInput) (*domain.Order, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(orderID)
	defer unlock()

	stored, err := l.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if in.ID != "" && hasAdjustment(stored, in.ID) {
		return nil, ErrAlreadyRecorded
	}

	for i, ref := range in.LineItems {
		li, ok := stored.LineItem(ref.ID)
		if !ok {
			return nil, invalid(fmt.Sprintf("$.line_items[%d].id", i), "unknown line item %q", ref.ID)
		}
		if ref.Quantity > li.Quantity.Total {
			return nil, invalid(fmt.Sprintf("$.line_items[%d].quantity", i),
				"quantity %d exceeds ordered quantity %d", ref.Quantity, li.Quantity.Total)
		}
	}

	if in.Status == domain.AdjustmentStatusCompleted && in.Amount != nil {
		placed := stored.Totals.Amount(domain.TotalTypeTotal)
		if already := Refunded(stored.Adjustments); already+*in.Amount > placed {
			return nil, fmt.Errorf("%w: adjustments would total %d of %d placed",
				ErrConflict, already+*in.Amount, placed)
		}
	}

	adj := domain.Adjustment{
		ID:          orDefault(in.ID, "adj_"+uuid.NewString()),
		Type:        in.Type,
		OccurredAt:  orNow(in.OccurredAt, l.now),
		Status:      in.Status,
		LineItems:   refs(in.LineItems),
		Amount:      in.Amount,
		Description: in.Description,
	}

	next := *stored
	next.Adjustments = append(append([]domain.Adjustment{}, stored.Adjustments...), adj)
	projected := Project(&next)

	payload, err := l.notification(EventOrderAdjustment, projected)
	if err != nil {
		return nil, err
	}
	err = l.repo.AppendAdjustment(ctx, orderID, stored.Version, adj, repository.OutboxEvent{
		AggregateID: orderID,
		EventType:   EventOrderAdjustment,
		Payload:     payload,
	})
	l.metrics.ObserveLedgerAppend(EventOrderAdjustment, err)
	if err != nil {
		return nil, appendError(err)
	}

	projected.Version = stored.Version + 1
	l.log.InfoContext(ctx, "adjustment recorded", "order_id", orderID, "adjustment_id", adj.ID, "status", adj.Status)
	return projected, nil
}

func (l *Ledger) load(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := l.repo.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return o, nil
}

func (l *Ledger) notification(eventType string, o *domain.Order) ([]byte, error) {
	payload, err := json.Marshal(Notification{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		CreatedTime: l.now().UTC(),
		Order:       o,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s notification: %w", eventType, err)
	}
	return payload, nil
}

func appendError(err error) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return ErrConcurrentUpdate
	case errors.Is(err, repository.ErrDuplicateEntry):
		return ErrAlreadyRecorded
	case errors.Is(err, repository.ErrOrderNotFound):
		return ErrOrderNotFound
	default:
		return fmt.Errorf("append to ledger: %w", err)
	}
}

func hasEvent(o *domain.Order, id string) bool {
	for _, ev := range o.Fulfillment.Events {
		if ev.ID == id {
			return true
		}
	}
	return false
}

func hasAdjustment(o *domain.Order, id string) bool {
	for _, adj := range o.Adjustments {
		if adj.ID == id {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orNow(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now().UTC()
	}
	return t
}
