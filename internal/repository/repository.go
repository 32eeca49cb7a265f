package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_ucp/domain"
)

var (
	ErrCheckoutNotFound    = errors.New("checkout not found")
	ErrCheckoutExists      = errors.New("checkout already exists")
	ErrOrderNotFound       = errors.New("order not found")
	ErrDuplicateCheckout   = errors.New("order for checkout already exists")
	ErrDuplicateEntry      = errors.New("ledger entry already recorded")
	ErrVersionConflict     = errors.New("aggregate was modified concurrently")
	ErrOutboxEventNotFound = errors.New("outbox event not found")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// OutboxEvent is written in the same transaction as the change it describes.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// CheckoutRepository stores checkout sessions with optimistic versioning.
// CreateCheckout sets Version to 1; SaveCheckout only succeeds when the stored
// version equals expectedVersion and then sets c.Version to expectedVersion+1.
type CheckoutRepository interface {
	CreateCheckout(ctx context.Context, c *domain.Checkout) error
	GetCheckout(ctx context.Context, id string) (*domain.Checkout, error)
	SaveCheckout(ctx context.Context, c *domain.Checkout, expectedVersion int64) error
	ListExpiredCheckouts(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListStuckCheckouts returns checkouts left in complete_in_progress since before updatedBefore.
	ListStuckCheckouts(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error)
}

// OrderRepository stores orders. Once created an order only grows by
// appending fulfillment events and adjustments; every append bumps the
// version and is rejected on a version mismatch.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *domain.Order, event OutboxEvent) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByCheckoutID(ctx context.Context, checkoutID string) (*domain.Order, error)
	AppendFulfillmentEvent(ctx context.Context, orderID string, expectedVersion int64, ev domain.FulfillmentEvent, event OutboxEvent) error
	AppendAdjustment(ctx context.Context, orderID string, expectedVersion int64, adj domain.Adjustment, event OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

// expirable statuses are swept when expires_at passes
var expirable = []domain.CheckoutStatus{
	domain.CheckoutStatusIncomplete,
	domain.CheckoutStatusRequiresEscalation,
	domain.CheckoutStatusReadyForComplete,
}

func isExpirable(s domain.CheckoutStatus) bool {
	for _, st := range expirable {
		if st == s {
			return true
		}
	}
	return false
}

func jsonBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return data, nil
}

var (
	_ CheckoutRepository = (*MemoryCheckoutRepository)(nil)
	_ CheckoutRepository = (*mongoCheckoutRepository)(nil)
	_ OrderRepository    = (*MemoryOrderRepository)(nil)
	_ OrderRepository    = (*PostgresOrderRepository)(nil)
)
