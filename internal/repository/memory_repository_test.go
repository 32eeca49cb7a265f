package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckout(id string, expiresAt time.Time) *domain.Checkout {
	return &domain.Checkout{
		ID:       id,
		Status:   domain.CheckoutStatusIncomplete,
		Currency: "USD",
		LineItems: []domain.LineItem{
			{ID: "li_1", Item: domain.Item{ID: "bouquet_roses", Title: "Red Rose", Price: 2500}, Quantity: 2},
		},
		ExpiresAt: &expiresAt,
		Extra:     domain.Extra{"merchant_note": json.RawMessage(`"fragile"`)},
	}
}

func newOrder(id, checkoutID string) *domain.Order {
	return &domain.Order{
		ID:         id,
		CheckoutID: checkoutID,
		LineItems: []domain.OrderLineItem{
			{ID: "li_1", Item: domain.Item{ID: "bouquet_roses", Price: 2500}, Quantity: domain.Quantity{Total: 2}},
		},
		Totals: domain.Totals{{Type: domain.TotalTypeTotal, Amount: 5000}},
	}
}

func TestMemoryCheckoutRepository_CreateAndGet(t *testing.T) {
	repo := NewMemoryCheckoutRepository()
	ctx := context.Background()
	c := newCheckout("chk_1", time.Now().Add(time.Hour))

	require.NoError(t, repo.CreateCheckout(ctx, c))
	assert.Equal(t, int64(1), c.Version)
	assert.ErrorIs(t, repo.CreateCheckout(ctx, c), ErrCheckoutExists)

	got, err := repo.GetCheckout(ctx, "chk_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 2, got.LineItems[0].Quantity)
	assert.JSONEq(t, `"fragile"`, string(got.Extra["merchant_note"]))

	// callers get copies
	got.LineItems[0].Quantity = 99
	again, err := repo.GetCheckout(ctx, "chk_1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.LineItems[0].Quantity)

	_, err = repo.GetCheckout(ctx, "missing")
	assert.ErrorIs(t, err, ErrCheckoutNotFound)
}

func TestMemoryCheckoutRepository_SaveVersioning(t *testing.T) {
	repo := NewMemoryCheckoutRepository()
	ctx := context.Background()
	c := newCheckout("chk_1", time.Now().Add(time.Hour))
	require.NoError(t, repo.CreateCheckout(ctx, c))

	first, err := repo.GetCheckout(ctx, "chk_1")
	require.NoError(t, err)
	second, err := repo.GetCheckout(ctx, "chk_1")
	require.NoError(t, err)

	first.Status = domain.CheckoutStatusReadyForComplete
	require.NoError(t, repo.SaveCheckout(ctx, first, first.Version))
	assert.Equal(t, int64(2), first.Version)

	second.Status = domain.CheckoutStatusCanceled
	assert.ErrorIs(t, repo.SaveCheckout(ctx, second, second.Version), ErrVersionConflict)

	stored, err := repo.GetCheckout(ctx, "chk_1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusReadyForComplete, stored.Status)

	ghost := newCheckout("ghost", time.Now())
	assert.ErrorIs(t, repo.SaveCheckout(ctx, ghost, 1), ErrCheckoutNotFound)
}

func TestMemoryCheckoutRepository_ListExpired(t *testing.T) {
	repo := NewMemoryCheckoutRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.CreateCheckout(ctx, newCheckout("chk_b", now.Add(-time.Minute))))
	require.NoError(t, repo.CreateCheckout(ctx, newCheckout("chk_a", now.Add(-time.Hour))))
	require.NoError(t, repo.CreateCheckout(ctx, newCheckout("chk_live", now.Add(time.Hour))))

	done := newCheckout("chk_done", now.Add(-time.Hour))
	done.Status = domain.CheckoutStatusCompleted
	require.NoError(t, repo.CreateCheckout(ctx, done))

	ids, err := repo.ListExpiredCheckouts(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"chk_a", "chk_b"}, ids)

	ids, err = repo.ListExpiredCheckouts(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestMemoryCheckoutRepository_ListStuck(t *testing.T) {
	repo := NewMemoryCheckoutRepository()
	ctx := context.Background()

	stuck := newCheckout("chk_stuck", time.Now().Add(time.Hour))
	stuck.Status = domain.CheckoutStatusCompleteInProgress
	require.NoError(t, repo.CreateCheckout(ctx, stuck))
	require.NoError(t, repo.CreateCheckout(ctx, newCheckout("chk_open", time.Now().Add(time.Hour))))

	ids, err := repo.ListStuckCheckouts(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"chk_stuck"}, ids)

	// recently touched sessions are still being worked on
	ids, err = repo.ListStuckCheckouts(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryOrderRepository_CreateOrder(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()
	o := newOrder("ord_1", "chk_1")

	require.NoError(t, repo.CreateOrder(ctx, o, OutboxEvent{AggregateID: "ord_1", EventType: "order_placed", Payload: []byte(`{}`)}))
	assert.Equal(t, int64(1), o.Version)

	err := repo.CreateOrder(ctx, newOrder("ord_2", "chk_1"), OutboxEvent{})
	assert.ErrorIs(t, err, ErrDuplicateCheckout)

	byCheckout, err := repo.GetOrderByCheckoutID(ctx, "chk_1")
	require.NoError(t, err)
	assert.Equal(t, "ord_1", byCheckout.ID)
	assert.Empty(t, byCheckout.Fulfillment.Events)

	_, err = repo.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryOrderRepository_AppendOnly(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ord_1", "chk_1"), OutboxEvent{}))

	ev := domain.FulfillmentEvent{
		ID:         "evt_1",
		Type:       "shipped",
		OccurredAt: time.Date(2026, 1, 11, 10, 0, 0, 0, time.UTC),
		LineItems:  []domain.LineItemRef{{ID: "li_1", Quantity: 1}},
	}
	require.NoError(t, repo.AppendFulfillmentEvent(ctx, "ord_1", 1, ev, OutboxEvent{AggregateID: "ord_1", EventType: "order_fulfillment_event", Payload: []byte(`{}`)}))

	// stale version
	assert.ErrorIs(t, repo.AppendFulfillmentEvent(ctx, "ord_1", 1, domain.FulfillmentEvent{ID: "evt_2"}, OutboxEvent{}), ErrVersionConflict)
	// same id twice
	assert.ErrorIs(t, repo.AppendFulfillmentEvent(ctx, "ord_1", 2, ev, OutboxEvent{}), ErrDuplicateEntry)
	assert.ErrorIs(t, repo.AppendFulfillmentEvent(ctx, "missing", 1, ev, OutboxEvent{}), ErrOrderNotFound)
	// ids are scoped per order
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ord_2", "chk_2"), OutboxEvent{}))
	require.NoError(t, repo.AppendFulfillmentEvent(ctx, "ord_2", 1, ev, OutboxEvent{}))

	amount := int64(500)
	adj := domain.Adjustment{ID: "adj_1", Type: "refund", Status: domain.AdjustmentStatusCompleted, Amount: &amount}
	require.NoError(t, repo.AppendAdjustment(ctx, "ord_1", 2, adj, OutboxEvent{}))

	o, err := repo.GetOrder(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), o.Version)
	require.Len(t, o.Fulfillment.Events, 1)
	assert.Equal(t, "evt_1", o.Fulfillment.Events[0].ID)
	assert.True(t, ev.OccurredAt.Equal(o.Fulfillment.Events[0].OccurredAt))
	require.Len(t, o.Adjustments, 1)
	assert.Equal(t, int64(500), *o.Adjustments[0].Amount)
}

func TestMemoryOrderRepository_Outbox(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateOrder(ctx, newOrder("ord_1", "chk_1"), OutboxEvent{AggregateID: "ord_1", EventType: "order_placed", Payload: []byte(`{"n":1}`)}))
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ord_2", "chk_2"), OutboxEvent{AggregateID: "ord_2", EventType: "order_placed", Payload: []byte(`{"n":2}`)}))

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ord_1", events[0].AggregateID)
	assert.False(t, events[0].CreatedAt.IsZero())

	require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))
	assert.ErrorIs(t, repo.MarkEventAsProcessed(ctx, 42), ErrOutboxEventNotFound)

	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ord_2", events[0].AggregateID)
}
