package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) (*PostgresOrderRepository, func()) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewPostgresOrderRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return repo, cleanup
}

func TestPostgresOrderRepository_Lifecycle(t *testing.T) {
	repo, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	o := newOrder("ord_1", "chk_1")
	require.NoError(t, repo.CreateOrder(ctx, o, OutboxEvent{AggregateID: "ord_1", EventType: "order_placed", Payload: []byte(`{"id":"ord_1"}`)}))

	err := repo.CreateOrder(ctx, newOrder("ord_2", "chk_1"), OutboxEvent{})
	assert.ErrorIs(t, err, ErrDuplicateCheckout)

	ev := domain.FulfillmentEvent{ID: "evt_1", Type: "shipped", OccurredAt: time.Now().UTC(), LineItems: []domain.LineItemRef{{ID: "li_1", Quantity: 2}}}
	require.NoError(t, repo.AppendFulfillmentEvent(ctx, "ord_1", 1, ev, OutboxEvent{AggregateID: "ord_1", EventType: "order_fulfillment_event", Payload: []byte(`{}`)}))
	assert.ErrorIs(t, repo.AppendFulfillmentEvent(ctx, "ord_1", 1, domain.FulfillmentEvent{ID: "evt_2"}, OutboxEvent{}), ErrVersionConflict)
	assert.ErrorIs(t, repo.AppendFulfillmentEvent(ctx, "ord_1", 2, ev, OutboxEvent{}), ErrDuplicateEntry)
	assert.ErrorIs(t, repo.AppendAdjustment(ctx, "nope", 1, domain.Adjustment{ID: "adj_x"}, OutboxEvent{}), ErrOrderNotFound)

	require.NoError(t, repo.CreateOrder(ctx, newOrder("ord_3", "chk_3"), OutboxEvent{}))
	require.NoError(t, repo.AppendFulfillmentEvent(ctx, "ord_3", 1, ev, OutboxEvent{}))

	got, err := repo.GetOrderByCheckoutID(ctx, "chk_1")
	require.NoError(t, err)
	assert.Equal(t, "ord_1", got.ID)
	assert.Equal(t, int64(2), got.Version)
	require.Len(t, got.Fulfillment.Events, 1)
	assert.Equal(t, 2, got.Fulfillment.Events[0].LineItems[0].Quantity)
	assert.Empty(t, got.Adjustments)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "order_placed", events[0].EventType)
	assert.JSONEq(t, `{"id":"ord_1"}`, string(events[0].Payload))

	require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))
	assert.ErrorIs(t, repo.MarkEventAsProcessed(ctx, 9999), ErrOutboxEventNotFound)

	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPostgresOrderRepository_ConcurrentAppend(t *testing.T) {
	repo, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ord_1", "chk_1"), OutboxEvent{}))

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := domain.FulfillmentEvent{ID: "evt_" + string(rune('a'+i)), Type: "shipped", OccurredAt: time.Now()}
			results <- repo.AppendFulfillmentEvent(ctx, "ord_1", 1, ev, OutboxEvent{})
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrVersionConflict)
		conflicts++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, conflicts)
}
