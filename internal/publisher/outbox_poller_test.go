package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/ledger"
	"github.com/fjod/go_ucp/internal/repository"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

// MockWriter records messages and fails on demand
type MockWriter struct {
	mu       sync.Mutex
	Messages []kafkaGo.Message
	FailOn   int // 1-based call number that fails, 0 never fails
	calls    int
}

func (m *MockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailOn == m.calls {
		return errors.New("broker unavailable")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockWriter) Close() error {
	return nil
}

func (m *MockWriter) Sent() []kafkaGo.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafkaGo.Message(nil), m.Messages...)
}

func checkout(id string) *domain.Checkout {
	return &domain.Checkout{
		ID:       id,
		Currency: "USD",
		LineItems: []domain.LineItem{
			{ID: "li_1", Item: domain.Item{ID: "roses", Title: "Roses", Price: 1000}, Quantity: 2},
		},
		Totals: domain.Totals{
			{Type: domain.TotalTypeSubtotal, Amount: 2000},
			{Type: domain.TotalTypeTotal, Amount: 2000},
		},
	}
}

// seedOrders places n orders through the ledger so the outbox holds n order_placed events.
func seedOrders(t *testing.T, n int) (*repository.MemoryOrderRepository, []*domain.Order) {
	t.Helper()
	repo := repository.NewMemoryOrderRepository()
	l := ledger.New(repo, ledger.Config{})
	orders := make([]*domain.Order, n)
	for i := range n {
		o, err := l.PlaceOrder(context.Background(), checkout(fmt.Sprintf("chk_%d", i+1)), nil)
		require.NoError(t, err)
		orders[i] = o
	}
	return repo, orders
}

func TestProcessUnpublishedEvents(t *testing.T) {
	repo, orders := seedOrders(t, 2)
	writer := &MockWriter{}
	poller := newOutboxPoller(repo, writer, time.Second, nil, nil)

	n := poller.processUnpublishedEvents(context.Background())
	assert.Equal(t, 2, n)

	sent := writer.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, orders[0].ID, string(sent[0].Key))
	assert.Equal(t, "event_type", sent[0].Headers[0].Key)
	assert.Equal(t, ledger.EventOrderPlaced, string(sent[0].Headers[0].Value))

	var payload ledger.Notification
	require.NoError(t, json.Unmarshal(sent[0].Value, &payload))
	assert.Equal(t, ledger.EventOrderPlaced, payload.EventType)
	assert.Equal(t, "chk_1", payload.Order.CheckoutID)

	left, err := repo.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, left)

	// nothing left to send
	assert.Zero(t, poller.processUnpublishedEvents(context.Background()))
}

func TestProcessUnpublishedEvents_StopsAtFailure(t *testing.T) {
	repo, orders := seedOrders(t, 3)
	writer := &MockWriter{FailOn: 2}
	poller := newOutboxPoller(repo, writer, time.Second, nil, nil)

	n := poller.processUnpublishedEvents(context.Background())
	assert.Equal(t, 1, n)

	left, err := repo.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, left, 2)

	// the next tick resumes with the event that failed
	n = poller.processUnpublishedEvents(context.Background())
	assert.Equal(t, 2, n)
	sent := writer.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, orders[1].ID, string(sent[1].Key))
	assert.Equal(t, orders[2].ID, string(sent[2].Key))
}

type failingOutbox struct{}

func (failingOutbox) GetUnprocessedEvents(context.Context, int) ([]*repository.OutboxEvent, error) {
	return nil, errors.New("database connection error")
}

func (failingOutbox) MarkEventAsProcessed(context.Context, int64) error {
	return nil
}

func TestProcessUnpublishedEvents_RepositoryError(t *testing.T) {
	writer := &MockWriter{}
	poller := newOutboxPoller(failingOutbox{}, writer, time.Second, nil, nil)

	assert.Zero(t, poller.processUnpublishedEvents(context.Background()))
	assert.Empty(t, writer.Sent())
}

func TestRun_PublishesUntilCanceled(t *testing.T) {
	repo, _ := seedOrders(t, 1)
	writer := &MockWriter{}
	poller := newOutboxPoller(repo, writer, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(writer.Sent()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}
	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, "order-events")
	time.Sleep(5 * time.Second)

	repo, orders := seedOrders(t, 1)
	poller := NewOutboxPoller(repo, "order-events", time.Second, nil, nil, brokerAddr)
	defer poller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go poller.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    "order-events",
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, orders[0].ID, string(msg.Key))

	var payload ledger.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, orders[0].ID, payload.Order.ID)
}
