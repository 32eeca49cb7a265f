package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/catalog"
	"github.com/fjod/go_ucp/internal/discount"
	"github.com/fjod/go_ucp/internal/fulfillment"
	"github.com/fjod/go_ucp/internal/inventory"
	"github.com/fjod/go_ucp/internal/ledger"
	"github.com/fjod/go_ucp/internal/payment"
	"github.com/fjod/go_ucp/internal/pricing"
	"github.com/fjod/go_ucp/internal/repository"
	"github.com/stretchr/testify/require"
)

var (
	roses = domain.Item{ID: "bouquet_roses", Title: "Bouquet of Red Roses", Price: 1500}
	pot   = domain.Item{ID: "pot_ceramic", Title: "Ceramic Pot", Price: 500}
	seeds = domain.Item{ID: "seeds_mix", Title: "Wildflower Seeds", Price: 300}

	home = domain.PostalAddress{
		StreetAddress:   "123 Main St",
		AddressLocality: "Springfield",
		AddressRegion:   "IL",
		AddressCountry:  "US",
		PostalCode:      "62701",
	}
)

// MockCatalog implements Catalog over a fixed item table
type MockCatalog struct {
	Items map[string]domain.Item
	Err   error
}

func (m *MockCatalog) GetProduct(_ context.Context, id string) (domain.Item, error) {
	if m.Err != nil {
		return domain.Item{}, m.Err
	}
	item, ok := m.Items[id]
	if !ok {
		return domain.Item{}, catalog.ErrProductNotFound
	}
	return item, nil
}

// MockRates implements fulfillment.RateProvider
type MockRates struct{}

func (MockRates) Rates(context.Context, string) ([]fulfillment.Rate, error) {
	return []fulfillment.Rate{
		{ID: "std-ship", Title: "Standard", Carrier: "USPS", Price: 500, MinDays: 3, MaxDays: 5},
		{ID: "exp-ship", Title: "Express", Carrier: "UPS", Price: 1500, MinDays: 1, MaxDays: 2},
	}, nil
}

func (MockRates) FreeShippingPromotions(context.Context) ([]fulfillment.Promotion, error) {
	return nil, nil
}

// MockTax implements pricing.TaxProvider and can be switched to failing
type MockTax struct {
	mu   sync.Mutex
	Rate int64
	Err  error
}

func (m *MockTax) Compute(ctx context.Context, lineItems []domain.LineItem, dest *domain.PostalAddress) (pricing.Fragment, error) {
	m.mu.Lock()
	err, rate := m.Err, m.Rate
	m.mu.Unlock()
	if err != nil {
		return pricing.Fragment{}, err
	}
	return pricing.NewFlatRate(map[string]int64{"default": rate}, 0).Compute(ctx, lineItems, dest)
}

func (m *MockTax) Fail(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

// MockOrders wraps the ledger and can fail order placement
type MockOrders struct {
	*ledger.Ledger
	PlaceErr error
	placed   int
	mu       sync.Mutex
}

func (m *MockOrders) PlaceOrder(ctx context.Context, c *domain.Checkout, exp []domain.Expectation) (*domain.Order, error) {
	m.mu.Lock()
	m.placed++
	err := m.PlaceErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.Ledger.PlaceOrder(ctx, c, exp)
}

func (m *MockOrders) Placed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placed
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	svc       *CheckoutServiceImpl
	repo      *repository.MemoryCheckoutRepository
	inventory *inventory.MemoryStore
	orders    *MockOrders
	tax       *MockTax
	clock     *clock
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	clk := &clock{now: time.Now().UTC().Truncate(time.Second)}

	stock := inventory.NewMemoryStore()
	t.Cleanup(func() { _ = stock.Close() })
	require.NoError(t, stock.SetStock(roses.ID, 10, nil))
	require.NoError(t, stock.SetStock(pot.ID, 10, nil))
	require.NoError(t, stock.SetStock(seeds.ID, 1, nil))

	registry := payment.NewRegistry()
	registry.Register(payment.MockDescriptor(), payment.NewMockHandler())

	repo := repository.NewMemoryCheckoutRepository()
	orders := &MockOrders{Ledger: ledger.New(repository.NewMemoryOrderRepository(), ledger.Config{Now: clk.Now})}
	tax := &MockTax{}

	cfg := Config{
		SignInEmails:    []string{"member@example.com"},
		PaymentHandlers: registry.Descriptors(),
		Now:             clk.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	svc := NewCheckoutService(Dependencies{
		Repo:    repo,
		Catalog: &MockCatalog{Items: map[string]domain.Item{roses.ID: roses, pot.ID: pot, seeds.ID: seeds}},
		Discounts: discount.NewResolver(discount.NewMemoryStore(
			discount.Definition{Code: "SAVE10", Title: "10% off", Kind: discount.KindPercentage, Value: 10, Method: domain.DiscountMethodAcross},
			discount.Definition{Code: "OLD", Title: "Expired", Kind: discount.KindFixedAmount, Value: 100, ExpiresAt: ptr(clk.now.Add(-time.Hour))},
		)),
		Fulfillment: fulfillment.NewResolver(MockRates{}, nil, nil),
		Tax:         tax,
		Inventory:   stock,
		Payments:    payment.NewGuarded(registry, time.Second),
		Orders:      orders,
	}, cfg)

	return &testEnv{svc: svc, repo: repo, inventory: stock, orders: orders, tax: tax, clock: clk}
}

func ptr[T any](v T) *T {
	return &v
}

func shippingHome(optionID string) *domain.Fulfillment {
	m := domain.FulfillmentMethod{
		Type: domain.FulfillmentMethodShipping,
		Destinations: []domain.FulfillmentDestination{
			{Type: domain.DestinationTypeShipping, ID: "dest_home", Address: home},
		},
		SelectedDestinationID: "dest_home",
	}
	if optionID != "" {
		m.Groups = []domain.FulfillmentGroup{{SelectedOptionID: optionID}}
	}
	return &domain.Fulfillment{Methods: []domain.FulfillmentMethod{m}}
}

// readyRequest is one rose and two pots shipped home with standard shipping.
func readyRequest() *CreateRequest {
	return &CreateRequest{
		Currency: "USD",
		LineItems: []LineItemRequest{
			{Item: ItemRef{ID: roses.ID}, Quantity: 1},
			{Item: ItemRef{ID: pot.ID}, Quantity: 2},
		},
		Buyer:       &domain.Buyer{FullName: "John Doe", Email: "john@example.com"},
		Fulfillment: shippingHome("std-ship"),
	}
}

func tokenPayment(token string) *CompleteRequest {
	return &CompleteRequest{PaymentData: &domain.PaymentInstrument{
		ID:        "instr_1",
		HandlerID: payment.MockHandlerID,
		Type:      "card",
		Credential: &domain.PaymentCredential{
			Type:  domain.CredentialTypeToken,
			Token: token,
		},
	}}
}

func (e *testEnv) createReady(t *testing.T) *domain.Checkout {
	t.Helper()
	c, err := e.svc.CreateCheckout(context.Background(), readyRequest())
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStatusReadyForComplete, c.Status, "messages: %+v", c.Messages)
	return c
}

func hasMessage(c *domain.Checkout, code string) (domain.Message, bool) {
	for _, m := range c.Messages {
		if m.Code == code {
			return m, true
		}
	}
	return domain.Message{}, false
}

var errTaxDown = errors.New("tax service down")
