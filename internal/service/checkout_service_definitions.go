package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/discount"
	"github.com/fjod/go_ucp/internal/fulfillment"
	"github.com/fjod/go_ucp/internal/inventory"
	"github.com/fjod/go_ucp/internal/payment"
	"github.com/fjod/go_ucp/internal/pricing"
	"github.com/fjod/go_ucp/internal/repository"
	"github.com/fjod/go_ucp/pkg/keylock"
	"github.com/fjod/go_ucp/pkg/metrics"
)

const DefaultCheckoutTTL = 6 * time.Hour

type CheckoutService interface {
	CreateCheckout(ctx context.Context, req *CreateRequest) (*domain.Checkout, error)
	GetCheckout(ctx context.Context, id string) (*domain.Checkout, error)
	UpdateCheckout(ctx context.Context, id string, req *UpdateRequest) (*domain.Checkout, error)
	CompleteCheckout(ctx context.Context, id string, req *CompleteRequest) (*domain.Checkout, error)
	CancelCheckout(ctx context.Context, id string) (*domain.Checkout, error)
}

// Catalog prices line items. Unknown ids return catalog.ErrProductNotFound.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (domain.Item, error)
}

type PaymentAuthorizer interface {
	Authorize(ctx context.Context, req payment.Request) (payment.Authorization, error)
}

// OrderPlacer turns a completed checkout into an order. Placing the same
// checkout twice must return the first order. GetOrderByCheckoutID returns
// ledger.ErrOrderNotFound when no order exists yet.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, c *domain.Checkout, expectations []domain.Expectation) (*domain.Order, error)
	GetOrderByCheckoutID(ctx context.Context, checkoutID string) (*domain.Order, error)
}

type Dependencies struct {
	Repo        repository.CheckoutRepository
	Catalog     Catalog
	Discounts   *discount.Resolver
	Fulfillment *fulfillment.Resolver
	Tax         pricing.TaxProvider
	Inventory   inventory.Store
	Payments    PaymentAuthorizer
	Orders      OrderPlacer
}

type Config struct {
	CheckoutTTL     time.Duration
	ContinueURLBase string
	// SignInEmails are buyer emails that must sign in before checking out.
	SignInEmails    []string
	// FinalSaleItems are item ids the buyer has to acknowledge as
	// non-returnable before the order can be placed.
	FinalSaleItems  []string
	PaymentHandlers []domain.PaymentHandlerDescriptor
	Links           []domain.Link
	TaxTimeout      time.Duration
	// StuckAfter is how long a completion may stay in progress before the
	// sweeper recovers it.
	StuckAfter      time.Duration
	Now             func() time.Time
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

type CheckoutServiceImpl struct {
	repo        repository.CheckoutRepository
	catalog     Catalog
	discounts   *discount.Resolver
	fulfillment *fulfillment.Resolver
	tax         pricing.TaxProvider
	inventory   inventory.Store
	payments    PaymentAuthorizer
	orders      OrderPlacer

	locks   *keylock.Locks
	cfg     Config
	now     func() time.Time
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewCheckoutService(deps Dependencies, cfg Config) *CheckoutServiceImpl {
	if cfg.CheckoutTTL <= 0 {
		cfg.CheckoutTTL = DefaultCheckoutTTL
	}
	if cfg.TaxTimeout <= 0 {
		cfg.TaxTimeout = 2 * time.Second
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	if cfg.ContinueURLBase == "" {
		cfg.ContinueURLBase = "https://example.com/checkout"
	}
	if cfg.Links == nil {
		cfg.Links = defaultLinks()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CheckoutServiceImpl{
		repo:        deps.Repo,
		catalog:     deps.Catalog,
		discounts:   deps.Discounts,
		fulfillment: deps.Fulfillment,
		tax:         deps.Tax,
		inventory:   deps.Inventory,
		payments:    deps.Payments,
		orders:      deps.Orders,
		locks:       keylock.New(),
		cfg:         cfg,
		now:         cfg.Now,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
	}
}

func defaultLinks() []domain.Link {
	return []domain.Link{
		{Type: "terms_of_service", URL: "https://example.com/legal/terms", Title: "Terms of Service"},
		{Type: "privacy_policy", URL: "https://example.com/legal/privacy", Title: "Privacy Policy"},
	}
}

func capabilities() []domain.Capability {
	return []domain.Capability{
		{Name: "dev.ucp.shopping.checkout", Version: domain.ProtocolVersion},
		{Name: "dev.ucp.shopping.fulfillment", Version: domain.ProtocolVersion},
		{Name: "dev.ucp.shopping.discount", Version: domain.ProtocolVersion},
	}
}

var _ CheckoutService = (*CheckoutServiceImpl)(nil)
