package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_ucp/internal/cache"
	"github.com/fjod/go_ucp/internal/service"
	"github.com/fjod/go_ucp/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Checkouts          service.CheckoutService
	Orders             OrderReader
	Idempotency        cache.IdempotencyStore
	Metrics            *metrics.Metrics
	Gatherer           prometheus.Gatherer
	Logger             *slog.Logger
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	checkoutHandler := NewCheckoutHandler(cfg.Checkouts, cfg.RequestTimeout)
	ordersHandler := NewOrdersHandler(cfg.Orders, cfg.RequestTimeout)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(MaxBytesMiddleware(cfg.MaxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Route("/checkout-sessions", func(r chi.Router) {
		r.Use(IdempotencyMiddleware(cfg.Idempotency, cfg.Logger))
		r.Post("/", checkoutHandler.CreateCheckout)
		r.Get("/{id}", checkoutHandler.GetCheckout)
		r.Put("/{id}", checkoutHandler.UpdateCheckout)
		r.Post("/{id}/complete", checkoutHandler.CompleteCheckout)
		r.Post("/{id}/cancel", checkoutHandler.CancelCheckout)
	})
	r.Get("/orders/{order_id}", ordersHandler.GetOrder)

	return otelhttp.NewHandler(r, "checkout-service")
}
