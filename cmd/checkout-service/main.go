package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_ucp/internal/cache"
	"github.com/fjod/go_ucp/internal/catalog"
	"github.com/fjod/go_ucp/internal/config"
	"github.com/fjod/go_ucp/internal/consumer"
	"github.com/fjod/go_ucp/internal/discount"
	"github.com/fjod/go_ucp/internal/fulfillment"
	ledgergrpc "github.com/fjod/go_ucp/internal/grpc"
	h "github.com/fjod/go_ucp/internal/http"
	"github.com/fjod/go_ucp/internal/inventory"
	"github.com/fjod/go_ucp/internal/ledger"
	"github.com/fjod/go_ucp/internal/payment"
	"github.com/fjod/go_ucp/internal/pricing"
	"github.com/fjod/go_ucp/internal/publisher"
	"github.com/fjod/go_ucp/internal/repository"
	"github.com/fjod/go_ucp/internal/service"
	"github.com/fjod/go_ucp/pkg/logger"
	"github.com/fjod/go_ucp/pkg/metrics"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
	})

	// incoming traceparent headers continue the caller's trace in logs
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("checkout-service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("checkout-service stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("checkout", reg)

	// Catalog
	products, err := catalog.NewRepository(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer products.Close()
	if err := products.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}

	stock, err := seedInventory(ctx, products)
	if err != nil {
		return err
	}
	defer stock.Close()

	// Stores
	checkouts, closeCheckouts, err := openCheckoutStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCheckouts()

	orderRepo, closeOrders, err := openOrderStore(cfg)
	if err != nil {
		return err
	}
	defer closeOrders()

	orders := ledger.New(orderRepo, ledger.Config{
		PermalinkBase: cfg.OrderPermalinkBase,
		Metrics:       m,
		Logger:        log,
	})

	registry := payment.NewRegistry()
	registry.Register(payment.MockDescriptor(), payment.NewMockHandler())

	svc := service.NewCheckoutService(service.Dependencies{
		Repo:        checkouts,
		Catalog:     products,
		Discounts:   discount.NewResolver(products),
		Fulfillment: fulfillment.NewResolver(products, products, products),
		Tax:         pricing.NewFlatRate(cfg.TaxRatesBps, cfg.FeeAmount),
		Inventory:   stock,
		Payments:    payment.NewGuarded(registry, cfg.PaymentTimeout),
		Orders:      orders,
	}, service.Config{
		CheckoutTTL:     cfg.CheckoutTTL,
		ContinueURLBase: cfg.ContinueURLBase,
		SignInEmails:    cfg.SignInEmails,
		FinalSaleItems:  cfg.FinalSaleItems,
		PaymentHandlers: registry.Descriptors(),
		Metrics:         m,
		Logger:          log,
	})

	var idempotency cache.IdempotencyStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		idempotency = cache.NewRedisCache(client, cfg.IdempotencyTTL)
	} else {
		log.Warn("REDIS_ADDR not set, Idempotency-Key headers are ignored")
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Checkouts:          svc,
			Orders:             orders,
			Idempotency:        idempotency,
			Metrics:            m,
			Gatherer:           reg,
			Logger:             log,
			RequestTimeout:     cfg.RequestTimeout,
			MaxRequestBodySize: cfg.MaxRequestBodySize,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	grpcServer := ledgergrpc.NewServer(orders, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc server starting", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		service.NewSweeper(svc, cfg.SweepInterval).Run(gctx)
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(orderRepo, cfg.OrderEventsTopic, cfg.OutboxPollInterval, m, log, cfg.KafkaBrokers...)
		g.Go(func() error {
			defer poller.Close()
			poller.Run(gctx)
			return nil
		})

		fulfillmentConsumer := consumer.NewConsumer(orders, cfg.FulfillmentEventsTopic, cfg.ConsumerGroup, log, cfg.KafkaBrokers...)
		g.Go(func() error {
			defer fulfillmentConsumer.Close()
			fulfillmentConsumer.Run(gctx)
			return nil
		})
	} else {
		log.Warn("KAFKA_BROKERS not set, order events stay in the outbox")
	}

	return g.Wait()
}

func seedInventory(ctx context.Context, products *catalog.Repository) (*inventory.MemoryStore, error) {
	levels, err := products.StockLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stock levels: %w", err)
	}
	stock := inventory.NewMemoryStore()
	for _, lvl := range levels {
		if err := stock.SetStock(lvl.ProductID, lvl.Quantity, lvl.RestockOn); err != nil {
			_ = stock.Close()
			return nil, fmt.Errorf("seed stock for %s: %w", lvl.ProductID, err)
		}
	}
	return stock, nil
}

func openCheckoutStore(ctx context.Context, cfg *config.Config) (repository.CheckoutRepository, func(), error) {
	switch cfg.CheckoutStore {
	case "memory":
		return repository.NewMemoryCheckoutRepository(), func() {}, nil
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := repository.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoCheckoutRepository(db)
		if err := repo.CreateIndexes(connectCtx); err != nil {
			return nil, nil, fmt.Errorf("create checkout indexes: %w", err)
		}
		return repo, func() { _ = db.Client().Disconnect(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown CHECKOUT_STORE %q", cfg.CheckoutStore)
	}
}

func openOrderStore(cfg *config.Config) (repository.OrderRepository, func(), error) {
	switch cfg.OrderStore {
	case "memory":
		return repository.NewMemoryOrderRepository(), func() {}, nil
	case "postgres":
		creds := &repository.Credentials{
			Host:              cfg.DBHost,
			Port:              cfg.DBPort,
			User:              cfg.DBUser,
			Password:          cfg.DBPassword,
			DBName:            cfg.DBName,
			MigrationsDirPath: cfg.MigrationsPath,
		}
		repo, err := repository.NewPostgresOrderRepository(creds)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.RunMigrations(creds); err != nil {
			_ = repo.Close()
			return nil, nil, fmt.Errorf("migrate orders: %w", err)
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ORDER_STORE %q", cfg.OrderStore)
	}
}
