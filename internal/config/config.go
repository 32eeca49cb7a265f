package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	Env         string
	LogLevel    string

	HTTPPort           string
	GRPCPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	// CheckoutStore is "memory" or "mongo"; OrderStore is "memory" or "postgres".
	CheckoutStore string
	OrderStore    string

	MongoURI    string
	MongoDBName string

	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	MigrationsPath string

	CatalogPath           string
	CatalogMigrationsPath string

	RedisAddr      string
	IdempotencyTTL time.Duration

	KafkaBrokers           []string
	OrderEventsTopic       string
	FulfillmentEventsTopic string
	ConsumerGroup          string
	OutboxPollInterval     time.Duration

	CheckoutTTL        time.Duration
	SweepInterval      time.Duration
	PaymentTimeout     time.Duration
	ContinueURLBase    string
	OrderPermalinkBase string
	SignInEmails       []string
	FinalSaleItems     []string
	TaxRatesBps        map[string]int64
	FeeAmount          int64
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env not loaded", "error", err)
	}

	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "checkout-service"),
		Env:         getEnv("APP_ENV", "local"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		GRPCPort:           getEnv("GRPC_PORT", "50060"),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),

		CheckoutStore: getEnv("CHECKOUT_STORE", "memory"),
		OrderStore:    getEnv("ORDER_STORE", "memory"),

		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGO_DB", "ucp"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnvInt("DB_PORT", 5432),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "ucp"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),

		CatalogPath:           getEnv("CATALOG_PATH", "catalog.db"),
		CatalogMigrationsPath: getEnv("CATALOG_MIGRATIONS_PATH", "./internal/catalog/migrations"),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		KafkaBrokers:           getEnvList("KAFKA_BROKERS"),
		OrderEventsTopic:       getEnv("ORDER_EVENTS_TOPIC", "order-events"),
		FulfillmentEventsTopic: getEnv("FULFILLMENT_EVENTS_TOPIC", "fulfillment-events"),
		ConsumerGroup:          getEnv("CONSUMER_GROUP", "checkout-service"),
		OutboxPollInterval:     getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),

		CheckoutTTL:        getEnvDuration("CHECKOUT_TTL", 6*time.Hour),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", time.Minute),
		PaymentTimeout:     getEnvDuration("PAYMENT_TIMEOUT", 5*time.Second),
		ContinueURLBase:    getEnv("CONTINUE_URL_BASE", "https://example.com/checkout"),
		OrderPermalinkBase: getEnv("ORDER_PERMALINK_BASE", "https://example.com/orders"),
		SignInEmails:       getEnvList("SIGN_IN_EMAILS"),
		FinalSaleItems:     getEnvList("FINAL_SALE_ITEMS"),
		TaxRatesBps:        getEnvRates("TAX_RATES_BPS", map[string]int64{"default": 0}),
		FeeAmount:          int64(getEnvInt("FEE_AMOUNT", 0)),
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "6h").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvRates parses "US=800,DE=1900,default=0" into basis points per country.
func getEnvRates(key string, defaultValue map[string]int64) map[string]int64 {
	entries := getEnvList(key)
	if len(entries) == 0 {
		return defaultValue
	}
	rates := make(map[string]int64, len(entries))
	for _, entry := range entries {
		country, bps, ok := strings.Cut(entry, "=")
		if !ok {
			slog.Warn("invalid tax rate entry", "key", key, "entry", entry)
			continue
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(bps), 10, 64)
		if err != nil || parsed < 0 {
			slog.Warn("invalid tax rate entry", "key", key, "entry", entry)
			continue
		}
		rates[strings.TrimSpace(country)] = parsed
	}
	return rates
}
