package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/go_ucp/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(cred *Credentials) (*PostgresOrderRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	slog.Info("connected to postgres", "host", cred.Host, "db", cred.DBName)
	return &PostgresOrderRepository{db: db}, nil
}

func (r *PostgresOrderRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "ledger_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, o *domain.Order, event OutboxEvent) error {
	body, err := marshalOrderBody(o)
	if err != nil {
		return err
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO orders (id, checkout_id, version, body) VALUES ($1, $2, 1, $3)`,
			o.ID, o.CheckoutID, body)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateCheckout
			}
			return fmt.Errorf("insert order: %w", err)
		}
		if err := insertOutbox(ctx, tx, event); err != nil {
			return err
		}
		o.Version = 1
		return nil
	})
}

func (r *PostgresOrderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.loadOrder(ctx, `SELECT id, version, body FROM orders WHERE id = $1`, id)
}

func (r *PostgresOrderRepository) GetOrderByCheckoutID(ctx context.Context, checkoutID string) (*domain.Order, error) {
	return r.loadOrder(ctx, `SELECT id, version, body FROM orders WHERE checkout_id = $1`, checkoutID)
}

func (r *PostgresOrderRepository) AppendFulfillmentEvent(ctx context.Context, orderID string, expectedVersion int64, ev domain.FulfillmentEvent, event OutboxEvent) error {
	body, err := jsonBody(ev)
	if err != nil {
		return err
	}
	return r.appendEntry(ctx, orderID, expectedVersion,
		`INSERT INTO order_fulfillment_events (id, order_id, body) VALUES ($1, $2, $3)`,
		ev.ID, body, event)
}

func (r *PostgresOrderRepository) AppendAdjustment(ctx context.Context, orderID string, expectedVersion int64, adj domain.Adjustment, event OutboxEvent) error {
	body, err := jsonBody(adj)
	if err != nil {
		return err
	}
	return r.appendEntry(ctx, orderID, expectedVersion,
		`INSERT INTO order_adjustments (id, order_id, body) VALUES ($1, $2, $3)`,
		adj.ID, body, event)
}

func (r *PostgresOrderRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at
		 FROM outbox WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *PostgresOrderRepository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE outbox SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox event: %w", err)
	}
	if n == 0 {
		return ErrOutboxEventNotFound
	}
	return nil
}

func (r *PostgresOrderRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresOrderRepository) appendEntry(ctx context.Context, orderID string, expectedVersion int64, insert, entryID string, body []byte, event OutboxEvent) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE orders SET version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2`,
			orderID, expectedVersion)
		if err != nil {
			return fmt.Errorf("bump order version: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("bump order version: %w", err)
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
				return fmt.Errorf("check order: %w", err)
			}
			if !exists {
				return ErrOrderNotFound
			}
			return ErrVersionConflict
		}

		if _, err := tx.ExecContext(ctx, insert, entryID, orderID, body); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateEntry
			}
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		return insertOutbox(ctx, tx, event)
	})
}

func (r *PostgresOrderRepository) loadOrder(ctx context.Context, query, arg string) (*domain.Order, error) {
	var (
		id      string
		version int64
		base    []byte
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&id, &version, &base)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	events, err := r.bodies(ctx, `SELECT body FROM order_fulfillment_events WHERE order_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	adjustments, err := r.bodies(ctx, `SELECT body FROM order_adjustments WHERE order_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	return assembleOrder(base, version, events, adjustments)
}

func (r *PostgresOrderRepository) bodies(ctx context.Context, query, orderID string) ([][]byte, error) {
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, body)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (r *PostgresOrderRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, event OutboxEvent) error {
	if event.EventType == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		event.AggregateID, event.EventType, event.Payload)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
