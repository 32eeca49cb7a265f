package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

var ErrProductNotFound = errors.New("product not found")

// Repository is the merchant catalog: products, stock levels, discount rules,
// shipping rates, promotions, known buyer addresses and pickup locations.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) GetProduct(ctx context.Context, id string) (domain.Item, error) {
	var item domain.Item
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, price, image_url FROM products WHERE id = ?`, id).
		Scan(&item.ID, &item.Title, &item.Price, &item.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, ErrProductNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("failed to query product: %w", err)
	}
	return item, nil
}

// StockLevel is the seed stock of one product.
type StockLevel struct {
	ProductID string
	Quantity  int
	RestockOn *time.Time
}

func (r *Repository) StockLevels(ctx context.Context) ([]StockLevel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT product_id, quantity, restock_on FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var (
			lvl     StockLevel
			restock sql.NullString
		)
		if err := rows.Scan(&lvl.ProductID, &lvl.Quantity, &restock); err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		if restock.Valid {
			on, err := time.Parse(time.DateOnly, restock.String)
			if err != nil {
				return nil, fmt.Errorf("bad restock date for %s: %w", lvl.ProductID, err)
			}
			lvl.RestockOn = &on
		}
		levels = append(levels, lvl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return levels, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
