package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/discount"
)

const discountColumns = `code, title, kind, value, method, priority, automatic, targets, expires_at`

func (r *Repository) FindByCode(ctx context.Context, code string) (discount.Definition, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+discountColumns+` FROM discounts WHERE UPPER(code) = ? AND automatic = 0`, code)
	def, err := scanDiscount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return discount.Definition{}, discount.ErrNotFound
	}
	if err != nil {
		return discount.Definition{}, fmt.Errorf("failed to query discount: %w", err)
	}
	return def, nil
}

// Automatic returns rules applied without a code, in insertion order.
func (r *Repository) Automatic(ctx context.Context) ([]discount.Definition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+discountColumns+` FROM discounts WHERE automatic = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query automatic discounts: %w", err)
	}
	defer rows.Close()

	var defs []discount.Definition
	for rows.Next() {
		def, err := scanDiscount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discount: %w", err)
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return defs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDiscount(s scanner) (discount.Definition, error) {
	var (
		def       discount.Definition
		code      sql.NullString
		kind      string
		method    string
		automatic int
		targets   string
		expiresAt sql.NullString
	)
	err := s.Scan(&code, &def.Title, &kind, &def.Value, &method, &def.Priority, &automatic, &targets, &expiresAt)
	if err != nil {
		return discount.Definition{}, err
	}

	def.Code = code.String
	def.Kind = discount.Kind(kind)
	def.Method = domain.DiscountMethod(method)
	def.Automatic = automatic == 1
	def.Targets = splitList(targets)
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return discount.Definition{}, fmt.Errorf("bad expiry for discount %q: %w", def.Title, err)
		}
		def.ExpiresAt = &t
	}
	return def, nil
}

var _ discount.Store = (*Repository)(nil)
