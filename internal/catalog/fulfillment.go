package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/fulfillment"
)

const defaultCountry = "default"

// Rates returns the country's own rates together with the default ones.
func (r *Repository) Rates(ctx context.Context, country string) ([]fulfillment.Rate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, country_code, title, carrier, price, min_days, max_days
		FROM shipping_rates
		WHERE country_code = ? OR country_code = ?
		ORDER BY price, id`, defaultCountry, strings.ToUpper(country))
	if err != nil {
		return nil, fmt.Errorf("failed to query shipping rates: %w", err)
	}
	defer rows.Close()

	var rates []fulfillment.Rate
	for rows.Next() {
		var rate fulfillment.Rate
		if err := rows.Scan(&rate.ID, &rate.Country, &rate.Title, &rate.Carrier, &rate.Price, &rate.MinDays, &rate.MaxDays); err != nil {
			return nil, fmt.Errorf("failed to scan shipping rate: %w", err)
		}
		rates = append(rates, rate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return rates, nil
}

func (r *Repository) FreeShippingPromotions(ctx context.Context) ([]fulfillment.Promotion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, subtotal_threshold, item_ids
		FROM promotions
		WHERE type = 'free_shipping'
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	var promos []fulfillment.Promotion
	for rows.Next() {
		var (
			p     fulfillment.Promotion
			items string
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.MinSubtotal, &items); err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		p.ItemIDs = splitList(items)
		promos = append(promos, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return promos, nil
}

func (r *Repository) Addresses(ctx context.Context, email string) ([]domain.PostalAddress, error) {
	if email == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT street_address, extended_address, address_locality, address_region,
		       address_country, postal_code, full_name
		FROM customer_addresses
		WHERE LOWER(customer_email) = LOWER(?)
		ORDER BY id`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses: %w", err)
	}
	defer rows.Close()

	var addrs []domain.PostalAddress
	for rows.Next() {
		var a domain.PostalAddress
		if err := rows.Scan(&a.StreetAddress, &a.ExtendedAddress, &a.AddressLocality, &a.AddressRegion,
			&a.AddressCountry, &a.PostalCode, &a.FullName); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addrs = append(addrs, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return addrs, nil
}

func (r *Repository) Locations(ctx context.Context) ([]domain.FulfillmentDestination, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, street_address, address_locality, address_region, address_country, postal_code
		FROM pickup_locations
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pickup locations: %w", err)
	}
	defer rows.Close()

	var locations []domain.FulfillmentDestination
	for rows.Next() {
		loc := domain.FulfillmentDestination{Type: domain.DestinationTypeRetail}
		a := &loc.Address
		if err := rows.Scan(&loc.ID, &loc.Name, &a.StreetAddress, &a.AddressLocality, &a.AddressRegion,
			&a.AddressCountry, &a.PostalCode); err != nil {
			return nil, fmt.Errorf("failed to scan pickup location: %w", err)
		}
		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return locations, nil
}

var (
	_ fulfillment.RateProvider     = (*Repository)(nil)
	_ fulfillment.AddressBook      = (*Repository)(nil)
	_ fulfillment.LocationProvider = (*Repository)(nil)
)
