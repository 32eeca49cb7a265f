package pricing

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/fjod/go_ucp/domain"
	"golang.org/x/text/currency"
)

var (
	ErrNegativeTotal   = errors.New("computed total is negative")
	ErrNegativeAmount  = errors.New("totals input contains a negative amount")
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrAmountOverflow  = errors.New("amount exceeds the representable range")
)

var displayText = map[domain.TotalType]string{
	domain.TotalTypeSubtotal:      "Subtotal",
	domain.TotalTypeItemsDiscount: "Item discounts",
	domain.TotalTypeDiscount:      "Discount",
	domain.TotalTypeFulfillment:   "Fulfillment",
	domain.TotalTypeTax:           "Tax",
	domain.TotalTypeFee:           "Fees",
	domain.TotalTypeTotal:         "Total",
}

// Input is everything the calculator needs. All amounts are minor units.
type Input struct {
	Currency    string
	LineItems   []domain.LineItem
	Discounts   []domain.AppliedDiscount
	Fulfillment int64
	Tax         int64
	Fee         int64
}

// ValidateCurrency checks the code against ISO 4217 and returns it upper-cased.
func ValidateCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	if _, err := currency.ParseISO(code); err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return code, nil
}

// Calculate returns the ordered totals for a checkout or order.
// It fails instead of returning a negative total.
func Calculate(in Input) (domain.Totals, error) {
	subtotal, err := Subtotal(in.LineItems)
	if err != nil {
		return nil, err
	}

	var itemsDiscount, discount int64
	for _, d := range in.Discounts {
		if d.Amount < 0 {
			return nil, fmt.Errorf("%w: discount %q", ErrNegativeAmount, d.Title)
		}
		if discount, err = add(discount, d.Amount); err != nil {
			return nil, err
		}
		if d.Method == domain.DiscountMethodEach {
			itemsDiscount += d.Amount
		}
	}

	if in.Fulfillment < 0 || in.Tax < 0 || in.Fee < 0 {
		return nil, ErrNegativeAmount
	}

	total := subtotal
	for _, v := range []int64{in.Fulfillment, in.Tax, in.Fee} {
		if total, err = add(total, v); err != nil {
			return nil, err
		}
	}
	total -= discount
	if total < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeTotal, total)
	}

	totals := make(domain.Totals, 0, 7)
	totals = append(totals, row(domain.TotalTypeSubtotal, subtotal))
	if itemsDiscount > 0 {
		totals = append(totals, row(domain.TotalTypeItemsDiscount, itemsDiscount))
	}
	totals = append(totals,
		row(domain.TotalTypeDiscount, discount),
		row(domain.TotalTypeFulfillment, in.Fulfillment),
		row(domain.TotalTypeTax, in.Tax),
		row(domain.TotalTypeFee, in.Fee),
		row(domain.TotalTypeTotal, total),
	)
	return totals, nil
}

// Subtotal sums price*quantity over the line items, failing on negative
// inputs or when the sum does not fit in an int64.
func Subtotal(lineItems []domain.LineItem) (int64, error) {
	var subtotal int64
	for _, li := range lineItems {
		if li.Item.Price < 0 || li.Quantity < 0 {
			return 0, fmt.Errorf("%w: line item %s", ErrNegativeAmount, li.ID)
		}
		value, err := mul(li.Item.Price, int64(li.Quantity))
		if err != nil {
			return 0, fmt.Errorf("line item %s: %w", li.ID, err)
		}
		if subtotal, err = add(subtotal, value); err != nil {
			return 0, err
		}
	}
	return subtotal, nil
}

// mul and add work on non-negative amounts only.
func mul(a, b int64) (int64, error) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, ErrAmountOverflow
	}
	return int64(lo), nil
}

func add(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// LineItemTotals is the per-line breakdown shown on line items.
func LineItemTotals(li domain.LineItem, discount int64) domain.Totals {
	value := li.Value()
	if discount > value {
		discount = value
	}
	totals := domain.Totals{row(domain.TotalTypeSubtotal, value)}
	if discount > 0 {
		totals = append(totals, row(domain.TotalTypeDiscount, discount))
	}
	return append(totals, row(domain.TotalTypeTotal, value-discount))
}

// Verify checks that the total row equals subtotal - discount + fulfillment + tax + fee.
func Verify(totals domain.Totals) error {
	expected := totals.Amount(domain.TotalTypeSubtotal) -
		totals.Amount(domain.TotalTypeDiscount) +
		totals.Amount(domain.TotalTypeFulfillment) +
		totals.Amount(domain.TotalTypeTax) +
		totals.Amount(domain.TotalTypeFee)
	got := totals.Amount(domain.TotalTypeTotal)
	if got < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeTotal, got)
	}
	if got != expected {
		return fmt.Errorf("total %d does not match components %d", got, expected)
	}
	return nil
}

func row(t domain.TotalType, amount int64) domain.Total {
	return domain.Total{Type: t, DisplayText: displayText[t], Amount: amount}
}
