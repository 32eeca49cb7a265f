package pricing

import (
	"context"
	"math"
	"testing"

	"github.com/fjod/go_ucp/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineItems() []domain.LineItem {
	return []domain.LineItem{
		{ID: "li_1", Item: domain.Item{ID: "sku-1", Title: "Roses", Price: 1000}, Quantity: 2},
		{ID: "li_2", Item: domain.Item{ID: "sku-2", Title: "Card", Price: 500}, Quantity: 1},
	}
}

func TestCalculate_Ordering(t *testing.T) {
	totals, err := Calculate(Input{
		Currency:  "USD",
		LineItems: lineItems(),
		Discounts: []domain.AppliedDiscount{
			{Code: "SAVE10", Amount: 250, Method: domain.DiscountMethodAcross},
			{Code: "CARD", Amount: 50, Method: domain.DiscountMethodEach},
		},
		Fulfillment: 599,
		Tax:         180,
		Fee:         25,
	})
	require.NoError(t, err)

	types := make([]domain.TotalType, 0, len(totals))
	for _, row := range totals {
		types = append(types, row.Type)
	}
	assert.Equal(t, []domain.TotalType{
		domain.TotalTypeSubtotal,
		domain.TotalTypeItemsDiscount,
		domain.TotalTypeDiscount,
		domain.TotalTypeFulfillment,
		domain.TotalTypeTax,
		domain.TotalTypeFee,
		domain.TotalTypeTotal,
	}, types)

	assert.Equal(t, int64(2500), totals.Amount(domain.TotalTypeSubtotal))
	assert.Equal(t, int64(50), totals.Amount(domain.TotalTypeItemsDiscount))
	assert.Equal(t, int64(300), totals.Amount(domain.TotalTypeDiscount))
	assert.Equal(t, int64(2500-300+599+180+25), totals.Amount(domain.TotalTypeTotal))
	assert.NoError(t, Verify(totals))
}

func TestCalculate_NoItemsDiscountRowWhenZero(t *testing.T) {
	totals, err := Calculate(Input{Currency: "USD", LineItems: lineItems()})
	require.NoError(t, err)

	assert.False(t, totals.Has(domain.TotalTypeItemsDiscount))
	assert.True(t, totals.Has(domain.TotalTypeDiscount))
	assert.Equal(t, int64(2500), totals.Amount(domain.TotalTypeTotal))
}

func TestCalculate_Deterministic(t *testing.T) {
	in := Input{Currency: "EUR", LineItems: lineItems(), Fulfillment: 100, Tax: 10}
	first, err := Calculate(in)
	require.NoError(t, err)
	second, err := Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCalculate_NegativeTotalFails(t *testing.T) {
	totals, err := Calculate(Input{
		Currency:  "USD",
		LineItems: lineItems(),
		Discounts: []domain.AppliedDiscount{{Code: "TOO_MUCH", Amount: 3000, Method: domain.DiscountMethodAcross}},
	})
	assert.ErrorIs(t, err, ErrNegativeTotal)
	assert.Nil(t, totals)
}

func TestCalculate_NegativeInputFails(t *testing.T) {
	_, err := Calculate(Input{Currency: "USD", LineItems: lineItems(), Tax: -1})
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestCalculate_OverflowFails(t *testing.T) {
	huge := domain.Item{ID: "bouquet_roses", Price: 1500}
	qty := int(math.MaxInt64 / 1500 / 10 * 7)

	tests := []struct {
		name string
		in   Input
	}{
		{
			name: "line value",
			in: Input{Currency: "USD", LineItems: []domain.LineItem{
				{ID: "li_1", Item: huge, Quantity: 2 * qty},
			}},
		},
		{
			name: "subtotal sum",
			in: Input{Currency: "USD", LineItems: []domain.LineItem{
				{ID: "li_1", Item: huge, Quantity: qty},
				{ID: "li_2", Item: huge, Quantity: qty},
				{ID: "li_3", Item: huge, Quantity: qty},
			}},
		},
		{
			name: "fees on top of subtotal",
			in: Input{Currency: "USD", LineItems: []domain.LineItem{
				{ID: "li_1", Item: domain.Item{Price: math.MaxInt64}, Quantity: 1},
			}, Fee: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			totals, err := Calculate(tt.in)
			assert.ErrorIs(t, err, ErrAmountOverflow)
			assert.Nil(t, totals)
		})
	}
}

func TestSubtotal(t *testing.T) {
	got, err := Subtotal(lineItems())
	require.NoError(t, err)
	total, err := Calculate(Input{Currency: "USD", LineItems: lineItems()})
	require.NoError(t, err)
	assert.Equal(t, total.Amount(domain.TotalTypeSubtotal), got)
}

func TestValidateCurrency(t *testing.T) {
	code, err := ValidateCurrency("usd")
	require.NoError(t, err)
	assert.Equal(t, "USD", code)

	_, err = ValidateCurrency("ZZZ")
	assert.ErrorIs(t, err, ErrUnknownCurrency)

	_, err = ValidateCurrency("dollars")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestLineItemTotals(t *testing.T) {
	li := lineItems()[0]

	totals := LineItemTotals(li, 200)
	assert.Equal(t, int64(2000), totals.Amount(domain.TotalTypeSubtotal))
	assert.Equal(t, int64(200), totals.Amount(domain.TotalTypeDiscount))
	assert.Equal(t, int64(1800), totals.Amount(domain.TotalTypeTotal))

	capped := LineItemTotals(li, 5000)
	assert.Equal(t, int64(0), capped.Amount(domain.TotalTypeTotal))
}

func TestFlatRate_Compute(t *testing.T) {
	provider := NewFlatRate(map[string]int64{"default": 1000, "US": 800}, 25)

	items := lineItems()
	items[0].Totals = LineItemTotals(items[0], 200)

	fragment, err := provider.Compute(context.Background(), items, &domain.PostalAddress{AddressCountry: "us"})
	require.NoError(t, err)
	// (1800 + 500) * 8%
	assert.Equal(t, int64(184), fragment.Tax)
	assert.Equal(t, int64(25), fragment.Fee)

	fragment, err = provider.Compute(context.Background(), items, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(230), fragment.Tax)
}

func TestFlatRate_EmptyCheckoutHasNoFee(t *testing.T) {
	provider := NewFlatRate(map[string]int64{"default": 1000}, 25)
	fragment, err := provider.Compute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Fragment{}, fragment)
}
