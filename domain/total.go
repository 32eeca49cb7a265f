package domain

type TotalType string

const (
	TotalTypeSubtotal      TotalType = "subtotal"
	TotalTypeItemsDiscount TotalType = "items_discount"
	TotalTypeDiscount      TotalType = "discount"
	TotalTypeFulfillment   TotalType = "fulfillment"
	TotalTypeTax           TotalType = "tax"
	TotalTypeFee           TotalType = "fee"
	TotalTypeTotal         TotalType = "total"
)

// Total is one typed money row. Amount is in minor units of the checkout currency.
type Total struct {
	Type        TotalType `json:"type"`
	DisplayText string    `json:"display_text,omitempty"`
	Amount      int64     `json:"amount"`
}

type Totals []Total

// Amount sums every row of the given type.
func (t Totals) Amount(tt TotalType) int64 {
	var sum int64
	for _, row := range t {
		if row.Type == tt {
			sum += row.Amount
		}
	}
	return sum
}

func (t Totals) Has(tt TotalType) bool {
	for _, row := range t {
		if row.Type == tt {
			return true
		}
	}
	return false
}
