package domain

type DiscountMethod string

const (
	DiscountMethodEach   DiscountMethod = "each"
	DiscountMethodAcross DiscountMethod = "across"
)

type Allocation struct {
	Path   string `json:"path"`
	Amount int64  `json:"amount"`
}

type AppliedDiscount struct {
	Code        string         `json:"code,omitempty"`
	Title       string         `json:"title"`
	Amount      int64          `json:"amount"`
	Automatic   bool           `json:"automatic,omitempty"`
	Method      DiscountMethod `json:"method"`
	Priority    int            `json:"priority"`
	Allocations []Allocation   `json:"allocations"`
}

type Discounts struct {
	Codes   []string          `json:"codes"`
	Applied []AppliedDiscount `json:"applied"`
}
