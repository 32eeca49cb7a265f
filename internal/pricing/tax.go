package pricing

import (
	"context"
	"strings"

	"github.com/fjod/go_ucp/domain"
)

const defaultRegion = "default"

// Fragment is the tax and fee contribution returned by a TaxProvider.
type Fragment struct {
	Tax int64
	Fee int64
}

type TaxProvider interface {
	Compute(ctx context.Context, lineItems []domain.LineItem, destination *domain.PostalAddress) (Fragment, error)
}

// FlatRate charges a fixed basis-point rate per destination country on the
// discounted line totals, plus a fixed fee. Unknown countries use the "default" rate.
type FlatRate struct {
	RatesBps map[string]int64
	Fee      int64
}

func NewFlatRate(ratesBps map[string]int64, fee int64) *FlatRate {
	return &FlatRate{RatesBps: ratesBps, Fee: fee}
}

func (f *FlatRate) Compute(ctx context.Context, lineItems []domain.LineItem, destination *domain.PostalAddress) (Fragment, error) {
	if err := ctx.Err(); err != nil {
		return Fragment{}, err
	}
	if len(lineItems) == 0 {
		return Fragment{}, nil
	}

	var base int64
	for _, li := range lineItems {
		if li.Totals.Has(domain.TotalTypeTotal) {
			base += li.Totals.Amount(domain.TotalTypeTotal)
		} else {
			base += li.Value()
		}
	}

	bps := f.RatesBps[defaultRegion]
	if destination != nil {
		if rate, ok := f.RatesBps[strings.ToUpper(destination.AddressCountry)]; ok {
			bps = rate
		}
	}

	// round half up
	tax := (base*bps + 5000) / 10000
	return Fragment{Tax: tax, Fee: f.Fee}, nil
}
