package fulfillment

import (
	"fmt"
	"time"

	"github.com/fjod/go_ucp/domain"
)

// FulfillableNow is the fulfillable_on value for items that can ship immediately.
const FulfillableNow = "now"

// Availability reports restock dates for backordered or pre-order items.
type Availability interface {
	RestockDate(itemID string) (time.Time, bool)
}

// Expectations snapshots the selected fulfillment into buyer-facing promises,
// one per group. fulfillable_on is the latest future restock date of the group's
// items, or "now".
func Expectations(f *domain.Fulfillment, lineItems []domain.LineItem, avail Availability, now time.Time) []domain.Expectation {
	if f == nil {
		return []domain.Expectation{}
	}
	byID := make(map[string]domain.LineItem, len(lineItems))
	for _, li := range lineItems {
		byID[li.ID] = li
	}

	expectations := make([]domain.Expectation, 0, len(f.Methods))
	for _, m := range f.Methods {
		dest, _ := m.SelectedDestination()
		for _, g := range m.Groups {
			exp := domain.Expectation{
				ID:            fmt.Sprintf("exp_%d", len(expectations)+1),
				MethodType:    m.Type,
				Destination:   dest.Address,
				FulfillableOn: FulfillableNow,
				LineItems:     make([]domain.LineItemRef, 0, len(g.LineItemIDs)),
			}
			if opt, ok := g.SelectedOption(); ok {
				exp.Description = opt.Title
			}

			var latest time.Time
			for _, id := range g.LineItemIDs {
				li, ok := byID[id]
				if !ok {
					continue
				}
				exp.LineItems = append(exp.LineItems, domain.LineItemRef{ID: li.ID, Quantity: li.Quantity})
				if avail == nil {
					continue
				}
				if on, backordered := avail.RestockDate(li.Item.ID); backordered && on.After(now) && on.After(latest) {
					latest = on
				}
			}
			if !latest.IsZero() {
				exp.FulfillableOn = latest.Format(time.DateOnly)
			}
			expectations = append(expectations, exp)
		}
	}
	return expectations
}
