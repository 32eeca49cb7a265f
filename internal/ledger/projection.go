package ledger

import (
	"github.com/fjod/go_ucp/domain"
)

// LineItemStatus is the only place an order line status is decided.
func LineItemStatus(fulfilled, total int) domain.LineItemStatus {
	switch {
	case total > 0 && fulfilled >= total:
		return domain.LineItemStatusFulfilled
	case fulfilled > 0:
		return domain.LineItemStatusPartial
	default:
		return domain.LineItemStatusProcessing
	}
}

// FulfilledQuantities sums event quantities per line item id.
func FulfilledQuantities(events []domain.FulfillmentEvent) map[string]int {
	fulfilled := make(map[string]int)
	for _, ev := range events {
		for _, ref := range ev.LineItems {
			fulfilled[ref.ID] += ref.Quantity
		}
	}
	return fulfilled
}

// Refunded sums the amounts of completed adjustments.
func Refunded(adjustments []domain.Adjustment) int64 {
	var sum int64
	for _, adj := range adjustments {
		if adj.Status == domain.AdjustmentStatusCompleted && adj.Amount != nil {
			sum += *adj.Amount
		}
	}
	return sum
}

// Project derives the read view of a stored order: fulfilled quantities and
// statuses come from the events and the total is reduced by completed
// adjustments. The stored order is left untouched.
func Project(stored *domain.Order) *domain.Order {
	o := *stored
	fulfilled := FulfilledQuantities(stored.Fulfillment.Events)

	o.LineItems = make([]domain.OrderLineItem, len(stored.LineItems))
	for i, li := range stored.LineItems {
		li.Quantity.Fulfilled = fulfilled[li.ID]
		li.Status = LineItemStatus(li.Quantity.Fulfilled, li.Quantity.Total)
		o.LineItems[i] = li
	}

	refunded := Refunded(stored.Adjustments)
	o.Totals = make(domain.Totals, len(stored.Totals))
	for i, t := range stored.Totals {
		if t.Type == domain.TotalTypeTotal {
			t.Amount -= refunded
			if t.Amount < 0 {
				t.Amount = 0
			}
		}
		o.Totals[i] = t
	}

	o.Fulfillment.Events = append([]domain.FulfillmentEvent{}, stored.Fulfillment.Events...)
	o.Adjustments = append([]domain.Adjustment{}, stored.Adjustments...)
	return &o
}
