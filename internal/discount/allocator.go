package discount

import (
	"fmt"
	"math/bits"
	"sort"
	"time"

	"github.com/fjod/go_ucp/domain"
)

type Kind string

const (
	KindPercentage  Kind = "percentage"
	KindFixedAmount Kind = "fixed_amount"
)

// Definition is a merchant discount rule, either redeemed by code or applied automatically.
// Value is a whole percent for percentage discounts and minor units for fixed ones.
// Targets lists item ids; an empty list targets every line item.
type Definition struct {
	Code      string
	Title     string
	Kind      Kind
	Value     int64
	Method    domain.DiscountMethod
	Priority  int
	Automatic bool
	Targets   []string
	ExpiresAt *time.Time
}

func (d Definition) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

func (d Definition) targets(item domain.Item) bool {
	if len(d.Targets) == 0 {
		return true
	}
	for _, id := range d.Targets {
		if id == item.ID {
			return true
		}
	}
	return false
}

// Allocate applies definitions in ascending priority, keeping input order for ties.
// Discounts stack: each one works on what earlier ones left of every line.
// For the across method the share of each line is floor(amount*value/base), and the
// rounding remainder goes to the first allocation in iteration order that still has room.
// Definitions that end up discounting nothing are dropped.
func Allocate(defs []Definition, lineItems []domain.LineItem) []domain.AppliedDiscount {
	ordered := make([]Definition, len(defs))
	copy(ordered, defs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	remaining := make([]int64, len(lineItems))
	for i, li := range lineItems {
		remaining[i] = li.Value()
	}

	applied := make([]domain.AppliedDiscount, 0, len(ordered))
	for _, def := range ordered {
		var targets []int
		for i, li := range lineItems {
			if remaining[i] > 0 && def.targets(li.Item) {
				targets = append(targets, i)
			}
		}
		if len(targets) == 0 {
			continue
		}

		var shares []int64
		if def.Method == domain.DiscountMethodEach {
			shares = eachShares(def, lineItems, remaining, targets)
		} else {
			shares = acrossShares(def, remaining, targets)
		}

		result := domain.AppliedDiscount{
			Code:      def.Code,
			Title:     def.Title,
			Automatic: def.Automatic,
			Method:    methodOf(def),
			Priority:  def.Priority,
		}
		for k, idx := range targets {
			if shares[k] == 0 {
				continue
			}
			remaining[idx] -= shares[k]
			result.Amount += shares[k]
			result.Allocations = append(result.Allocations, domain.Allocation{
				Path:   LineItemPath(idx),
				Amount: shares[k],
			})
		}
		if result.Amount == 0 {
			continue
		}
		applied = append(applied, result)
	}
	return applied
}

// LineItemPath is the JSONPath of the line item at index i.
func LineItemPath(i int) string {
	return fmt.Sprintf("$.line_items[%d]", i)
}

// PerLineItem sums allocations by line item index.
func PerLineItem(applied []domain.AppliedDiscount, n int) []int64 {
	out := make([]int64, n)
	for _, a := range applied {
		for _, alloc := range a.Allocations {
			var idx int
			if _, err := fmt.Sscanf(alloc.Path, "$.line_items[%d]", &idx); err != nil {
				continue
			}
			if idx >= 0 && idx < n {
				out[idx] += alloc.Amount
			}
		}
	}
	return out
}

func methodOf(def Definition) domain.DiscountMethod {
	if def.Method == domain.DiscountMethodEach {
		return domain.DiscountMethodEach
	}
	return domain.DiscountMethodAcross
}

func eachShares(def Definition, lineItems []domain.LineItem, remaining []int64, targets []int) []int64 {
	shares := make([]int64, len(targets))
	for k, idx := range targets {
		var amount int64
		switch def.Kind {
		case KindPercentage:
			amount = mulDiv(remaining[idx], clampPercent(def.Value), 100)
		case KindFixedAmount:
			amount = def.Value * int64(lineItems[idx].Quantity)
		}
		shares[k] = min(max(amount, 0), remaining[idx])
	}
	return shares
}

func acrossShares(def Definition, remaining []int64, targets []int) []int64 {
	var base int64
	for _, idx := range targets {
		base += remaining[idx]
	}

	var amount int64
	switch def.Kind {
	case KindPercentage:
		amount = mulDiv(base, clampPercent(def.Value), 100)
	case KindFixedAmount:
		amount = min(max(def.Value, 0), base)
	}

	shares := make([]int64, len(targets))
	if amount == 0 {
		return shares
	}
	var allocated int64
	for k, idx := range targets {
		shares[k] = mulDiv(amount, remaining[idx], base)
		allocated += shares[k]
	}

	rest := amount - allocated
	for k, idx := range targets {
		if rest == 0 {
			break
		}
		room := remaining[idx] - shares[k]
		extra := min(room, rest)
		shares[k] += extra
		rest -= extra
	}
	return shares
}

func clampPercent(v int64) int64 {
	return min(max(v, 0), 100)
}

// mulDiv computes floor(a*b/c) for non-negative a, b and positive c without intermediate overflow.
// Callers guarantee b <= c so the quotient fits in 64 bits.
func mulDiv(a, b, c int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	quo, _ := bits.Div64(hi, lo, uint64(c))
	return int64(quo)
}
