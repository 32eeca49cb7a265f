package discount

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items() []domain.LineItem {
	return []domain.LineItem{
		{ID: "li_1", Item: domain.Item{ID: "sku-1", Title: "Roses", Price: 1000}, Quantity: 2},
		{ID: "li_2", Item: domain.Item{ID: "sku-2", Title: "Card", Price: 500}, Quantity: 1},
	}
}

var save10 = Definition{
	Code:   "SAVE10",
	Title:  "10% off",
	Kind:   KindPercentage,
	Value:  10,
	Method: domain.DiscountMethodAcross,
}

func sumAllocations(a domain.AppliedDiscount) int64 {
	var sum int64
	for _, alloc := range a.Allocations {
		sum += alloc.Amount
	}
	return sum
}

func TestAllocate_Save10Across(t *testing.T) {
	applied := Allocate([]Definition{save10}, items())

	require.Len(t, applied, 1)
	assert.Equal(t, int64(250), applied[0].Amount)
	assert.Equal(t, int64(250), sumAllocations(applied[0]))
	assert.Equal(t, []domain.Allocation{
		{Path: "$.line_items[0]", Amount: 200},
		{Path: "$.line_items[1]", Amount: 50},
	}, applied[0].Allocations)
}

func TestAllocate_AcrossRemainderGoesToFirstAllocation(t *testing.T) {
	lines := []domain.LineItem{
		{ID: "a", Item: domain.Item{ID: "a", Price: 100}, Quantity: 1},
		{ID: "b", Item: domain.Item{ID: "b", Price: 100}, Quantity: 1},
		{ID: "c", Item: domain.Item{ID: "c", Price: 100}, Quantity: 1},
	}
	def := Definition{Code: "HUNDRED", Kind: KindFixedAmount, Value: 100, Method: domain.DiscountMethodAcross}

	applied := Allocate([]Definition{def}, lines)

	require.Len(t, applied, 1)
	assert.Equal(t, []domain.Allocation{
		{Path: "$.line_items[0]", Amount: 34},
		{Path: "$.line_items[1]", Amount: 33},
		{Path: "$.line_items[2]", Amount: 33},
	}, applied[0].Allocations)
}

func TestAllocate_RemainderSkipsLinesWithoutRoom(t *testing.T) {
	lines := []domain.LineItem{
		{ID: "a", Item: domain.Item{ID: "a", Price: 1}, Quantity: 1},
		{ID: "b", Item: domain.Item{ID: "b", Price: 100}, Quantity: 1},
		{ID: "c", Item: domain.Item{ID: "c", Price: 100}, Quantity: 1},
	}
	def := Definition{Code: "TWOHUNDRED", Kind: KindFixedAmount, Value: 200, Method: domain.DiscountMethodAcross}

	applied := Allocate([]Definition{def}, lines)

	require.Len(t, applied, 1)
	assert.Equal(t, int64(200), applied[0].Amount)
	assert.Equal(t, int64(200), sumAllocations(applied[0]))
	for i, alloc := range applied[0].Allocations {
		assert.LessOrEqual(t, alloc.Amount, lines[i].Value())
	}
}

func TestAllocate_EachPercentage(t *testing.T) {
	def := Definition{Code: "EACH10", Kind: KindPercentage, Value: 10, Method: domain.DiscountMethodEach}

	applied := Allocate([]Definition{def}, items())

	require.Len(t, applied, 1)
	assert.Equal(t, domain.DiscountMethodEach, applied[0].Method)
	assert.Equal(t, int64(250), applied[0].Amount)
	assert.Equal(t, int64(200), applied[0].Allocations[0].Amount)
	assert.Equal(t, int64(50), applied[0].Allocations[1].Amount)
}

func TestAllocate_EachFixedTargetsOnlyMatchingItems(t *testing.T) {
	def := Definition{
		Code:    "ROSES",
		Kind:    KindFixedAmount,
		Value:   100,
		Method:  domain.DiscountMethodEach,
		Targets: []string{"sku-1"},
	}

	applied := Allocate([]Definition{def}, items())

	require.Len(t, applied, 1)
	assert.Equal(t, int64(200), applied[0].Amount)
	assert.Equal(t, []domain.Allocation{{Path: "$.line_items[0]", Amount: 200}}, applied[0].Allocations)
}

func TestAllocate_PriorityOrderAndStacking(t *testing.T) {
	percent := Definition{Code: "PCT", Kind: KindPercentage, Value: 10, Method: domain.DiscountMethodAcross, Priority: 2}
	fixed := Definition{Code: "FIXED", Kind: KindFixedAmount, Value: 500, Method: domain.DiscountMethodAcross, Priority: 1}

	applied := Allocate([]Definition{percent, fixed}, items())

	require.Len(t, applied, 2)
	assert.Equal(t, "FIXED", applied[0].Code)
	assert.Equal(t, int64(500), applied[0].Amount)
	assert.Equal(t, "PCT", applied[1].Code)
	// 10% of what the fixed discount left: 2000 - 500
	assert.Equal(t, int64(200), applied[1].Amount)
}

func TestAllocate_TiesKeepInsertionOrder(t *testing.T) {
	first := Definition{Code: "FIRST", Kind: KindFixedAmount, Value: 100, Method: domain.DiscountMethodAcross}
	second := Definition{Code: "SECOND", Kind: KindFixedAmount, Value: 100, Method: domain.DiscountMethodAcross}

	applied := Allocate([]Definition{first, second}, items())

	require.Len(t, applied, 2)
	assert.Equal(t, "FIRST", applied[0].Code)
	assert.Equal(t, "SECOND", applied[1].Code)
}

func TestAllocate_NeverExceedsLineValue(t *testing.T) {
	huge := Definition{Code: "HUGE", Kind: KindFixedAmount, Value: 1_000_000, Method: domain.DiscountMethodAcross}
	again := Definition{Code: "AGAIN", Kind: KindPercentage, Value: 50, Method: domain.DiscountMethodAcross, Priority: 1}

	applied := Allocate([]Definition{huge, again}, items())

	require.Len(t, applied, 1)
	assert.Equal(t, int64(2500), applied[0].Amount)
}

func TestPerLineItem(t *testing.T) {
	applied := Allocate([]Definition{save10}, items())
	assert.Equal(t, []int64{200, 50}, PerLineItem(applied, 2))
}

type failingStore struct{}

func (failingStore) FindByCode(context.Context, string) (Definition, error) {
	return Definition{}, errors.New("catalog down")
}

func (failingStore) Automatic(context.Context) ([]Definition, error) {
	return nil, nil
}

func TestResolver_Apply(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	store := NewMemoryStore(
		save10,
		Definition{Code: "OLD", Kind: KindPercentage, Value: 50, ExpiresAt: &expired},
		Definition{Title: "Loyalty", Kind: KindFixedAmount, Value: 100, Automatic: true, Priority: 5},
	)
	r := NewResolver(store)

	t.Run("codes are case-insensitive and deduplicated", func(t *testing.T) {
		res, err := r.Apply(context.Background(), []string{" save10", "SAVE10"}, items(), now)
		require.NoError(t, err)
		require.NotNil(t, res.Discounts)

		assert.Equal(t, []string{"SAVE10"}, res.Discounts.Codes)
		require.Len(t, res.Discounts.Applied, 2)
		assert.Equal(t, "SAVE10", res.Discounts.Applied[0].Code)
		assert.True(t, res.Discounts.Applied[1].Automatic)
		assert.Empty(t, res.Messages)
	})

	t.Run("same codes twice yield identical applied", func(t *testing.T) {
		first, err := r.Apply(context.Background(), []string{"SAVE10"}, items(), now)
		require.NoError(t, err)
		second, err := r.Apply(context.Background(), []string{"SAVE10"}, items(), now)
		require.NoError(t, err)
		assert.Equal(t, first.Discounts.Applied, second.Discounts.Applied)
	})

	t.Run("unknown and expired codes", func(t *testing.T) {
		res, err := r.Apply(context.Background(), []string{"nope", "old"}, items(), now)
		require.NoError(t, err)

		require.Len(t, res.Messages, 2)
		assert.Equal(t, "discount_code_invalid", res.Messages[0].Code)
		assert.Equal(t, CodesPath, res.Messages[0].Path)
		assert.Equal(t, domain.SeverityRecoverable, res.Messages[0].Severity)
		assert.Equal(t, "discount_code_expired", res.Messages[1].Code)
		assert.Equal(t, []string{"NOPE", "OLD"}, res.Discounts.Codes)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		_, err := NewResolver(failingStore{}).Apply(context.Background(), []string{"SAVE10"}, items(), now)
		assert.ErrorContains(t, err, "catalog down")
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, Normalize([]string{"a", " ", "B", "A ", "b"}))
	assert.Empty(t, Normalize(nil))
}
