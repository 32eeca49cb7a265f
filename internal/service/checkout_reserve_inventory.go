package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/inventory"
)

const (
	codeOutOfStock   = "out_of_stock"
	codeItemNotFound = "item_not_found"
)

// stockMessages reports line items the inventory cannot cover. Quantities of
// lines sharing an item are added up. Backorderable items always pass.
func (s *CheckoutServiceImpl) stockMessages(lineItems []domain.LineItem) ([]domain.Message, error) {
	if s.inventory == nil || len(lineItems) == 0 {
		return nil, nil
	}

	needed := make(map[string]int, len(lineItems))
	ids := make([]string, 0, len(lineItems))
	for _, li := range lineItems {
		if _, seen := needed[li.Item.ID]; !seen {
			ids = append(ids, li.Item.ID)
		}
		needed[li.Item.ID] += li.Quantity
	}

	stocks, err := s.inventory.GetStock(ids)
	if err != nil {
		return nil, fmt.Errorf("get stock: %w", err)
	}
	byID := make(map[string]inventory.StockInfo, len(stocks))
	for _, st := range stocks {
		byID[st.ItemID] = st
	}

	var messages []domain.Message
	for _, li := range lineItems {
		st, ok := byID[li.Item.ID]
		switch {
		case !ok:
			messages = append(messages, domain.NewError(
				codeItemNotFound,
				lineItemPath(li.ID),
				fmt.Sprintf("'%s' is not stocked by this merchant.", li.Item.Title),
				domain.SeverityRecoverable,
			))
		case !st.Backorderable() && st.Available() < needed[li.Item.ID]:
			messages = append(messages, domain.NewError(
				codeOutOfStock,
				lineItemPath(li.ID),
				fmt.Sprintf("Only %d of '%s' left in stock.", max(st.Available(), 0), li.Item.Title),
				domain.SeverityRecoverable,
			))
		}
	}
	return messages, nil
}

// reserveInventory holds stock for the whole checkout. When stock ran out
// since the last evaluation the returned messages say which lines failed.
func (s *CheckoutServiceImpl) reserveInventory(ctx context.Context, c *domain.Checkout) (*inventory.Reservation, []domain.Message, error) {
	if s.inventory == nil {
		return nil, nil, nil
	}

	items := make([]inventory.ReservationItem, 0, len(c.LineItems))
	for _, li := range c.LineItems {
		items = append(items, inventory.ReservationItem{ItemID: li.Item.ID, Quantity: li.Quantity})
	}

	reservation, err := s.inventory.Reserve(c.ID, items)
	if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrItemNotFound) {
		messages, stockErr := s.stockMessages(c.LineItems)
		if stockErr != nil {
			return nil, nil, stockErr
		}
		if len(messages) == 0 {
			messages = []domain.Message{domain.NewError(
				codeOutOfStock, "$.line_items", "Some items are no longer available.", domain.SeverityRecoverable,
			)}
		}
		s.log.InfoContext(ctx, "inventory reservation failed", "checkout_id", c.ID, "error", err)
		return nil, messages, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reserve inventory: %w", err)
	}
	return reservation, nil, nil
}

func (s *CheckoutServiceImpl) releaseInventory(ctx context.Context, r *inventory.Reservation) {
	if r == nil {
		return
	}
	if err := s.inventory.Release(r.ID); err != nil {
		s.log.WarnContext(ctx, "failed to release reservation", "reservation_id", r.ID, "checkout_id", r.CheckoutID, "error", err)
	}
}

func (s *CheckoutServiceImpl) confirmInventory(ctx context.Context, r *inventory.Reservation) {
	if r == nil {
		return
	}
	if err := s.inventory.Confirm(r.ID); err != nil {
		s.log.ErrorContext(ctx, "failed to confirm reservation", "reservation_id", r.ID, "checkout_id", r.CheckoutID, "error", err)
	}
}
