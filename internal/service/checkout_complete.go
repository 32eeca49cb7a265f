package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/fulfillment"
)

// CompleteCheckout turns a ready checkout into an order. The checkout is
// first moved to complete_in_progress with a versioned save, so of two
// concurrent calls exactly one proceeds and the other gets ErrConflict.
// Declines and stock problems are not errors: the checkout is returned in
// its re-evaluated status with a message explaining what went wrong.
func (s *CheckoutServiceImpl) CompleteCheckout(ctx context.Context, id string, req *CompleteRequest) (*domain.Checkout, error) {
	if req == nil {
		return nil, invalid("$", "request body is required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !s.hasHandler(req.PaymentData.HandlerID) {
		return nil, invalid("$.payment_data.handler_id", "unknown payment handler %q", req.PaymentData.HandlerID)
	}

	unlock, ok := s.locks.TryLock(id)
	if !ok {
		s.metrics.ObserveCompletion("conflict")
		return nil, fmt.Errorf("%w: checkout %s is busy", ErrConflict, id)
	}
	defer unlock()

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureModifiable(ctx, c); err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.ObserveCompletion("conflict")
		}
		return nil, err
	}
	if c.Status != domain.CheckoutStatusReadyForComplete {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, c.Status)
	}

	if missing := fulfillment.Validate(c.Fulfillment, c.LineItems); len(missing) > 0 {
		prev := c.Status
		c.Messages = append(c.Messages, missing...)
		c.Status = evaluateStatus(c.Messages, false)
		s.setContinueURL(c)
		if err := s.save(ctx, c, prev); err != nil {
			return nil, err
		}
		s.metrics.ObserveCompletion("incomplete")
		return c, nil
	}

	prev := c.Status
	if err := transition(c, domain.CheckoutStatusCompleteInProgress); err != nil {
		return nil, err
	}
	c.Messages = withoutPaymentMessages(c.Messages)
	if err := s.save(ctx, c, prev); err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.ObserveCompletion("conflict")
		}
		return nil, err
	}

	// the checkout is claimed; finish even if the caller goes away
	return s.complete(context.WithoutCancel(ctx), c, *req.PaymentData)
}

func (s *CheckoutServiceImpl) complete(ctx context.Context, c *domain.Checkout, instrument domain.PaymentInstrument) (*domain.Checkout, error) {
	reservation, stockMessages, err := s.reserveInventory(ctx, c)
	if err != nil {
		return s.failCompletion(ctx, c, err)
	}
	if len(stockMessages) > 0 {
		return s.rollback(ctx, c, stockMessages, codeOutOfStock)
	}

	result, err := s.processPayment(ctx, c, instrument)
	if err != nil {
		s.releaseInventory(ctx, reservation)
		return s.failCompletion(ctx, c, err)
	}
	if !result.Approved {
		s.releaseInventory(ctx, reservation)
		c.ContinueURL = result.RedirectURL
		return s.rollback(ctx, c, []domain.Message{result.Message}, result.Outcome)
	}

	expectations := fulfillment.Expectations(c.Fulfillment, c.LineItems, s.inventory, s.now())
	order, err := s.orders.PlaceOrder(ctx, c, expectations)
	if err != nil {
		s.releaseInventory(ctx, reservation)
		return s.failCompletion(ctx, c, fmt.Errorf("%w: place order: %v", ErrInternal, err))
	}
	s.confirmInventory(ctx, reservation)

	if err := s.markCompleted(ctx, c, order); err != nil {
		s.log.ErrorContext(ctx, "order placed but checkout not saved",
			"checkout_id", c.ID, "order_id", order.ID, "error", err)
		return nil, err
	}
	s.metrics.ObserveCompletion("completed")
	s.log.InfoContext(ctx, "checkout completed",
		"checkout_id", c.ID, "order_id", order.ID, "transaction_id", result.TransactionID)
	return c, nil
}

func (s *CheckoutServiceImpl) markCompleted(ctx context.Context, c *domain.Checkout, order *domain.Order) error {
	prev := c.Status
	if err := transition(c, domain.CheckoutStatusCompleted); err != nil {
		return err
	}
	c.Order = &domain.OrderConfirmation{ID: order.ID, PermalinkURL: order.PermalinkURL}
	c.ContinueURL = ""
	return s.save(ctx, c, prev)
}

// rollback returns an in-progress checkout to its evaluated status with messages added.
func (s *CheckoutServiceImpl) rollback(ctx context.Context, c *domain.Checkout, messages []domain.Message, outcome string) (*domain.Checkout, error) {
	prev := c.Status
	c.Messages = append(c.Messages, messages...)
	if err := transition(c, evaluateStatus(c.Messages, true)); err != nil {
		return nil, err
	}
	s.setContinueURL(c)
	if err := s.save(ctx, c, prev); err != nil {
		return nil, err
	}
	s.metrics.ObserveCompletion(outcome)
	s.log.InfoContext(ctx, "checkout completion rolled back", "checkout_id", c.ID, "outcome", outcome, "status", c.Status)
	return c, nil
}

// failCompletion rolls back after an unexpected error and reports cause.
func (s *CheckoutServiceImpl) failCompletion(ctx context.Context, c *domain.Checkout, cause error) (*domain.Checkout, error) {
	s.log.ErrorContext(ctx, "checkout completion failed", "checkout_id", c.ID, "error", cause)
	if _, err := s.rollback(ctx, c, nil, "error"); err != nil {
		s.log.ErrorContext(ctx, "failed to roll back checkout", "checkout_id", c.ID, "error", err)
	}
	return nil, cause
}
