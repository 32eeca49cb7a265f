package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/repository"
	"github.com/google/uuid"
)

const codeCheckoutExpired = "checkout_expired"

func (s *CheckoutServiceImpl) CreateCheckout(ctx context.Context, req *CreateRequest) (*domain.Checkout, error) {
	if req == nil {
		return nil, invalid("$", "request body is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.cfg.CheckoutTTL).UTC()
	base := &domain.Checkout{
		UCP:       domain.UCP{Version: domain.ProtocolVersion, Capabilities: capabilities()},
		ID:        uuid.NewString(),
		Links:     append([]domain.Link{}, s.cfg.Links...),
		ExpiresAt: &expiresAt,
	}

	c, err := s.evaluate(ctx, base, req.draft())
	if err != nil && !errors.Is(err, errTaxUnavailable) {
		return nil, err
	}

	if err := s.repo.CreateCheckout(ctx, c); err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	s.metrics.ObserveTransition("new", c.Status.String())
	s.log.InfoContext(ctx, "checkout created", "checkout_id", c.ID, "status", c.Status, "line_items", len(c.LineItems))
	return c, nil
}

// GetCheckout returns the checkout, canceling it first when it has expired.
func (s *CheckoutServiceImpl) GetCheckout(ctx context.Context, id string) (*domain.Checkout, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.expirable(c) {
		return c, nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	if c, err = s.load(ctx, id); err != nil {
		return nil, err
	}
	if err := s.expire(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCheckout replaces the buyer-controlled parts of the checkout and
// re-evaluates it. If only the tax provider fails, the previous state is
// kept and a tax_unavailable message is added.
func (s *CheckoutServiceImpl) UpdateCheckout(ctx context.Context, id string, req *UpdateRequest) (*domain.Checkout, error) {
	if req == nil {
		return nil, invalid("$", "request body is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureModifiable(ctx, c); err != nil {
		return nil, err
	}

	next, err := s.evaluate(ctx, c, req.draft(c))
	switch {
	case errors.Is(err, errTaxUnavailable):
		kept := *c
		kept.Messages = append(withoutCode(c.Messages, "tax_unavailable"), taxUnavailable())
		next = &kept
	case err != nil:
		return nil, err
	}

	if !domain.CanTransitionTo(c.Status, next.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", IllegalTransitionError, c.Status, next.Status)
	}
	if err := s.save(ctx, next, c.Status); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "checkout updated", "checkout_id", id, "status", next.Status, "version", next.Version)
	return next, nil
}

func (s *CheckoutServiceImpl) CancelCheckout(ctx context.Context, id string) (*domain.Checkout, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureModifiable(ctx, c); err != nil {
		return nil, err
	}

	prev := c.Status
	if err := transition(c, domain.CheckoutStatusCanceled); err != nil {
		return nil, err
	}
	c.ContinueURL = ""
	if err := s.save(ctx, c, prev); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "checkout canceled", "checkout_id", id, "previous_status", prev)
	return c, nil
}

// ensureModifiable cancels an expired checkout and rejects checkouts that
// are finished or in the middle of completing.
func (s *CheckoutServiceImpl) ensureModifiable(ctx context.Context, c *domain.Checkout) error {
	if err := s.expire(ctx, c); err != nil {
		return err
	}
	switch {
	case c.Status.IsTerminal():
		return fmt.Errorf("%w: status is %s", ErrCheckoutNotModifiable, c.Status)
	case c.Status == domain.CheckoutStatusCompleteInProgress:
		return fmt.Errorf("%w: completion in progress", ErrConflict)
	}
	return nil
}

// expirable is true for checkouts past expires_at that nobody is completing.
func (s *CheckoutServiceImpl) expirable(c *domain.Checkout) bool {
	return c.Expired(s.now()) && c.Status != domain.CheckoutStatusCompleteInProgress
}

// expire cancels c in place when it has expired. Callers hold the checkout lock.
func (s *CheckoutServiceImpl) expire(ctx context.Context, c *domain.Checkout) error {
	if !s.expirable(c) {
		return nil
	}
	prev := c.Status
	if err := transition(c, domain.CheckoutStatusCanceled); err != nil {
		return err
	}
	c.ContinueURL = ""
	c.Messages = append(c.Messages, domain.NewInfo(codeCheckoutExpired, "$.expires_at", "This checkout has expired."))
	if err := s.save(ctx, c, prev); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "checkout expired", "checkout_id", c.ID, "previous_status", prev)
	return nil
}

func (s *CheckoutServiceImpl) load(ctx context.Context, id string) (*domain.Checkout, error) {
	c, err := s.repo.GetCheckout(ctx, id)
	if errors.Is(err, repository.ErrCheckoutNotFound) {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkout %s: %w", id, err)
	}
	return c, nil
}

// save writes c if nobody else saved it since it was loaded.
func (s *CheckoutServiceImpl) save(ctx context.Context, c *domain.Checkout, from domain.CheckoutStatus) error {
	err := s.repo.SaveCheckout(ctx, c, c.Version)
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return fmt.Errorf("%w: checkout %s changed concurrently", ErrConflict, c.ID)
	case errors.Is(err, repository.ErrCheckoutNotFound):
		return ErrCheckoutNotFound
	case err != nil:
		return fmt.Errorf("save checkout %s: %w", c.ID, err)
	}
	s.metrics.ObserveTransition(from.String(), c.Status.String())
	return nil
}

func transition(c *domain.Checkout, to domain.CheckoutStatus) error {
	if !domain.CanTransitionTo(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", IllegalTransitionError, c.Status, to)
	}
	c.Status = to
	return nil
}

func withoutCode(messages []domain.Message, code string) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Code != code {
			out = append(out, m)
		}
	}
	return out
}
