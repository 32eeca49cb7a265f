package service

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/ledger"
)

const (
	sweepBatchSize     = 100
	codeCompletionLost = "completion_interrupted"
)

// ExpireCheckouts cancels checkouts whose expires_at has passed and returns
// how many it canceled. Checkouts busy with another request are left for the
// next sweep, so running it concurrently or repeatedly is harmless.
func (s *CheckoutServiceImpl) ExpireCheckouts(ctx context.Context) (int, error) {
	ids, err := s.repo.ListExpiredCheckouts(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		done, err := s.withCheckout(ctx, id, func(c *domain.Checkout) (bool, error) {
			if !s.expirable(c) {
				return false, nil
			}
			return true, s.expire(ctx, c)
		})
		if err != nil {
			s.log.WarnContext(ctx, "failed to expire checkout", "checkout_id", id, "error", err)
			continue
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

// RecoverStuckCompletions finishes checkouts left in complete_in_progress by
// a crashed completion. If the order was placed the checkout is marked
// completed, otherwise it goes back to its evaluated status.
func (s *CheckoutServiceImpl) RecoverStuckCompletions(ctx context.Context) (int, error) {
	ids, err := s.repo.ListStuckCheckouts(ctx, s.now().Add(-s.cfg.StuckAfter), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		done, err := s.withCheckout(ctx, id, func(c *domain.Checkout) (bool, error) {
			if c.Status != domain.CheckoutStatusCompleteInProgress {
				return false, nil
			}
			return true, s.recover(ctx, c)
		})
		if err != nil {
			s.log.WarnContext(ctx, "failed to recover checkout", "checkout_id", id, "error", err)
			continue
		}
		if done {
			s.log.InfoContext(ctx, "stuck checkout recovered", "checkout_id", id)
			recovered++
		}
	}
	return recovered, nil
}

func (s *CheckoutServiceImpl) recover(ctx context.Context, c *domain.Checkout) error {
	order, err := s.orders.GetOrderByCheckoutID(ctx, c.ID)
	switch {
	case err == nil:
		return s.markCompleted(ctx, c, order)
	case errors.Is(err, ledger.ErrOrderNotFound):
		_, err = s.rollback(ctx, c, []domain.Message{domain.NewError(
			codeCompletionLost,
			"$.status",
			"Completing this checkout was interrupted. Please try again.",
			domain.SeverityRecoverable,
		)}, codeCompletionLost)
		return err
	default:
		return err
	}
}

// withCheckout runs fn on a freshly loaded checkout while holding its lock.
// A checkout that is locked elsewhere is skipped.
func (s *CheckoutServiceImpl) withCheckout(ctx context.Context, id string, fn func(c *domain.Checkout) (bool, error)) (bool, error) {
	unlock, ok := s.locks.TryLock(id)
	if !ok {
		return false, nil
	}
	defer unlock()

	c, err := s.load(ctx, id)
	if errors.Is(err, ErrCheckoutNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fn(c)
}

// Sweeper periodically expires checkouts and recovers interrupted completions.
type Sweeper struct {
	svc      *CheckoutServiceImpl
	interval time.Duration
}

func NewSweeper(svc *CheckoutServiceImpl, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval}
}

func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	if n, err := w.svc.ExpireCheckouts(ctx); err != nil {
		w.svc.log.ErrorContext(ctx, "expiry sweep failed", "error", err)
	} else if n > 0 {
		w.svc.log.InfoContext(ctx, "expired checkouts", "count", n)
	}
	if _, err := w.svc.RecoverStuckCompletions(ctx); err != nil {
		w.svc.log.ErrorContext(ctx, "stuck completion sweep failed", "error", err)
	}
}
