package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/payment"
)

const (
	codePaymentDeclined    = "payment_declined"
	codePaymentUnavailable = "payment_unavailable"
	codeRequires3DS        = "requires_3ds"

	paymentPath = "$.payment"
)

// paymentResult is what a completion attempt learned from the handler.
// Approved is false whenever Message is set.
type paymentResult struct {
	Approved      bool
	TransactionID string
	Message       domain.Message
	RedirectURL   string
	Outcome       string
}

// processPayment authorizes the checkout total against the submitted
// instrument. Handler answers and handler failures both become messages;
// only an unknown handler is an error.
func (s *CheckoutServiceImpl) processPayment(ctx context.Context, c *domain.Checkout, instrument domain.PaymentInstrument) (paymentResult, error) {
	auth, err := s.payments.Authorize(ctx, payment.Request{
		CheckoutID: c.ID,
		Instrument: instrument,
		Amount:     c.Totals.Amount(domain.TotalTypeTotal),
		Currency:   c.Currency,
	})
	if errors.Is(err, payment.ErrUnknownHandler) {
		return paymentResult{}, invalid("$.payment_data.handler_id", "unknown payment handler %q", instrument.HandlerID)
	}
	if err != nil {
		s.log.WarnContext(ctx, "payment authorization failed", "checkout_id", c.ID, "handler_id", instrument.HandlerID, "error", err)
		return paymentResult{
			Outcome: codePaymentUnavailable,
			Message: domain.NewError(
				codePaymentUnavailable,
				paymentPath,
				"The payment provider is unavailable. Please try again.",
				domain.SeverityRecoverable,
			),
		}, nil
	}

	switch auth.Outcome {
	case payment.OutcomeApproved:
		return paymentResult{Approved: true, TransactionID: auth.TransactionID, Outcome: string(auth.Outcome)}, nil
	case payment.OutcomeRequires3DS:
		return paymentResult{
			Outcome:     codeRequires3DS,
			RedirectURL: auth.RedirectURL,
			Message: domain.NewError(
				codeRequires3DS,
				paymentPath,
				"The card issuer requires additional authentication.",
				domain.SeverityRequiresBuyerInput,
			),
		}, nil
	case payment.OutcomeDeclined:
		severity := domain.SeverityRecoverable
		if auth.HardDecline {
			severity = domain.SeverityRequiresBuyerInput
		}
		return paymentResult{
			Outcome: codePaymentDeclined,
			Message: domain.NewError(
				codePaymentDeclined,
				paymentPath,
				fmt.Sprintf("Payment declined: %s", auth.Reason),
				severity,
			),
		}, nil
	default:
		return paymentResult{}, fmt.Errorf("%w: unexpected payment outcome %q", ErrInternal, auth.Outcome)
	}
}

// withoutPaymentMessages drops messages left by an earlier completion attempt.
func withoutPaymentMessages(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Code {
		case codePaymentDeclined, codePaymentUnavailable, codeRequires3DS, codeCompletionLost:
			continue
		}
		out = append(out, m)
	}
	return out
}
