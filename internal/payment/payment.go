package payment

import (
	"context"
	"errors"

	"github.com/fjod/go_ucp/domain"
)

var (
	ErrUnavailable    = errors.New("payment handler unavailable")
	ErrTimeout        = errors.New("payment authorization timed out")
	ErrUnknownHandler = errors.New("unknown payment handler")
)

type Outcome string

const (
	OutcomeApproved    Outcome = "approved"
	OutcomeDeclined    Outcome = "declined"
	OutcomeRequires3DS Outcome = "requires_3ds"
)

type Request struct {
	CheckoutID string
	Instrument domain.PaymentInstrument
	Amount     int64
	Currency   string
}

// Authorization is the handler's answer. Declines are answers, not errors;
// errors mean the handler could not decide.
type Authorization struct {
	Outcome       Outcome
	TransactionID string
	Reason        string
	// HardDecline means retrying the same instrument will not help.
	HardDecline bool
	// RedirectURL is where the buyer completes a 3DS challenge.
	RedirectURL string
}

type Authorizer interface {
	Authorize(ctx context.Context, req Request) (Authorization, error)
}

// Registry routes requests to the handler named by the instrument.
type Registry struct {
	handlers    map[string]Authorizer
	descriptors []domain.PaymentHandlerDescriptor
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Authorizer)}
}

func (r *Registry) Register(desc domain.PaymentHandlerDescriptor, a Authorizer) {
	r.handlers[desc.ID] = a
	r.descriptors = append(r.descriptors, desc)
}

// Descriptors lists the advertised handlers in registration order.
func (r *Registry) Descriptors() []domain.PaymentHandlerDescriptor {
	out := make([]domain.PaymentHandlerDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

func (r *Registry) Has(handlerID string) bool {
	_, ok := r.handlers[handlerID]
	return ok
}

func (r *Registry) Authorize(ctx context.Context, req Request) (Authorization, error) {
	a, ok := r.handlers[req.Instrument.HandlerID]
	if !ok {
		return Authorization{}, ErrUnknownHandler
	}
	return a.Authorize(ctx, req)
}
