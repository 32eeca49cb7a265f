package payment

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_ucp/pkg/circuitbreaker"
)

// Guarded bounds every authorization with a timeout and stops calling a
// failing handler for a while. Declines do not count as failures.
type Guarded struct {
	next    Authorizer
	timeout time.Duration
	cb      *circuitbreaker.CircuitBreaker[Authorization]
}

func NewGuarded(next Authorizer, timeout time.Duration) *Guarded {
	return &Guarded{
		next:    next,
		timeout: timeout,
		cb: circuitbreaker.NewCircuitBreaker[Authorization](circuitbreaker.Settings{
			Name:                "payment-authorizer",
			MaxRequests:         1,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrUnknownHandler)
			},
		}),
	}
}

func (g *Guarded) Authorize(ctx context.Context, req Request) (Authorization, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	auth, err := g.cb.Execute(func() (Authorization, error) {
		return g.next.Authorize(ctx, req)
	})
	switch {
	case err == nil:
		return auth, nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return Authorization{}, ErrUnavailable
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Authorization{}, ErrTimeout
	default:
		return Authorization{}, err
	}
}
