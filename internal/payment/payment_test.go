package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenRequest(token string) Request {
	return Request{
		CheckoutID: "chk_1",
		Amount:     5000,
		Currency:   "USD",
		Instrument: domain.PaymentInstrument{
			ID:         "instr_1",
			HandlerID:  MockHandlerID,
			Type:       "card",
			Credential: &domain.PaymentCredential{Type: domain.CredentialTypeToken, Token: token},
		},
	}
}

func TestMockHandler_Outcomes(t *testing.T) {
	h := NewMockHandler()
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		outcome Outcome
		hard    bool
	}{
		{"approved", "success_token", OutcomeApproved, false},
		{"declined", TokenDeclined, OutcomeDeclined, false},
		{"hard decline", TokenHardDecline, OutcomeDeclined, true},
		{"3ds", Token3DS, OutcomeRequires3DS, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := h.Authorize(ctx, tokenRequest(tt.token))
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, auth.Outcome)
			assert.Equal(t, tt.hard, auth.HardDecline)
		})
	}

	auth, err := h.Authorize(ctx, tokenRequest("success_token"))
	require.NoError(t, err)
	assert.NotEmpty(t, auth.TransactionID)

	_, err = h.Authorize(ctx, tokenRequest(TokenError))
	assert.Error(t, err)
}

func TestMockHandler_Cards(t *testing.T) {
	h := NewMockHandler()
	req := tokenRequest("")
	req.Instrument.Credential = &domain.PaymentCredential{
		Type: domain.CredentialTypeCard, Number: "4000 0000 0000 0002", ExpiryMonth: 12, ExpiryYear: 2030,
	}

	auth, err := h.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeclined, auth.Outcome)

	req.Instrument.Credential = nil
	auth, err = h.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, auth.HardDecline)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(MockDescriptor(), NewMockHandler())

	assert.True(t, reg.Has(MockHandlerID))
	require.Len(t, reg.Descriptors(), 1)
	assert.Equal(t, MockHandlerID, reg.Descriptors()[0].ID)

	req := tokenRequest("success_token")
	req.Instrument.HandlerID = "google_pay"
	_, err := reg.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnknownHandler)
}

func TestGuarded_Timeout(t *testing.T) {
	g := NewGuarded(NewMockHandler(), 20*time.Millisecond)

	start := time.Now()
	_, err := g.Authorize(context.Background(), tokenRequest(TokenSlow))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

type countingAuthorizer struct {
	calls int
	err   error
}

func (c *countingAuthorizer) Authorize(context.Context, Request) (Authorization, error) {
	c.calls++
	return Authorization{}, c.err
}

func TestGuarded_OpensAfterFailures(t *testing.T) {
	inner := &countingAuthorizer{err: errors.New("connection refused")}
	g := NewGuarded(inner, time.Second)

	for i := 0; i < 5; i++ {
		_, err := g.Authorize(context.Background(), tokenRequest("x"))
		assert.Error(t, err)
	}
	_, err := g.Authorize(context.Background(), tokenRequest("x"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 5, inner.calls)
}

func TestGuarded_DeclinesDoNotTrip(t *testing.T) {
	g := NewGuarded(NewMockHandler(), time.Second)
	for i := 0; i < 10; i++ {
		auth, err := g.Authorize(context.Background(), tokenRequest(TokenDeclined))
		require.NoError(t, err)
		assert.Equal(t, OutcomeDeclined, auth.Outcome)
	}
}
