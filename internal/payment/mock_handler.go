package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/fjod/go_ucp/domain"
	"github.com/google/uuid"
)

const MockHandlerID = "mock_payment_handler"

// Test tokens and card numbers understood by MockHandler. Anything else is approved.
const (
	TokenDeclined    = "fail_token"
	TokenHardDecline = "stolen_token"
	Token3DS         = "3ds_token"
	TokenError       = "error_token"
	TokenSlow        = "slow_token"

	CardDeclined = "4000000000000002"
	Card3DS      = "4000000000003220"
)

var errMockFailure = errors.New("mock processor failure")

type MockHandler struct{}

func NewMockHandler() *MockHandler {
	return &MockHandler{}
}

func MockDescriptor() domain.PaymentHandlerDescriptor {
	return domain.PaymentHandlerDescriptor{
		ID:                MockHandlerID,
		Name:              "dev.ucp.mock_payment",
		Version:           domain.ProtocolVersion,
		Spec:              "https://ucp.dev/specs/mock",
		InstrumentSchemas: []string{"https://ucp.dev/schemas/shopping/types/card_payment_instrument.json"},
	}
}

func (h *MockHandler) Authorize(ctx context.Context, req Request) (Authorization, error) {
	cred := req.Instrument.Credential
	if cred == nil || !cred.Valid() {
		return Authorization{Outcome: OutcomeDeclined, Reason: "missing or invalid credential", HardDecline: true}, nil
	}

	switch key := credentialKey(cred); key {
	case TokenDeclined, CardDeclined:
		return Authorization{Outcome: OutcomeDeclined, Reason: "insufficient funds"}, nil
	case TokenHardDecline:
		return Authorization{Outcome: OutcomeDeclined, Reason: "card reported stolen", HardDecline: true}, nil
	case Token3DS, Card3DS:
		return Authorization{
			Outcome:     OutcomeRequires3DS,
			Reason:      "issuer requires authentication",
			RedirectURL: "https://example.com/3ds/" + req.CheckoutID,
		}, nil
	case TokenError:
		return Authorization{}, errMockFailure
	case TokenSlow:
		<-ctx.Done()
		return Authorization{}, ctx.Err()
	}

	return Authorization{
		Outcome:       OutcomeApproved,
		TransactionID: "txn_" + uuid.NewString(),
	}, nil
}

func credentialKey(c *domain.PaymentCredential) string {
	if c.Type == domain.CredentialTypeCard {
		return strings.ReplaceAll(c.Number, " ", "")
	}
	return c.Token
}
