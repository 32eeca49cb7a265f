package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fjod/go_ucp/domain"
	"github.com/go-playground/validator/v10"
)

type ItemRef struct {
	ID string `json:"id" validate:"required"`
}

// MaxLineItemQuantity bounds a single line so price*quantity stays well
// inside int64 for any realistic price. Keep in sync with the max tag below.
const MaxLineItemQuantity = 10000

type LineItemRequest struct {
	ID       string  `json:"id,omitempty"`
	Item     ItemRef `json:"item"`
	Quantity int     `json:"quantity" validate:"min=1,max=10000"`
	ParentID string  `json:"parent_id,omitempty"`
}

// PaymentRequest carries instruments without credentials; credentials are
// only accepted by CompleteCheckout.
type PaymentRequest struct {
	SelectedInstrumentID string                     `json:"selected_instrument_id,omitempty"`
	Instruments          []domain.PaymentInstrument `json:"instruments,omitempty"`
}

// DiscountsRequest replaces the codes on the checkout.
type DiscountsRequest struct {
	Codes []string `json:"codes"`
}

type CreateRequest struct {
	Currency    string              `json:"currency" validate:"required"`
	LineItems   []LineItemRequest   `json:"line_items" validate:"required,min=1,dive"`
	Buyer       *domain.Buyer       `json:"buyer,omitempty"`
	Payment     *PaymentRequest     `json:"payment,omitempty"`
	Fulfillment *domain.Fulfillment `json:"fulfillment,omitempty"`
	Discounts   *DiscountsRequest   `json:"discounts,omitempty"`

	Extra domain.Extra `json:"-"`
}

type createRequestAlias CreateRequest

func (r *CreateRequest) UnmarshalJSON(data []byte) error {
	var a createRequestAlias
	extra, err := domain.DecodeWithExtra(data, &a)
	if err != nil {
		return err
	}
	*r = CreateRequest(a)
	r.Extra = extra
	return nil
}

// UpdateRequest replaces every buyer-controlled part of the checkout.
// An empty Currency keeps the current one.
type UpdateRequest struct {
	Currency    string              `json:"currency,omitempty"`
	LineItems   []LineItemRequest   `json:"line_items" validate:"required,min=1,dive"`
	Buyer       *domain.Buyer       `json:"buyer,omitempty"`
	Payment     *PaymentRequest     `json:"payment,omitempty"`
	Fulfillment *domain.Fulfillment `json:"fulfillment,omitempty"`
	Discounts   *DiscountsRequest   `json:"discounts,omitempty"`

	Extra domain.Extra `json:"-"`
}

type updateRequestAlias UpdateRequest

func (r *UpdateRequest) UnmarshalJSON(data []byte) error {
	var a updateRequestAlias
	extra, err := domain.DecodeWithExtra(data, &a)
	if err != nil {
		return err
	}
	*r = UpdateRequest(a)
	r.Extra = extra
	return nil
}

type CompleteRequest struct {
	PaymentData *domain.PaymentInstrument `json:"payment_data" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest reports the first failing field as a ValidationError.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalid("$", "%v", err)
	}
	fe := fieldErrs[0]
	path := "$"
	if _, rest, found := strings.Cut(fe.Namespace(), "."); found {
		path += "." + rest
	}
	return invalid(path, "%s", describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func (r *CompleteRequest) validate() error {
	if err := validateRequest(r); err != nil {
		return err
	}
	in := r.PaymentData
	if in.HandlerID == "" {
		return invalid("$.payment_data.handler_id", "handler_id is required")
	}
	if in.Credential == nil {
		return invalid("$.payment_data.credential", "credential is required")
	}
	switch in.Credential.Type {
	case domain.CredentialTypeCard, domain.CredentialTypeToken:
	default:
		return invalid("$.payment_data.credential.type", "unsupported credential type %q", in.Credential.Type)
	}
	return nil
}
