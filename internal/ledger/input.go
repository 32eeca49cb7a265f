package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/go-playground/validator/v10"
)

type LineItemInput struct {
	ID       string `json:"id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

// EventInput describes one shipment-side fact. ID is generated when empty;
// a repeated ID is reported as ErrAlreadyRecorded.
type EventInput struct {
	ID             string          `json:"id,omitempty"`
	Type           string          `json:"type" validate:"required"`
	OccurredAt     time.Time       `json:"occurred_at,omitempty"`
	LineItems      []LineItemInput `json:"line_items" validate:"required,min=1,dive"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	TrackingURL    string          `json:"tracking_url,omitempty" validate:"omitempty,url"`
	Carrier        string          `json:"carrier,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// AdjustmentInput describes a post-order money or quantity change such as a refund or return.
type AdjustmentInput struct {
	ID          string                  `json:"id,omitempty"`
	Type        string                  `json:"type" validate:"required"`
	Status      domain.AdjustmentStatus `json:"status" validate:"required,oneof=pending completed failed"`
	OccurredAt  time.Time               `json:"occurred_at,omitempty"`
	LineItems   []LineItemInput         `json:"line_items,omitempty" validate:"omitempty,dive"`
	Amount      *int64                  `json:"amount,omitempty" validate:"omitempty,gte=0"`
	Description string                  `json:"description,omitempty"`
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

// validateInput reports the first failing field as a ValidationError.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalid("$", "%v", err)
	}
	fe := fieldErrs[0]
	return invalid(jsonPath(fe.Namespace()), "%s", describe(fe))
}

// jsonPath turns "EventInput.line_items[0].quantity" into "$.line_items[0].quantity".
func jsonPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return "$"
	}
	return "$." + rest
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func refs(in []LineItemInput) []domain.LineItemRef {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.LineItemRef, len(in))
	for i, li := range in {
		out[i] = domain.LineItemRef{ID: li.ID, Quantity: li.Quantity}
	}
	return out
}
