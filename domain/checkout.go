package domain

import (
	"encoding/json"
	"time"
)

const ProtocolVersion = "2026-01-11"

type UCP struct {
	Version      string       `json:"version"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

type Capability struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Item struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
}

type LineItem struct {
	ID       string `json:"id"`
	Item     Item   `json:"item"`
	Quantity int    `json:"quantity"`
	ParentID string `json:"parent_id,omitempty"`
	Totals   Totals `json:"totals"`
}

// Value is the undiscounted line amount.
func (li LineItem) Value() int64 {
	return li.Item.Price * int64(li.Quantity)
}

type Buyer struct {
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`

	Extra Extra `json:"-"`
}

type buyerAlias Buyer

func (b Buyer) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(buyerAlias(b), b.Extra)
}

func (b *Buyer) UnmarshalJSON(data []byte) error {
	var a buyerAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraFields(data, a)
	if err != nil {
		return err
	}
	*b = Buyer(a)
	b.Extra = extra
	return nil
}

type Link struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// PaymentHandlerDescriptor advertises a pluggable payment capability by id and version.
type PaymentHandlerDescriptor struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Version           string          `json:"version"`
	Spec              string          `json:"spec,omitempty"`
	ConfigSchema      string          `json:"config_schema,omitempty"`
	InstrumentSchemas []string        `json:"instrument_schemas,omitempty"`
	Config            json.RawMessage `json:"config,omitempty"`
}

type CredentialType string

const (
	CredentialTypeCard  CredentialType = "card"
	CredentialTypeToken CredentialType = "token"
)

// PaymentCredential is a tagged union discriminated by Type.
// Card credentials carry the card fields, token credentials carry Token.
type PaymentCredential struct {
	Type        CredentialType `json:"type"`
	Token       string         `json:"token,omitempty"`
	Number      string         `json:"number,omitempty"`
	ExpiryMonth int            `json:"expiry_month,omitempty"`
	ExpiryYear  int            `json:"expiry_year,omitempty"`
	CVC         string         `json:"cvc,omitempty"`
	Name        string         `json:"name,omitempty"`
}

func (c PaymentCredential) Valid() bool {
	switch c.Type {
	case CredentialTypeToken:
		return c.Token != ""
	case CredentialTypeCard:
		return c.Number != "" && c.ExpiryMonth >= 1 && c.ExpiryMonth <= 12 && c.ExpiryYear > 0
	default:
		return false
	}
}

type PaymentInstrument struct {
	ID             string             `json:"id"`
	HandlerID      string             `json:"handler_id"`
	Type           string             `json:"type"`
	Brand          string             `json:"brand,omitempty"`
	LastDigits     string             `json:"last_digits,omitempty"`
	BillingAddress *PostalAddress     `json:"billing_address,omitempty"`
	Credential     *PaymentCredential `json:"credential,omitempty"`
}

type Payment struct {
	Handlers             []PaymentHandlerDescriptor `json:"handlers"`
	SelectedInstrumentID string                     `json:"selected_instrument_id,omitempty"`
	Instruments          []PaymentInstrument        `json:"instruments,omitempty"`
}

func (p Payment) SelectedInstrument() (PaymentInstrument, bool) {
	for _, in := range p.Instruments {
		if in.ID == p.SelectedInstrumentID {
			return in, true
		}
	}
	return PaymentInstrument{}, false
}

type OrderConfirmation struct {
	ID           string `json:"id"`
	PermalinkURL string `json:"permalink_url"`
}

// Checkout is the mutable pre-order aggregate. Version increases on every successful save.
type Checkout struct {
	UCP         UCP                `json:"ucp"`
	ID          string             `json:"id"`
	LineItems   []LineItem         `json:"line_items"`
	Buyer       *Buyer             `json:"buyer,omitempty"`
	Status      CheckoutStatus     `json:"status"`
	Currency    string             `json:"currency"`
	Totals      Totals             `json:"totals"`
	Messages    []Message          `json:"messages,omitempty"`
	Links       []Link             `json:"links"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	ContinueURL string             `json:"continue_url,omitempty"`
	Payment     Payment            `json:"payment"`
	Fulfillment *Fulfillment       `json:"fulfillment,omitempty"`
	Discounts   *Discounts         `json:"discounts,omitempty"`
	Order       *OrderConfirmation `json:"order,omitempty"`

	Version int64 `json:"-"`
	Extra   Extra `json:"-"`
}

type checkoutAlias Checkout

func (c Checkout) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(checkoutAlias(c), c.Extra)
}

func (c *Checkout) UnmarshalJSON(data []byte) error {
	var a checkoutAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraFields(data, a)
	if err != nil {
		return err
	}
	version := c.Version
	*c = Checkout(a)
	c.Version = version
	c.Extra = extra
	return nil
}

func (c *Checkout) LineItem(id string) (*LineItem, bool) {
	for i := range c.LineItems {
		if c.LineItems[i].ID == id {
			return &c.LineItems[i], true
		}
	}
	return nil, false
}

// Expired reports whether the checkout passed its expiry time and can still be canceled.
func (c *Checkout) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.Status.IsTerminal() && !now.Before(*c.ExpiresAt)
}
