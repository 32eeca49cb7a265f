package domain

import (
	"encoding/json"
	"time"
)

type LineItemStatus string

const (
	LineItemStatusProcessing LineItemStatus = "processing"
	LineItemStatusPartial    LineItemStatus = "partial"
	LineItemStatusFulfilled  LineItemStatus = "fulfilled"
)

type Quantity struct {
	Total     int `json:"total"`
	Fulfilled int `json:"fulfilled"`
}

type OrderLineItem struct {
	ID       string         `json:"id"`
	Item     Item           `json:"item"`
	Quantity Quantity       `json:"quantity"`
	Totals   Totals         `json:"totals"`
	Status   LineItemStatus `json:"status"`
	ParentID string         `json:"parent_id,omitempty"`
}

type LineItemRef struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type Expectation struct {
	ID            string                `json:"id"`
	LineItems     []LineItemRef         `json:"line_items"`
	MethodType    FulfillmentMethodType `json:"method_type"`
	Destination   PostalAddress         `json:"destination"`
	Description   string                `json:"description,omitempty"`
	FulfillableOn string                `json:"fulfillable_on,omitempty"`
}

type FulfillmentEvent struct {
	ID             string        `json:"id"`
	OccurredAt     time.Time     `json:"occurred_at"`
	Type           string        `json:"type"`
	LineItems      []LineItemRef `json:"line_items"`
	TrackingNumber string        `json:"tracking_number,omitempty"`
	TrackingURL    string        `json:"tracking_url,omitempty"`
	Carrier        string        `json:"carrier,omitempty"`
	Description    string        `json:"description,omitempty"`
}

type AdjustmentStatus string

const (
	AdjustmentStatusPending   AdjustmentStatus = "pending"
	AdjustmentStatusCompleted AdjustmentStatus = "completed"
	AdjustmentStatusFailed    AdjustmentStatus = "failed"
)

func (s AdjustmentStatus) Valid() bool {
	return s == AdjustmentStatusPending || s == AdjustmentStatusCompleted || s == AdjustmentStatusFailed
}

type Adjustment struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Status      AdjustmentStatus `json:"status"`
	LineItems   []LineItemRef    `json:"line_items,omitempty"`
	Amount      *int64           `json:"amount,omitempty"`
	Description string           `json:"description,omitempty"`
}

type OrderFulfillment struct {
	Expectations []Expectation      `json:"expectations"`
	Events       []FulfillmentEvent `json:"events"`
}

// Order is created once from a completed checkout. After that only
// Fulfillment.Events and Adjustments grow; everything else is derived on read.
type Order struct {
	UCP          UCP              `json:"ucp"`
	ID           string           `json:"id"`
	CheckoutID   string           `json:"checkout_id"`
	PermalinkURL string           `json:"permalink_url"`
	LineItems    []OrderLineItem  `json:"line_items"`
	Fulfillment  OrderFulfillment `json:"fulfillment"`
	Adjustments  []Adjustment     `json:"adjustments"`
	Totals       Totals           `json:"totals"`

	Version int64 `json:"-"`
	Extra   Extra `json:"-"`
}

type orderAlias Order

func (o Order) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(orderAlias(o), o.Extra)
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var a orderAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraFields(data, a)
	if err != nil {
		return err
	}
	version := o.Version
	*o = Order(a)
	o.Version = version
	o.Extra = extra
	return nil
}

func (o *Order) LineItem(id string) (*OrderLineItem, bool) {
	for i := range o.LineItems {
		if o.LineItems[i].ID == id {
			return &o.LineItems[i], true
		}
	}
	return nil, false
}
