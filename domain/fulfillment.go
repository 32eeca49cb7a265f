package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type FulfillmentMethodType string

const (
	FulfillmentMethodShipping FulfillmentMethodType = "shipping"
	FulfillmentMethodPickup   FulfillmentMethodType = "pickup"
	// FulfillmentMethodDigital only appears on order expectations.
	FulfillmentMethodDigital FulfillmentMethodType = "digital"
)

type Fulfillment struct {
	Methods []FulfillmentMethod `json:"methods"`
}

type FulfillmentMethod struct {
	ID                    string                   `json:"id"`
	Type                  FulfillmentMethodType    `json:"type"`
	LineItemIDs           []string                 `json:"line_item_ids"`
	Destinations          []FulfillmentDestination `json:"destinations,omitempty"`
	SelectedDestinationID string                   `json:"selected_destination_id,omitempty"`
	Groups                []FulfillmentGroup       `json:"groups,omitempty"`
}

func (m FulfillmentMethod) SelectedDestination() (FulfillmentDestination, bool) {
	if m.SelectedDestinationID == "" {
		return FulfillmentDestination{}, false
	}
	for _, d := range m.Destinations {
		if d.ID == m.SelectedDestinationID {
			return d, true
		}
	}
	return FulfillmentDestination{}, false
}

type FulfillmentGroup struct {
	ID               string              `json:"id"`
	LineItemIDs      []string            `json:"line_item_ids"`
	Options          []FulfillmentOption `json:"options"`
	SelectedOptionID string              `json:"selected_option_id,omitempty"`
}

func (g FulfillmentGroup) SelectedOption() (FulfillmentOption, bool) {
	if g.SelectedOptionID == "" {
		return FulfillmentOption{}, false
	}
	for _, o := range g.Options {
		if o.ID == g.SelectedOptionID {
			return o, true
		}
	}
	return FulfillmentOption{}, false
}

type FulfillmentOption struct {
	ID                      string     `json:"id"`
	Title                   string     `json:"title"`
	Description             string     `json:"description,omitempty"`
	Carrier                 string     `json:"carrier,omitempty"`
	EarliestFulfillmentTime *time.Time `json:"earliest_fulfillment_time,omitempty"`
	LatestFulfillmentTime   *time.Time `json:"latest_fulfillment_time,omitempty"`
	Totals                  Totals     `json:"totals"`

	Extra Extra `json:"-"`
}

type fulfillmentOptionAlias FulfillmentOption

func (o FulfillmentOption) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(fulfillmentOptionAlias(o), o.Extra)
}

func (o *FulfillmentOption) UnmarshalJSON(data []byte) error {
	var a fulfillmentOptionAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraFields(data, a)
	if err != nil {
		return err
	}
	*o = FulfillmentOption(a)
	o.Extra = extra
	return nil
}

type PostalAddress struct {
	StreetAddress   string `json:"street_address,omitempty"`
	ExtendedAddress string `json:"extended_address,omitempty"`
	AddressLocality string `json:"address_locality,omitempty"`
	AddressRegion   string `json:"address_region,omitempty"`
	AddressCountry  string `json:"address_country,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	FullName        string `json:"full_name,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
}

// SameLocation compares the deliverable part of two addresses, ignoring case and recipient.
func (a PostalAddress) SameLocation(b PostalAddress) bool {
	eq := func(x, y string) bool {
		return strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(y))
	}
	return eq(a.StreetAddress, b.StreetAddress) &&
		eq(a.ExtendedAddress, b.ExtendedAddress) &&
		eq(a.AddressLocality, b.AddressLocality) &&
		eq(a.AddressRegion, b.AddressRegion) &&
		eq(a.AddressCountry, b.AddressCountry) &&
		eq(a.PostalCode, b.PostalCode)
}

type DestinationType string

const (
	DestinationTypeShipping DestinationType = "shipping"
	DestinationTypeRetail   DestinationType = "retail"
)

// FulfillmentDestination is either a shipping address (postal fields inline)
// or a retail location (name plus nested address).
type FulfillmentDestination struct {
	Type    DestinationType
	ID      string
	Name    string
	Address PostalAddress
}

type shippingDestinationJSON struct {
	Type DestinationType `json:"type"`
	ID   string          `json:"id"`
	PostalAddress
}

type retailLocationJSON struct {
	Type    DestinationType `json:"type"`
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Address PostalAddress   `json:"address"`
}

func (d FulfillmentDestination) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case DestinationTypeRetail:
		return json.Marshal(retailLocationJSON{Type: d.Type, ID: d.ID, Name: d.Name, Address: d.Address})
	case DestinationTypeShipping, "":
		return json.Marshal(shippingDestinationJSON{Type: DestinationTypeShipping, ID: d.ID, PostalAddress: d.Address})
	default:
		return nil, fmt.Errorf("unknown destination type %q", d.Type)
	}
}

func (d *FulfillmentDestination) UnmarshalJSON(data []byte) error {
	var peek struct {
		Type    DestinationType `json:"type"`
		Address json.RawMessage `json:"address"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return err
	}
	kind := peek.Type
	if kind == "" {
		kind = DestinationTypeShipping
		if len(peek.Address) > 0 {
			kind = DestinationTypeRetail
		}
	}

	switch kind {
	case DestinationTypeRetail:
		var r retailLocationJSON
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		*d = FulfillmentDestination{Type: DestinationTypeRetail, ID: r.ID, Name: r.Name, Address: r.Address}
	case DestinationTypeShipping:
		var s shippingDestinationJSON
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = FulfillmentDestination{Type: DestinationTypeShipping, ID: s.ID, Address: s.PostalAddress}
	default:
		return fmt.Errorf("unknown destination type %q", kind)
	}
	return nil
}
