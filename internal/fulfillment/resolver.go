package fulfillment

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/fjod/go_ucp/domain"
)

// Rate is a merchant shipping rate for a destination country.
// The "default" country is used when nothing more specific exists.
type Rate struct {
	ID      string
	Country string
	Title   string
	Carrier string
	Price   int64
	MinDays int
	MaxDays int
}

// Promotion makes the cheapest shipping option free once the method's
// line items reach MinSubtotal. ItemIDs restricts eligibility when set.
type Promotion struct {
	ID          string
	Title       string
	MinSubtotal int64
	ItemIDs     []string
}

type RateProvider interface {
	Rates(ctx context.Context, country string) ([]Rate, error)
	FreeShippingPromotions(ctx context.Context) ([]Promotion, error)
}

// AddressBook returns addresses the merchant already knows for a buyer.
type AddressBook interface {
	Addresses(ctx context.Context, email string) ([]domain.PostalAddress, error)
}

// LocationProvider lists retail locations that offer pickup.
type LocationProvider interface {
	Locations(ctx context.Context) ([]domain.FulfillmentDestination, error)
}

type Resolver struct {
	rates     RateProvider
	addresses AddressBook
	locations LocationProvider
}

func NewResolver(rates RateProvider, addresses AddressBook, locations LocationProvider) *Resolver {
	return &Resolver{rates: rates, addresses: addresses, locations: locations}
}

type Result struct {
	Fulfillment *domain.Fulfillment
	Messages    []domain.Message
	// Ready is true when every line item is covered and every selection is made.
	Ready bool
	// Cost is the sum of the selected options.
	Cost int64
	// Destination is the address tax should be computed for, if one is selected.
	Destination *domain.PostalAddress
}

// Resolve normalizes the requested fulfillment against the current line items.
// It assigns ids, merges known addresses, prices options and drops selections
// that reference unknown ids, reporting each of them as a recoverable error.
func (r *Resolver) Resolve(ctx context.Context, req *domain.Fulfillment, lineItems []domain.LineItem, buyer *domain.Buyer, now time.Time) (Result, error) {
	if len(lineItems) == 0 {
		return Result{}, nil
	}

	requested := defaultMethods(req)
	known := make(map[string]domain.LineItem, len(lineItems))
	for _, li := range lineItems {
		known[li.ID] = li
	}

	var (
		messages []domain.Message
		claimed  = make(map[string]int)
		methods  = make([]domain.FulfillmentMethod, 0, len(requested))
		origin   = make([]int, 0, len(requested))
	)

	for i, in := range requested {
		switch in.Type {
		case domain.FulfillmentMethodShipping, domain.FulfillmentMethodPickup:
		default:
			messages = append(messages, recoverable(
				"unsupported_fulfillment_method_type",
				fmt.Sprintf("$.fulfillment.methods[%d].type", i),
				fmt.Sprintf("Fulfillment method type '%s' is not supported.", in.Type),
			))
			continue
		}

		m := domain.FulfillmentMethod{
			ID:   in.ID,
			Type: in.Type,
		}
		if m.ID == "" {
			m.ID = fmt.Sprintf("method_%d", i+1)
		}

		for j, id := range in.LineItemIDs {
			path := fmt.Sprintf("$.fulfillment.methods[%d].line_item_ids[%d]", i, j)
			if _, ok := known[id]; !ok {
				messages = append(messages, recoverable(
					"invalid_line_item_reference", path,
					fmt.Sprintf("Line item '%s' does not exist in this checkout.", id),
				))
				continue
			}
			if owner, taken := claimed[id]; taken && owner != i {
				messages = append(messages, recoverable(
					"multiple_fulfillment_methods_not_supported", path,
					fmt.Sprintf("Line item '%s' is already assigned to another fulfillment method.", id),
				))
				continue
			}
			if !slices.Contains(m.LineItemIDs, id) {
				claimed[id] = i
				m.LineItemIDs = append(m.LineItemIDs, id)
			}
		}
		methods = append(methods, m)
		origin = append(origin, i)
	}

	// methods without explicit line items take whatever is left
	for k := range methods {
		idx := origin[k]
		if len(requested[idx].LineItemIDs) > 0 {
			continue
		}
		for _, li := range lineItems {
			if _, taken := claimed[li.ID]; !taken {
				claimed[li.ID] = idx
				methods[k].LineItemIDs = append(methods[k].LineItemIDs, li.ID)
			}
		}
	}

	ready := len(methods) > 0
	for _, li := range lineItems {
		if _, ok := claimed[li.ID]; !ok {
			ready = false
			messages = append(messages, recoverable(
				"missing_fulfillment_info",
				fmt.Sprintf("$.line_items[?(@.id=='%s')]", li.ID),
				fmt.Sprintf("Line item '%s' has no fulfillment method.", li.ID),
			))
		}
	}

	result := Result{}
	for k := range methods {
		idx := origin[k]
		in := requested[idx]

		var err error
		methods[k].Destinations, err = r.destinations(ctx, in, buyer)
		if err != nil {
			return Result{}, err
		}
		if methods[k].Type == domain.FulfillmentMethodPickup && len(methods[k].Destinations) == 0 {
			messages = append(messages, recoverable(
				"no_fulfillment_destinations",
				fmt.Sprintf("$.fulfillment.methods[%d].destinations", idx),
				"No pickup locations are available.",
			))
		}

		if in.SelectedDestinationID != "" {
			methods[k].SelectedDestinationID = in.SelectedDestinationID
			if _, ok := methods[k].SelectedDestination(); !ok {
				messages = append(messages, recoverable(
					"invalid_destination_reference",
					fmt.Sprintf("$.fulfillment.methods[%d].selected_destination_id", idx),
					fmt.Sprintf("Destination '%s' is not declared for this method.", in.SelectedDestinationID),
				))
				methods[k].SelectedDestinationID = ""
			}
		}

		group := domain.FulfillmentGroup{
			ID:          fmt.Sprintf("group_%d", k+1),
			LineItemIDs: slices.Clone(methods[k].LineItemIDs),
			Options:     []domain.FulfillmentOption{},
		}
		var selectedOption string
		if len(in.Groups) > 0 {
			if in.Groups[0].ID != "" {
				group.ID = in.Groups[0].ID
			}
			selectedOption = in.Groups[0].SelectedOptionID
		}

		dest, hasDest := methods[k].SelectedDestination()
		if hasDest {
			group.Options, err = r.options(ctx, methods[k], dest, known, now)
			if err != nil {
				return Result{}, err
			}
			if result.Destination == nil {
				addr := dest.Address
				result.Destination = &addr
			}
		}

		if selectedOption != "" {
			group.SelectedOptionID = selectedOption
			if opt, ok := group.SelectedOption(); ok {
				result.Cost += opt.Totals.Amount(domain.TotalTypeTotal)
			} else {
				group.SelectedOptionID = ""
				if hasDest {
					messages = append(messages, recoverable(
						"invalid_option_reference",
						fmt.Sprintf("$.fulfillment.methods[%d].groups[0].selected_option_id", idx),
						fmt.Sprintf("Option '%s' is not available for this group.", selectedOption),
					))
				}
			}
		}

		if !hasDest || group.SelectedOptionID == "" {
			ready = false
		}
		methods[k].Groups = []domain.FulfillmentGroup{group}
	}

	result.Fulfillment = &domain.Fulfillment{Methods: methods}
	result.Messages = messages
	result.Ready = ready
	return result, nil
}

// Cost sums the selected options of every group.
func Cost(f *domain.Fulfillment) int64 {
	if f == nil {
		return 0
	}
	var cost int64
	for _, m := range f.Methods {
		for _, g := range m.Groups {
			if opt, ok := g.SelectedOption(); ok {
				cost += opt.Totals.Amount(domain.TotalTypeTotal)
			}
		}
	}
	return cost
}

// Validate reports missing selections on an already resolved fulfillment.
func Validate(f *domain.Fulfillment, lineItems []domain.LineItem) []domain.Message {
	if len(lineItems) == 0 {
		return nil
	}
	if f == nil || len(f.Methods) == 0 {
		return []domain.Message{recoverable("missing_fulfillment_info", "$.fulfillment", "Fulfillment information is required.")}
	}

	var messages []domain.Message
	for i, m := range f.Methods {
		if _, ok := m.SelectedDestination(); !ok {
			code := "missing_shipping_destination"
			if m.Type == domain.FulfillmentMethodPickup {
				code = "missing_pickup_location"
			}
			messages = append(messages, recoverable(code,
				fmt.Sprintf("$.fulfillment.methods[%d].selected_destination_id", i),
				"A destination must be selected."))
		}
		for j, g := range m.Groups {
			if _, ok := g.SelectedOption(); !ok {
				messages = append(messages, recoverable("missing_fulfillment_option",
					fmt.Sprintf("$.fulfillment.methods[%d].groups[%d].selected_option_id", i, j),
					"A fulfillment option must be selected."))
			}
		}
	}
	return messages
}

func (r *Resolver) destinations(ctx context.Context, in domain.FulfillmentMethod, buyer *domain.Buyer) ([]domain.FulfillmentDestination, error) {
	if in.Type == domain.FulfillmentMethodPickup {
		if r.locations == nil {
			return nil, nil
		}
		locations, err := r.locations.Locations(ctx)
		if err != nil {
			return nil, fmt.Errorf("load pickup locations: %w", err)
		}
		return locations, nil
	}

	var known []domain.PostalAddress
	if r.addresses != nil && buyer != nil && buyer.Email != "" {
		var err error
		known, err = r.addresses.Addresses(ctx, buyer.Email)
		if err != nil {
			return nil, fmt.Errorf("load known addresses: %w", err)
		}
	}

	out := make([]domain.FulfillmentDestination, 0, len(in.Destinations)+len(known))
	for i, d := range in.Destinations {
		d.Type = domain.DestinationTypeShipping
		if d.ID == "" {
			d.ID = fmt.Sprintf("dest_%d", i+1)
		}
		out = append(out, d)
	}
	for k, addr := range known {
		duplicate := slices.ContainsFunc(out, func(d domain.FulfillmentDestination) bool {
			return d.Address.SameLocation(addr)
		})
		if duplicate {
			continue
		}
		out = append(out, domain.FulfillmentDestination{
			Type:    domain.DestinationTypeShipping,
			ID:      fmt.Sprintf("addr_%d", k+1),
			Address: addr,
		})
	}
	return out, nil
}

func (r *Resolver) options(ctx context.Context, m domain.FulfillmentMethod, dest domain.FulfillmentDestination, known map[string]domain.LineItem, now time.Time) ([]domain.FulfillmentOption, error) {
	if m.Type == domain.FulfillmentMethodPickup {
		return []domain.FulfillmentOption{{
			ID:     "pickup",
			Title:  fmt.Sprintf("Pickup at %s", dest.Name),
			Totals: optionTotals(0),
		}}, nil
	}

	rates, err := r.rates.Rates(ctx, dest.Address.AddressCountry)
	if err != nil {
		return nil, fmt.Errorf("load shipping rates: %w", err)
	}
	sort.SliceStable(rates, func(i, j int) bool { return rates[i].Price < rates[j].Price })

	free, err := r.freeShipping(ctx, m, known)
	if err != nil {
		return nil, err
	}

	options := make([]domain.FulfillmentOption, 0, len(rates))
	for i, rate := range rates {
		price := rate.Price
		title := rate.Title
		if free && i == 0 {
			price = 0
			title += " (Free)"
		}
		opt := domain.FulfillmentOption{
			ID:      rate.ID,
			Title:   title,
			Carrier: rate.Carrier,
			Totals:  optionTotals(price),
		}
		if rate.MaxDays > 0 {
			earliest := now.AddDate(0, 0, rate.MinDays)
			latest := now.AddDate(0, 0, rate.MaxDays)
			opt.EarliestFulfillmentTime = &earliest
			opt.LatestFulfillmentTime = &latest
		}
		options = append(options, opt)
	}
	return options, nil
}

func (r *Resolver) freeShipping(ctx context.Context, m domain.FulfillmentMethod, known map[string]domain.LineItem) (bool, error) {
	promos, err := r.rates.FreeShippingPromotions(ctx)
	if err != nil {
		return false, fmt.Errorf("load shipping promotions: %w", err)
	}
	var subtotal int64
	for _, id := range m.LineItemIDs {
		subtotal += known[id].Value()
	}
	for _, p := range promos {
		if subtotal < p.MinSubtotal {
			continue
		}
		if len(p.ItemIDs) == 0 {
			return true, nil
		}
		for _, id := range m.LineItemIDs {
			if slices.Contains(p.ItemIDs, known[id].Item.ID) {
				return true, nil
			}
		}
	}
	return false, nil
}

func defaultMethods(req *domain.Fulfillment) []domain.FulfillmentMethod {
	if req == nil || len(req.Methods) == 0 {
		return []domain.FulfillmentMethod{{Type: domain.FulfillmentMethodShipping}}
	}
	return req.Methods
}

func optionTotals(price int64) domain.Totals {
	return domain.Totals{
		{Type: domain.TotalTypeFulfillment, DisplayText: "Fulfillment", Amount: price},
		{Type: domain.TotalTypeTotal, DisplayText: "Total", Amount: price},
	}
}

func recoverable(code, path, content string) domain.Message {
	return domain.NewError(code, path, content, domain.SeverityRecoverable)
}
