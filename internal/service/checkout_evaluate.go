package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/catalog"
	"github.com/fjod/go_ucp/internal/discount"
	"github.com/fjod/go_ucp/internal/pricing"
	"golang.org/x/sync/errgroup"
)

// draft is the buyer-controlled input shared by create and update.
type draft struct {
	currency    string
	lineItems   []LineItemRequest
	buyer       *domain.Buyer
	payment     *PaymentRequest
	fulfillment *domain.Fulfillment
	codes       []string
	extra       domain.Extra
}

func (r *CreateRequest) draft() draft {
	return draft{
		currency:    r.Currency,
		lineItems:   r.LineItems,
		buyer:       r.Buyer,
		payment:     r.Payment,
		fulfillment: r.Fulfillment,
		codes:       discountCodes(r.Discounts),
		extra:       r.Extra,
	}
}

func (r *UpdateRequest) draft(current *domain.Checkout) draft {
	d := draft{
		currency:    r.Currency,
		lineItems:   r.LineItems,
		buyer:       r.Buyer,
		payment:     r.Payment,
		fulfillment: r.Fulfillment,
		codes:       discountCodes(r.Discounts),
		extra:       r.Extra,
	}
	if d.currency == "" {
		d.currency = current.Currency
	}
	if d.extra == nil {
		d.extra = current.Extra
	}
	return d
}

func discountCodes(d *DiscountsRequest) []string {
	if d == nil {
		return nil
	}
	return d.Codes
}

// nonBlocking codes come from the last completion attempt and never hold a
// checkout in incomplete; escalating severities still apply.
var nonBlocking = map[string]bool{
	codePaymentDeclined:    true,
	codePaymentUnavailable: true,
	codeCompletionLost:     true,
}

// evaluateStatus derives the status from messages and whether every required
// selection is present.
func evaluateStatus(messages []domain.Message, ready bool) domain.CheckoutStatus {
	status := domain.CheckoutStatusReadyForComplete
	if !ready {
		status = domain.CheckoutStatusIncomplete
	}
	for _, m := range messages {
		if m.RequiresEscalation() {
			return domain.CheckoutStatusRequiresEscalation
		}
		if m.IsError() && !nonBlocking[m.Code] {
			status = domain.CheckoutStatusIncomplete
		}
	}
	return status
}

// evaluate builds the next version of base from d. Prices, discounts,
// fulfillment options, tax and status are all recomputed. When only the tax
// provider fails, the rebuilt checkout is returned together with an error
// wrapping errTaxUnavailable.
func (s *CheckoutServiceImpl) evaluate(ctx context.Context, base *domain.Checkout, d draft) (*domain.Checkout, error) {
	now := s.now()

	currency, err := pricing.ValidateCurrency(d.currency)
	if err != nil {
		return nil, invalid("$.currency", "unknown currency %q", d.currency)
	}

	lineItems, err := s.resolveLineItems(ctx, base.LineItems, d.lineItems)
	if err != nil {
		return nil, err
	}
	if _, err := pricing.Subtotal(lineItems); err != nil {
		if errors.Is(err, pricing.ErrAmountOverflow) {
			return nil, invalid("$.line_items", "line item amounts are too large")
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	pay, err := s.paymentSection(d.payment)
	if err != nil {
		return nil, err
	}

	var messages []domain.Message

	applied, err := s.discounts.Apply(ctx, d.codes, lineItems, now)
	if err != nil {
		return nil, fmt.Errorf("apply discounts: %w", err)
	}
	messages = append(messages, applied.Messages...)
	var discounts []domain.AppliedDiscount
	if applied.Discounts != nil {
		discounts = applied.Discounts.Applied
	}
	perLine := discount.PerLineItem(discounts, len(lineItems))
	for i := range lineItems {
		lineItems[i].Totals = pricing.LineItemTotals(lineItems[i], perLine[i])
	}

	resolved, err := s.fulfillment.Resolve(ctx, d.fulfillment, lineItems, d.buyer, now)
	if err != nil {
		return nil, fmt.Errorf("resolve fulfillment: %w", err)
	}
	messages = append(messages, resolved.Messages...)

	stock, err := s.stockMessages(lineItems)
	if err != nil {
		return nil, err
	}
	messages = append(messages, stock...)

	if m, ok := s.signInMessage(d.buyer); ok {
		messages = append(messages, m)
	}
	messages = append(messages, s.finalSaleMessages(lineItems)...)

	fragment, taxErr := s.computeTax(ctx, lineItems, resolved.Destination)
	if taxErr != nil {
		s.log.WarnContext(ctx, "tax provider failed", "checkout_id", base.ID, "error", taxErr)
		messages = append(messages, taxUnavailable())
	}

	totals, err := pricing.Calculate(pricing.Input{
		Currency:    currency,
		LineItems:   lineItems,
		Discounts:   discounts,
		Fulfillment: resolved.Cost,
		Tax:         fragment.Tax,
		Fee:         fragment.Fee,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "totals calculation failed", "checkout_id", base.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	next := *base
	next.Currency = currency
	next.LineItems = lineItems
	next.Buyer = d.buyer
	next.Payment = pay
	next.Fulfillment = resolved.Fulfillment
	next.Discounts = applied.Discounts
	next.Totals = totals
	next.Messages = messages
	next.Extra = d.extra
	next.Status = evaluateStatus(messages, resolved.Ready)
	next.ContinueURL = ""
	s.setContinueURL(&next)

	if taxErr != nil {
		return &next, fmt.Errorf("%w: %v", errTaxUnavailable, taxErr)
	}
	return &next, nil
}

// resolveLineItems prices requested line items from the catalog. Request ids
// are kept; missing ones get the next free li_<n>.
func (s *CheckoutServiceImpl) resolveLineItems(ctx context.Context, existing []domain.LineItem, reqs []LineItemRequest) ([]domain.LineItem, error) {
	used := make(map[string]bool, len(reqs)+len(existing))
	for i, r := range reqs {
		if r.ID == "" {
			continue
		}
		if used[r.ID] {
			return nil, invalid(fmt.Sprintf("$.line_items[%d].id", i), "duplicate line item id %q", r.ID)
		}
		used[r.ID] = true
	}
	for i, r := range reqs {
		if r.ParentID != "" && (!used[r.ParentID] || r.ParentID == r.ID) {
			return nil, invalid(fmt.Sprintf("$.line_items[%d].parent_id", i), "unknown parent line item %q", r.ParentID)
		}
	}

	items := make([]domain.Item, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, r := range reqs {
		g.Go(func() error {
			item, err := s.catalog.GetProduct(gctx, r.Item.ID)
			if errors.Is(err, catalog.ErrProductNotFound) {
				return invalid(fmt.Sprintf("$.line_items[%d].item.id", i), "unknown item %q", r.Item.ID)
			}
			if err != nil {
				return fmt.Errorf("load product %s: %w", r.Item.ID, err)
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// ids of removed line items are not handed out again
	next := 1
	for _, li := range existing {
		if n, ok := lineItemNumber(li.ID); ok && n >= next {
			next = n + 1
		}
	}
	for id := range used {
		if n, ok := lineItemNumber(id); ok && n >= next {
			next = n + 1
		}
	}

	out := make([]domain.LineItem, len(reqs))
	for i, r := range reqs {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("li_%d", next)
			next++
		}
		out[i] = domain.LineItem{
			ID:       id,
			Item:     items[i],
			Quantity: r.Quantity,
			ParentID: r.ParentID,
		}
	}
	return out, nil
}

func lineItemNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "li_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil && n > 0
}

// paymentSection advertises the configured handlers and stores instruments
// without their credentials.
func (s *CheckoutServiceImpl) paymentSection(req *PaymentRequest) (domain.Payment, error) {
	pay := domain.Payment{Handlers: s.handlers()}
	if req == nil {
		return pay, nil
	}
	for i, in := range req.Instruments {
		if in.ID == "" {
			return domain.Payment{}, invalid(fmt.Sprintf("$.payment.instruments[%d].id", i), "id is required")
		}
		if !s.hasHandler(in.HandlerID) {
			return domain.Payment{}, invalid(fmt.Sprintf("$.payment.instruments[%d].handler_id", i), "unknown payment handler %q", in.HandlerID)
		}
		in.Credential = nil
		pay.Instruments = append(pay.Instruments, in)
	}
	pay.SelectedInstrumentID = req.SelectedInstrumentID
	if pay.SelectedInstrumentID != "" {
		if _, ok := pay.SelectedInstrument(); !ok {
			return domain.Payment{}, invalid("$.payment.selected_instrument_id", "unknown instrument %q", pay.SelectedInstrumentID)
		}
	}
	return pay, nil
}

func (s *CheckoutServiceImpl) handlers() []domain.PaymentHandlerDescriptor {
	out := make([]domain.PaymentHandlerDescriptor, len(s.cfg.PaymentHandlers))
	copy(out, s.cfg.PaymentHandlers)
	return out
}

func (s *CheckoutServiceImpl) hasHandler(id string) bool {
	for _, h := range s.cfg.PaymentHandlers {
		if h.ID == id {
			return true
		}
	}
	return false
}

func (s *CheckoutServiceImpl) signInMessage(buyer *domain.Buyer) (domain.Message, bool) {
	if buyer == nil || buyer.Email == "" {
		return domain.Message{}, false
	}
	for _, email := range s.cfg.SignInEmails {
		if strings.EqualFold(strings.TrimSpace(email), strings.TrimSpace(buyer.Email)) {
			return domain.NewError(
				"requires_sign_in",
				"$.buyer.email",
				"This account requires the buyer to sign in before checking out.",
				domain.SeverityRequiresBuyerInput,
			), true
		}
	}
	return domain.Message{}, false
}

func (s *CheckoutServiceImpl) finalSaleMessages(lineItems []domain.LineItem) []domain.Message {
	var out []domain.Message
	for _, li := range lineItems {
		if !slices.Contains(s.cfg.FinalSaleItems, li.Item.ID) {
			continue
		}
		out = append(out, domain.NewError(
			"final_sale",
			fmt.Sprintf("$.line_items[?(@.id=='%s')]", li.ID),
			fmt.Sprintf("%s is a final sale item and cannot be returned. The buyer must confirm before ordering.", li.Item.Title),
			domain.SeverityRequiresBuyerReview,
		))
	}
	return out
}

func (s *CheckoutServiceImpl) computeTax(ctx context.Context, lineItems []domain.LineItem, dest *domain.PostalAddress) (pricing.Fragment, error) {
	if s.tax == nil {
		return pricing.Fragment{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TaxTimeout)
	defer cancel()
	return s.tax.Compute(ctx, lineItems, dest)
}

func taxUnavailable() domain.Message {
	return domain.NewError(
		"tax_unavailable",
		"$.totals",
		"Tax could not be calculated right now. Please try again.",
		domain.SeverityRecoverable,
	)
}

// setContinueURL keeps continue_url present exactly while the checkout is escalated.
func (s *CheckoutServiceImpl) setContinueURL(c *domain.Checkout) {
	if c.Status != domain.CheckoutStatusRequiresEscalation {
		c.ContinueURL = ""
		return
	}
	if c.ContinueURL == "" {
		c.ContinueURL = strings.TrimRight(s.cfg.ContinueURLBase, "/") + "/" + c.ID
	}
}

func lineItemPath(id string) string {
	return fmt.Sprintf("$.line_items[?(@.id=='%s')]", id)
}
