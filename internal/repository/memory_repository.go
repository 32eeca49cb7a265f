package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_ucp/domain"
)

type checkoutRecord struct {
	data      []byte
	version   int64
	status    domain.CheckoutStatus
	expiresAt *time.Time
	updatedAt time.Time
}

// MemoryCheckoutRepository keeps encoded checkouts in a map so callers never share state.
type MemoryCheckoutRepository struct {
	mu        sync.RWMutex
	checkouts map[string]*checkoutRecord
}

func NewMemoryCheckoutRepository() *MemoryCheckoutRepository {
	return &MemoryCheckoutRepository{checkouts: make(map[string]*checkoutRecord)}
}

func (r *MemoryCheckoutRepository) CreateCheckout(_ context.Context, c *domain.Checkout) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal checkout: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checkouts[c.ID]; exists {
		return ErrCheckoutExists
	}
	c.Version = 1
	r.checkouts[c.ID] = &checkoutRecord{data: data, version: 1, status: c.Status, expiresAt: c.ExpiresAt, updatedAt: time.Now()}
	return nil
}

func (r *MemoryCheckoutRepository) GetCheckout(_ context.Context, id string) (*domain.Checkout, error) {
	r.mu.RLock()
	rec, ok := r.checkouts[id]
	if !ok {
		r.mu.RUnlock()
		return nil, ErrCheckoutNotFound
	}
	data, version := rec.data, rec.version
	r.mu.RUnlock()

	var c domain.Checkout
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal checkout: %w", err)
	}
	c.Version = version
	return &c, nil
}

func (r *MemoryCheckoutRepository) SaveCheckout(_ context.Context, c *domain.Checkout, expectedVersion int64) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal checkout: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.checkouts[c.ID]
	if !ok {
		return ErrCheckoutNotFound
	}
	if rec.version != expectedVersion {
		return ErrVersionConflict
	}
	rec.data = data
	rec.version = expectedVersion + 1
	rec.status = c.Status
	rec.expiresAt = c.ExpiresAt
	rec.updatedAt = time.Now()
	c.Version = rec.version
	return nil
}

func (r *MemoryCheckoutRepository) ListExpiredCheckouts(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, rec := range r.checkouts {
		if rec.expiresAt != nil && !now.Before(*rec.expiresAt) && isExpirable(rec.status) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *MemoryCheckoutRepository) ListStuckCheckouts(_ context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, rec := range r.checkouts {
		if rec.status == domain.CheckoutStatusCompleteInProgress && rec.updatedAt.Before(updatedBefore) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type orderRecord struct {
	base        []byte
	version     int64
	checkoutID  string
	events      [][]byte
	adjustments [][]byte
}

// MemoryOrderRepository mirrors the postgres layout: an immutable order body
// plus append-only event and adjustment lists and an outbox.
type MemoryOrderRepository struct {
	mu         sync.RWMutex
	orders     map[string]*orderRecord
	byCheckout map[string]string
	entryIDs   map[string]struct{}
	outbox     []*OutboxEvent
	processed  map[int64]bool
	nextID     int64
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:     make(map[string]*orderRecord),
		byCheckout: make(map[string]string),
		entryIDs:   make(map[string]struct{}),
		processed:  make(map[int64]bool),
	}
}

func (r *MemoryOrderRepository) CreateOrder(_ context.Context, o *domain.Order, event OutboxEvent) error {
	base, err := marshalOrderBody(o)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byCheckout[o.CheckoutID]; exists {
		return ErrDuplicateCheckout
	}
	if _, exists := r.orders[o.ID]; exists {
		return ErrDuplicateCheckout
	}
	r.orders[o.ID] = &orderRecord{base: base, version: 1, checkoutID: o.CheckoutID}
	r.byCheckout[o.CheckoutID] = o.ID
	o.Version = 1
	r.enqueue(event)
	return nil
}

func (r *MemoryOrderRepository) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load(id)
}

func (r *MemoryOrderRepository) GetOrderByCheckoutID(_ context.Context, checkoutID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCheckout[checkoutID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return r.load(id)
}

func (r *MemoryOrderRepository) AppendFulfillmentEvent(_ context.Context, orderID string, expectedVersion int64, ev domain.FulfillmentEvent, event OutboxEvent) error {
	data, err := jsonBody(ev)
	if err != nil {
		return err
	}
	return r.append(orderID, expectedVersion, orderID+"/event:"+ev.ID, event, func(rec *orderRecord) {
		rec.events = append(rec.events, data)
	})
}

func (r *MemoryOrderRepository) AppendAdjustment(_ context.Context, orderID string, expectedVersion int64, adj domain.Adjustment, event OutboxEvent) error {
	data, err := jsonBody(adj)
	if err != nil {
		return err
	}
	return r.append(orderID, expectedVersion, orderID+"/adjustment:"+adj.ID, event, func(rec *orderRecord) {
		rec.adjustments = append(rec.adjustments, data)
	})
}

func (r *MemoryOrderRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*OutboxEvent
	for _, ev := range r.outbox {
		if r.processed[ev.ID] {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryOrderRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id <= 0 || id > r.nextID {
		return ErrOutboxEventNotFound
	}
	r.processed[id] = true
	return nil
}

func (r *MemoryOrderRepository) append(orderID string, expectedVersion int64, entryKey string, event OutboxEvent, apply func(*orderRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if rec.version != expectedVersion {
		return ErrVersionConflict
	}
	if _, dup := r.entryIDs[entryKey]; dup {
		return ErrDuplicateEntry
	}
	r.entryIDs[entryKey] = struct{}{}
	apply(rec)
	rec.version++
	r.enqueue(event)
	return nil
}

// enqueue must be called with the write lock held
func (r *MemoryOrderRepository) enqueue(event OutboxEvent) {
	if event.EventType == "" {
		return
	}
	r.nextID++
	event.ID = r.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.outbox = append(r.outbox, &event)
}

// load must be called with the read lock held
func (r *MemoryOrderRepository) load(id string) (*domain.Order, error) {
	rec, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return assembleOrder(rec.base, rec.version, rec.events, rec.adjustments)
}

// marshalOrderBody encodes the immutable part of an order.
func marshalOrderBody(o *domain.Order) ([]byte, error) {
	body := *o
	body.Fulfillment.Events = nil
	body.Adjustments = nil
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	return data, nil
}

func assembleOrder(base []byte, version int64, events, adjustments [][]byte) (*domain.Order, error) {
	var o domain.Order
	if err := json.Unmarshal(base, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	o.Version = version
	o.Fulfillment.Events = make([]domain.FulfillmentEvent, 0, len(events))
	for _, data := range events {
		var ev domain.FulfillmentEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal fulfillment event: %w", err)
		}
		o.Fulfillment.Events = append(o.Fulfillment.Events, ev)
	}
	o.Adjustments = make([]domain.Adjustment, 0, len(adjustments))
	for _, data := range adjustments {
		var adj domain.Adjustment
		if err := json.Unmarshal(data, &adj); err != nil {
			return nil, fmt.Errorf("unmarshal adjustment: %w", err)
		}
		o.Adjustments = append(o.Adjustments, adj)
	}
	return &o, nil
}
