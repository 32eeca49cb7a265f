package inventory

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// ReservationTTL is how long a reservation is valid before auto-expiring
	ReservationTTL = 5 * time.Minute

	// CleanupInterval is how often the background cleanup runs
	CleanupInterval = 30 * time.Second
)

// MemoryStore implements Store with in-memory storage
type MemoryStore struct {
	mu           sync.RWMutex
	stocks       map[string]*StockInfo   // itemID -> stock info
	reservations map[string]*Reservation // reservationID -> reservation
	now          func() time.Time

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// NewMemoryStore creates a new in-memory inventory store
func NewMemoryStore() *MemoryStore {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	s := &MemoryStore{
		stocks:       make(map[string]*StockInfo),
		reservations: make(map[string]*Reservation),
		now:          now,
		stopCleanup:  make(chan struct{}),
	}

	// Start background cleanup goroutine
	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

// cleanupLoop periodically checks and expires old reservations
func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.expireReservations()
		case <-s.stopCleanup:
			return
		}
	}
}

// expireReservations finds and expires all reservations past their TTL
func (s *MemoryStore) expireReservations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, reservation := range s.reservations {
		if reservation.Status == StatusReserved && reservation.IsExpired(now) {
			reservation.Status = StatusExpired
			for _, item := range reservation.Items {
				s.stocks[item.ItemID].Reserved -= item.Quantity
			}
		}
	}
}

// GetStock returns stock information for the given item IDs
func (s *MemoryStore) GetStock(itemIDs []string) ([]StockInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]StockInfo, 0, len(itemIDs))
	for _, id := range itemIDs {
		if stock, exists := s.stocks[id]; exists {
			result = append(result, *stock)
		}
	}
	return result, nil
}

// Reserve creates a new reservation for checkout completion
func (s *MemoryStore) Reserve(checkoutID string, items []ReservationItem) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate all items have sufficient stock
	needed := make(map[string]int, len(items))
	for _, item := range items {
		needed[item.ItemID] += item.Quantity
	}
	for id, qty := range needed {
		stock, exists := s.stocks[id]
		if !exists {
			return nil, ErrItemNotFound
		}
		if !stock.Backorderable() && stock.Available() < qty {
			return nil, ErrInsufficientStock
		}
	}

	// Second pass: reserve stock for all items
	for _, item := range items {
		s.stocks[item.ItemID].Reserved += item.Quantity
	}

	now := s.now()
	reservation := &Reservation{
		ID:         uuid.New().String(),
		CheckoutID: checkoutID,
		Items:      items,
		Status:     StatusReserved,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ReservationTTL),
	}

	s.reservations[reservation.ID] = reservation
	return reservation, nil
}

// Confirm finalizes a reservation after the order is created
func (s *MemoryStore) Confirm(reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, exists := s.reservations[reservationID]
	if !exists {
		return ErrReservationNotFound
	}

	if reservation.Status != StatusReserved {
		return ErrInvalidStatus
	}

	if reservation.IsExpired(s.now()) {
		return ErrReservationExpired
	}

	// Deduct from total stock (reserved already holds the quantity)
	for _, item := range reservation.Items {
		stock := s.stocks[item.ItemID]
		stock.Total -= item.Quantity
		stock.Reserved -= item.Quantity
	}

	reservation.Status = StatusConfirmed
	return nil
}

// Release cancels a reservation when completion fails
func (s *MemoryStore) Release(reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, exists := s.reservations[reservationID]
	if !exists {
		return ErrReservationNotFound
	}

	if reservation.Status != StatusReserved {
		return ErrInvalidStatus
	}

	// Return reserved stock to available pool
	for _, item := range reservation.Items {
		s.stocks[item.ItemID].Reserved -= item.Quantity
	}

	reservation.Status = StatusReleased
	return nil
}

// SetStock sets the stock level for an item. A non-nil restockOn marks it backorderable.
func (s *MemoryStore) SetStock(itemID string, quantity int, restockOn *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stocks[itemID] = &StockInfo{
		ItemID:    itemID,
		Total:     quantity,
		Reserved:  0,
		RestockOn: restockOn,
	}
	return nil
}

// RestockDate returns the restock date of a backordered item that is out of stock
func (s *MemoryStore) RestockDate(itemID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock, exists := s.stocks[itemID]
	if !exists || stock.RestockOn == nil || stock.Available() > 0 {
		return time.Time{}, false
	}
	return *stock.RestockOn, true
}

// Close stops the background cleanup and waits for it to finish
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}
