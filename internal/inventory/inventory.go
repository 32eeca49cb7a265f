package inventory

import (
	"errors"
	"time"
)

// Common errors returned by the store
var (
	ErrItemNotFound        = errors.New("item not found in inventory")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation has expired")
	ErrInvalidStatus       = errors.New("invalid reservation status for this operation")
)

// ReservationStatus represents the state of a stock reservation
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusReleased  ReservationStatus = "released"
	StatusExpired   ReservationStatus = "expired"
)

// ReservationItem is the quantity of one catalog item held for a checkout
type ReservationItem struct {
	ItemID   string
	Quantity int
}

// Reservation holds stock while a checkout completes
type Reservation struct {
	ID         string
	CheckoutID string
	Items      []ReservationItem
	Status     ReservationStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// IsExpired checks if the reservation has expired at the given time
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// StockInfo contains stock information for an item.
// Items with RestockOn set are backorderable and never run out.
type StockInfo struct {
	ItemID    string
	Total     int
	Reserved  int
	RestockOn *time.Time
}

// Available returns the available stock (total - reserved)
func (s StockInfo) Available() int {
	return s.Total - s.Reserved
}

func (s StockInfo) Backorderable() bool {
	return s.RestockOn != nil
}

// Store defines the inventory operations used during checkout
type Store interface {
	// GetStock returns stock information for the given item IDs
	GetStock(itemIDs []string) ([]StockInfo, error)

	// Reserve creates a new reservation, reducing available stock
	Reserve(checkoutID string, items []ReservationItem) (*Reservation, error)

	// Confirm permanently deducts a reserved quantity once the order exists
	Confirm(reservationID string) error

	// Release returns a reserved quantity to the available pool
	Release(reservationID string) error

	// RestockDate reports when a backordered item becomes available
	RestockDate(itemID string) (time.Time, bool)
}
