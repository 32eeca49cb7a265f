package cache

import (
	"context"
	"errors"
)

// IdempotencyStore remembers the response to a request carrying an
// Idempotency-Key so that a retry gets the same answer.
type IdempotencyStore interface {
	Get(ctx context.Context, scope, key string) (*Entry, error)
	// Put stores e unless an entry already exists; it reports whether e was stored.
	Put(ctx context.Context, scope, key string, e *Entry) (bool, error)
}

// Entry is a stored response. RequestHash identifies the body that produced it.
type Entry struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

var ErrCacheMiss = errors.New("cache miss")
