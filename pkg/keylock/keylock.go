package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locks hands out one mutex per key and forgets it once nobody holds or waits for it.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Locks {
	return &Locks{entries: make(map[string]*entry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

// TryLock is Lock without waiting; ok is false when key is already held.
func (l *Locks) TryLock(key string) (unlock func(), ok bool) {
	l.mu.Lock()
	e, exists := l.entries[key]
	if !exists {
		e = &entry{}
		l.entries[key] = e
	}
	if !e.mu.TryLock() {
		if !exists {
			delete(l.entries, key)
		}
		l.mu.Unlock()
		return nil, false
	}
	e.refs++
	l.mu.Unlock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}, true
}

func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
