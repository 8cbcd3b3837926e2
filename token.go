package memocache

import "sync"

// Token is a one-shot invalidation trigger.
//
// A token attached to entry options at write time evicts the entry when
// cancelled. Coordinator creates one per computation and transfers it into
// the resolved entry, so cancelling it later expires the cached value.
//
// Please use NewToken to create instance.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	callbacks []func()
}

// NewToken creates an armed invalidation token.
func NewToken() *Token {
	return &Token{}
}

// Cancel triggers invalidation of all associated entries.
//
// Subsequent calls have no effect.
func (t *Token) Cancel() {
	t.mu.Lock()

	if t.cancelled {
		t.mu.Unlock()

		return
	}

	t.cancelled = true
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Cancelled reports whether the token was cancelled.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cancelled
}

// OnCancel registers a callback to run on cancellation.
//
// Store backends use it to evict entries the token is attached to.
// If the token is already cancelled, the callback runs immediately.
func (t *Token) OnCancel(fn func()) {
	t.mu.Lock()

	if t.cancelled {
		t.mu.Unlock()
		fn()

		return
	}

	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}
