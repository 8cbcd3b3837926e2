package memocache

import (
	"fmt"
	"sync"
	"time"
)

// Invalidator is a registry of invalidation tokens for mass cache expiration.
type Invalidator struct {
	sync.Mutex

	// SkipInterval defines minimal duration between two cache invalidations (flood protection).
	SkipInterval time.Duration

	tokens  []*Token
	lastRun time.Time
}

// Add registers tokens for future invalidation.
func (i *Invalidator) Add(tokens ...*Token) {
	i.Lock()
	defer i.Unlock()

	i.tokens = append(i.tokens, tokens...)
}

// Invalidate cancels all registered tokens, evicting their entries.
func (i *Invalidator) Invalidate() error {
	i.Lock()
	defer i.Unlock()

	if len(i.tokens) == 0 {
		return ErrNothingToInvalidate
	}

	if i.SkipInterval == 0 {
		i.SkipInterval = 15 * time.Second
	}

	if time.Since(i.lastRun) < i.SkipInterval {
		return fmt.Errorf("%w at %s, %s did not pass",
			ErrAlreadyInvalidated, i.lastRun.String(), i.SkipInterval.String())
	}

	i.lastRun = time.Now()
	for _, t := range i.tokens {
		t.Cancel()
	}

	return nil
}
