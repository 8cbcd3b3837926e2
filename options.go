package memocache

import "time"

// Priority is a hint of entry importance for eviction under resource pressure.
type Priority int

// Eviction priorities, lowest candidates are evicted first.
// PriorityNeverRemove entries are only removed by expiration or invalidation.
const (
	PriorityNormal      Priority = 0
	PriorityLow         Priority = -1
	PriorityHigh        Priority = 1
	PriorityNeverRemove Priority = 2
)

// Options is a composable expiration policy for a single cache entry.
// All configured facets apply together.
//
// Zero value delegates expiration to context ttl (WithTTL) or backend
// configuration.
type Options struct {
	// AbsoluteExpiration is a wall-clock deadline, zero for none.
	AbsoluteExpiration time.Time

	// TimeToLive is a deadline relative to the moment options are captured,
	// zero for none.
	//
	// Coordinator captures options before the value is produced, so that
	// production latency does not extend entry lifetime.
	TimeToLive time.Duration

	// SlidingExpiration extends entry deadline on every read by this window,
	// never beyond AbsoluteExpiration. Zero disables sliding.
	SlidingExpiration time.Duration

	// Priority is an eviction hint.
	Priority Priority

	// Tokens attach one-shot invalidation triggers, cancelling any of them
	// evicts the entry.
	Tokens []*Token
}

// capture translates relative expiration facets into absolute deadlines at a
// fixed moment. Idempotent.
func (o Options) capture(now time.Time) Options {
	if o.TimeToLive != 0 {
		abs := now.Add(o.TimeToLive)
		if o.AbsoluteExpiration.IsZero() || abs.Before(o.AbsoluteExpiration) {
			o.AbsoluteExpiration = abs
		}

		o.TimeToLive = 0
	}

	return o
}

// withToken returns a copy of options with token attached.
func (o Options) withToken(t *Token) Options {
	tokens := make([]*Token, 0, len(o.Tokens)+1)
	tokens = append(tokens, o.Tokens...)
	o.Tokens = append(tokens, t)

	return o
}

// mergeTokens appends tokens of src missing in dst.
func mergeTokens(dst, src []*Token) []*Token {
	for _, t := range src {
		dup := false

		for _, d := range dst {
			if d == t {
				dup = true

				break
			}
		}

		if !dup {
			dst = append(dst, t)
		}
	}

	return dst
}
