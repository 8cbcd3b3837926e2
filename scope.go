package memocache

import (
	"context"
	"sync"
)

type scopeCtxKey struct{}

// Scope records invalidation tokens of entries touched while producing
// another entry, so that expiring a dependency expires the dependent.
//
// A scope is active for the duration of one producer invocation and travels
// in the context passed to the producer. Scopes nest, recorded dependencies
// propagate to outer scopes.
type Scope struct {
	mu     sync.Mutex
	parent *Scope
	tokens []*Token
	seen   map[*Token]bool
}

// newScope returns a child context with a fresh recording scope.
func newScope(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{parent: scopeFrom(ctx), seen: map[*Token]bool{}}

	return context.WithValue(ctx, scopeCtxKey{}, s), s
}

func scopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeCtxKey{}).(*Scope)

	return s
}

// record links tokens to this scope and all of its parents.
func (s *Scope) record(tokens []*Token) {
	for c := s; c != nil; c = c.parent {
		c.mu.Lock()

		for _, t := range tokens {
			if t == nil || c.seen[t] {
				continue
			}

			c.seen[t] = true
			c.tokens = append(c.tokens, t)
		}

		c.mu.Unlock()
	}
}

// Tokens returns recorded dependency tokens.
func (s *Scope) Tokens() []*Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := make([]*Token, len(s.tokens))
	copy(tokens, s.tokens)

	return tokens
}

// RecordDependency links tokens of a touched entry to the recording scope in
// context, if any.
//
// Store backends of this package call it on every read hit and write, custom
// Store implementations must do the same for dependency propagation to work
// through them.
func RecordDependency(ctx context.Context, tokens ...*Token) {
	if s := scopeFrom(ctx); s != nil {
		s.record(tokens)
	}
}
