package memocache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScope_record(t *testing.T) {
	ctx, outer := newScope(context.Background())

	t1 := NewToken()
	t2 := NewToken()

	RecordDependency(ctx, t1)
	RecordDependency(ctx, t2)
	RecordDependency(ctx, t1) // Duplicate is ignored.

	assert.Len(t, outer.Tokens(), 2)
}

func TestScope_record_nested(t *testing.T) {
	ctx, outer := newScope(context.Background())
	innerCtx, inner := newScope(ctx)

	t1 := NewToken()
	t2 := NewToken()

	// Recording in the inner scope reaches every scope up the chain.
	RecordDependency(innerCtx, t1)
	RecordDependency(ctx, t2)

	assert.Equal(t, []*Token{t1}, inner.Tokens())
	assert.Len(t, outer.Tokens(), 2)
}

func TestRecordDependency_noScope(t *testing.T) {
	// Recording without an active scope is a safe no-op.
	RecordDependency(context.Background(), NewToken())
	RecordDependency(context.Background())
}

func TestScope_Tokens_empty(t *testing.T) {
	_, s := newScope(context.Background())

	assert.Empty(t, s.Tokens())
}
