package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	ok, err := l.Delivered(ctx, "c1", "a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.MarkDelivered(ctx, "c1", "a@x.com"))

	ok, _ = l.Delivered(ctx, "c1", "a@x.com")
	assert.True(t, ok)
	ok, _ = l.Delivered(ctx, "c2", "a@x.com")
	assert.False(t, ok, "entries are scoped per newsletter")
}

func TestNop(t *testing.T) {
	var l Ledger = Nop{}
	require.NoError(t, l.MarkDelivered(context.Background(), "c1", "a@x.com"))
	ok, err := l.Delivered(context.Background(), "c1", "a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
}
