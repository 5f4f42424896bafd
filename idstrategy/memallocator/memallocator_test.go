package memallocator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilink3gw/idstrategy"
)

func TestAllocate_AssignsIncrementingIDs(t *testing.T) {
	a := New()
	ctx := context.Background()
	k1 := idstrategy.CompositeKey{SenderComp: "A", TargetComp: "B"}
	k2 := idstrategy.CompositeKey{SenderComp: "C", TargetComp: "D"}

	id1, err := a.Allocate(ctx, k1)
	require.NoError(t, err)
	id2, err := a.Allocate(ctx, k2)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
}

func TestAllocate_DuplicateKeyRejected(t *testing.T) {
	a := New()
	ctx := context.Background()
	key := idstrategy.CompositeKey{SenderComp: "A", TargetComp: "B"}

	_, err := a.Allocate(ctx, key)
	require.NoError(t, err)

	_, err = a.Allocate(ctx, key)
	assert.ErrorIs(t, err, idstrategy.ErrDuplicateSession)
}

func TestLookup_ReturnsAllocatedID(t *testing.T) {
	a := New()
	ctx := context.Background()
	key := idstrategy.CompositeKey{SenderComp: "A", TargetComp: "B"}

	id, err := a.Allocate(ctx, key)
	require.NoError(t, err)

	found, ok, err := a.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)
}

func TestLookup_UnknownKeyNotFound(t *testing.T) {
	a := New()
	_, ok, err := a.Lookup(context.Background(), idstrategy.CompositeKey{SenderComp: "nope"})
	require.NoError(t, err)
	assert.False(t, ok)
}
