package gatewaysessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilink3gw/idstrategy"
)

func TestActiveFromLastReceived(t *testing.T) {
	assert.Equal(t, Connected, ActiveFromLastReceived(-1))
	assert.Equal(t, Active, ActiveFromLastReceived(0))
	assert.Equal(t, Active, ActiveFromLastReceived(42))
}

func TestHandover_MovesSessionBetweenPools(t *testing.T) {
	gatewayPool := NewPool()
	libraryPool := NewPool()

	s := &GatewaySession{
		ConnectionID: 7,
		SessionID:    700,
		Key:          idstrategy.CompositeKey{SenderComp: "A", TargetComp: "B"},
		State:        Connected,
	}
	gatewayPool.Insert(s)

	moved, ok := Handover(gatewayPool, libraryPool, 7, Active)
	require.True(t, ok)
	assert.Equal(t, Active, moved.State)

	_, stillInGateway := gatewayPool.Get(7)
	assert.False(t, stillInGateway)

	inLibrary, ok := libraryPool.Get(7)
	require.True(t, ok)
	assert.Same(t, moved, inLibrary)

	bySessionID, ok := libraryPool.FindBySessionID(700)
	require.True(t, ok)
	assert.Same(t, moved, bySessionID)
}

func TestHandover_MissingSessionReportsFalse(t *testing.T) {
	a, b := NewPool(), NewPool()
	_, ok := Handover(a, b, 99, Active)
	assert.False(t, ok)
	assert.Equal(t, 0, b.Count())
}

func TestPool_SnapshotIsDefensiveCopy(t *testing.T) {
	p := NewPool()
	p.Insert(&GatewaySession{ConnectionID: 1, LastSentSeq: 10})

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	snap[0].LastSentSeq = 999

	live, ok := p.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(10), live.LastSentSeq)
}
