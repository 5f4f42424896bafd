package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilink3gw/pubsublog"
)

func TestNew_RejectsNonPowerOfTwo(t *testing.T) {
	_, err := New(3)
	assert.ErrorIs(t, err, ErrCapacityNotPowerOfTwo)
}

func TestOffer_AssignsMonotonicPositions(t *testing.T) {
	l, err := New(4)
	require.NoError(t, err)

	res, pos0, err := l.Offer([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, pubsublog.Published, res)
	assert.Equal(t, int64(0), pos0)

	_, pos1, err := l.Offer([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos1)
}

func TestOffer_BackPressuredWhenFull(t *testing.T) {
	l, err := New(2)
	require.NoError(t, err)

	_, _, err = l.Offer([]byte("a"))
	require.NoError(t, err)
	_, _, err = l.Offer([]byte("b"))
	require.NoError(t, err)

	res, _, err := l.Offer([]byte("c"))
	require.NoError(t, err)
	assert.Equal(t, pubsublog.BackPressured, res)
}

func TestSubscription_PollDeliversInOrderAndFreesCapacity(t *testing.T) {
	l, err := New(2)
	require.NoError(t, err)
	sub := l.NewSubscription()

	_, _, err = l.Offer([]byte("a"))
	require.NoError(t, err)
	_, _, err = l.Offer([]byte("b"))
	require.NoError(t, err)

	res, _, err := l.Offer([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, pubsublog.BackPressured, res)

	var got [][]byte
	n, err := sub.Poll(10, func(position int64, body []byte) {
		got = append(got, body)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, got)
	assert.Equal(t, int64(2), sub.Position())

	res, pos, err := l.Offer([]byte("c"))
	require.NoError(t, err)
	assert.Equal(t, pubsublog.Published, res)
	assert.Equal(t, int64(2), pos)
}

func TestSubscription_PollRespectsLimit(t *testing.T) {
	l, err := New(4)
	require.NoError(t, err)
	sub := l.NewSubscription()

	for _, b := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		_, _, err := l.Offer(b)
		require.NoError(t, err)
	}

	var got [][]byte
	n, err := sub.Poll(2, func(_ int64, body []byte) { got = append(got, body) })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), sub.Position())
}
