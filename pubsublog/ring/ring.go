// Package ring is the default pubsublog implementation: a fixed-size,
// single-producer/single-consumer in-process log, honoring spec.md
// §5's "these channels must be lock-free single-producer/single-
// consumer" without reaching for Redis (the real gateway log is
// shared-memory and explicitly out of scope per spec.md §2).
//
// Capacity is a power of two so position-to-slot is a mask, the same
// trick the teacher's protocol length-prefix framing uses for its
// read buffer sizing (server/connection.go).
package ring

import (
	"errors"
	"sync/atomic"

	"ilink3gw/pubsublog"
)

var ErrCapacityNotPowerOfTwo = errors.New("ring: capacity must be a power of two")

type slot struct {
	position int64
	body     []byte
}

// Log is a bounded SPSC ring of byte-slice fragments. One goroutine
// (or, in the cooperative core, one DoWork caller) may call Offer;
// one may call Poll. Mixing producers/consumers across goroutines
// requires external synchronization — the ring itself holds none.
type Log struct {
	mask     int64
	slots    []slot
	head     int64 // next position to be written (producer-owned)
	tail     int64 // next position to be read (consumer-owned)
	consumed atomic.Int64
}

// New constructs a ring with the given capacity, which must be a
// power of two.
func New(capacity int) (*Log, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, ErrCapacityNotPowerOfTwo
	}
	return &Log{
		mask:  int64(capacity - 1),
		slots: make([]slot, capacity),
	}, nil
}

// Offer implements pubsublog.InboundPublication. It never blocks: if
// the consumer hasn't freed the slot the writer wants, it reports
// BackPressured rather than overwriting unread data.
func (l *Log) Offer(body []byte) (pubsublog.PublishResult, int64, error) {
	consumed := l.consumed.Load()
	if l.head-consumed >= int64(len(l.slots)) {
		return pubsublog.BackPressured, l.head, nil
	}
	idx := l.head & l.mask
	l.slots[idx] = slot{position: l.head, body: body}
	pos := l.head
	l.head++
	return pubsublog.Published, pos, nil
}

// NewSubscription returns the single reader over this Log, positioned
// at position 0, the first fragment the Log ever accepted. A Log
// supports exactly one
// subscription at a time per its SPSC contract.
func (l *Log) NewSubscription() *Subscription {
	return &Subscription{log: l, tail: 0}
}

// Subscription is the read cursor of a Log.
type Subscription struct {
	log  *Log
	tail int64
}

// Poll implements pubsublog.OutboundSubscription.
func (s *Subscription) Poll(limit int, handler func(position int64, body []byte)) (int, error) {
	delivered := 0
	for delivered < limit && s.tail < s.log.head {
		idx := s.tail & s.log.mask
		entry := s.log.slots[idx]
		handler(entry.position, entry.body)
		s.tail++
		delivered++
	}
	if c := s.log.consumed.Load(); s.tail > c {
		s.log.consumed.Store(s.tail)
	}
	return delivered, nil
}

// Position implements pubsublog.OutboundSubscription.
func (s *Subscription) Position() int64 {
	return s.tail
}
