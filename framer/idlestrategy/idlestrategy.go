// Package idlestrategy provides the cooperative back-off strategies a
// Framer uses whenever DoWork performed no work, or while cooperatively
// yielding inside seqindex.AwaitIndexedUpTo (spec.md §4.1, §4.3, §9).
package idlestrategy

import (
	"runtime"
	"time"
)

// Strategy matches seqindex.IdleStrategy; defined again here (rather
// than imported) to keep this package free of a dependency on
// seqindex, since idlestrategy is a lower-level building block other
// packages besides seqindex may want to reuse.
type Strategy interface {
	Idle()
}

// Yielding calls runtime.Gosched, the cheapest possible back-off,
// appropriate when idle periods are expected to be microseconds.
type Yielding struct{}

func (Yielding) Idle() { runtime.Gosched() }

// Sleeping parks the calling goroutine for a fixed duration, for
// idle periods expected to be milliseconds or longer.
type Sleeping struct {
	Duration time.Duration
}

func (s Sleeping) Idle() { time.Sleep(s.Duration) }

// Busy does nothing at all — a pure spin. Useful in tests that need
// AwaitIndexedUpTo to re-check as fast as possible.
type Busy struct{}

func (Busy) Idle() {}
