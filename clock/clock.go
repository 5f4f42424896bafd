// Package clock provides the two time sources the core depends on.
//
// spec.md §9 is explicit that wall-clock milliseconds and monotonic
// nanoseconds must never be conflated: the former drives deadlines that
// end up in the public log (connect timestamps, disconnect deadlines),
// the latter drives UUID/RequestTimestamp construction. Mixing them would make replayed logs depend on wall-clock
// drift between gateway restarts.
package clock

import "time"

// Clock is the seam the Framer and IlinkSession take time through, so
// tests can substitute a fake without sleeping.
type Clock interface {
	// NowMillis returns wall-clock time in milliseconds since the Unix
	// epoch. Used for deadlines and anything published on the log.
	NowMillis() int64

	// MonotonicNanos returns a monotonically increasing nanosecond
	// counter with no defined epoch. Used only for UUID refinement and
	// RequestTimestamp nanosecond jitter; idle waits are not bounded by it.
	MonotonicNanos() int64
}

// System is the production Clock, backed by time.Now.
type System struct{}

// NowMillis implements Clock.
func (System) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MonotonicNanos implements Clock.
//
// time.Now().UnixNano() is not strictly monotonic across NTP step
// adjustments, but Go's runtime attaches a monotonic reading to every
// time.Time obtained from time.Now; subtracting two such values (as we do
// here, against a fixed start instant) uses that monotonic reading rather
// than the wall clock. See the "Monotonic Clocks" section of the time
// package docs.
func (s System) MonotonicNanos() int64 {
	return time.Since(processStart).Nanoseconds()
}

var processStart = time.Now()

// Fake is a deterministic Clock for tests: both readings are set
// explicitly and only ever change when the test calls Advance.
type Fake struct {
	Millis int64
	Nanos  int64
}

// NowMillis implements Clock.
func (f *Fake) NowMillis() int64 { return f.Millis }

// MonotonicNanos implements Clock.
func (f *Fake) MonotonicNanos() int64 { return f.Nanos }

// Advance moves both readings forward.
func (f *Fake) Advance(millis, nanos int64) {
	f.Millis += millis
	f.Nanos += nanos
}
