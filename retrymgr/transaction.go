// Package retrymgr implements the Continuation/Transaction model of
// spec.md §4.4: ordered, cursor-resumable multi-step operations that
// retry without losing progress across back-pressure.
//
// No teacher analog exists for this exact shape; it is modeled after the
// non-blocking-enqueue idiom in the teacher's server/connection.go
// Send() (select with a default case instead of blocking), generalized
// from "try to enqueue, else report failure" to "try the next step,
// else remember where we were."
package retrymgr

import "fmt"

// Result is the outcome of a single Continuation, per spec.md §3.
type Result int

const (
	Complete Result = iota
	BackPressured
	Abort
)

// Continuation is one resumable step of a Transaction. All
// side-effecting Continuations must be idempotent or replay-safe, per
// spec.md §4.4, because BackPressured causes a retry from the same
// step next pass.
type Continuation func() (Result, error)

// Transaction is an ordered list of Continuations plus an internal
// cursor (spec.md §3/§4.4/§9).
type Transaction struct {
	CorrelationID int64
	steps         []Continuation
	cursor        int
}

// NewTransaction builds a Transaction from an ordered step list.
func NewTransaction(correlationID int64, steps ...Continuation) *Transaction {
	return &Transaction{CorrelationID: correlationID, steps: steps}
}

// Attempt invokes at most one Continuation: the one at the current
// cursor. On Complete it advances the cursor by exactly one and
// returns, never falling through into the next step in the same call
// — spec.md §4.1 step 1 requires attempt_steps() to "advance each
// in-flight Transaction by at most one Continuation" per pass, so a
// Transaction of n steps with zero back-pressure takes exactly n
// passes to finish. On BackPressured it leaves the cursor untouched. A
// step returning an error is propagated as fatal, matching spec.md
// §4.4 "on any exception propagates as fatal".
//
// done reports whether every step has completed as of this call.
func (t *Transaction) Attempt() (result Result, done bool, err error) {
	if t.cursor >= len(t.steps) {
		return Complete, true, nil
	}

	r, stepErr := t.steps[t.cursor]()
	if stepErr != nil {
		return Abort, false, fmt.Errorf("retrymgr: transaction %d step %d: %w", t.CorrelationID, t.cursor, stepErr)
	}
	switch r {
	case Complete:
		t.cursor++
		return Complete, t.cursor >= len(t.steps), nil
	case BackPressured:
		return BackPressured, false, nil
	default:
		return Abort, false, fmt.Errorf("retrymgr: transaction %d step %d returned unknown result %d", t.CorrelationID, t.cursor, r)
	}
}

// Cursor reports the index of the next Continuation to run, for tests
// and observability.
func (t *Transaction) Cursor() int { return t.cursor }
