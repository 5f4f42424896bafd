package retrymgr

// Manager is the RetryManager of spec.md §4.4: a FIFO queue of in-flight
// Transactions keyed by correlation_id, retried one step per pass.
type Manager struct {
	order   []int64
	pending map[int64]*Transaction
}

// NewManager constructs an empty RetryManager.
func NewManager() *Manager {
	return &Manager{pending: make(map[int64]*Transaction)}
}

// Retry implements spec.md §4.4's dedup contract: if a Transaction is
// already pending for correlationID, it returns (Abort, true)
// (preventing duplicate issuance); otherwise it returns
// (Complete, false) so the caller may start a fresh attempt via
// FirstAttempt.
func (m *Manager) Retry(correlationID int64) (Result, bool) {
	if _, exists := m.pending[correlationID]; exists {
		return Abort, true
	}
	return Complete, false
}

// FirstAttempt enqueues a brand-new Transaction and makes its first
// attempt immediately, matching the Framer work-loop's "advance each
// in-flight Transaction by at most one Continuation" cadence for
// newly-issued work.
func (m *Manager) FirstAttempt(txn *Transaction) (Result, error) {
	result, done, err := txn.Attempt()
	if err != nil {
		return Abort, err
	}
	if !done {
		m.enqueue(txn)
	}
	return result, nil
}

func (m *Manager) enqueue(txn *Transaction) {
	if _, exists := m.pending[txn.CorrelationID]; exists {
		return
	}
	m.pending[txn.CorrelationID] = txn
	m.order = append(m.order, txn.CorrelationID)
}

// AttemptSteps advances every in-flight Transaction by at most one
// Continuation (spec.md §4.1 step 1), returning the count of steps that
// completed (work done, for the Framer's DoWork tally) and the
// correlation IDs of Transactions that finished or errored out this
// pass (removed from the queue either way).
func (m *Manager) AttemptSteps() (workDone int, finished []int64, errs map[int64]error) {
	if len(m.order) == 0 {
		return 0, nil, nil
	}

	next := m.order[:0]
	errs = make(map[int64]error)
	for _, id := range m.order {
		txn, ok := m.pending[id]
		if !ok {
			continue
		}
		cursorBefore := txn.Cursor()
		_, done, err := txn.Attempt()
		progressed := txn.Cursor() - cursorBefore
		if progressed > 0 {
			workDone += progressed
		}

		if err != nil {
			delete(m.pending, id)
			errs[id] = err
			finished = append(finished, id)
			continue
		}
		if done {
			delete(m.pending, id)
			finished = append(finished, id)
			continue
		}
		next = append(next, id)
	}
	m.order = next
	return workDone, finished, errs
}

// Pending reports the number of in-flight Transactions, for tests and
// admin queries.
func (m *Manager) Pending() int { return len(m.pending) }
