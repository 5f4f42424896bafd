// Package memindex is the in-process seqindex adapter used by tests and
// by deployments that don't need cross-restart persistence (spec.md §2:
// the Framer itself stays dependency-free either way).
package memindex

import "context"

// Index is an in-memory SentIndex + ReceivedIndex.
type Index struct {
	sentByConn    map[uint64]int64
	recvBySession map[string]int64
	indexedUpTo   int64
}

// New constructs an empty in-memory index.
func New() *Index {
	return &Index{
		sentByConn:    make(map[uint64]int64),
		recvBySession: make(map[string]int64),
	}
}

// SetSent records the last-sent sequence number for a connection, and
// advances the indexed position to match (this fake has no lag between
// "sent" and "indexed").
func (i *Index) SetSent(connectionID uint64, seq int64) {
	i.sentByConn[connectionID] = seq
	if seq > i.indexedUpTo {
		i.indexedUpTo = seq
	}
}

// SetReceived records the last-received sequence number for a session.
// Pass -1 (the default for an unseen key) to represent "never logged
// on."
func (i *Index) SetReceived(sessionID string, seq int64) {
	i.recvBySession[sessionID] = seq
}

// LastSent implements seqindex.SentIndex.
func (i *Index) LastSent(_ context.Context, connectionID uint64) (int64, error) {
	seq, ok := i.sentByConn[connectionID]
	if !ok {
		return 0, nil
	}
	return seq, nil
}

// IndexedPosition implements seqindex.SentIndex.
func (i *Index) IndexedPosition(_ context.Context) (int64, error) {
	return i.indexedUpTo, nil
}

// LastReceived implements seqindex.ReceivedIndex. -1 means "never
// logged on," per spec.md §3.
func (i *Index) LastReceived(_ context.Context, sessionID string) (int64, error) {
	seq, ok := i.recvBySession[sessionID]
	if !ok {
		return -1, nil
	}
	return seq, nil
}
