// Package gatewaysessions implements the GatewaySession data model and
// pool of spec.md §3 ("GatewaySessions — pool of sessions currently
// 'owned' by the gateway") with the move-not-share ownership-transfer
// discipline spec.md §9 mandates: "A GatewaySession lives in exactly
// one owner at a time (gateway pool or a LibraryInfo). Model with
// moves, not shared references; 'handover' is a remove-then-insert."
package gatewaysessions

import "ilink3gw/idstrategy"

// State is the lifecycle of a GatewaySession while owned by the
// gateway (spec.md §3: "transitions through {CONNECTED, ACTIVE}").
type State int

const (
	Connected State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Active:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// GatewaySession pairs a connection with ILink3 logon state, per
// spec.md §3.
type GatewaySession struct {
	ConnectionID         uint64
	SessionID            uint64
	Key                  idstrategy.CompositeKey
	Username             string
	Password             string
	HeartbeatIntervalSec int32
	LastSentSeq          int64
	LastReceivedSeq      int64
	State                State
}

// ActiveFromLastReceived derives the CONNECTED/ACTIVE split from the
// receive-sequence index, per spec.md §3's invariant: "sessionState ==
// ACTIVE iff the receive sequence-number index has a last-known number
// >= 0 for this session_id (i.e., the session has logged in before)."
func ActiveFromLastReceived(lastReceived int64) State {
	if lastReceived >= 0 {
		return Active
	}
	return Connected
}

// Pool is a keyed collection of GatewaySessions under one owner (the
// gateway, or a single library). It is keyed by ConnectionID rather
// than SessionID because a freshly accepted connection has no
// session-id until the id-strategy assigns one on logon (spec.md §3);
// ConnectionID is the one identifier every GatewaySession always has.
// Handover between owners is always a Remove from one Pool followed by
// an Insert into another — never a shared pointer held by both.
type Pool struct {
	sessions map[uint64]*GatewaySession
}

// NewPool constructs an empty pool.
func NewPool() *Pool {
	return &Pool{sessions: make(map[uint64]*GatewaySession)}
}

// Insert adds a session to this pool, keyed by ConnectionID.
func (p *Pool) Insert(s *GatewaySession) {
	p.sessions[s.ConnectionID] = s
}

// Remove takes a session out of this pool by connection id, if
// present. The caller now owns the only reference to it.
func (p *Pool) Remove(connectionID uint64) (*GatewaySession, bool) {
	s, ok := p.sessions[connectionID]
	if ok {
		delete(p.sessions, connectionID)
	}
	return s, ok
}

// Get looks up a session by connection id without removing it.
func (p *Pool) Get(connectionID uint64) (*GatewaySession, bool) {
	s, ok := p.sessions[connectionID]
	return s, ok
}

// FindBySessionID scans for a session by its id-strategy-assigned
// SessionID, the handle a library presents in on_request_session /
// on_release_session (spec.md §4.1). A linear scan is adequate at the
// session counts this gateway is expected to manage per spec.md's size
// budget.
func (p *Pool) FindBySessionID(sessionID uint64) (*GatewaySession, bool) {
	for _, s := range p.sessions {
		if s.SessionID == sessionID {
			return s, true
		}
	}
	return nil, false
}

// Count reports the number of sessions currently in this pool.
func (p *Pool) Count() int {
	return len(p.sessions)
}

// Snapshot returns a defensive copy of every session in this pool, for
// the admin gateway_sessions query (SPEC_FULL.md §11). Callers must
// not mutate the pool through the returned values.
func (p *Pool) Snapshot() []GatewaySession {
	out := make([]GatewaySession, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, *s)
	}
	return out
}

// Handover moves a session from one pool to another atomically from
// the single-threaded worker's point of view, updating its State in
// the process. It reports false if connectionID was not present in
// from.
func Handover(from, to *Pool, connectionID uint64, newState State) (*GatewaySession, bool) {
	s, ok := from.Remove(connectionID)
	if !ok {
		return nil, false
	}
	s.State = newState
	to.Insert(s)
	return s, true
}
