// Package idstrategy defines the session-id allocator collaborator of
// SPEC_FULL.md §10.2 / spec.md §3 ("session-id assigned by the
// id-strategy on logon") and §4.1 ("request a session_id from the id
// allocator; if DUPLICATE, publish DUPLICATE_SESSION").
package idstrategy

import (
	"context"
	"errors"
)

// ErrDuplicateSession is returned by Allocate when the composite key
// already has a session id, per spec.md §4.1 "if DUPLICATE".
var ErrDuplicateSession = errors.New("idstrategy: composite key already has a session id")

// CompositeKey identifies a FIX logical session, per spec.md §3/GLOSSARY.
type CompositeKey struct {
	SenderComp     string
	SenderSub      string
	SenderLocation string
	TargetComp     string
}

// Allocator is the id-strategy collaborator: given a composite key,
// assign (or retrieve) its 64-bit session id.
type Allocator interface {
	// Allocate assigns a fresh session id for key, or returns
	// ErrDuplicateSession if key already has one.
	Allocate(ctx context.Context, key CompositeKey) (sessionID uint64, err error)

	// Lookup returns the existing session id for key, if any.
	Lookup(ctx context.Context, key CompositeKey) (sessionID uint64, found bool, err error)
}
