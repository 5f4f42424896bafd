// Package seqindex defines the narrow interfaces the Framer depends on
// for the sent/received sequence-number indices spec.md calls out as
// external collaborators ("the persistent sequence-number index" in
// spec.md §1, "the two sequence-number indices" in §4.1, "the
// sent-sequence index" in §4.1/§4.3). The Framer only ever reads from
// and awaits-indexing against these; it never owns their storage,
// matching spec.md §2's "no persistence of its own."
package seqindex

import "context"

// SentIndex tracks, per connection, the last sequence number this
// gateway has sent.
type SentIndex interface {
	LastSent(ctx context.Context, connectionID uint64) (int64, error)

	// IndexedPosition reports how far this index has durably indexed,
	// in the same position space as the outbound publication. Used by
	// AwaitIndexedUpTo.
	IndexedPosition(ctx context.Context) (int64, error)
}

// ReceivedIndex tracks, per session, the last sequence number received.
// A return of (-1, nil) for a never-logged-on session backs
// spec.md §3's invariant: "sessionState == ACTIVE iff the receive
// sequence-number index has a last-known number >= 0 for this
// session_id."
type ReceivedIndex interface {
	LastReceived(ctx context.Context, sessionID string) (int64, error)
}

// AwaitIndexedUpTo is the cooperative-yield helper of spec.md §4.1/§4.3/§9:
// "awaits the sent-sequence index to have indexed up to the header
// position ... cooperatively yielding via the idle strategy." It is the
// only suspension point inside an otherwise non-blocking core (spec.md
// §5).
func AwaitIndexedUpTo(ctx context.Context, idx SentIndex, targetPosition int64, idle IdleStrategy) error {
	for {
		pos, err := idx.IndexedPosition(ctx)
		if err != nil {
			return err
		}
		if pos >= targetPosition {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		idle.Idle()
	}
}

// IdleStrategy is the framerIdleStrategy config hook of spec.md §6,
// invoked whenever DoWork returns zero or while cooperatively yielding
// in AwaitIndexedUpTo.
type IdleStrategy interface {
	Idle()
}
