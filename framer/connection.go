package framer

import "net"

// Direction is the side of the accept/initiate split spec.md §3 names.
type Direction int

const (
	Acceptor Direction = iota
	Initiator
)

func (d Direction) String() string {
	if d == Initiator {
		return "INITIATOR"
	}
	return "ACCEPTOR"
}

// Connection is the Connection of spec.md §3: identified by a 64-bit
// connection_id minted from a randomized high-entropy seed and
// incremented per accept/connect, holding a non-blocking socket, the
// remote address, direction, creation time, a disconnect deadline, and
// an optional bound GatewaySession.
type Connection struct {
	ID                       uint64
	Conn                     net.Conn
	RemoteAddr               string
	Direction                Direction
	CreatedAtMillis          int64
	DisconnectDeadlineMillis int64

	// SessionID is the bound GatewaySession's SessionID, if any.
	SessionID  uint64
	HasSession bool
}
