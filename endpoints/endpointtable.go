package endpoints

// Table holds the two parallel connection-id-keyed maps of spec.md §2:
// Receiver endpoints (socket -> parser -> publication) and Sender
// endpoints (publication -> socket). Grounded on the teacher's
// ConnectionManager dual map (connections / userConns), but keyed
// identically on both sides here since both endpoints share a
// connection-id rather than one being user-keyed.
type Table struct {
	receivers map[uint64]*Receiver
	senders   map[uint64]*Sender
}

// NewTable constructs an empty EndpointTable.
func NewTable() *Table {
	return &Table{
		receivers: make(map[uint64]*Receiver),
		senders:   make(map[uint64]*Sender),
	}
}

// Register inserts both endpoints for a connection. spec.md §3's
// invariant ("every connection_id appears in at most one Receiver and
// at most one Sender endpoint") is enforced by always registering the
// pair together and removing the pair together.
func (t *Table) Register(connectionID uint64, recv *Receiver, send *Sender) {
	t.receivers[connectionID] = recv
	t.senders[connectionID] = send
}

// Remove deletes both endpoints for a connection.
func (t *Table) Remove(connectionID uint64) {
	delete(t.receivers, connectionID)
	delete(t.senders, connectionID)
}

// Receiver looks up a connection's Receiver endpoint.
func (t *Table) Receiver(connectionID uint64) (*Receiver, bool) {
	r, ok := t.receivers[connectionID]
	return r, ok
}

// Sender looks up a connection's Sender endpoint.
func (t *Table) Sender(connectionID uint64) (*Sender, bool) {
	s, ok := t.senders[connectionID]
	return s, ok
}

// ReceiverCount and SenderCount back spec.md §8's property: "the size
// of the Receiver endpoint table equals the size of the Sender
// endpoint table equals the number of live Connections."
func (t *Table) ReceiverCount() int { return len(t.receivers) }
func (t *Table) SenderCount() int   { return len(t.senders) }

// PollAll runs Poll on every Receiver in turn, accumulating bytes read
// until either the cumulative count reaches limit or a poll returns 0
// bytes (spec.md §4.1 step 4 / §8 boundary). deadConnections collects
// connection ids whose Receiver hit EOF/error this pass, for the caller
// to tear down.
func (t *Table) PollAll(limit int) (totalBytes int, backpressuredConns []uint64, deadConnections []uint64) {
	for id, recv := range t.receivers {
		for {
			n, bp, err := recv.Poll()
			totalBytes += n
			if bp {
				backpressuredConns = append(backpressuredConns, id)
			}
			if err != nil {
				deadConnections = append(deadConnections, id)
				break
			}
			if n == 0 || totalBytes >= limit {
				break
			}
		}
		if totalBytes >= limit {
			break
		}
	}
	return totalBytes, backpressuredConns, deadConnections
}

// FlushSlowSenders retries buffered writes on every Sender that
// previously registered slow-consumer interest (spec.md §4.1 step 2 /
// §4.2).
func (t *Table) FlushSlowSenders() (stillSlow []uint64, errs map[uint64]error) {
	for id, s := range t.senders {
		if !s.IsSlow() {
			continue
		}
		pending, err := s.FlushPending()
		if err != nil {
			if errs == nil {
				errs = make(map[uint64]error)
			}
			errs[id] = err
			continue
		}
		if pending {
			stillSlow = append(stillSlow, id)
		}
	}
	return stillSlow, errs
}
