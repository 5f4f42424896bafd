// Package endpoints implements the Receiver/Sender socket bridging of
// spec.md §4.2 and the EndpointTable of spec.md §2/§3: two parallel maps
// keyed by connection-id, read in a non-blocking poll loop by the
// Framer.
//
// Grounded on the teacher's server/connection.go read/write-loop split
// (readLoop/writeLoop over a buffered writeChan), generalized from
// goroutine-per-connection blocking I/O to single-worker non-blocking
// poll() calls, per spec.md §5's "no operation inside the core blocks."
package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net"

	"ilink3gw/protocol"
)

// PublishResult mirrors the BACK_PRESSURED sentinel spec.md §6
// describes for every publication call.
type PublishResult int

const (
	Published PublishResult = iota
	PublishBackPressured
)

// Publication is the inbound stream seam a Receiver publishes framed
// payloads to (spec.md §6 "Inbound publication stream").
type Publication interface {
	Offer(connectionID uint64, frame *protocol.Frame) (PublishResult, int64, error)
}

// ErrConnectionClosed is returned by poll() once the underlying socket
// has reached EOF or errored.
var ErrConnectionClosed = errors.New("endpoints: connection closed")

// Receiver owns one socket's inbound side: read available bytes, frame
// them, publish each frame. One per Connection, per spec.md §3
// invariant "every connection_id appears in at most one Receiver
// endpoint."
type Receiver struct {
	ConnectionID uint64
	conn         net.Conn
	scanner      protocol.Scanner
	pub          Publication
	readBuf      []byte
}

// NewReceiver constructs a Receiver for an already-configured,
// non-blocking-capable socket.
func NewReceiver(connectionID uint64, conn net.Conn, pub Publication, readBufSize int) *Receiver {
	if readBufSize <= 0 {
		readBufSize = 64 * 1024
	}
	return &Receiver{
		ConnectionID: connectionID,
		conn:         conn,
		pub:          pub,
		readBuf:      make([]byte, readBufSize),
	}
}

// Poll performs one non-blocking read attempt and publishes every
// complete frame the read produced. It returns the number of bytes
// actually read (0 means "nothing available right now" to the caller's
// poll_end_points loop, per spec.md §4.1 step 4 / §8 boundary: "returns
// exactly when cumulative bytes >= inbound_bytes_received_limit OR when
// a poll returns 0 bytes").
//
// A BACK_PRESSURED publish is reported back to the caller (via
// backpressured) rather than retried here; the Framer is responsible
// for retrying through the RetryManager per spec.md §4.2.
func (r *Receiver) Poll() (bytesRead int, backpressured bool, err error) {
	n, readErr := r.conn.Read(r.readBuf)
	if n > 0 {
		r.scanner.Feed(r.readBuf[:n])
	}
	if readErr != nil {
		if errors.Is(readErr, io.EOF) {
			return n, false, ErrConnectionClosed
		}
		if isWouldBlock(readErr) {
			return n, false, nil
		}
		return n, false, fmt.Errorf("endpoints: receiver %d read: %w", r.ConnectionID, readErr)
	}

	for {
		frame, ok, frameErr := r.scanner.Next()
		if frameErr != nil {
			return n, false, fmt.Errorf("endpoints: receiver %d frame: %w", r.ConnectionID, frameErr)
		}
		if !ok {
			break
		}
		result, _, pubErr := r.pub.Offer(r.ConnectionID, frame)
		if pubErr != nil {
			return n, false, fmt.Errorf("endpoints: receiver %d publish: %w", r.ConnectionID, pubErr)
		}
		if result == PublishBackPressured {
			return n, true, nil
		}
	}
	return n, false, nil
}

func isWouldBlock(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Sender owns one socket's outbound side: accepts byte-slice writes
// from the outbound dispatch, buffering partial writes
// across poll passes so a single slow socket never blocks the worker.
type Sender struct {
	ConnectionID uint64
	conn         net.Conn
	pending      []byte
	slow         bool // registered with the slow-consumer fan-out path
}

// NewSender constructs a Sender for an already-configured socket.
func NewSender(connectionID uint64, conn net.Conn) *Sender {
	return &Sender{ConnectionID: connectionID, conn: conn}
}

// Write enqueues bytes for this connection and attempts an immediate
// non-blocking flush. Any bytes that don't fit are buffered and
// retried on subsequent FlushPending calls.
func (s *Sender) Write(data []byte) error {
	s.pending = append(s.pending, data...)
	return s.flush()
}

// FlushPending retries writing any previously-buffered bytes. Returns
// true if the sender still has bytes queued (and thus needs slow-path
// interest, per spec.md §4.2).
func (s *Sender) FlushPending() (stillPending bool, err error) {
	if err := s.flush(); err != nil {
		return len(s.pending) > 0, err
	}
	return len(s.pending) > 0, nil
}

func (s *Sender) flush() error {
	for len(s.pending) > 0 {
		n, err := s.conn.Write(s.pending)
		if n > 0 {
			s.pending = s.pending[n:]
		}
		if err != nil {
			if isWouldBlock(err) {
				s.slow = len(s.pending) > 0
				return nil
			}
			return fmt.Errorf("endpoints: sender %d write: %w", s.ConnectionID, err)
		}
	}
	s.slow = false
	return nil
}

// IsSlow reports whether this sender has registered interest with the
// slow-consumer fan-out path (spec.md §4.2).
func (s *Sender) IsSlow() bool { return s.slow }

// BufferedBytes reports how many bytes are still queued to write.
func (s *Sender) BufferedBytes() int { return len(s.pending) }
