package protocol

import "encoding/binary"

// Scanner incrementally frames bytes fed to it across non-blocking
// socket reads, where a single poll() may return zero, one, or many
// partial frames. This is the non-blocking counterpart to Unpack: the
// teacher's Unpack (and bufio.Reader generally) blocks until enough
// bytes arrive, which the Framer's single-threaded cooperative loop
// (spec.md §5 "every I/O primitive is non-blocking") cannot do.
type Scanner struct {
	buf []byte
}

// Feed appends newly-read bytes to the internal buffer.
func (s *Scanner) Feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// Next extracts one complete Frame from the buffered bytes, if
// available. ok is false when fewer than a full frame's bytes have
// accumulated; callers should stop calling Next until more bytes are
// fed. err is non-nil only for a malformed header/oversized body, which
// is a protocol violation the caller should disconnect on.
func (s *Scanner) Next() (frame *Frame, ok bool, err error) {
	if len(s.buf) < HeaderLength {
		return nil, false, nil
	}

	bodyLen := binary.BigEndian.Uint32(s.buf[0:4])
	if bodyLen > MaxBodyLength {
		return nil, false, ErrBodyTooLarge
	}

	total := HeaderLength + int(bodyLen)
	if len(s.buf) < total {
		return nil, false, nil
	}

	f := &Frame{
		Version:    binary.BigEndian.Uint16(s.buf[4:6]),
		BlockLen:   binary.BigEndian.Uint16(s.buf[6:8]),
		TemplateID: binary.BigEndian.Uint16(s.buf[8:10]),
	}
	if bodyLen > 0 {
		f.Body = make([]byte, bodyLen)
		copy(f.Body, s.buf[HeaderLength:total])
	}

	// Slide the consumed frame out. A ring buffer would avoid this copy
	// under sustained load; left as-is since a single connection rarely
	// has more than one frame in flight at once in this protocol.
	remaining := len(s.buf) - total
	copy(s.buf, s.buf[total:])
	s.buf = s.buf[:remaining]

	return f, true, nil
}

// Buffered reports how many bytes are queued but not yet framed.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}
