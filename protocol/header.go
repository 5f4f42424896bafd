// Package protocol implements only the fixed header the Framer needs to
// route inbound bytes to a connection (spec.md §6: "The Framer does not
// parse payloads; it reads only the fixed header to route by
// connection_id"). The ILink3 SBE message body itself is decoded by the
// external codec layer and is out of scope here.
//
// Wire layout, big-endian, 10-byte fixed header:
//
//	+----------+----------+----------+----------+-----------------+
//	| BodyLen  | Version  | BlockLen | TemplateID|      Body       |
//	|  4 bytes |  2 bytes |  2 bytes |  2 bytes  |     N bytes     |
//	+----------+----------+----------+----------+-----------------+
//
// This is the same length-prefixed solution to TCP's sticky/half-packet
// problem as the teacher's chat protocol, reshaped to the header fields
// SBE messages actually carry (blockLength + templateId select the
// decoder; the gateway never looks past them).
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

const (
	// HeaderLength is the fixed header size in bytes.
	HeaderLength = 10

	// MaxBodyLength bounds a single frame's body, guarding against a
	// corrupt or hostile length field driving an oversized allocation.
	MaxBodyLength = 16 * 1024 * 1024
)

var (
	ErrBodyTooLarge  = errors.New("protocol: body exceeds maximum allowed size")
	ErrInvalidHeader = errors.New("protocol: invalid frame header")
)

// Frame is a single routed wire message: the header fields the Framer
// reads, plus the opaque body handed to the external SBE codec.
type Frame struct {
	Version    uint16
	BlockLen   uint16
	TemplateID uint16
	Body       []byte
}

// Pack serializes a Frame to its wire representation.
func Pack(f *Frame) ([]byte, error) {
	bodyLen := len(f.Body)
	if bodyLen > MaxBodyLength {
		return nil, ErrBodyTooLarge
	}

	data := make([]byte, HeaderLength+bodyLen)
	binary.BigEndian.PutUint32(data[0:4], uint32(bodyLen))
	binary.BigEndian.PutUint16(data[4:6], f.Version)
	binary.BigEndian.PutUint16(data[6:8], f.BlockLen)
	binary.BigEndian.PutUint16(data[8:10], f.TemplateID)
	copy(data[HeaderLength:], f.Body)
	return data, nil
}

// Unpack reads one complete Frame from reader, blocking until the header
// and body are both available. Used by the demo client and by tests;
// the Framer's own Receiver endpoint never blocks (see endpoints
// package) and instead drives a non-blocking variant of this parsing
// over whatever bytes poll() returned.
func Unpack(reader *bufio.Reader) (*Frame, error) {
	header := make([]byte, HeaderLength)
	if _, err := io.ReadFull(reader, header); err != nil {
		return nil, err
	}

	bodyLen := binary.BigEndian.Uint32(header[0:4])
	if bodyLen > MaxBodyLength {
		return nil, ErrBodyTooLarge
	}

	f := &Frame{
		Version:    binary.BigEndian.Uint16(header[4:6]),
		BlockLen:   binary.BigEndian.Uint16(header[6:8]),
		TemplateID: binary.BigEndian.Uint16(header[8:10]),
	}
	if bodyLen > 0 {
		f.Body = make([]byte, bodyLen)
		if _, err := io.ReadFull(reader, f.Body); err != nil {
			return nil, err
		}
	}
	return f, nil
}
