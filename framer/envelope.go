package framer

import (
	"encoding/binary"
	"fmt"

	"ilink3gw/protocol"
)

// envelope is the byte shape carried over the pubsublog rings this
// package wires together: a connection_id routing prefix plus a packed
// protocol.Frame, so the inbound/outbound/replay logs stay the
// generic byte-oriented collaborator spec.md §2 asks for while the
// Framer still knows which connection a fragment belongs to.
func encodeEnvelope(connectionID uint64, frame *protocol.Frame) ([]byte, error) {
	packed, err := protocol.Pack(frame)
	if err != nil {
		return nil, fmt.Errorf("framer: pack frame: %w", err)
	}
	out := make([]byte, 8+len(packed))
	binary.BigEndian.PutUint64(out[0:8], connectionID)
	copy(out[8:], packed)
	return out, nil
}

func decodeEnvelope(body []byte) (connectionID uint64, frame *protocol.Frame, err error) {
	if len(body) < 8 {
		return 0, nil, fmt.Errorf("framer: envelope too short")
	}
	connectionID = binary.BigEndian.Uint64(body[0:8])
	rest := body[8:]
	if len(rest) < protocol.HeaderLength {
		return 0, nil, fmt.Errorf("framer: envelope frame too short")
	}
	bodyLen := int(uint32(rest[0])<<24 | uint32(rest[1])<<16 | uint32(rest[2])<<8 | uint32(rest[3]))
	if len(rest) < protocol.HeaderLength+bodyLen {
		return 0, nil, fmt.Errorf("framer: envelope body truncated")
	}
	frame = &protocol.Frame{
		Version:    uint16(rest[4])<<8 | uint16(rest[5]),
		BlockLen:   uint16(rest[6])<<8 | uint16(rest[7]),
		TemplateID: uint16(rest[8])<<8 | uint16(rest[9]),
	}
	if bodyLen > 0 {
		frame.Body = make([]byte, bodyLen)
		copy(frame.Body, rest[protocol.HeaderLength:protocol.HeaderLength+bodyLen])
	}
	return connectionID, frame, nil
}
