package agentproto

import (
	"bytes"
	"fmt"
)

// Frame is the packet-agnostic envelope used by request-manager mode
// (§3, §4.3). It carries a request id (assigned by the initiator and
// echoed by the responder), the packet type it wraps, an is-last flag
// terminating a logical response, and the opaque inner payload.
type Frame struct {
	RequestID  uint64
	PacketType byte
	IsLast     bool
	Payload    []byte
}

// NewFrame builds a terminal frame (is_last = true), the common case for a
// single-shot response.
func NewFrame(requestID uint64, packetType byte, payload []byte) *Frame {
	return &Frame{RequestID: requestID, PacketType: packetType, IsLast: true, Payload: payload}
}

// NewFrameWithFlag builds a frame with an explicit is_last flag, for
// multi-frame responses (§8 scenario 3: N-1 frames with is_last=false,
// the final frame with is_last=true).
func NewFrameWithFlag(requestID uint64, packetType byte, isLast bool, payload []byte) *Frame {
	return &Frame{RequestID: requestID, PacketType: packetType, IsLast: isLast, Payload: payload}
}

// Serialize encodes the frame as request_id(8, BE) ++ packet_type(1) ++
// is_last(1) ++ varint-length-prefixed payload (§4.3).
func (f *Frame) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := WriteUint64(buf, f.RequestID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketEncode, err)
	}
	if err := buf.WriteByte(f.PacketType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketEncode, err)
	}
	if err := WriteBool(buf, f.IsLast); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketEncode, err)
	}
	if err := WriteBytes(buf, f.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketEncode, err)
	}
	return buf.Bytes(), nil
}

// DeserializeFrame decodes a Frame. Any trailing bytes after the payload
// are a decode error (§4.3).
func DeserializeFrame(data []byte) (*Frame, error) {
	r := bytes.NewReader(data)

	requestID, err := ReadUint64(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketDecode, err)
	}
	packetType, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketDecode, err)
	}
	isLast, err := ReadBool(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketDecode, err)
	}
	payload, err := ReadBytes(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketDecode, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after frame payload", ErrPacketDecode, r.Len())
	}

	return &Frame{
		RequestID:  requestID,
		PacketType: packetType,
		IsLast:     isLast,
		Payload:    payload,
	}, nil
}
