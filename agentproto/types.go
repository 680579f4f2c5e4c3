// Package agentproto implements a persistent, encrypted remote-agent
// transport: a point-to-point protocol between a single long-lived server
// listener and one or more agent clients, carrying structured
// request/response traffic over TCP.
//
// agentproto is a protocol core — it provides the handshake, the encrypted
// record layer, the packet/frame codec, and the multiplexer/request-manager
// demux layer. Developers supply the transport (any Transport), the
// collaborator packet types beyond the built-in registry, and the process
// main loops.
package agentproto

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Header/record sizes (§3, §6).
const (
	RecordLengthSize = 4  // be_u32 length prefix
	NonceSize        = 12 // AES-256-GCM nonce
	GCMTagSize       = 16
	SharedSecretSize = 32

	// MaxRecordSize bounds the ciphertext length accepted by the record
	// layer to guard against memory-blowup from a forged length prefix.
	MaxRecordSize = 16 * 1024 * 1024
)

// Reserved packet codes (§3). 0x01..0x07 are the built-in registry;
// collaborators may register codes >= FirstCollaboratorCode.
const (
	PacketEncryptionRequest  byte = 0x01
	PacketEncryptionResponse byte = 0x02
	PacketStreamOpen         byte = 0x03
	PacketStreamClose        byte = 0x04
	PacketStreamData         byte = 0x05
	PacketStreamError        byte = 0x06
	PacketHeartbeat          byte = 0x07

	// FirstCollaboratorCode is the first packet code available for
	// application-defined packets (e.g. ping/pong, file-chunk test).
	FirstCollaboratorCode byte = 0x08
)

// IsBuiltinType reports whether messageType belongs to the core registry.
func IsBuiltinType(messageType byte) bool {
	return messageType >= PacketEncryptionRequest && messageType < FirstCollaboratorCode
}

// MinDataStreamID is the first stream id available for application data;
// id 0 is reserved for the control stream (§3, future use).
const MinDataStreamID uint32 = 1

// Default channel/queue capacities (§4.7, §4.8 recommend >= 1, 100).
const (
	DefaultPendingQueueCapacity = 100
	DefaultStreamQueueCapacity  = 100
)

// Error taxonomy (§7). Sentinel values cover conditions with no payload;
// parameterized conditions use the *Error struct types below so callers can
// errors.As() them.
var (
	ErrUnexpectedPacket    = errors.New("agentproto: unexpected packet for this stage of the protocol")
	ErrPacketDecode        = errors.New("agentproto: malformed packet body")
	ErrPacketEncode        = errors.New("agentproto: failed to encode packet")
	ErrCrypt               = errors.New("agentproto: encryption or decryption failed")
	ErrConnectionClosed    = errors.New("agentproto: connection closed")
	ErrTimeout             = errors.New("agentproto: request timed out")
	ErrChannelSend         = errors.New("agentproto: internal queue is closed, connection is tearing down")
	ErrChannelReceive      = errors.New("agentproto: internal queue is closed, connection is tearing down")
	ErrLock                = errors.New("agentproto: shared lock was poisoned by a panicking holder")
	ErrRecordTooLarge      = errors.New("agentproto: record exceeds maximum size")
	ErrInvalidPayloadType  = errors.New("agentproto: payload does not implement PayloadMarshaler")
	ErrHandshakeBadPacket  = errors.New("agentproto: handshake received an unexpected packet type")
)

// UnknownPacketError reports an unrecognized 1-byte packet code.
type UnknownPacketError struct {
	Code byte
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("agentproto: unknown packet code 0x%02x", e.Code)
}

// TokenMismatchError reports a failed handshake verify-token comparison.
type TokenMismatchError struct {
	Expected uint64
	Got      uint64
}

func (e *TokenMismatchError) Error() string {
	return fmt.Sprintf("agentproto: verify token mismatch: expected %d, got %d", e.Expected, e.Got)
}

// StreamAlreadyExistsError reports a StreamOpen collision (§3, §4.8).
type StreamAlreadyExistsError struct {
	StreamID uint32
}

func (e *StreamAlreadyExistsError) Error() string {
	return fmt.Sprintf("agentproto: stream %d already exists", e.StreamID)
}

// StreamNotFoundError reports a reference to an unknown stream id.
type StreamNotFoundError struct {
	StreamID uint32
}

func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("agentproto: stream %d not found", e.StreamID)
}

// StreamClosedError reports an operation attempted on a closed stream.
type StreamClosedError struct {
	StreamID uint32
}

func (e *StreamClosedError) Error() string {
	return fmt.Sprintf("agentproto: stream %d is closed", e.StreamID)
}

// Transport is the transport-agnostic byte stream the protocol core runs
// over. Developers implement this for their own transport; net.Conn already
// satisfies it. The higher-level Connection type (connection.go) is built
// on top of a Transport plus the handshake's shared secret (§4.6).
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// HalfCloser is implemented by connections that support a one-sided
// shutdown of the write direction (net.TCPConn, net.UnixConn, ...). The
// record layer's orderly-close sentinel (§4.4) uses this when available.
type HalfCloser interface {
	CloseWrite() error
}

// Role distinguishes the handshake initiator from the responder (§4.5).
type Role int

const (
	// RoleInitiator issues EncryptionRequest; in the source this is the
	// agent/client.
	RoleInitiator Role = iota
	// RoleResponder answers with EncryptionResponse; this is the server.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// DemuxMode selects which of the two alternative demultiplexing policies a
// connection uses (§2, §9): they share the same record layer but are
// mutually exclusive per connection.
type DemuxMode int

const (
	// DemuxRequestManager carries Frame{request_id, packet_type, is_last,
	// payload} envelopes and routes by request id. This is the strictly
	// more expressive mode (§9) and the recommended production default.
	DemuxRequestManager DemuxMode = iota
	// DemuxMultiplex carries tagged StreamOpen/StreamData/StreamClose
	// packets and routes by stream id.
	DemuxMultiplex
)

// PayloadMarshaler is implemented by application-defined packet bodies.
type PayloadMarshaler interface {
	Marshal() ([]byte, error)
}

// PayloadUnmarshaler is implemented by application-defined packet bodies.
type PayloadUnmarshaler interface {
	Unmarshal(data []byte) error
}

// Payload combines both marshal directions.
type Payload interface {
	PayloadMarshaler
	PayloadUnmarshaler
}

// PayloadFactory creates a fresh, empty instance of a registered payload
// type so it can be unmarshaled into.
type PayloadFactory func() PayloadUnmarshaler

// PayloadRegistry maps a packet code to a factory for its body type. The
// core registers codes 0x01..0x07 at construction; collaborators register
// their own codes (>= FirstCollaboratorCode) for packets carried inside
// Frame payloads or the multiplex packet stream.
type PayloadRegistry struct {
	mu       sync.RWMutex
	handlers map[byte]PayloadFactory
}

// NewPayloadRegistry returns a registry pre-populated with the built-in
// packet types.
func NewPayloadRegistry() *PayloadRegistry {
	r := &PayloadRegistry{handlers: make(map[byte]PayloadFactory)}
	r.registerBuiltins()
	return r
}

func (r *PayloadRegistry) registerBuiltins() {
	r.handlers[PacketEncryptionRequest] = func() PayloadUnmarshaler { return &EncryptionRequest{} }
	r.handlers[PacketEncryptionResponse] = func() PayloadUnmarshaler { return &EncryptionResponse{} }
	r.handlers[PacketStreamOpen] = func() PayloadUnmarshaler { return &StreamOpen{} }
	r.handlers[PacketStreamClose] = func() PayloadUnmarshaler { return &StreamClose{} }
	r.handlers[PacketStreamData] = func() PayloadUnmarshaler { return &StreamData{} }
	r.handlers[PacketStreamError] = func() PayloadUnmarshaler { return &StreamError{} }
	r.handlers[PacketHeartbeat] = func() PayloadUnmarshaler { return &Heartbeat{} }
}

// Register adds or replaces a payload handler for a message type.
// Registering a built-in code (0x01..0x07) is rejected: the core registry
// is normative per spec §3.
func (r *PayloadRegistry) Register(messageType byte, factory PayloadFactory) error {
	if IsBuiltinType(messageType) {
		return fmt.Errorf("agentproto: packet code 0x%02x is reserved for the core registry", messageType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[messageType] = factory
	return nil
}

// Unregister removes a payload handler for a message type.
func (r *PayloadRegistry) Unregister(messageType byte) {
	if IsBuiltinType(messageType) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, messageType)
}

// Get returns the factory for a message type, or nil if not registered.
func (r *PayloadRegistry) Get(messageType byte) PayloadFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[messageType]
}

// Has checks if a message type is registered.
func (r *PayloadRegistry) Has(messageType byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[messageType]
	return ok
}

// globalRegistry is the default registry used when callers don't supply
// their own, so collaborators can register a packet type once at process
// startup without threading a *PayloadRegistry through every call site.
var globalRegistry = NewPayloadRegistry()

// RegisterPayloadType registers a custom payload type with the global
// registry. This is the main way collaborators register packet types for
// ping/pong, file-chunk-test, and similar out-of-core traffic.
func RegisterPayloadType(messageType byte, factory PayloadFactory) error {
	return globalRegistry.Register(messageType, factory)
}

// UnregisterPayloadType removes a payload type from the global registry.
func UnregisterPayloadType(messageType byte) {
	globalRegistry.Unregister(messageType)
}

// GetPayloadFactory returns the factory for a message type from the global
// registry.
func GetPayloadFactory(messageType byte) PayloadFactory {
	return globalRegistry.Get(messageType)
}
