package agentproto

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// streamMessage is the unit carried on a stream's internal channel. A
// stream's end is signaled by a plain value (end=true), never by closing
// the channel — that lets a concurrent close and a concurrent data
// delivery race freely: whichever arrives first is simply read first by
// Receive, and neither side ever sends on, nor closes, a channel another
// goroutine might also be closing (§7: no panics on valid input).
type streamMessage struct {
	data []byte
	end  bool
}

// Stream is a thin handle onto one logical, ordered, duplex byte channel
// multiplexed over a connection (§3, §4.8). The multiplexer holds only the
// send half of the stream's channel; the Stream holds a reference back to
// the multiplexer to issue sends and closes. This resolves the cyclic
// ownership between handle and multiplexer without either side pinning the
// other (§9 design notes).
type Stream struct {
	id    uint32
	mux   *Multiplexer
	rx    <-chan streamMessage
	ended atomic.Bool
}

// ID returns the stream's id.
func (s *Stream) ID() uint32 { return s.id }

// SendBytes sends one chunk of data as a single StreamData record (§4.8).
func (s *Stream) SendBytes(data []byte) error {
	return s.mux.sendOnStream(s.id, data)
}

// Receive returns the next chunk in send order, or ok=false once the
// stream has reached end-of-stream (remote or local close, or connection
// teardown) (§4.8). Once end-of-stream has been observed, further calls
// keep returning ok=false immediately rather than blocking on a channel
// nothing will ever write to again.
func (s *Stream) Receive() (data []byte, ok bool) {
	if s.ended.Load() {
		return nil, false
	}
	msg, open := <-s.rx
	if !open || msg.end {
		s.ended.Store(true)
		return nil, false
	}
	return msg.data, true
}

// Close removes the local entry and tells the peer to do the same (§4.8).
// Safe to call more than once: a second call has nothing left to remove
// locally but still sends StreamClose to the peer.
func (s *Stream) Close() error {
	return s.mux.closeStream(s.id)
}

// Multiplexer routes many concurrent logical byte streams over one
// encrypted connection, keyed by a u32 stream id (§3, §4.8). Stream id 0
// is reserved for future control-plane use; application data streams start
// at MinDataStreamID.
type Multiplexer struct {
	conn *Connection

	mu      sync.Mutex
	streams map[uint32]chan streamMessage

	nextID atomic.Uint32

	incoming chan *Stream

	lastHeartbeat atomic.Int64

	log     *logrus.Entry
	metrics *Metrics

	registry *PayloadRegistry
}

// NewMultiplexer wraps an established Connection. log, metrics, and
// registry may all be nil/zero; a nil registry falls back to the global
// one.
func NewMultiplexer(conn *Connection, log *logrus.Entry, metrics *Metrics, registry *PayloadRegistry) *Multiplexer {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	if registry == nil {
		registry = globalRegistry
	}
	m := &Multiplexer{
		conn:     conn,
		streams:  make(map[uint32]chan streamMessage),
		incoming: make(chan *Stream, DefaultStreamQueueCapacity),
		log:      log.WithField("component", "multiplexer"),
		metrics:  metrics,
		registry: registry,
	}
	m.nextID.Store(MinDataStreamID - 1)
	return m
}

// OpenStream allocates a fresh local stream id, registers its receive
// queue, sends StreamOpen to the peer, and returns the handle (§4.8).
func (m *Multiplexer) OpenStream() (*Stream, error) {
	id := m.nextID.Add(1)

	rx := make(chan streamMessage, DefaultStreamQueueCapacity)
	m.mu.Lock()
	if _, exists := m.streams[id]; exists {
		m.mu.Unlock()
		return nil, &StreamAlreadyExistsError{StreamID: id}
	}
	m.streams[id] = rx
	m.mu.Unlock()
	m.metrics.addStreamsActive(1)

	open := &StreamOpen{StreamID: id}
	if err := m.sendPacket(PacketStreamOpen, open); err != nil {
		m.mu.Lock()
		delete(m.streams, id)
		m.mu.Unlock()
		m.metrics.addStreamsActive(-1)
		return nil, err
	}

	return &Stream{id: id, mux: m, rx: rx}, nil
}

// AcceptStream blocks until the peer opens a stream and returns the
// handle (§4.8). ok is false if the multiplexer has been torn down.
func (m *Multiplexer) AcceptStream() (stream *Stream, ok bool) {
	stream, ok = <-m.incoming
	return stream, ok
}

func (m *Multiplexer) sendOnStream(id uint32, data []byte) error {
	packet := &StreamData{StreamID: id, Data: data}
	return m.sendPacket(PacketStreamData, packet)
}

// closeStream removes the local entry (if present) and notifies the peer.
// Safe to call more than once; the second call is a no-op beyond the
// network notification, matching "closing is one-way... both ends remove
// the mapping" (§3).
func (m *Multiplexer) closeStream(id uint32) error {
	m.mu.Lock()
	ch, existed := m.streams[id]
	delete(m.streams, id)
	m.mu.Unlock()

	if existed {
		// Delivered in the background: the end sentinel is a plain value
		// send, so it can never race a close and panic, but it can still
		// block if the consumer has stopped draining — doing that off
		// the caller's goroutine means Close() itself never hangs.
		go func() { ch <- streamMessage{end: true} }()
		m.metrics.addStreamsActive(-1)
	}

	packet := &StreamClose{StreamID: id}
	return m.sendPacket(PacketStreamClose, packet)
}

func (m *Multiplexer) sendPacket(code byte, payload PayloadMarshaler) error {
	data, err := EncodePacket(code, payload)
	if err != nil {
		return err
	}
	return m.conn.Send(data)
}

// Run is the single per-connection receive loop (§4.8): it reads one
// record, decodes a tagged packet, and dispatches on type. It returns when
// the connection errors or closes, after which every open stream's receive
// queue has been drained to end-of-stream via CloseAll.
func (m *Multiplexer) Run() error {
	defer m.CloseAll()
	for {
		payload, err := m.conn.Receive()
		if err != nil {
			m.log.WithError(err).Debug("multiplex receive loop stopping")
			return err
		}

		decoded, err := DecodePacketWithRegistry(payload, m.registry)
		if err != nil {
			m.log.WithError(err).Warn("failed to decode packet in multiplex loop")
			return err
		}

		switch decoded.Code {
		case PacketStreamOpen:
			m.handleStreamOpen(decoded.Payload.(*StreamOpen))
		case PacketStreamClose:
			m.handleStreamClose(decoded.Payload.(*StreamClose))
		case PacketStreamData:
			m.handleStreamData(decoded.Payload.(*StreamData))
		case PacketStreamError:
			se := decoded.Payload.(*StreamError)
			m.log.WithFields(logrus.Fields{"stream_id": se.StreamID, "error": se.Error}).Warn("peer reported stream error")
			m.removeStream(se.StreamID)
		case PacketHeartbeat:
			m.lastHeartbeat.Store(time.Now().UnixNano())
			m.log.Trace("heartbeat received")
		default:
			m.log.WithField("code", decoded.Code).Warn("unexpected packet in multiplex receive loop")
		}
	}
}

// LastHeartbeat returns the time the most recent Heartbeat packet was
// received, exposed for collaborator health checks. The zero Time means no
// heartbeat has been received yet.
func (m *Multiplexer) LastHeartbeat() time.Time {
	nanos := m.lastHeartbeat.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (m *Multiplexer) handleStreamOpen(open *StreamOpen) {
	rx := make(chan streamMessage, DefaultStreamQueueCapacity)

	m.mu.Lock()
	if _, exists := m.streams[open.StreamID]; exists {
		m.mu.Unlock()
		m.log.WithField("stream_id", open.StreamID).Warn("peer opened a stream id that already exists")
		return
	}
	m.streams[open.StreamID] = rx
	m.mu.Unlock()
	m.metrics.addStreamsActive(1)

	stream := &Stream{id: open.StreamID, mux: m, rx: rx}

	// Blocking send: a slow Accepter applies backpressure to the peer via
	// this single receive loop (§5), rather than silently losing the
	// accept notification. m.incoming is only ever closed by CloseAll,
	// which runs in this same goroutine after Run's loop has returned, so
	// this send can never race that close.
	m.incoming <- stream
}

func (m *Multiplexer) handleStreamClose(closePkt *StreamClose) {
	m.removeStream(closePkt.StreamID)
}

func (m *Multiplexer) removeStream(id uint32) {
	m.mu.Lock()
	ch, existed := m.streams[id]
	delete(m.streams, id)
	m.mu.Unlock()
	if existed {
		go func() { ch <- streamMessage{end: true} }()
		m.metrics.addStreamsActive(-1)
	}
}

func (m *Multiplexer) handleStreamData(data *StreamData) {
	m.mu.Lock()
	ch, ok := m.streams[data.StreamID]
	m.mu.Unlock()

	if !ok {
		m.log.WithField("stream_id", data.StreamID).Warn("received data for unknown stream, dropping")
		return
	}

	// Blocking send applies backpressure to the peer via this single
	// receive loop (§5): a slow consumer stalls further reads off the
	// connection instead of losing chunks, preserving §8's "yields the M
	// chunks per stream in send order" guarantee.
	ch <- streamMessage{data: data.Data}
}

// CloseAll tears down every open stream, draining each one's receive queue
// to end-of-stream, and closes the incoming-stream channel (§4.8, §5:
// "Connection teardown cancels all pending requests and closes all
// streams").
func (m *Multiplexer) CloseAll() {
	m.mu.Lock()
	remaining := m.streams
	m.streams = make(map[uint32]chan streamMessage)
	m.mu.Unlock()

	for _, ch := range remaining {
		go func(ch chan streamMessage) { ch <- streamMessage{end: true} }(ch)
	}
	m.metrics.addStreamsActive(-float64(len(remaining)))
	close(m.incoming)
}
