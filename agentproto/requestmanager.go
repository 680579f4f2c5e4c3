package agentproto

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// FrameIterator yields the frames sharing one request id, in wire order,
// until the sink reaches end-of-stream via a final frame, a cancel, or
// connection teardown (§4.7). End-of-stream is a nil frame value on the
// channel, never a channel close — that lets a concurrent cancel and a
// concurrent response delivery race freely without one side ever sending
// on a channel the other might be closing (§7: no panics on valid input).
type FrameIterator struct {
	ch    <-chan *Frame
	ended atomic.Bool
}

// NextFrame blocks for the next frame. ok is false once the sink has
// reached end-of-stream — the exact moment a frame with IsLast=true
// arrived, cancel was called, or the connection tore down (§4.7, §8).
func (it *FrameIterator) NextFrame() (frame *Frame, ok bool) {
	if it.ended.Load() {
		return nil, false
	}
	frame, open := <-it.ch
	if !open || frame == nil {
		it.ended.Store(true)
		return nil, false
	}
	if frame.IsLast {
		it.ended.Store(true)
	}
	return frame, true
}

// NextFrameTimeout is NextFrame bounded by a deadline. On timeout it
// returns ErrTimeout; the request remains registered so the caller can
// decide whether to keep waiting or cancel (§5).
func (it *FrameIterator) NextFrameTimeout(d time.Duration) (*Frame, error) {
	if it.ended.Load() {
		return nil, ErrConnectionClosed
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case frame, open := <-it.ch:
		if !open || frame == nil {
			it.ended.Store(true)
			return nil, ErrConnectionClosed
		}
		if frame.IsLast {
			it.ended.Store(true)
		}
		return frame, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// RequestManager maps request ids to a sink of frames that share that id,
// and routes inbound Frames to the right sink (§3, §4.7).
type RequestManager struct {
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *Frame

	log     *logrus.Entry
	metrics *Metrics
}

// NewRequestManager returns a RequestManager whose ids start at 1 and
// increase monotonically (§4.7). log and metrics may both be nil.
func NewRequestManager(log *logrus.Entry, metrics *Metrics) *RequestManager {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	rm := &RequestManager{
		pending: make(map[uint64]chan *Frame),
		log:     log.WithField("component", "request_manager"),
		metrics: metrics,
	}
	rm.nextID.Store(0)
	return rm
}

// NextRequestID atomically hands out the next strictly-increasing id,
// starting at 1 (§4.7, §8).
func (rm *RequestManager) NextRequestID() uint64 {
	return rm.nextID.Add(1)
}

// RegisterRequest creates a bounded sink for request_id and returns an
// iterator over it (§4.7).
func (rm *RequestManager) RegisterRequest(requestID uint64) *FrameIterator {
	ch := make(chan *Frame, DefaultPendingQueueCapacity)

	rm.mu.Lock()
	rm.pending[requestID] = ch
	pendingCount := len(rm.pending)
	rm.mu.Unlock()

	rm.metrics.setRequestsPending(float64(pendingCount))
	return &FrameIterator{ch: ch}
}

// RouteResponse delivers frame to the sink registered for its request id.
// If no entry matches, the frame is dropped and a warning logged — a
// response for an unknown id is not fatal, it may be a late frame after a
// cancel (§4.7). Returns whether a matching entry was found.
func (rm *RequestManager) RouteResponse(frame *Frame) bool {
	rm.mu.Lock()
	ch, ok := rm.pending[frame.RequestID]
	if ok && frame.IsLast {
		delete(rm.pending, frame.RequestID)
	}
	pendingCount := len(rm.pending)
	rm.mu.Unlock()

	if !ok {
		rm.log.WithField("request_id", frame.RequestID).Warn("response for unknown or cancelled request id, dropping frame")
		return false
	}

	// Blocking send applies backpressure to the peer via the single
	// response-router loop (§5): a slow consumer stalls further reads off
	// the connection instead of losing frames, preserving §8's "yields
	// all and only the frames" guarantee. The sink is never closed here —
	// end-of-stream is signaled by the IsLast frame's own value.
	ch <- frame
	rm.metrics.setRequestsPending(float64(pendingCount))
	return true
}

// CancelRequest removes the entry for requestID; the corresponding
// iterator sees end-of-stream on its next poll (§4.7, §5).
func (rm *RequestManager) CancelRequest(requestID uint64) bool {
	rm.mu.Lock()
	ch, ok := rm.pending[requestID]
	if ok {
		delete(rm.pending, requestID)
	}
	pendingCount := len(rm.pending)
	rm.mu.Unlock()

	if ok {
		// A plain value send, never a channel close, so a concurrent
		// RouteResponse can never race a cancel and panic (§7: no panics
		// on valid input). Delivered in the background so an abandoned
		// or slow iterator can't block the caller.
		go func() { ch <- nil }()
	}
	rm.metrics.setRequestsPending(float64(pendingCount))
	return ok
}

// PendingCount reports how many requests are currently awaiting a final
// frame.
func (rm *RequestManager) PendingCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.pending)
}

// CancelAll empties the table, used on connection teardown (§4.7, §5): all
// in-flight iterators observe end-of-stream.
func (rm *RequestManager) CancelAll() {
	rm.mu.Lock()
	remaining := rm.pending
	rm.pending = make(map[uint64]chan *Frame)
	rm.mu.Unlock()

	for _, ch := range remaining {
		go func(ch chan *Frame) { ch <- nil }(ch)
	}
	rm.metrics.setRequestsPending(0)
}

// RunResponseRouter reads Frames from conn until it errors or closes,
// forwarding each to RouteResponse. This is the "response router task"
// per connection (§4.7); it terminates when the connection tears down.
// On return it calls CancelAll so every in-flight iterator unblocks.
func (rm *RequestManager) RunResponseRouter(conn *Connection) error {
	defer rm.CancelAll()
	for {
		frame, err := conn.ReceiveFrame()
		if err != nil {
			rm.log.WithError(err).Debug("response router stopping")
			return err
		}
		rm.RouteResponse(frame)
	}
}

// RequestHandler processes one inbound request and returns the packet
// type and payload to send back as the terminal response frame.
type RequestHandler func(packetType byte, payload []byte) (respPacketType byte, respPayload []byte, err error)

// ServeRequests is the responder-side counterpart to RunResponseRouter
// (§4.7, §9): where RunResponseRouter treats every inbound Frame as a
// response to a request this side initiated, ServeRequests treats every
// inbound Frame as a fresh request, dispatches it to handler, and writes
// back a single terminal response frame carrying the same request id. When
// handler returns an error, the error is logged and no response frame is
// sent for that request. It runs until conn errors or closes.
func ServeRequests(conn *Connection, handler RequestHandler, log *logrus.Entry) error {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	for {
		frame, err := conn.ReceiveFrame()
		if err != nil {
			log.WithError(err).Debug("request server stopping")
			return err
		}

		respType, respPayload, err := handler(frame.PacketType, frame.Payload)
		if err != nil {
			log.WithError(err).WithField("request_id", frame.RequestID).Warn("request handler failed")
			continue
		}

		reply := NewFrame(frame.RequestID, respType, respPayload)
		if err := conn.SendFrame(reply); err != nil {
			log.WithError(err).Warn("failed to send response frame")
			return err
		}
	}
}
