package agentproto

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConnected is returned by operations that require a completed
	// handshake before the demux layer exists.
	ErrNotConnected = errors.New("agentproto: not connected")
	// ErrWrongDemuxMode is returned by SendRequest and OpenStream when called
	// against a Client built for the other mode (§9: the two modes are
	// mutually exclusive per connection). CancelRequest and AcceptStream
	// report false instead.
	ErrWrongDemuxMode = errors.New("agentproto: method not available in this connection's demux mode")
)

// Client is the high-level per-connection wrapper (§4.5, §4.6, §9). On the
// initiator side DialClient runs the handshake, builds the Connection, and
// drives whichever demux layer the caller selected, so application code
// never touches records or frames directly; Server builds one for each
// accepted connection after the responder handshake.
type Client struct {
	conn *Connection
	mode DemuxMode

	reqMgr *RequestManager
	mux    *Multiplexer

	log     *logrus.Entry
	metrics *Metrics

	mu   sync.Mutex
	done chan struct{}
}

// DialClient performs the initiator handshake over transport and wires up
// the requested demux mode. The background routing loop (response router or
// multiplex receive loop) starts immediately in its own goroutine.
func DialClient(transport Transport, mode DemuxMode, log *logrus.Entry, metrics *Metrics) (*Client, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}

	secret, err := InitiatorHandshake(transport, log)
	if err != nil {
		metrics.incHandshakesFailed()
		return nil, err
	}
	metrics.incHandshakesOK()

	conn := NewConnection(transport, secret, log, metrics)
	metrics.incConnectionsAccepted()

	c := &Client{
		conn:    conn,
		mode:    mode,
		log:     conn.log,
		metrics: metrics,
		done:    make(chan struct{}),
	}

	switch mode {
	case DemuxRequestManager:
		c.reqMgr = NewRequestManager(log, metrics)
		go func() {
			defer close(c.done)
			c.reqMgr.RunResponseRouter(conn)
		}()
	case DemuxMultiplex:
		c.mux = NewMultiplexer(conn, log, metrics, nil)
		go func() {
			defer close(c.done)
			c.mux.Run()
		}()
	}

	return c, nil
}

// SendRequest encodes payload as a single-frame request and returns an
// iterator over its response frames. Request-manager mode only (§4.7).
func (c *Client) SendRequest(packetType byte, payload PayloadMarshaler) (*FrameIterator, error) {
	if c.mode != DemuxRequestManager {
		return nil, ErrWrongDemuxMode
	}
	body, err := payload.Marshal()
	if err != nil {
		return nil, err
	}
	requestID := c.reqMgr.NextRequestID()
	iter := c.reqMgr.RegisterRequest(requestID)

	frame := NewFrame(requestID, packetType, body)
	if err := c.conn.SendFrame(frame); err != nil {
		c.reqMgr.CancelRequest(requestID)
		return nil, err
	}
	return iter, nil
}

// CancelRequest abandons a previously sent request. Request-manager mode
// only.
func (c *Client) CancelRequest(requestID uint64) bool {
	if c.mode != DemuxRequestManager {
		return false
	}
	return c.reqMgr.CancelRequest(requestID)
}

// OpenStream opens a new logical stream. Multiplex mode only (§4.8).
func (c *Client) OpenStream() (*Stream, error) {
	if c.mode != DemuxMultiplex {
		return nil, ErrWrongDemuxMode
	}
	return c.mux.OpenStream()
}

// AcceptStream blocks for a peer-initiated stream. Multiplex mode only.
func (c *Client) AcceptStream() (*Stream, bool) {
	if c.mode != DemuxMultiplex {
		return nil, false
	}
	return c.mux.AcceptStream()
}

// Connection returns the underlying record-layer connection for advanced
// use (metrics, manual Send/Receive).
func (c *Client) Connection() *Connection { return c.conn }

// Done returns a channel closed once the background routing loop has
// stopped, which happens when the connection tears down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close shuts down the connection, which unblocks the background routing
// goroutine and, in turn, every pending request/stream.
func (c *Client) Close() error {
	return c.conn.Shutdown()
}
