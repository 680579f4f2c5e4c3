package agentproto

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Connection owns the transport and the post-handshake shared secret
// (§4.6). It exposes one-record-in/one-record-out send/receive and the
// Frame convenience wrappers used by request-manager mode. The underlying
// transport write side is protected by a mutex held for the duration of a
// single record write, which is the invariant that prevents ciphertext
// interleaving when many callers send concurrently (§5); the read side has
// a single reader at any time, enforced the same way.
type Connection struct {
	transport Transport
	secret    [32]byte

	writeMu sync.Mutex
	readMu  sync.Mutex

	id      uuid.UUID
	log     *logrus.Entry
	metrics *Metrics

	recordsSent     atomic.Uint64
	recordsReceived atomic.Uint64
	closed          atomic.Bool
}

// NewConnection wraps transport with the shared secret produced by a
// completed handshake. log and metrics may both be nil.
func NewConnection(transport Transport, secret [32]byte, log *logrus.Entry, metrics *Metrics) *Connection {
	id := uuid.New()
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Connection{
		transport: transport,
		secret:    secret,
		id:        id,
		log:       log.WithField("conn_id", id.String()),
		metrics:   metrics,
	}
}

// ID returns the connection's log-correlation identifier. This is a
// locally generated handle for observability only — it makes no identity
// claim about the remote peer.
func (c *Connection) ID() uuid.UUID { return c.id }

// RecordsSent returns the number of records written so far.
func (c *Connection) RecordsSent() uint64 { return c.recordsSent.Load() }

// RecordsReceived returns the number of records read so far.
func (c *Connection) RecordsReceived() uint64 { return c.recordsReceived.Load() }

// Send encrypts and writes one record carrying payload (§4.4, §4.6).
func (c *Connection) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := writeRecord(c.transport, c.secret[:], payload); err != nil {
		c.log.WithError(err).Warn("failed to write record")
		return err
	}
	c.recordsSent.Add(1)
	c.metrics.incRecordsSent()
	return nil
}

// Receive reads and decrypts one record (§4.4, §4.6). A len=0 sentinel
// surfaces as ErrConnectionClosed rather than attempting to decrypt
// (§4.4, §8).
func (c *Connection) Receive() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	plaintext, closed, err := readRecord(c.transport, c.secret[:])
	if err != nil {
		c.log.WithError(err).Warn("failed to read record")
		return nil, err
	}
	if closed {
		c.log.Debug("peer sent orderly-close sentinel")
		return nil, ErrConnectionClosed
	}
	c.recordsReceived.Add(1)
	c.metrics.incRecordsReceived()
	return plaintext, nil
}

// SendFrame serializes and sends frame as a single record (§4.3, §4.6).
func (c *Connection) SendFrame(frame *Frame) error {
	data, err := frame.Serialize()
	if err != nil {
		return err
	}
	return c.Send(data)
}

// ReceiveFrame receives one record and deserializes it as a Frame. An
// empty payload record is reported the same way Receive reports it:
// ErrConnectionClosed (§4.6).
func (c *Connection) ReceiveFrame() (*Frame, error) {
	payload, err := c.Receive()
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, ErrConnectionClosed
	}
	return DeserializeFrame(payload)
}

// Shutdown writes the close sentinel, flushes, and closes the transport
// (§4.6). Not idempotent: a second call writes to the already closed
// transport and returns that write error.
func (c *Connection) Shutdown() error {
	c.writeMu.Lock()
	err := writeCloseSentinel(c.transport)
	c.writeMu.Unlock()

	if hc, ok := c.transport.(HalfCloser); ok {
		if cwErr := hc.CloseWrite(); cwErr != nil && err == nil {
			err = cwErr
		}
	}

	c.closed.Store(true)
	if closeErr := c.transport.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Closed reports whether Shutdown has been called locally.
func (c *Connection) Closed() bool { return c.closed.Load() }
