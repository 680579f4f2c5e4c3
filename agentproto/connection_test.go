package agentproto

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handshakePair dials a loopback TCP connection and runs both handshake
// halves, returning two ready Connections.
func handshakePair(t *testing.T) (client, server *Connection) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	type accepted struct {
		conn *Connection
		err  error
	}
	serverCh := make(chan accepted, 1)
	go func() {
		transport, err := listener.Accept()
		if err != nil {
			serverCh <- accepted{nil, err}
			return
		}
		secret, err := ResponderHandshake(transport, nil)
		if err != nil {
			serverCh <- accepted{nil, err}
			return
		}
		serverCh <- accepted{NewConnection(transport, secret, nil, nil), nil}
	}()

	clientTransport, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	secret, err := InitiatorHandshake(clientTransport, nil)
	require.NoError(t, err)
	client = NewConnection(clientTransport, secret, nil, nil)

	result := <-serverCh
	require.NoError(t, result.err)
	return client, result.conn
}

func TestConnectionSendReceiveRoundTrip(t *testing.T) {
	client, server := handshakePair(t)
	defer client.Shutdown()
	defer server.Shutdown()

	require.NoError(t, client.Send([]byte("ping")))
	got, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
	assert.Equal(t, uint64(1), client.RecordsSent())
	assert.Equal(t, uint64(1), server.RecordsReceived())
}

func TestConnectionFrameRoundTrip(t *testing.T) {
	client, server := handshakePair(t)
	defer client.Shutdown()
	defer server.Shutdown()

	frame := NewFrame(11, 0x08, []byte("frame payload"))
	require.NoError(t, client.SendFrame(frame))

	got, err := server.ReceiveFrame()
	require.NoError(t, err)
	assert.Equal(t, frame.RequestID, got.RequestID)
	assert.Equal(t, frame.Payload, got.Payload)
}

func TestConnectionShutdownSignalsOrderlyClose(t *testing.T) {
	client, server := handshakePair(t)
	defer server.Shutdown()

	require.NoError(t, client.Shutdown())
	assert.True(t, client.Closed())

	_, err := server.Receive()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
