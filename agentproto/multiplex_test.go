package agentproto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplexerOpenAcceptEcho(t *testing.T) {
	clientConn, serverConn := handshakePair(t)
	defer clientConn.Shutdown()
	defer serverConn.Shutdown()

	clientMux := NewMultiplexer(clientConn, nil, nil, nil)
	serverMux := NewMultiplexer(serverConn, nil, nil, nil)
	go clientMux.Run()
	go serverMux.Run()

	stream, err := clientMux.OpenStream()
	require.NoError(t, err)
	assert.Equal(t, MinDataStreamID, stream.ID())

	accepted, ok := serverMux.AcceptStream()
	require.True(t, ok)
	assert.Equal(t, stream.ID(), accepted.ID())

	require.NoError(t, stream.SendBytes([]byte("hello stream")))
	data, ok := accepted.Receive()
	require.True(t, ok)
	assert.Equal(t, "hello stream", string(data))

	require.NoError(t, accepted.SendBytes([]byte("echoed back")))
	data, ok = stream.Receive()
	require.True(t, ok)
	assert.Equal(t, "echoed back", string(data))
}

func TestMultiplexerCloseDrainsToEOF(t *testing.T) {
	clientConn, serverConn := handshakePair(t)
	defer clientConn.Shutdown()
	defer serverConn.Shutdown()

	clientMux := NewMultiplexer(clientConn, nil, nil, nil)
	serverMux := NewMultiplexer(serverConn, nil, nil, nil)
	go clientMux.Run()
	go serverMux.Run()

	stream, err := clientMux.OpenStream()
	require.NoError(t, err)
	accepted, ok := serverMux.AcceptStream()
	require.True(t, ok)

	require.NoError(t, stream.Close())

	// give the close notification time to arrive and propagate
	time.Sleep(50 * time.Millisecond)

	_, ok = accepted.Receive()
	assert.False(t, ok, "peer stream should observe end-of-stream after Close")
}

func TestMultiplexerStreamAlreadyExistsOnLocalCollision(t *testing.T) {
	clientConn, _ := handshakePair(t)
	defer clientConn.Shutdown()

	mux := NewMultiplexer(clientConn, nil, nil, nil)
	mux.streams[MinDataStreamID] = make(chan streamMessage)

	mux.nextID.Store(MinDataStreamID - 1)
	_, err := mux.OpenStream()
	var already *StreamAlreadyExistsError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, MinDataStreamID, already.StreamID)
}
