package agentproto

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeHappyPath(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	type result struct {
		secret [32]byte
		err    error
	}
	clientDone := make(chan result, 1)
	serverDone := make(chan result, 1)

	go func() {
		secret, err := InitiatorHandshake(clientConn, nil)
		clientDone <- result{secret, err}
	}()
	go func() {
		secret, err := ResponderHandshake(serverConn, nil)
		serverDone <- result{secret, err}
	}()

	clientResult := <-clientDone
	serverResult := <-serverDone

	require.NoError(t, clientResult.err)
	require.NoError(t, serverResult.err)
	assert.Equal(t, clientResult.secret, serverResult.secret)
	assert.NotEqual(t, [32]byte{}, clientResult.secret)
}

// TestHandshakeTokenMismatchIsDetected drives a responder that derives the
// correct shared secret (so decryption succeeds) but encrypts the wrong
// verify-token value, exercising the path where the AEAD tag checks out but
// the recovered token doesn't match what the initiator sent. A bit-flipped
// ciphertext would instead fail the GCM tag check and surface as ErrCrypt,
// not a TokenMismatchError, so this is the only way to reach that branch.
func TestHandshakeTokenMismatchIsDetected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	type result struct {
		secret [32]byte
		err    error
	}
	clientDone := make(chan result, 1)
	go func() {
		secret, err := InitiatorHandshake(clientConn, nil)
		clientDone <- result{secret, err}
	}()

	reqBuf := make([]byte, EncryptionRequestPacketSize)
	_, err := io.ReadFull(serverConn, reqBuf)
	require.NoError(t, err)

	decoded, err := DecodePacket(reqBuf)
	require.NoError(t, err)
	req := decoded.Payload.(*EncryptionRequest)

	private, public, err := generateX25519KeyPair()
	require.NoError(t, err)
	secret, err := deriveSharedSecret(private, req.Key)
	require.NoError(t, err)

	var wrongToken [8]byte
	binary.BigEndian.PutUint64(wrongToken[:], req.VerifyToken+1)
	ciphertext, nonce, err := encrypt(secret[:], wrongToken[:])
	require.NoError(t, err)

	resp := &EncryptionResponse{Key: public}
	copy(resp.Nonce[:], nonce)
	copy(resp.VerifyToken[:], ciphertext)
	respBytes, err := EncodePacket(PacketEncryptionResponse, resp)
	require.NoError(t, err)
	_, err = serverConn.Write(respBytes)
	require.NoError(t, err)

	clientResult := <-clientDone
	var mismatch *TokenMismatchError
	require.ErrorAs(t, clientResult.err, &mismatch)
}

func TestDeriveSharedSecretIsSymmetric(t *testing.T) {
	aPriv, aPub, err := generateX25519KeyPair()
	require.NoError(t, err)
	bPriv, bPub, err := generateX25519KeyPair()
	require.NoError(t, err)

	aSecret, err := deriveSharedSecret(aPriv, bPub)
	require.NoError(t, err)
	bSecret, err := deriveSharedSecret(bPriv, aPub)
	require.NoError(t, err)

	assert.Equal(t, aSecret, bSecret)
}

func TestRandomVerifyTokenLooksRandom(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		tok := randomVerifyToken()
		assert.False(t, seen[tok], "collision at iteration %d", i)
		seen[tok] = true
	}
}

func TestVerifyTokenEncodingMatchesBigEndian(t *testing.T) {
	var want uint64 = 0x0102030405060708
	req := &EncryptionRequest{VerifyToken: want}
	body, err := req.Marshal()
	require.NoError(t, err)
	assert.Equal(t, want, binary.BigEndian.Uint64(body[32:40]))
}
