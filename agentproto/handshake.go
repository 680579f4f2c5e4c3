package agentproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// handshakeLog returns a field-scoped logger, falling back to a fresh
// default logrus logger (stderr, info level) so callers never need a nil
// check.
func handshakeLog(log *logrus.Entry, role Role) *logrus.Entry {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return log.WithFields(logrus.Fields{"stage": "handshake", "role": role.String()})
}

// InitiatorHandshake performs the agent/client half of the handshake
// (§4.5 step 1 and 3). The EncryptionRequest and EncryptionResponse
// packets are exchanged in plaintext, outside the record layer.
func InitiatorHandshake(conn Transport, log *logrus.Entry) (secret [32]byte, err error) {
	entry := handshakeLog(log, RoleInitiator)

	private, public, err := generateX25519KeyPair()
	if err != nil {
		entry.WithError(err).Error("failed to generate ephemeral key pair")
		return secret, err
	}
	verifyToken := randomVerifyToken()

	req := &EncryptionRequest{Key: public, VerifyToken: verifyToken}
	reqBytes, err := EncodePacket(PacketEncryptionRequest, req)
	if err != nil {
		return secret, err
	}
	if _, err := conn.Write(reqBytes); err != nil {
		entry.WithError(err).Error("failed to send EncryptionRequest")
		return secret, err
	}

	respBuf := make([]byte, EncryptionResponsePacketSize)
	if _, err := io.ReadFull(conn, respBuf); err != nil {
		entry.WithError(err).Error("failed to read EncryptionResponse")
		return secret, err
	}

	decoded, err := DecodePacket(respBuf)
	if err != nil {
		entry.WithError(err).Error("failed to decode EncryptionResponse")
		return secret, err
	}
	if decoded.Code != PacketEncryptionResponse {
		entry.WithField("code", decoded.Code).Error("expected EncryptionResponse packet")
		return secret, fmt.Errorf("%w: expected 0x%02x, got 0x%02x", ErrHandshakeBadPacket, PacketEncryptionResponse, decoded.Code)
	}
	resp := decoded.Payload.(*EncryptionResponse)

	secret, err = deriveSharedSecret(private, resp.Key)
	if err != nil {
		entry.WithError(err).Error("failed to derive shared secret")
		return secret, err
	}

	decryptedToken, err := decrypt(secret[:], resp.Nonce[:], resp.VerifyToken[:])
	if err != nil {
		entry.WithError(err).Error("failed to decrypt verify token")
		return [32]byte{}, err
	}

	var gotToken uint64
	if len(decryptedToken) == 8 {
		gotToken = binary.BigEndian.Uint64(decryptedToken)
	}
	if gotToken != verifyToken {
		tokenErr := &TokenMismatchError{Expected: verifyToken, Got: gotToken}
		entry.WithError(tokenErr).Error("handshake verify token mismatch")
		return [32]byte{}, tokenErr
	}

	entry.Debug("handshake complete")
	return secret, nil
}

// ResponderHandshake performs the server half of the handshake (§4.5
// step 2).
func ResponderHandshake(conn Transport, log *logrus.Entry) (secret [32]byte, err error) {
	entry := handshakeLog(log, RoleResponder)

	reqBuf := make([]byte, EncryptionRequestPacketSize)
	if _, err := io.ReadFull(conn, reqBuf); err != nil {
		entry.WithError(err).Error("failed to read EncryptionRequest")
		return secret, err
	}

	decoded, err := DecodePacket(reqBuf)
	if err != nil {
		entry.WithError(err).Error("failed to decode EncryptionRequest")
		return secret, err
	}
	if decoded.Code != PacketEncryptionRequest {
		entry.WithField("code", decoded.Code).Error("expected EncryptionRequest packet")
		return secret, fmt.Errorf("%w: expected 0x%02x, got 0x%02x", ErrHandshakeBadPacket, PacketEncryptionRequest, decoded.Code)
	}
	req := decoded.Payload.(*EncryptionRequest)

	private, public, err := generateX25519KeyPair()
	if err != nil {
		entry.WithError(err).Error("failed to generate ephemeral key pair")
		return secret, err
	}

	secret, err = deriveSharedSecret(private, req.Key)
	if err != nil {
		entry.WithError(err).Error("failed to derive shared secret")
		return secret, err
	}

	var tokenBytes [8]byte
	binary.BigEndian.PutUint64(tokenBytes[:], req.VerifyToken)
	ciphertext, nonce, err := encrypt(secret[:], tokenBytes[:])
	if err != nil {
		entry.WithError(err).Error("failed to encrypt verify token")
		return secret, err
	}

	resp := &EncryptionResponse{Key: public}
	copy(resp.Nonce[:], nonce)
	copy(resp.VerifyToken[:], ciphertext)

	respBytes, err := EncodePacket(PacketEncryptionResponse, resp)
	if err != nil {
		return secret, err
	}
	if _, err := conn.Write(respBytes); err != nil {
		entry.WithError(err).Error("failed to send EncryptionResponse")
		return secret, err
	}

	entry.Debug("handshake complete")
	return secret, nil
}
