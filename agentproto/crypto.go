package agentproto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"lukechampine.com/frand"
)

// encrypt seals plaintext under key with a fresh random 96-bit nonce using
// AES-256-GCM and empty associated data (§4.1). Returns the ciphertext
// (tag included) and the nonce used.
func encrypt(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = frand.Bytes(NonceSize)
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// decrypt opens ciphertext under key and nonce using AES-256-GCM. Fails on
// tag mismatch, wrong length, or wrong key (§4.1) — any failure here is
// fatal for the record per spec.
func decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypt, err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != SharedSecretSize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrCrypt, SharedSecretSize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypt, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypt, err)
	}
	return aead, nil
}

// generateX25519KeyPair draws a fresh ephemeral X25519 scalar and computes
// its basepoint-multiplied public key (§4.5).
func generateX25519KeyPair() (private [32]byte, public [32]byte, err error) {
	copy(private[:], frand.Bytes(32))
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return private, public, fmt.Errorf("%w: %v", ErrCrypt, err)
	}
	copy(public[:], pub)
	return private, public, nil
}

// deriveSharedSecret computes the X25519 Diffie-Hellman shared secret
// between a local ephemeral private key and a peer's ephemeral public key.
// Per spec §3, the 32-byte DH output IS the shared secret — no additional
// KDF hash is applied (see DESIGN.md for why this departs from related
// X25519 transports that hash the DH output through BLAKE2b or similar).
func deriveSharedSecret(private, peerPublic [32]byte) (secret [32]byte, err error) {
	shared, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return secret, fmt.Errorf("%w: %v", ErrCrypt, err)
	}
	copy(secret[:], shared)
	return secret, nil
}

// randomVerifyToken draws the 64-bit verify token the initiator sends in
// the clear during the handshake (§4.5).
func randomVerifyToken() uint64 {
	var v uint64
	for _, c := range frand.Bytes(8) {
		v = v<<8 | uint64(c)
	}
	return v
}
