package agentproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeRecord sends one record: len_be_u32 ++ nonce[12] ++ ciphertext[len]
// (§4.4, §6). It performs a single buffered write so a concurrent writer
// sharing the same io.Writer under a mutex never sees interleaved bytes of
// two different records (§5).
func writeRecord(w io.Writer, secret []byte, plaintext []byte) error {
	ciphertext, nonce, err := encrypt(secret, plaintext)
	if err != nil {
		return err
	}
	if len(ciphertext) > MaxRecordSize {
		return ErrRecordTooLarge
	}

	out := make([]byte, RecordLengthSize+NonceSize+len(ciphertext))
	binary.BigEndian.PutUint32(out[:RecordLengthSize], uint32(len(ciphertext)))
	copy(out[RecordLengthSize:RecordLengthSize+NonceSize], nonce)
	copy(out[RecordLengthSize+NonceSize:], ciphertext)

	_, err = w.Write(out)
	return err
}

// writeCloseSentinel writes the len=0 orderly-close marker: no nonce or
// body follows (§3, §4.4).
func writeCloseSentinel(w io.Writer) error {
	var lenBuf [RecordLengthSize]byte
	_, err := w.Write(lenBuf[:])
	return err
}

// readRecord reads exactly one record from r. A closed=true return with a
// nil error signals the len=0 orderly-close sentinel; the caller must not
// attempt to decrypt in that case (§4.4, §8).
func readRecord(r io.Reader, secret []byte) (plaintext []byte, closed bool, err error) {
	var lenBuf [RecordLengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, false, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, true, nil
	}
	if length > MaxRecordSize {
		return nil, false, ErrRecordTooLarge
	}

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return nil, false, fmt.Errorf("agentproto: short read of record nonce: %w", err)
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, false, fmt.Errorf("agentproto: short read of record ciphertext: %w", err)
	}

	plaintext, err = decrypt(secret, nonce[:], ciphertext)
	if err != nil {
		return nil, false, err
	}
	return plaintext, false, nil
}
