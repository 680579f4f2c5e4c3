package agentproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	original := NewFrameWithFlag(99, 0x08, false, []byte("chunk one"))

	data, err := original.Serialize()
	require.NoError(t, err)

	got, err := DeserializeFrame(data)
	require.NoError(t, err)

	assert.Equal(t, original.RequestID, got.RequestID)
	assert.Equal(t, original.PacketType, got.PacketType)
	assert.Equal(t, original.IsLast, got.IsLast)
	assert.Equal(t, original.Payload, got.Payload)
}

func TestFrameDefaultIsLast(t *testing.T) {
	f := NewFrame(1, 0x08, []byte("x"))
	assert.True(t, f.IsLast)
}

func TestFrameEmptyPayload(t *testing.T) {
	original := NewFrame(5, 0x08, nil)
	data, err := original.Serialize()
	require.NoError(t, err)

	got, err := DeserializeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, 0, len(got.Payload))
}

func TestDeserializeFrameTrailingBytesIsError(t *testing.T) {
	original := NewFrame(1, 0x08, []byte("ok"))
	data, err := original.Serialize()
	require.NoError(t, err)

	corrupted := append(data, 0xFF)
	_, err = DeserializeFrame(corrupted)
	assert.ErrorIs(t, err, ErrPacketDecode)
}
