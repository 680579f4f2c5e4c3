// Package examplepackets shows how a collaborator extends the packet
// registry with its own application-defined packet type, carried either
// inside Frame payloads (request-manager mode) or directly over the
// multiplexer's packet stream.
package examplepackets

import (
	"bytes"

	"github.com/lyrinoxtech/agentproto"
)

// FileChunkCode is an application-defined packet code. Codes below
// agentproto.FirstCollaboratorCode are reserved for the core protocol.
const FileChunkCode byte = 0xFF

// FileChunk carries one piece of a file transfer: a path, an offset for
// out-of-order reassembly, and the chunk bytes.
type FileChunk struct {
	Path   string
	Offset uint64
	Data   []byte
}

func (f *FileChunk) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := agentproto.WriteString(buf, f.Path); err != nil {
		return nil, err
	}
	if err := agentproto.WriteUint64(buf, f.Offset); err != nil {
		return nil, err
	}
	if err := agentproto.WriteBytes(buf, f.Data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *FileChunk) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	var err error
	if f.Path, err = agentproto.ReadString(r); err != nil {
		return err
	}
	if f.Offset, err = agentproto.ReadUint64(r); err != nil {
		return err
	}
	if f.Data, err = agentproto.ReadBytes(r); err != nil {
		return err
	}
	return nil
}

// Register adds FileChunk to the global payload registry under
// FileChunkCode. Call this once at process startup before any FileChunk
// packets are decoded.
func Register() error {
	return agentproto.RegisterPayloadType(FileChunkCode, func() agentproto.PayloadUnmarshaler {
		return &FileChunk{}
	})
}
