// Package rdg holds small payload types used only by the benchmark
// submodule, built on agentproto's varint/fixed-width wire helpers so the
// benchmarks measure the same encoding the core library ships.
package rdg

import (
	"bytes"

	"github.com/lyrinoxtech/agentproto"
)

// Blob is a single varint length-prefixed byte blob.
type Blob struct {
	Data []byte
}

func (b *Blob) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := agentproto.WriteBytes(buf, b.Data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *Blob) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	var err error
	b.Data, err = agentproto.ReadBytes(r)
	return err
}
