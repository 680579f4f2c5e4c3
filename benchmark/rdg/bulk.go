package rdg

import (
	"bytes"

	"github.com/lyrinoxtech/agentproto"
)

// BulkData is a fixed-width-prefixed array of uint32 values.
type BulkData struct {
	Values []uint32
}

func (b *BulkData) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := agentproto.WriteUint32(buf, uint32(len(b.Values))); err != nil {
		return nil, err
	}
	for _, v := range b.Values {
		if err := agentproto.WriteUint32(buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (b *BulkData) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)

	count, err := agentproto.ReadUint32(r)
	if err != nil {
		return err
	}

	b.Values = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		v, err := agentproto.ReadUint32(r)
		if err != nil {
			return err
		}
		b.Values[i] = v
	}
	return nil
}
