package rdg

import (
	"bytes"

	"github.com/lyrinoxtech/agentproto"
)

// Metrics is a fixed-width 5-counter sample, representative of the small
// structured payloads a collaborator registers on its own packet codes.
type Metrics struct {
	A uint64
	B uint64
	C uint64
	D uint64
	E uint64
}

func (m *Metrics) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, v := range []uint64{m.A, m.B, m.C, m.D, m.E} {
		if err := agentproto.WriteUint64(buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (m *Metrics) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)

	fields := []*uint64{&m.A, &m.B, &m.C, &m.D, &m.E}
	for _, f := range fields {
		v, err := agentproto.ReadUint64(r)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}
