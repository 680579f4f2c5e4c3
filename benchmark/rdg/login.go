package rdg

import (
	"bytes"

	"github.com/lyrinoxtech/agentproto"
)

// AgentHello is an example collaborator packet an agent might send right
// after the handshake to identify itself at the application layer.
type AgentHello struct {
	AgentID  string
	Token    string
	Hostname string
}

func (l *AgentHello) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := agentproto.WriteString(buf, l.AgentID); err != nil {
		return nil, err
	}
	if err := agentproto.WriteString(buf, l.Token); err != nil {
		return nil, err
	}
	if err := agentproto.WriteString(buf, l.Hostname); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (l *AgentHello) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)

	var err error
	if l.AgentID, err = agentproto.ReadString(r); err != nil {
		return err
	}
	if l.Token, err = agentproto.ReadString(r); err != nil {
		return err
	}
	if l.Hostname, err = agentproto.ReadString(r); err != nil {
		return err
	}
	return nil
}
