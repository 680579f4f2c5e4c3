package benchmark

import (
	"testing"

	"github.com/lyrinoxtech/agentproto"
	"github.com/lyrinoxtech/agentproto/benchmark/rdg"
)

var (
	helloUsername = "john.doe@example.com"
	helloToken    = "super_secret_token_123"
	helloHostname = "agent-host-abc-123"
)

func BenchmarkAgentHello_Marshal(b *testing.B) {
	msg := &rdg.AgentHello{AgentID: helloUsername, Token: helloToken, Hostname: helloHostname}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := msg.Marshal(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAgentHello_Unmarshal(b *testing.B) {
	msg := &rdg.AgentHello{AgentID: helloUsername, Token: helloToken, Hostname: helloHostname}
	data, err := msg.Marshal()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		result := &rdg.AgentHello{}
		if err := result.Unmarshal(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEncodePacket_Overhead isolates the cost of the 1-byte tagged-union
// wrapper added on top of a payload's own Marshal.
func BenchmarkEncodePacket_Overhead(b *testing.B) {
	const collaboratorCode byte = 0x20
	msg := &rdg.AgentHello{AgentID: helloUsername, Token: helloToken, Hostname: helloHostname}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := agentproto.EncodePacket(collaboratorCode, msg); err != nil {
			b.Fatal(err)
		}
	}
}

func TestAgentHelloMessageSize(t *testing.T) {
	msg := &rdg.AgentHello{AgentID: helloUsername, Token: helloToken, Hostname: helloHostname}
	data, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	t.Logf("AgentHello wire size: %d bytes", len(data))
}
