// unmarshal_bench_test.go
package benchmark

import (
	"testing"

	"github.com/lyrinoxtech/agentproto/benchmark/rdg"
)

// --------------------
// Pre-marshaled test data
// --------------------
var (
	helloData   []byte
	blobData    []byte
	bulkData    []byte
	metricsData []byte
)

func init() {
	helloMsg := &rdg.AgentHello{
		AgentID:  helloUsername,
		Token:    helloToken,
		Hostname: helloHostname,
	}
	helloData, _ = helloMsg.Marshal()

	blobMsg := &rdg.Blob{Data: blobTestData}
	blobData, _ = blobMsg.Marshal()

	bulkMsg := &rdg.BulkData{Values: bulkTestData}
	bulkData, _ = bulkMsg.Marshal()

	metricsMsg := &rdg.Metrics{
		A: 1, B: 2, C: 3, D: 4, E: 5,
	}
	metricsData, _ = metricsMsg.Marshal()
}

// --------------------
// Benchmarks: AgentHello
// --------------------
func BenchmarkAgentHello_Hello_Unmarshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var msg rdg.AgentHello
		if err := msg.Unmarshal(helloData); err != nil {
			b.Fatal(err)
		}
	}
}

// --------------------
// Benchmarks: Blob
// --------------------
func BenchmarkBlob_Unmarshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var msg rdg.Blob
		if err := msg.Unmarshal(blobData); err != nil {
			b.Fatal(err)
		}
	}
}

// --------------------
// Benchmarks: Bulk
// --------------------
func BenchmarkBulkData_Unmarshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var msg rdg.BulkData
		if err := msg.Unmarshal(bulkData); err != nil {
			b.Fatal(err)
		}
	}
}

// --------------------
// Benchmarks: Metrics
// --------------------
func BenchmarkMetrics_Unmarshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var msg rdg.Metrics
		if err := msg.Unmarshal(metricsData); err != nil {
			b.Fatal(err)
		}
	}
}
