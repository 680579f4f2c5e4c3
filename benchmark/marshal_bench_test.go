// marshal_bench_test.go
package benchmark

import (
	"testing"

	"github.com/lyrinoxtech/agentproto/benchmark/rdg"
)

// --------------------
// Test data
// --------------------
var (
	blobTestData = []byte("this is some test blob data")
	bulkTestData = []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	metricsTestData = rdg.Metrics{
		A: 100,
		B: 200,
		C: 300,
		D: 400,
		E: 500,
	}
)

// --------------------
// Benchmarks: AgentHello
// --------------------

func BenchmarkAgentHello_Hello_Marshal(b *testing.B) {
	msg := &rdg.AgentHello{
		AgentID:  helloUsername,
		Token:    helloToken,
		Hostname: helloHostname,
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		data, err := msg.Marshal()
		if err != nil {
			b.Fatal(err)
		}
		_ = data
	}
}

// --------------------
// Benchmarks: Blob
// --------------------

func BenchmarkBlob_Marshal(b *testing.B) {
	msg := &rdg.Blob{
		Data: blobTestData,
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		data, err := msg.Marshal()
		if err != nil {
			b.Fatal(err)
		}
		_ = data
	}
}

// --------------------
// Benchmarks: Bulk
// --------------------

func BenchmarkBulkData_Marshal(b *testing.B) {
	msg := &rdg.BulkData{
		Values: bulkTestData,
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		data, err := msg.Marshal()
		if err != nil {
			b.Fatal(err)
		}
		_ = data
	}
}

// --------------------
// Benchmarks: Metrics
// --------------------

func BenchmarkMetrics_Marshal(b *testing.B) {
	msg := &rdg.Metrics{
		A: 1,
		B: 2,
		C: 3,
		D: 4,
		E: 5,
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		data, err := msg.Marshal()
		if err != nil {
			b.Fatal(err)
		}
		_ = data
	}
}
