// streaming_bench_test.go
package benchmark

import (
	"testing"

	"github.com/lyrinoxtech/agentproto/benchmark/rdg"
)

var (
	// Large payloads to simulate streaming
	largeBlobData = make([]byte, 1024*1024)    // 1 MB
	hugeBlobData  = make([]byte, 10*1024*1024) // 10 MB
)

func init() {
	// Fill payloads with a repeating 0..255 byte pattern
	for i := range largeBlobData {
		largeBlobData[i] = byte(i % 256)
	}
	for i := range hugeBlobData {
		hugeBlobData[i] = byte(i % 256)
	}
}

// --------------------
// Streaming marshal benchmarks
// --------------------
func BenchmarkLargeBlob_Marshal(b *testing.B) {
	msg := &rdg.Blob{
		Data: largeBlobData,
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

func BenchmarkHugeBlob_Marshal(b *testing.B) {
	msg := &rdg.Blob{
		Data: hugeBlobData,
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
// Optional: Chunked Streaming Simulation
// --------------------
// Simulate sending the payload in 64 KB chunks
func BenchmarkLargeBlob_Chunked(b *testing.B) {
	const chunkSize = 64 * 1024 // 64 KB
	msg := &rdg.Blob{
		Data: largeBlobData,
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		data, err := msg.Marshal()
		if err != nil {
			b.Fatal(err)
		}

		// Simulate sending in chunks
		for offset := 0; offset < len(data); offset += chunkSize {
			end := offset + chunkSize
			if end > len(data) {
				end = len(data)
			}
			chunk := data[offset:end]
			_ = chunk // would be sent over network
		}
	}
}
