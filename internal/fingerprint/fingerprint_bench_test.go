package fingerprint

import (
	"bytes"
	"testing"
)

var payloadSizes = map[string]int{
	"4KiB": 4 << 10,
	"1MiB": 1 << 20,
	"8MiB": 8 << 20,
}

func BenchmarkOf(b *testing.B) {
	for name, size := range payloadSizes {
		payload := bytes.Repeat([]byte{'x'}, size)
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(size))
			for i := 0; i < b.N; i++ {
				_ = Of(payload)
			}
		})
	}
}

func BenchmarkRead(b *testing.B) {
	payload := bytes.Repeat([]byte{'x'}, 1<<20)
	b.ReportAllocs()
	b.SetBytes(int64(len(payload)))
	for i := 0; i < b.N; i++ {
		if _, _, err := Read(bytes.NewReader(payload)); err != nil {
			b.Fatal(err)
		}
	}
}
