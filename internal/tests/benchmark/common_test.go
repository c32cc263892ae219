package benchmark

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/host"
)

// HeapPages are the heap sizes benchmarked, in wasm pages. 160 pages is
// about the size of a warmed interpreter without extension libraries.
var HeapPages = []int{16, 160, 640}

// SmallHeapPages for quick benchmarks.
var SmallHeapPages = []int{16, 160}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// randomHeap returns pages of random bytes so compression and dedup in
// lower layers cannot flatter the numbers.
func randomHeap(b *testing.B, pages int) []byte {
	b.Helper()
	heap := make([]byte, pages*host.PageSize)
	if _, err := rand.Read(heap); err != nil {
		b.Fatal(err)
	}
	return heap
}

// sampleDso is the open-library metadata of an interpreter with a handful
// of extension modules loaded.
func sampleDso(libs int) domain.DsoMetadata {
	dso := domain.DsoMetadata{}
	for i := 0; i < libs; i++ {
		path := fmt.Sprintf("/lib/python3.12/site-packages/pkg%d/_ext.cpython-312-wasm32-emscripten.so", i)
		dso.Add(path, domain.Handle(2*i+1))
	}
	return dso
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithHeapPages runs a benchmark function with various heap sizes.
func runWithHeapPages(b *testing.B, pages []int, benchFn func(b *testing.B, pages int)) {
	for _, n := range pages {
		b.Run(fmt.Sprintf("pages_%d", n), func(b *testing.B) {
			b.SetBytes(int64(n) * host.PageSize)
			benchFn(b, n)
		})
	}
}

func sizeLabel(size int) string {
	switch {
	case size >= 1024*1024:
		return fmt.Sprintf("%dMB", size/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%dKB", size/1024)
	default:
		return fmt.Sprintf("%dB", size)
	}
}
