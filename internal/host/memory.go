package host

import (
	"fmt"

	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
)

// Memory is a growable linear memory. wazero's api.Memory satisfies it.
type Memory interface {
	codec.Memory
	Write(offset uint32, v []byte) bool
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// PagesFor returns the number of pages needed to hold n bytes.
func PagesFor(n uint64) uint32 {
	return uint32((n + PageSize - 1) / PageSize)
}

// RoundToPage rounds n up to a whole number of pages.
func RoundToPage(n uint64) uint64 {
	return uint64(PagesFor(n)) * PageSize
}

// GrowTo grows mem until it holds at least n bytes.
func GrowTo(mem Memory, n uint32) error {
	have := mem.Size() / PageSize
	want := PagesFor(uint64(n))
	if want <= have {
		return nil
	}
	if _, ok := mem.Grow(want - have); !ok {
		return domain.ErrMemoryTooSmall.WithDetails(fmt.Sprintf("cannot grow to %d pages", want))
	}
	return nil
}

// Snapshot copies the whole linear memory.
func Snapshot(mem codec.Memory) ([]byte, error) {
	view, ok := mem.Read(0, mem.Size())
	if !ok {
		return nil, fmt.Errorf("host: read linear memory")
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// GrowableSliceMemory is a Memory over a byte slice, used where no wasm
// instance exists.
type GrowableSliceMemory struct {
	buf      []byte
	maxPages uint32
}

// NewSliceMemory creates a memory of the given pages, growable to max pages.
func NewSliceMemory(pages, maxPages uint32) *GrowableSliceMemory {
	return &GrowableSliceMemory{buf: make([]byte, uint64(pages)*PageSize), maxPages: maxPages}
}

func (m *GrowableSliceMemory) Size() uint32 { return uint32(len(m.buf)) }

func (m *GrowableSliceMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	return codec.SliceMemory(m.buf).Read(offset, byteCount)
}

func (m *GrowableSliceMemory) Write(offset uint32, v []byte) bool {
	view, ok := m.Read(offset, uint32(len(v)))
	if !ok {
		return false
	}
	copy(view, v)
	return true
}

func (m *GrowableSliceMemory) Grow(deltaPages uint32) (uint32, bool) {
	prev := m.Size() / PageSize
	if uint64(prev)+uint64(deltaPages) > uint64(m.maxPages) {
		return prev, false
	}
	m.buf = append(m.buf, make([]byte, uint64(deltaPages)*PageSize)...)
	return prev, true
}
