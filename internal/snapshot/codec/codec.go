package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/yndnr/memsnap-go/internal/core/domain"
)

const (
	// prefixSize covers the two u32 header fields.
	prefixSize = 8
	// headerAlign is the alignment of the heap region.
	headerAlign = 8
)

// Memory is the target linear memory of a restore. Read returns a writable
// view aliasing the memory, in the manner of wazero's api.Memory.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
}

// SliceMemory is a Memory over a plain byte slice.
type SliceMemory []byte

// Size returns the slice length.
func (m SliceMemory) Size() uint32 {
	return uint32(len(m))
}

// Read returns m[offset:offset+byteCount].
func (m SliceMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(m)) {
		return nil, false
	}
	return m[offset:end], true
}

// Artifact is an encoded snapshot.
type Artifact struct {
	HeaderSize         uint32
	MetadataByteLength uint32

	buf []byte
}

// Bytes returns the full encoded artifact.
func (a *Artifact) Bytes() []byte { return a.buf }

// Len returns the encoded size.
func (a *Artifact) Len() int { return len(a.buf) }

// Metadata returns the JSON metadata region without padding.
func (a *Artifact) Metadata() []byte {
	return a.buf[prefixSize : prefixSize+a.MetadataByteLength]
}

// Heap returns the heap region.
func (a *Artifact) Heap() []byte { return a.buf[a.HeaderSize:] }

// HeaderSize returns the aligned header size for metadata text.
//
// The size is estimated from the UTF-16 length of the text, which is what
// existing readers assume. When the UTF-8 encoding is longer than that
// estimate the header grows to fit it.
func HeaderSize(text []byte) uint32 {
	estimated := align(prefixSize + 2*utf16Len(text))
	if actual := align(prefixSize + uint64(len(text))); actual > estimated {
		return uint32(actual)
	}
	return uint32(estimated)
}

func align(n uint64) uint64 {
	return (n + headerAlign - 1) &^ (headerAlign - 1)
}

func utf16Len(b []byte) uint64 {
	var n uint64
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Encode builds an artifact from a heap image and the open-library
// metadata. The heap is copied.
func Encode(heap []byte, dso domain.DsoMetadata) (*Artifact, error) {
	text, err := MarshalMetadata(dso)
	if err != nil {
		return nil, domain.ErrMalformedArtifact.WithDetails("encode metadata").WithCause(err)
	}
	headerSize := HeaderSize(text)
	if uint64(len(heap)) > math.MaxUint32 {
		return nil, domain.ErrMalformedArtifact.WithDetails("heap exceeds 4 GiB")
	}
	total := uint64(headerSize) + uint64(len(heap))

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], headerSize)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(text)))
	copy(buf[prefixSize:], text)
	copy(buf[headerSize:], heap)

	return &Artifact{
		HeaderSize:         headerSize,
		MetadataByteLength: uint32(len(text)),
		buf:                buf,
	}, nil
}

// Decoded is a parsed artifact header with a pending heap restore.
type Decoded struct {
	// SnapshotOffset is where the heap starts in the artifact.
	SnapshotOffset uint32
	// MetadataByteLength is the length of the JSON metadata.
	MetadataByteLength uint32
	// HeapSize is the number of heap bytes following the header.
	HeapSize int64
	// Dso is the parsed open-library metadata.
	Dso domain.DsoMetadata

	mu  sync.Mutex
	src Source
}

// Decode parses the artifact header and metadata from src. The source stays
// open until Restore runs. On error the source is closed.
func Decode(src Source) (_ *Decoded, err error) {
	defer func() {
		if err != nil {
			src.Close()
		}
	}()

	size := src.Size()
	var prefix [prefixSize]byte
	if err := readFull(src, prefix[:], 0); err != nil {
		return nil, domain.ErrMalformedArtifact.WithDetails("read header").WithCause(err)
	}
	snapshotOffset := binary.LittleEndian.Uint32(prefix[0:4])
	metaLen := binary.LittleEndian.Uint32(prefix[4:8])

	if uint64(metaLen)+prefixSize > uint64(snapshotOffset) {
		return nil, domain.ErrMalformedArtifact.WithDetails(
			fmt.Sprintf("metadata length %d exceeds header size %d", metaLen, snapshotOffset))
	}
	if int64(snapshotOffset) > size {
		return nil, domain.ErrMalformedArtifact.WithDetails(
			fmt.Sprintf("header size %d exceeds artifact size %d", snapshotOffset, size))
	}

	text := make([]byte, metaLen)
	if err := readFull(src, text, prefixSize); err != nil {
		return nil, domain.ErrIOFailure.WithDetails("read metadata").WithCause(err)
	}
	dso, err := ParseMetadata(text)
	if err != nil {
		return nil, err
	}

	return &Decoded{
		SnapshotOffset:     snapshotOffset,
		MetadataByteLength: metaLen,
		HeapSize:           size - int64(snapshotOffset),
		Dso:                dso,
		src:                src,
	}, nil
}

// Restore copies the heap into mem starting at offset zero and closes the
// source. Only the first call does anything; later calls return nil.
func (d *Decoded) Restore(mem Memory) error {
	d.mu.Lock()
	src := d.src
	d.src = nil
	d.mu.Unlock()

	if src == nil {
		return nil
	}
	defer src.Close()

	if d.HeapSize > int64(mem.Size()) {
		return domain.ErrMemoryTooSmall.WithDetails(
			fmt.Sprintf("heap %d bytes, memory %d bytes", d.HeapSize, mem.Size()))
	}
	view, ok := mem.Read(0, uint32(d.HeapSize))
	if !ok {
		return domain.ErrMemoryTooSmall.WithDetails("memory view out of range")
	}
	if err := readFull(src, view, int64(d.SnapshotOffset)); err != nil {
		return domain.ErrIOFailure.WithDetails("read heap").WithCause(err)
	}
	return nil
}

// Restored reports whether Restore has been consumed.
func (d *Decoded) Restored() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src == nil
}

// Discard closes the source without restoring.
func (d *Decoded) Discard() error {
	d.mu.Lock()
	src := d.src
	d.src = nil
	d.mu.Unlock()
	if src == nil {
		return nil
	}
	return src.Close()
}
