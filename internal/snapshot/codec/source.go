package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrSourceClosed is returned when reading from a closed Source.
var ErrSourceClosed = errors.New("codec: source closed")

// Source is a random-access view of a persisted artifact.
//
// A Source is single use: Close releases the underlying resource and any
// later ReadAt fails.
type Source interface {
	io.ReaderAt

	// Size returns the declared total artifact size in bytes.
	Size() int64

	// Close releases the underlying resource.
	Close() error
}

// BytesSource is a Source backed by an in-memory buffer.
type BytesSource struct {
	mu   sync.Mutex
	data []byte
	size int64
}

// NewBytesSource wraps data as a Source. The slice is not copied.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data, size: int64(len(data))}
}

// Size returns the buffer length, also after Close.
func (s *BytesSource) Size() int64 {
	return s.size
}

// ReadAt copies min(len(p), size-off) bytes. Offsets outside the buffer
// read nothing.
func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return 0, ErrSourceClosed
	}
	return readToTarget(s.data, off, p)
}

// Close drops the reference to the buffer.
func (s *BytesSource) Close() error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}

func readToTarget(data []byte, off int64, p []byte) (int, error) {
	if off < 0 || off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// FileSource is a Source backed by a file on disk.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens path as a Source.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("codec: stat %s: %w", path, err)
	}
	return &FileSource{f: f, size: stat.Size()}, nil
}

// Size returns the file size at open time.
func (s *FileSource) Size() int64 {
	return s.size
}

// ReadAt reads from the file.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Close closes the file.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// ReadAll reads the whole source into memory.
func ReadAll(src Source) ([]byte, error) {
	buf := make([]byte, src.Size())
	if err := readFull(src, buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// readFull reads exactly len(p) bytes at off.
func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}
