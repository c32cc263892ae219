package dynlib

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/yndnr/memsnap-go/internal/core/domain"
)

// DefaultSitePackagesRoot is the virtual directory libraries are registered
// under.
const DefaultSitePackagesRoot = "/lib/python3.12/site-packages"

// Entry is the path of one library relative to the site-packages root, as
// index segments.
type Entry []string

// ParseEntry splits a slash separated relative path into an Entry.
func ParseEntry(p string) Entry {
	return Entry(splitPath(p))
}

// ParseEntries parses every configured preload path.
func ParseEntries(paths []string) []Entry {
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		if e := ParseEntry(p); len(e) > 0 {
			entries = append(entries, e)
		}
	}
	return entries
}

// String returns the relative path of the entry.
func (e Entry) String() string {
	return strings.Join(e, "/")
}

// RegisterFunc hands one library to the host loader. path is the full
// virtual path and wasm the raw module bytes.
type RegisterFunc func(ctx context.Context, path string, wasm []byte) error

// FullPath joins root and the entry segments.
func FullPath(root string, e Entry) string {
	return path.Join(append([]string{root}, e...)...)
}

// Preloader reads libraries from an archive and registers them.
type Preloader struct {
	// Root is the virtual site-packages directory. Empty means
	// DefaultSitePackagesRoot.
	Root string
}

// Preload runs a Preloader with the default root.
func Preload(ctx context.Context, ix *Index, entries []Entry, archive io.ReaderAt, register RegisterFunc) (int, error) {
	return Preloader{}.Run(ctx, ix, entries, archive, register)
}

// Run registers every entry in order and returns how many were registered.
// The first failure aborts the pass; callers must treat a partial pass as
// fatal.
func (p Preloader) Run(ctx context.Context, ix *Index, entries []Entry, archive io.ReaderAt, register RegisterFunc) (int, error) {
	root := p.Root
	if root == "" {
		root = DefaultSitePackagesRoot
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		r, err := ix.Lookup(e)
		if err != nil {
			return i, err
		}
		buf := make([]byte, r.Size)
		if err := readRange(archive, buf, r.ContentsOffset); err != nil {
			return i, domain.ErrIOFailure.WithDetails("read " + e.String()).WithCause(err)
		}
		full := FullPath(root, e)
		if err := register(ctx, full, buf); err != nil {
			return i, fmt.Errorf("register %s: %w", full, err)
		}
	}
	return len(entries), nil
}

func readRange(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}
