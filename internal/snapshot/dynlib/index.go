// Package dynlib loads the shared libraries shipped in the site-packages
// archive into the host loader before the interpreter starts.
//
// The archive itself is never unpacked. An Index maps each library path to
// the byte range holding its contents, and Preload reads exactly that range.
package dynlib

import (
	"archive/tar"
	"fmt"
	"io"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yndnr/memsnap-go/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Range locates a file inside the packed archive.
type Range struct {
	ContentsOffset int64 `json:"offset"`
	Size           int64 `json:"size"`
}

type node struct {
	children map[string]*node
	file     *Range
}

// Index is a read-only tree of archive paths keyed by path segment.
type Index struct {
	root  node
	files int
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (ix *Index) insert(segments []string, r Range) error {
	if len(segments) == 0 {
		return fmt.Errorf("dynlib: empty path")
	}
	n := &ix.root
	for i, seg := range segments {
		if n.file != nil {
			return fmt.Errorf("dynlib: %s is a file", strings.Join(segments[:i], "/"))
		}
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child, ok := n.children[seg]
		if !ok {
			child = &node{}
			n.children[seg] = child
		}
		n = child
	}
	if n.children != nil {
		return fmt.Errorf("dynlib: %s is a directory", strings.Join(segments, "/"))
	}
	if n.file == nil {
		ix.files++
	}
	n.file = &r
	return nil
}

// Lookup walks the index one segment at a time and returns the range of the
// file at the end of the walk.
func (ix *Index) Lookup(segments []string) (Range, error) {
	n := &ix.root
	for _, seg := range segments {
		child, ok := n.children[seg]
		if !ok {
			return Range{}, domain.ErrLibraryNotFound.WithDetails(strings.Join(segments, "/"))
		}
		n = child
	}
	if n.file == nil {
		return Range{}, domain.ErrLibraryNotFound.WithDetails(strings.Join(segments, "/") + " is not a file")
	}
	return *n.file, nil
}

// Len returns the number of files in the index.
func (ix *Index) Len() int {
	return ix.files
}

// Walk calls fn for every file in lexical path order.
func (ix *Index) Walk(fn func(path string, r Range) error) error {
	return walk(&ix.root, "", fn)
}

func walk(n *node, prefix string, fn func(string, Range) error) error {
	if n.file != nil {
		return fn(prefix, *n.file)
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := name
		if prefix != "" {
			p = prefix + "/" + name
		}
		if err := walk(n.children[name], p, fn); err != nil {
			return err
		}
	}
	return nil
}

// NewIndex builds an index from path → range pairs.
func NewIndex(files map[string]Range) (*Index, error) {
	ix := &Index{}
	for p, r := range files {
		if err := ix.insert(splitPath(p), r); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// BuildIndex scans a tar archive and records the data offset of every
// regular file. Directories, links and other entries are skipped.
func BuildIndex(archive io.ReaderAt, size int64) (*Index, error) {
	sr := io.NewSectionReader(archive, 0, size)
	tr := tar.NewReader(sr)
	ix := &Index{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return ix, nil
		}
		if err != nil {
			return nil, domain.ErrIOFailure.WithDetails("index archive").WithCause(err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		pos, err := sr.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, domain.ErrIOFailure.WithDetails("archive offset").WithCause(err)
		}
		if err := ix.insert(splitPath(hdr.Name), Range{ContentsOffset: pos, Size: hdr.Size}); err != nil {
			return nil, err
		}
	}
}

// LoadIndex reads an index in the JSON form written by WriteJSON.
func LoadIndex(r io.Reader) (*Index, error) {
	var files map[string]Range
	if err := json.NewDecoder(r).Decode(&files); err != nil {
		return nil, fmt.Errorf("dynlib: decode index: %w", err)
	}
	return NewIndex(files)
}

// WriteJSON writes the index as a path → {offset, size} object.
func (ix *Index) WriteJSON(w io.Writer) error {
	files := make(map[string]Range, ix.files)
	_ = ix.Walk(func(p string, r Range) error {
		files[p] = r
		return nil
	})
	return json.NewEncoder(w).Encode(files)
}
