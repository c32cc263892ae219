package domain

import "sort"

// Handle is a dynamic-library load handle as handed out by the guest's dlopen.
type Handle uint32

// GlobalHandle denotes "no library" (the global scope). It is never recorded.
const GlobalHandle Handle = 0

// DsoMetadata maps a library path to the handles that were open for it when
// the snapshot was captured.
type DsoMetadata map[string][]Handle

// Add records handle h for path. The global handle is ignored.
func (m DsoMetadata) Add(path string, h Handle) {
	if h == GlobalHandle {
		return
	}
	m[path] = append(m[path], h)
}

// HandlesFor returns the handles recorded for path, or nil.
func (m DsoMetadata) HandlesFor(path string) []Handle {
	if m == nil {
		return nil
	}
	return m[path]
}

// Paths returns the recorded library paths in sorted order.
func (m DsoMetadata) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// HandleCount returns the total number of recorded handles.
func (m DsoMetadata) HandleCount() int {
	n := 0
	for _, hs := range m {
		n += len(hs)
	}
	return n
}

// Equal reports whether m and other record the same handle sets per path.
// Handle order within a path is ignored.
func (m DsoMetadata) Equal(other DsoMetadata) bool {
	if len(m) != len(other) {
		return false
	}
	for path, hs := range m {
		theirs, ok := other[path]
		if !ok || len(theirs) != len(hs) {
			return false
		}
		counts := make(map[Handle]int, len(hs))
		for _, h := range hs {
			counts[h]++
		}
		for _, h := range theirs {
			counts[h]--
			if counts[h] < 0 {
				return false
			}
		}
	}
	return true
}
