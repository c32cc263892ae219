// Package dso records which dynamic library handles are open when a
// snapshot is captured, and re-binds those handle numbers when the same
// libraries are loaded again on restore.
package dso

import (
	"fmt"

	"github.com/yndnr/memsnap-go/internal/core/domain"
)

// HandleTable is the live handle table of a host loader. Handles maps each
// open handle to the path of the library it refers to.
type HandleTable interface {
	Handles() map[domain.Handle]string
}

// Binder associates a stale handle number with a freshly loaded library.
type Binder interface {
	BindHandle(h domain.Handle, path string) error
}

// CaptureOpenHandles snapshots the open handles of table, grouped by
// library path. The global handle is never recorded.
//
// Call it only on the capture path, right before encoding. On the restore
// path handle state comes from the artifact instead.
func CaptureOpenHandles(table HandleTable) domain.DsoMetadata {
	dso := domain.DsoMetadata{}
	for h, path := range table.Handles() {
		dso.Add(path, h)
	}
	return dso
}

// Relink binds every handle recorded for path in dso to the library that
// was just loaded from path. It returns the number of handles bound.
func Relink(b Binder, dso domain.DsoMetadata, path string) (int, error) {
	handles := dso.HandlesFor(path)
	for i, h := range handles {
		if err := b.BindHandle(h, path); err != nil {
			return i, fmt.Errorf("bind handle %d to %s: %w", h, path, err)
		}
	}
	return len(handles), nil
}
