package host

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Guest exports used to run interpreter source.
const (
	allocExport   = "alloc"
	runCodeExport = "run_code"
)

// RunError is a non-zero status returned by the guest's run_code.
type RunError struct {
	Status int32
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run_code exited with status %d", e.Status)
}

// RunCode writes source into guest memory through the guest allocator and
// runs it with run_code(ptr, len).
func (i *Instance) RunCode(ctx context.Context, source string) error {
	alloc := i.mod.ExportedFunction(allocExport)
	run := i.mod.ExportedFunction(runCodeExport)
	if alloc == nil || run == nil {
		return fmt.Errorf("host: module does not export %s and %s", allocExport, runCodeExport)
	}
	mem := moduleMemory(i.mod)
	if mem == nil {
		return fmt.Errorf("host: module exports no memory")
	}

	size := uint32(len(source))
	res, err := alloc.Call(ctx, api.EncodeU32(size))
	if err != nil {
		return fmt.Errorf("host: alloc %d bytes: %w", size, err)
	}
	ptr := api.DecodeU32(res[0])
	if !mem.WriteString(ptr, source) {
		return fmt.Errorf("host: source at %#x+%d out of range", ptr, size)
	}

	res, err = run.Call(ctx, api.EncodeU32(ptr), api.EncodeU32(size))
	if err != nil {
		return fmt.Errorf("host: run_code: %w", err)
	}
	if status := api.DecodeI32(res[0]); status != 0 {
		return &RunError{Status: status}
	}
	return nil
}
