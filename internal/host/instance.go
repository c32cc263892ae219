package host

import (
	"context"
	"fmt"
	"reflect"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/yndnr/memsnap-go/internal/core/domain"
)

// Instance is the instantiated interpreter module.
type Instance struct {
	mod api.Module
}

// Instantiate compiles and instantiates the interpreter module using the
// settings from Configure. Linear memory is grown to InitialMemory before
// the instance is returned, and start functions are skipped when
// NoInitialRun is set.
func (h *Host) Instantiate(ctx context.Context, wasm []byte) (*Instance, error) {
	s := h.Settings()

	compiled, err := h.rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, domain.ErrLibraryCompile.WithDetails("interpreter module").WithCause(err)
	}

	cfg := wazero.NewModuleConfig().WithName(h.moduleName)
	if s.NoInitialRun {
		cfg = cfg.WithStartFunctions()
	}
	mod, err := h.rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("host: instantiate: %w", err)
	}

	inst := &Instance{mod: mod}
	if s.InitialMemory > 0 {
		mem := inst.Memory()
		if mem == nil {
			mod.Close(ctx)
			return nil, domain.ErrMemoryTooSmall.WithDetails("module exports no memory")
		}
		if err := GrowTo(mem, s.InitialMemory); err != nil {
			mod.Close(ctx)
			return nil, err
		}
	}
	h.log.Debug("interpreter instantiated",
		"memory_bytes", inst.MemorySize(), "no_initial_run", s.NoInitialRun)
	return inst, nil
}

// Memory returns the instance's linear memory, or nil if it has none.
func (i *Instance) Memory() Memory {
	mem := moduleMemory(i.mod)
	if mem == nil {
		return nil
	}
	return mem
}

// MemorySize returns the linear memory size in bytes.
func (i *Instance) MemorySize() uint32 {
	if mem := moduleMemory(i.mod); mem != nil {
		return mem.Size()
	}
	return 0
}

// moduleMemory returns mod's memory as a true nil when there is none.
// wazero hands back a nil *MemoryInstance wrapped in the interface.
func moduleMemory(mod api.Module) api.Memory {
	mem := mod.Memory()
	if mem == nil {
		return nil
	}
	if v := reflect.ValueOf(mem); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	return mem
}

// Close closes the module instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}
