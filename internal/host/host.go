package host

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/dso"
	"github.com/yndnr/memsnap-go/internal/snapshot/dynlib"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
)

// PageSize is the wasm linear memory page size.
const PageSize = 65536

// Descriptor is a library registered with the host loader.
type Descriptor struct {
	// Path is the virtual path the library was registered under.
	Path string
	// Global reports whether symbol lookups without a handle search this
	// library. Preloaded libraries are never global.
	Global bool

	module wazero.CompiledModule
}

// Exports returns the sorted names of the functions the library exports.
func (d *Descriptor) Exports() []string {
	defs := d.module.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Settings are the instance start parameters published by the snapshot
// lifecycle before the interpreter module is instantiated.
type Settings struct {
	// InitialMemory is the minimum linear memory size in bytes.
	InitialMemory uint32
	// NoInitialRun skips the module's start functions.
	NoInitialRun bool
}

// Host is the loader and runtime of one sandboxed instance.
type Host struct {
	mu       sync.Mutex
	rt       wazero.Runtime
	libs     map[string]*Descriptor
	handles  map[domain.Handle]*Descriptor
	next     domain.Handle
	settings Settings
	closed   bool

	log        logger.Logger
	rtConfig   wazero.RuntimeConfig
	moduleName string
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Host) {
		h.log = l
	}
}

// WithRuntimeConfig overrides the wazero runtime configuration.
func WithRuntimeConfig(cfg wazero.RuntimeConfig) Option {
	return func(h *Host) {
		h.rtConfig = cfg
	}
}

// WithModuleName sets the name the interpreter module is instantiated as.
func WithModuleName(name string) Option {
	return func(h *Host) {
		h.moduleName = name
	}
}

// New creates a host with its own wazero runtime.
func New(ctx context.Context, opts ...Option) *Host {
	h := &Host{
		libs:       make(map[string]*Descriptor),
		handles:    make(map[domain.Handle]*Descriptor),
		next:       1,
		log:        logger.Default(),
		rtConfig:   wazero.NewRuntimeConfig(),
		moduleName: "interpreter",
	}
	for _, opt := range opts {
		opt(h)
	}
	h.rt = wazero.NewRuntimeWithConfig(ctx, h.rtConfig)
	return h
}

// RegisterLibrary compiles wasm and records it as a permanently resident,
// non-global library at path. Registering the same path twice returns the
// existing descriptor.
func (h *Host) RegisterLibrary(ctx context.Context, path string, wasm []byte) (*Descriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("host: closed")
	}
	if d, ok := h.libs[path]; ok {
		return d, nil
	}

	compiled, err := h.rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, domain.ErrLibraryCompile.WithDetails(path).WithCause(err)
	}
	d := &Descriptor{Path: path, module: compiled}
	h.libs[path] = d
	h.log.Debug("library registered", "path", path, "exports", len(compiled.ExportedFunctions()))
	return d, nil
}

// Register returns a dynlib.RegisterFunc that registers each library and
// binds the handles recorded for it in prior. prior may be nil.
func (h *Host) Register(prior domain.DsoMetadata) dynlib.RegisterFunc {
	return func(ctx context.Context, path string, wasm []byte) error {
		if _, err := h.RegisterLibrary(ctx, path, wasm); err != nil {
			return err
		}
		n, err := dso.Relink(h, prior, path)
		if err != nil {
			return err
		}
		if n > 0 {
			h.log.Debug("library handles relinked", "path", path, "handles", n)
		}
		return nil
	}
}

// Library returns the descriptor registered at path.
func (h *Host) Library(path string) (*Descriptor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.libs[path]
	return d, ok
}

// Libraries returns the number of registered libraries.
func (h *Host) Libraries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.libs)
}

// BindHandle points handle hd at the library registered at path, so code
// holding hd from before a snapshot resolves against the reloaded library.
func (h *Host) BindHandle(hd domain.Handle, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if hd == domain.GlobalHandle {
		return fmt.Errorf("host: handle 0 is reserved")
	}
	d, ok := h.libs[path]
	if !ok {
		return domain.ErrLibraryNotFound.WithDetails(path)
	}
	if cur, ok := h.handles[hd]; ok && cur != d {
		return fmt.Errorf("host: handle %d already bound to %s", hd, cur.Path)
	}
	h.handles[hd] = d
	if hd >= h.next {
		h.next = hd + 1
	}
	return nil
}

// Dlopen opens the library registered at path and returns a new handle.
func (h *Host) Dlopen(path string) (domain.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	d, ok := h.libs[path]
	if !ok {
		return 0, domain.ErrLibraryNotFound.WithDetails(path)
	}
	hd := h.next
	h.next++
	h.handles[hd] = d
	return hd, nil
}

// Dlclose releases a handle. The library itself stays resident.
func (h *Host) Dlclose(hd domain.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.handles[hd]; !ok {
		return fmt.Errorf("host: handle %d not open", hd)
	}
	delete(h.handles, hd)
	return nil
}

// Resolve returns the library bound to hd.
func (h *Host) Resolve(hd domain.Handle) (*Descriptor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.handles[hd]
	return d, ok
}

// Handles implements dso.HandleTable.
func (h *Host) Handles() map[domain.Handle]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[domain.Handle]string, len(h.handles))
	for hd, d := range h.handles {
		out[hd] = d.Path
	}
	return out
}

// Configure stores the settings used by the next Instantiate.
func (h *Host) Configure(s Settings) {
	h.mu.Lock()
	h.settings = s
	h.mu.Unlock()
}

// Settings returns the current instance settings.
func (h *Host) Settings() Settings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

// Close drops the runtime and every descriptor and handle with it.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.libs = map[string]*Descriptor{}
	h.handles = map[domain.Handle]*Descriptor{}
	h.mu.Unlock()

	return h.rt.Close(ctx)
}
