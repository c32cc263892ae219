package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/host"
	"github.com/yndnr/memsnap-go/internal/snapshot/dynlib"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
)

// interpreterModule exports one page of memory, alloc(n) returning 1024 and
// run_code(ptr, len) returning 0.
var interpreterModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0c, 0x02, 0x60, 0x01, 0x7f, 0x01, 0x7f, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x03, 0x02, 0x00, 0x01,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x1d, 0x03,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x05, 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
	0x08, 'r', 'u', 'n', '_', 'c', 'o', 'd', 'e', 0x00, 0x01,
	0x0a, 0x0c, 0x02,
	0x05, 0x00, 0x41, 0x80, 0x08, 0x0b,
	0x04, 0x00, 0x41, 0x00, 0x0b,
}

func TestBoot_CaptureThenRestore(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{enabled: true, uploadOK: true}

	// First start: nothing stored, bootstrap and capture.
	h1 := host.New(ctx, host.WithLogger(logger.Nop()))
	defer h1.Close(ctx)
	c1 := newController(t, Config{Store: store})
	res, err := Boot(ctx, c1, h1, interpreterModule)
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if res.Restored || !res.Captured || res.TestMode {
		t.Fatalf("first Boot() = %+v, want captured only", res)
	}
	if err := c1.UploadArtifacts(ctx); err != nil {
		t.Fatalf("UploadArtifacts() error = %v", err)
	}
	if len(store.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(store.uploads))
	}
	lastSource := strings.Join(topLevelNames(SnapshotImports), ",")

	// Second start: restore the uploaded artifact.
	store.artifact = store.uploads[0]
	h2 := host.New(ctx, host.WithLogger(logger.Nop()))
	defer h2.Close(ctx)
	c2 := newController(t, Config{Store: store})
	res, err = Boot(ctx, c2, h2, interpreterModule)
	if err != nil {
		t.Fatalf("second Boot() error = %v", err)
	}
	if !res.Restored || res.Captured {
		t.Fatalf("second Boot() = %+v, want restored", res)
	}
	if got := res.Instance.MemorySize(); got != 2*host.PageSize {
		t.Errorf("restored MemorySize() = %d, want %d", got, 2*host.PageSize)
	}
	view, _ := res.Instance.Memory().Read(1024, uint32(4+len(lastSource)))
	if string(view) != "del "+lastSource {
		t.Errorf("restored memory at 1024 = %q, want the last bootstrap statement", view)
	}
	if c2.State() != StateRestored {
		t.Errorf("State() = %v, want restored", c2.State())
	}
}

// memorylessModule is a valid wasm binary without a memory section.
var memorylessModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestBoot_MemorylessInterpreter(t *testing.T) {
	ctx := context.Background()

	t.Run("restorable", func(t *testing.T) {
		h := host.New(ctx, host.WithLogger(logger.Nop()))
		defer h.Close(ctx)
		store := &fakeStore{artifact: encodeSnapshot(make([]byte, 200), nil)}
		c := newController(t, Config{Store: store})
		if c.State() != StateRestorable {
			t.Fatalf("State() = %v, want restorable", c.State())
		}
		if _, err := Boot(ctx, c, h, memorylessModule); !errors.Is(err, domain.ErrMemoryTooSmall) {
			t.Fatalf("Boot() error = %v, want ErrMemoryTooSmall", err)
		}
	})

	t.Run("no snapshot", func(t *testing.T) {
		h := host.New(ctx, host.WithLogger(logger.Nop()))
		defer h.Close(ctx)
		c := newController(t, Config{})
		_, err := Boot(ctx, c, h, memorylessModule)
		if err == nil || !strings.Contains(err.Error(), "no memory") {
			t.Fatalf("Boot() error = %v, want missing memory", err)
		}
	})
}

func TestBoot_TestMode(t *testing.T) {
	ctx := context.Background()
	h := host.New(ctx, host.WithLogger(logger.Nop()))
	defer h.Close(ctx)

	c := newController(t, Config{Store: &fakeStore{artifact: []byte("fixture")}})
	res, err := Boot(ctx, c, h, interpreterModule)
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if !res.TestMode || res.Restored || res.Captured {
		t.Errorf("Boot() = %+v, want test mode only", res)
	}
	text := "import sys as _memsnap_sys"
	view, _ := res.Instance.Memory().Read(1024, uint32(len(text)))
	if !bytes.Equal(view, []byte(text)) {
		t.Errorf("last source = %q, want test module registration", view)
	}
}

func TestBoot_PreloadsAndRelinks(t *testing.T) {
	ctx := context.Background()
	const libPath = dynlib.DefaultSitePackagesRoot + "/pkg/_ext.so"
	ix, err := dynlib.NewIndex(map[string]dynlib.Range{
		"pkg/_ext.so": {ContentsOffset: 0, Size: int64(len(interpreterModule))},
	})
	if err != nil {
		t.Fatalf("NewIndex() error = %v", err)
	}
	store := &fakeStore{enabled: true, uploadOK: true}
	cfg := Config{
		Store:   store,
		Index:   ix,
		Archive: bytes.NewReader(interpreterModule),
		Preload: dynlib.ParseEntries([]string{"pkg/_ext.so"}),
	}

	// Capturing instance: the interpreter dlopens the library before capture.
	h1 := host.New(ctx, host.WithLogger(logger.Nop()))
	defer h1.Close(ctx)
	c1 := newController(t, cfg)
	if err := c1.Preload(ctx, h1); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	handle, err := h1.Dlopen(libPath)
	if err != nil {
		t.Fatalf("Dlopen() error = %v", err)
	}
	inst, err := h1.Instantiate(ctx, interpreterModule)
	if err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}
	if err := c1.Bootstrap(ctx, inst); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if _, err := c1.MaybeCapture(ctx, inst.Memory(), h1); err != nil {
		t.Fatalf("MaybeCapture() error = %v", err)
	}
	if err := c1.UploadArtifacts(ctx); err != nil {
		t.Fatalf("UploadArtifacts() error = %v", err)
	}

	// Restoring instance: the stale handle resolves to the reloaded library.
	store.artifact = store.uploads[0]
	h2 := host.New(ctx, host.WithLogger(logger.Nop()))
	defer h2.Close(ctx)
	c2 := newController(t, cfg)
	res, err := Boot(ctx, c2, h2, interpreterModule)
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if !res.Restored {
		t.Fatal("Boot() did not restore")
	}
	d, ok := h2.Resolve(handle)
	if !ok || d.Path != libPath {
		t.Errorf("Resolve(%d) = (%v, %v), want %s", handle, d, ok, libPath)
	}
}
