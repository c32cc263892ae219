// Package lifecycle decides at each instance start whether to restore a
// memory snapshot, bootstrap the interpreter, or run in test mode, and
// carries a captured snapshot through to its deferred upload.
//
// One Controller belongs to one sandboxed instance. The expected call order
// is New, Preload, then either MaybeRestore or Bootstrap followed by
// MaybeCapture, and later UploadArtifacts from a request. Boot performs the
// whole start sequence against a wazero host.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/host"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
	"github.com/yndnr/memsnap-go/internal/snapshot/dso"
	"github.com/yndnr/memsnap-go/internal/snapshot/dynlib"
	"github.com/yndnr/memsnap-go/internal/snapshot/upload"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
	"github.com/yndnr/memsnap-go/internal/telemetry/metric"
)

// Loader is the host loader the preload pass registers libraries with.
type Loader interface {
	dso.HandleTable
	Register(prior domain.DsoMetadata) dynlib.RegisterFunc
	Configure(s host.Settings)
}

// Config holds the inputs of one instance start.
type Config struct {
	// Store is the artifact store. Nil means snapshots are disabled.
	Store artifact.Store

	// Index, Archive and Preload describe the libraries to load before
	// the interpreter starts.
	Index   *dynlib.Index
	Archive io.ReaderAt
	Preload []dynlib.Entry
	// SitePackagesRoot defaults to dynlib.DefaultSitePackagesRoot.
	SitePackagesRoot string

	// Dedicated enables the script import warm-up during bootstrap.
	Dedicated bool
	// Script is the user script whose imports are warmed up.
	Script string

	Logger  logger.Logger
	Metrics *metric.Registry
}

// Controller is the per-instance snapshot lifecycle.
type Controller struct {
	cfg     Config
	log     logger.Logger
	metrics *metric.Registry

	mu           sync.Mutex
	state        State
	preloaded    bool
	decoded      *codec.Decoded
	dso          domain.DsoMetadata
	snapshotSize int64
	testFixture  []byte
	settings     host.Settings
	warmup       *WarmupReport
	toUpload     *codec.Artifact
	gate         upload.Gate
}

// New classifies the available artifact. A snapshot that cannot be read or
// decoded aborts the instance start.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	c := &Controller{
		cfg:          cfg,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		state:        StateInit,
		dso:          domain.DsoMetadata{},
		snapshotSize: -1,
	}
	if c.log == nil {
		c.log = logger.Default()
	}

	next, err := c.classify(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(c.state, next); err != nil {
		return nil, err
	}
	c.state = next
	c.metrics.ObserveClassified(next.String())
	c.log.Info("snapshot classified", "state", next.String(), "snapshot_bytes", c.snapshotSize)
	return c, nil
}

func (c *Controller) classify(ctx context.Context) (State, error) {
	if c.cfg.Store == nil {
		return StateNoSnapshot, nil
	}
	src, tag, err := c.cfg.Store.Open(ctx)
	if errors.Is(err, artifact.ErrNotFound) {
		return StateNoSnapshot, nil
	}
	if err != nil {
		return StateInit, domain.ErrIOFailure.WithDetails("open snapshot").WithCause(err)
	}

	size := src.Size()
	switch codec.Classify(size, tag) {
	case codec.KindTestFixture:
		defer src.Close()
		raw, err := codec.ReadAll(src)
		if err != nil {
			return StateInit, domain.ErrIOFailure.WithDetails("read test snapshot").WithCause(err)
		}
		c.testFixture = raw
		return StateTestSnapshot, nil
	default:
		dec, err := codec.Decode(src)
		if err != nil {
			return StateInit, err
		}
		need := host.RoundToPage(uint64(dec.SnapshotOffset) + uint64(dec.HeapSize))
		if need > math.MaxUint32 {
			dec.Discard()
			return StateInit, domain.ErrMemoryTooSmall.WithDetails(fmt.Sprintf("snapshot needs %d bytes", need))
		}
		c.decoded = dec
		c.dso = dec.Dso
		c.snapshotSize = dec.HeapSize
		c.settings = host.Settings{InitialMemory: uint32(need), NoInitialRun: true}
		return StateRestorable, nil
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SnapshotSize returns the heap size of the decoded snapshot, or -1.
func (c *Controller) SnapshotSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotSize
}

// DsoMetadata returns the handles recorded in the decoded snapshot.
func (c *Controller) DsoMetadata() domain.DsoMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dso
}

// HostSettings returns the instance start settings. A restorable snapshot
// sizes the initial memory to hold it and skips the start functions.
func (c *Controller) HostSettings() host.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// ShouldCapture reports whether a bootstrapped instance captures a snapshot.
func (c *Controller) ShouldCapture() bool {
	s := c.cfg.Store
	return s != nil && (s.IsEnabled() || s.IsValidating())
}

// Preload publishes the host settings and registers every configured
// library with loader, re-binding the handles recorded in the snapshot. It
// runs on every start, restoring or not, and must finish before the
// interpreter starts. Any failure is fatal.
func (c *Controller) Preload(ctx context.Context, loader Loader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.preloaded {
		return domain.ErrInvalidTransition.WithDetails("preload already ran")
	}
	switch c.state {
	case StateNoSnapshot, StateTestSnapshot, StateRestorable:
	default:
		return domain.ErrInvalidTransition.WithDetails("preload in state " + c.state.String())
	}

	loader.Configure(c.settings)

	start := time.Now()
	n := 0
	if len(c.cfg.Preload) > 0 {
		if c.cfg.Index == nil || c.cfg.Archive == nil {
			return fmt.Errorf("lifecycle: preload list set without site-packages index and archive")
		}
		var err error
		p := dynlib.Preloader{Root: c.cfg.SitePackagesRoot}
		n, err = p.Run(ctx, c.cfg.Index, c.cfg.Preload, c.cfg.Archive, loader.Register(c.dso))
		if err != nil {
			return fmt.Errorf("preload: %w", err)
		}
	}
	c.preloaded = true
	c.metrics.ObservePreload(time.Since(start), n)
	c.log.Debug("libraries preloaded", "count", n, "duration", time.Since(start))
	return nil
}

// MaybeRestore copies the decoded heap into mem when a snapshot is
// restorable. It reports whether a restore happened. It must run after
// Preload and before any interpreter instruction executes.
func (c *Controller) MaybeRestore(mem codec.Memory) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRestorable {
		return false, nil
	}
	if !c.preloaded {
		return false, domain.ErrInvalidTransition.WithDetails("restore before preload")
	}

	dec := c.decoded
	c.decoded = nil
	start := time.Now()
	if err := dec.Restore(mem); err != nil {
		return false, err
	}
	c.state = StateRestored
	c.metrics.ObserveRestore(time.Since(start), dec.HeapSize)
	c.log.Info("snapshot restored", "heap_bytes", dec.HeapSize, "duration", time.Since(start))
	return true, nil
}

// Bootstrap warms the interpreter for capture: the fixed import set, the
// sysconfig cache, removal of the imported names, and for dedicated
// snapshots a warm-up pass over the script imports. It is refused when a
// snapshot is restorable.
func (c *Controller) Bootstrap(ctx context.Context, interp Interpreter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkTransition(c.state, StateBootstrapped); err != nil {
		return err
	}
	if err := runBootstrap(ctx, interp, SnapshotImports); err != nil {
		return err
	}

	if c.cfg.Dedicated {
		report := warmup(ctx, interp, ScriptImports(c.cfg.Script))
		c.warmup = report
		failed := report.Failed()
		c.metrics.ObserveWarmup(len(report.Results)-len(failed), len(failed))
		for _, f := range failed {
			c.log.Debug("warm-up import failed", "module", f.Module, "error", f.Err)
		}
	}

	c.state = StateBootstrapped
	return nil
}

// Warmup returns the dedicated snapshot warm-up report, or nil.
func (c *Controller) Warmup() *WarmupReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warmup
}

// MaybeCapture encodes mem and the open handles of table into an artifact
// and defers its upload, when the instance bootstrapped and the store asks
// for a snapshot. It reports whether a capture happened.
func (c *Controller) MaybeCapture(ctx context.Context, mem codec.Memory, table dso.HandleTable) (bool, error) {
	if !c.ShouldCapture() {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateBootstrapped {
		return false, nil
	}
	c.state = StateCapturePending

	handles := dso.CaptureOpenHandles(table)
	heap, ok := mem.Read(0, mem.Size())
	if !ok {
		c.state = StateBootstrapped
		return false, domain.ErrIOFailure.WithDetails("read linear memory")
	}
	art, err := codec.Encode(heap, handles)
	if err != nil {
		c.state = StateBootstrapped
		return false, err
	}
	c.state = StateCaptured
	c.metrics.ObserveCapture(art.Len())
	c.log.Info("snapshot captured",
		"artifact_bytes", art.Len(), "header_bytes", art.HeaderSize, "libraries", len(handles))

	if err := c.deferUpload(art); err != nil {
		c.state = StateBootstrapped
		return false, err
	}
	return true, nil
}

// deferUpload stores art for the first UploadArtifacts call. Must hold mu.
func (c *Controller) deferUpload(art *codec.Artifact) error {
	if art == nil || art.Len() == 0 {
		return domain.ErrTypeMismatch
	}
	if c.cfg.Store.IsValidating() {
		c.toUpload = art
	}

	c.gate.Defer(func(ctx context.Context) error {
		ok, err := c.cfg.Store.Upload(ctx, art.Bytes())

		c.mu.Lock()
		defer c.mu.Unlock()
		l := c.log
		if id := logger.RequestIDFromContext(ctx); id != "" {
			l = l.With("request_id", id)
		}
		switch {
		case err != nil:
			c.state = StateUploadFailed
			c.metrics.ObserveUpload("error")
			l.Warn("memory snapshot upload failed", "error", err)
			return domain.ErrIOFailure.WithDetails("upload snapshot").WithCause(err)
		case !ok:
			c.state = StateUploadFailed
			c.metrics.ObserveUpload("rejected")
			l.Warn("memory snapshot upload failed", "reason", "rejected by store")
			return nil
		default:
			c.state = StateUploaded
			c.metrics.ObserveUpload("ok")
			l.Info("memory snapshot uploaded")
			return nil
		}
	})
	c.state = StateUploadDeferred
	return nil
}

// UploadArtifacts runs the deferred upload with the request context. Only
// the first call after a capture does anything, and only that call sees an
// upload error.
func (c *Controller) UploadArtifacts(ctx context.Context) error {
	return c.gate.Trigger(ctx)
}

// MemoryToUpload returns the captured artifact kept for a validator.
func (c *Controller) MemoryToUpload() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.toUpload == nil {
		return nil, domain.ErrMissingUploadBuffer
	}
	return c.toUpload.Bytes(), nil
}

// TestFixture returns the raw test-mode payload, or nil.
func (c *Controller) TestFixture() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.testFixture
}

// MaybeSetUpSnapshotTest exposes the test-mode payload to scripts as
// memsnap_test_utils.snapshot. It reports whether the module was
// registered.
func (c *Controller) MaybeSetUpSnapshotTest(ctx context.Context, interp Interpreter) (bool, error) {
	payload := c.TestFixture()
	if payload == nil {
		return false, nil
	}
	if err := interp.RunCode(ctx, testModuleSource(string(payload))); err != nil {
		return false, fmt.Errorf("register %s: %w", TestModuleName, err)
	}
	return true, nil
}

// Close releases a snapshot source that was decoded but never restored.
func (c *Controller) Close() error {
	c.mu.Lock()
	dec := c.decoded
	c.decoded = nil
	c.mu.Unlock()
	if dec == nil {
		return nil
	}
	return dec.Discard()
}
