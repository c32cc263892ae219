package command

import (
	"fmt"
	"io"
	"os"

	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/artifact/backends"
	"github.com/yndnr/memsnap-go/internal/artifact/httpstore"
	"github.com/yndnr/memsnap-go/internal/host"
	"github.com/yndnr/memsnap-go/internal/server/config"
	"github.com/yndnr/memsnap-go/internal/snapshot/dynlib"
	"github.com/yndnr/memsnap-go/internal/snapshot/lifecycle"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
)

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start one interpreter instance, restoring or capturing its snapshot",
		Description: "Settings come from the snapshot section of --config; flags override them.\n" +
			"   A cold start bootstraps the interpreter, captures its memory and uploads it\n" +
			"   once the script ran. A warm start restores the stored snapshot instead.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "interpreter", Usage: "Interpreter wasm module"},
			&cli.StringFlag{Name: "archive", Usage: "Site-packages tar archive"},
			&cli.StringFlag{Name: "index", Usage: "Prebuilt archive index (default: scan the archive)"},
			&cli.StringSliceFlag{Name: "preload", Usage: "Library to load before start, relative to site-packages"},
			&cli.StringFlag{Name: "script", Usage: "Script to run after start"},
			&cli.StringFlag{Name: "key", Usage: "Artifact key (default: snapshot.key)"},
			&cli.BoolFlag{Name: "dedicated", Usage: "Capture a snapshot specialized to --script"},
			&cli.BoolFlag{Name: "upload", Usage: "Upload the captured snapshot"},
			&cli.BoolFlag{Name: "validating", Usage: "Keep the captured snapshot for validation"},
			&cli.BoolFlag{Name: "create-only", Usage: "Never replace an existing snapshot"},
			&cli.BoolFlag{Name: "no-snapshot", Usage: "Start without any artifact store"},
		},
		Action: runInstance,
	}
}

// runResult reports how the instance started.
type runResult struct {
	InstanceID   string   `json:"instance_id"`
	Key          string   `json:"key,omitempty"`
	State        string   `json:"state"`
	Restored     bool     `json:"restored"`
	Captured     bool     `json:"captured"`
	TestMode     bool     `json:"test_mode"`
	SnapshotSize int64    `json:"snapshot_size" table:"bytes"`
	MemorySize   uint32   `json:"memory_size" table:"bytes"`
	Libraries    int      `json:"libraries"`
	WarmedUp     []string `json:"warmed_up,omitempty"`
	WarmupFailed []string `json:"warmup_failed,omitempty"`
}

// runOverrides maps the flags that were set onto configuration keys.
func runOverrides(c *cli.Context) map[string]any {
	out := map[string]any{}
	for flag, key := range map[string]string{
		"interpreter": "snapshot.interpreter",
		"archive":     "snapshot.archive",
		"index":       "snapshot.index",
		"key":         "snapshot.key",
	} {
		if c.IsSet(flag) {
			out[key] = c.String(flag)
		}
	}
	for flag, key := range map[string]string{
		"dedicated":   "snapshot.dedicated",
		"upload":      "snapshot.upload_enabled",
		"validating":  "snapshot.validating",
		"create-only": "snapshot.create_only",
	} {
		if c.IsSet(flag) {
			out[key] = c.Bool(flag)
		}
	}
	if c.IsSet("preload") {
		out["snapshot.preload"] = c.StringSlice("preload")
	}
	flags := ParseGlobalFlags(c)
	if flags.Server != "" {
		out["snapshot.store_url"] = flags.Server
		out["snapshot.store_timeout"] = flags.Timeout.String()
		if flags.Token != "" {
			out["snapshot.store_token"] = flags.Token
		}
		if flags.CAFile != "" {
			out["snapshot.store_ca_file"] = flags.CAFile
		}
	}
	return out
}

func runInstance(c *cli.Context) error {
	cfg, err := loadConfig(c, runOverrides(c))
	if err != nil {
		return err
	}
	if err := config.VerifySnapshot(cfg); err != nil {
		return fmt.Errorf("invalid snapshot configuration: %w", err)
	}
	snap := cfg.Snapshot

	id := ulid.Make().String()
	ctx := logger.WithInstanceID(c.Context, id)
	log := logger.L(ctx)

	wasm, err := os.ReadFile(snap.Interpreter)
	if err != nil {
		return fmt.Errorf("read interpreter: %w", err)
	}
	var script []byte
	if p := c.String("script"); p != "" {
		if script, err = os.ReadFile(p); err != nil {
			return fmt.Errorf("read script: %w", err)
		}
	}

	lcfg := lifecycle.Config{
		Preload:          dynlib.ParseEntries(snap.Preload),
		SitePackagesRoot: snap.SitePackagesRoot,
		Dedicated:        snap.Dedicated,
		Script:           string(script),
		Logger:           log,
	}
	if snap.Archive != "" {
		archive, ix, err := openArchive(snap.Archive, snap.Index)
		if err != nil {
			return err
		}
		defer archive.Close()
		lcfg.Archive = archive
		lcfg.Index = ix
	}

	result := runResult{InstanceID: id}
	if !c.Bool("no-snapshot") {
		key := snap.Key
		if snap.Dedicated && len(script) > 0 && !c.IsSet("key") {
			key = artifact.DedicatedKey(script, snap.Preload)
		}
		backend, err := openSnapshotBackend(cfg)
		if err != nil {
			return err
		}
		defer backend.Close()
		store, err := artifact.Bind(backend, key, artifact.BindOptions{
			Enabled:    snap.UploadEnabled,
			Validating: snap.Validating,
			CreateOnly: snap.CreateOnly,
		})
		if err != nil {
			return err
		}
		lcfg.Store = store
		result.Key = key
	}

	h := host.New(ctx, host.WithLogger(log))
	defer h.Close(ctx)

	ctrl, err := lifecycle.New(ctx, lcfg)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	boot, err := lifecycle.Boot(ctx, ctrl, h, wasm)
	if err != nil {
		return err
	}
	defer boot.Instance.Close(ctx)

	if len(script) > 0 {
		if err := boot.Instance.RunCode(ctx, string(script)); err != nil {
			return fmt.Errorf("run script: %w", err)
		}
	}
	if err := ctrl.UploadArtifacts(ctx); err != nil {
		return err
	}

	result.State = ctrl.State().String()
	result.Restored = boot.Restored
	result.Captured = boot.Captured
	result.TestMode = boot.TestMode
	result.SnapshotSize = ctrl.SnapshotSize()
	result.MemorySize = boot.Instance.MemorySize()
	result.Libraries = h.Libraries()
	if report := ctrl.Warmup(); report != nil {
		result.WarmedUp = report.Succeeded()
		for _, f := range report.Failed() {
			result.WarmupFailed = append(result.WarmupFailed, f.Module)
		}
	}
	return printResult(c, result)
}

type archiveFile interface {
	io.ReaderAt
	io.Closer
}

// openArchive opens the site-packages archive and its index, building the
// index when no prebuilt one is given.
func openArchive(path, indexPath string) (archiveFile, *dynlib.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	var ix *dynlib.Index
	if indexPath != "" {
		ix, err = loadIndexFile(indexPath)
	} else {
		var st os.FileInfo
		if st, err = f.Stat(); err == nil {
			ix, err = dynlib.BuildIndex(f, st.Size())
		}
	}
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, ix, nil
}

// openSnapshotBackend returns the artifact service client when a store URL
// is configured and the local storage backend otherwise.
func openSnapshotBackend(cfg *config.ServerConfig) (artifact.Backend, error) {
	slogger := logger.Slog(logger.Default())
	s := cfg.Snapshot
	if s.StoreURL != "" {
		store, err := httpstore.New(httpstore.Config{
			BaseURL:    s.StoreURL,
			Token:      s.StoreToken,
			CAFile:     s.StoreCAFile,
			Timeout:    s.StoreTimeout,
			CreateOnly: s.CreateOnly,
			Logger:     slogger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	opened, err := backends.Open(cfg.Storage, slogger, nil)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return opened, nil
}
