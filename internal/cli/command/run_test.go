package command

import (
	"path/filepath"
	"testing"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/host"
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

func setupRun(t *testing.T) (dir, cfg string) {
	t.Helper()
	dir = t.TempDir()
	writeFile(t, filepath.Join(dir, "interpreter.wasm"), interpreterModule)
	return dir, writeConfig(t, dir)
}

func TestRun_CaptureThenRestore(t *testing.T) {
	_, cfg := setupRun(t)

	var cold runResult
	decodeJSON(t, mustRun(t, "-c", cfg, "-o", "json", "run", "--upload"), &cold)
	if !cold.Captured || cold.Restored || cold.State != "uploaded" {
		t.Fatalf("cold start = %+v, want captured and uploaded", cold)
	}
	if cold.Key != artifact.BaselineKey || cold.InstanceID == "" {
		t.Fatalf("cold start key/id = %q/%q", cold.Key, cold.InstanceID)
	}

	var rows []artifactRow
	decodeJSON(t, mustRun(t, "-c", cfg, "-o", "json", "store", "ls"), &rows)
	if len(rows) != 1 || rows[0].Key != artifact.BaselineKey {
		t.Fatalf("store after cold start = %+v", rows)
	}

	var warm runResult
	decodeJSON(t, mustRun(t, "-c", cfg, "-o", "json", "run", "--upload"), &warm)
	if !warm.Restored || warm.Captured || warm.State != "restored" {
		t.Fatalf("warm start = %+v, want restored", warm)
	}
	if warm.SnapshotSize != host.PageSize {
		t.Errorf("SnapshotSize = %d, want one page of heap", warm.SnapshotSize)
	}
	if int64(warm.MemorySize) < warm.SnapshotSize {
		t.Errorf("MemorySize = %d, smaller than the restored heap", warm.MemorySize)
	}
	if warm.InstanceID == cold.InstanceID {
		t.Error("instances should get distinct ids")
	}
}

func TestRun_UploadDisabled(t *testing.T) {
	_, cfg := setupRun(t)

	var res runResult
	decodeJSON(t, mustRun(t, "-c", cfg, "-o", "json", "run"), &res)
	if res.Captured || res.Restored {
		t.Fatalf("run = %+v, want neither capture nor restore", res)
	}
	var rows []artifactRow
	decodeJSON(t, mustRun(t, "-c", cfg, "-o", "json", "store", "ls"), &rows)
	if len(rows) != 0 {
		t.Fatalf("store = %+v, want empty", rows)
	}
}

func TestRun_DedicatedKey(t *testing.T) {
	dir, cfg := setupRun(t)
	script := writeFile(t, filepath.Join(dir, "main.py"), []byte("import json\nprint(json.dumps({}))\n"))

	var res runResult
	decodeJSON(t, mustRun(t, "-c", cfg, "-o", "json", "run", "--dedicated", "--upload", "--script", script), &res)
	want := artifact.DedicatedKey([]byte("import json\nprint(json.dumps({}))\n"), nil)
	if res.Key != want || !res.Captured {
		t.Fatalf("run = %+v, want capture under %q", res, want)
	}
	if len(res.WarmedUp) != 1 || res.WarmedUp[0] != "json" {
		t.Fatalf("WarmedUp = %v, want [json]", res.WarmedUp)
	}
}

func TestRun_NoSnapshot(t *testing.T) {
	_, cfg := setupRun(t)

	var res runResult
	decodeJSON(t, mustRun(t, "-c", cfg, "-o", "json", "run", "--no-snapshot", "--upload"), &res)
	if res.Key != "" || res.Captured || res.Restored || res.State != "bootstrapped" {
		t.Fatalf("run = %+v, want snapshots disabled", res)
	}
}

func TestRun_Errors(t *testing.T) {
	dir, cfg := setupRun(t)
	tests := []struct {
		name string
		args []string
	}{
		{"missing interpreter", []string{"-c", cfg, "run", "--interpreter", filepath.Join(dir, "absent.wasm")}},
		{"preload without archive", []string{"-c", cfg, "run", "--preload", "pkg/_ext.so"}},
		{"bad key", []string{"-c", cfg, "run", "--key", "../x"}},
		{"missing script", []string{"-c", cfg, "run", "--script", filepath.Join(dir, "absent.py")}},
		{"missing archive", []string{"-c", cfg, "run", "--archive", filepath.Join(dir, "absent.tar")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, tt.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
