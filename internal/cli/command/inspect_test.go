package command

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
)

func TestEncodeThenInspect(t *testing.T) {
	dir := t.TempDir()
	heap := writeFile(t, filepath.Join(dir, "heap.bin"), bytes.Repeat([]byte{0xab}, 4096))
	art := filepath.Join(dir, "baseline.snap")

	mustRun(t, "encode",
		"--heap", heap,
		"--dso", "/lib/libx.so=3,7",
		"--dso", "/lib/liby.so=0,2",
		"--out", art)

	var got artifactSummary
	decodeJSON(t, mustRun(t, "-o", "json", "inspect", art), &got)
	want := domain.DsoMetadata{"/lib/libx.so": {3, 7}, "/lib/liby.so": {2}}
	if got.Kind != codec.KindSnapshot {
		t.Errorf("Kind = %v, want snapshot", got.Kind)
	}
	if got.HeapSize != 4096 || got.HeapPages != 1 {
		t.Errorf("heap = %d bytes / %d pages, want 4096 / 1", got.HeapSize, got.HeapPages)
	}
	if got.Size != int64(got.HeaderSize)+4096 {
		t.Errorf("Size = %d, want header %d + heap", got.Size, got.HeaderSize)
	}
	if got.HeaderSize%8 != 0 {
		t.Errorf("HeaderSize = %d, want a multiple of 8", got.HeaderSize)
	}
	if got.Libraries != 2 || got.Handles != 3 {
		t.Errorf("libraries/handles = %d/%d, want 2/3", got.Libraries, got.Handles)
	}
	if !got.Dso.Equal(want) {
		t.Errorf("Dso = %v, want %v", got.Dso, want)
	}

	table := mustRun(t, "inspect", art)
	for _, s := range []string{"snapshot", "4.0 KiB", "LIBRARY", "/lib/libx.so", "3,7"} {
		if !strings.Contains(table, s) {
			t.Errorf("table output missing %q:\n%s", s, table)
		}
	}
}

func TestInspect_TestFixture(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "fixture"), []byte("fixture"))

	var got artifactSummary
	decodeJSON(t, mustRun(t, "-o", "json", "inspect", path), &got)
	if got.Kind != codec.KindTestFixture || got.Payload != "fixture" {
		t.Fatalf("inspect = %+v, want test fixture payload", got)
	}

	if _, err := runCLI(t, "inspect", "--kind", "snapshot", path); err == nil {
		t.Fatal("inspect --kind snapshot of a fixture should fail to decode")
	}
}

func TestInspect_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no file", []string{"inspect"}},
		{"missing file", []string{"inspect", filepath.Join(t.TempDir(), "absent")}},
		{"bad kind", []string{"inspect", "--kind", "heap", "x"}},
		{"encode missing heap", []string{"encode", "--heap", filepath.Join(t.TempDir(), "absent"), "--out", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, tt.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseDsoFlags(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    domain.DsoMetadata
		wantErr bool
	}{
		{"empty", nil, domain.DsoMetadata{}, false},
		{"one", []string{"/a.so=1"}, domain.DsoMetadata{"/a.so": {1}}, false},
		{"many", []string{"/a.so=1, 2", "/b.so=9"}, domain.DsoMetadata{"/a.so": {1, 2}, "/b.so": {9}}, false},
		{"global dropped", []string{"/a.so=0"}, domain.DsoMetadata{}, false},
		{"no handles", []string{"/a.so"}, nil, true},
		{"no path", []string{"=1"}, nil, true},
		{"not a number", []string{"/a.so=x"}, nil, true},
		{"overflow", []string{"/a.so=4294967296"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDsoFlags(tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDsoFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Fatalf("parseDsoFlags() = %v, want %v", got, tt.want)
			}
		})
	}
}
