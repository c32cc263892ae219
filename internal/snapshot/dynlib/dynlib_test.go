package dynlib

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
)

func buildTar(t *testing.T, files map[string]string, dirs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, d := range dirs {
		if err := tw.WriteHeader(&tar.Header{Name: d + "/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
			t.Fatalf("WriteHeader(%s) error = %v", d, err)
		}
	}
	for _, name := range sortedKeys(files) {
		body := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}); err != nil {
			t.Fatalf("WriteHeader(%s) error = %v", name, err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("Write(%s) error = %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close() error = %v", err)
	}
	return buf.Bytes()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var testFiles = map[string]string{
	"numpy/core/_multiarray_umath.so": "\x00asm-multiarray",
	"numpy/linalg/_umath_linalg.so":   "\x00asm-linalg",
	"./regex/_regex.so":               "\x00asm-regex",
	"README.txt":                      "not a library",
}

func TestBuildIndex(t *testing.T) {
	data := buildTar(t, testFiles, "numpy", "numpy/core")
	ix, err := BuildIndex(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	if ix.Len() != 4 {
		t.Errorf("Len() = %d, want 4", ix.Len())
	}

	tests := []struct {
		path string
		want string
	}{
		{"numpy/core/_multiarray_umath.so", testFiles["numpy/core/_multiarray_umath.so"]},
		{"regex/_regex.so", testFiles["./regex/_regex.so"]},
		{"README.txt", "not a library"},
	}
	for _, tt := range tests {
		r, err := ix.Lookup(ParseEntry(tt.path))
		if err != nil {
			t.Fatalf("Lookup(%s) error = %v", tt.path, err)
		}
		got := string(data[r.ContentsOffset : r.ContentsOffset+r.Size])
		if got != tt.want {
			t.Errorf("contents of %s = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestIndex_LookupMiss(t *testing.T) {
	ix, err := NewIndex(map[string]Range{"a/b.so": {ContentsOffset: 0, Size: 1}})
	if err != nil {
		t.Fatalf("NewIndex() error = %v", err)
	}
	for _, p := range []string{"a/c.so", "a", "x/y/z"} {
		if _, err := ix.Lookup(ParseEntry(p)); !errors.Is(err, domain.ErrLibraryNotFound) {
			t.Errorf("Lookup(%s) error = %v, want ErrLibraryNotFound", p, err)
		}
	}
}

func TestNewIndex_Conflicts(t *testing.T) {
	if _, err := NewIndex(map[string]Range{"a": {}, "a/b": {}}); err == nil {
		t.Error("NewIndex() with file used as directory: error = nil")
	}
}

func TestIndex_JSONRoundTrip(t *testing.T) {
	ix, _ := NewIndex(map[string]Range{
		"b/lib.so": {ContentsOffset: 1024, Size: 10},
		"a/lib.so": {ContentsOffset: 512, Size: 20},
	})
	var buf bytes.Buffer
	if err := ix.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if got := buf.String(); got != `{"a/lib.so":{"offset":512,"size":20},"b/lib.so":{"offset":1024,"size":10}}`+"\n" {
		t.Errorf("WriteJSON() = %s", got)
	}

	back, err := LoadIndex(&buf)
	if err != nil {
		t.Fatalf("LoadIndex() error = %v", err)
	}
	var paths []string
	_ = back.Walk(func(p string, _ Range) error {
		paths = append(paths, p)
		return nil
	})
	if len(paths) != 2 || paths[0] != "a/lib.so" || paths[1] != "b/lib.so" {
		t.Errorf("Walk() paths = %v", paths)
	}
}

type registered struct {
	path string
	wasm string
}

func TestPreload(t *testing.T) {
	data := buildTar(t, testFiles)
	ix, err := BuildIndex(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}

	var got []registered
	register := func(_ context.Context, path string, wasm []byte) error {
		got = append(got, registered{path, string(wasm)})
		return nil
	}

	entries := ParseEntries([]string{"regex/_regex.so", "numpy/core/_multiarray_umath.so", ""})
	n, err := Preload(context.Background(), ix, entries, bytes.NewReader(data), register)
	if err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Preload() = %d, want 2", n)
	}
	want := []registered{
		{"/lib/python3.12/site-packages/regex/_regex.so", "\x00asm-regex"},
		{"/lib/python3.12/site-packages/numpy/core/_multiarray_umath.so", "\x00asm-multiarray"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("registered[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPreload_CustomRoot(t *testing.T) {
	ix, _ := NewIndex(map[string]Range{"x.so": {ContentsOffset: 0, Size: 3}})
	var path string
	_, err := Preloader{Root: "/site"}.Run(context.Background(), ix, []Entry{{"x.so"}},
		codec.NewBytesSource([]byte("abc")), func(_ context.Context, p string, _ []byte) error {
			path = p
			return nil
		})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if path != "/site/x.so" {
		t.Errorf("path = %q, want /site/x.so", path)
	}
}

func TestPreload_Failures(t *testing.T) {
	ix, _ := NewIndex(map[string]Range{
		"ok.so":    {ContentsOffset: 0, Size: 4},
		"short.so": {ContentsOffset: 2, Size: 100},
	})
	archive := []byte("wasmwasm")
	okRegister := func(context.Context, string, []byte) error { return nil }
	errRegister := errors.New("compile failed")

	tests := []struct {
		name     string
		entries  []Entry
		register RegisterFunc
		wantN    int
		wantErr  error
	}{
		{"missing", []Entry{{"ok.so"}, {"nope.so"}}, okRegister, 1, domain.ErrLibraryNotFound},
		{"short read", []Entry{{"short.so"}}, okRegister, 0, domain.ErrIOFailure},
		{"register", []Entry{{"ok.so"}}, func(context.Context, string, []byte) error { return errRegister }, 0, errRegister},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Preload(context.Background(), ix, tt.entries, bytes.NewReader(archive), tt.register)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Preload() error = %v, want %v", err, tt.wantErr)
			}
			if n != tt.wantN {
				t.Errorf("Preload() registered %d, want %d", n, tt.wantN)
			}
		})
	}
}

func TestPreload_Cancelled(t *testing.T) {
	ix, _ := NewIndex(map[string]Range{"ok.so": {Size: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Preload(ctx, ix, []Entry{{"ok.so"}}, bytes.NewReader([]byte("x")), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Preload() error = %v, want context.Canceled", err)
	}
}
