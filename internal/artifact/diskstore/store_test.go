package diskstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
	"github.com/yndnr/memsnap-go/pkg/crypto/adaptive"
)

func newTestStore(t *testing.T, mutate func(*Config)) *Store {
	t.Helper()
	cfg := Config{Dir: t.TempDir(), RetentionCount: 2, VerifyOnOpen: true}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func readSource(t *testing.T, src codec.Source) []byte {
	t.Helper()
	defer src.Close()
	data, err := codec.ReadAll(src)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return data
}

func TestNew_RequiresDir(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() with empty dir error = nil, want error")
	}
}

func TestPutGet(t *testing.T) {
	for _, verifyOnOpen := range []bool{true, false} {
		s := newTestStore(t, func(c *Config) { c.VerifyOnOpen = verifyOnOpen })
		ctx := context.Background()
		data := bytes.Repeat([]byte{0xab}, 4096)

		info, err := s.Put(ctx, "baseline", data, codec.KindSnapshot)
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if info.Size != int64(len(data)) || info.Kind != codec.KindSnapshot || info.ID == "" {
			t.Fatalf("Put() info = %+v", info)
		}

		src, got, err := s.Get(ctx, "baseline")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ID != info.ID || got.Checksum != info.Checksum {
			t.Fatalf("Get() info = %+v, want %+v", got, info)
		}
		if !bytes.Equal(readSource(t, src), data) {
			t.Fatalf("Get(verify=%v) returned different bytes", verifyOnOpen)
		}
	}
}

func TestPut_Concurrent(t *testing.T) {
	s := newTestStore(t, func(c *Config) { c.RetentionCount = 10 })
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			if _, err := s.Put(ctx, key, bytes.Repeat([]byte{byte(i)}, 256), codec.KindSnapshot); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Put() error = %v", err)
	}

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 4 {
		t.Fatalf("List() = %d keys, want 4", len(infos))
	}
	gens, err := s.generations("k0")
	if err != nil {
		t.Fatalf("generations() error = %v", err)
	}
	if len(gens) != 4 {
		t.Fatalf("generations(k0) = %d, want 4", len(gens))
	}
}

func TestPut_AfterClose(t *testing.T) {
	s := newTestStore(t, nil)
	s.Close()
	_, err := s.Put(context.Background(), "baseline", []byte("x"), codec.KindUnknown)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Put() after Close error = %v, want ErrStoreUnavailable", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t, nil)
	if _, _, err := s.Get(context.Background(), "missing"); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Stat(context.Background(), "missing"); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("Stat() error = %v, want ErrNotFound", err)
	}
}

func TestPut_InvalidKey(t *testing.T) {
	s := newTestStore(t, nil)
	if _, err := s.Put(context.Background(), "../escape", []byte("x"), codec.KindUnknown); !errors.Is(err, domain.ErrInvalidArtifactKey) {
		t.Fatalf("Put() error = %v, want ErrInvalidArtifactKey", err)
	}
}

func TestGet_NewestGenerationWins(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", []byte("first"), codec.KindTestFixture); err != nil {
		t.Fatalf("Put(first) error = %v", err)
	}
	if _, err := s.Put(ctx, "k", []byte("second"), codec.KindTestFixture); err != nil {
		t.Fatalf("Put(second) error = %v", err)
	}
	src, _, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := string(readSource(t, src)); got != "second" {
		t.Fatalf("Get() = %q, want %q", got, "second")
	}
}

func TestGet_FallsBackOnCorruption(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", []byte("good"), codec.KindTestFixture); err != nil {
		t.Fatalf("Put(good) error = %v", err)
	}
	bad, err := s.Put(ctx, "k", []byte("newer"), codec.KindTestFixture)
	if err != nil {
		t.Fatalf("Put(newer) error = %v", err)
	}
	if err := os.WriteFile(s.artifactPath("k", bad.ID), []byte("NEWER"), 0640); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	src, info, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if info.ID == bad.ID {
		t.Fatal("Get() served the corrupted generation")
	}
	if got := string(readSource(t, src)); got != "good" {
		t.Fatalf("Get() = %q, want %q", got, "good")
	}
}

func TestStatListDelete(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	for _, key := range []string{"b", "a"} {
		if _, err := s.Put(ctx, key, []byte(key+"-data"), codec.KindTestFixture); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a" || infos[1].Key != "b" {
		t.Fatalf("List() = %+v, want keys [a b]", infos)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Artifacts != 2 || st.Bytes != int64(len("a-data")+len("b-data")) {
		t.Fatalf("Stats() = %+v", st)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() of a missing key error = %v, want nil", err)
	}
	if _, err := s.Stat(ctx, "a"); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("Stat() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t, func(c *Config) { c.RetentionCount = 2 })
	ctx := context.Background()
	var last artifact.Info
	for i := 0; i < 5; i++ {
		info, err := s.Put(ctx, "k", []byte{byte(i)}, codec.KindTestFixture)
		if err != nil {
			t.Fatalf("Put(%d) error = %v", i, err)
		}
		last = info
	}

	removed, err := s.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("Prune() removed = %d, want 3", removed)
	}
	gens, err := s.generations("k")
	if err != nil {
		t.Fatalf("generations() error = %v", err)
	}
	if len(gens) != 2 || gens[1].ID != last.ID {
		t.Fatalf("after Prune generations = %d (newest %s), want 2 (newest %s)", len(gens), gens[len(gens)-1].ID, last.ID)
	}
}

func TestPrune_RetentionDaysKeepsRecent(t *testing.T) {
	s := newTestStore(t, func(c *Config) {
		c.RetentionCount = 1
		c.RetentionDays = 1
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Put(ctx, "k", []byte{byte(i)}, codec.KindTestFixture); err != nil {
			t.Fatalf("Put(%d) error = %v", i, err)
		}
	}
	removed, err := s.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 0 {
		t.Fatalf("Prune() removed = %d, want 0", removed)
	}
}

func TestEncrypted(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	c, err := adaptive.New(key, adaptive.ChaCha20)
	if err != nil {
		t.Fatalf("adaptive.New() error = %v", err)
	}
	dir := t.TempDir()
	s, err := New(Config{Dir: dir, Cipher: c})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	plain := []byte("interpreter heap contents")

	info, err := s.Put(ctx, "baseline", plain, codec.KindSnapshot)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	onDisk, err := os.ReadFile(filepath.Join(dir, "baseline", info.ID+artifactExt))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if bytes.Contains(onDisk, plain) {
		t.Fatal("artifact stored in the clear")
	}

	src, _, err := s.Get(ctx, "baseline")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(readSource(t, src), plain) {
		t.Fatal("Get() did not return the plaintext")
	}

	plainStore, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatalf("New(no cipher) error = %v", err)
	}
	if _, _, err := plainStore.Get(ctx, "baseline"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Get() without key error = %v, want ErrStoreUnavailable", err)
	}
}

func TestOpenCipher_PassphrasePersistsSalt(t *testing.T) {
	dir := t.TempDir()
	p := adaptive.Params{Passphrase: []byte("correct horse battery")}

	c1, err := OpenCipher(dir, p)
	if err != nil {
		t.Fatalf("OpenCipher() error = %v", err)
	}
	salt, err := os.ReadFile(filepath.Join(dir, saltFile))
	if err != nil {
		t.Fatalf("salt file: %v", err)
	}
	if len(salt) != adaptive.SaltLength {
		t.Fatalf("len(salt) = %d, want %d", len(salt), adaptive.SaltLength)
	}

	s1, _ := New(Config{Dir: dir, Cipher: c1})
	if _, err := s1.Put(context.Background(), "baseline", []byte("heap"), codec.KindSnapshot); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	c2, err := OpenCipher(dir, p)
	if err != nil {
		t.Fatalf("OpenCipher(reopen) error = %v", err)
	}
	s2, _ := New(Config{Dir: dir, Cipher: c2})
	src, _, err := s2.Get(context.Background(), "baseline")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got := string(readSource(t, src)); got != "heap" {
		t.Fatalf("Get() = %q, want %q", got, "heap")
	}
}

func TestOpenCipher_Disabled(t *testing.T) {
	c, err := OpenCipher(t.TempDir(), adaptive.Params{})
	if err != nil || c != nil {
		t.Fatalf("OpenCipher(empty) = %v, %v, want nil, nil", c, err)
	}
}

func TestBind_CreateOnly(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	store, err := artifact.Bind(s, artifact.BaselineKey, artifact.BindOptions{Enabled: true, CreateOnly: true})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if !store.IsEnabled() {
		t.Fatal("IsEnabled() = false on an empty store")
	}
	ok, err := store.Upload(ctx, []byte("first"))
	if err != nil || !ok {
		t.Fatalf("Upload() = %v, %v, want true, nil", ok, err)
	}
	if store.IsEnabled() {
		t.Fatal("IsEnabled() = true after the artifact exists")
	}
	ok, err = store.Upload(ctx, []byte("second"))
	if err != nil || ok {
		t.Fatalf("second Upload() = %v, %v, want false, nil", ok, err)
	}

	src, kind, err := store.Open(ctx)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if kind != codec.KindUnknown {
		t.Fatalf("Open() kind = %v, want %v", kind, codec.KindUnknown)
	}
	if got := string(readSource(t, src)); got != "first" {
		t.Fatalf("Open() = %q, want %q", got, "first")
	}
}
