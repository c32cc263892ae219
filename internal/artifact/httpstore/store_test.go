package httpstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/artifact/diskstore"
	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/server/httpserver/handler"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newService starts an artifact service backed by a disk store. wrap, when
// set, decorates the service handler.
func newService(t *testing.T, wrap func(http.Handler) http.Handler) *httptest.Server {
	t.Helper()
	backend, err := diskstore.New(diskstore.Config{Dir: t.TempDir(), VerifyOnOpen: true, Logger: quiet()})
	if err != nil {
		t.Fatalf("diskstore.New() error = %v", err)
	}
	var h http.Handler = handler.New(handler.Config{Backend: backend, BackendName: "disk", Logger: quiet()})
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, mutate func(*Config)) *Store {
	t.Helper()
	cfg := Config{BaseURL: srv.URL, Logger: quiet()}
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
	b, err := codec.ReadAll(src)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return b
}

func TestNewBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://store:8080/", "http://store:8080", false},
		{"store:8080", "http://store:8080", false},
		{"https://store.internal", "https://store.internal", false},
		{"", "", true},
	}
	for _, tt := range tests {
		s, err := New(Config{BaseURL: tt.in})
		if (err != nil) != tt.wantErr {
			t.Fatalf("New(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && s.BaseURL() != tt.want {
			t.Fatalf("New(%q).BaseURL() = %q, want %q", tt.in, s.BaseURL(), tt.want)
		}
	}
}

func TestNewBadCAFile(t *testing.T) {
	_, err := New(Config{BaseURL: "https://store.internal", CAFile: "/nonexistent/ca.pem"})
	if err == nil {
		t.Fatal("New() with missing CA file succeeded")
	}
	// CA settings are ignored for plain http.
	if _, err := New(Config{BaseURL: "http://store.internal", CAFile: "/nonexistent/ca.pem"}); err != nil {
		t.Fatalf("New(http) error = %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	srv := newService(t, nil)
	s := newClient(t, srv, nil)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("heap"), 64)
	info, err := s.Put(ctx, "baseline", payload, codec.KindSnapshot)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Key != "baseline" || info.Size != int64(len(payload)) || info.ID == "" {
		t.Fatalf("Put() = %+v", info)
	}

	src, got, err := s.Get(ctx, "baseline")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data := readSource(t, src); !bytes.Equal(data, payload) {
		t.Fatalf("Get() returned %d bytes, want %d", len(data), len(payload))
	}
	if got.Kind != codec.KindSnapshot {
		t.Fatalf("Get() kind = %v, want %v", got.Kind, codec.KindSnapshot)
	}
	if got.ID != info.ID || got.Checksum != info.Checksum {
		t.Fatalf("Get() info = %+v, want id %s checksum %s", got, info.ID, info.Checksum)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("Get() info has no CreatedAt")
	}

	st, err := s.Stat(ctx, "baseline")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if st.Size != int64(len(payload)) || st.Checksum != info.Checksum {
		t.Fatalf("Stat() = %+v", st)
	}

	if _, err := s.Put(ctx, "fixture", []byte("tiny"), codec.KindUnknown); err != nil {
		t.Fatalf("Put(fixture) error = %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Key != "baseline" || list[1].Key != "fixture" {
		t.Fatalf("List() = %+v, want baseline and fixture", list)
	}

	if err := s.Delete(ctx, "baseline"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, _, err := s.Get(ctx, "baseline"); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.Stat(ctx, "baseline"); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("Stat() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "baseline"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func TestInvalidKeyNeverLeavesProcess(t *testing.T) {
	var hits int
	srv := newService(t, func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			h.ServeHTTP(w, r)
		})
	})
	s := newClient(t, srv, nil)

	_, err := s.Put(context.Background(), "../etc", []byte("x"), codec.KindUnknown)
	if !errors.Is(err, domain.ErrInvalidArtifactKey) {
		t.Fatalf("Put() error = %v, want invalid key", err)
	}
	if hits != 0 {
		t.Fatalf("server saw %d requests, want 0", hits)
	}
}

func TestCreateOnly(t *testing.T) {
	srv := newService(t, nil)
	s := newClient(t, srv, func(c *Config) { c.CreateOnly = true })
	ctx := context.Background()

	if _, err := s.Put(ctx, "baseline", []byte("first"), codec.KindTestFixture); err != nil {
		t.Fatalf("first Put() error = %v", err)
	}
	if _, err := s.Put(ctx, "baseline", []byte("second"), codec.KindTestFixture); !errors.Is(err, artifact.ErrExists) {
		t.Fatalf("second Put() error = %v, want ErrExists", err)
	}
	src, _, err := s.Get(ctx, "baseline")
	if err != nil {
		t.Fatal(err)
	}
	if got := string(readSource(t, src)); got != "first" {
		t.Fatalf("stored = %q, want %q", got, "first")
	}
}

func TestBearerTokenAndHeaders(t *testing.T) {
	var gotAuth, gotUA, gotReqID string
	srv := newService(t, func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotUA = r.Header.Get("User-Agent")
			gotReqID = r.Header.Get("X-Request-ID")
			if gotAuth != "Bearer secret-token" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"code":"MS-AUTH-4010","message":"missing credentials"}`)
				return
			}
			h.ServeHTTP(w, r)
		})
	})

	ctx := logger.WithRequestID(context.Background(), "req-123")

	anon := newClient(t, srv, nil)
	_, err := anon.List(ctx)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("List() without token error = %v, want ErrStoreUnavailable", err)
	}
	if !strings.Contains(err.Error(), "MS-AUTH-4010") {
		t.Fatalf("List() error %q does not carry the service code", err)
	}

	authed := newClient(t, srv, func(c *Config) { c.Token = "secret-token" })
	if _, err := authed.Stat(ctx, "missing"); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("Stat() error = %v, want ErrNotFound", err)
	}
	if !strings.HasPrefix(gotUA, "memsnap/") {
		t.Fatalf("User-Agent = %q, want memsnap/ prefix", gotUA)
	}
	if gotReqID != "req-123" {
		t.Fatalf("X-Request-ID = %q, want %q", gotReqID, "req-123")
	}
}

func TestMaxArtifactSize(t *testing.T) {
	srv := newService(t, nil)
	writer := newClient(t, srv, nil)
	reader := newClient(t, srv, func(c *Config) { c.MaxArtifactSize = 64 })
	ctx := context.Background()

	if _, err := writer.Put(ctx, "big", make([]byte, 1024), codec.KindSnapshot); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reader.Get(ctx, "big"); !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("Get() error = %v, want ErrPayloadTooLarge", err)
	}

	if _, err := writer.Put(ctx, "small", make([]byte, 32), codec.KindTestFixture); err != nil {
		t.Fatal(err)
	}
	src, _, err := reader.Get(ctx, "small")
	if err != nil {
		t.Fatalf("Get(small) error = %v", err)
	}
	src.Close()
}

func TestServiceDown(t *testing.T) {
	srv := newService(t, nil)
	s := newClient(t, srv, nil)
	srv.Close()

	if _, err := s.List(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("List() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestBindOverHTTP(t *testing.T) {
	srv := newService(t, nil)
	s := newClient(t, srv, nil)

	st, err := artifact.Bind(s, artifact.BaselineKey, artifact.BindOptions{Enabled: true, CreateOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsEnabled() {
		t.Fatal("IsEnabled() = false for an empty service")
	}
	ok, err := st.Upload(context.Background(), []byte("fixture"))
	if err != nil || !ok {
		t.Fatalf("Upload() = %v, %v", ok, err)
	}
	if st.IsEnabled() {
		t.Fatal("IsEnabled() = true after the key exists")
	}
	src, kind, err := st.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()
	if got := codec.Classify(src.Size(), kind); got != codec.KindTestFixture {
		t.Fatalf("Classify() = %v, want test fixture", got)
	}
}
