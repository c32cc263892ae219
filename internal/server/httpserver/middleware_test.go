package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
	"github.com/yndnr/memsnap-go/internal/telemetry/metric"
	"github.com/yndnr/memsnap-go/pkg/token"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok")
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	serve(Chain(okHandler, mark("a"), mark("b"), mark("c")), httptest.NewRequest(http.MethodGet, "/", nil))
	if got := strings.Join(order, ","); got != "a,b,c" {
		t.Fatalf("order = %s, want a,b,c", got)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
		if _, ok := r.Context().Value(ContextKeyStartTime).(time.Time); !ok {
			t.Error("start time missing from context")
		}
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(seen, "req-") {
		t.Fatalf("generated request id = %q, want req- prefix", seen)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("X-Request-ID = %q, want %q", rec.Header().Get("X-Request-ID"), seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-7")
	serve(h, req)
	if seen != "caller-7" {
		t.Fatalf("propagated request id = %q, want caller-7", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	serve(h, req)
	if !strings.HasPrefix(seen, "req-") {
		t.Fatalf("oversized request id kept: %q", seen)
	}
}

func TestBearerAuth(t *testing.T) {
	h := BearerAuth([]string{"alpha", "", "beta", token.Hash("delta")})(okHandler)

	tests := []struct {
		name   string
		header string
		want   int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "MS-AUTH-4010"},
		{"wrong scheme", "Basic alpha", http.StatusUnauthorized, "MS-AUTH-4010"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "MS-AUTH-4010"},
		{"unknown", "Bearer gamma", http.StatusUnauthorized, "MS-AUTH-4011"},
		{"first", "Bearer alpha", http.StatusOK, ""},
		{"second", "Bearer beta", http.StatusOK, ""},
		{"hashed entry", "Bearer delta", http.StatusOK, ""},
		{"hash itself", "Bearer " + token.Hash("delta"), http.StatusUnauthorized, "MS-AUTH-4011"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(h, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := rec.Header().Get("X-Error-Code"); got != tt.code {
				t.Fatalf("X-Error-Code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestBearerAuthDisabled(t *testing.T) {
	h := BearerAuth([]string{""})(okHandler)
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil)); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with no tokens configured", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2)(okHandler)

	from := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":5000"
		return req
	}
	for i := 0; i < 2; i++ {
		if rec := serve(h, from("10.0.0.1")); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
	rec := serve(h, from("10.0.0.1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("burst+1 status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 without Retry-After")
	}
	if rec := serve(h, from("10.0.0.2")); rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
}

func TestNetworkACL(t *testing.T) {
	h := NetworkACL(&NetworkACLConfig{
		AllowList: []string{"10.1.0.0/16", "192.168.1.5", "::1", "not-an-ip"},
		Logger:    quiet(),
	})(okHandler)

	tests := []struct {
		remote string
		want   int
	}{
		{"10.1.2.3:1000", http.StatusOK},
		{"10.2.0.1:1000", http.StatusForbidden},
		{"192.168.1.5:1000", http.StatusOK},
		{"192.168.1.6:1000", http.StatusForbidden},
		{"[::1]:1000", http.StatusOK},
		{"garbage", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPut, "/", nil)
		req.RemoteAddr = tt.remote
		if rec := serve(h, req); rec.Code != tt.want {
			t.Errorf("%s status = %d, want %d", tt.remote, rec.Code, tt.want)
		}
	}

	open := NetworkACL(&NetworkACLConfig{})(okHandler)
	if rec := serve(open, httptest.NewRequest(http.MethodPut, "/", nil)); rec.Code != http.StatusOK {
		t.Fatalf("empty allow list status = %d, want 200", rec.Code)
	}
}

func TestRecover(t *testing.T) {
	h := Recover(quiet())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestAccessLogMetrics(t *testing.T) {
	reg := metric.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("GET /v1/artifacts/{key}", Chain(okHandler, AccessLog(reg)))
	missing := Chain(mux, AccessLog(reg))

	serve(mux, httptest.NewRequest(http.MethodGet, "/v1/artifacts/a", nil))
	serve(mux, httptest.NewRequest(http.MethodGet, "/v1/artifacts/b", nil))
	serve(missing, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if got := testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("GET", "GET /v1/artifacts/{key}", "200")); got != 2 {
		t.Fatalf("requests for route = %v, want 2", got)
	}
	if got := testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("unmatched requests = %v, want 1", got)
	}
}

func TestResponseWriterKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	w.WriteHeader(http.StatusCreated)
	w.WriteHeader(http.StatusTeapot)
	w.Write([]byte("abc"))
	if w.statusCode != http.StatusCreated || w.written != 3 {
		t.Fatalf("status %d written %d, want 201 and 3", w.statusCode, w.written)
	}
	if w.Unwrap() != rec {
		t.Fatal("Unwrap() did not return the underlying writer")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		hdr    map[string]string
		want   string
	}{
		{"remote addr", "10.0.0.1:1234", nil, "10.0.0.1"},
		{"ipv6", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"forwarded", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.9"}, "1.2.3.4"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "5.6.7.8"}, "5.6.7.8"},
		{"no port", "unix", nil, "unix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.hdr {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Fatalf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
