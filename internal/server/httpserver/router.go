package httpserver

import (
	"net/http"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/server/httpserver/handler"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
	"github.com/yndnr/memsnap-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Backend     artifact.Backend
	BackendName string

	Logger  logger.Logger
	Metrics *metric.Registry

	// ReadTokens may download and list artifacts. WriteTokens may also
	// upload and delete. Both empty disables authentication.
	ReadTokens  []string
	WriteTokens []string

	// WriteAllowList restricts PUT and DELETE to these IPs and CIDRs.
	WriteAllowList []string

	// RateLimit is the per-IP request rate. Zero disables limiting.
	RateLimit      float64
	RateLimitBurst int

	MaxArtifactSize   int64
	ValidateSnapshots bool
	ReadOnly          bool
}

// NewRouter wires the artifact API, health and metrics endpoints.
//
// Every route gets RequestID, Recover and AccessLog. Artifact routes add
// rate limiting and bearer auth; write routes add the network ACL.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	slogger := logger.Slog(log)

	h := handler.New(handler.Config{
		Backend:           cfg.Backend,
		BackendName:       cfg.BackendName,
		MaxArtifactSize:   cfg.MaxArtifactSize,
		ValidateSnapshots: cfg.ValidateSnapshots,
		ReadOnly:          cfg.ReadOnly,
		Logger:            slogger,
	})

	base := []Middleware{
		RequestID(log),
		Recover(slogger),
		AccessLog(cfg.Metrics),
	}
	with := func(extra ...Middleware) []Middleware {
		return append(append([]Middleware(nil), base...), extra...)
	}

	var limit []Middleware
	if cfg.RateLimit > 0 {
		limit = append(limit, RateLimit(cfg.RateLimit, cfg.RateLimitBurst))
	}

	public := with()
	var readers []Middleware
	var writers []Middleware
	if len(cfg.ReadTokens) == 0 && len(cfg.WriteTokens) == 0 {
		readers = with(limit...)
		writers = with(append(limit, NetworkACL(&NetworkACLConfig{AllowList: cfg.WriteAllowList, Logger: slogger}))...)
	} else {
		readTokens := append(append([]string(nil), cfg.ReadTokens...), cfg.WriteTokens...)
		readers = with(append(limit, BearerAuth(readTokens))...)
		writers = with(append(limit,
			NetworkACL(&NetworkACLConfig{AllowList: cfg.WriteAllowList, Logger: slogger}),
			BearerAuth(cfg.WriteTokens))...)
	}

	mux := http.NewServeMux()
	route := func(pattern string, fn http.HandlerFunc, mws []Middleware) {
		mux.Handle(pattern, Chain(fn, mws...))
	}

	route("GET /health", h.HandleHealth, public)
	route("GET /ready", h.HandleReady, public)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), public...))
	}

	route("GET /v1/artifacts", h.HandleList, readers)
	route("GET /v1/artifacts/{key}", h.HandleGet, readers)
	route("HEAD /v1/artifacts/{key}", h.HandleHead, readers)
	route("PUT /v1/artifacts/{key}", h.HandlePut, writers)
	route("DELETE /v1/artifacts/{key}", h.HandleDelete, writers)

	return mux
}
