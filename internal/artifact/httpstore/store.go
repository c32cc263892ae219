// Package httpstore is an artifact.Backend that talks to a memsnap artifact
// service over HTTP.
//
// Routes:
//
//	PUT    /v1/artifacts/{key}   raw body, X-Artifact-Kind header
//	GET    /v1/artifacts/{key}   raw body, Info in X-Artifact-* headers
//	HEAD   /v1/artifacts/{key}
//	DELETE /v1/artifacts/{key}
//	GET    /v1/artifacts         JSON envelope with the artifact list
package httpstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/infra/buildinfo"
	"github.com/yndnr/memsnap-go/internal/infra/tlsroots"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
	"github.com/yndnr/memsnap-go/internal/telemetry/metric"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	backendName  = "http"
	artifactPath = "/v1/artifacts"
)

// Config configures the client.
type Config struct {
	// BaseURL of the artifact service. A missing scheme means http.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// CreateOnly makes Put fail with artifact.ErrExists instead of
	// replacing an existing artifact.
	CreateOnly bool
	// Timeout bounds each request. Zero means 60s.
	Timeout time.Duration
	// MaxArtifactSize rejects larger downloads before reading them.
	// Zero means no limit.
	MaxArtifactSize int64
	// CAFile adds a PEM bundle (or directory of bundles) to the trusted
	// roots for https URLs.
	CAFile string
	// ServerName overrides TLS verification of the service host.
	ServerName string

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metric.Registry
}

// Store is the HTTP artifact backend.
type Store struct {
	cfg     Config
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ artifact.Backend = (*Store)(nil)

// New validates cfg and returns a client.
func New(cfg Config) (*Store, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("httpstore: base url is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("httpstore: base url: %w", err)
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if strings.HasPrefix(base, "https://") && (cfg.CAFile != "" || cfg.ServerName != "") {
			tlsCfg, err := tlsroots.ClientConfig(cfg.ServerName, cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("httpstore: %w", err)
			}
			transport.TLSClientConfig = tlsCfg
		}
		client = &http.Client{Timeout: timeout, Transport: transport}
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Store{
		cfg:     cfg,
		baseURL: base,
		client:  client,
		logger:  l.With("backend", backendName),
	}, nil
}

// BaseURL returns the normalized service URL.
func (s *Store) BaseURL() string {
	return s.baseURL
}

// Put uploads data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, kind codec.Kind) (info artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "put", err) }()

	req, err := s.newRequest(ctx, http.MethodPut, key, bytes.NewReader(data))
	if err != nil {
		return artifact.Info{}, err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", artifact.ContentType)
	req.Header.Set(artifact.HeaderKind, kind.String())
	if s.cfg.CreateOnly {
		req.Header.Set("If-None-Match", "*")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return artifact.Info{}, domain.ErrStoreUnavailable.WithCause(err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return artifact.Info{}, err
	}

	var env envelope[artifact.Info]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return artifact.Info{}, fmt.Errorf("httpstore: decode put response: %w", err)
	}
	logger.L(ctx).Info("artifact uploaded", "key", key, "id", env.Data.ID, "size", len(data))
	return env.Data, nil
}

// Get downloads the artifact under key into memory.
func (s *Store) Get(ctx context.Context, key string) (src codec.Source, info artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "get", err) }()

	req, err := s.newRequest(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, artifact.Info{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, artifact.Info{}, domain.ErrStoreUnavailable.WithCause(err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, artifact.Info{}, err
	}

	if max := s.cfg.MaxArtifactSize; max > 0 && resp.ContentLength > max {
		return nil, artifact.Info{}, domain.ErrPayloadTooLarge.WithDetails(fmt.Sprintf("%d > %d bytes", resp.ContentLength, max))
	}

	var body io.Reader = resp.Body
	if max := s.cfg.MaxArtifactSize; max > 0 {
		body = io.LimitReader(resp.Body, max+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, artifact.Info{}, domain.ErrIOFailure.WithCause(err)
	}
	if max := s.cfg.MaxArtifactSize; max > 0 && int64(len(data)) > max {
		return nil, artifact.Info{}, domain.ErrPayloadTooLarge
	}
	if resp.ContentLength >= 0 && int64(len(data)) != resp.ContentLength {
		return nil, artifact.Info{}, domain.ErrIOFailure.WithDetails("short artifact body")
	}

	return codec.NewBytesSource(data), artifact.InfoFromHeaders(key, resp.Header, int64(len(data))), nil
}

// Stat issues a HEAD request.
func (s *Store) Stat(ctx context.Context, key string) (info artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "stat", err) }()

	req, err := s.newRequest(ctx, http.MethodHead, key, nil)
	if err != nil {
		return artifact.Info{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return artifact.Info{}, domain.ErrStoreUnavailable.WithCause(err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return artifact.Info{}, err
	}
	return artifact.InfoFromHeaders(key, resp.Header, resp.ContentLength), nil
}

// Delete removes the artifact under key.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "delete", err) }()

	req, err := s.newRequest(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return domain.ErrStoreUnavailable.WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkResponse(resp)
}

// List fetches every artifact's Info.
func (s *Store) List(ctx context.Context) (infos []artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "list", err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+artifactPath, nil)
	if err != nil {
		return nil, fmt.Errorf("httpstore: create request: %w", err)
	}
	s.addHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.ErrStoreUnavailable.WithCause(err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var env envelope[ListResponse]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("httpstore: decode list response: %w", err)
	}
	return env.Data.Artifacts, nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) newRequest(ctx context.Context, method, key string, body io.Reader) (*http.Request, error) {
	if err := artifact.ValidateKey(key); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+artifactPath+"/"+key, body)
	if err != nil {
		return nil, fmt.Errorf("httpstore: create request: %w", err)
	}
	s.addHeaders(req)
	if id := logger.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	return req, nil
}

func (s *Store) addHeaders(req *http.Request) {
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
}
