package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxArtifactSize bounds an upload when Config leaves it unset.
const DefaultMaxArtifactSize = 512 << 20

// Config configures the handler.
type Config struct {
	Backend     artifact.Backend
	BackendName string
	// MaxArtifactSize bounds PUT bodies.
	MaxArtifactSize int64
	// ValidateSnapshots rejects snapshot uploads whose header does not
	// decode.
	ValidateSnapshots bool
	// ReadOnly rejects PUT and DELETE.
	ReadOnly bool
	Logger   *slog.Logger
}

// Handler serves the artifact API.
type Handler struct {
	backend  artifact.Backend
	cfg      Config
	logger   *slog.Logger
	mux      *http.ServeMux
	maxBytes int64
}

// New creates a handler over cfg.Backend.
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	max := cfg.MaxArtifactSize
	if max <= 0 {
		max = DefaultMaxArtifactSize
	}
	h := &Handler{
		backend:  cfg.Backend,
		cfg:      cfg,
		logger:   l,
		mux:      http.NewServeMux(),
		maxBytes: max,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.HandleHealth)
	h.mux.HandleFunc("GET /ready", h.HandleReady)

	h.mux.HandleFunc("GET /v1/artifacts", h.HandleList)
	h.mux.HandleFunc("PUT /v1/artifacts/{key}", h.HandlePut)
	h.mux.HandleFunc("GET /v1/artifacts/{key}", h.HandleGet)
	h.mux.HandleFunc("HEAD /v1/artifacts/{key}", h.HandleHead)
	h.mux.HandleFunc("DELETE /v1/artifacts/{key}", h.HandleDelete)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, nil))
}

// handleError converts store and codec errors to responses.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		err = domain.ErrPayloadTooLarge
	case errors.Is(err, artifact.ErrExists):
		h.writeError(w, r, http.StatusPreconditionFailed, "MS-STORE-4120", "artifact already exists")
		return
	}

	if domain.IsDomainError(err, "") {
		code := domain.GetErrorCode(err)
		status := errorCodeToHTTPStatus(code)
		if status >= 500 {
			logger.L(r.Context()).Error("request failed", "error", err)
		}
		h.writeError(w, r, status, code, err.Error())
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, "internal server error")
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4091"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4130"):
		return http.StatusRequestEntityTooLarge
	case strings.HasSuffix(code, "-4221"):
		return http.StatusUnprocessableEntity
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4010"):
		return http.StatusUnauthorized
	case strings.HasSuffix(code, "-4030"):
		return http.StatusForbidden
	case strings.Contains(code, "-400"):
		return http.StatusBadRequest
	case code == domain.ErrStoreUnavailable.Code:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
