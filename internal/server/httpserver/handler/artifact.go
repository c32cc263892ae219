package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
)

var errReadOnly = domain.NewDomainError("MS-STORE-4030", "artifact service is read-only")

func pathKey(r *http.Request) (string, error) {
	key := r.PathValue("key")
	if err := artifact.ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// HandleList handles GET /v1/artifacts.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	infos, err := h.backend.List(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp := ListArtifactsResponse{Artifacts: infos, Total: len(infos)}
	if resp.Artifacts == nil {
		resp.Artifacts = []artifact.Info{}
	}
	for _, info := range infos {
		resp.TotalBytes += info.Size
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// HandlePut handles PUT /v1/artifacts/{key}.
//
// The kind comes from X-Artifact-Kind. An untagged upload stays untagged
// so readers fall back to the size rule. "If-None-Match: *" makes the
// upload create-only.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	if h.cfg.ReadOnly {
		h.handleError(w, r, errReadOnly)
		return
	}
	key, err := pathKey(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if r.ContentLength > h.maxBytes {
		h.handleError(w, r, domain.ErrPayloadTooLarge)
		return
	}

	if r.Header.Get("If-None-Match") == "*" {
		if _, err := h.backend.Stat(r.Context(), key); err == nil {
			h.handleError(w, r, artifact.ErrExists)
			return
		} else if !errors.Is(err, artifact.ErrNotFound) {
			h.handleError(w, r, err)
			return
		}
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if len(data) == 0 {
		h.handleError(w, r, domain.ErrBadRequest.WithDetails("empty artifact"))
		return
	}

	kind := codec.ParseKind(r.Header.Get(artifact.HeaderKind))
	if h.cfg.ValidateSnapshots && codec.Classify(int64(len(data)), kind) == codec.KindSnapshot {
		if err := validateSnapshot(data); err != nil {
			h.handleError(w, r, err)
			return
		}
	}

	info, err := h.backend.Put(r.Context(), key, data, kind)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	logger.L(r.Context()).Info("artifact uploaded",
		"key", key,
		"id", info.ID,
		"kind", info.Kind.String(),
		"size", info.Size)
	w.Header().Set("ETag", strconv.Quote(info.Checksum))
	h.writeJSON(w, r, http.StatusCreated, info)
}

func validateSnapshot(data []byte) error {
	d, err := codec.Decode(codec.NewBytesSource(data))
	if err != nil {
		return err
	}
	return d.Discard()
}

// HandleGet handles GET /v1/artifacts/{key}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	src, info, err := h.backend.Get(r.Context(), key)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer src.Close()

	if inm := r.Header.Get("If-None-Match"); inm != "" && info.Checksum != "" && inm == strconv.Quote(info.Checksum) {
		w.Header().Set("ETag", inm)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	info.Size = src.Size()
	info.SetHeaders(w.Header())
	w.Header().Set("Content-Type", artifact.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, io.NewSectionReader(src, 0, src.Size())); err != nil {
		logger.L(r.Context()).Warn("artifact download interrupted", "key", key, "error", err)
	}
}

// HandleHead handles HEAD /v1/artifacts/{key}.
func (h *Handler) HandleHead(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	info, err := h.backend.Stat(r.Context(), key)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	info.SetHeaders(w.Header())
	w.Header().Set("Content-Type", artifact.ContentType)
	w.WriteHeader(http.StatusOK)
}

// HandleDelete handles DELETE /v1/artifacts/{key}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if h.cfg.ReadOnly {
		h.handleError(w, r, errReadOnly)
		return
	}
	key, err := pathKey(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := h.backend.Delete(r.Context(), key); err != nil {
		h.handleError(w, r, err)
		return
	}
	logger.L(r.Context()).Info("artifact deleted", "key", key)
	w.WriteHeader(http.StatusNoContent)
}
