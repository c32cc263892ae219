package artifact

import (
	"net/http"
	"strconv"
	"time"

	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
)

// HTTP headers used by the artifact service to carry Info alongside raw
// artifact bytes.
const (
	HeaderKind      = "X-Artifact-Kind"
	HeaderID        = "X-Artifact-Id"
	HeaderChecksum  = "X-Artifact-Sha256"
	HeaderCreatedAt = "X-Artifact-Created-At"

	// ContentType is the media type of artifact bodies.
	ContentType = "application/octet-stream"
)

// SetHeaders writes info into h.
func (i Info) SetHeaders(h http.Header) {
	h.Set(HeaderKind, i.Kind.String())
	if i.ID != "" {
		h.Set(HeaderID, i.ID)
	}
	if i.Checksum != "" {
		h.Set(HeaderChecksum, i.Checksum)
		h.Set("ETag", strconv.Quote(i.Checksum))
	}
	if !i.CreatedAt.IsZero() {
		h.Set(HeaderCreatedAt, i.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	h.Set("Content-Length", strconv.FormatInt(i.Size, 10))
}

// InfoFromHeaders reads what SetHeaders wrote. size is taken from the
// response's ContentLength by the caller.
func InfoFromHeaders(key string, h http.Header, size int64) Info {
	info := Info{
		Key:      key,
		ID:       h.Get(HeaderID),
		Kind:     codec.ParseKind(h.Get(HeaderKind)),
		Checksum: h.Get(HeaderChecksum),
		Size:     size,
	}
	if ts := h.Get(HeaderCreatedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			info.CreatedAt = t
		}
	}
	return info
}
