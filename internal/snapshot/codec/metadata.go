package codec

import (
	"bytes"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/yndnr/memsnap-go/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type dsoRecord struct {
	Handles []wireHandle `json:"handles"`
}

// wireHandle accepts both numeric handles and their decimal string form.
// Older writers serialized handles as strings.
type wireHandle uint32

func (h *wireHandle) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	v, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return err
	}
	*h = wireHandle(v)
	return nil
}

// MarshalMetadata serializes dso metadata in its wire form. Keys are sorted
// and the reserved global handle is never written.
func MarshalMetadata(dso domain.DsoMetadata) ([]byte, error) {
	wire := make(map[string]dsoRecord, len(dso))
	for path, handles := range dso {
		rec := dsoRecord{Handles: make([]wireHandle, 0, len(handles))}
		for _, h := range handles {
			if h == domain.GlobalHandle {
				continue
			}
			rec.Handles = append(rec.Handles, wireHandle(h))
		}
		wire[path] = rec
	}
	return json.Marshal(wire)
}

// ParseMetadata parses the wire form produced by MarshalMetadata. The
// reserved global handle is dropped. Paths with no handles are kept.
func ParseMetadata(b []byte) (domain.DsoMetadata, error) {
	var wire map[string]dsoRecord
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, domain.ErrMalformedArtifact.WithDetails("metadata json").WithCause(err)
	}
	dso := make(domain.DsoMetadata, len(wire))
	for path, rec := range wire {
		dso[path] = make([]domain.Handle, 0, len(rec.Handles))
		for _, h := range rec.Handles {
			dso.Add(path, domain.Handle(h))
		}
	}
	return dso, nil
}
