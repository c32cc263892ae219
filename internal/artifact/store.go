// Package artifact defines where snapshot artifacts live between cold
// starts.
//
// Backend is a keyed artifact store (disk, badger, or the HTTP artifact
// service). Store is the narrow view one instance needs: whether to upload,
// how to upload, and how to open the artifact it should restore from. Bind
// turns a Backend and a key into a Store.
package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
)

// Store is the artifact store as seen by one instance's snapshot lifecycle.
type Store interface {
	// IsEnabled reports whether captured artifacts should be uploaded.
	IsEnabled() bool
	// IsValidating reports whether the instance runs under a validator
	// that inspects the captured artifact.
	IsValidating() bool
	// Upload persists a captured artifact. It returns false when the store
	// declined the artifact without failing.
	Upload(ctx context.Context, data []byte) (bool, error)
	// Open returns the artifact to restore from and its kind tag.
	// It returns ErrNotFound when there is none.
	Open(ctx context.Context) (codec.Source, codec.Kind, error)
}

// Info describes a stored artifact.
type Info struct {
	Key       string     `json:"key"`
	ID        string     `json:"id"`
	Kind      codec.Kind `json:"kind"`
	Size      int64      `json:"size"`
	Checksum  string     `json:"sha256,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Backend is a keyed artifact store.
type Backend interface {
	// Put stores data under key, replacing any previous artifact.
	Put(ctx context.Context, key string, data []byte, kind codec.Kind) (Info, error)
	// Get opens the artifact stored under key.
	Get(ctx context.Context, key string) (codec.Source, Info, error)
	// Stat returns the artifact metadata without opening it.
	Stat(ctx context.Context, key string) (Info, error)
	// Delete removes the artifact. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every artifact, ordered by key.
	List(ctx context.Context) ([]Info, error)
	// Close releases the backend.
	Close() error
}

var (
	// ErrNotFound is returned when no artifact exists for a key.
	ErrNotFound = domain.ErrArtifactNotFound

	// ErrExists is returned by create-only stores when an artifact
	// already exists.
	ErrExists = errors.New("artifact: already exists")
)

// BindOptions configure a bound Store.
type BindOptions struct {
	// Enabled turns uploads on.
	Enabled bool
	// Validating marks the instance as running under a validator.
	Validating bool
	// CreateOnly keeps the first uploaded artifact: uploads are disabled
	// once the key exists.
	CreateOnly bool
}

type bound struct {
	backend Backend
	key     string
	opts    BindOptions
}

// Bind returns a Store reading and writing key in backend.
func Bind(backend Backend, key string, opts BindOptions) (Store, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return &bound{backend: backend, key: key, opts: opts}, nil
}

func (b *bound) IsEnabled() bool {
	if !b.opts.Enabled {
		return false
	}
	if b.opts.CreateOnly {
		_, err := b.backend.Stat(context.Background(), b.key)
		return errors.Is(err, ErrNotFound)
	}
	return true
}

func (b *bound) IsValidating() bool {
	return b.opts.Validating
}

func (b *bound) Upload(ctx context.Context, data []byte) (bool, error) {
	if b.opts.CreateOnly {
		if _, err := b.backend.Stat(ctx, b.key); err == nil {
			return false, nil
		} else if !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}
	if _, err := b.backend.Put(ctx, b.key, data, uploadKind(data)); err != nil {
		if errors.Is(err, ErrExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *bound) Open(ctx context.Context) (codec.Source, codec.Kind, error) {
	src, info, err := b.backend.Get(ctx, b.key)
	if err != nil {
		return nil, codec.KindUnknown, err
	}
	return src, info.Kind, nil
}

// uploadKind tags captured heaps as snapshots. Payloads small enough to be
// test fixtures stay untagged so readers apply the size rule.
func uploadKind(data []byte) codec.Kind {
	if len(data) > codec.TestFixtureThreshold {
		return codec.KindSnapshot
	}
	return codec.KindUnknown
}
