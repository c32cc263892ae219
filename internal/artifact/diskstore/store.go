package diskstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
	"github.com/yndnr/memsnap-go/internal/telemetry/metric"
	"github.com/yndnr/memsnap-go/pkg/cmap"
	"github.com/yndnr/memsnap-go/pkg/crypto/adaptive"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	backendName = "disk"

	artifactExt = ".art"
	sidecarExt  = ".json"
	tempExt     = ".tmp"

	DefaultRetentionCount = 3
	DefaultRetentionDays  = 7
)

// Config configures a disk store.
type Config struct {
	Dir string

	// RetentionCount is how many generations per key Prune keeps.
	RetentionCount int
	// RetentionDays keeps any generation younger than this many days.
	RetentionDays int

	// Cipher seals artifacts at rest. Nil stores them in the clear.
	Cipher adaptive.Cipher
	// VerifyOnOpen reads the whole artifact on Get to check its checksum.
	// Without it unsealed artifacts are served straight from the file.
	VerifyOnOpen bool

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// DefaultConfig returns the configuration used when only dir is known.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
		RetentionDays:  DefaultRetentionDays,
		VerifyOnOpen:   true,
	}
}

type sidecar struct {
	ID        string     `json:"id"`
	Kind      codec.Kind `json:"kind"`
	Size      int64      `json:"size"`
	Checksum  string     `json:"sha256"`
	CreatedAt int64      `json:"created_at"`
	Encrypted bool       `json:"encrypted"`
	Algorithm string     `json:"algorithm,omitempty"`
}

// Store is an artifact.Backend over a directory.
type Store struct {
	cfg    Config
	logger *slog.Logger

	// locks serializes writers per key; readers only rely on rename
	// atomicity.
	locks  *cmap.Map[string, *sync.Mutex]
	closed atomic.Bool
}

var _ artifact.Backend = (*Store)(nil)

// New opens or creates the store directory.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("diskstore: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("diskstore: create dir: %w", err)
	}
	if cfg.RetentionCount <= 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays < 0 {
		cfg.RetentionDays = 0
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Store{
		cfg:    cfg,
		logger: l.With("backend", backendName),
		locks:  cmap.New[string, *sync.Mutex](),
	}, nil
}

// Put writes a new generation of key.
func (s *Store) Put(ctx context.Context, key string, data []byte, kind codec.Kind) (info artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "put", err) }()

	if err := artifact.ValidateKey(key); err != nil {
		return artifact.Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return artifact.Info{}, err
	}

	if s.closed.Load() {
		return artifact.Info{}, domain.ErrStoreUnavailable.WithDetails("store closed")
	}
	defer s.lockKey(key)()

	dir := filepath.Join(s.cfg.Dir, key)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return artifact.Info{}, fmt.Errorf("diskstore: create key dir: %w", err)
	}

	now := time.Now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	sum := sha256.Sum256(data)

	payload := data
	meta := sidecar{
		ID:        id,
		Kind:      kind,
		Size:      int64(len(data)),
		Checksum:  hex.EncodeToString(sum[:]),
		CreatedAt: now.UnixMilli(),
	}
	if s.cfg.Cipher != nil {
		payload, err = s.cfg.Cipher.Seal(data, aad(key, id))
		if err != nil {
			return artifact.Info{}, fmt.Errorf("diskstore: seal: %w", err)
		}
		meta.Encrypted = true
		meta.Algorithm = string(s.cfg.Cipher.Algorithm())
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return artifact.Info{}, fmt.Errorf("diskstore: marshal sidecar: %w", err)
	}

	// The sidecar is the commit record: generations without one are
	// invisible to readers.
	artPath := s.artifactPath(key, id)
	if err := writeFileAtomic(artPath, payload); err != nil {
		return artifact.Info{}, err
	}
	if err := writeFileAtomic(filepath.Join(dir, id+sidecarExt), metaJSON); err != nil {
		os.Remove(artPath)
		return artifact.Info{}, err
	}

	s.logger.Info("artifact stored",
		"key", key,
		"id", id,
		"kind", kind.String(),
		"size", len(data),
		"encrypted", meta.Encrypted)

	return meta.info(key), nil
}

// Get opens the newest readable generation of key.
func (s *Store) Get(ctx context.Context, key string) (src codec.Source, info artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "get", err) }()

	gens, err := s.generations(key)
	if err != nil {
		return nil, artifact.Info{}, err
	}
	for i := len(gens) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, artifact.Info{}, err
		}
		src, info, err := s.open(key, gens[i])
		if err == nil {
			return src, info, nil
		}
		if errors.Is(err, domain.ErrChecksumMismatch) || errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("skipping unreadable artifact generation",
				"key", key,
				"id", gens[i].ID,
				"error", err)
			continue
		}
		return nil, artifact.Info{}, err
	}
	return nil, artifact.Info{}, artifact.ErrNotFound
}

func (s *Store) open(key string, meta sidecar) (codec.Source, artifact.Info, error) {
	path := s.artifactPath(key, meta.ID)

	if !meta.Encrypted && !s.cfg.VerifyOnOpen {
		f, err := codec.OpenFile(path)
		if err != nil {
			return nil, artifact.Info{}, err
		}
		if f.Size() != meta.Size {
			f.Close()
			return nil, artifact.Info{}, domain.ErrChecksumMismatch.WithDetails("size differs from sidecar")
		}
		return f, meta.info(key), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, artifact.Info{}, err
	}
	if meta.Encrypted {
		if s.cfg.Cipher == nil {
			return nil, artifact.Info{}, domain.ErrStoreUnavailable.WithDetails("artifact is encrypted and no key is configured")
		}
		data, err = s.cfg.Cipher.Open(data, aad(key, meta.ID))
		if err != nil {
			return nil, artifact.Info{}, domain.ErrChecksumMismatch.WithCause(err)
		}
	}
	if err := verify(data, meta.Checksum); err != nil {
		return nil, artifact.Info{}, err
	}
	return codec.NewBytesSource(data), meta.info(key), nil
}

// Stat returns the newest generation's metadata without reading it.
func (s *Store) Stat(_ context.Context, key string) (info artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "stat", err) }()

	gens, err := s.generations(key)
	if err != nil {
		return artifact.Info{}, err
	}
	if len(gens) == 0 {
		return artifact.Info{}, artifact.ErrNotFound
	}
	return gens[len(gens)-1].info(key), nil
}

// Delete removes every generation of key.
func (s *Store) Delete(_ context.Context, key string) (err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "delete", err) }()

	if err := artifact.ValidateKey(key); err != nil {
		return err
	}
	defer s.lockKey(key)()
	if err := os.RemoveAll(filepath.Join(s.cfg.Dir, key)); err != nil {
		return fmt.Errorf("diskstore: delete %s: %w", key, err)
	}
	s.logger.Info("artifact deleted", "key", key)
	return nil
}

// List returns the newest generation of every key.
func (s *Store) List(_ context.Context) (infos []artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "list", err) }()

	keys, err := s.keys()
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		gens, err := s.generations(key)
		if err != nil {
			return nil, err
		}
		if len(gens) == 0 {
			continue
		}
		infos = append(infos, gens[len(gens)-1].info(key))
	}
	return infos, nil
}

// Stats totals the newest generation of every key. It has the shape of a
// metric.StatsFunc.
func (s *Store) Stats() (metric.StoreStats, error) {
	infos, err := s.List(context.Background())
	if err != nil {
		return metric.StoreStats{}, err
	}
	st := metric.StoreStats{Artifacts: len(infos)}
	for _, info := range infos {
		st.Bytes += info.Size
	}
	return st, nil
}

// Close marks the store closed for writers.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// lockKey takes the writer lock of key and returns its release.
func (s *Store) lockKey(key string) func() {
	mu, _ := s.locks.GetOrSet(key, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

func (s *Store) keys() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() && artifact.ValidateKey(e.Name()) == nil {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// generations returns the sidecars of key, oldest first. ULIDs sort by
// creation time.
func (s *Store) generations(key string) ([]sidecar, error) {
	if err := artifact.ValidateKey(key); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.cfg.Dir, key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("diskstore: read %s: %w", key, err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, sidecarExt) {
			continue
		}
		id := strings.TrimSuffix(name, sidecarExt)
		if _, err := ulid.ParseStrict(id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	gens := make([]sidecar, 0, len(ids))
	for _, id := range ids {
		raw, err := os.ReadFile(filepath.Join(dir, id+sidecarExt))
		if err != nil {
			continue
		}
		var meta sidecar
		if err := json.Unmarshal(raw, &meta); err != nil || meta.ID != id {
			s.logger.Warn("ignoring unreadable sidecar", "key", key, "id", id)
			continue
		}
		if _, err := os.Stat(s.artifactPath(key, id)); err != nil {
			continue
		}
		gens = append(gens, meta)
	}
	return gens, nil
}

func (s *Store) artifactPath(key, id string) string {
	return filepath.Join(s.cfg.Dir, key, id+artifactExt)
}

func (m sidecar) info(key string) artifact.Info {
	return artifact.Info{
		Key:       key,
		ID:        m.ID,
		Kind:      m.Kind,
		Size:      m.Size,
		Checksum:  m.Checksum,
		CreatedAt: time.UnixMilli(m.CreatedAt).UTC(),
	}
}

// aad binds a sealed payload to the generation it was written as, so files
// cannot be swapped between keys or generations.
func aad(key, id string) []byte {
	return []byte(key + "/" + id)
}

func verify(data []byte, want string) error {
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, want) {
		return domain.ErrChecksumMismatch.WithDetails("sha256 " + got + " != " + want)
	}
	return nil
}

// writeFileAtomic writes data to path through a synced temp file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + tempExt
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("diskstore: create temp file: %w", err)
	}
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("diskstore: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("diskstore: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("diskstore: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("diskstore: rename: %w", err)
	}
	return nil
}
