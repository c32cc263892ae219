package badgerstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
	"github.com/yndnr/memsnap-go/internal/telemetry/metric"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const backendName = "badger"

var (
	payloadPrefix = []byte("a/")
	metaPrefix    = []byte("m/")
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = domain.ErrStoreUnavailable.WithDetails("badger store closed")

// Config configures the badger store.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool

	// GCInterval is the period of value-log GC. Zero disables the loop.
	GCInterval time.Duration
	// GCDiscardRatio is handed to RunValueLogGC.
	GCDiscardRatio float64
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// ValueLogFileSize bounds one value-log file and so the largest
	// artifact the store accepts.
	ValueLogFileSize int64
	// EncryptionKey turns on badger's own encryption at rest. It must be
	// 16, 24 or 32 bytes; see DeriveEncryptionKey.
	EncryptionKey []byte

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// DefaultConfig returns the configuration for a database in dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
		SyncWrites:       true,
		ValueLogFileSize: 1 << 30,
	}
}

type record struct {
	ID        string `json:"id"`
	Size      int64  `json:"size"`
	Checksum  string `json:"sha256"`
	CreatedAt int64  `json:"created_at"`
}

// Store is an artifact.Backend over Badger.
type Store struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	closed     atomic.Bool
	lastGC     atomic.Int64
	gcRewrites atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

var _ artifact.Backend = (*Store)(nil)

// Open opens the database and starts the GC loop.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badgerstore: dir is required")
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = 0.5
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	l = l.With("backend", backendName)

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(&badgerLogger{logger: l}).WithSyncWrites(cfg.SyncWrites)
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	if len(cfg.EncryptionKey) > 0 {
		// Encrypted tables need a block index cache.
		opts = opts.WithEncryptionKey(cfg.EncryptionKey).WithIndexCacheSize(64 << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: l,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.gcLoop()
	} else {
		close(s.doneCh)
	}

	l.Info("badger store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"encrypted", len(cfg.EncryptionKey) > 0,
		"gc_interval", cfg.GCInterval)
	return s, nil
}

func payloadKey(key string) []byte { return append(append([]byte(nil), payloadPrefix...), key...) }
func metaKey(key string) []byte    { return append(append([]byte(nil), metaPrefix...), key...) }

// Put replaces the artifact under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, kind codec.Kind) (info artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "put", err) }()

	if err := artifact.ValidateKey(key); err != nil {
		return artifact.Info{}, err
	}
	if s.closed.Load() {
		return artifact.Info{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return artifact.Info{}, err
	}

	now := time.Now()
	sum := sha256.Sum256(data)
	rec := record{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Size:      int64(len(data)),
		Checksum:  hex.EncodeToString(sum[:]),
		CreatedAt: now.UnixMilli(),
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return artifact.Info{}, fmt.Errorf("badgerstore: marshal record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(payloadKey(key), data).WithMeta(byte(kind))); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(metaKey(key), recJSON).WithMeta(byte(kind)))
	})
	if err != nil {
		return artifact.Info{}, domain.ErrStoreUnavailable.WithCause(err)
	}

	s.logger.Info("artifact stored", "key", key, "id", rec.ID, "kind", kind.String(), "size", len(data))
	return rec.info(key, kind), nil
}

// Get reads the artifact under key into memory.
func (s *Store) Get(ctx context.Context, key string) (src codec.Source, info artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "get", err) }()

	if err := artifact.ValidateKey(key); err != nil {
		return nil, artifact.Info{}, err
	}
	if s.closed.Load() {
		return nil, artifact.Info{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, artifact.Info{}, err
	}

	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		var err error
		if info, err = readRecord(txn, key); err != nil {
			return err
		}
		item, err := txn.Get(payloadKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, artifact.Info{}, mapErr(err)
	}

	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != info.Checksum {
		return nil, artifact.Info{}, domain.ErrChecksumMismatch.WithDetails(key)
	}
	return codec.NewBytesSource(data), info, nil
}

// Stat reads the artifact record only.
func (s *Store) Stat(_ context.Context, key string) (info artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "stat", err) }()

	if err := artifact.ValidateKey(key); err != nil {
		return artifact.Info{}, err
	}
	if s.closed.Load() {
		return artifact.Info{}, ErrClosed
	}
	err = s.db.View(func(txn *badger.Txn) error {
		var err error
		info, err = readRecord(txn, key)
		return err
	})
	if err != nil {
		return artifact.Info{}, mapErr(err)
	}
	return info, nil
}

// Delete removes the artifact under key.
func (s *Store) Delete(_ context.Context, key string) (err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "delete", err) }()

	if err := artifact.ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(payloadKey(key)); err != nil {
			return err
		}
		return txn.Delete(metaKey(key))
	})
	if err != nil {
		return domain.ErrStoreUnavailable.WithCause(err)
	}
	s.logger.Info("artifact deleted", "key", key)
	return nil
}

// List scans the record keys. Badger iterates in key order.
func (s *Store) List(ctx context.Context) (infos []artifact.Info, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "list", err) }()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = metaPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key()[len(metaPrefix):])
			info, err := decodeRecord(item, key)
			if err != nil {
				return err
			}
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// Stats has the shape of a metric.StatsFunc.
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

// GC runs value-log GC until Badger finds nothing to rewrite and returns
// the number of files rewritten.
func (s *Store) GC(ctx context.Context) (uint64, error) {
	if s.cfg.InMemory {
		return 0, nil
	}
	start := time.Now()
	var rewrites uint64
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return rewrites, fmt.Errorf("badgerstore: gc: %w", err)
		}
		rewrites++
	}
	s.lastGC.Store(time.Now().UnixMilli())
	s.gcRewrites.Add(rewrites)

	s.logger.Debug("gc completed", "rewrites", rewrites, "elapsed", time.Since(start))
	return rewrites, nil
}

// Close stops the GC loop and closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("badgerstore: close: %w", err)
	}
	s.logger.Info("badger store closed")
	return nil
}

func (s *Store) gcLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

func readRecord(txn *badger.Txn, key string) (artifact.Info, error) {
	item, err := txn.Get(metaKey(key))
	if err != nil {
		return artifact.Info{}, err
	}
	return decodeRecord(item, key)
}

func decodeRecord(item *badger.Item, key string) (artifact.Info, error) {
	var rec record
	err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return artifact.Info{}, fmt.Errorf("badgerstore: record %s: %w", key, err)
	}
	return rec.info(key, codec.Kind(item.UserMeta())), nil
}

func (r record) info(key string, kind codec.Kind) artifact.Info {
	return artifact.Info{
		Key:       key,
		ID:        r.ID,
		Kind:      kind,
		Size:      r.Size,
		Checksum:  r.Checksum,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
}

func mapErr(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return artifact.ErrNotFound
	}
	return domain.ErrStoreUnavailable.WithCause(err)
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
