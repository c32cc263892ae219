// Package backends opens the artifact.Backend named by a storage
// configuration.
package backends

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/artifact/badgerstore"
	"github.com/yndnr/memsnap-go/internal/artifact/diskstore"
	"github.com/yndnr/memsnap-go/internal/server/config"
	"github.com/yndnr/memsnap-go/internal/telemetry/metric"
)

// Opened is a backend plus its maintenance hooks.
type Opened struct {
	artifact.Backend
	Name string

	prune func(context.Context) (int, error)
}

// Prune drops expired generations. Backends that keep a single
// generation per key report zero.
func (o *Opened) Prune(ctx context.Context) (int, error) {
	if o.prune == nil {
		return 0, nil
	}
	return o.prune(ctx)
}

// RunPruner calls Prune every interval until ctx is done.
func (o *Opened) RunPruner(ctx context.Context, interval time.Duration, log *slog.Logger) {
	if o.prune == nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := o.Prune(ctx)
			if err != nil {
				log.Warn("artifact prune failed", "backend", o.Name, "error", err)
			} else if n > 0 {
				log.Info("artifact generations pruned", "backend", o.Name, "removed", n)
			}
		}
	}
}

// Open opens the configured backend. When reg is set the backend's size
// and maintenance metrics are registered with it.
func Open(cfg config.StorageSection, log *slog.Logger, reg *metric.Registry) (*Opened, error) {
	if log == nil {
		log = slog.Default()
	}
	params, err := cfg.CipherParams()
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.BackendDisk, "":
		cipher, err := diskstore.OpenCipher(cfg.Dir, params)
		if err != nil {
			return nil, err
		}
		store, err := diskstore.New(diskstore.Config{
			Dir:            cfg.Dir,
			RetentionCount: cfg.RetentionCount,
			RetentionDays:  cfg.RetentionDays,
			Cipher:         cipher,
			VerifyOnOpen:   true,
			Logger:         log,
			Metrics:        reg,
		})
		if err != nil {
			return nil, err
		}
		if reg != nil {
			reg.MustRegister(metric.NewCollector(config.BackendDisk, store.Stats))
		}
		return &Opened{Backend: store, Name: config.BackendDisk, prune: store.Prune}, nil

	case config.BackendBadger:
		key, err := badgerstore.DeriveEncryptionKey(cfg.Dir, params)
		if err != nil {
			return nil, err
		}
		store, err := badgerstore.Open(badgerstore.Config{
			Dir:              cfg.Dir,
			GCInterval:       cfg.Badger.GCInterval,
			GCDiscardRatio:   cfg.Badger.GCDiscardRatio,
			SyncWrites:       cfg.Badger.SyncWrites,
			ValueLogFileSize: cfg.Badger.ValueLogFileSize,
			EncryptionKey:    key,
			Logger:           log,
			Metrics:          reg,
		})
		if err != nil {
			return nil, err
		}
		if reg != nil {
			reg.MustRegister(metric.NewCollector(config.BackendBadger, store.Stats))
			store.RegisterMetrics(reg.Prometheus())
		}
		return &Opened{Backend: store, Name: config.BackendBadger}, nil
	}
	return nil, fmt.Errorf("backends: unknown storage backend %q", cfg.Backend)
}
