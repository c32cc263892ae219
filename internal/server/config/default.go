package config

import (
	"time"

	"github.com/yndnr/memsnap-go/internal/artifact"
)

// Default configuration values.
const (
	DefaultHTTPAddr        = "127.0.0.1:5180"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxArtifactSize = 512 << 20

	DefaultStorageDir     = "/var/lib/memsnap/artifacts"
	DefaultRetentionCount = 3
	DefaultRetentionDays  = 7
	DefaultPruneInterval  = time.Hour

	DefaultBadgerGCInterval     = 10 * time.Minute
	DefaultBadgerGCDiscardRatio = 0.5
	DefaultBadgerValueLogSize   = 1 << 30

	DefaultSitePackagesRoot = "/lib/python3.12/site-packages"
	DefaultStoreTimeout     = 60 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the configuration used for keys the file leaves unset.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:              DefaultHTTPAddr,
				MaxArtifactSize:   DefaultMaxArtifactSize,
				ValidateSnapshots: true,
			},
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Storage: StorageSection{
			Backend:        BackendDisk,
			Dir:            DefaultStorageDir,
			RetentionCount: DefaultRetentionCount,
			RetentionDays:  DefaultRetentionDays,
			PruneInterval:  DefaultPruneInterval,
			Badger: BadgerConfig{
				GCInterval:       DefaultBadgerGCInterval,
				GCDiscardRatio:   DefaultBadgerGCDiscardRatio,
				SyncWrites:       true,
				ValueLogFileSize: DefaultBadgerValueLogSize,
			},
		},
		Snapshot: SnapshotSection{
			SitePackagesRoot: DefaultSitePackagesRoot,
			Key:              artifact.BaselineKey,
			StoreTimeout:     DefaultStoreTimeout,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// DefaultMap flattens Default for confloader.WithDefaults.
func DefaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"server.http.addr":               d.Server.HTTP.Addr,
		"server.http.max_artifact_size":  d.Server.HTTP.MaxArtifactSize,
		"server.http.validate_snapshots": d.Server.HTTP.ValidateSnapshots,
		"server.shutdown_timeout":        d.Server.ShutdownTimeout.String(),

		"storage.backend":                    d.Storage.Backend,
		"storage.dir":                        d.Storage.Dir,
		"storage.retention_count":            d.Storage.RetentionCount,
		"storage.retention_days":             d.Storage.RetentionDays,
		"storage.prune_interval":             d.Storage.PruneInterval.String(),
		"storage.badger.gc_interval":         d.Storage.Badger.GCInterval.String(),
		"storage.badger.gc_discard_ratio":    d.Storage.Badger.GCDiscardRatio,
		"storage.badger.sync_writes":         d.Storage.Badger.SyncWrites,
		"storage.badger.value_log_file_size": d.Storage.Badger.ValueLogFileSize,

		"snapshot.site_packages_root": d.Snapshot.SitePackagesRoot,
		"snapshot.key":                d.Snapshot.Key,
		"snapshot.store_timeout":      d.Snapshot.StoreTimeout.String(),

		"log.level":  d.Log.Level,
		"log.format": d.Log.Format,
	}
}
