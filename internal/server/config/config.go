// Package config defines memsnap's configuration file.
//
// One YAML file serves both binaries: memsnap-server reads the server,
// storage and log sections; memsnap-cli run reads snapshot and storage.
// Values are layered by internal/infra/confloader.
package config

import "time"

// ServerConfig is the root of memsnap.yaml.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Storage  StorageSection  `koanf:"storage"`
	Snapshot SnapshotSection `koanf:"snapshot"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures the artifact service.
type ServerSection struct {
	HTTP            HTTPConfig    `koanf:"http"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// HTTPConfig configures the artifact service listener.
type HTTPConfig struct {
	Addr            string `koanf:"addr"`
	TLSCertFile     string `koanf:"tls_cert_file"`
	TLSKeyFile      string `koanf:"tls_key_file"`
	TLSClientCAFile string `koanf:"tls_client_ca_file"`

	ReadTokens     []string `koanf:"read_tokens"`
	WriteTokens    []string `koanf:"write_tokens"`
	WriteAllowList []string `koanf:"write_allow_list"`

	RateLimit      float64 `koanf:"rate_limit"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	MaxArtifactSize   int64 `koanf:"max_artifact_size"`
	ValidateSnapshots bool  `koanf:"validate_snapshots"`
	ReadOnly          bool  `koanf:"read_only"`
}

// TLSEnabled reports whether a keypair is configured.
func (c HTTPConfig) TLSEnabled() bool {
	return c.TLSCertFile != "" || c.TLSKeyFile != ""
}

// Storage backends.
const (
	BackendDisk   = "disk"
	BackendBadger = "badger"
)

// StorageSection configures where artifacts are kept.
type StorageSection struct {
	Backend string `koanf:"backend"`
	Dir     string `koanf:"dir"`

	// EncryptionKey is a hex-encoded key. EncryptionPassphrase derives one
	// with Argon2id. Neither means artifacts are stored in the clear.
	EncryptionKey        string `koanf:"encryption_key"`
	EncryptionPassphrase string `koanf:"encryption_passphrase"`
	EncryptionAlgorithm  string `koanf:"encryption_algorithm"`

	RetentionCount int           `koanf:"retention_count"`
	RetentionDays  int           `koanf:"retention_days"`
	PruneInterval  time.Duration `koanf:"prune_interval"`

	Badger BadgerConfig `koanf:"badger"`
}

// BadgerConfig tunes the badger backend.
type BadgerConfig struct {
	GCInterval       time.Duration `koanf:"gc_interval"`
	GCDiscardRatio   float64       `koanf:"gc_discard_ratio"`
	SyncWrites       bool          `koanf:"sync_writes"`
	ValueLogFileSize int64         `koanf:"value_log_file_size"`
}

// SnapshotSection configures one sandboxed instance for memsnap-cli run.
type SnapshotSection struct {
	// Interpreter is the path of the interpreter's wasm module.
	Interpreter string `koanf:"interpreter"`
	// Archive is the site-packages tar archive. Index, when set, is a
	// prebuilt offsets file; otherwise the archive is scanned at start.
	Archive          string   `koanf:"archive"`
	Index            string   `koanf:"index"`
	SitePackagesRoot string   `koanf:"site_packages_root"`
	Preload          []string `koanf:"preload"`

	Dedicated     bool `koanf:"dedicated"`
	Validating    bool `koanf:"validating"`
	UploadEnabled bool `koanf:"upload_enabled"`
	CreateOnly    bool `koanf:"create_only"`

	// Key names the baseline artifact. Dedicated runs derive their own.
	Key string `koanf:"key"`

	// StoreURL selects the artifact service. Empty uses storage.dir
	// directly.
	StoreURL     string        `koanf:"store_url"`
	StoreToken   string        `koanf:"store_token"`
	StoreCAFile  string        `koanf:"store_ca_file"`
	StoreTimeout time.Duration `koanf:"store_timeout"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
