package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/pkg/crypto/adaptive"
)

// Verify checks the sections memsnap-server depends on and reports every
// problem at once.
func Verify(cfg *ServerConfig) error {
	return errors.Join(
		verifyHTTP(&cfg.Server.HTTP),
		verifyStorage(&cfg.Storage),
		verifyLog(&cfg.Log),
	)
}

// VerifySnapshot checks the sections memsnap-cli run depends on.
func VerifySnapshot(cfg *ServerConfig) error {
	s := &cfg.Snapshot
	var errs []error
	if s.Interpreter == "" {
		errs = append(errs, errors.New("snapshot.interpreter is required"))
	}
	if s.Archive == "" && len(s.Preload) > 0 {
		errs = append(errs, errors.New("snapshot.archive is required when snapshot.preload is set"))
	}
	if !strings.HasPrefix(s.SitePackagesRoot, "/") {
		errs = append(errs, fmt.Errorf("snapshot.site_packages_root %q must be absolute", s.SitePackagesRoot))
	}
	if err := artifact.ValidateKey(s.Key); err != nil {
		errs = append(errs, fmt.Errorf("snapshot.key: %w", err))
	}
	if s.StoreURL == "" {
		errs = append(errs, verifyStorage(&cfg.Storage))
	}
	return errors.Join(append(errs, verifyLog(&cfg.Log))...)
}

func verifyHTTP(c *HTTPConfig) error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.http.addr %q: %w", c.Addr, err))
	}
	if c.TLSEnabled() && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.http.tls_cert_file and tls_key_file must be set together"))
	}
	if c.TLSClientCAFile != "" && !c.TLSEnabled() {
		errs = append(errs, errors.New("server.http.tls_client_ca_file requires a TLS keypair"))
	}
	for _, entry := range c.WriteAllowList {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			errs = append(errs, fmt.Errorf("server.http.write_allow_list: invalid entry %q", entry))
		}
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("server.http.rate_limit must not be negative"))
	}
	if c.MaxArtifactSize <= 0 {
		errs = append(errs, errors.New("server.http.max_artifact_size must be positive"))
	}
	if len(c.ReadTokens) > 0 && len(c.WriteTokens) == 0 {
		errs = append(errs, errors.New("server.http.write_tokens is required when read_tokens is set"))
	}
	return errors.Join(errs...)
}

func verifyStorage(s *StorageSection) error {
	var errs []error
	switch s.Backend {
	case BackendDisk, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want %s or %s", s.Backend, BackendDisk, BackendBadger))
	}
	if s.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required"))
	}
	if s.RetentionCount < 1 {
		errs = append(errs, errors.New("storage.retention_count must be at least 1"))
	}
	if s.RetentionDays < 0 {
		errs = append(errs, errors.New("storage.retention_days must not be negative"))
	}
	if s.Backend == BackendBadger && (s.Badger.GCDiscardRatio <= 0 || s.Badger.GCDiscardRatio >= 1) {
		errs = append(errs, errors.New("storage.badger.gc_discard_ratio must be in (0, 1)"))
	}
	if s.EncryptionKey != "" && s.EncryptionPassphrase != "" {
		errs = append(errs, errors.New("storage.encryption_key and encryption_passphrase are mutually exclusive"))
	}
	if p, err := s.CipherParams(); err != nil {
		errs = append(errs, err)
	} else if err := p.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	return errors.Join(errs...)
}

func verifyLog(l *LogSection) error {
	var errs []error
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or text", l.Format))
	}
	return errors.Join(errs...)
}

// CipherParams decodes the encryption settings.
func (s *StorageSection) CipherParams() (adaptive.Params, error) {
	alg, err := adaptive.ParseAlgorithm(s.EncryptionAlgorithm)
	if err != nil {
		return adaptive.Params{}, fmt.Errorf("storage.encryption_algorithm: %w", err)
	}
	p := adaptive.Params{Algorithm: alg}
	if s.EncryptionKey != "" {
		key, err := decodeHexKey(s.EncryptionKey)
		if err != nil {
			return adaptive.Params{}, fmt.Errorf("storage.encryption_key: %w", err)
		}
		p.Key = key
	}
	if s.EncryptionPassphrase != "" {
		p.Passphrase = []byte(s.EncryptionPassphrase)
	}
	return p, nil
}

func decodeHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimPrefix(s, "hex:"))
	if err != nil {
		return nil, errors.New("must be hex encoded")
	}
	return key, nil
}
