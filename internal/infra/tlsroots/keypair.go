package tlsroots

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long Keypair waits after a file event before
// reloading. Certificate rotation usually rewrites the cert and key in
// quick succession.
const DefaultSettle = 250 * time.Millisecond

// Keypair serves a server certificate that follows its files on disk.
type Keypair struct {
	certFile string
	keyFile  string
	settle   time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	reloaded time.Time
}

// LoadKeypair reads the certificate and key once. Call Run to keep them
// current.
func LoadKeypair(certFile, keyFile string, logger *slog.Logger) (*Keypair, error) {
	if logger == nil {
		logger = slog.Default()
	}
	k := &Keypair{
		certFile: certFile,
		keyFile:  keyFile,
		settle:   DefaultSettle,
		logger:   logger,
	}
	if err := k.Reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// SetSettle overrides the reload delay. Must be called before Run.
func (k *Keypair) SetSettle(d time.Duration) {
	k.settle = d
}

// Reload re-reads the keypair. The previous certificate stays in service
// when the new files do not parse.
func (k *Keypair) Reload() error {
	cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load keypair: %w", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		cert.Leaf, _ = x509.ParseCertificate(cert.Certificate[0])
	}

	k.mu.Lock()
	k.cert = &cert
	k.reloaded = time.Now()
	k.mu.Unlock()
	return nil
}

// Certificate returns the certificate currently in service.
func (k *Keypair) Certificate() *tls.Certificate {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cert
}

// NotAfter reports when the served certificate expires.
func (k *Keypair) NotAfter() time.Time {
	c := k.Certificate()
	if c == nil || c.Leaf == nil {
		return time.Time{}
	}
	return c.Leaf.NotAfter
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (k *Keypair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return k.Certificate(), nil
}

// ServerConfig returns a listener configuration backed by k. When
// clientCAs names a bundle, clients must present a certificate it signs.
func (k *Keypair) ServerConfig(clientCAs string) (*tls.Config, error) {
	cfg := &tls.Config{
		GetCertificate: k.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if clientCAs != "" {
		pool := x509.NewCertPool()
		if err := addPath(pool, clientCAs); err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// Run watches the directories holding the keypair and reloads on change
// until ctx is done. Watching the directory rather than the file survives
// editors and tools that replace files by rename.
func (k *Keypair) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer w.Close()

	dirs := map[string]bool{filepath.Dir(k.certFile): true, filepath.Dir(k.keyFile): true}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", d, err)
		}
	}
	names := map[string]bool{filepath.Base(k.certFile): true, filepath.Base(k.keyFile): true}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !names[filepath.Base(ev.Name)] || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(k.settle)
			} else {
				timer.Reset(k.settle)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := k.Reload(); err != nil {
				k.logger.Error("tls keypair reload failed", "cert_file", k.certFile, "error", err)
				continue
			}
			k.logger.Info("tls keypair reloaded", "cert_file", k.certFile, "not_after", k.NotAfter())
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			k.logger.Warn("tls keypair watcher error", "error", err)
		}
	}
}
