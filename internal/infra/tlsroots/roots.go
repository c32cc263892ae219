package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoCertsFound is returned when a PEM bundle holds no certificates.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found")
)

// bundleExts are the file extensions picked up when a CA path is a directory.
var bundleExts = map[string]bool{".pem": true, ".crt": true, ".cer": true}

// LoadCAs returns the system roots extended with every certificate found
// under paths. A path may name a PEM bundle or a directory of bundles.
// Falls back to an empty pool where the platform has no system store.
func LoadCAs(paths ...string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := addPath(pool, p); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func addPath(pool *x509.CertPool, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("tlsroots: %w", err)
	}
	if !fi.IsDir() {
		return addFile(pool, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read dir %s: %w", path, err)
	}
	added := 0
	for _, e := range entries {
		if e.IsDir() || !bundleExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		if err := addFile(pool, filepath.Join(path, e.Name())); err != nil {
			// A stray non-certificate file should not block the rest.
			if errors.Is(err, ErrNoCertsFound) {
				continue
			}
			return err
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("tlsroots: %s: %w", path, ErrNoCertsFound)
	}
	return nil
}

func addFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	certs, err := ParsePEM(data)
	if err != nil {
		return fmt.Errorf("tlsroots: %s: %w", path, err)
	}
	for _, c := range certs {
		pool.AddCert(c)
	}
	return nil
}

// ParsePEM decodes every CERTIFICATE block in data. Other block types are
// skipped.
func ParsePEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertsFound
	}
	return certs, nil
}

// ClientConfig builds the TLS configuration for outbound artifact store
// requests. serverName overrides SNI and verification when non-empty.
func ClientConfig(serverName string, caPaths ...string) (*tls.Config, error) {
	pool, err := LoadCAs(caPaths...)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}
