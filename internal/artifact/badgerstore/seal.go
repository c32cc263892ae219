package badgerstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yndnr/memsnap-go/pkg/crypto/adaptive"
)

const (
	saltFile          = "memsnap.salt"
	encryptionPurpose = "memsnap badger encryption v1"
)

// DeriveEncryptionKey turns the configured secret into a 32-byte badger
// key bound to this store. Passphrases keep their Argon2 salt in dir so the
// same passphrase reopens the database. It returns nil when p carries no
// key material.
func DeriveEncryptionKey(dir string, p adaptive.Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("badgerstore: %w", err)
	}
	if !p.Enabled() {
		return nil, nil
	}

	master := p.Key
	if len(p.Passphrase) > 0 {
		salt, err := loadSalt(dir)
		if err != nil {
			return nil, err
		}
		master = adaptive.DeriveKey(p.Passphrase, salt)
		defer adaptive.Zero(master)
	}
	key, err := adaptive.DeriveSubkey(master, encryptionPurpose, 32)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: derive key: %w", err)
	}
	return key, nil
}

func loadSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFile)
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != adaptive.SaltLength {
			return nil, fmt.Errorf("badgerstore: %s: %w", path, adaptive.ErrBadSalt)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("badgerstore: read salt: %w", err)
	}

	if salt, err = adaptive.RandomBytes(adaptive.SaltLength); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("badgerstore: create dir: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("badgerstore: write salt: %w", err)
	}
	return salt, nil
}
