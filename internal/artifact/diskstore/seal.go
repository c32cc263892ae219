package diskstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yndnr/memsnap-go/pkg/crypto/adaptive"
)

const saltFile = ".salt"

// sealPurpose separates the artifact key from other keys derived from the
// same secret.
const sealPurpose = "memsnap artifact seal v1"

// OpenCipher builds the at-rest cipher for a store rooted at dir. For
// passphrase keys the Argon2 salt is read from dir, or created there on
// first use, so the same passphrase opens the store after a restart. It
// returns nil when p carries no key material.
func OpenCipher(dir string, p adaptive.Params) (adaptive.Cipher, error) {
	if !p.Enabled() {
		return nil, nil
	}
	p.Purpose = sealPurpose

	path := filepath.Join(dir, saltFile)
	if len(p.Passphrase) > 0 && p.Salt == nil {
		salt, err := os.ReadFile(path)
		switch {
		case err == nil:
			p.Salt = salt
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("diskstore: read salt: %w", err)
		}
	}

	c, salt, err := adaptive.FromParams(p)
	if err != nil {
		return nil, fmt.Errorf("diskstore: cipher: %w", err)
	}
	if salt != nil && p.Salt == nil {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("diskstore: create dir: %w", err)
		}
		if err := writeFileAtomic(path, salt); err != nil {
			return nil, err
		}
	}
	return c, nil
}
