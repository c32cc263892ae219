package adaptive

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	MinKeyLength        = 16
	MinPassphraseLength = 8
	SaltLength          = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	derivedKeyLen = 32
)

var (
	ErrKeyTooShort       = errors.New("adaptive: key shorter than 16 bytes")
	ErrPassphraseTooWeak = errors.New("adaptive: passphrase shorter than 8 characters")
	ErrBadSalt           = errors.New("adaptive: salt must be 16 bytes")
)

// Params selects the key material for FromParams. Passphrase wins over Key.
type Params struct {
	Key        []byte
	Passphrase []byte
	// Salt reproduces an earlier passphrase derivation. Nil draws a fresh
	// salt, which FromParams returns so the caller can persist it.
	Salt      []byte
	Algorithm Algorithm
	// Purpose, when set, derives a purpose-bound subkey with HKDF so the
	// same master secret can protect unrelated data sets.
	Purpose string
}

// Enabled reports whether any key material is configured.
func (p Params) Enabled() bool {
	return len(p.Key) > 0 || len(p.Passphrase) > 0
}

// Validate checks key and passphrase lengths.
func (p Params) Validate() error {
	if len(p.Passphrase) > 0 {
		if len(p.Passphrase) < MinPassphraseLength {
			return ErrPassphraseTooWeak
		}
		if p.Salt != nil && len(p.Salt) != SaltLength {
			return ErrBadSalt
		}
		return nil
	}
	if len(p.Key) > 0 && len(p.Key) < MinKeyLength {
		return ErrKeyTooShort
	}
	return nil
}

// FromParams builds the cipher described by p. It returns a nil cipher when
// p carries no key material. salt is non-nil only for passphrase keys.
func FromParams(p Params) (c Cipher, salt []byte, err error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	if !p.Enabled() {
		return nil, nil, nil
	}

	var key []byte
	if len(p.Passphrase) > 0 {
		salt = p.Salt
		if salt == nil {
			if salt, err = RandomBytes(SaltLength); err != nil {
				return nil, nil, err
			}
		}
		key = DeriveKey(p.Passphrase, salt)
		defer Zero(key)
	} else {
		key = p.Key
	}

	if p.Purpose != "" {
		sub, err := DeriveSubkey(key, p.Purpose, derivedKeyLen)
		if err != nil {
			return nil, nil, err
		}
		defer Zero(sub)
		key = sub
	} else if len(key) != derivedKeyLen && p.Algorithm != AESGCM {
		// chacha20 and auto-selected AES-256 both want 32 bytes.
		sub, err := DeriveSubkey(key, "memsnap", derivedKeyLen)
		if err != nil {
			return nil, nil, err
		}
		defer Zero(sub)
		key = sub
	}

	c, err = New(key, p.Algorithm)
	if err != nil {
		return nil, nil, err
	}
	return c, salt, nil
}

// DeriveKey stretches a passphrase into a 32 byte key with Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, derivedKeyLen)
}

// DeriveSubkey expands master into a length byte key bound to info.
func DeriveSubkey(master []byte, info string, length int) ([]byte, error) {
	if len(master) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("adaptive: hkdf: %w", err)
	}
	return out, nil
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("adaptive: random: %w", err)
	}
	return b, nil
}

// Zero overwrites b.
func Zero(b []byte) {
	clear(b)
}
