package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names an AEAD construction.
type Algorithm string

const (
	// Auto picks AESGCM or ChaCha20 from the CPU architecture.
	Auto     Algorithm = ""
	AESGCM   Algorithm = "aes-gcm"
	ChaCha20 Algorithm = "chacha20-poly1305"
)

// ParseAlgorithm accepts the configuration spelling of an algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case Auto, AESGCM, ChaCha20:
		return Algorithm(s), nil
	case "auto":
		return Auto, nil
	}
	return Auto, fmt.Errorf("adaptive: unknown algorithm %q", s)
}

// ErrOpen is returned when sealed data fails authentication.
var ErrOpen = errors.New("adaptive: message authentication failed")

// Cipher seals and opens byte slices. Implementations are safe for
// concurrent use.
type Cipher interface {
	Algorithm() Algorithm
	// Seal encrypts plaintext and binds it to aad.
	Seal(plaintext, aad []byte) ([]byte, error)
	// Open reverses Seal. aad must match the value given to Seal.
	Open(sealed, aad []byte) ([]byte, error)
	// Overhead is the number of bytes Seal adds.
	Overhead() int
}

// New returns a cipher for key. With Auto the algorithm follows the
// hardware.
func New(key []byte, alg Algorithm) (Cipher, error) {
	if alg == Auto {
		alg = preferred()
	}
	var (
		aead cipher.AEAD
		err  error
	)
	switch alg {
	case AESGCM:
		aead, err = newGCM(key)
	case ChaCha20:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("adaptive: %s needs a %d byte key, got %d", alg, chacha20poly1305.KeySize, len(key))
		}
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("adaptive: unknown algorithm %q", alg)
	}
	if err != nil {
		return nil, err
	}
	return &aeadCipher{alg: alg, aead: aead}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("adaptive: %s needs a 16, 24 or 32 byte key, got %d", AESGCM, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// preferred reports the algorithm that is fastest on this architecture.
// crypto/aes is constant-time and accelerated on amd64 and arm64 only.
func preferred() Algorithm {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return AESGCM
	}
	return ChaCha20
}

type aeadCipher struct {
	alg  Algorithm
	aead cipher.AEAD
}

func (c *aeadCipher) Algorithm() Algorithm { return c.alg }

func (c *aeadCipher) Overhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

func (c *aeadCipher) Seal(plaintext, aad []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("adaptive: nonce: %w", err)
	}
	return c.aead.Seal(out, out[:ns], plaintext, aad), nil
}

func (c *aeadCipher) Open(sealed, aad []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, ErrOpen
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
