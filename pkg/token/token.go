// Package token generates and checks artifact service bearer tokens.
//
// Tokens are "mst_" followed by 32 random bytes in base64 RawURL form. The
// service configuration may list a token verbatim or as its "sha256:" hash
// so the file does not carry the secret itself.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Prefix marks memsnap service tokens so log redaction can spot them.
	Prefix = "mst_"
	// HashPrefix marks a configured entry holding a token hash.
	HashPrefix = "sha256:"
	// DefaultLength is the default token entropy in bytes.
	DefaultLength = 32
	// MinLength is the smallest accepted entropy length in bytes.
	MinLength = 8
)

// Generate generates a cryptographically secure service token.
func Generate() (string, error) {
	return GenerateWithLength(DefaultLength)
}

// GenerateWithLength generates a token with length bytes of entropy.
// length must be at least MinLength.
func GenerateWithLength(length int) (string, error) {
	if length < MinLength {
		return "", fmt.Errorf("token: length %d below minimum %d", length, MinLength)
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash returns the configuration form of a token's hash.
func Hash(token string) string {
	h := sha256.Sum256([]byte(token))
	return HashPrefix + hex.EncodeToString(h[:])
}

// Matcher checks presented tokens against configured entries.
type Matcher struct {
	plain  [][]byte
	hashed [][]byte
}

// NewMatcher builds a matcher. Empty entries are ignored; entries starting
// with HashPrefix match tokens hashing to them.
func NewMatcher(entries []string) *Matcher {
	m := &Matcher{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		switch {
		case e == "":
		case strings.HasPrefix(strings.ToLower(e), HashPrefix):
			m.hashed = append(m.hashed, []byte(strings.ToLower(e)))
		default:
			m.plain = append(m.plain, []byte(e))
		}
	}
	return m
}

// Len returns the number of configured entries.
func (m *Matcher) Len() int {
	return len(m.plain) + len(m.hashed)
}

// Match reports whether token matches any entry. Every entry is compared
// in constant time.
func (m *Matcher) Match(token string) bool {
	if token == "" {
		return false
	}
	ok := 0
	got := []byte(token)
	for _, p := range m.plain {
		ok |= subtle.ConstantTimeCompare(got, p)
	}
	if len(m.hashed) > 0 {
		h := []byte(Hash(token))
		for _, p := range m.hashed {
			ok |= subtle.ConstantTimeCompare(h, p)
		}
	}
	return ok == 1
}
