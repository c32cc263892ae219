package artifact

import (
	"fmt"
	"regexp"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/memsnap-go/internal/core/domain"
)

// BaselineKey is the key of the snapshot shared by every script.
const BaselineKey = "baseline"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateKey checks that key is safe to use as a file name and URL path
// segment.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return domain.ErrInvalidArtifactKey.WithDetails(fmt.Sprintf("%q", key))
	}
	return nil
}

// DedicatedKey derives the key of a snapshot specialized to one script.
// The preload list is part of the key since it changes which libraries the
// heap refers to.
func DedicatedKey(script []byte, preload []string) string {
	h := murmur3.New64()
	h.Write(script)
	for _, p := range preload {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return fmt.Sprintf("dedicated-%016x", h.Sum64())
}
