package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

// mapProvider feeds dotted keys into koanf. Keys are unflattened so that
// "storage.dir" merges into the storage section instead of shadowing it.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("confloader: map provider has no byte form")
}

func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(map[string]any(m), "."), nil
}
