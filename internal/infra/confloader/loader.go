// Package confloader layers memsnap configuration from defaults, a YAML
// file and MEMSNAP_ environment variables using koanf.
//
// Later sources override earlier ones: defaults, then the file, then the
// environment, then any explicit overrides passed to LoadMap (the CLI
// flags).
package confloader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "MEMSNAP_"

// EnvNestSep separates nesting levels in environment variable names, so
// MEMSNAP_SNAPSHOT__UPLOAD_ENABLED sets snapshot.upload_enabled.
const EnvNestSep = "__"

// Loader collects configuration sources into one koanf instance.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	defaults  map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix overrides DefaultEnvPrefix. An empty prefix disables the
// environment source.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile names the YAML file to load.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithDefaults seeds the loader with flattened default values.
func WithDefaults(defaults map[string]any) Option {
	return func(l *Loader) { l.defaults = defaults }
}

// NewLoader returns an empty loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured YAML file, or "".
func (l *Loader) FilePath() string {
	return l.filePath
}

// Load reads defaults, the file and the environment into target.
func (l *Loader) Load(target any) error {
	if len(l.defaults) > 0 {
		if err := l.LoadMap(l.defaults); err != nil {
			return err
		}
	}
	if err := l.LoadFile(l.filePath); err != nil {
		return err
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	return l.Unmarshal(target)
}

// LoadFile merges a YAML file. An empty path is a no-op.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("confloader: load %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges variables carrying the loader's prefix.
func (l *Loader) LoadEnv() error {
	if l.envPrefix == "" {
		return nil
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return fmt.Errorf("confloader: load env: %w", err)
	}
	return nil
}

// envKey maps MEMSNAP_STORAGE__RETENTION_COUNT to storage.retention_count.
func (l *Loader) envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
	return strings.ReplaceAll(s, EnvNestSep, ".")
}

// LoadMap merges dotted keys, for flags and tests.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("confloader: load map: %w", err)
	}
	return nil
}

// Unmarshal decodes the merged configuration using koanf struct tags.
func (l *Loader) Unmarshal(target any) error {
	if target == nil {
		return errors.New("confloader: nil target")
	}
	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("confloader: unmarshal: %w", err)
	}
	return nil
}

// String returns a merged value.
func (l *Loader) String(key string) string {
	return l.k.String(key)
}

// Keys returns every merged key.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}
