package config

import (
	"github.com/yndnr/memsnap-go/internal/infra/confloader"
)

// Load layers defaults, the YAML file at path (optional) and MEMSNAP_
// environment variables, then applies overrides.
func Load(path string, overrides map[string]any) (*ServerConfig, error) {
	l := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithDefaults(DefaultMap()),
	)
	cfg := &ServerConfig{}
	if err := l.Load(cfg); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := l.LoadMap(overrides); err != nil {
			return nil, err
		}
		if err := l.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
