package diskstore

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// Prune applies the retention policy to every key and returns the number of
// generations removed.
//
// A generation survives when it is among the RetentionCount newest of its
// key or younger than RetentionDays. The newest generation always survives.
func (s *Store) Prune(ctx context.Context) (removed int, err error) {
	defer func() { s.cfg.Metrics.ObserveStoreOp(backendName, "prune", err) }()

	keys, err := s.keys()
	if err != nil {
		return 0, err
	}

	var cutoff int64
	if s.cfg.RetentionDays > 0 {
		cutoff = time.Now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := s.pruneKey(key, cutoff)
		removed += n
		if err != nil {
			return removed, err
		}
	}

	if removed > 0 {
		s.logger.Info("pruned artifact generations", "removed", removed)
	}
	return removed, nil
}

func (s *Store) pruneKey(key string, cutoff int64) (removed int, err error) {
	defer s.lockKey(key)()

	gens, err := s.generations(key)
	if err != nil {
		return 0, err
	}
	if len(gens) <= 1 {
		return 0, nil
	}

	keepFrom := len(gens) - s.cfg.RetentionCount
	dir := filepath.Join(s.cfg.Dir, key)
	for i, g := range gens[:len(gens)-1] {
		if i >= keepFrom {
			break
		}
		if cutoff > 0 && g.CreatedAt > cutoff {
			continue
		}
		os.Remove(filepath.Join(dir, g.ID+sidecarExt))
		os.Remove(filepath.Join(dir, g.ID+artifactExt))
		removed++
	}
	return removed, nil
}
