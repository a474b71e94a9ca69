// Package cleanup reclaims disk space from files left behind by interrupted
// work: spooled uploads, update backups and half-written local objects.
// None of these names is ever referenced by a file record.
package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eriker75/onenglish-sub002/internal/metrics"
	"go.uber.org/zap"
)

// Target is one directory to sweep. A file matches when it carries Prefix
// and Suffix (either may be empty). Nested also scans one level of
// subdirectories, which is how the local backend lays out categories.
type Target struct {
	Dir    string
	Prefix string
	Suffix string
	Nested bool
}

func (t Target) matches(name string) bool {
	return strings.HasPrefix(name, t.Prefix) && strings.HasSuffix(name, t.Suffix)
}

// Sweep removes matching regular files older than ttl and returns how many
// were removed. Files still being written have a recent mtime and are left
// alone.
func Sweep(targets []Target, ttl time.Duration, logger *zap.Logger) int {
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, t := range targets {
		if t.Dir == "" {
			continue
		}
		removed += sweepDir(t, t.Dir, cutoff, t.Nested, logger)
	}
	if removed > 0 {
		metrics.ObserveSwept(removed)
		logger.Info("cleanup: cycle complete", zap.Int("removed", removed))
	}
	return removed
}

func sweepDir(t Target, dir string, cutoff time.Time, descend bool, logger *zap.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("cleanup: readdir failed", zap.String("dir", dir), zap.Error(err))
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if descend {
				removed += sweepDir(t, path, cutoff, false, logger)
			}
			continue
		}
		if !e.Type().IsRegular() || !t.matches(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("cleanup: remove failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
		logger.Debug("cleanup: removed stale file",
			zap.String("path", path), zap.Duration("age", time.Since(info.ModTime()).Round(time.Minute)))
	}
	return removed
}

// RunPeriodic sweeps targets every interval until ctx is cancelled. A first
// pass runs immediately to flush leftovers from a previous crash. A
// non-positive interval or ttl leaves the sweeper off.
func RunPeriodic(ctx context.Context, targets []Target, ttl, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 || ttl <= 0 {
		logger.Warn("cleanup: sweeper disabled", zap.Duration("interval", interval), zap.Duration("ttl", ttl))
		return
	}
	go func() {
		Sweep(targets, ttl, logger)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				Sweep(targets, ttl, logger)
			case <-ctx.Done():
				return
			}
		}
	}()
}
