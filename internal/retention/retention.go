package retention

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"roomsync/pkg/cache"
	"roomsync/pkg/config"
	"roomsync/pkg/logger"
)

// Sweeper removes room caches that have not been touched for longer than
// the configured age, and oldest-first when the cache root exceeds its size
// budget. The active room is never swept.
type Sweeper struct {
	cfg       config.RetentionConfig
	cacheRoot string
	// activeRoom reports the room currently owned by a coordinator so its
	// cache directory is skipped.
	activeRoom func() string
}

func NewSweeper(cfg config.RetentionConfig, cacheRoot string, activeRoom func() string) *Sweeper {
	if activeRoom == nil {
		activeRoom = func() string { return "" }
	}
	return &Sweeper{cfg: cfg, cacheRoot: cacheRoot, activeRoom: activeRoom}
}

// Start launches the scheduler if retention is enabled. Returns a cancel
// func stopping it.
func (s *Sweeper) Start(ctx context.Context) (context.CancelFunc, error) {
	if !s.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	cronExpr := s.cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", s.cfg.Cron)
	}
	logger.Info("retention_enabled", "cron", cronExpr, "max_age", time.Duration(s.cfg.MaxAge).String())
	ctx2, cancel := context.WithCancel(ctx)
	go s.runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx, sleeps until then
// and runs one sweep.
func (s *Sweeper) runScheduler(ctx context.Context, cronExpr string) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
		if err := s.RunOnce(); err != nil {
			logger.Error("retention_run_error", "error", err)
		}
	}
}

// RunOnce performs a single sweep. Exposed so the daemon status endpoint
// and tests can trigger it on demand.
func (s *Sweeper) RunOnce() error {
	entries, err := os.ReadDir(s.cacheRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type roomDir struct {
		path  string
		mtime time.Time
		size  int64
	}
	var dirs []roomDir
	active := s.activeRoom()
	for _, de := range entries {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), "room-") {
			continue
		}
		if active != "" && de.Name() == filepath.Base(cache.Dir(s.cacheRoot, active)) {
			continue
		}
		p := filepath.Join(s.cacheRoot, de.Name())
		dirs = append(dirs, roomDir{path: p, mtime: newestMtime(p), size: cache.DirSize(p)})
	}

	removed := 0
	maxAge := time.Duration(s.cfg.MaxAge)
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		kept := dirs[:0]
		for _, d := range dirs {
			if d.mtime.Before(cutoff) {
				if err := os.RemoveAll(d.path); err != nil {
					logger.Warn("retention_remove_failed", "path", d.path, "error", err)
					kept = append(kept, d)
					continue
				}
				logger.Info("retention_cache_removed", "path", d.path, "age", time.Since(d.mtime).String())
				removed++
				continue
			}
			kept = append(kept, d)
		}
		dirs = kept
	}

	if budget := s.cfg.MaxBytes.Int64(); budget > 0 {
		var total int64
		for _, d := range dirs {
			total += d.size
		}
		sort.Slice(dirs, func(i, j int) bool { return dirs[i].mtime.Before(dirs[j].mtime) })
		for _, d := range dirs {
			if total <= budget {
				break
			}
			if err := os.RemoveAll(d.path); err != nil {
				logger.Warn("retention_remove_failed", "path", d.path, "error", err)
				continue
			}
			logger.Info("retention_cache_removed", "path", d.path, "reason", "size_budget")
			total -= d.size
			removed++
		}
	}

	logger.Info("retention_sweep_done", "removed", removed)
	return nil
}

// newestMtime returns the newest file modification time under dir. Pebble
// touches its files on every write, so this tracks last cache activity.
func newestMtime(dir string) time.Time {
	var newest time.Time
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil && fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
		return nil
	})
	return newest
}
