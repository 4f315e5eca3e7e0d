package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"roomsync/pkg/cache"
	"roomsync/pkg/config"
	"roomsync/pkg/logger"
	"roomsync/pkg/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func seedRoom(t *testing.T, root, roomID string, age time.Duration) string {
	t.Helper()
	c, err := cache.Open(root, roomID)
	if err != nil {
		t.Fatalf("cache.Open %s: %v", roomID, err)
	}
	if _, err := c.Upsert(models.Entry{Message: models.Message{ID: "m1", CreatedTS: 1}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	dir := cache.Dir(root, roomID)
	if age > 0 {
		old := time.Now().Add(-age)
		err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			return os.Chtimes(p, old, old)
		})
		if err != nil {
			t.Fatalf("age %s: %v", dir, err)
		}
	}
	return dir
}

func TestRunOnceRemovesExpired(t *testing.T) {
	root := t.TempDir()
	oldDir := seedRoom(t, root, "stale", 72*time.Hour)
	freshDir := seedRoom(t, root, "fresh", 0)

	s := NewSweeper(config.RetentionConfig{
		Enabled: true,
		MaxAge:  config.Duration(24 * time.Hour),
	}, root, nil)
	if err := s.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Fatalf("stale cache must be removed, stat err=%v", err)
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Fatalf("fresh cache must survive: %v", err)
	}
}

func TestRunOnceSkipsActiveRoom(t *testing.T) {
	root := t.TempDir()
	activeDir := seedRoom(t, root, "current", 72*time.Hour)

	s := NewSweeper(config.RetentionConfig{
		Enabled: true,
		MaxAge:  config.Duration(24 * time.Hour),
	}, root, func() string { return "current" })
	if err := s.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, err := os.Stat(activeDir); err != nil {
		t.Fatalf("active room cache must never be swept: %v", err)
	}
}

func TestRunOnceSizeBudgetOldestFirst(t *testing.T) {
	root := t.TempDir()
	oldest := seedRoom(t, root, "a", 48*time.Hour)
	newest := seedRoom(t, root, "b", 1*time.Hour)

	s := NewSweeper(config.RetentionConfig{
		Enabled:  true,
		MaxBytes: config.SizeBytes(cache.DirSize(newest)),
	}, root, nil)
	if err := s.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Fatalf("oldest cache must be evicted first, stat err=%v", err)
	}
	if _, err := os.Stat(newest); err != nil {
		t.Fatalf("newest cache must survive: %v", err)
	}
}

func TestRunOnceMissingRoot(t *testing.T) {
	s := NewSweeper(config.RetentionConfig{Enabled: true}, filepath.Join(t.TempDir(), "nope"), nil)
	if err := s.RunOnce(); err != nil {
		t.Fatalf("missing root must not error: %v", err)
	}
}

func TestStartRejectsBadCron(t *testing.T) {
	s := NewSweeper(config.RetentionConfig{Enabled: true, Cron: "not a cron"}, t.TempDir(), nil)
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}

func TestStartDisabled(t *testing.T) {
	s := NewSweeper(config.RetentionConfig{Enabled: false}, t.TempDir(), nil)
	cancel, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
}
