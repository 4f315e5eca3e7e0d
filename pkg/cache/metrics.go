package cache

import (
	"io/fs"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mUpsertInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_cache_upsert_inserted_total",
		Help: "Messages newly inserted into a room cache.",
	})
	mUpsertReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_cache_upsert_replaced_total",
		Help: "Messages re-upserted over an existing cache entry.",
	})
	mHit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_cache_hits_total",
		Help: "Point reads answered from the room cache.",
	})
	mMiss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_cache_misses_total",
		Help: "Point reads not present in the room cache.",
	})
)

// DirSize returns the best-effort on-disk size of a cache directory in
// bytes. Used by the retention sweep to enforce a size budget.
func DirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
