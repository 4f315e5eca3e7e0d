package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/pebble"

	"roomsync/pkg/logger"
	"roomsync/pkg/models"
)

// ErrUnavailable indicates the local storage layer failed. Callers must
// treat the cache as an optional accelerator: on ErrUnavailable they fall
// back to network-only behavior instead of failing the sync.
var ErrUnavailable = errors.New("cache unavailable")

// dirPrefix namespaces room cache directories under the cache root so a
// sweep can tell room caches apart from unrelated files.
const dirPrefix = "room-"

// Key layout inside a room cache:
//
//	msg:<unix_nano_padded>-<msgID> -> models.Entry JSON (window order scan)
//	id:<msgID>                     -> msg key bytes (dedupe + point lookup)
//	member:<userID>                -> models.Member JSON
const (
	msgPrefix    = "msg:"
	idPrefix     = "id:"
	memberPrefix = "member:"
)

// Cache is a persistent per-room store of message and member records. A
// Cache is exclusively owned by the coordinator that opened it; no two
// coordinators may hold a cache for the same room concurrently. Close must
// be called before a cache for a different room opens.
type Cache struct {
	room string
	dir  string
	db   *pebble.DB
}

// Open opens (or creates) the pebble cache for roomID under root.
func Open(root, roomID string) (*Cache, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: empty room id", ErrUnavailable)
	}
	dir := Dir(root, roomID)
	if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger.Debug("opening_room_cache", "room", roomID, "path", dir)
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		logger.Error("room_cache_open_failed", "room", roomID, "path", dir, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Cache{room: roomID, dir: dir, db: db}, nil
}

// Dir returns the cache directory used for roomID under root.
func Dir(root, roomID string) string {
	return filepath.Join(root, dirPrefix+roomID)
}

// Room returns the owning room id.
func (c *Cache) Room() string { return c.room }

// Close releases the underlying storage handle. Safe to call twice.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger.Debug("room_cache_closed", "room", c.room)
	return nil
}

// Upsert stores e keyed by message id. Re-adding an existing id overwrites
// the record and returns inserted=false; the cache never holds two entries
// for one id.
func (c *Cache) Upsert(e models.Entry) (bool, error) {
	if c.db == nil {
		return false, fmt.Errorf("%w: cache closed", ErrUnavailable)
	}
	if e.ID == "" {
		return false, fmt.Errorf("upsert: message without id")
	}
	key := msgKey(e.CreatedTS, e.ID)
	idKey := []byte(idPrefix + e.ID)

	inserted := true
	if prev, closer, err := c.db.Get(idKey); err == nil {
		inserted = false
		// createdAt is immutable, but a record observed before its server
		// timestamp resolved may have been stored under a different key
		if !bytes.Equal(prev, key) {
			if derr := c.db.Delete(prev, pebble.Sync); derr != nil {
				closer.Close()
				return false, fmt.Errorf("%w: %v", ErrUnavailable, derr)
			}
		}
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshal entry %s: %w", e.ID, err)
	}
	if err := c.db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("cache_upsert_failed", "room", c.room, "msg", e.ID, "error", err)
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := c.db.Set(idKey, key, pebble.Sync); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if inserted {
		mUpsertInserted.Inc()
	} else {
		mUpsertReplaced.Inc()
	}
	return inserted, nil
}

// Get returns the cached entry for a message id.
func (c *Cache) Get(id string) (models.Entry, bool, error) {
	if c.db == nil {
		return models.Entry{}, false, fmt.Errorf("%w: cache closed", ErrUnavailable)
	}
	key, closer, err := c.db.Get([]byte(idPrefix + id))
	if err == pebble.ErrNotFound {
		mMiss.Inc()
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	msgK := append([]byte(nil), key...)
	closer.Close()

	v, closer2, err := c.db.Get(msgK)
	if err == pebble.ErrNotFound {
		mMiss.Inc()
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer closer2.Close()
	var e models.Entry
	if err := json.Unmarshal(v, &e); err != nil {
		return models.Entry{}, false, fmt.Errorf("invalid cached entry %s: %w", id, err)
	}
	mHit.Inc()
	return e, true, nil
}

// QueryLatest returns up to limit newest entries in window order (oldest
// to newest). An empty cache yields an empty slice, not an error.
func (c *Cache) QueryLatest(limit int) ([]models.Entry, error) {
	if c.db == nil {
		return nil, fmt.Errorf("%w: cache closed", ErrUnavailable)
	}
	lo := []byte(msgPrefix)
	hi := []byte(msgPrefix + "\xff")
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer iter.Close()

	var out []models.Entry
	for ok := iter.Last(); ok && (limit <= 0 || len(out) < limit); ok = iter.Prev() {
		var e models.Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			logger.Warn("cache_entry_invalid", "room", c.room, "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// scanned newest-first; flip to window order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PutMember stores a member profile for the room.
func (c *Cache) PutMember(m models.Member) error {
	if c.db == nil {
		return fmt.Errorf("%w: cache closed", ErrUnavailable)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal member %s: %w", m.ID, err)
	}
	if err := c.db.Set([]byte(memberPrefix+m.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Member returns the cached profile for a user id.
func (c *Cache) Member(id string) (models.Member, bool, error) {
	if c.db == nil {
		return models.Member{}, false, fmt.Errorf("%w: cache closed", ErrUnavailable)
	}
	v, closer, err := c.db.Get([]byte(memberPrefix + id))
	if err == pebble.ErrNotFound {
		return models.Member{}, false, nil
	}
	if err != nil {
		return models.Member{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer closer.Close()
	var m models.Member
	if err := json.Unmarshal(v, &m); err != nil {
		return models.Member{}, false, fmt.Errorf("invalid cached member %s: %w", id, err)
	}
	return m, true, nil
}

// Members returns all cached member profiles for the room.
func (c *Cache) Members() ([]models.Member, error) {
	if c.db == nil {
		return nil, fmt.Errorf("%w: cache closed", ErrUnavailable)
	}
	lo := []byte(memberPrefix)
	hi := []byte(memberPrefix + "\xff")
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer iter.Close()
	var out []models.Member
	for ok := iter.First(); ok; ok = iter.Next() {
		var m models.Member
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// Clear removes all entries for this room. The handle stays usable.
func (c *Cache) Clear() error {
	if c.db == nil {
		return fmt.Errorf("%w: cache closed", ErrUnavailable)
	}
	if err := c.db.DeleteRange([]byte(""), []byte("\xff"), pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger.Info("room_cache_cleared", "room", c.room)
	return nil
}

// ClearAll removes every room cache directory under root. Used when the
// authenticated identity changed and all locally cached data belongs to
// someone else.
func ClearAll(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var firstErr error
	for _, de := range entries {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), dirPrefix) {
			continue
		}
		p := filepath.Join(root, de.Name())
		if err := os.RemoveAll(p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		} else {
			logger.Info("room_cache_removed", "path", p)
		}
	}
	return firstErr
}

func msgKey(ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d-%s", msgPrefix, ts, id))
}
