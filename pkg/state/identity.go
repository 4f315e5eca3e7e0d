package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"roomsync/pkg/cache"
	"roomsync/pkg/logger"
	"roomsync/pkg/models"
)

// Store is the single-slot "last authenticated identity" store. It backs
// the fast-start identity check: a fresh session compares the slot against
// the newly authenticated user and invalidates all room caches on mismatch.
type Store struct {
	path string
}

const slotFile = "identity.json"

// NewStore returns a Store writing its slot under dir.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, slotFile)}
}

// Load reads the stored identity. ok=false when the slot is empty.
func (s *Store) Load() (models.Identity, bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Identity{}, false, nil
		}
		return models.Identity{}, false, fmt.Errorf("read identity slot: %w", err)
	}
	var id models.Identity
	if err := json.Unmarshal(b, &id); err != nil {
		// a corrupt slot is treated as empty; the next Save rewrites it
		logger.Warn("identity_slot_corrupt", "path", s.path, "error", err)
		return models.Identity{}, false, nil
	}
	if id.UserID == "" {
		return models.Identity{}, false, nil
	}
	return id, true, nil
}

// Save overwrites the slot.
func (s *Store) Save(id models.Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	b, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write identity slot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit identity slot: %w", err)
	}
	return nil
}

// Clear empties the slot.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear identity slot: %w", err)
	}
	return nil
}

// EnsureIdentity runs the session-start precondition: when the stored
// identity does not match current, every room cache under cacheRoot is
// removed before any sync starts. The slot is then updated to current,
// preserving a stored LastRoom when the same user returns without one.
// Returns whether caches were cleared.
func EnsureIdentity(s *Store, cacheRoot string, current models.Identity) (bool, error) {
	prev, ok, err := s.Load()
	if err != nil {
		return false, err
	}
	cleared := false
	if ok && prev.UserID != current.UserID {
		logger.Info("identity_mismatch", "stored", prev.UserID, "current", current.UserID)
		if err := cache.ClearAll(cacheRoot); err != nil {
			return false, fmt.Errorf("clear caches on identity mismatch: %w", err)
		}
		cleared = true
	}
	if ok && prev.UserID == current.UserID && current.LastRoom == "" {
		current.LastRoom = prev.LastRoom
	}
	if err := s.Save(current); err != nil {
		return cleared, err
	}
	return cleared, nil
}
