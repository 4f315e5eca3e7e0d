package members

import (
	"context"
	"sync"

	"roomsync/pkg/cache"
	"roomsync/pkg/feed"
	"roomsync/pkg/logger"
	"roomsync/pkg/models"
)

// Resolver resolves member profiles for one room: in-memory first, then the
// room cache, then a gateway point read whose result is cached for next
// time. Profiles are best-effort; staleness is tolerated and a lookup
// failure falls back to the bare user id.
type Resolver struct {
	feed feed.Feed

	mu    sync.Mutex
	cache *cache.Cache // optional, may be nil
	known map[string]models.Member
}

func NewResolver(f feed.Feed, c *cache.Cache) *Resolver {
	return &Resolver{feed: f, cache: c, known: make(map[string]models.Member)}
}

// Resolve returns the profile for userID.
func (r *Resolver) Resolve(ctx context.Context, userID string) (models.Member, error) {
	r.mu.Lock()
	if m, ok := r.known[userID]; ok {
		r.mu.Unlock()
		return m, nil
	}
	cc := r.cache
	r.mu.Unlock()

	if cc != nil {
		if m, ok, err := cc.Member(userID); err == nil && ok {
			r.remember(m)
			return m, nil
		}
	}

	m, err := r.feed.GetMember(ctx, userID)
	if err != nil {
		return models.Member{}, err
	}
	r.remember(m)
	if cc != nil {
		if err := cc.PutMember(m); err != nil {
			logger.Debug("member_cache_write_failed", "user", userID, "error", err)
		}
	}
	return m, nil
}

// DisplayName resolves userID to a display name, falling back to the id
// itself when the profile cannot be fetched.
func (r *Resolver) DisplayName(ctx context.Context, userID string) string {
	m, err := r.Resolve(ctx, userID)
	if err != nil {
		logger.Debug("member_resolve_failed", "user", userID, "error", err)
		return userID
	}
	return m.Name
}

// Refresh re-reads the room membership from the gateway and caches every
// profile. Errors are returned but a partial refresh still caches what it
// fetched.
func (r *Resolver) Refresh(ctx context.Context, roomID string) error {
	room, err := r.feed.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	for _, uid := range room.Members {
		if _, err := r.Resolve(ctx, uid); err != nil {
			logger.Debug("member_refresh_skip", "user", uid, "error", err)
		}
	}
	return nil
}

func (r *Resolver) remember(m models.Member) {
	r.mu.Lock()
	r.known[m.ID] = m
	r.mu.Unlock()
}
