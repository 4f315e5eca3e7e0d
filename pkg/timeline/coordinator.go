package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"roomsync/pkg/cache"
	"roomsync/pkg/feed"
	"roomsync/pkg/logger"
	"roomsync/pkg/models"
)

// State is the per-room lifecycle of a Coordinator.
type State int32

const (
	Idle State = iota
	Subscribing
	Streaming
	Disposed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Disposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrDisposed is returned for operations on a disposed Coordinator.
var ErrDisposed = errors.New("coordinator disposed")

// Callback receives each reconciled, annotated window in delivery order.
type Callback func(roomID string, window []models.Entry)

const defaultLimit = 30

// Coordinator owns at most one live message subscription and its room
// cache. Per snapshot it upserts every message into the cache, annotates
// the window and pushes it to the callback. Starting a different room first
// cancels the prior subscription synchronously, so snapshots from two rooms
// never interleave.
type Coordinator struct {
	feed      feed.Feed
	cacheRoot string
	limit     int
	cb        Callback

	// mu serializes Start/Dispose and guards room/cache/loopDone. The
	// snapshot loop never takes mu: Start waits on loopDone while holding
	// it.
	mu       sync.Mutex
	room     string
	cache    *cache.Cache
	loopDone chan struct{}

	state atomic.Int32
	sub   atomic.Pointer[feed.Subscription]

	// cbMu serializes callback delivery between the live loop, the cache
	// fast path and pagination.
	cbMu sync.Mutex

	fastPathUsed bool
	cacheBroken  atomic.Bool
}

// New builds a Coordinator delivering windows of up to limit messages to cb.
// Room caches are opened under cacheRoot.
func New(f feed.Feed, cacheRoot string, limit int, cb Callback) *Coordinator {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Coordinator{feed: f, cacheRoot: cacheRoot, limit: limit, cb: cb}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Room returns the active room id, empty when idle.
func (c *Coordinator) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Start subscribes to roomID, replacing any prior subscription. The prior
// subscription is fully canceled before the new one is established. Before
// the first network snapshot arrives, a non-empty cache emits one
// cache-only window so a cold start shows data immediately; that window is
// always superseded by the first real snapshot.
func (c *Coordinator) Start(ctx context.Context, roomID string) error {
	if roomID == "" {
		return errors.New("start: empty room id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == Disposed {
		return ErrDisposed
	}
	if c.room == roomID && c.sub.Load() != nil {
		return nil
	}
	c.stopLocked()

	c.room = roomID
	c.state.Store(int32(Subscribing))
	c.fastPathUsed = false
	c.cacheBroken.Store(false)

	cc, err := cache.Open(c.cacheRoot, roomID)
	if err != nil {
		// network-only session; the cache is an accelerator, not truth
		logger.Warn("cache_open_failed", "room", roomID, "error", err)
		cc = nil
	}
	c.cache = cc

	if cc != nil && !c.fastPathUsed {
		if entries, err := cc.QueryLatest(c.limit); err != nil {
			logger.Warn("cache_fast_path_failed", "room", roomID, "error", err)
		} else if len(entries) > 0 {
			c.fastPathUsed = true
			mFastPath.Inc()
			c.deliver(roomID, Reannotate(entries))
		}
	}

	sub, err := c.feed.Subscribe(ctx, roomID, c.limit)
	if err != nil {
		c.closeCacheLocked()
		c.room = ""
		c.state.Store(int32(Idle))
		return err
	}
	c.sub.Store(sub)
	done := make(chan struct{})
	c.loopDone = done
	go c.run(roomID, cc, sub, done)
	logger.Info("room_subscribed", "room", roomID, "limit", c.limit)
	return nil
}

// run consumes live snapshots until the subscription ends.
func (c *Coordinator) run(room string, cc *cache.Cache, sub *feed.Subscription, done chan struct{}) {
	defer close(done)
	for snap := range sub.Snapshots() {
		if c.sub.Load() == sub {
			c.state.CompareAndSwap(int32(Subscribing), int32(Streaming))
		}
		c.apply(room, cc, snap)
	}
	if err := sub.Err(); err != nil {
		logger.Warn("live_subscription_dropped", "room", room, "error", err)
		// leave the last window standing; caller may Start again
		if c.sub.CompareAndSwap(sub, nil) {
			c.state.Store(int32(Idle))
		}
	}
}

// apply reconciles one full-window snapshot: idempotent upsert of every
// message, then annotate and push. Duplicate snapshot delivery is harmless
// because re-upserting an id overwrites instead of duplicating.
func (c *Coordinator) apply(room string, cc *cache.Cache, snap []models.Message) {
	window := Annotate(snap)
	inserted := 0
	if cc != nil && !c.cacheBroken.Load() {
		for _, e := range window {
			ins, err := cc.Upsert(e)
			if err != nil {
				logger.Warn("cache_upsert_failed", "room", room, "msg", e.ID, "error", err)
				if errors.Is(err, cache.ErrUnavailable) {
					c.cacheBroken.Store(true)
				}
				break
			}
			if ins {
				inserted++
			}
		}
	}
	mSnapshots.Inc()
	logger.Debug("snapshot_applied", "room", room, "size", len(window), "newly_cached", inserted)
	c.deliver(room, window)
}

// LoadOlder fetches one window strictly before the cursor message and
// delivers it through the same annotate-and-callback path. It does not
// touch the live window boundary. A vanished cursor surfaces as
// feed.ErrCursorMissing.
func (c *Coordinator) LoadOlder(ctx context.Context, cursorID string) error {
	if c.State() == Disposed {
		return ErrDisposed
	}
	c.mu.Lock()
	room := c.room
	cc := c.cache
	c.mu.Unlock()
	if room == "" {
		return errors.New("load older: no active room")
	}
	msgs, err := c.feed.PaginateBefore(ctx, room, cursorID, c.limit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	window := Annotate(msgs)
	if cc != nil && !c.cacheBroken.Load() {
		for _, e := range window {
			if _, err := cc.Upsert(e); err != nil {
				logger.Warn("cache_upsert_failed", "room", room, "msg", e.ID, "error", err)
				break
			}
		}
	}
	mPaginations.Inc()
	c.deliver(room, window)
	return nil
}

// Dispose cancels the live subscription and releases the cache handle. The
// cache contents are kept; clearing is a separate caller-driven operation
// tied to identity changes, not navigation. Idempotent.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == Disposed {
		return
	}
	c.stopLocked()
	c.room = ""
	c.state.Store(int32(Disposed))
	logger.Info("coordinator_disposed")
}

// stopLocked cancels the active subscription, waits for its loop to drain
// and releases the cache handle. Callers hold mu.
func (c *Coordinator) stopLocked() {
	if sub := c.sub.Swap(nil); sub != nil {
		sub.Cancel()
	}
	if c.loopDone != nil {
		<-c.loopDone
		c.loopDone = nil
	}
	c.closeCacheLocked()
}

func (c *Coordinator) closeCacheLocked() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			logger.Warn("cache_close_failed", "room", c.room, "error", err)
		}
		c.cache = nil
	}
}

func (c *Coordinator) deliver(room string, window []models.Entry) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	mWindows.Inc()
	c.cb(room, window)
}
