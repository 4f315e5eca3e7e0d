package timeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"roomsync/pkg/cache"
	"roomsync/pkg/feed"
	"roomsync/pkg/logger"
	"roomsync/pkg/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

// fakeFeed hands out real subscriptions whose producer side is driven by the
// test. Each subscription finishes itself on cancel, matching the gateway's
// contract that Cancel returns only after the read loop exited.
type fakeFeed struct {
	mu     sync.Mutex
	subs   []*feed.Subscription
	subErr error

	pages   []models.Message
	pageErr error
}

func (f *fakeFeed) Subscribe(ctx context.Context, roomID string, limit int) (*feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	sub := feed.NewSubscription()
	go func() {
		<-sub.Stopped()
		sub.Finish(nil)
	}()
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) PaginateBefore(ctx context.Context, roomID, cursorID string, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	return f.pages, nil
}

func (f *fakeFeed) SubscribeMarkers(ctx context.Context, roomID string) (*feed.MarkerSubscription, error) {
	return nil, feed.ErrRemoteUnavailable
}

func (f *fakeFeed) SubscribeLikes(ctx context.Context, roomID string) (*feed.LikeSubscription, error) {
	return nil, feed.ErrRemoteUnavailable
}

func (f *fakeFeed) GetMember(ctx context.Context, userID string) (models.Member, error) {
	return models.Member{}, feed.ErrNotFound
}

func (f *fakeFeed) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	return models.Room{}, feed.ErrNotFound
}

func (f *fakeFeed) latest(t *testing.T) *feed.Subscription {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		t.Fatalf("no subscription opened")
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type delivery struct {
	room   string
	window []models.Entry
}

func recorder() (Callback, chan delivery) {
	ch := make(chan delivery, 32)
	return func(roomID string, window []models.Entry) {
		ch <- delivery{room: roomID, window: window}
	}, ch
}

func recv(t *testing.T, ch chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for window delivery")
		return delivery{}
	}
}

func ids(window []models.Entry) []string {
	out := make([]string, len(window))
	for i, e := range window {
		out[i] = e.ID
	}
	return out
}

func sameIDs(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSnapshotsDeliverInOrder(t *testing.T) {
	f := &fakeFeed{}
	cb, got := recorder()
	c := New(f, t.TempDir(), 30, cb)
	defer c.Dispose()

	if err := c.Start(context.Background(), "r1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := f.latest(t)
	s1 := []models.Message{msg("m1", 1, "alice")}
	s2 := []models.Message{msg("m1", 1, "alice"), msg("m2", 2, "bob")}
	if !sub.Deliver(s1) || !sub.Deliver(s2) {
		t.Fatalf("deliver rejected while live")
	}

	d1 := recv(t, got)
	if !sameIDs(ids(d1.window), []string{"m1"}) {
		t.Fatalf("first window: %v", ids(d1.window))
	}
	if c.State() != Streaming {
		t.Fatalf("state after first snapshot: %v", c.State())
	}
	d2 := recv(t, got)
	if !sameIDs(ids(d2.window), []string{"m1", "m2"}) {
		t.Fatalf("second window: %v", ids(d2.window))
	}
	if d2.window[0].NextAuthor != "bob" || !d2.window[1].LastInWindow {
		t.Fatalf("window not annotated: %+v", d2.window)
	}
}

func TestCacheFastPathPrecedesFirstSnapshot(t *testing.T) {
	root := t.TempDir()
	seed, err := cache.Open(root, "r1")
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	for _, m := range []models.Message{msg("m1", 1, "alice"), msg("m2", 2, "bob")} {
		if _, err := seed.Upsert(models.Entry{Message: m}); err != nil {
			t.Fatalf("seed upsert: %v", err)
		}
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("seed close: %v", err)
	}

	f := &fakeFeed{}
	cb, got := recorder()
	c := New(f, root, 30, cb)
	defer c.Dispose()

	if err := c.Start(context.Background(), "r1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// the cache window is emitted synchronously inside Start, so it is
	// already buffered before any snapshot could have been produced
	select {
	case d := <-got:
		if !sameIDs(ids(d.window), []string{"m1", "m2"}) {
			t.Fatalf("fast path window: %v", ids(d.window))
		}
		if !d.window[1].LastInWindow {
			t.Fatalf("fast path window not reannotated: %+v", d.window)
		}
	default:
		t.Fatalf("expected cache fast path before first snapshot")
	}

	sub := f.latest(t)
	if !sub.Deliver([]models.Message{msg("m3", 3, "carol")}) {
		t.Fatalf("deliver rejected while live")
	}
	d := recv(t, got)
	if !sameIDs(ids(d.window), []string{"m3"}) {
		t.Fatalf("snapshot window: %v", ids(d.window))
	}
}

func TestNoFastPathOnEmptyCache(t *testing.T) {
	f := &fakeFeed{}
	cb, got := recorder()
	c := New(f, t.TempDir(), 30, cb)
	defer c.Dispose()

	if err := c.Start(context.Background(), "r1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case d := <-got:
		t.Fatalf("unexpected window from empty cache: %v", ids(d.window))
	default:
	}
}

func TestStartSameRoomIsNoOp(t *testing.T) {
	f := &fakeFeed{}
	cb, _ := recorder()
	c := New(f, t.TempDir(), 30, cb)
	defer c.Dispose()

	ctx := context.Background()
	if err := c.Start(ctx, "r1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(ctx, "r1"); err != nil {
		t.Fatalf("re-Start: %v", err)
	}
	if n := f.count(); n != 1 {
		t.Fatalf("re-starting the active room must not resubscribe, got %d subs", n)
	}
}

func TestSwitchRoomCancelsPriorSubscription(t *testing.T) {
	f := &fakeFeed{}
	cb, got := recorder()
	c := New(f, t.TempDir(), 30, cb)
	defer c.Dispose()

	ctx := context.Background()
	if err := c.Start(ctx, "r1"); err != nil {
		t.Fatalf("Start r1: %v", err)
	}
	old := f.latest(t)
	if err := c.Start(ctx, "r2"); err != nil {
		t.Fatalf("Start r2: %v", err)
	}
	if n := f.count(); n != 2 {
		t.Fatalf("expected 2 subscriptions total, got %d", n)
	}
	// the old producer observes the cancel as a refused delivery
	if old.Deliver([]models.Message{msg("stale", 9, "alice")}) {
		t.Fatalf("prior subscription must be canceled before the new room starts")
	}
	if c.Room() != "r2" {
		t.Fatalf("active room: %q", c.Room())
	}

	cur := f.latest(t)
	if !cur.Deliver([]models.Message{msg("m1", 1, "bob")}) {
		t.Fatalf("deliver rejected on live subscription")
	}
	d := recv(t, got)
	if d.room != "r2" || !sameIDs(ids(d.window), []string{"m1"}) {
		t.Fatalf("cross-room delivery: room=%s window=%v", d.room, ids(d.window))
	}
}

func TestSubscribeFailureLeavesIdle(t *testing.T) {
	f := &fakeFeed{subErr: feed.ErrRemoteUnavailable}
	cb, _ := recorder()
	c := New(f, t.TempDir(), 30, cb)
	defer c.Dispose()

	err := c.Start(context.Background(), "r1")
	if !errors.Is(err, feed.ErrRemoteUnavailable) {
		t.Fatalf("want ErrRemoteUnavailable, got %v", err)
	}
	if c.State() != Idle || c.Room() != "" {
		t.Fatalf("failed start must leave the coordinator idle: state=%v room=%q", c.State(), c.Room())
	}
}

func TestStreamDropReturnsToIdle(t *testing.T) {
	f := &fakeFeed{}
	cb, _ := recorder()
	c := New(f, t.TempDir(), 30, cb)
	defer c.Dispose()

	if err := c.Start(context.Background(), "r1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.latest(t).Finish(feed.ErrRemoteUnavailable)

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != Idle {
		if time.Now().After(deadline) {
			t.Fatalf("state after drop: %v", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisposeIdempotent(t *testing.T) {
	f := &fakeFeed{}
	cb, _ := recorder()
	c := New(f, t.TempDir(), 30, cb)

	if err := c.Start(context.Background(), "r1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Dispose()
	c.Dispose()
	if c.State() != Disposed {
		t.Fatalf("state: %v", c.State())
	}
	if err := c.Start(context.Background(), "r2"); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Start after dispose: %v", err)
	}
	if err := c.LoadOlder(context.Background(), "m1"); !errors.Is(err, ErrDisposed) {
		t.Fatalf("LoadOlder after dispose: %v", err)
	}
}

func TestLoadOlderDeliversWindow(t *testing.T) {
	f := &fakeFeed{pages: []models.Message{msg("m1", 1, "alice"), msg("m2", 2, "bob")}}
	cb, got := recorder()
	c := New(f, t.TempDir(), 30, cb)
	defer c.Dispose()

	if err := c.Start(context.Background(), "r1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.LoadOlder(context.Background(), "m3"); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	d := recv(t, got)
	if !sameIDs(ids(d.window), []string{"m1", "m2"}) {
		t.Fatalf("paginated window: %v", ids(d.window))
	}
	if !d.window[1].LastInWindow {
		t.Fatalf("paginated window not annotated: %+v", d.window)
	}
}

func TestLoadOlderCursorMissing(t *testing.T) {
	f := &fakeFeed{pageErr: feed.ErrCursorMissing}
	cb, _ := recorder()
	c := New(f, t.TempDir(), 30, cb)
	defer c.Dispose()

	if err := c.Start(context.Background(), "r1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.LoadOlder(context.Background(), "gone"); !errors.Is(err, feed.ErrCursorMissing) {
		t.Fatalf("want ErrCursorMissing, got %v", err)
	}
}

func TestLoadOlderWithoutRoom(t *testing.T) {
	f := &fakeFeed{}
	cb, _ := recorder()
	c := New(f, t.TempDir(), 30, cb)
	defer c.Dispose()

	if err := c.LoadOlder(context.Background(), "m1"); err == nil {
		t.Fatalf("expected error with no active room")
	}
}

func TestBrokenCacheRootDegradesToNetworkOnly(t *testing.T) {
	// a plain file where the cache root should be makes every open fail
	root := filepath.Join(t.TempDir(), "root")
	if err := os.WriteFile(root, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f := &fakeFeed{}
	cb, got := recorder()
	c := New(f, root, 30, cb)
	defer c.Dispose()

	if err := c.Start(context.Background(), "r1"); err != nil {
		t.Fatalf("Start must survive a broken cache: %v", err)
	}
	if !f.latest(t).Deliver([]models.Message{msg("m1", 1, "alice")}) {
		t.Fatalf("deliver rejected while live")
	}
	d := recv(t, got)
	if !sameIDs(ids(d.window), []string{"m1"}) {
		t.Fatalf("window: %v", ids(d.window))
	}
}
