package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"roomsync/internal/retention"
	"roomsync/pkg/config"
	"roomsync/pkg/feed"
	"roomsync/pkg/likes"
	"roomsync/pkg/logger"
	"roomsync/pkg/members"
	"roomsync/pkg/models"
	"roomsync/pkg/notify"
	"roomsync/pkg/receipts"
	"roomsync/pkg/state"
	"roomsync/pkg/timeline"
)

// App wires the sync components for one authenticated user and room and
// owns their lifecycle.
type App struct {
	cfg  *config.Config
	user string
	room string

	gw       feed.Feed
	coord    *timeline.Coordinator
	resolver *members.Resolver
	tracker  *receipts.Tracker
	watcher  *likes.Watcher
	notifier *notify.Client
	idstore  *state.Store

	mu           sync.Mutex
	windowSize   int
	lastSnapshot time.Time
	lastReceipts []models.Receipt
}

// New builds an App from config. user must be the authenticated user id;
// room may be empty, in which case the identity slot's last room is
// resumed.
func New(cfg *config.Config, user, room string) (*App, error) {
	if user == "" {
		return nil, errors.New("user id required")
	}
	if cfg.Gateway.FeedURL == "" {
		return nil, errors.New("gateway.feed_url required")
	}

	gw := feed.NewGateway(feed.Options{
		FeedURL:     cfg.Gateway.FeedURL,
		RestURL:     cfg.Gateway.RestURL,
		APIKey:      cfg.Gateway.APIKey,
		DialTimeout: cfg.Gateway.DialTimeout.Duration(),
		ReadTimeout: cfg.Gateway.ReadTimeout.Duration(),
	})

	zlog, err := zap.NewProduction()
	if err != nil {
		zlog = zap.NewNop()
	}
	notifier := notify.NewClient(notify.Options{
		Endpoint: cfg.Notify.Endpoint,
		Key:      cfg.Notify.Key,
		Timeout:  cfg.Notify.Timeout.Duration(),
		RPS:      cfg.Notify.RPS,
		Burst:    cfg.Notify.Burst,
	}, zlog)

	resolver := members.NewResolver(gw, nil)

	a := &App{
		cfg:      cfg,
		user:     user,
		room:     room,
		gw:       gw,
		resolver: resolver,
		tracker:  receipts.NewTracker(gw),
		watcher:  likes.NewWatcher(gw, resolver, notifier, cfg.Notify.Link),
		notifier: notifier,
		idstore:  state.NewStore(cfg.Cache.Root),
	}
	a.coord = timeline.New(gw, cfg.Cache.Root, cfg.Window.Limit, a.onWindow)
	return a, nil
}

// Run starts the session and blocks until ctx is canceled. The identity
// precondition runs first: a user switch invalidates every room cache
// before any sync starts.
func (a *App) Run(ctx context.Context) error {
	ident := models.Identity{UserID: a.user, LastRoom: a.room}
	if m, err := a.gw.GetMember(ctx, a.user); err == nil {
		ident.Name = m.Name
		ident.PhotoURL = m.PhotoURL
	}
	cleared, err := state.EnsureIdentity(a.idstore, a.cfg.Cache.Root, ident)
	if err != nil {
		return fmt.Errorf("identity check: %w", err)
	}
	if cleared {
		logger.Info("caches_invalidated_on_identity_change", "user", a.user)
	}

	if a.room == "" {
		if stored, ok, _ := a.idstore.Load(); ok && stored.LastRoom != "" {
			a.room = stored.LastRoom
			logger.Info("resuming_last_room", "room", a.room)
		}
	}
	if a.room == "" {
		return errors.New("no room: pass -room or sync one first")
	}

	if err := a.coord.Start(ctx, a.room); err != nil {
		return fmt.Errorf("start sync for %s: %w", a.room, err)
	}
	defer a.coord.Dispose()

	ident.LastRoom = a.room
	if err := a.idstore.Save(ident); err != nil {
		logger.Warn("identity_save_failed", "error", err)
	}

	// membership prefetch is best-effort; names fall back to ids
	if err := a.resolver.Refresh(ctx, a.room); err != nil {
		logger.Warn("member_refresh_failed", "room", a.room, "error", err)
	}

	markerSub, err := a.tracker.Watch(ctx, a.room, a.user, a.onReceipts)
	if err != nil {
		logger.Warn("read_marker_watch_failed", "room", a.room, "error", err)
	} else {
		defer markerSub.Cancel()
	}

	likeSub, err := a.watcher.Watch(ctx, a.room)
	if err != nil {
		logger.Warn("like_watch_failed", "room", a.room, "error", err)
	} else {
		defer likeSub.Cancel()
	}

	sweeper := retention.NewSweeper(a.cfg.Retention, a.cfg.Cache.Root, a.coord.Room)
	stopSweep, err := sweeper.Start(ctx)
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	defer stopSweep()

	errCh := a.startHTTP(ctx)

	logger.Info("roomsync_running", "user", a.user, "room", a.room)
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// onWindow receives every reconciled window from the coordinator.
func (a *App) onWindow(roomID string, window []models.Entry) {
	a.mu.Lock()
	a.windowSize = len(window)
	a.lastSnapshot = time.Now()
	a.mu.Unlock()
	if len(window) > 0 {
		last := window[len(window)-1]
		logger.Info("window_updated", "room", roomID, "size", len(window), "newest", last.ID)
	}
}

func (a *App) onReceipts(rs []models.Receipt) {
	a.mu.Lock()
	a.lastReceipts = rs
	a.mu.Unlock()
	for _, r := range rs {
		logger.Debug("read_receipt", "user", r.User, "up_to", r.MessageID)
	}
}
