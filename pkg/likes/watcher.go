package likes

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"roomsync/pkg/feed"
	"roomsync/pkg/logger"
	"roomsync/pkg/members"
	"roomsync/pkg/notify"
)

var mLikeNotifications = promauto.NewCounter(prometheus.CounterOpts{
	Name: "roomsync_like_notifications_total",
	Help: "Batched like notifications dispatched.",
})

const notifyTitle = "New likes"

// Watcher consumes a room's likers change feed and turns each additive
// delta into a single batched push to the message author, naming every new
// liker. Dispatch failures are logged and dropped; they never reach the
// sync path.
type Watcher struct {
	feed     feed.Feed
	resolver *members.Resolver
	notifier *notify.Client
	link     string
}

func NewWatcher(f feed.Feed, r *members.Resolver, n *notify.Client, link string) *Watcher {
	return &Watcher{feed: f, resolver: r, notifier: n, link: link}
}

// Watch subscribes to the room's like events. Cancel the returned
// subscription to stop.
func (w *Watcher) Watch(ctx context.Context, roomID string) (*feed.LikeSubscription, error) {
	sub, err := w.feed.SubscribeLikes(ctx, roomID)
	if err != nil {
		return nil, err
	}
	go func() {
		for ev := range sub.Likes() {
			w.handle(ctx, ev)
		}
		if err := sub.Err(); err != nil {
			logger.Warn("like_stream_dropped", "room", roomID, "error", err)
		}
	}()
	return sub, nil
}

func (w *Watcher) handle(ctx context.Context, ev feed.LikeEvent) {
	added := Diff(ev.Before, ev.After, ev.Author)
	if len(added) == 0 {
		return
	}
	names := make([]string, 0, len(added))
	for _, uid := range added {
		names = append(names, w.resolver.DisplayName(ctx, uid))
	}
	// one batched message regardless of how many liked at once
	b := notify.Batch{
		Recipients: []string{ev.Author},
		Title:      notifyTitle,
		Body:       strings.Join(names, ", ") + " liked your message",
		Link:       w.link,
	}
	if err := w.notifier.Send(ctx, b); err != nil {
		logger.Warn("like_notification_failed", "room", ev.Room, "msg", ev.MessageID, "error", err)
		return
	}
	mLikeNotifications.Inc()
	logger.Debug("like_notification_sent", "room", ev.Room, "msg", ev.MessageID, "likers", len(added))
}
