package receipts

import (
	"context"

	"roomsync/pkg/feed"
	"roomsync/pkg/logger"
	"roomsync/pkg/models"
)

// Tracker watches a room's read markers and reports, for users other than
// self, which message each has read up to.
type Tracker struct {
	feed feed.Feed
}

func NewTracker(f feed.Feed) *Tracker {
	return &Tracker{feed: f}
}

// Watch subscribes to the room's read-marker collection. On every snapshot
// it drops markers without a recorded read time and the marker belonging to
// selfID, and invokes cb with the rest — only when that list is non-empty,
// so an all-self or empty snapshot causes no UI churn. The returned
// subscription stops the watch via its idempotent Cancel.
func (t *Tracker) Watch(ctx context.Context, roomID, selfID string, cb func([]models.Receipt)) (*feed.MarkerSubscription, error) {
	sub, err := t.feed.SubscribeMarkers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	go func() {
		for markers := range sub.Markers() {
			receipts := Filter(markers, selfID)
			if len(receipts) == 0 {
				continue
			}
			cb(receipts)
		}
		if err := sub.Err(); err != nil {
			logger.Warn("read_marker_stream_dropped", "room", roomID, "error", err)
		}
	}()
	return sub, nil
}

// Filter projects markers to receipts, excluding selfID and markers with no
// recorded read time. Marker order is preserved as delivered; markers are
// independent and last-write-wins, so no cross-user ordering is implied.
func Filter(markers []models.ReadMarker, selfID string) []models.Receipt {
	var out []models.Receipt
	for _, m := range markers {
		if m.ReadTS == 0 {
			continue
		}
		if m.User == selfID {
			continue
		}
		out = append(out, models.Receipt{User: m.User, MessageID: m.MessageID})
	}
	return out
}
