package feed

import (
	"context"
	"errors"
	"sync"

	"roomsync/pkg/models"
)

var (
	// ErrRemoteUnavailable indicates a subscription could not be
	// established or was dropped. The feed does not auto-retry; callers
	// re-subscribe when they choose to.
	ErrRemoteUnavailable = errors.New("remote feed unavailable")
	// ErrCursorMissing indicates the pagination cursor message no longer
	// exists remotely.
	ErrCursorMissing = errors.New("pagination cursor missing")
	// ErrNotFound indicates a point read for a missing document.
	ErrNotFound = errors.New("document not found")
)

// Feed is a subscription view onto the remote document store: live,
// ordered, size-bounded windows per collection plus cursor-based
// pagination and point reads. Every snapshot delivered on a stream is a
// complete replacement of the newest window, never a diff.
type Feed interface {
	// Subscribe opens a live window of the newest limit messages in a room.
	Subscribe(ctx context.Context, roomID string, limit int) (*Subscription, error)
	// PaginateBefore returns one window of up to limit messages strictly
	// before the cursor message, oldest to newest.
	PaginateBefore(ctx context.Context, roomID, cursorID string, limit int) ([]models.Message, error)
	// SubscribeMarkers opens a live view of the room's read markers.
	SubscribeMarkers(ctx context.Context, roomID string) (*MarkerSubscription, error)
	// SubscribeLikes opens the room's likers change feed. Every event
	// carries the full before/after liker sets of one message.
	SubscribeLikes(ctx context.Context, roomID string) (*LikeSubscription, error)
	// GetMember resolves a user's public profile.
	GetMember(ctx context.Context, userID string) (models.Member, error)
	// GetRoom reads room metadata.
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
}

// LikeEvent is one likers-set change: the full set before and after, plus
// the message's author for self-like suppression downstream.
type LikeEvent struct {
	Room      string
	MessageID string
	Author    string
	Before    []string
	After     []string
}

// handle implements the shared cancellation contract of all stream types:
// Cancel stops delivery, is idempotent, and returns only after the
// producer loop has exited, so no value is delivered after it returns.
type handle struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func newHandle() handle {
	return handle{stop: make(chan struct{}), done: make(chan struct{})}
}

// Cancel stops the stream. Calling it twice is a no-op.
func (h *handle) Cancel() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}

// Err reports why the stream ended, nil after a clean cancel. Valid once
// the stream's channel is closed.
func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stopped returns a channel closed when the consumer canceled.
func (h *handle) Stopped() <-chan struct{} { return h.stop }

func (h *handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// Subscription is a live stream of message window snapshots.
type Subscription struct {
	handle
	ch chan []models.Message
}

// NewSubscription returns an unstarted subscription. The producer must
// eventually call Finish exactly once, even when it never delivers.
func NewSubscription() *Subscription {
	return &Subscription{handle: newHandle(), ch: make(chan []models.Message, 4)}
}

// Snapshots returns the delivery channel. It is closed when the stream
// ends; check Err afterwards.
func (s *Subscription) Snapshots() <-chan []models.Message { return s.ch }

// Deliver hands a snapshot to the consumer. It returns false when the
// subscription was canceled, in which case the producer should stop.
func (s *Subscription) Deliver(window []models.Message) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.ch <- window:
		return true
	case <-s.stop:
		return false
	}
}

// Finish ends the stream, recording err (nil for a clean cancel).
func (s *Subscription) Finish(err error) {
	s.setErr(err)
	close(s.ch)
	close(s.done)
}

// MarkerSubscription is a live stream of read-marker snapshots.
type MarkerSubscription struct {
	handle
	ch chan []models.ReadMarker
}

func NewMarkerSubscription() *MarkerSubscription {
	return &MarkerSubscription{handle: newHandle(), ch: make(chan []models.ReadMarker, 4)}
}

func (s *MarkerSubscription) Markers() <-chan []models.ReadMarker { return s.ch }

func (s *MarkerSubscription) Deliver(markers []models.ReadMarker) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.ch <- markers:
		return true
	case <-s.stop:
		return false
	}
}

func (s *MarkerSubscription) Finish(err error) {
	s.setErr(err)
	close(s.ch)
	close(s.done)
}

// LikeSubscription is a live stream of likers-set change events.
type LikeSubscription struct {
	handle
	ch chan LikeEvent
}

func NewLikeSubscription() *LikeSubscription {
	return &LikeSubscription{handle: newHandle(), ch: make(chan LikeEvent, 16)}
}

func (s *LikeSubscription) Likes() <-chan LikeEvent { return s.ch }

func (s *LikeSubscription) Deliver(ev LikeEvent) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.stop:
		return false
	}
}

func (s *LikeSubscription) Finish(err error) {
	s.setErr(err)
	close(s.ch)
	close(s.done)
}
