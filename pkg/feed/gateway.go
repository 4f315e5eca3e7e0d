package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"roomsync/pkg/logger"
	"roomsync/pkg/models"
)

// Options configures the gateway client.
type Options struct {
	// FeedURL is the websocket endpoint for live subscriptions, e.g.
	// wss://gw.example.com/feed.
	FeedURL string
	// RestURL is the HTTP endpoint for point reads, e.g.
	// https://gw.example.com/v1.
	RestURL     string
	APIKey      string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Gateway is the document-store gateway client implementing Feed over a
// websocket frame protocol plus a small REST surface for point reads.
type Gateway struct {
	opts Options
	http *fasthttp.Client
}

var _ Feed = (*Gateway)(nil)

// NewGateway builds a gateway client from opts, filling in timeouts.
func NewGateway(opts Options) *Gateway {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	return &Gateway{
		opts: opts,
		http: &fasthttp.Client{ReadTimeout: opts.ReadTimeout, WriteTimeout: opts.DialTimeout},
	}
}

func (g *Gateway) dial(ctx context.Context, req request) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, g.opts.DialTimeout)
	defer cancel()
	hdr := http.Header{}
	if g.opts.APIKey != "" {
		hdr.Set("Authorization", "Bearer "+g.opts.APIKey)
	}
	conn, _, err := websocket.Dial(dctx, g.opts.FeedURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrRemoteUnavailable, g.opts.FeedURL, err)
	}
	if err := wsjson.Write(dctx, conn, req); err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return nil, fmt.Errorf("%w: send request: %v", ErrRemoteUnavailable, err)
	}
	return conn, nil
}

// Subscribe opens the live message window for a room.
func (g *Gateway) Subscribe(ctx context.Context, roomID string, limit int) (*Subscription, error) {
	conn, err := g.dial(ctx, request{Op: opSubscribe, Collection: collMessages, Room: roomID, Limit: limit})
	if err != nil {
		return nil, err
	}
	sub := NewSubscription()
	go g.runMessages(conn, roomID, sub)
	return sub, nil
}

func (g *Gateway) runMessages(conn *websocket.Conn, roomID string, sub *Subscription) {
	defer conn.Close(websocket.StatusNormalClosure, "")
	lctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sub.Stopped()
		cancel()
	}()
	for {
		var fr frame
		if err := wsjson.Read(lctx, conn, &fr); err != nil {
			sub.Finish(g.streamErr(sub.Stopped(), roomID, err))
			return
		}
		switch fr.Type {
		case frameSnapshot:
			if !sub.Deliver(decodeMessages(roomID, fr.Docs)) {
				sub.Finish(nil)
				return
			}
		case frameError:
			sub.Finish(wireErr(fr))
			return
		default:
			logger.Debug("feed_frame_ignored", "room", roomID, "type", fr.Type)
		}
	}
}

// PaginateBefore requests one window strictly before the cursor message.
func (g *Gateway) PaginateBefore(ctx context.Context, roomID, cursorID string, limit int) ([]models.Message, error) {
	conn, err := g.dial(ctx, request{Op: opPageBefore, Collection: collMessages, Room: roomID, Cursor: cursorID, Limit: limit})
	if err != nil {
		return nil, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	rctx, cancel := context.WithTimeout(ctx, g.opts.ReadTimeout)
	defer cancel()
	var fr frame
	if err := wsjson.Read(rctx, conn, &fr); err != nil {
		return nil, fmt.Errorf("%w: page_before read: %v", ErrRemoteUnavailable, err)
	}
	if fr.Type == frameError {
		return nil, wireErr(fr)
	}
	if fr.Type != frameSnapshot {
		return nil, fmt.Errorf("%w: unexpected frame %q", ErrRemoteUnavailable, fr.Type)
	}
	return decodeMessages(roomID, fr.Docs), nil
}

// SubscribeMarkers opens the live read-marker view for a room.
func (g *Gateway) SubscribeMarkers(ctx context.Context, roomID string) (*MarkerSubscription, error) {
	conn, err := g.dial(ctx, request{Op: opSubscribe, Collection: collRead, Room: roomID})
	if err != nil {
		return nil, err
	}
	sub := NewMarkerSubscription()
	go g.runMarkers(conn, roomID, sub)
	return sub, nil
}

func (g *Gateway) runMarkers(conn *websocket.Conn, roomID string, sub *MarkerSubscription) {
	defer conn.Close(websocket.StatusNormalClosure, "")
	lctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sub.Stopped()
		cancel()
	}()
	for {
		var fr frame
		if err := wsjson.Read(lctx, conn, &fr); err != nil {
			sub.Finish(g.streamErr(sub.Stopped(), roomID, err))
			return
		}
		switch fr.Type {
		case frameSnapshot:
			if !sub.Deliver(decodeMarkers(fr.Docs)) {
				sub.Finish(nil)
				return
			}
		case frameError:
			sub.Finish(wireErr(fr))
			return
		}
	}
}

// SubscribeLikes opens the likers change feed for a room.
func (g *Gateway) SubscribeLikes(ctx context.Context, roomID string) (*LikeSubscription, error) {
	conn, err := g.dial(ctx, request{Op: opSubscribe, Collection: collLikes, Room: roomID})
	if err != nil {
		return nil, err
	}
	sub := NewLikeSubscription()
	go g.runLikes(conn, roomID, sub)
	return sub, nil
}

func (g *Gateway) runLikes(conn *websocket.Conn, roomID string, sub *LikeSubscription) {
	defer conn.Close(websocket.StatusNormalClosure, "")
	lctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sub.Stopped()
		cancel()
	}()
	for {
		var fr frame
		if err := wsjson.Read(lctx, conn, &fr); err != nil {
			sub.Finish(g.streamErr(sub.Stopped(), roomID, err))
			return
		}
		switch fr.Type {
		case frameLike:
			if fr.Like == nil {
				continue
			}
			ev := LikeEvent{
				Room:      roomID,
				MessageID: fr.Like.MessageID,
				Author:    fr.Like.Author,
				Before:    fr.Like.Before,
				After:     fr.Like.After,
			}
			if !sub.Deliver(ev) {
				sub.Finish(nil)
				return
			}
		case frameError:
			sub.Finish(wireErr(fr))
			return
		}
	}
}

// GetMember resolves a user's public profile via the REST surface.
func (g *Gateway) GetMember(ctx context.Context, userID string) (models.Member, error) {
	var d doc
	if err := g.getDoc("/users/"+userID, &d); err != nil {
		return models.Member{}, err
	}
	return models.DecodeMember(d.ID, d.Data), nil
}

// GetRoom reads room metadata via the REST surface.
func (g *Gateway) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var d doc
	if err := g.getDoc("/rooms/"+roomID, &d); err != nil {
		return models.Room{}, err
	}
	r := models.Room{ID: d.ID}
	if b, err := json.Marshal(d.Data); err == nil {
		_ = json.Unmarshal(b, &r)
		r.ID = d.ID
	}
	return r, nil
}

func (g *Gateway) getDoc(path string, out *doc) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.opts.RestURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	if g.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.opts.APIKey)
	}
	if err := g.http.DoTimeout(req, resp, g.opts.ReadTimeout); err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrRemoteUnavailable, path, err)
	}
	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		return fmt.Errorf("%w: get %s: status %d", ErrRemoteUnavailable, path, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: get %s: invalid body: %v", ErrRemoteUnavailable, path, err)
	}
	return nil
}

// streamErr maps a read-loop error: a consumer-initiated cancel ends the
// stream cleanly, anything else surfaces as RemoteUnavailable.
func (g *Gateway) streamErr(stopped <-chan struct{}, roomID string, err error) error {
	select {
	case <-stopped:
		return nil
	default:
	}
	logger.Warn("feed_stream_dropped", "room", roomID, "error", err)
	return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
}

func wireErr(fr frame) error {
	if fr.Code == codeCursorMissing {
		return fmt.Errorf("%w: %s", ErrCursorMissing, fr.Msg)
	}
	return fmt.Errorf("%w: %s: %s", ErrRemoteUnavailable, fr.Code, fr.Msg)
}
