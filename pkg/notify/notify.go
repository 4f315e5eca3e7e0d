package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrDispatchFailed indicates the push service rejected or never received a
// batch. Dispatch failures stay inside the notification path; they are
// never propagated back into message sync.
var ErrDispatchFailed = errors.New("notification dispatch failed")

// Batch is one push notification fanned out to several recipients as a
// single send.
type Batch struct {
	ID         string   `json:"id"`
	Recipients []string `json:"recipients"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Icon       string   `json:"icon,omitempty"`
	Link       string   `json:"link,omitempty"`
}

// Options configures the push client.
type Options struct {
	Endpoint string
	Key      string
	Timeout  time.Duration
	// RPS/Burst bound the dispatch rate so a like storm cannot flood the
	// push service.
	RPS   float64
	Burst int
}

// Client sends batched pushes to the notification service. Delivery is
// fire-and-forget from the caller's perspective: errors are returned for
// logging but nothing is retried.
type Client struct {
	opts    Options
	http    *fasthttp.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient builds a push client. logger may be nil.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:    opts,
		http:    &fasthttp.Client{ReadTimeout: opts.Timeout, WriteTimeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		log:     logger,
	}
}

// Enabled reports whether an endpoint is configured. A disabled client
// turns Send into a logged no-op so callers need no special casing.
func (c *Client) Enabled() bool { return c.opts.Endpoint != "" }

// Send dispatches one batch. Assigns the batch id when empty.
func (c *Client) Send(ctx context.Context, b Batch) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if !c.Enabled() {
		c.log.Debug("push_disabled_drop", zap.String("batch", b.ID))
		return nil
	}
	if len(b.Recipients) == 0 {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate wait: %v", ErrDispatchFailed, err)
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(b); err != nil {
		return fmt.Errorf("%w: encode: %v", ErrDispatchFailed, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.opts.Endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "key="+c.opts.Key)
	req.SetBody(bb.B)

	if err := c.http.DoTimeout(req, resp, c.opts.Timeout); err != nil {
		c.log.Warn("push_send_failed", zap.String("batch", b.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	if sc := resp.StatusCode(); sc < 200 || sc > 299 {
		c.log.Warn("push_send_rejected", zap.String("batch", b.ID), zap.Int("status", sc))
		return fmt.Errorf("%w: status %d", ErrDispatchFailed, sc)
	}
	c.log.Info("push_sent",
		zap.String("batch", b.ID),
		zap.Int("recipients", len(b.Recipients)),
	)
	return nil
}
