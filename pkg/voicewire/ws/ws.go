// Package ws implements [voicewire.Dialer] over WebSocket.
//
// The handshake targets {baseURL}/ws/voice/{conversation_id} with the bearer
// token passed both as the "token" query parameter and in the Authorization
// header, and the agent id as "coach_id". While the channel is open a
// keepalive loop sends WebSocket pings.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxgate/pkg/voicewire"
)

var (
	_ voicewire.Dialer  = (*Dialer)(nil)
	_ voicewire.Channel = (*channel)(nil)
)

const (
	defaultKeepaliveInterval = 20 * time.Second
	defaultDialTimeout       = 10 * time.Second
	keepaliveTimeout         = 5 * time.Second

	// readLimit bounds a single inbound frame. Audio chunks are base64 PCM
	// and can be several hundred kilobytes.
	readLimit = 4 << 20
)

// ── Options ───────────────────────────────────────────────────────────────────

// Option configures a [Dialer].
type Option func(*Dialer)

// WithKeepaliveInterval sets the ping interval. Zero or negative disables
// keepalive pings.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(dl *Dialer) { dl.keepalive = d }
}

// WithDialTimeout bounds the handshake. Default: 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(dl *Dialer) { dl.dialTimeout = d }
}

// WithHTTPClient sets the client used for the handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(dl *Dialer) { dl.httpClient = c }
}

// ── Dialer ────────────────────────────────────────────────────────────────────

// Dialer opens WebSocket channels to a voice endpoint.
type Dialer struct {
	baseURL     string
	keepalive   time.Duration
	dialTimeout time.Duration
	httpClient  *http.Client
}

// New returns a Dialer for the server at baseURL (ws:// or wss://).
func New(baseURL string, opts ...Option) *Dialer {
	d := &Dialer{
		baseURL:     strings.TrimRight(baseURL, "/"),
		keepalive:   defaultKeepaliveInterval,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Endpoint returns the handshake URL for req.
func (d *Dialer) Endpoint(req voicewire.ConnectRequest) string {
	q := url.Values{}
	q.Set("token", req.Token)
	if req.AgentID != "" {
		q.Set("coach_id", req.AgentID)
	}
	return fmt.Sprintf("%s/ws/voice/%s?%s", d.baseURL, url.PathEscape(req.ConversationID), q.Encode())
}

// Dial implements [voicewire.Dialer]. A 401 or 403 handshake response is
// reported as [voicewire.ErrUnauthorized].
func (d *Dialer) Dial(ctx context.Context, req voicewire.ConnectRequest) (voicewire.Channel, error) {
	if req.ConversationID == "" {
		return nil, errors.New("ws: conversation id is required")
	}
	dialCtx := ctx
	if d.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.dialTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.Dial(dialCtx, d.Endpoint(req), &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + req.Token},
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("ws: dial: %w (status %d)", voicewire.ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	chCtx, cancel := context.WithCancel(context.Background())
	c := &channel{
		conn:   conn,
		ctx:    chCtx,
		cancel: cancel,
		log:    slog.With("conversation_id", req.ConversationID),
	}
	if d.keepalive > 0 {
		c.wg.Add(1)
		go c.keepaliveLoop(d.keepalive)
	}
	return c, nil
}

// ── channel ───────────────────────────────────────────────────────────────────

type channel struct {
	conn *websocket.Conn
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	sendClosed bool

	closeOnce sync.Once
}

// Send implements [voicewire.Channel].
func (c *channel) Send(ctx context.Context, m voicewire.Outbound) error {
	c.mu.Lock()
	closed := c.sendClosed
	c.mu.Unlock()
	if closed {
		return voicewire.ErrClosed
	}

	data, err := voicewire.Encode(m)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Receive implements [voicewire.Channel].
func (c *channel) Receive(ctx context.Context) (voicewire.Inbound, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return voicewire.Inbound{}, voicewire.ErrClosed
			}
			if c.ctx.Err() != nil {
				return voicewire.Inbound{}, voicewire.ErrClosed
			}
			return voicewire.Inbound{}, fmt.Errorf("ws: read: %w", err)
		}
		if typ != websocket.MessageText {
			c.log.Debug("ws: skipping binary frame", "bytes", len(data))
			continue
		}
		in, err := voicewire.Decode(data)
		if err != nil {
			if errors.Is(err, voicewire.ErrUnknownKind) {
				c.log.Debug("ws: skipping unknown message", "type", in.Kind)
			} else {
				c.log.Warn("ws: skipping malformed message", "err", err)
			}
			continue
		}
		return in, nil
	}
}

// CloseSend implements [voicewire.Channel].
func (c *channel) CloseSend() error {
	c.mu.Lock()
	c.sendClosed = true
	c.mu.Unlock()
	return nil
}

// Close implements [voicewire.Channel]. It performs the WebSocket close
// handshake and stops the keepalive loop.
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.CloseSend()
		c.cancel()
		c.wg.Wait()
		// The peer may already have closed, or a cancelled read may have torn
		// the connection down; neither is a failure of Close.
		if err := c.conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
			c.log.Debug("ws: close", "err", err)
		}
	})
	return nil
}

// keepaliveLoop pings the server until the channel is closed.
func (c *channel) keepaliveLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := c.conn.Ping(pingCtx); err != nil && c.ctx.Err() == nil {
				c.log.Debug("ws: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}
