// Package transport carries graph events to and from a single peer over a websocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/rmax-ai/graphsync/pkg/protocol"
)

// ErrNotConnected is returned by Send when the channel is not open.
// Events are never buffered while disconnected.
var ErrNotConnected = errors.New("transport: not connected")

// Handler receives each decoded inbound event.
type Handler func(ev protocol.Event)

// Channel is a duplex websocket connection to one fixed peer.
type Channel struct {
	url    string
	origin string
	logger *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewChannel creates a closed channel for the peer at peerURL (ws:// or wss://).
// origin is sent as the Origin header; when empty it is derived from url.
func NewChannel(peerURL, origin string, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if origin == "" {
		origin = originFor(peerURL)
	}
	return &Channel{url: peerURL, origin: origin, logger: logger}
}

// Open dials the peer. Calling Open on an open channel is a no-op.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	cfg, err := websocket.NewConfig(c.url, c.origin)
	if err != nil {
		return fmt.Errorf("invalid peer url %q: %w", c.url, err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		c.logger.Error("connection_error", zap.String("url", c.url), zap.Error(err))
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	c.conn = conn
	c.logger.Info("connection_established", zap.String("url", c.url))
	return nil
}

// Connected reports whether the channel currently holds a connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one event as a single JSON message.
func (c *Channel) Send(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := websocket.Message.Send(c.conn, string(data)); err != nil {
		return fmt.Errorf("failed to send %s: %w", ev.Type, err)
	}
	return nil
}

// Run reads messages until the connection closes or ctx is cancelled, handing each
// decoded event to h. Undecodable messages are logged and skipped.
// A close by either side returns nil.
func (c *Channel) Run(ctx context.Context, h Handler) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()

	for {
		var msg string
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			released := c.drop(conn)
			if errors.Is(err, io.EOF) || ctx.Err() != nil || released {
				c.logger.Info("connection_closed", zap.String("url", c.url))
				return nil
			}
			c.logger.Error("connection_error", zap.String("url", c.url), zap.Error(err))
			return fmt.Errorf("receive failed: %w", err)
		}

		ev, err := protocol.Decode([]byte(msg))
		if err != nil {
			c.logger.Warn("message_decode_failed", zap.Error(err))
			continue
		}
		h(ev)
	}
}

// Close releases the connection. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.logger.Info("connection_closing", zap.String("url", c.url))
	return conn.Close()
}

// drop forgets conn if it is still the current connection. It reports whether
// conn had already been released by Close.
func (c *Channel) drop(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return true
	}
	c.conn = nil
	_ = conn.Close()
	return false
}

// originFor maps ws://host/path to http://host, which x/net/websocket requires as Origin.
// It returns "" for URLs it cannot map, so Open reports them.
func originFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	case "http", "https":
	default:
		return ""
	}
	return (&url.URL{Scheme: scheme, Host: u.Host}).String()
}
