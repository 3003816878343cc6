package client

import (
	"context"
	"fmt"
	neturl "net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asynctalk/chatroom/domain"
	"github.com/asynctalk/chatroom/infrastructure/httpapi"
)

// listen keeps one delivery stream open for the life of the client,
// re-dialing with a bounded delay whenever the transport drops. Incoming
// envelopes are de-duplicated and queued for Poll.
func (c *Client) listen(ctx context.Context) {
	wsURL := c.websocketURL()
	c.log.Debug("Listener starting", "url", wsURL)

	for {
		if ctx.Err() != nil {
			c.log.Debug("Listener stopped", "user", c.username)
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			c.handleListenerError(ctx, err)
			continue
		}

		// Close the socket as soon as the context dies so ReadJSON
		// unblocks promptly on shutdown.
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		err = c.consumeFrames(conn)
		stop()
		conn.Close()

		if ctx.Err() != nil {
			c.log.Debug("Listener stopped", "user", c.username)
			return
		}
		c.handleListenerError(ctx, err)
	}
}

func (c *Client) consumeFrames(conn *websocket.Conn) error {
	for {
		var frame httpapi.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Type != httpapi.FrameBatch {
			continue
		}
		for _, env := range frame.Envelopes {
			c.enqueue(env)
		}
	}
}

// enqueue applies the suppression rules before handing an envelope to the
// local queue: own echoes are dropped, repeated (sender, content) pairs
// from participants are dropped, and server "waiting" notices naming this
// client are dropped to avoid self-notification loops.
func (c *Client) enqueue(env domain.Envelope) {
	if env.Sender == c.username {
		return
	}
	if env.FromServer() && strings.Contains(env.Content, "waiting") &&
		strings.Contains(env.Content, c.username) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := env.Sender + ":" + env.Content
	if _, seen := c.processed[key]; seen && !env.FromServer() {
		return
	}
	c.processed[key] = struct{}{}
	c.queue = append(c.queue, fmt.Sprintf("[%s]: %s", env.Sender, env.Content))

	// Bounded staleness: wholesale clearing keeps the set from growing
	// without limit.
	if len(c.processed) > dedupeBound {
		c.processed = make(map[string]struct{})
	}
}

func (c *Client) handleListenerError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	c.log.Warn("Listener connection error, reconnecting", "error", err, "delay", c.retryDelay)
	c.addSystemMessage(fmt.Sprintf("Connection error: %v. Reconnecting...", err))

	// Re-register before re-dialing in case the hub dropped us while the
	// transport was down; the mailbox is preserved server-side.
	if err := c.post("/reconnect", map[string]any{"username": c.username}); err != nil {
		c.log.Debug("Reconnect attempt failed", "error", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(c.retryDelay):
	}
}

func (c *Client) websocketURL() string {
	url := c.baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/events?username=" + neturl.QueryEscape(c.username)
}
