// Package stream implements the per-participant delivery channel: a
// long-lived loop that drains one mailbox on an interval and ships the
// batches through a transport sink.
package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/asynctalk/chatroom/contract"
	"github.com/asynctalk/chatroom/errors"
	"github.com/asynctalk/chatroom/hub"
)

const (
	// DefaultDrainInterval bounds worst-case delivery latency; it is the
	// main lever in the staleness/overhead tradeoff.
	DefaultDrainInterval = 500 * time.Millisecond
	// DefaultIdleBound is how long a channel tolerates an empty mailbox
	// before treating the client as dead.
	DefaultIdleBound = 60 * time.Second
)

// Channel streams one participant's mailbox to a DeliverySink. It
// auto-registers the participant on open and removes it from the live set
// on close, whatever the cause, so a dead transport never leaves a ghost
// in the room. The mailbox itself survives for a future reconnect.
type Channel struct {
	hub           *hub.Hub
	name          string
	sink          contract.DeliverySink
	log           *slog.Logger
	drainInterval time.Duration
	idleBound     time.Duration
	clock         func() time.Time
}

func New(h *hub.Hub, name string, sink contract.DeliverySink, log *slog.Logger) *Channel {
	return &Channel{
		hub:           h,
		name:          name,
		sink:          sink,
		log:           log,
		drainInterval: DefaultDrainInterval,
		idleBound:     DefaultIdleBound,
		clock:         time.Now,
	}
}

// WithIntervals overrides the drain interval and idle bound, mainly for
// tests that cannot afford real time.
func (c *Channel) WithIntervals(drain, idle time.Duration) *Channel {
	c.drainInterval = drain
	c.idleBound = idle
	return c
}

// Run drives the channel until the context is cancelled, the hub stops,
// the participant unregisters, the idle bound elapses, or the sink fails.
// It blocks the calling goroutine; transports call it from their
// connection handler.
func (c *Channel) Run(ctx context.Context) error {
	if err := c.hub.Register(c.name); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_, release := c.hub.TrackChannel(c.name, cancel)
	defer func() {
		release()
		c.hub.Unregister(c.name)
	}()

	c.log.Info("Delivery channel opened", "user", c.name)

	ticker := time.NewTicker(c.drainInterval)
	defer ticker.Stop()

	lastActivity := c.clock()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Delivery channel cancelled", "user", c.name)
			return nil
		case <-ticker.C:
		}

		if !c.hub.Running() || !c.hub.IsLive(c.name) {
			c.log.Info("Delivery channel closing", "user", c.name, "hub_running", c.hub.Running())
			return nil
		}

		batch := c.hub.Drain(c.name)
		if len(batch) > 0 {
			if err := c.sink.SendBatch(ctx, batch); err != nil {
				c.log.Warn("Delivery frame failed", "user", c.name, "error", err)
				return err
			}
			lastActivity = c.clock()
			continue
		}

		// Keepalives keep the transport open but do not count as activity.
		if err := c.sink.SendKeepalive(ctx); err != nil {
			c.log.Warn("Keepalive failed", "user", c.name, "error", err)
			return err
		}
		if c.clock().Sub(lastActivity) > c.idleBound {
			c.log.Warn("Delivery channel idle timeout", "user", c.name, "idle_bound", c.idleBound)
			return errors.ErrIdleTimeout
		}
	}
}
