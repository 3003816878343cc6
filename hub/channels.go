package hub

import (
	"context"

	"github.com/google/uuid"
)

// channelHandle tracks one open delivery channel so the hub can cancel it
// on shutdown or participant removal and wait for it to wind down.
type channelHandle struct {
	id     string
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// TrackChannel registers a delivery channel bound to a participant name.
// The returned release function must be called exactly once when the
// channel terminates; it unblocks anyone waiting on the handle.
//
// The registry permits a second concurrent channel for the same name, but
// opening one is a caller error: both channels would compete for the same
// mailbox drain.
func (h *Hub) TrackChannel(name string, cancel context.CancelFunc) (string, func()) {
	handle := &channelHandle{
		id:     uuid.NewString(),
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.channels[handle.id] = handle
	h.mu.Unlock()
	h.log.Debug("Delivery channel tracked", "user", name, "channel_id", handle.id)

	release := func() {
		h.mu.Lock()
		delete(h.channels, handle.id)
		h.mu.Unlock()
		close(handle.done)
		h.log.Debug("Delivery channel released", "user", name, "channel_id", handle.id)
	}
	return handle.id, release
}

// OpenChannels returns the number of currently tracked delivery channels.
func (h *Hub) OpenChannels() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

// handlesForLocked collects the handles bound to a name. Callers hold h.mu.
func (h *Hub) handlesForLocked(name string) []*channelHandle {
	var handles []*channelHandle
	for _, handle := range h.channels {
		if handle.name == name {
			handles = append(handles, handle)
		}
	}
	return handles
}
