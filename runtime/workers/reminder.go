package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/asynctalk/chatroom/domain"
	"github.com/asynctalk/chatroom/hub"
)

const (
	// DefaultReminderTick is how often the waiting map is inspected.
	DefaultReminderTick = time.Second
	// DefaultReminderThreshold is how long a participant waits before the
	// room is reminded about them.
	DefaultReminderThreshold = 10 * time.Second
)

// ReminderWorker periodically re-announces participants who have waited
// past the threshold, resetting their wait timer so the reminder repeats
// every threshold until a real reply clears the waiting map.
type ReminderWorker struct {
	hub       *hub.Hub
	log       *slog.Logger
	tick      time.Duration
	threshold time.Duration
	clock     func() time.Time
}

func NewReminderWorker(h *hub.Hub, log *slog.Logger, tick, threshold time.Duration) *ReminderWorker {
	if tick <= 0 {
		tick = DefaultReminderTick
	}
	if threshold <= 0 {
		threshold = DefaultReminderThreshold
	}
	return &ReminderWorker{hub: h, log: log, tick: tick, threshold: threshold, clock: time.Now}
}

func (w *ReminderWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping reminder worker")
			return ctx.Err()
		case <-ticker.C:
			if !w.hub.Running() {
				return nil
			}
			w.remind()
		}
	}
}

func (w *ReminderWorker) remind() {
	now := w.clock()
	for name, since := range w.hub.Waiting() {
		if now.Sub(since) < w.threshold {
			continue
		}
		w.hub.Broadcast(domain.ServerSender, fmt.Sprintf("%s is still waiting for a response", name))
		w.hub.ResetWaiting(name, now)
	}
}
