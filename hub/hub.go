// Package hub owns the shared state of the chatroom: the live set of
// participants, one FIFO mailbox per participant, and the waiting map.
// All mutation goes through a single mutex; slow work such as sink fanout
// runs on snapshots taken under the lock.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/asynctalk/chatroom/contract"
	"github.com/asynctalk/chatroom/domain"
	"github.com/asynctalk/chatroom/errors"
	"github.com/asynctalk/chatroom/moderation"
)

// Hub is the message hub shared by every participant. It fans broadcasts
// out to all live mailboxes, tracks who is publicly waiting for a reply,
// and keeps a handle on every open delivery channel so shutdown can cancel
// them all.
type Hub struct {
	mu            sync.Mutex
	log           *slog.Logger
	clock         func() time.Time
	running       bool
	users         map[string]struct{}
	mailboxes     map[string][]domain.Envelope
	waiting       map[string]time.Time
	lastMessageAt map[string]time.Time
	channels      map[string]*channelHandle
	moderator     *moderation.Moderator
	sinks         []contract.EventSink
}

// Option customizes a Hub at construction time.
type Option func(*Hub)

// WithClock substitutes the wall clock, used by tests to control timestamps
// and wait timers.
func WithClock(clock func() time.Time) Option {
	return func(h *Hub) { h.clock = clock }
}

// WithModerator enables censored-word masking on participant broadcasts.
// Server notices are never moderated.
func WithModerator(m *moderation.Moderator) Option {
	return func(h *Hub) { h.moderator = m }
}

// WithSinks attaches best-effort observers that receive every broadcast
// envelope after mailbox delivery.
func WithSinks(sinks ...contract.EventSink) Option {
	return func(h *Hub) { h.sinks = append(h.sinks, sinks...) }
}

func NewHub(log *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:           log,
		clock:         time.Now,
		running:       true,
		users:         make(map[string]struct{}),
		mailboxes:     make(map[string][]domain.Envelope),
		waiting:       make(map[string]time.Time),
		lastMessageAt: make(map[string]time.Time),
		channels:      make(map[string]*channelHandle),
	}
	for _, opt := range opts {
		opt(h)
	}
	log.Info("Hub initialized")
	return h
}

// Running reports whether the hub accepts traffic. Once Stop flips this
// off it never comes back.
func (h *Hub) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// IsLive reports whether the name is currently in the live set.
func (h *Hub) IsLive(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.users[name]
	return ok
}

// Register adds the name to the live set. It is idempotent: registering an
// already-live name succeeds silently. A mailbox is allocated only if the
// name never had one, so a re-registration keeps queued backlog.
func (h *Hub) Register(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return errors.ErrUnavailable
	}
	if _, ok := h.users[name]; ok {
		h.log.Debug("User already registered", "user", name)
		return nil
	}
	h.users[name] = struct{}{}
	if _, ok := h.mailboxes[name]; !ok {
		h.mailboxes[name] = nil
	}
	h.log.Info("New user registered", "user", name)
	return nil
}

// Reconnect re-adds a previously-live name without touching its mailbox,
// so messages queued while it was away are still retrievable. Unknown
// names fall through to a plain registration.
func (h *Hub) Reconnect(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return errors.ErrUnavailable
	}

	_, live := h.users[name]
	_, hasMailbox := h.mailboxes[name]

	switch {
	case hasMailbox && !live:
		h.users[name] = struct{}{}
		h.log.Info("User reconnected", "user", name)
		return nil
	case !live:
		h.users[name] = struct{}{}
		h.mailboxes[name] = nil
		h.log.Info("New user registered", "user", name)
		return nil
	case live:
		h.log.Debug("User already connected", "user", name)
		return nil
	}
	return errors.ErrConflict
}

// Unregister removes the name from the live set and clears its wait state.
// The mailbox is kept so a later Reconnect does not lose queued messages.
// Any delivery channel bound to the name is cancelled. Absent names are
// not an error. When the name was actually live, a leave notice is
// broadcast to the remaining participants.
func (h *Hub) Unregister(name string) {
	h.mu.Lock()
	_, existed := h.users[name]
	if existed {
		delete(h.users, name)
		delete(h.waiting, name)
		delete(h.lastMessageAt, name)
	}
	handles := h.handlesForLocked(name)
	h.mu.Unlock()

	for _, handle := range handles {
		handle.cancel()
	}
	if existed {
		h.log.Info("User unregistered", "user", name)
		// Leave notice goes out after the lock is released.
		h.Broadcast(domain.ServerSender, fmt.Sprintf("%s has left the chat", name))
	}
}

// Drain atomically returns and clears the mailbox contents. Unknown or
// removed names return an empty batch, never an error.
func (h *Hub) Drain(name string) []domain.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	messages, ok := h.mailboxes[name]
	if !ok {
		return nil
	}
	h.mailboxes[name] = nil
	return messages
}

// ListActive returns a snapshot copy of the live set, sorted for stable
// presentation.
func (h *Hub) ListActive() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := lo.Keys(h.users)
	slices.Sort(names)
	return names
}

// Broadcast builds a timestamped envelope and appends it to every live
// participant's mailbox, the sender's included. A broadcast from anyone
// but the server counts as a reply and clears the whole waiting map: the
// room has one floor, so new speech is assumed relevant to all waiters.
// The appends happen under the lock so every recipient sees concurrent
// broadcasts in the same order; only sink fanout runs outside it.
func (h *Hub) Broadcast(sender, content string) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}

	if h.moderator != nil && sender != domain.ServerSender {
		sanitized, found := h.moderator.Censor(content)
		if len(found) > 0 {
			h.log.Warn("Censored broadcast content",
				"sender", sender,
				"words", len(found),
				"lang", moderation.DetectLanguage(content))
			content = sanitized
		}
	}

	now := h.clock()
	env := domain.NewEnvelope(sender, content, now)
	recipients := len(h.users)

	if sender != domain.ServerSender {
		if _, ok := h.users[sender]; ok {
			h.lastMessageAt[sender] = now
		}
		if len(h.waiting) > 0 {
			h.waiting = make(map[string]time.Time)
		}
	}
	for name := range h.users {
		h.mailboxes[name] = append(h.mailboxes[name], env)
	}
	h.mu.Unlock()

	h.fanout(env)
	h.log.Debug("Broadcast delivered", "sender", sender, "recipients", recipients)
}

// RecentSpeakers counts the live participants that broadcast something
// within the window. Server notices do not count as speech.
func (h *Hub) RecentSpeakers(window time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := h.clock().Add(-window)
	count := 0
	for name := range h.users {
		if at, ok := h.lastMessageAt[name]; ok && at.After(cutoff) {
			count++
		}
	}
	return count
}

// MarkWaiting records that a live participant publicly signaled it is
// blocked on a reply, overwriting any previous wait-start time.
func (h *Hub) MarkWaiting(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[name]; ok {
		h.waiting[name] = h.clock()
		h.log.Info("User is now waiting for a response", "user", name)
	}
}

// Waiting returns a snapshot copy of the waiting map.
func (h *Hub) Waiting() map[string]time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot := make(map[string]time.Time, len(h.waiting))
	for name, since := range h.waiting {
		snapshot[name] = since
	}
	return snapshot
}

// ResetWaiting pushes a waiter's start time forward so the reminder loop
// repeats on its threshold instead of firing every tick. No-op when the
// entry was cleared in the meantime.
func (h *Hub) ResetWaiting(name string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.waiting[name]; ok {
		h.waiting[name] = at
	}
}

// Stop shuts the hub down: refuse new traffic, cancel every open delivery
// channel and wait for them, append one final shutdown notice to every
// still-known mailbox, then purge all state. The notice also reaches the
// sinks so transcripts record the end of the session. Individual channel
// errors are collected by their owners, never propagated here.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	handles := lo.Values(h.channels)
	h.mu.Unlock()

	h.log.Info("Stopping hub", "open_channels", len(handles))
	for _, handle := range handles {
		handle.cancel()
	}
	for _, handle := range handles {
		<-handle.done
	}

	shutdown := domain.NewEnvelope(domain.ServerSender, "Server shutting down...", h.clock())

	h.mu.Lock()
	notified := len(h.mailboxes)
	for name := range h.mailboxes {
		h.mailboxes[name] = append(h.mailboxes[name], shutdown)
	}
	h.users = make(map[string]struct{})
	h.waiting = make(map[string]time.Time)
	h.lastMessageAt = make(map[string]time.Time)
	h.mailboxes = make(map[string][]domain.Envelope)
	h.mu.Unlock()

	h.fanout(shutdown)
	h.log.Info("Hub stopped", "notified", notified)
}

func (h *Hub) fanout(env domain.Envelope) {
	for _, sink := range h.sinks {
		if err := sink.Consume(context.Background(), env); err != nil {
			h.log.Warn("Sink rejected envelope", "error", err)
		}
	}
}
