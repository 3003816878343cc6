package services

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/asynctalk/chatroom/domain"
	"github.com/asynctalk/chatroom/errors"
	"github.com/asynctalk/chatroom/hub"
)

// IChatService is the caller-facing surface of the hub: every operation
// returns either success or a sentinel error the transport maps to a
// short human-readable reason.
type IChatService interface {
	Register(name string) error
	Reconnect(name string) error
	Unregister(name string)
	Send(name, content string) error
	ClaimTalkingStick(name string) error
	AnnounceWaiting(name string, delay time.Duration) error
	ListUsers() ([]string, error)
}

type ChatService struct {
	hub *hub.Hub
	log *slog.Logger
}

func NewChatService(h *hub.Hub, log *slog.Logger) *ChatService {
	return &ChatService{hub: h, log: log}
}

func (s *ChatService) Register(name string) error {
	return s.hub.Register(name)
}

func (s *ChatService) Reconnect(name string) error {
	return s.hub.Reconnect(name)
}

// Unregister is idempotent and works even during shutdown preparation.
func (s *ChatService) Unregister(name string) {
	s.hub.Unregister(name)
}

// Send broadcasts participant speech. The sender must be live; broadcast
// order across all recipients equals the order Send calls reach the hub.
func (s *ChatService) Send(name, content string) error {
	if err := s.requireLive(name); err != nil {
		return err
	}
	s.hub.Broadcast(name, content)
	return nil
}

// ClaimTalkingStick announces a floor claim to the room. The protocol
// intentionally allows simultaneous claims; whoever publishes, publishes.
func (s *ChatService) ClaimTalkingStick(name string) error {
	if err := s.requireLive(name); err != nil {
		return err
	}
	s.hub.Broadcast(domain.ServerSender,
		fmt.Sprintf("%s has claimed the talking stick and wants to speak", name))
	return nil
}

// AnnounceWaiting broadcasts a visible waiting cue and marks the
// participant in the waiting map so the reminder loop picks it up.
// The delay is the caller's current poll backoff, logged for diagnostics.
func (s *ChatService) AnnounceWaiting(name string, delay time.Duration) error {
	if err := s.requireLive(name); err != nil {
		return err
	}
	s.hub.Broadcast(domain.ServerSender, fmt.Sprintf("%s is waiting for a response", name))
	s.hub.MarkWaiting(name)
	s.log.Debug("Waiting announced", "user", name, "poll_backoff", delay)
	return nil
}

func (s *ChatService) ListUsers() ([]string, error) {
	if !s.hub.Running() {
		return nil, errors.ErrUnavailable
	}
	return s.hub.ListActive(), nil
}

func (s *ChatService) requireLive(name string) error {
	if !s.hub.Running() {
		return errors.ErrUnavailable
	}
	if !s.hub.IsLive(name) {
		return errors.ErrNotFound
	}
	return nil
}
