package sink

import (
	"context"
	"sync"

	"github.com/asynctalk/chatroom/domain"
)

// Timeline holds a simple in-memory ordered projection of every broadcast
// envelope. Used by tests and the replay tool to observe hub output.
type Timeline struct {
	mu       sync.Mutex
	messages []domain.Envelope
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

func (t *Timeline) Consume(_ context.Context, e domain.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, e)
	return nil
}

// Snapshot returns a copy of the timeline in broadcast order.
func (t *Timeline) Snapshot() []domain.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Envelope, len(t.messages))
	copy(out, t.messages)
	return out
}
