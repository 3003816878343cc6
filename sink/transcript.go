// Package sink provides best-effort consumers of broadcast envelopes:
// a JSON-lines transcript for replay tooling and an in-memory timeline.
package sink

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/asynctalk/chatroom/domain"
)

// transcriptRecord is the companion log format: one JSON object per line,
// replayable by the replay tool.
type transcriptRecord struct {
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	Content   string `json:"content"`
}

// TranscriptSink appends every envelope to a writer as a JSON line.
// Writes are serialized; the hub never blocks on a broken writer because
// Consume errors are logged and dropped upstream.
type TranscriptSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	log *slog.Logger
}

func NewTranscriptSink(w io.Writer, log *slog.Logger) *TranscriptSink {
	return &TranscriptSink{enc: json.NewEncoder(w), log: log}
}

func (t *TranscriptSink) Consume(_ context.Context, e domain.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(transcriptRecord{
		Timestamp: e.Timestamp,
		User:      e.Sender,
		Content:   e.Content,
	})
}
