package sink

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/asynctalk/chatroom/domain"
	"github.com/asynctalk/chatroom/replay"
)

func TestTranscriptSink_WritesReplayableLines(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	log := logs.GetLoggerFromLevel(slog.LevelError)
	sink := NewTranscriptSink(&buf, log)

	at := time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC)
	req.NoError(sink.Consume(context.Background(), domain.NewEnvelope("Alice", "hello", at)))
	req.NoError(sink.Consume(context.Background(), domain.NewEnvelope("Bob", "hi back", at.Add(time.Second))))

	// The transcript must round-trip through the replay loader
	records, err := replay.Load(strings.NewReader(buf.String()), log)
	req.NoError(err)
	req.Len(records, 2)
	req.Equal("Alice", records[0].User)
	req.Equal("hello", records[0].Content)
	req.Equal("10:30:00", records[0].Timestamp)
	req.Equal("10:30:01", records[1].Timestamp)
}

func TestTimeline_SnapshotIsACopy(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline()
	at := time.Now()

	req.NoError(timeline.Consume(context.Background(), domain.NewEnvelope("Alice", "one", at)))
	req.NoError(timeline.Consume(context.Background(), domain.NewEnvelope("Bob", "two", at)))

	snapshot := timeline.Snapshot()
	req.Len(snapshot, 2)
	req.Equal("one", snapshot[0].Content)

	// Mutating the snapshot must not reach the timeline
	snapshot[0].Content = "tampered"
	req.Equal("one", timeline.Snapshot()[0].Content)
}
