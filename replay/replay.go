// Package replay re-streams a recorded conversation through a hub,
// reconstructing the original inter-message timing from log timestamps.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/asynctalk/chatroom/hub"
)

const (
	// minDelay and maxDelay clamp the reconstructed pause between two
	// records; very long silences in the source log are capped.
	minDelay = 100 * time.Millisecond
	maxDelay = 10 * time.Second
	// defaultDelay applies when timestamps are missing or unparseable.
	defaultDelay = 500 * time.Millisecond
	// restartPause separates two passes when looping over the log.
	restartPause = 3 * time.Second
)

// Record is one line of a recorded conversation. Two shapes appear in the
// wild: the plain transcript {timestamp, user, content} and the richer
// agent log {role, session_id, content, tool_calls}; both decode into this
// struct.
type Record struct {
	Timestamp string          `json:"timestamp"`
	User      string          `json:"user"`
	Content   string          `json:"content"`
	Role      string          `json:"role"`
	SessionID string          `json:"session_id"`
	ToolCalls json.RawMessage `json:"tool_calls"`
}

// Sender resolves the display name to attribute the record to.
func (r Record) Sender() string {
	if r.User != "" {
		return r.User
	}
	if r.Role != "" {
		return r.Role
	}
	return "unknown"
}

// Load reads a JSON-lines chat log. Unparseable lines are skipped with a
// warning, matching the tolerant behavior expected from hand-edited logs.
func Load(r io.Reader, log *slog.Logger) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warn("Could not parse log line", "line", lineNum, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	log.Info("Loaded messages from log file", "count", len(records))
	return records, nil
}

// Replayer broadcasts a recorded conversation through a hub.
type Replayer struct {
	hub     *hub.Hub
	log     *slog.Logger
	records []Record
	loop    bool
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewReplayer(h *hub.Hub, log *slog.Logger, records []Record, loop bool) *Replayer {
	return &Replayer{
		hub:     h,
		log:     log,
		records: records,
		loop:    loop,
		sleep:   sleepCtx,
	}
}

// Run streams the records into the hub with reconstructed timing, looping
// with a short pause when configured to. Returns when the context is
// cancelled or, in single-pass mode, when the log is exhausted.
func (r *Replayer) Run(ctx context.Context) error {
	for {
		for i, rec := range r.records {
			if !r.hub.Running() {
				return nil
			}
			r.hub.Broadcast(rec.Sender(), rec.Content)

			delay := defaultDelay
			if i+1 < len(r.records) {
				delay = delayBetween(rec, r.records[i+1])
			}
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}
		if !r.loop {
			return nil
		}
		if err := r.sleep(ctx, restartPause); err != nil {
			return err
		}
	}
}

// delayBetween computes the pause that separated two records, clamped to
// a replayable range.
func delayBetween(current, next Record) time.Duration {
	currentAt, okCurrent := parseTimestamp(current.Timestamp)
	nextAt, okNext := parseTimestamp(next.Timestamp)
	if !okCurrent || !okNext {
		return defaultDelay
	}
	diff := nextAt.Sub(currentAt)
	if diff < minDelay {
		return minDelay
	}
	if diff > maxDelay {
		return maxDelay
	}
	return diff
}

// parseTimestamp accepts the formats found in recorded logs: RFC 3339
// (with or without zone), and the hub's plain HH:MM:SS.
func parseTimestamp(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		time.TimeOnly,
	} {
		if at, err := time.Parse(layout, ts); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
