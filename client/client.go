// Package client implements the turn-coordination client: a local
// claim / compose / publish state machine layered on the hub's HTTP API,
// with a background listener that streams incoming envelopes over a
// WebSocket delivery channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/asynctalk/chatroom/errors"
)

// State of the turn-coordination machine.
type State int

const (
	// StateWaiting means the client holds no floor and only listens.
	StateWaiting State = iota
	// StateHasStick means the floor is claimed and the draft is empty.
	StateHasStick
	// StateComposing means the draft holds at least one segment.
	StateComposing
)

const (
	// DefaultMaxAppendLength caps one Append call; longer text is
	// truncated so composition keeps interleaving with message checks.
	// The final concatenated draft has no cap.
	DefaultMaxAppendLength = 140
	// draftPreviewLength is how much of the draft tail the truncation
	// notice shows.
	draftPreviewLength = 50
	// dedupeBound is the size at which the processed-messages set is
	// cleared wholesale. Stale entries may briefly reappear afterwards;
	// consumption is idempotent so that is only noise, not corruption.
	dedupeBound = 1000
	// DefaultRetryDelay is the pause before the listener re-opens a
	// failed delivery stream.
	DefaultRetryDelay = 2 * time.Second
	// DefaultWaitBackoff is the initial poll interval of WaitForMessage;
	// it doubles every empty cycle.
	DefaultWaitBackoff = 2 * time.Second
)

// Client is safe for concurrent use: the caller's control flow and the
// background listener communicate only through the internal queue.
type Client struct {
	baseURL  string
	username string
	httpc    *http.Client
	log      *slog.Logger

	maxAppendLength int
	retryDelay      time.Duration
	waitBackoff     time.Duration

	mu        sync.Mutex
	draft     []string
	queue     []string
	processed map[string]struct{}
	hasStick  bool
	running   bool

	cancel       context.CancelFunc
	listenerDone chan struct{}
}

// Option customizes a Client at construction time.
type Option func(*Client)

func WithMaxAppendLength(n int) Option {
	return func(c *Client) { c.maxAppendLength = n }
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

func WithWaitBackoff(d time.Duration) Option {
	return func(c *Client) { c.waitBackoff = d }
}

func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// New builds a client for the hub at baseURL (e.g. "http://localhost:8890").
// No network traffic happens until the first operation.
func New(baseURL, username string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		username:        username,
		httpc:           &http.Client{Timeout: 5 * time.Second},
		log:             log,
		maxAppendLength: DefaultMaxAppendLength,
		retryDelay:      DefaultRetryDelay,
		waitBackoff:     DefaultWaitBackoff,
		processed:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports where the turn machine currently is.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.hasStick:
		return StateWaiting
	case len(c.draft) == 0:
		return StateHasStick
	default:
		return StateComposing
	}
}

// Draft returns the current concatenated draft without publishing it.
func (c *Client) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDraftLocked()
}

// ClaimStick claims the floor: the draft is cleared, the room is notified,
// and local possession is set. It does not block on other holders; the
// protocol allows simultaneous claims and resolves them by "whoever
// publishes, publishes". Returns any messages already queued locally.
func (c *Client) ClaimStick() string {
	c.maybeConnect()

	c.mu.Lock()
	c.draft = nil
	c.mu.Unlock()

	if err := c.post("/talking_stick", map[string]any{"username": c.username}); err != nil {
		c.log.Warn("Failed to claim talking stick", "error", err)
		c.addSystemMessage(fmt.Sprintf("Failed to claim talking stick: %v", err))
		return c.Poll()
	}

	c.mu.Lock()
	c.hasStick = true
	c.mu.Unlock()
	return c.Poll()
}

// Append adds text to the local draft. It requires possession of the
// stick; without it, ErrNoTalkingStick is returned and nothing mutates.
// Text longer than the per-call cap is truncated and a local notice with
// the draft tail is queued, prompting another Append for the remainder.
func (c *Client) Append(text string) (string, error) {
	c.maybeConnect()

	c.mu.Lock()
	if !c.hasStick {
		c.mu.Unlock()
		c.addSystemMessage("You must claim the talking stick first by calling ClaimStick()")
		return c.Poll(), errors.ErrNoTalkingStick
	}

	runes := []rune(text)
	if len(runes) > c.maxAppendLength {
		c.draft = append(c.draft, string(runes[:c.maxAppendLength]))
		preview := []rune(c.currentDraftLocked())
		if len(preview) > draftPreviewLength {
			preview = preview[len(preview)-draftPreviewLength:]
		}
		c.mu.Unlock()
		c.addSystemMessage(fmt.Sprintf("msg truncated: current draft suffix: '%s'", string(preview)))
		return c.Poll(), nil
	}

	c.draft = append(c.draft, text)
	c.mu.Unlock()
	return c.Poll(), nil
}

// Undo removes the most recently appended segment, if any.
func (c *Client) Undo() string {
	c.maybeConnect()
	c.mu.Lock()
	if len(c.draft) > 0 {
		c.draft = c.draft[:len(c.draft)-1]
	}
	c.mu.Unlock()
	return c.Poll()
}

// Reset clears the draft and releases the stick unconditionally.
func (c *Client) Reset() string {
	c.maybeConnect()
	c.mu.Lock()
	c.draft = nil
	c.hasStick = false
	c.mu.Unlock()
	return c.Poll()
}

// Push publishes the concatenated draft as one broadcast. The stick is
// released and the draft cleared whether or not the send succeeds. The
// published content is recorded in the dedupe set first so the client's
// own echo is suppressed by the listener.
func (c *Client) Push() string {
	c.maybeConnect()

	c.mu.Lock()
	draft := c.currentDraftLocked()
	if draft != "" {
		c.processed[c.username+":"+draft] = struct{}{}
	}
	c.draft = nil
	c.hasStick = false
	c.mu.Unlock()

	if draft != "" {
		if err := c.post("/send", map[string]any{"username": c.username, "message": draft}); err != nil {
			c.log.Warn("Failed to push message", "error", err)
			c.addSystemMessage(fmt.Sprintf("Failed to send message: %v", err))
		}
	}
	return c.Poll()
}

// Poll drains the local queue of de-duplicated incoming messages without
// blocking. Returns "" when nothing is pending.
func (c *Client) Poll() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return ""
	}
	var output []string
	seen := make(map[string]struct{}, len(c.queue))
	for _, content := range c.queue {
		if _, dup := seen[content]; dup {
			continue
		}
		seen[content] = struct{}{}
		output = append(output, content)
	}
	c.queue = nil
	return strings.Join(output, "\n")
}

// WaitForMessage blocks until a new message arrives, polling with
// exponential backoff. After the first empty cycle it also announces
// "waiting" to the hub each cycle so other participants see a visible cue.
func (c *Client) WaitForMessage(ctx context.Context) (string, error) {
	c.maybeConnect()

	delay := c.waitBackoff
	first := true
	for {
		if msg := c.Poll(); msg != "" {
			return msg, nil
		}

		if !first {
			if err := c.post("/check_event", map[string]any{
				"username": c.username,
				"delay":    delay.Seconds(),
			}); err != nil {
				c.log.Warn("Failed to announce waiting", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		first = false
	}
}

// Users fetches the current live participant list from the hub.
func (c *Client) Users() ([]string, error) {
	c.maybeConnect()

	resp, err := c.httpc.Get(c.baseURL + "/users")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list users: %s", readDetail(resp.Body))
	}

	var body struct {
		Users []string `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Users, nil
}

// Close unregisters from the hub and stops the listener. Safe to call
// more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.listenerDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := c.post("/unregister", map[string]any{"username": c.username}); err != nil {
		c.log.Debug("Unregister on close failed", "error", err)
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			c.log.Warn("Listener did not stop in time")
		}
	}
}

// maybeConnect registers with the hub and starts the background listener
// on the first operation that needs a connection.
func (c *Client) maybeConnect() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.listenerDone = make(chan struct{})
	done := c.listenerDone
	c.mu.Unlock()

	if err := c.post("/register", map[string]any{"username": c.username}); err != nil {
		c.log.Warn("Failed to register with server", "error", err)
		c.addSystemMessage(fmt.Sprintf("Failed to register with server: %v", err))
	} else if users, err := c.Users(); err == nil {
		c.addSystemMessage("Current participants: " + strings.Join(users, ", "))
	}

	go func() {
		defer close(done)
		c.listen(ctx)
	}()
}

func (c *Client) post(path string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", path, readDetail(resp.Body))
	}
	return nil
}

func (c *Client) addSystemMessage(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := "system:" + message
	if _, ok := c.processed[key]; ok {
		return
	}
	c.processed[key] = struct{}{}
	c.queue = append(c.queue, "[system] "+message)
}

func (c *Client) currentDraftLocked() string {
	return strings.TrimSpace(strings.Join(c.draft, ""))
}

func readDetail(r io.Reader) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil || body.Detail == "" {
		return "unknown error"
	}
	return body.Detail
}
