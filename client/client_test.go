package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/asynctalk/chatroom/domain"
	"github.com/asynctalk/chatroom/errors"
	"github.com/asynctalk/chatroom/hub"
	"github.com/asynctalk/chatroom/infrastructure/httpapi"
	"github.com/asynctalk/chatroom/services"
)

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelError)
}

// newTestRoom stands up a real hub behind an httptest server so client
// behavior is exercised end to end, websocket delivery included.
func newTestRoom(t *testing.T) (string, *hub.Hub) {
	t.Helper()
	log := testLogger()
	h := hub.NewHub(log)
	service := services.NewChatService(h, log)
	api := httpapi.NewServer(log, service, h, 10*time.Millisecond, time.Minute)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		h.Stop()
		srv.Close()
	})
	return srv.URL, h
}

func newTestClient(t *testing.T, baseURL, name string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithRetryDelay(20 * time.Millisecond), WithWaitBackoff(10 * time.Millisecond)}, opts...)
	c := New(baseURL, name, testLogger(), opts...)
	t.Cleanup(c.Close)
	return c
}

func TestClient_DraftComposeAndPush(t *testing.T) {
	req := require.New(t)
	url, h := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")
	req.NoError(h.Register("Bob"))

	// Given the stick, the draft builds up segment by segment
	alice.ClaimStick()
	_, err := alice.Append("hello ")
	req.NoError(err)
	_, err = alice.Append("world")
	req.NoError(err)
	req.Equal("hello world", alice.Draft())
	req.Equal(StateComposing, alice.State())

	// When pushed, Bob receives it as one message
	alice.Push()
	req.Eventually(func() bool {
		for _, env := range h.Drain("Bob") {
			if env.Sender == "Alice" && env.Content == "hello world" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Then the floor is released and the draft is gone
	req.Equal(StateWaiting, alice.State())
	req.Empty(alice.Draft())
}

func TestClient_AppendRequiresStick(t *testing.T) {
	req := require.New(t)
	url, _ := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")

	out, err := alice.Append("premature")

	req.ErrorIs(err, errors.ErrNoTalkingStick)
	req.Contains(out, "claim the talking stick first")
	req.Empty(alice.Draft())
}

func TestClient_AppendTruncatesOverlongSegments(t *testing.T) {
	req := require.New(t)
	url, h := newTestRoom(t)
	alice := newTestClient(t, url, "Alice", WithMaxAppendLength(10))
	req.NoError(h.Register("Bob"))

	alice.ClaimStick()

	// One rune past the cap: the overflow is cut and a notice points at
	// the draft tail so the caller knows where to resume
	out, err := alice.Append("0123456789X")
	req.NoError(err)
	req.Contains(out, "msg truncated")
	req.Contains(out, "0123456789")
	req.Equal("0123456789", alice.Draft())

	_, err = alice.Append("X rest")
	req.NoError(err)
	alice.Push()

	req.Eventually(func() bool {
		for _, env := range h.Drain("Bob") {
			if env.Content == "0123456789X rest" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_TruncationCountsRunesNotBytes(t *testing.T) {
	req := require.New(t)
	url, _ := newTestRoom(t)
	alice := newTestClient(t, url, "Alice", WithMaxAppendLength(5))

	alice.ClaimStick()
	_, err := alice.Append("héllo!")
	req.NoError(err)

	req.Equal("héllo", alice.Draft())
}

func TestClient_UndoDropsLastSegmentOnly(t *testing.T) {
	req := require.New(t)
	url, _ := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")

	alice.ClaimStick()
	_, _ = alice.Append("keep ")
	_, _ = alice.Append("drop")
	alice.Undo()

	req.Equal("keep", alice.Draft())
	req.Equal(StateComposing, alice.State())

	alice.Undo()
	req.Empty(alice.Draft())
	req.Equal(StateHasStick, alice.State())
}

func TestClient_ResetReleasesStick(t *testing.T) {
	req := require.New(t)
	url, _ := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")

	alice.ClaimStick()
	_, _ = alice.Append("half a thought")
	alice.Reset()

	req.Equal(StateWaiting, alice.State())
	_, err := alice.Append("anything")
	req.ErrorIs(err, errors.ErrNoTalkingStick)
}

func TestClient_ClaimNotifiesOtherParticipants(t *testing.T) {
	req := require.New(t)
	url, _ := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")
	bob := newTestClient(t, url, "Bob")
	bob.Poll()

	alice.ClaimStick()

	req.Eventually(func() bool {
		return strings.Contains(bob.Poll(), "Alice has claimed the talking stick")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_OwnEchoIsSuppressed(t *testing.T) {
	req := require.New(t)
	url, _ := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")

	alice.ClaimStick()
	_, _ = alice.Append("ping")
	alice.Push()

	// Leave time for the echo to come back through the stream
	time.Sleep(100 * time.Millisecond)
	req.NotContains(alice.Poll(), "[Alice]: ping")
}

func TestClient_ReceivesMessagesFromPeers(t *testing.T) {
	req := require.New(t)
	url, _ := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")
	bob := newTestClient(t, url, "Bob")

	bob.ClaimStick()
	_, _ = bob.Append("hi there")
	bob.Push()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		msg, err := alice.WaitForMessage(ctx)
		req.NoError(err)
		if strings.Contains(msg, "[Bob]: hi there") {
			return
		}
	}
}

func TestClient_WaitForMessage_AnnouncesWaiting(t *testing.T) {
	req := require.New(t)
	url, h := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")
	alice.Poll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = alice.WaitForMessage(ctx)
	}()

	// After the first empty cycle the hub hears that Alice is waiting
	req.Eventually(func() bool {
		_, ok := h.Waiting()["Alice"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestClient_WaitForMessage_HonorsCancellation(t *testing.T) {
	req := require.New(t)
	url, _ := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")
	alice.Poll()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := alice.WaitForMessage(ctx)

	req.ErrorIs(err, context.DeadlineExceeded)
}

func TestClient_UsersListsLiveParticipants(t *testing.T) {
	req := require.New(t)
	url, _ := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")
	_ = newTestClient(t, url, "Bob").ClaimStick()

	req.Eventually(func() bool {
		users, err := alice.Users()
		if err != nil {
			return false
		}
		return len(users) == 2 && users[0] == "Alice" && users[1] == "Bob"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_CloseUnregistersFromHub(t *testing.T) {
	req := require.New(t)
	url, h := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")
	alice.Poll()

	req.Eventually(func() bool { return h.IsLive("Alice") },
		2*time.Second, 10*time.Millisecond)

	alice.Close()

	req.Eventually(func() bool { return !h.IsLive("Alice") },
		2*time.Second, 10*time.Millisecond)
}

func TestClient_IncomingDuplicatePeerMessagesAreDropped(t *testing.T) {
	req := require.New(t)
	alice := New("http://unused", "Alice", testLogger())

	env := domain.Envelope{Sender: "Bob", Content: "hi", Timestamp: "10:00:00"}
	alice.enqueue(env)
	req.Equal("[Bob]: hi", alice.Poll())

	// The same (sender, content) pair again is an echo artifact, not news
	alice.enqueue(env)
	req.Empty(alice.Poll())
}

func TestClient_RepeatedServerNoticesAreKept(t *testing.T) {
	req := require.New(t)
	alice := New("http://unused", "Alice", testLogger())

	// Reminder notices repeat legitimately, so server senders bypass the
	// duplicate suppression
	env := domain.Envelope{Sender: domain.ServerSender, Content: "Bob is still waiting for a response"}
	alice.enqueue(env)
	req.Contains(alice.Poll(), "[Server]: Bob is still waiting for a response")

	alice.enqueue(env)
	req.Contains(alice.Poll(), "[Server]: Bob is still waiting for a response")
}

func TestClient_OwnWaitingNoticesAreDropped(t *testing.T) {
	req := require.New(t)
	alice := New("http://unused", "Alice", testLogger())

	// A waiting notice naming the client itself would loop back on it
	alice.enqueue(domain.Envelope{Sender: domain.ServerSender, Content: "Alice is still waiting for a response"})
	alice.enqueue(domain.Envelope{Sender: domain.ServerSender, Content: "Alice is waiting for a response"})
	req.Empty(alice.Poll())

	// Waiting notices about someone else come through
	alice.enqueue(domain.Envelope{Sender: domain.ServerSender, Content: "Bob is waiting for a response"})
	req.Contains(alice.Poll(), "Bob is waiting for a response")
}

func TestClient_OwnEnvelopesAreNeverQueued(t *testing.T) {
	req := require.New(t)
	alice := New("http://unused", "Alice", testLogger())

	alice.enqueue(domain.Envelope{Sender: "Alice", Content: "my own words"})
	req.Empty(alice.Poll())
}

func TestClient_DedupeSetClearsWholesaleAboveBound(t *testing.T) {
	req := require.New(t)
	alice := New("http://unused", "Alice", testLogger())

	dup := domain.Envelope{Sender: "Bob", Content: "recurring"}
	alice.enqueue(dup)
	req.NotEmpty(alice.Poll())
	alice.enqueue(dup)
	req.Empty(alice.Poll())

	// Flood past the bound so the processed set gets cleared wholesale
	for i := 0; i <= dedupeBound; i++ {
		alice.enqueue(domain.Envelope{Sender: "Bob", Content: fmt.Sprintf("filler %d", i)})
	}
	alice.Poll()

	// Bounded staleness: the old pair is deliverable again after the clear
	alice.enqueue(dup)
	req.Contains(alice.Poll(), "[Bob]: recurring")
}

func TestClient_ListenerReconnectsAfterStreamDrop(t *testing.T) {
	req := require.New(t)
	url, h := newTestRoom(t)
	alice := newTestClient(t, url, "Alice")
	alice.Poll()

	req.Eventually(func() bool {
		return h.IsLive("Alice") && h.OpenChannels() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// When the hub drops Alice's delivery channel out from under her
	h.Unregister("Alice")

	// Then the listener re-registers and re-opens the stream on its own
	req.Eventually(func() bool {
		return h.IsLive("Alice") && h.OpenChannels() == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.Broadcast("Bob", "back online")
	req.Eventually(func() bool {
		return strings.Contains(alice.Poll(), "[Bob]: back online")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_FirstOperationAnnouncesParticipants(t *testing.T) {
	req := require.New(t)
	url, h := newTestRoom(t)
	req.NoError(h.Register("Bob"))
	alice := newTestClient(t, url, "Alice")

	out := alice.ClaimStick()

	req.Contains(out, "Current participants:")
	req.Contains(out, "Bob")
}
