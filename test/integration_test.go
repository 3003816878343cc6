package test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/asynctalk/chatroom/client"
	"github.com/asynctalk/chatroom/hub"
	"github.com/asynctalk/chatroom/infrastructure/httpapi"
	"github.com/asynctalk/chatroom/moderation"
	"github.com/asynctalk/chatroom/replay"
	"github.com/asynctalk/chatroom/runtime/workers"
	"github.com/asynctalk/chatroom/services"
	"github.com/asynctalk/chatroom/sink"
)

// Test_Scenario drives the full stack: two clients over HTTP and
// WebSocket, the reminder worker under supervision, moderation and a
// transcript sink, ending with a clean shutdown.
func Test_Scenario(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)

	moderator, err := moderation.NewModerator([]string{"badger"}, '*', log)
	req.NoError(err)

	var transcript bytes.Buffer
	timeline := sink.NewTimeline()
	chatHub := hub.NewHub(log,
		hub.WithModerator(&moderator),
		hub.WithSinks(timeline, sink.NewTranscriptSink(&transcript, log)),
	)

	service := services.NewChatService(chatHub, log)
	api := httpapi.NewServer(log, service, chatHub, 10*time.Millisecond, time.Minute)
	srv := httptest.NewServer(api.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	supervisor := workers.NewSupervisor(log)
	supervisor.Add(workers.NewReminderWorker(chatHub, log, 10*time.Millisecond, 50*time.Millisecond))
	supervisorDone := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(supervisorDone)
	}()

	t.Cleanup(func() {
		cancel()
		chatHub.Stop()
		<-supervisorDone
		srv.Close()
	})

	alice := client.New(srv.URL, "Alice", log,
		client.WithRetryDelay(20*time.Millisecond),
		client.WithWaitBackoff(10*time.Millisecond))
	bob := client.New(srv.URL, "Bob", log,
		client.WithRetryDelay(20*time.Millisecond),
		client.WithWaitBackoff(10*time.Millisecond))
	t.Cleanup(func() {
		alice.Close()
		bob.Close()
	})

	// When Alice claims the floor and speaks, with a censored word inside
	alice.ClaimStick()
	_, err = alice.Append("watch out for the badger outside")
	req.NoError(err)
	alice.Push()

	// Then Bob receives the masked version over his stream
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	var heard string
	for !strings.Contains(heard, "[Alice]:") {
		heard, err = bob.WaitForMessage(waitCtx)
		req.NoError(err)
	}
	req.Contains(heard, "******")
	req.NotContains(heard, "badger")

	// And Bob answers after claiming the stick himself
	bob.ClaimStick()
	_, err = bob.Append("thanks for the heads up")
	req.NoError(err)
	bob.Push()

	waitCtx2, waitCancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel2()
	heard = ""
	for !strings.Contains(heard, "[Bob]: thanks for the heads up") {
		heard, err = alice.WaitForMessage(waitCtx2)
		req.NoError(err)
	}

	// When Alice keeps waiting with nobody answering, the reminder worker
	// eventually re-announces her to the room
	announceCtx, announceCancel := context.WithCancel(context.Background())
	go func() {
		for announceCtx.Err() == nil {
			_, _ = alice.WaitForMessage(announceCtx)
		}
	}()
	req.Eventually(func() bool {
		for _, env := range timeline.Snapshot() {
			if env.Content == "Alice is still waiting for a response" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	announceCancel()

	// The transcript holds the whole exchange and replays cleanly
	records, err := replay.Load(strings.NewReader(transcript.String()), log)
	req.NoError(err)
	req.NotEmpty(records)
	var sawMasked bool
	for _, rec := range records {
		if rec.User == "Alice" && strings.Contains(rec.Content, "******") {
			sawMasked = true
		}
	}
	req.True(sawMasked)

	// Stopping the hub ends the session for everybody
	chatHub.Stop()
	users, err := alice.Users()
	if err == nil {
		req.Empty(users)
	}
}
