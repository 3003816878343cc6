package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"

	"github.com/asynctalk/chatroom/hub"
	"github.com/asynctalk/chatroom/infrastructure/httpapi"
	"github.com/asynctalk/chatroom/replay"
	"github.com/asynctalk/chatroom/services"
	"github.com/asynctalk/chatroom/stream"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config for the replay tool. It serves a full hub so ordinary clients can
// watch a recorded conversation as if it were live.
type Config struct {
	LogPath  string `envconfig:"REPLAY_LOG_PATH" required:"true"`
	Host     string `envconfig:"REPLAY_HOST" default:"0.0.0.0"`
	Port     int    `envconfig:"REPLAY_PORT" default:"8891"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	Loop     bool   `envconfig:"REPLAY_LOOP" default:"true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Replay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	_ = godotenv.Load()
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	f, err := os.Open(config.LogPath)
	if err != nil {
		return exitConfig, fmt.Errorf("log file: %w", err)
	}
	records, err := replay.Load(f, logger)
	_ = f.Close()
	if err != nil {
		return exitRuntime, err
	}
	if len(records) == 0 {
		return exitRuntime, fmt.Errorf("no messages found in log file")
	}
	for kind, count := range replay.Summarize(records) {
		logger.Info("Log content breakdown", "kind", kind.String(), "count", count)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chatHub := hub.NewHub(logger)
	chatService := services.NewChatService(chatHub, logger)
	api := httpapi.NewServer(logger, chatService, chatHub,
		stream.DefaultDrainInterval, stream.DefaultIdleBound)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: api.Handler()}

	errChan := make(chan error, 2)
	go func() {
		logger.Info("Replay hub listening", "address", address, "messages", len(records))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		replayer := replay.NewReplayer(chatHub, logger, records, config.Loop)
		if err := replayer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("replay error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	chatHub.Stop()
	if err := httpServer.Close(); err != nil {
		logger.Warn("HTTP close failed", "error", err)
	}
	return exitOK, nil
}
