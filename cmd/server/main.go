package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/asynctalk/chatroom/hub"
	"github.com/asynctalk/chatroom/infrastructure/httpapi"
	"github.com/asynctalk/chatroom/internal"
	"github.com/asynctalk/chatroom/moderation"
	"github.com/asynctalk/chatroom/runtime"
	"github.com/asynctalk/chatroom/runtime/workers"
	"github.com/asynctalk/chatroom/services"
	"github.com/asynctalk/chatroom/sink"
)

// Exit codes to provide meaningful status to the operating system or
// service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Hub terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting. This pattern ensures all defers (transcript
// flush, hub teardown) execute before the process exits, and keeps the
// initialization logic testable outside of main.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	// 2. Hub assembly: optional moderation and sinks first.
	var opts []hub.Option

	if config.EnableModeration {
		charReplacement, err := internal.CharacterRune(config.CharReplacement)
		if err != nil {
			return exitConfig, err
		}
		data, err := runtime.LoadCensoredWords()
		if err != nil {
			return exitRuntime, fmt.Errorf("censored words: %w", err)
		}
		logger.Info("Censored dictionaries loaded",
			"languages", data.Languages, "words", len(data.Words))

		moderator, err := moderation.NewModerator(data.Words, charReplacement, logger)
		if err != nil {
			return exitRuntime, err
		}
		opts = append(opts, hub.WithModerator(&moderator))
	}

	if config.TranscriptPath != "" {
		f, err := os.OpenFile(config.TranscriptPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return exitRuntime, fmt.Errorf("transcript file: %w", err)
		}
		defer func() {
			logger.Info("Closing transcript...")
			_ = f.Close()
		}()
		opts = append(opts, hub.WithSinks(sink.NewTranscriptSink(f, logger)))
	}

	chatHub := hub.NewHub(logger, opts...)

	// 3. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger
	// a shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Error (HTTP & workers)
	errChan := make(chan error, 2)

	// 4. Background workers under supervision.
	supervisor := workers.NewSupervisor(logger)
	supervisor.Add(
		workers.NewReminderWorker(chatHub, logger, config.ReminderTick, config.ReminderThreshold),
		workers.NewTelemetryWorker(logger, chatHub, config.TelemetryInterval),
	)
	go func() {
		logger.Info("Starting supervised workers")
		supervisor.Run(ctx)
	}()

	// 5. HTTP server setup.
	chatService := services.NewChatService(chatHub, logger)
	api := httpapi.NewServer(logger, chatService, chatHub, config.DrainInterval, config.IdleTimeout)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:    address,
		Handler: api.Handler(),
	}

	go func() {
		logger.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	// The execution blocks here until either a signal is received or the
	// server crashes.
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 7. Final Cleanup (Graceful Shutdown)
	// Stopping the hub first cancels all delivery channels and records the
	// shutdown notice; the HTTP listener then winds down idle connections.
	logger.Info("Shutting down gracefully...")
	chatHub.Stop()
	supervisor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}
