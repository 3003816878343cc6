package main

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"github.com/asynctalk/chatroom/client"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddress string `env:"CHAT_SERVER_ADDR,default=http://localhost:8890"`
	Username      string `env:"CHAT_USERNAME"`
	LogLevel      string `env:"LOG_LEVEL,default=WARN"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Load configuration from environment variables.
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if config.Username == "" {
		return exitConfig, fmt.Errorf("CHAT_USERNAME is required")
	}

	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Setup context to handle termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat := client.New(config.ServerAddress, config.Username, log)
	defer chat.Close()

	fmt.Printf("Connected as %s to %s\n", config.Username, config.ServerAddress)
	fmt.Println("Type a message + Enter to append to your draft.")
	fmt.Println("Commands: /stick /push /undo /reset /draft /users /quit")

	// 3. Print incoming messages as they arrive.
	go printIncoming(ctx, chat)

	// 4. Read stdin and drive the turn machine.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nDisconnected from chat server.")
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if quit := handleLine(chat, strings.TrimSpace(line)); quit {
				fmt.Println("Disconnected from chat server.")
				return exitOK, nil
			}
		}
	}
}

// handleLine executes one stdin line and reports whether the user asked
// to quit.
func handleLine(chat *client.Client, line string) bool {
	switch {
	case line == "":
		return false
	case line == "/quit" || line == "exit":
		return true
	case line == "/stick":
		printMessages(chat.ClaimStick())
		fmt.Println("You hold the talking stick. Compose away.")
	case line == "/push":
		printMessages(chat.Push())
	case line == "/undo":
		printMessages(chat.Undo())
	case line == "/reset":
		printMessages(chat.Reset())
		fmt.Println("Draft cleared, stick released.")
	case line == "/draft":
		fmt.Printf("Current draft: %q\n", chat.Draft())
	case line == "/users":
		printUsers(chat)
	default:
		messages, err := chat.Append(line)
		if err != nil {
			color.Warn.Println("Claim the stick first with /stick")
		}
		printMessages(messages)
	}
	return false
}

func printIncoming(ctx context.Context, chat *client.Client) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printMessages(chat.Poll())
		}
	}
}

// printMessages renders "[sender]: content" lines with a stable per-sender
// color prefix.
func printMessages(messages string) {
	if messages == "" {
		return
	}
	for _, line := range strings.Split(messages, "\n") {
		sender, rest, found := strings.Cut(line, ":")
		if !found || !strings.HasPrefix(sender, "[") {
			fmt.Println(line)
			continue
		}
		colorFor(sender).Print(sender + " |")
		fmt.Println(rest)
	}
}

var senderPalette = []color.Color{
	color.FgGreen, color.FgYellow, color.FgBlue,
	color.FgMagenta, color.FgCyan, color.FgRed,
}

func colorFor(sender string) color.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sender))
	return senderPalette[h.Sum32()%uint32(len(senderPalette))]
}

func printUsers(chat *client.Client) {
	users, err := chat.Users()
	if err != nil {
		color.Error.Println("Could not list users: " + err.Error())
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Participant"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, name := range users {
		table.Append([]string{fmt.Sprintf("%d", i+1), name})
	}
	table.Render()
}
