package internal

import (
	"fmt"
	"time"
)

// Config holds the hub server's environment-driven settings.
type Config struct {
	Host              string        `env:"HOST,default=0.0.0.0"`
	Port              int           `env:"PORT,default=8890"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	DrainInterval     time.Duration `env:"DRAIN_INTERVAL,default=500ms"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	ReminderTick      time.Duration `env:"REMINDER_TICK,default=1s"`
	ReminderThreshold time.Duration `env:"REMINDER_THRESHOLD,default=10s"`
	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,default=30s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
	TranscriptPath    string        `env:"TRANSCRIPT_PATH"`
	EnableModeration  bool          `env:"ENABLE_MODERATION,default=false"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,default=*"`
}

// CharacterRune validates that the replacement used by the moderator is a
// single character.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
