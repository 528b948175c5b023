// Package logging provides structured logging built on zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger initialization.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string

	// Format is the output format (json, console).
	Format string

	// Output overrides the default output (stderr).
	Output io.Writer

	// EnableCaller adds file:line caller information to log entries.
	EnableCaller bool
}

var (
	mu   sync.RWMutex
	root = build(Config{Level: "info", Format: "console"})
)

// Init configures the global logger. Safe to call more than once;
// the most recent call wins.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	root = build(cfg)
}

// Component returns a logger tagged with a component name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", name).Logger()
}

// Logger returns the root logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

func build(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if strings.EqualFold(cfg.Format, "console") || cfg.Format == "" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).Level(parseLevel(cfg.Level))

	ctx := logger.With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}

	return ctx.Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return zerolog.InfoLevel
		}
		return parsed
	}
}
