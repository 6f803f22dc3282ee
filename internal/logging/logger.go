package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/afroash/krishi-monitor/internal/config"
	"github.com/rs/zerolog"
)

// New builds a zerolog logger from the logging section of a config.
// Format "text" gives human readable console output, anything else JSON.
func New(cfg config.LoggingConfig, service string) zerolog.Logger {
	return NewWithWriter(cfg, service, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LoggingConfig, service string, w io.Writer) zerolog.Logger {
	if strings.EqualFold(cfg.Format, "text") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
