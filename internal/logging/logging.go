// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "nifty-breakout", "logs", "scanner.log"),
		MaxSize:    50,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLoggerWithConfig builds the process logger. Console output goes to
// stderr so it never mixes with command output; the file sink rotates.
// The level is applied globally.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	switch len(writers) {
	case 0:
		return zerolog.Nop()
	case 1:
		return zerolog.New(writers[0]).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

// ParseLevel maps a config string to a zerolog level. Unknown or empty
// strings mean info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogAlert records a newly stored alert.
func LogAlert(logger zerolog.Logger, alertID, symbol, alertType string, highBreakPct, volumeBreakPct float64) {
	logger.Info().
		Str("event", "alert").
		Str("alert_id", alertID).
		Str("symbol", symbol).
		Str("alert_type", alertType).
		Float64("high_break_pct", highBreakPct).
		Float64("volume_break_pct", volumeBreakPct).
		Msg("Alert triggered")
}

// LogAPICall records one upstream call at debug level. Errors are redacted.
func LogAPICall(logger zerolog.Logger, method, symbol string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("symbol", symbol).
		Dur("duration", duration)
	if err != nil {
		event.Str("error", RedactError(err)).Msg("API call failed")
		return
	}
	event.Msg("API call completed")
}
