package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with pipeline context helpers
type Logger struct {
	zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output string // stdout, stderr or file path
}

// New creates a logger writing to the configured output. A file that cannot
// be opened falls back to stderr.
func New(cfg Config) *Logger {
	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stderr
		} else {
			output = file
		}
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}
	return NewWriter(output, cfg.Level)
}

// NewWriter creates a JSON logger on w. Unknown levels mean info.
func NewWriter(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return &Logger{
		Logger: zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger(),
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{Logger: fn(l.With()).Logger()}
}

// WithComponent tags entries with the emitting component
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("component", component)
	})
}

// WithSource tags entries with the crawl source
func (l *Logger) WithSource(sourceID uint, sourceName string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Uint("source_id", sourceID).Str("source_name", sourceName)
	})
}

// WithArticleID tags entries with an article
func (l *Logger) WithArticleID(id uint) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Uint("article_id", id)
	})
}

// WithProvider tags entries with an AI provider
func (l *Logger) WithProvider(name string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("provider", name)
	})
}

// WithRunID tags entries with a crawl run
func (l *Logger) WithRunID(id string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("run_id", id)
	})
}
