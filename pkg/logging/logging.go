package logging

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the application logger type, backed by slog.
type Logger = *slog.Logger

// ParseLevel parses a log level string into slog.Level.
// Supported values: trace, debug, info, warn, error (case-insensitive);
// trace maps to a level below Debug.
// Defaults to info if the value is unrecognized.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new slog.Logger with a text handler at the given level.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewLoggerWithLevelVar creates a slog.Logger whose level can be changed
// after construction by setting levelVar, used so POST /api/v1/log-level
// can raise or lower verbosity without restarting the process.
func NewLoggerWithLevelVar(levelVar *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelVar,
	}))
}

// NewFileLogger creates a slog.Logger that writes to w (typically an
// opened log file) instead of stderr, honoring --log-file.
func NewFileLogger(w io.Writer, levelVar *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: levelVar,
	}))
}

// slogWriter is an io.WriteCloser that forwards each line to a slog.Logger.
type slogWriter struct {
	logger *slog.Logger
	pr     *io.PipeReader
	pw     *io.PipeWriter
	done   chan struct{}
}

// NewWriter returns an io.WriteCloser that logs each line written to it
// using the provided slog.Logger at Info level.
func NewWriter(logger *slog.Logger) io.WriteCloser {
	pr, pw := io.Pipe()
	sw := &slogWriter{
		logger: logger,
		pr:     pr,
		pw:     pw,
		done:   make(chan struct{}),
	}
	go sw.scan()
	return sw
}

func (sw *slogWriter) scan() {
	defer close(sw.done)
	scanner := bufio.NewScanner(sw.pr)
	for scanner.Scan() {
		sw.logger.Log(context.Background(), slog.LevelInfo, scanner.Text())
	}
}

func (sw *slogWriter) Write(p []byte) (int, error) {
	return sw.pw.Write(p)
}

func (sw *slogWriter) Close() error {
	err := sw.pw.Close()
	<-sw.done
	return err
}
