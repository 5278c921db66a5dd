package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceLogger provides file-based trace logging for orchestrator runs. It
// captures the full mutation history (edits, dispatches, results, state
// changes) at a detail level that would drown structured logs.
type TraceLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewTraceLogger creates a logger writing to the specified path.
// If the path is empty, returns a no-op logger.
// Creates parent directories if they don't exist.
func NewTraceLogger(logPath string) (*TraceLogger, error) {
	if logPath == "" {
		return &TraceLogger{}, nil
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := &TraceLogger{file: f}
	logger.Log("=== Constellation Trace Started at %s ===", time.Now().Format(time.RFC3339))

	return logger, nil
}

// NopTraceLogger returns a no-op logger for testing or when tracing is disabled.
func NopTraceLogger() *TraceLogger {
	return &TraceLogger{}
}

// Log writes a timestamped message to the trace log.
// If the logger is nil or has no file, this is a no-op.
func (l *TraceLogger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, msg)
	l.file.Sync()
}

// Close closes the log file.
// Safe to call on nil logger or logger without file.
func (l *TraceLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
