package probe

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Log levels captured by the per-run recorder.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// LogEntry is one append-only record of a probe run's diagnostic log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

// Recorder captures a causally-ordered diagnostic log for exactly one probe
// run, independent of the process-wide logger. Every append is additionally
// forwarded to the zap logger with the run ID attached, so the capture is
// additive instrumentation rather than a replacement sink.
type Recorder struct {
	mu      sync.Mutex
	entries []LogEntry
	logger  *zap.Logger
}

// NewRecorder builds a Recorder scoped to one run.
func NewRecorder(logger *zap.Logger, runID string) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger.With(zap.String("probe_run", runID))}
}

// Append records an entry and mirrors it to the process logger.
func (r *Recorder) Append(level, message string, context map[string]any) {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   context,
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	fields := []zap.Field{}
	if context != nil {
		fields = append(fields, zap.Any("context", context))
	}
	switch level {
	case LevelError:
		r.logger.Error(message, fields...)
	case LevelWarning:
		r.logger.Warn(message, fields...)
	default:
		r.logger.Info(message, fields...)
	}
}

// Entries returns a copy of the captured log in insertion order. Reading does
// not clear the buffer.
func (r *Recorder) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.entries...)
}
