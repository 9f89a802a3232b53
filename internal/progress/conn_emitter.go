package progress

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/threatlens/scout/internal/redact"
)

// Client is the outbound half of a live diagnostics connection. The realtime
// gateway's connection type satisfies it.
type Client interface {
	Send(event string, payload any) error
}

// Wire event names for the live channel.
const (
	eventAllStarted     = "all-sources-test-started"
	eventSourceStart    = "source-test-start"
	eventSourceComplete = "source-test-complete"
	eventAllCompleted   = "all-sources-test-completed"
	eventAllFailed      = "all-sources-test-failed"
	eventLogEntry       = "log-entry"

	// Unrecognized kinds are forwarded under this namespace instead of being
	// dropped, so new server-side kinds reach older clients.
	genericEventPrefix = "scraper-test:"

	logSource = "test-scraper"
)

// ConnEmitter is the live sink: it translates each Kind into the wire event
// for one connection and synthesizes a human-readable log-entry alongside.
type ConnEmitter struct {
	client Client
	logger *zap.Logger
}

// NewConnEmitter wraps a single live connection.
func NewConnEmitter(client Client, logger *zap.Logger) *ConnEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnEmitter{client: client, logger: logger}
}

// Emit forwards the event and its synthesized log line. Everything leaving
// on the wire passes through redaction first: event payloads carry raw error
// strings, and those can embed DSNs or tokens. Send failures are logged and
// swallowed; a dead consumer must not fail the probe run.
func (e *ConnEmitter) Emit(evt Event) {
	name := wireEvent(evt.Kind)
	if err := e.client.Send(name, redact.Object(evt.Payload)); err != nil {
		e.logger.Warn("live event send failed", zap.String("event", name), zap.Error(err))
	}

	level, message := describe(evt)
	if message == "" {
		return
	}
	entry := map[string]any{
		"timestamp":     evt.TS.UnixMilli(),
		"formattedTime": evt.TS.Format("15:04:05"),
		"level":         level,
		"source":        logSource,
		"message":       redact.Text(message),
	}
	if err := e.client.Send(eventLogEntry, entry); err != nil {
		e.logger.Warn("live log entry send failed", zap.Error(err))
	}
}

func wireEvent(k Kind) string {
	switch k {
	case KindStarted:
		return eventAllStarted
	case KindSourceStart:
		return eventSourceStart
	case KindSourceComplete:
		return eventSourceComplete
	case KindCompleted:
		return eventAllCompleted
	case KindFailed:
		return eventAllFailed
	default:
		return genericEventPrefix + string(k)
	}
}

// describe builds the human-readable log line for an event. It returns an
// empty message for kinds that have no useful prose form.
func describe(evt Event) (level, message string) {
	p := evt.Payload
	switch evt.Kind {
	case KindStarted:
		return "info", fmt.Sprintf("Starting test of %v active sources", p["total"])
	case KindSourceStart:
		return "info", fmt.Sprintf("Testing source %v of %v: %v", p["index"], p["total"], p["name"])
	case KindSourceComplete:
		if success, _ := p["success"].(bool); success {
			return "info", fmt.Sprintf("Source %v passed (%v links found)", p["name"], p["found"])
		}
		return "error", fmt.Sprintf("Source %v failed: %s", p["name"], joinErrors(p["errors"]))
	case KindCompleted:
		return "info", fmt.Sprintf("All-sources test finished: %v passed, %v failed", p["passed"], p["failed"])
	case KindFailed:
		return "error", fmt.Sprintf("All-sources test aborted: %v", p["error"])
	default:
		return "", ""
	}
}

func joinErrors(v any) string {
	errs, ok := v.([]string)
	if !ok || len(errs) == 0 {
		return "unknown error"
	}
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}

var _ Emitter = (*ConnEmitter)(nil)
var _ Emitter = (*LogEmitter)(nil)

// Timestamped stamps evt with now when the orchestrator did not set TS.
func Timestamped(evt Event) Event {
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	return evt
}
