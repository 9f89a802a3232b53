package realtime

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/threatlens/scout/internal/redact"
)

// Sender is the outbound half of a live connection. *Conn satisfies it; tests
// substitute recorders.
type Sender interface {
	Send(event string, payload any) error
}

// allowedTags is the fixed allow-list of scraper-related log sources. A
// message passes when its source matches a tag exactly or extends one with a
// dash (test-scraper-error matches test-scraper). Anything else is dropped so
// unrelated application logs never leak to observers.
var allowedTags = []string{
	"scraper",
	"test-scraper",
	"probe",
	"ingest",
}

func sourceAllowed(source string) bool {
	for _, tag := range allowedTags {
		if source == tag || strings.HasPrefix(source, tag+"-") {
			return true
		}
	}
	return false
}

// Hub owns the diagnostics broadcast group. Membership is shared across all
// authorized connections; fan-out applies the source allow-list and secret
// redaction before anything leaves the process.
type Hub struct {
	mu      sync.RWMutex
	members map[Sender]struct{}
	logger  *zap.Logger
}

// NewHub returns an empty broadcast group.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{members: make(map[Sender]struct{}), logger: logger}
}

// Join adds a connection to the group.
func (h *Hub) Join(s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members[s] = struct{}{}
}

// Leave removes a connection from the group. Removing a non-member is a no-op.
func (h *Hub) Leave(s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.members, s)
}

// Len reports current group size.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Broadcast fans a log line out to every group member as a log-entry event.
// Disallowed sources are dropped, the message body is redacted, and send
// failures are logged per member without affecting the rest of the group.
// Slow consumers are the transport's problem; there is no buffering here.
func (h *Hub) Broadcast(message, source, level string) {
	if !sourceAllowed(source) {
		return
	}

	now := time.Now().UTC()
	entry := map[string]any{
		"timestamp":     now.UnixMilli(),
		"formattedTime": now.Format("15:04:05"),
		"level":         level,
		"source":        source,
		"message":       redact.Text(message),
	}

	h.mu.RLock()
	members := make([]Sender, 0, len(h.members))
	for m := range h.members {
		members = append(members, m)
	}
	h.mu.RUnlock()

	for _, m := range members {
		if err := m.Send("log-entry", entry); err != nil {
			h.logger.Warn("broadcast send failed", zap.String("source", source), zap.Error(err))
		}
	}
}
