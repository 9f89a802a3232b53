package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures everything sent to one member.
type recordingSender struct {
	mu     sync.Mutex
	events []string
	bodies []map[string]any
}

func (r *recordingSender) Send(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if m, ok := payload.(map[string]any); ok {
		r.bodies = append(r.bodies, m)
	} else {
		r.bodies = append(r.bodies, nil)
	}
	return nil
}

func (r *recordingSender) received() ([]string, []map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]map[string]any(nil), r.bodies...)
}

func TestBroadcastAppliesSourceAllowList(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	member := &recordingSender{}
	hub.Join(member)

	hub.Broadcast("unrelated log line", "unrelated-feature", "info")
	hub.Broadcast("scraper failure detail", "test-scraper-error", "error")

	events, bodies := member.received()
	require.Len(t, events, 1)
	assert.Equal(t, "log-entry", events[0])
	assert.Equal(t, "test-scraper-error", bodies[0]["source"])
	assert.Equal(t, "scraper failure detail", bodies[0]["message"])
}

func TestBroadcastMatchesExactAndPrefixDashTags(t *testing.T) {
	t.Parallel()

	assert.True(t, sourceAllowed("test-scraper"))
	assert.True(t, sourceAllowed("test-scraper-error"))
	assert.True(t, sourceAllowed("scraper"))
	assert.True(t, sourceAllowed("ingest-worker"))
	assert.False(t, sourceAllowed("unrelated-feature"))
	assert.False(t, sourceAllowed("test-scraperx"))
	assert.False(t, sourceAllowed(""))
}

func TestBroadcastRedactsSecrets(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	member := &recordingSender{}
	hub.Join(member)

	hub.Broadcast("auth failed with Bearer sk4Jh2kD9sLq8RmT1vXw", "test-scraper", "error")

	_, bodies := member.received()
	require.Len(t, bodies, 1)
	msg, _ := bodies[0]["message"].(string)
	assert.NotContains(t, msg, "sk4Jh2kD9sLq8RmT1vXw")
	assert.Contains(t, msg, "[REDACTED]")
}

func TestLeaveStopsDelivery(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	member := &recordingSender{}
	hub.Join(member)
	require.Equal(t, 1, hub.Len())

	hub.Leave(member)
	assert.Equal(t, 0, hub.Len())

	hub.Broadcast("should not arrive", "test-scraper", "info")
	events, _ := member.received()
	assert.Empty(t, events)

	// Leaving twice is harmless.
	hub.Leave(member)
}
