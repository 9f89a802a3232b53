// Package progress defines the event stream emitted by probe runs.
package progress

import "time"

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported progress kinds. The emitter contract treats this set as closed;
// anything else is forwarded under a generic namespaced name.
const (
	KindStarted        Kind = "started"
	KindSourceStart    Kind = "sourceStart"
	KindSourceComplete Kind = "sourceComplete"
	KindCompleted      Kind = "completed"
	KindFailed         Kind = "failed"
)

// Known reports whether k is one of the closed set of kinds.
func (k Kind) Known() bool {
	switch k {
	case KindStarted, KindSourceStart, KindSourceComplete, KindCompleted, KindFailed:
		return true
	}
	return false
}

// Event captures a single milestone of an aggregate probe run. Events are
// transient: emitted, optionally relayed to a live channel, then discarded.
type Event struct {
	Kind    Kind
	TS      time.Time
	Payload map[string]any
}

// Emitter publishes individual events. Emit is synchronous relative to the
// caller; per-run ordering follows program order. No cross-run interleaving
// guarantee is made when two probes share one emitter.
type Emitter interface {
	Emit(evt Event)
}
