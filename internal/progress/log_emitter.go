package progress

import (
	"go.uber.org/zap"
)

// LogEmitter is the passive sink: it writes structured log lines only. It is
// used for server-side probe runs where no operator is watching live.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter wires a zap logger to the Emitter interface.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event with structured fields.
func (e *LogEmitter) Emit(evt Event) {
	e.logger.Info("probe progress",
		zap.String("kind", string(evt.Kind)),
		zap.Time("ts", evt.TS),
		zap.Any("payload", evt.Payload),
	)
}
