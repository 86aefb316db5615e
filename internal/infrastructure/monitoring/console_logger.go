package monitoring

import (
	"github.com/rs/zerolog"
)

// ConsoleObserver logs every orchestration event through zerolog.
type ConsoleObserver struct {
	logger zerolog.Logger
}

// NewConsoleObserver creates an observer writing to the given logger.
func NewConsoleObserver(logger zerolog.Logger) *ConsoleObserver {
	return &ConsoleObserver{logger: logger}
}

// Notify implements Observer.
func (c *ConsoleObserver) Notify(event Event) {
	ev := c.logger.Info()
	switch event.Type {
	case EventItemFailed, EventDeadlock:
		ev = c.logger.Error()
	case EventItemRetrying:
		ev = c.logger.Debug()
	}
	ev.Str("event", string(event.Type)).
		Str("run_id", event.RunID).
		Int("cycle", event.Cycle)
	if event.FlowIndex != "" {
		ev.Str("flow_index", event.FlowIndex)
	}
	if event.Concept != "" {
		ev.Str("concept", event.Concept)
	}
	if event.Sequence != "" {
		ev.Str("sequence", event.Sequence)
	}
	if event.Detail != "" {
		ev.Str("detail", event.Detail)
	}
	ev.Msg("orchestration event")
}
