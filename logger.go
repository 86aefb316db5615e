package ncflow

import (
	"io"

	"github.com/rs/zerolog"

	logpkg "github.com/geoguansin/ncflow/internal/infrastructure/logger"
	"github.com/geoguansin/ncflow/internal/infrastructure/monitoring"
)

type EventType = monitoring.EventType
type Event = monitoring.Event
type Observer = monitoring.Observer
type ObserverManager = monitoring.ObserverManager
type Metrics = monitoring.Metrics

const (
	EventRunStarted       = monitoring.EventRunStarted
	EventRunFinished      = monitoring.EventRunFinished
	EventCycleStarted     = monitoring.EventCycleStarted
	EventItemStarted      = monitoring.EventItemStarted
	EventItemCompleted    = monitoring.EventItemCompleted
	EventItemFailed       = monitoring.EventItemFailed
	EventItemSkipped      = monitoring.EventItemSkipped
	EventItemRetrying     = monitoring.EventItemRetrying
	EventConceptCompleted = monitoring.EventConceptCompleted
	EventCheckpointSaved  = monitoring.EventCheckpointSaved
	EventDeadlock         = monitoring.EventDeadlock
)

// NewObserverManager creates an empty observer fan-out.
func NewObserverManager() *ObserverManager {
	return monitoring.NewObserverManager()
}

// NewConsoleObserver logs every orchestration event through zerolog.
func NewConsoleObserver(logger zerolog.Logger) Observer {
	return monitoring.NewConsoleObserver(logger)
}

// NewMetrics creates an observer aggregating event counters.
func NewMetrics() *Metrics {
	return monitoring.NewMetrics()
}

// SetupLogger creates a configured zerolog logger.
func SetupLogger(level string, w io.Writer) zerolog.Logger {
	return logpkg.Setup(level, w)
}
