package monitoring

import (
	"sync"
)

// Metrics is an observer that aggregates event counters. It mirrors the
// process tracker but is safe to read from other goroutines while a run
// is in flight.
type Metrics struct {
	mu sync.RWMutex

	Cycles            int
	ItemsStarted      int
	ItemsCompleted    int
	ItemsFailed       int
	ItemsSkipped      int
	ItemsRetried      int
	ConceptsCompleted int
	CheckpointsSaved  int
}

// NewMetrics creates a zeroed metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Notify implements Observer.
func (m *Metrics) Notify(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch event.Type {
	case EventCycleStarted:
		m.Cycles++
	case EventItemStarted:
		m.ItemsStarted++
	case EventItemCompleted:
		m.ItemsCompleted++
	case EventItemFailed:
		m.ItemsFailed++
	case EventItemSkipped:
		m.ItemsSkipped++
	case EventItemRetrying:
		m.ItemsRetried++
	case EventConceptCompleted:
		m.ConceptsCompleted++
	case EventCheckpointSaved:
		m.CheckpointsSaved++
	}
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		Cycles:            m.Cycles,
		ItemsStarted:      m.ItemsStarted,
		ItemsCompleted:    m.ItemsCompleted,
		ItemsFailed:       m.ItemsFailed,
		ItemsSkipped:      m.ItemsSkipped,
		ItemsRetried:      m.ItemsRetried,
		ConceptsCompleted: m.ConceptsCompleted,
		CheckpointsSaved:  m.CheckpointsSaved,
	}
}
