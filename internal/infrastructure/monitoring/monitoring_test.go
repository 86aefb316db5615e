package monitoring

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestObserverManager_FansOut(t *testing.T) {
	manager := NewObserverManager()
	metrics := NewMetrics()
	manager.Register(metrics)

	var buf bytes.Buffer
	manager.Register(NewConsoleObserver(zerolog.New(&buf)))

	manager.Emit(Event{Type: EventCycleStarted, RunID: "r1", Cycle: 1})
	manager.Emit(Event{Type: EventItemStarted, RunID: "r1", Cycle: 1, FlowIndex: "1.1"})
	manager.Emit(Event{Type: EventItemCompleted, RunID: "r1", Cycle: 1, FlowIndex: "1.1"})
	manager.Emit(Event{Type: EventItemFailed, RunID: "r1", Cycle: 1, FlowIndex: "1.2", Detail: "boom"})
	manager.Emit(Event{Type: EventItemSkipped, RunID: "r1", Cycle: 1, FlowIndex: "1.3"})
	manager.Emit(Event{Type: EventConceptCompleted, RunID: "r1", Cycle: 1, Concept: "B"})
	manager.Emit(Event{Type: EventCheckpointSaved, RunID: "r1", Cycle: 1})

	snap := metrics.Snapshot()
	assert.Equal(t, 1, snap.Cycles)
	assert.Equal(t, 1, snap.ItemsStarted)
	assert.Equal(t, 1, snap.ItemsCompleted)
	assert.Equal(t, 1, snap.ItemsFailed)
	assert.Equal(t, 1, snap.ItemsSkipped)
	assert.Equal(t, 1, snap.ConceptsCompleted)
	assert.Equal(t, 1, snap.CheckpointsSaved)

	out := buf.String()
	assert.Contains(t, out, "item.completed")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, `"level":"error"`)
}

func TestEventTimestampStamped(t *testing.T) {
	manager := NewObserverManager()
	var got Event
	manager.Register(observerFunc(func(e Event) { got = e }))
	manager.Emit(Event{Type: EventRunStarted})
	assert.False(t, got.Timestamp.IsZero())
}

type observerFunc func(Event)

func (f observerFunc) Notify(e Event) { f(e) }
