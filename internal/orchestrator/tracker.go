package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/geoguansin/ncflow/internal/domain"
)

// ProcessTracker tracks the orchestration process and provides
// statistics. Execution rows are written through the CheckpointStore
// when one is attached; counters always live in memory.
type ProcessTracker struct {
	CompletionOrder      []domain.FlowIndex
	CycleCount           int
	TotalExecutions      int
	SuccessfulExecutions int
	SkippedExecutions    int
	FailedExecutions     int
	RetryCount           int

	store CheckpointStore
	runID string
}

// NewProcessTracker creates a tracker without persistence attached.
func NewProcessTracker() *ProcessTracker {
	return &ProcessTracker{}
}

// AttachStore wires the shared store and run id used for execution rows.
func (t *ProcessTracker) AttachStore(store CheckpointStore, runID string) {
	t.store = store
	t.runID = runID
}

// AddExecutionRecord writes a row for an execution attempt and returns
// its id, or 0 when no store is attached.
func (t *ProcessTracker) AddExecutionRecord(ctx context.Context, cycle int, flow domain.FlowIndex, sequence domain.SequenceKind, status string, conceptInferred string) (int64, error) {
	if t.store == nil {
		return 0, nil
	}
	return t.store.InsertExecution(ctx, ExecutionRecord{
		RunID:           t.runID,
		Cycle:           cycle,
		FlowIndex:       string(flow),
		InferenceType:   string(sequence),
		Status:          status,
		ConceptInferred: conceptInferred,
		Timestamp:       time.Now(),
	})
}

// UpdateExecutionStatus updates the status of an execution row.
func (t *ProcessTracker) UpdateExecutionStatus(ctx context.Context, executionID int64, status string) error {
	if t.store == nil || executionID == 0 {
		return nil
	}
	return t.store.UpdateExecutionStatus(ctx, executionID, status)
}

// CaptureInferenceLog attaches captured log output to an execution row.
func (t *ProcessTracker) CaptureInferenceLog(ctx context.Context, executionID int64, content string) error {
	if t.store == nil || executionID == 0 || content == "" {
		return nil
	}
	return t.store.InsertLog(ctx, executionID, content)
}

// RecordCompletion appends to the ordered completion list.
func (t *ProcessTracker) RecordCompletion(flow domain.FlowIndex) {
	t.CompletionOrder = append(t.CompletionOrder, flow)
}

// ResetCounters clears all counters and the completion order. Used when
// forking a run to start history statistics fresh.
func (t *ProcessTracker) ResetCounters() {
	t.CycleCount = 0
	t.TotalExecutions = 0
	t.SuccessfulExecutions = 0
	t.SkippedExecutions = 0
	t.FailedExecutions = 0
	t.RetryCount = 0
	t.CompletionOrder = nil
}

// SuccessRate returns the share of successful executions among terminal
// ones, as a percentage.
func (t *ProcessTracker) SuccessRate() float64 {
	terminal := t.SuccessfulExecutions + t.FailedExecutions
	if t.TotalExecutions == 0 || terminal == 0 {
		return 0
	}
	return float64(t.SuccessfulExecutions) / float64(terminal) * 100
}

// LoadFromStore rebuilds counters from the run's execution rows after a
// resume, when the checkpoint blob predates the last executions.
func (t *ProcessTracker) LoadFromStore(ctx context.Context, runID string) error {
	if t.store == nil {
		return nil
	}
	rows, err := t.store.ListExecutions(ctx, runID)
	if err != nil {
		return err
	}
	t.TotalExecutions = len(rows)
	t.SuccessfulExecutions = 0
	t.FailedExecutions = 0
	t.RetryCount = 0
	for _, row := range rows {
		switch row.Status {
		case string(domain.ItemCompleted):
			t.SuccessfulExecutions++
		case string(domain.ItemFailed):
			t.FailedExecutions++
		case string(domain.ItemPending):
			t.RetryCount++
		}
	}
	return nil
}

// TrackerSnapshot is the serialisable form of the tracker counters.
type TrackerSnapshot struct {
	CycleCount           int                `json:"cycle_count"`
	TotalExecutions      int                `json:"total_executions"`
	SuccessfulExecutions int                `json:"successful_executions"`
	SkippedExecutions    int                `json:"skipped_executions"`
	FailedExecutions     int                `json:"failed_executions"`
	RetryCount           int                `json:"retry_count"`
	CompletionOrder      []domain.FlowIndex `json:"completion_order"`
}

// Snapshot copies the counters into their serialisable form.
func (t *ProcessTracker) Snapshot() TrackerSnapshot {
	return TrackerSnapshot{
		CycleCount:           t.CycleCount,
		TotalExecutions:      t.TotalExecutions,
		SuccessfulExecutions: t.SuccessfulExecutions,
		SkippedExecutions:    t.SkippedExecutions,
		FailedExecutions:     t.FailedExecutions,
		RetryCount:           t.RetryCount,
		CompletionOrder:      append([]domain.FlowIndex(nil), t.CompletionOrder...),
	}
}

// Restore installs saved counters.
func (t *ProcessTracker) Restore(snap TrackerSnapshot) {
	t.CycleCount = snap.CycleCount
	t.TotalExecutions = snap.TotalExecutions
	t.SuccessfulExecutions = snap.SuccessfulExecutions
	t.SkippedExecutions = snap.SkippedExecutions
	t.FailedExecutions = snap.FailedExecutions
	t.RetryCount = snap.RetryCount
	t.CompletionOrder = append([]domain.FlowIndex(nil), snap.CompletionOrder...)
}

// LogSummary writes the end-of-run summary: per-item statuses, counters,
// completion order and final concept values.
func (t *ProcessTracker) LogSummary(logger zerolog.Logger, wl *Waitlist, bb *Blackboard, concepts *domain.ConceptRepo) {
	logger.Info().Str("waitlist_id", wl.ID).Msg("orchestration summary")
	for _, item := range wl.Items {
		logger.Info().
			Str("flow_index", string(item.Flow())).
			Str("sequence", string(item.Entry.Sequence)).
			Str("status", string(bb.ItemStatus(item.Flow()))).
			Msg("item status")
	}
	logger.Info().
		Int("cycles", t.CycleCount).
		Int("executions", t.TotalExecutions).
		Int("successful", t.SuccessfulExecutions).
		Int("skipped", t.SkippedExecutions).
		Int("failed", t.FailedExecutions).
		Int("retries", t.RetryCount).
		Float64("success_rate", t.SuccessRate()).
		Msg("process statistics")
	for i, flow := range t.CompletionOrder {
		logger.Info().Int("position", i+1).Str("flow_index", string(flow)).Msg("completion order")
	}
	for _, entry := range concepts.Final() {
		ev := logger.Info().Str("concept", entry.Name())
		if entry.Concept.HasReference() {
			ev = ev.Interface("tensor", entry.Concept.Reference.Tensor()).
				Strs("axes", entry.Concept.Reference.Axes()).
				Ints("shape", entry.Concept.Reference.Shape())
		} else {
			ev = ev.Str("tensor", "N/A")
		}
		ev.Msg("final concept")
	}
}
