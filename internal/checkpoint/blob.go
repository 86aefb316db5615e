package checkpoint

import (
	"time"

	"github.com/geoguansin/ncflow/internal/domain"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// SchemaVersion of the checkpoint blob layout.
const SchemaVersion = 1

// ReferenceBlob embeds one concept value as {tensor, axes}.
type ReferenceBlob struct {
	Tensor []any    `json:"tensor"`
	Axes   []string `json:"axes"`
}

// BlackboardBlob is the serialised blackboard plus the concept values
// present at save time.
type BlackboardBlob struct {
	ConceptStatuses   map[string]domain.ConceptStatus              `json:"concept_status"`
	ItemStatuses      map[domain.FlowIndex]domain.ItemStatus       `json:"item_status"`
	CompletionDetails map[domain.FlowIndex]domain.CompletionDetail `json:"completion_detail"`
	ItemResults       map[domain.FlowIndex]string                  `json:"item_result"`
	ExecutionCounts   map[domain.FlowIndex]int                     `json:"execution_count"`
	CompletedAt       map[string]time.Time                         `json:"completion_timestamp"`
	TruthMasks        map[string]*orchestrator.TruthMask           `json:"truth_masks"`
	ConceptReferences map[string]ReferenceBlob                     `json:"concept_references"`
}

// TrackerBlob mirrors the tracker counters and completion order.
type TrackerBlob struct {
	CycleCount      int                `json:"cycle_count"`
	Counters        TrackerCounters    `json:"counters"`
	CompletionOrder []domain.FlowIndex `json:"completion_order"`
}

// TrackerCounters groups the execution counters.
type TrackerCounters struct {
	TotalExecutions      int `json:"total_executions"`
	SuccessfulExecutions int `json:"successful_executions"`
	SkippedExecutions    int `json:"skipped_executions"`
	FailedExecutions     int `json:"failed_executions"`
	RetryCount           int `json:"retry_count"`
}

// SignaturesBlob carries the per-concept and per-inference definition
// hashes as of save time. They drive PATCH-mode staleness detection.
type SignaturesBlob struct {
	ConceptSignatures   map[string]string           `json:"concept_signatures"`
	InferenceSignatures map[domain.FlowIndex]string `json:"inference_signatures"`
}

// Blob is the complete serialised orchestrator state stored in the
// json_blob column.
type Blob struct {
	Blackboard    BlackboardBlob `json:"blackboard"`
	Tracker       TrackerBlob    `json:"tracker"`
	Workspace     map[string]any `json:"workspace"`
	Signatures    SignaturesBlob `json:"signatures"`
	RunID         string         `json:"run_id"`
	SchemaVersion int            `json:"schema_version"`
}

func trackerBlobFrom(snap orchestrator.TrackerSnapshot) TrackerBlob {
	return TrackerBlob{
		CycleCount: snap.CycleCount,
		Counters: TrackerCounters{
			TotalExecutions:      snap.TotalExecutions,
			SuccessfulExecutions: snap.SuccessfulExecutions,
			SkippedExecutions:    snap.SkippedExecutions,
			FailedExecutions:     snap.FailedExecutions,
			RetryCount:           snap.RetryCount,
		},
		CompletionOrder: snap.CompletionOrder,
	}
}

func (t TrackerBlob) snapshot() orchestrator.TrackerSnapshot {
	return orchestrator.TrackerSnapshot{
		CycleCount:           t.CycleCount,
		TotalExecutions:      t.Counters.TotalExecutions,
		SuccessfulExecutions: t.Counters.SuccessfulExecutions,
		SkippedExecutions:    t.Counters.SkippedExecutions,
		FailedExecutions:     t.Counters.FailedExecutions,
		RetryCount:           t.Counters.RetryCount,
		CompletionOrder:      t.CompletionOrder,
	}
}
