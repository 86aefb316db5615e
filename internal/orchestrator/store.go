package orchestrator

import (
	"context"
	"time"
)

// ExecutionRecord is one row of the executions table.
type ExecutionRecord struct {
	ID              int64
	RunID           string
	Cycle           int
	FlowIndex       string
	InferenceType   string
	Status          string
	ConceptInferred string
	Timestamp       time.Time
}

// CheckpointRecord is one row of the checkpoints table.
type CheckpointRecord struct {
	ID             int64
	RunID          string
	Cycle          int
	InferenceCount int
	Blob           []byte
	Timestamp      time.Time
}

// RunInfo summarises one run for listings.
type RunInfo struct {
	RunID     string
	Metadata  map[string]any
	CreatedAt time.Time
}

// CheckpointStore is the persistence boundary the orchestrator writes
// through: run metadata, execution rows with attached logs, and
// checkpoint blobs keyed by (run_id, cycle, inference_count).
type CheckpointStore interface {
	SaveRunMetadata(ctx context.Context, runID string, metadata map[string]any) error
	GetRunMetadata(ctx context.Context, runID string) (map[string]any, error)
	ListRuns(ctx context.Context) ([]RunInfo, error)
	DeleteRun(ctx context.Context, runID string) error

	InsertExecution(ctx context.Context, rec ExecutionRecord) (int64, error)
	UpdateExecutionStatus(ctx context.Context, executionID int64, status string) error
	InsertLog(ctx context.Context, executionID int64, content string) error
	ListExecutions(ctx context.Context, runID string) ([]ExecutionRecord, error)

	SaveCheckpoint(ctx context.Context, runID string, cycle, inferenceCount int, blob []byte) error
	ListCheckpoints(ctx context.Context, runID string) ([]CheckpointRecord, error)
	// LoadCheckpoint returns the latest checkpoint matching the filters:
	// cycle < 0 means any cycle, inferenceCount < 0 means latest within
	// the cycle.
	LoadCheckpoint(ctx context.Context, runID string, cycle, inferenceCount int) (*CheckpointRecord, error)
}
