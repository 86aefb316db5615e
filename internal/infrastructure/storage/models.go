package storage

import (
	"time"

	"github.com/uptrace/bun"
)

// RunMetadataModel is one row of run_metadata.
type RunMetadataModel struct {
	bun.BaseModel `bun:"table:run_metadata,alias:rm"`

	RunID     string         `bun:"run_id,pk"`
	Metadata  map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt time.Time      `bun:"created_at,notnull"`
}

// ExecutionModel is one row of executions: a single attempt at one
// inference item.
type ExecutionModel struct {
	bun.BaseModel `bun:"table:executions,alias:e"`

	ID              int64     `bun:"id,pk,autoincrement"`
	RunID           string    `bun:"run_id,notnull"`
	Cycle           int       `bun:"cycle,notnull"`
	FlowIndex       string    `bun:"flow_index,notnull"`
	InferenceType   string    `bun:"inference_type,notnull"`
	Status          string    `bun:"status,notnull"`
	ConceptInferred string    `bun:"concept_inferred"`
	Timestamp       time.Time `bun:"timestamp,notnull"`
}

// ExecutionLogModel holds the captured log output of one execution.
type ExecutionLogModel struct {
	bun.BaseModel `bun:"table:execution_logs,alias:el"`

	ID          int64     `bun:"id,pk,autoincrement"`
	ExecutionID int64     `bun:"execution_id,notnull"`
	Content     string    `bun:"content"`
	Timestamp   time.Time `bun:"timestamp,notnull"`
}

// CheckpointModel is one serialized orchestrator state snapshot, keyed by
// (run_id, cycle, inference_count). inference_count 0 marks the
// end-of-cycle checkpoint.
type CheckpointModel struct {
	bun.BaseModel `bun:"table:checkpoints,alias:cp"`

	ID             int64     `bun:"id,pk,autoincrement"`
	RunID          string    `bun:"run_id,notnull,unique:uq_checkpoint"`
	Cycle          int       `bun:"cycle,notnull,unique:uq_checkpoint"`
	InferenceCount int       `bun:"inference_count,notnull,unique:uq_checkpoint"`
	Blob           []byte    `bun:"json_blob"`
	Timestamp      time.Time `bun:"timestamp,notnull"`
}
