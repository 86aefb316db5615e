// Package ncflow is a dependency-driven inference orchestrator for
// NormCode programs: graphs of typed concepts (labeled-axis values) and
// declarative inferences executed by pluggable sequences. The engine
// selects ready inferences cycle by cycle, propagates produced references
// into the concept store, reacts to iterating and timing sequences, and
// persists resumable checkpoints.
package ncflow

import (
	"github.com/geoguansin/ncflow/internal/agent"
	"github.com/geoguansin/ncflow/internal/checkpoint"
	"github.com/geoguansin/ncflow/internal/domain"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// Core domain types.

type Reference = domain.Reference
type Concept = domain.Concept
type ConceptEntry = domain.ConceptEntry
type ConceptRepo = domain.ConceptRepo
type InferenceEntry = domain.InferenceEntry
type InferenceRepo = domain.InferenceRepo
type FlowIndex = domain.FlowIndex
type SequenceKind = domain.SequenceKind
type ConceptStatus = domain.ConceptStatus
type ItemStatus = domain.ItemStatus
type CompletionDetail = domain.CompletionDetail

// IsSkip reports whether a cell holds the skip marker.
var IsSkip = domain.IsSkip

// Skip is the sentinel for deliberately empty cells.
var Skip = domain.Skip

const (
	SequenceAssigning   = domain.SequenceAssigning
	SequenceGrouping    = domain.SequenceGrouping
	SequenceQuantifying = domain.SequenceQuantifying
	SequenceLooping     = domain.SequenceLooping
	SequenceImperative  = domain.SequenceImperative
	SequenceJudgement   = domain.SequenceJudgement
	SequenceTiming      = domain.SequenceTiming
	SequenceSimple      = domain.SequenceSimple
)

const (
	ConceptEmpty    = domain.ConceptEmpty
	ConceptPending  = domain.ConceptPending
	ConceptComplete = domain.ConceptComplete

	ItemPending    = domain.ItemPending
	ItemInProgress = domain.ItemInProgress
	ItemCompleted  = domain.ItemCompleted
	ItemFailed     = domain.ItemFailed

	DetailSuccess         = domain.DetailSuccess
	DetailSkipped         = domain.DetailSkipped
	DetailConditionNotMet = domain.DetailConditionNotMet
)

// Engine types.

type Orchestrator = orchestrator.Orchestrator
type OrchestratorConfig = orchestrator.Config
type Controller = orchestrator.Controller
type ControlState = orchestrator.ControlState
type Blackboard = orchestrator.Blackboard
type ProcessTracker = orchestrator.ProcessTracker
type Waitlist = orchestrator.Waitlist
type WaitlistItem = orchestrator.WaitlistItem
type Sequence = orchestrator.Sequence
type SequenceRegistry = orchestrator.SequenceRegistry
type States = orchestrator.States
type Record = orchestrator.Record
type Frame = orchestrator.Frame
type TruthMask = orchestrator.TruthMask
type CheckpointStore = orchestrator.CheckpointStore
type ExecutionRecord = orchestrator.ExecutionRecord
type CheckpointRecord = orchestrator.CheckpointRecord
type RunInfo = orchestrator.RunInfo

type Body = agent.Body
type UserInputRequest = agent.UserInputRequest

// Checkpointing.

type CheckpointManager = checkpoint.Manager
type CheckpointBlob = checkpoint.Blob
type ReconcileMode = checkpoint.Mode
type ResumeOptions = checkpoint.ResumeOptions

const (
	ReconcileOverwrite = checkpoint.ModeOverwrite
	ReconcilePatch     = checkpoint.ModePatch
	ReconcileFillGaps  = checkpoint.ModeFillGaps
)

// NewReference builds a labeled-axis value from nested data.
func NewReference(data any, axisNames []string) (*Reference, error) {
	return domain.NewReference(data, axisNames, true)
}

// LoadConceptRepo decodes a JSON array of concept records.
func LoadConceptRepo(raw []byte) (*ConceptRepo, error) {
	return domain.LoadConceptRepo(raw)
}

// LoadInferenceRepo decodes a JSON array of inference records against an
// existing concept repo.
func LoadInferenceRepo(raw []byte, concepts *ConceptRepo) (*InferenceRepo, error) {
	return domain.LoadInferenceRepo(raw, concepts)
}

// NewBody creates the tool-collaborator bundle handed to sequences.
func NewBody(baseDir string) *Body {
	return agent.NewBody(baseDir)
}
