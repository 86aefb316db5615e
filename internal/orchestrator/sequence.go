package orchestrator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/geoguansin/ncflow/internal/agent"
	"github.com/geoguansin/ncflow/internal/domain"
)

// Step names the core dispatches on. OR is the only record kind the
// orchestrator interprets: it carries a reference to publish.
const (
	StepOR  = "OR"
	StepTIA = "TIA"
)

// Record is one step result inside a sequence's state snapshot.
type Record struct {
	StepName  string
	Concept   *domain.Concept
	Reference *domain.Reference
}

// StatesSyntax carries the quantifier bookkeeping of iterating sequences.
type StatesSyntax struct {
	// CompletionStatus is true when a quantifying/looping sequence has
	// finished all iterations.
	CompletionStatus bool
}

// States is the snapshot a sequence returns. The core interprets only OR
// records, the optional signals, and Syntax.CompletionStatus; everything
// else is carried for the sequence layer itself.
type States struct {
	Inference []Record
	Context   []Record
	Values    []Record
	Function  []Record

	// TimingReady is set by timing sequences: nil on non-timing states,
	// false when the gate must retry next cycle.
	TimingReady *bool
	// ToBeSkipped propagates a skip to flow-index ancestors when a timing
	// gate fires negatively.
	ToBeSkipped bool
	// ConditionMet is set by judgement sequences.
	ConditionMet *bool
	// PrimaryFilterAxis marks that a for-each quantifier produced a truth
	// mask on the named axis.
	PrimaryFilterAxis string

	Syntax StatesSyntax
}

// GetReference returns the reference of the first record in the named
// category with the given step name, or nil.
func (s *States) GetReference(category, step string) *domain.Reference {
	var records []Record
	switch category {
	case "inference":
		records = s.Inference
	case "context":
		records = s.Context
	case "values":
		records = s.Values
	case "function":
		records = s.Function
	}
	for _, r := range records {
		if r.StepName == step && r.Reference != nil {
			return r.Reference
		}
	}
	return nil
}

// Frame is the execution context handed to a sequence: the inference
// entry plus the live state it may read and the workspace it may mutate.
type Frame struct {
	Entry      *domain.InferenceEntry
	Blackboard *Blackboard
	Workspace  map[string]any
	Concepts   *domain.ConceptRepo
	Body       *agent.Body
	// Logger writes into the per-execution capture; sequences log through
	// it so their output lands on the execution row.
	Logger zerolog.Logger
	// DevMode: failing reference operations raise instead of degrading to
	// skip markers.
	DevMode bool
}

// Sequence is the contract every sequence implementation satisfies. A
// retry (timing not ready, iteration not complete) is expressed through
// the returned States, not through the error. The user-interaction signal
// is returned as a *NeedsUserInteraction error.
type Sequence interface {
	Execute(ctx context.Context, frame *Frame) (*States, error)
}

// SequenceRegistry maps sequence kinds to implementations.
type SequenceRegistry struct {
	sequences map[domain.SequenceKind]Sequence
}

// NewSequenceRegistry creates an empty registry.
func NewSequenceRegistry() *SequenceRegistry {
	return &SequenceRegistry{sequences: make(map[domain.SequenceKind]Sequence)}
}

// Register installs an implementation for a sequence kind.
func (r *SequenceRegistry) Register(kind domain.SequenceKind, seq Sequence) {
	r.sequences[kind] = seq
}

// Get returns the implementation for a kind, or nil.
func (r *SequenceRegistry) Get(kind domain.SequenceKind) Sequence {
	return r.sequences[kind]
}
