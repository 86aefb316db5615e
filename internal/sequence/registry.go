package sequence

import (
	"github.com/geoguansin/ncflow/internal/domain"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// NewDefaultRegistry registers the built-in sequences: assigning, the
// timing gate, and the judgement variants sharing one implementation.
// Imperative, grouping and quantifying sequences come from the host
// application.
func NewDefaultRegistry() *orchestrator.SequenceRegistry {
	registry := orchestrator.NewSequenceRegistry()
	registry.Register(domain.SequenceAssigning, Assigning{})
	registry.Register(domain.SequenceSimple, Assigning{})
	registry.Register(domain.SequenceTiming, NewTiming())

	judgement := NewJudgement()
	registry.Register(domain.SequenceJudgement, judgement)
	registry.Register(domain.SequenceJudgementDirect, judgement)
	registry.Register(domain.SequenceJudgementPython, judgement)
	return registry
}
