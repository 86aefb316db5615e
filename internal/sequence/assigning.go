package sequence

import (
	"context"
	"fmt"

	"github.com/geoguansin/ncflow/internal/domain"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// Assigning copies the source concept's reference into the inferred
// concept. With a multi-source list (syntax.assign_source), the first
// complete source wins; conditional branches contribute alternative
// sources of which only one fires. With dev mode off, a missing source
// degrades to a skip-filled result instead of failing the item.
type Assigning struct{}

// Execute implements orchestrator.Sequence.
func (Assigning) Execute(ctx context.Context, frame *orchestrator.Frame) (*orchestrator.States, error) {
	source := pickSource(frame)
	if source == nil || !source.Concept.HasReference() {
		if frame.DevMode {
			return nil, domain.NewDomainError(domain.ErrCodeInvalidState,
				fmt.Sprintf("assigning %s: no source reference available", frame.Entry.FlowIndex), nil)
		}
		frame.Logger.Warn().
			Str("target", frame.Entry.ConceptToInfer.Name()).
			Msg("no source reference available, assigning skip marker")
		return &orchestrator.States{
			Inference: []orchestrator.Record{
				{StepName: orchestrator.StepOR, Reference: domain.SkipFilled(nil, nil)},
			},
		}, nil
	}

	frame.Logger.Debug().
		Str("source", source.Name()).
		Str("target", frame.Entry.ConceptToInfer.Name()).
		Msg("assigning reference")

	return &orchestrator.States{
		Inference: []orchestrator.Record{
			{StepName: orchestrator.StepOR, Reference: source.Concept.Reference.Copy()},
		},
	}, nil
}

// pickSource resolves the value concept to copy from: the first complete
// multi-source entry, or the single value concept otherwise.
func pickSource(frame *orchestrator.Frame) *domain.ConceptEntry {
	if sources := frame.Entry.AssignSources(); sources != nil {
		for _, name := range sources {
			if frame.Blackboard.ConceptComplete(name) {
				if entry := frame.Concepts.Get(name); entry != nil && entry.Concept.HasReference() {
					return entry
				}
			}
		}
		return nil
	}
	for _, vc := range frame.Entry.ValueConcepts {
		if vc.Concept.HasReference() {
			return vc
		}
	}
	return nil
}
