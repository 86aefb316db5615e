package sequence

import (
	"context"

	"github.com/geoguansin/ncflow/internal/domain"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// Judgement evaluates a boolean condition over the inference's inputs and
// publishes the verdict as the inferred concept's reference. The
// completion detail downstream distinguishes success from
// condition_not_met; the reference is installed either way. With dev mode
// off, a failing evaluation or a missing subject degrades to skip markers
// in the affected cells instead of failing the item.
//
// Interpretation keys:
//
//   - syntax.condition: the expr condition.
//   - syntax.for_each_axis: evaluate per cell along the named axis of the
//     first value concept, producing a truth mask for filter injection.
type Judgement struct {
	evaluator *ConditionEvaluator
}

// NewJudgement creates a judgement sequence with its own expression cache.
func NewJudgement() *Judgement {
	return &Judgement{evaluator: NewConditionEvaluator()}
}

// Execute implements orchestrator.Sequence.
func (j *Judgement) Execute(ctx context.Context, frame *orchestrator.Frame) (*orchestrator.States, error) {
	syntax := frame.Entry.Syntax()
	condition, _ := syntax["condition"].(string)
	forEachAxis, _ := syntax["for_each_axis"].(string)

	if forEachAxis != "" {
		return j.executeForEach(frame, condition, forEachAxis)
	}

	met, err := j.evaluator.Evaluate(condition, conditionEnv(frame))
	if err != nil {
		if frame.DevMode {
			return nil, err
		}
		// The verdict is unknowable: publish a skip cell and no signal.
		frame.Logger.Warn().Err(err).Msg("judgement condition failed, publishing skip marker")
		return &orchestrator.States{
			Inference: []orchestrator.Record{
				{StepName: orchestrator.StepOR, Reference: domain.SkipFilled(nil, []string{"judgement"})},
			},
		}, nil
	}

	verdict, err := domain.NewReference([]any{met}, []string{"judgement"}, frame.DevMode)
	if err != nil {
		return nil, err
	}
	frame.Logger.Debug().Bool("condition_met", met).Msg("judgement evaluated")
	return &orchestrator.States{
		ConditionMet: &met,
		Inference: []orchestrator.Record{
			{StepName: orchestrator.StepOR, Reference: verdict},
		},
	}, nil
}

// executeForEach evaluates the condition once per cell of the first
// value concept along the filter axis. The mask is published both as the
// OR result and as a TIA record for truth-mask storage; the aggregate
// verdict is "any cell true". Cells whose evaluation fails become Skip
// with dev mode off.
func (j *Judgement) executeForEach(frame *orchestrator.Frame, condition, axis string) (*orchestrator.States, error) {
	subject := j.forEachSubject(frame)
	if subject == nil {
		if frame.DevMode {
			return nil, domain.NewDomainError(domain.ErrCodeInvalidState,
				"for-each judgement requires a value concept with a reference", nil)
		}
		frame.Logger.Warn().Msg("for-each judgement has no subject, publishing skip mask")
		mask := domain.SkipFilled(nil, []string{axis})
		return &orchestrator.States{
			PrimaryFilterAxis: axis,
			Inference: []orchestrator.Record{
				{StepName: orchestrator.StepOR, Reference: mask},
				{StepName: orchestrator.StepTIA, Reference: mask.Copy()},
			},
		}, nil
	}

	cells := subject.Concept.Reference.Flatten(false)
	mask := make([]any, len(cells))
	anyTrue := false
	name := subject.Concept.AxisOrName()
	for i, cell := range cells {
		if domain.IsSkip(cell) {
			mask[i] = domain.Skip
			continue
		}
		vars := conditionEnv(frame)
		vars[name] = cell
		vars["cell"] = cell
		met, err := j.evaluator.Evaluate(condition, vars)
		if err != nil {
			if frame.DevMode {
				return nil, err
			}
			mask[i] = domain.Skip
			continue
		}
		mask[i] = met
		if met {
			anyTrue = true
		}
	}

	maskRef, err := domain.NewReference(mask, []string{axis}, frame.DevMode)
	if err != nil {
		return nil, err
	}
	frame.Logger.Debug().Str("filter_axis", axis).Bool("any_true", anyTrue).Msg("for-each judgement evaluated")
	return &orchestrator.States{
		ConditionMet:      &anyTrue,
		PrimaryFilterAxis: axis,
		Inference: []orchestrator.Record{
			{StepName: orchestrator.StepOR, Reference: maskRef},
			{StepName: orchestrator.StepTIA, Reference: maskRef.Copy()},
		},
	}, nil
}

func (j *Judgement) forEachSubject(frame *orchestrator.Frame) *domain.ConceptEntry {
	if len(frame.Entry.ValueConcepts) == 0 {
		return nil
	}
	subject := frame.Entry.ValueConcepts[0]
	if !subject.Concept.HasReference() {
		return nil
	}
	return subject
}
