package sequence

import (
	"context"

	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// Timing gates a branch of the flow tree. Interpretation keys:
//
//   - syntax.after: a concept name the gate waits on; until it is
//     complete the gate is not ready and retries next cycle.
//   - syntax.condition: an expr condition over concept completion states
//     and cell values.
//   - syntax.negate: inverts the condition (the "@if!" form).
//
// When the condition comes out false, the gate completes and propagates a
// skip to its flow-index ancestors.
type Timing struct {
	evaluator *ConditionEvaluator
}

// NewTiming creates a timing sequence with its own expression cache.
func NewTiming() *Timing {
	return &Timing{evaluator: NewConditionEvaluator()}
}

// Execute implements orchestrator.Sequence.
func (t *Timing) Execute(ctx context.Context, frame *orchestrator.Frame) (*orchestrator.States, error) {
	syntax := frame.Entry.Syntax()

	notReady := false
	if after, _ := syntax["after"].(string); after != "" {
		if !frame.Blackboard.ConceptComplete(after) {
			notReady = true
		}
	}
	if notReady {
		ready := false
		return &orchestrator.States{TimingReady: &ready}, nil
	}

	met := true
	if condition, _ := syntax["condition"].(string); condition != "" {
		vars := conditionEnv(frame)
		result, err := t.evaluator.Evaluate(condition, vars)
		if err != nil {
			if frame.DevMode {
				return nil, err
			}
			// The gate is undecidable: degrade to skipping the guarded
			// branch, bypassing negate.
			frame.Logger.Warn().Err(err).Msg("timing condition failed, skipping guarded branch")
			ready := true
			return &orchestrator.States{TimingReady: &ready, ToBeSkipped: true}, nil
		}
		met = result
	}
	if negate, _ := syntax["negate"].(bool); negate {
		met = !met
	}

	ready := true
	frame.Logger.Debug().Bool("condition_met", met).Msg("timing gate evaluated")
	return &orchestrator.States{
		TimingReady: &ready,
		ToBeSkipped: !met,
	}, nil
}

// conditionEnv assembles the expression variables: workspace entries,
// per-concept completion booleans under "complete", and single-cell
// values of the inference's value concepts by concept name.
func conditionEnv(frame *orchestrator.Frame) map[string]any {
	vars := make(map[string]any)
	for k, v := range frame.Workspace {
		vars[k] = v
	}

	complete := make(map[string]any)
	for _, entry := range frame.Concepts.All() {
		complete[entry.Name()] = frame.Blackboard.ConceptComplete(entry.Name())
	}
	vars["complete"] = complete

	for _, vc := range frame.Entry.ValueConcepts {
		if !vc.Concept.HasReference() {
			continue
		}
		cells := vc.Concept.Reference.Flatten(true)
		if len(cells) == 1 {
			vars[vc.Concept.AxisOrName()] = cells[0]
		} else {
			vars[vc.Concept.AxisOrName()] = cells
		}
	}
	return vars
}
