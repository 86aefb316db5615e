package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoguansin/ncflow/internal/domain"
	errs "github.com/geoguansin/ncflow/internal/domain/errors"
)

// --- test fixtures ---------------------------------------------------------

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LogOutput = io.Discard
	cfg.LogLevel = "error"
	return cfg
}

func groundConcept(name string, data any, axes []string) *domain.ConceptEntry {
	ref, err := domain.NewReference(data, axes, true)
	if err != nil {
		panic(err)
	}
	return &domain.ConceptEntry{
		Concept:  domain.Concept{Name: name, Type: "{}", Reference: ref},
		IsGround: true,
	}
}

func plainConcept(name string) *domain.ConceptEntry {
	return &domain.ConceptEntry{Concept: domain.Concept{Name: name, Type: "{}"}}
}

// seqFunc adapts a function to the Sequence interface.
type seqFunc func(ctx context.Context, frame *Frame) (*States, error)

func (f seqFunc) Execute(ctx context.Context, frame *Frame) (*States, error) {
	return f(ctx, frame)
}

// copyFirstValue is a minimal assigning stand-in: it publishes the first
// value concept's reference as the OR result.
func copyFirstValue(ctx context.Context, frame *Frame) (*States, error) {
	source := frame.Entry.ValueConcepts[0]
	if !source.Concept.HasReference() {
		return nil, errors.New("source has no reference")
	}
	return &States{
		Inference: []Record{{StepName: StepOR, Reference: source.Concept.Reference.Copy()}},
	}, nil
}

func newRepos(t *testing.T, concepts []*domain.ConceptEntry, inferences []*domain.InferenceEntry) (*domain.ConceptRepo, *domain.InferenceRepo) {
	t.Helper()
	conceptRepo, err := domain.NewConceptRepo(concepts)
	require.NoError(t, err)
	inferenceRepo, err := domain.NewInferenceRepo(inferences)
	require.NoError(t, err)
	return conceptRepo, inferenceRepo
}

// --- S1: single assigning --------------------------------------------------

func TestRun_SingleAssigning(t *testing.T) {
	a := groundConcept("A", []any{1, 2, 3}, []string{"x"})
	b := plainConcept("B")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{a, b},
		[]*domain.InferenceEntry{{
			Sequence:       domain.SequenceAssigning,
			FlowIndex:      "1",
			ConceptToInfer: b,
			ValueConcepts:  []*domain.ConceptEntry{a},
		}},
	)

	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceAssigning, seqFunc(copyFirstValue))

	b.IsFinal = true
	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)

	finals, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, finals, 1)
	require.True(t, finals[0].Concept.HasReference())
	assert.Equal(t, []any{1, 2, 3}, finals[0].Concept.Reference.Flatten(false))
	assert.Equal(t, []string{"x"}, finals[0].Concept.Reference.Axes())

	assert.Equal(t, 1, orch.Tracker().CycleCount)
	assert.Equal(t, 1, orch.Tracker().TotalExecutions)
	assert.Equal(t, domain.ItemCompleted, orch.Blackboard().ItemStatus("1"))
	assert.Equal(t, domain.ConceptComplete, orch.Blackboard().ConceptStatus("B"))
}

// --- readiness -------------------------------------------------------------

func TestRun_WaitsForValueConcepts(t *testing.T) {
	a := plainConcept("A")
	b := plainConcept("B")
	c := plainConcept("C")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{a, b, c},
		[]*domain.InferenceEntry{
			{Sequence: domain.SequenceAssigning, FlowIndex: "1", ConceptToInfer: c, ValueConcepts: []*domain.ConceptEntry{b}},
			{Sequence: domain.SequenceImperative, FlowIndex: "1.1", ConceptToInfer: b, StartWithoutValue: true},
		},
	)

	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceAssigning, seqFunc(copyFirstValue))
	registry.Register(domain.SequenceImperative, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		ref, err := domain.NewReference([]any{"made"}, []string{"v"}, true)
		if err != nil {
			return nil, err
		}
		return &States{Inference: []Record{{StepName: StepOR, Reference: ref}}}, nil
	}))

	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ItemCompleted, orch.Blackboard().ItemStatus("1"))
	assert.Equal(t, domain.ItemCompleted, orch.Blackboard().ItemStatus("1.1"))
	assert.True(t, orch.Blackboard().ConceptComplete("C"))
	// The parent waited for its supporter: 1.1 completed before 1.
	require.Len(t, orch.Tracker().CompletionOrder, 2)
	assert.Equal(t, domain.FlowIndex("1.1"), orch.Tracker().CompletionOrder[0])
}

func TestRun_AssigningMultiSourceReadiness(t *testing.T) {
	ifBranch := plainConcept("if_branch")
	elseBranch := groundConcept("else_branch", []any{"fallback"}, []string{"v"})
	merged := plainConcept("merged")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{ifBranch, elseBranch, merged},
		[]*domain.InferenceEntry{{
			Sequence:       domain.SequenceAssigning,
			FlowIndex:      "1",
			ConceptToInfer: merged,
			ValueConcepts:  []*domain.ConceptEntry{ifBranch, elseBranch},
			WorkingInterpretation: map[string]any{
				"syntax": map[string]any{"assign_source": []any{"if_branch", "else_branch"}},
			},
		}},
	)

	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceAssigning, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		// Publish whichever source is complete.
		for _, vc := range frame.Entry.ValueConcepts {
			if vc.Concept.HasReference() {
				return &States{Inference: []Record{{StepName: StepOR, Reference: vc.Concept.Reference.Copy()}}}, nil
			}
		}
		return nil, errors.New("no source ready")
	}))

	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	// One complete source suffices even though if_branch never fired.
	assert.True(t, orch.Blackboard().ConceptComplete("merged"))
	assert.Equal(t, []any{"fallback"}, orch.Concepts().Get("merged").Concept.Reference.Flatten(false))
}

func TestIsReady_FlagBypasses(t *testing.T) {
	value := plainConcept("value")
	fn := plainConcept("fn")
	target := plainConcept("target")
	support := plainConcept("support")

	entry := &domain.InferenceEntry{
		Sequence:        domain.SequenceImperative,
		FlowIndex:       "1",
		ConceptToInfer:  target,
		FunctionConcept: fn,
		ValueConcepts:   []*domain.ConceptEntry{value},
	}
	supportEntry := &domain.InferenceEntry{
		Sequence:       domain.SequenceImperative,
		FlowIndex:      "1.1",
		ConceptToInfer: support,
		StartWithoutValue: true,
		StartWithoutFunction: true,
	}
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{value, fn, target, support},
		[]*domain.InferenceEntry{entry, supportEntry},
	)

	orch, err := New(concepts, inferences, NewSequenceRegistry(), testConfig())
	require.NoError(t, err)
	item := orch.Waitlist().ByFlow("1")

	// Nothing complete: not ready.
	assert.False(t, orch.isReady(item))

	// Support bypass alone is not enough, function + value still gate.
	entry.StartWithSupportReferenceOnly = true
	assert.False(t, orch.isReady(item))

	entry.StartWithoutFunction = true
	assert.False(t, orch.isReady(item))

	entry.StartWithoutValue = true
	assert.True(t, orch.isReady(item))

	// Only-once variants apply solely to the first execution.
	entry.StartWithSupportReferenceOnly = false
	entry.StartWithoutFunction = false
	entry.StartWithoutValue = false
	entry.StartWithoutSupportReferenceOnlyOnce = true
	entry.StartWithoutFunctionOnlyOnce = true
	entry.StartWithoutValueOnlyOnce = true
	assert.True(t, orch.isReady(item))

	orch.Blackboard().IncrementExecutionCount("1")
	assert.False(t, orch.isReady(item))
}

// --- S3: timing gate skipping ----------------------------------------------

func TestRun_TimingSkipPropagatesToAncestors(t *testing.T) {
	gate := plainConcept("gate")
	mid := plainConcept("mid")
	top := plainConcept("top")
	sibling := plainConcept("sibling")

	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{gate, mid, top, sibling},
		[]*domain.InferenceEntry{
			{Sequence: domain.SequenceAssigning, FlowIndex: "1", ConceptToInfer: top,
				ValueConcepts: []*domain.ConceptEntry{mid}},
			{Sequence: domain.SequenceAssigning, FlowIndex: "1.2", ConceptToInfer: mid,
				ValueConcepts: []*domain.ConceptEntry{gate}},
			{Sequence: domain.SequenceTiming, FlowIndex: "1.2.1", ConceptToInfer: gate,
				StartWithoutValue: true, StartWithoutFunction: true},
			{Sequence: domain.SequenceImperative, FlowIndex: "2", ConceptToInfer: sibling,
				StartWithoutValue: true, StartWithoutFunction: true},
		},
	)

	ready := true
	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceTiming, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		return &States{TimingReady: &ready, ToBeSkipped: true}, nil
	}))
	assignCalls := 0
	registry.Register(domain.SequenceAssigning, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		assignCalls++
		return copyFirstValue(ctx, frame)
	}))
	registry.Register(domain.SequenceImperative, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		ref, _ := domain.NewReference([]any{"ok"}, []string{"v"}, true)
		return &States{Inference: []Record{{StepName: StepOR, Reference: ref}}}, nil
	}))

	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	bb := orch.Blackboard()
	assert.Equal(t, domain.ItemCompleted, bb.ItemStatus("1.2.1"))
	assert.Equal(t, domain.DetailNone, bb.CompletionDetail("1.2.1"))

	// Exactly the flow-index ancestors are completed+skipped.
	assert.Equal(t, domain.ItemCompleted, bb.ItemStatus("1.2"))
	assert.Equal(t, domain.DetailSkipped, bb.CompletionDetail("1.2"))
	assert.Equal(t, domain.ItemCompleted, bb.ItemStatus("1"))
	assert.Equal(t, domain.DetailSkipped, bb.CompletionDetail("1"))
	assert.Equal(t, domain.DetailNone, bb.CompletionDetail("2"))

	// Skipped items never ran their sequences.
	assert.Zero(t, assignCalls)
	assert.True(t, bb.ConceptComplete("gate"))
	assert.True(t, bb.ConceptComplete("mid"))
	assert.True(t, bb.ConceptComplete("top"))
	assert.Equal(t, 2, orch.Tracker().SkippedExecutions)
}

func TestRun_TimingNotReadyRetries(t *testing.T) {
	gate := plainConcept("gate")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{gate},
		[]*domain.InferenceEntry{{
			Sequence: domain.SequenceTiming, FlowIndex: "1", ConceptToInfer: gate,
			StartWithoutValue: true, StartWithoutFunction: true,
		}},
	)

	calls := 0
	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceTiming, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		calls++
		ready := calls >= 3
		return &States{TimingReady: &ready}, nil
	}))

	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, orch.Blackboard().ExecutionCount("1"))
	assert.Equal(t, 2, orch.Tracker().RetryCount)
	assert.Equal(t, domain.ItemCompleted, orch.Blackboard().ItemStatus("1"))
}

// --- S2/S4: quantifying loop with iteration reset ---------------------------

// buildLoopFixture wires a quantifying parent "1" over supporter "1.1"
// producing one digit per pass, plus an invariant supporter "1.2".
func buildLoopFixture(t *testing.T) (*Orchestrator, *int) {
	number := groundConcept("number", []any{"123"}, []string{"value"})
	digit := plainConcept("digit")
	digits := plainConcept("digits")
	digits.IsFinal = true
	invariant := groundConcept("lookup", []any{"static"}, []string{"v"})
	invariant.IsGround = false
	invariant.IsInvariant = true

	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{number, digit, digits, invariant},
		[]*domain.InferenceEntry{
			{
				Sequence: domain.SequenceQuantifying, FlowIndex: "1", ConceptToInfer: digits,
				ValueConcepts: []*domain.ConceptEntry{digit},
				WorkingInterpretation: map[string]any{
					"syntax": map[string]any{"quantifier_index": "1", "LoopBaseConcept": "digit"},
				},
			},
			{
				Sequence: domain.SequenceImperative, FlowIndex: "1.1", ConceptToInfer: digit,
				ValueConcepts: []*domain.ConceptEntry{number},
			},
			{
				Sequence: domain.SequenceImperative, FlowIndex: "1.2", ConceptToInfer: invariant,
				StartWithoutValue: true,
			},
		},
	)

	imperativeCalls := 0
	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceImperative, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		if frame.Entry.FlowIndex == "1.2" {
			// The invariant supporter produces once; afterwards its value
			// must survive resets untouched.
			ref, _ := domain.NewReference([]any{"static"}, []string{"v"}, true)
			return &States{Inference: []Record{{StepName: StepOR, Reference: ref}}}, nil
		}
		imperativeCalls++
		iteration, _ := frame.Workspace["iteration"].(int)
		numberStr := frame.Concepts.Get("number").Concept.Reference.Flatten(false)[0].(string)
		ref, err := domain.NewReference([]any{string(numberStr[iteration])}, []string{"digit"}, true)
		if err != nil {
			return nil, err
		}
		return &States{Inference: []Record{{StepName: StepOR, Reference: ref}}}, nil
	}))
	registry.Register(domain.SequenceQuantifying, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		iteration, _ := frame.Workspace["iteration"].(int)
		acc, _ := frame.Workspace["1_digit"].([]any)
		acc = append(acc, frame.Concepts.Get("digit").Concept.Reference.Flatten(false)[0])
		frame.Workspace["1_digit"] = acc
		iteration++
		frame.Workspace["iteration"] = iteration

		if iteration < 3 {
			return &States{Syntax: StatesSyntax{CompletionStatus: false}}, nil
		}
		ref, err := domain.NewReference(append([]any(nil), acc...), []string{"digit"}, true)
		if err != nil {
			return nil, err
		}
		return &States{
			Syntax:    StatesSyntax{CompletionStatus: true},
			Inference: []Record{{StepName: StepOR, Reference: ref}},
		}, nil
	}))

	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)
	return orch, &imperativeCalls
}

func TestRun_QuantifyingLoopIterates(t *testing.T) {
	orch, imperativeCalls := buildLoopFixture(t)

	finals, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, finals, 1)
	require.True(t, finals[0].Concept.HasReference())
	assert.Equal(t, []any{"1", "2", "3"}, finals[0].Concept.Reference.Flatten(false))

	// The inner imperative ran once per loop pass.
	assert.Equal(t, 3, *imperativeCalls)
	assert.Equal(t, domain.ItemCompleted, orch.Blackboard().ItemStatus("1"))
	assert.Equal(t, domain.ConceptComplete, orch.Blackboard().ConceptStatus("digits"))
}

func TestIterationReset_InvariantConceptPreserved(t *testing.T) {
	orch, _ := buildLoopFixture(t)
	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	// The invariant supporter kept its reference and complete status
	// across both resets.
	lookup := orch.Concepts().Get("lookup")
	require.True(t, lookup.Concept.HasReference())
	assert.Equal(t, []any{"static"}, lookup.Concept.Reference.Flatten(false))
	assert.True(t, orch.Blackboard().ConceptComplete("lookup"))
}

func TestIterationReset_ClearsNonInvariantSupporters(t *testing.T) {
	orch, _ := buildLoopFixture(t)

	// Drive the loop by hand: first pass of 1.1, 1.2 then the parent.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ran, err := orch.Step(ctx)
		require.NoError(t, err)
		require.True(t, ran)
	}

	bb := orch.Blackboard()
	// Parent returned incomplete: supporters were reset.
	assert.Equal(t, domain.ItemPending, bb.ItemStatus("1.1"))
	assert.Equal(t, 0, bb.ExecutionCount("1.1"))
	assert.Equal(t, domain.ConceptPending, bb.ConceptStatus("digit"))
	assert.False(t, orch.Concepts().Get("digit").Concept.HasReference())

	// The parent itself stays pending for the next pass.
	assert.Equal(t, domain.ItemPending, bb.ItemStatus("1"))
	// The invariant peer was left alone.
	assert.True(t, bb.ConceptComplete("lookup"))
	assert.True(t, orch.Concepts().Get("lookup").Concept.HasReference())
}

// --- judgement -------------------------------------------------------------

func TestRun_JudgementConditionNotMetStillCompletes(t *testing.T) {
	subject := groundConcept("subject", []any{5}, []string{"v"})
	verdict := plainConcept("verdict")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{subject, verdict},
		[]*domain.InferenceEntry{{
			Sequence: domain.SequenceJudgement, FlowIndex: "1", ConceptToInfer: verdict,
			ValueConcepts: []*domain.ConceptEntry{subject},
		}},
	)

	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceJudgement, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		met := false
		ref, _ := domain.NewReference([]any{false}, []string{"judgement"}, true)
		return &States{
			ConditionMet: &met,
			Inference:    []Record{{StepName: StepOR, Reference: ref}},
		}, nil
	}))

	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	bb := orch.Blackboard()
	assert.Equal(t, domain.ItemCompleted, bb.ItemStatus("1"))
	assert.Equal(t, domain.DetailConditionNotMet, bb.CompletionDetail("1"))
	// The reference is still installed and the concept complete.
	assert.True(t, bb.ConceptComplete("verdict"))
	assert.True(t, orch.Concepts().Get("verdict").Concept.HasReference())
}

func TestRun_JudgementStoresTruthMask(t *testing.T) {
	subject := groundConcept("subject", []any{1, 2, 3}, []string{"item"})
	verdict := plainConcept("verdict")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{subject, verdict},
		[]*domain.InferenceEntry{{
			Sequence: domain.SequenceJudgement, FlowIndex: "1", ConceptToInfer: verdict,
			ValueConcepts: []*domain.ConceptEntry{subject},
		}},
	)

	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceJudgement, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		met := true
		mask, _ := domain.NewReference([]any{true, false, true}, []string{"item"}, true)
		return &States{
			ConditionMet:      &met,
			PrimaryFilterAxis: "item",
			Inference: []Record{
				{StepName: StepOR, Reference: mask},
				{StepName: StepTIA, Reference: mask.Copy()},
			},
		}, nil
	}))

	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	mask := orch.Blackboard().TruthMask("verdict")
	require.NotNil(t, mask)
	assert.Equal(t, "item", mask.FilterAxis)
	assert.Equal(t, []int{3}, mask.Shape)
	assert.Equal(t, []any{true, false, true}, mask.Tensor)
}

// --- failures and termination ----------------------------------------------

func TestRun_SequenceFailureRecordedAndRunContinues(t *testing.T) {
	broken := plainConcept("broken")
	fine := plainConcept("fine")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{broken, fine},
		[]*domain.InferenceEntry{
			{Sequence: domain.SequenceImperative, FlowIndex: "1", ConceptToInfer: broken,
				StartWithoutValue: true, StartWithoutFunction: true},
			{Sequence: domain.SequenceAssigning, FlowIndex: "2", ConceptToInfer: fine,
				StartWithoutValue: true, StartWithoutFunction: true},
		},
	)

	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceImperative, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		return nil, fmt.Errorf("tool exploded")
	}))
	registry.Register(domain.SequenceAssigning, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		ref, _ := domain.NewReference([]any{"ok"}, []string{"v"}, true)
		return &States{Inference: []Record{{StepName: StepOR, Reference: ref}}}, nil
	}))

	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	bb := orch.Blackboard()
	assert.Equal(t, domain.ItemFailed, bb.ItemStatus("1"))
	assert.Contains(t, bb.ItemResult("1"), "tool exploded")
	assert.False(t, bb.ConceptComplete("broken"))
	// The healthy sibling still completed.
	assert.Equal(t, domain.ItemCompleted, bb.ItemStatus("2"))
	assert.Equal(t, 1, orch.Tracker().FailedExecutions)
	assert.Equal(t, 1, orch.Tracker().SuccessfulExecutions)
}

func TestRun_DeadlockDetected(t *testing.T) {
	never := plainConcept("never")
	stuck := plainConcept("stuck")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{never, stuck},
		[]*domain.InferenceEntry{{
			Sequence: domain.SequenceAssigning, FlowIndex: "1", ConceptToInfer: stuck,
			ValueConcepts: []*domain.ConceptEntry{never},
		}},
	)

	orch, err := New(concepts, inferences, NewSequenceRegistry(), testConfig())
	require.NoError(t, err)
	finals, err := orch.Run(context.Background())
	assert.ErrorIs(t, err, errs.ErrDeadlock)
	assert.Empty(t, finals)
	assert.Equal(t, []domain.FlowIndex{"1"}, orch.StuckItems())
}

func TestRun_CycleCapReached(t *testing.T) {
	gate := plainConcept("gate")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{gate},
		[]*domain.InferenceEntry{{
			Sequence: domain.SequenceTiming, FlowIndex: "1", ConceptToInfer: gate,
			StartWithoutValue: true, StartWithoutFunction: true,
		}},
	)

	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceTiming, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		ready := false
		return &States{TimingReady: &ready}, nil
	}))

	cfg := testConfig()
	cfg.MaxCycles = 4
	orch, err := New(concepts, inferences, registry, cfg)
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	assert.ErrorIs(t, err, errs.ErrCycleCapReached)
	assert.Equal(t, 4, orch.Tracker().CycleCount)
}

func TestRun_UserInteractionPropagatesAndItemReverts(t *testing.T) {
	pending := plainConcept("pending")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{pending},
		[]*domain.InferenceEntry{{
			Sequence: domain.SequenceImperativeInput, FlowIndex: "1", ConceptToInfer: pending,
			StartWithoutValue: true, StartWithoutFunction: true,
		}},
	)

	asked := false
	registry := NewSequenceRegistry()
	registry.Register(domain.SequenceImperativeInput, seqFunc(func(ctx context.Context, frame *Frame) (*States, error) {
		if !asked {
			asked = true
			return nil, &errs.NeedsUserInteraction{FlowIndex: "1", Prompt: "name?"}
		}
		ref, _ := domain.NewReference([]any{"answer"}, []string{"v"}, true)
		return &States{Inference: []Record{{StepName: StepOR, Reference: ref}}}, nil
	}))

	orch, err := New(concepts, inferences, registry, testConfig())
	require.NoError(t, err)

	_, err = orch.Run(context.Background())
	require.True(t, errs.IsNeedsUserInteraction(err))
	assert.Equal(t, domain.ItemPending, orch.Blackboard().ItemStatus("1"))

	// After the host supplies input, re-running finishes the item.
	_, err = orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ItemCompleted, orch.Blackboard().ItemStatus("1"))
	assert.Equal(t, 2, orch.Blackboard().ExecutionCount("1"))
}

func TestRun_UnregisteredSequenceFails(t *testing.T) {
	c := plainConcept("c")
	concepts, inferences := newRepos(t,
		[]*domain.ConceptEntry{c},
		[]*domain.InferenceEntry{{
			Sequence: domain.SequenceGrouping, FlowIndex: "1", ConceptToInfer: c,
			StartWithoutValue: true, StartWithoutFunction: true,
		}},
	)

	orch, err := New(concepts, inferences, NewSequenceRegistry(), testConfig())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ItemFailed, orch.Blackboard().ItemStatus("1"))
	assert.Contains(t, orch.Blackboard().ItemResult("1"), "no sequence registered")
}
