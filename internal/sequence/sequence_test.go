package sequence

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoguansin/ncflow/internal/domain"
	logpkg "github.com/geoguansin/ncflow/internal/infrastructure/logger"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

func entryWith(name string, data any, axes []string, ground bool) *domain.ConceptEntry {
	entry := &domain.ConceptEntry{Concept: domain.Concept{Name: name, Type: "{}"}, IsGround: ground}
	if data != nil {
		ref, err := domain.NewReference(data, axes, true)
		if err != nil {
			panic(err)
		}
		entry.Concept.Reference = ref
	}
	return entry
}

func newFrame(t *testing.T, entry *domain.InferenceEntry, concepts []*domain.ConceptEntry) *orchestrator.Frame {
	t.Helper()
	repo, err := domain.NewConceptRepo(concepts)
	require.NoError(t, err)
	bb := orchestrator.NewBlackboard()
	for _, c := range concepts {
		if c.Concept.HasReference() {
			bb.SetConceptStatus(c.Name(), domain.ConceptComplete)
		}
	}
	return &orchestrator.Frame{
		Entry:      entry,
		Blackboard: bb,
		Workspace:  map[string]any{},
		Concepts:   repo,
		Logger:     logpkg.Setup("error", io.Discard),
	}
}

func TestAssigning_CopiesSingleSource(t *testing.T) {
	source := entryWith("src", []any{1, 2}, []string{"x"}, true)
	target := entryWith("dst", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceAssigning, FlowIndex: "1",
		ConceptToInfer: target, ValueConcepts: []*domain.ConceptEntry{source},
	}, []*domain.ConceptEntry{source, target})

	states, err := Assigning{}.Execute(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, states.Inference, 1)
	assert.Equal(t, orchestrator.StepOR, states.Inference[0].StepName)
	assert.Equal(t, []any{1, 2}, states.Inference[0].Reference.Flatten(false))

	// The record carries a copy, not the source's own reference.
	require.NoError(t, states.Inference[0].Reference.Set(map[string]int{"x": 0}, 99, true))
	v, err := source.Concept.Reference.At(map[string]int{"x": 0}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestAssigning_MultiSourcePicksCompleteBranch(t *testing.T) {
	ifBranch := entryWith("if_branch", nil, nil, false)
	elseBranch := entryWith("else_branch", []any{"fallback"}, []string{"v"}, true)
	target := entryWith("dst", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceAssigning, FlowIndex: "1",
		ConceptToInfer: target,
		ValueConcepts:  []*domain.ConceptEntry{ifBranch, elseBranch},
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"assign_source": []any{"if_branch", "else_branch"}},
		},
	}, []*domain.ConceptEntry{ifBranch, elseBranch, target})

	states, err := Assigning{}.Execute(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, []any{"fallback"}, states.Inference[0].Reference.Flatten(false))
}

func TestAssigning_NoSourceFailsInDevMode(t *testing.T) {
	empty := entryWith("empty", nil, nil, false)
	target := entryWith("dst", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceAssigning, FlowIndex: "1",
		ConceptToInfer: target, ValueConcepts: []*domain.ConceptEntry{empty},
	}, []*domain.ConceptEntry{empty, target})
	frame.DevMode = true

	_, err := Assigning{}.Execute(context.Background(), frame)
	assert.Error(t, err)
}

func TestAssigning_NoSourceDegradesToSkip(t *testing.T) {
	empty := entryWith("empty", nil, nil, false)
	target := entryWith("dst", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceAssigning, FlowIndex: "1",
		ConceptToInfer: target, ValueConcepts: []*domain.ConceptEntry{empty},
	}, []*domain.ConceptEntry{empty, target})

	// Dev mode off: the failure becomes a skip-filled result.
	states, err := Assigning{}.Execute(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, states.Inference, 1)
	for _, v := range states.Inference[0].Reference.Flatten(false) {
		assert.True(t, domain.IsSkip(v))
	}
}

func TestTiming_WaitsForAfterConcept(t *testing.T) {
	watched := entryWith("watched", nil, nil, false)
	gate := entryWith("gate", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceTiming, FlowIndex: "1",
		ConceptToInfer: gate,
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"after": "watched"},
		},
	}, []*domain.ConceptEntry{watched, gate})

	states, err := NewTiming().Execute(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, states.TimingReady)
	assert.False(t, *states.TimingReady)

	frame.Blackboard.SetConceptStatus("watched", domain.ConceptComplete)
	states, err = NewTiming().Execute(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, states.TimingReady)
	assert.True(t, *states.TimingReady)
	assert.False(t, states.ToBeSkipped)
}

func TestTiming_ConditionFalseSkips(t *testing.T) {
	flag := entryWith("flag", []any{5}, []string{"flag"}, true)
	flag.Concept.AxisName = "flag"
	gate := entryWith("gate", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceTiming, FlowIndex: "1",
		ConceptToInfer: gate,
		ValueConcepts:  []*domain.ConceptEntry{flag},
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"condition": "flag > 10"},
		},
	}, []*domain.ConceptEntry{flag, gate})

	states, err := NewTiming().Execute(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, states.TimingReady)
	assert.True(t, *states.TimingReady)
	assert.True(t, states.ToBeSkipped)
}

func TestTiming_NegateInvertsCondition(t *testing.T) {
	flag := entryWith("flag", []any{5}, []string{"flag"}, true)
	flag.Concept.AxisName = "flag"
	gate := entryWith("gate", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceTiming, FlowIndex: "1",
		ConceptToInfer: gate,
		ValueConcepts:  []*domain.ConceptEntry{flag},
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"condition": "flag > 10", "negate": true},
		},
	}, []*domain.ConceptEntry{flag, gate})

	states, err := NewTiming().Execute(context.Background(), frame)
	require.NoError(t, err)
	assert.False(t, states.ToBeSkipped)
}

func TestTiming_CompletionStateCondition(t *testing.T) {
	other := entryWith("other", []any{1}, []string{"v"}, true)
	gate := entryWith("gate", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceTiming, FlowIndex: "1",
		ConceptToInfer: gate,
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"condition": `complete["other"]`},
		},
	}, []*domain.ConceptEntry{other, gate})

	states, err := NewTiming().Execute(context.Background(), frame)
	require.NoError(t, err)
	assert.False(t, states.ToBeSkipped)
}

func TestJudgement_SimpleVerdict(t *testing.T) {
	subject := entryWith("subject", []any{42}, []string{"subject"}, true)
	subject.Concept.AxisName = "subject"
	verdict := entryWith("verdict", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceJudgement, FlowIndex: "1",
		ConceptToInfer: verdict,
		ValueConcepts:  []*domain.ConceptEntry{subject},
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"condition": "subject == 42"},
		},
	}, []*domain.ConceptEntry{subject, verdict})

	states, err := NewJudgement().Execute(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, states.ConditionMet)
	assert.True(t, *states.ConditionMet)
	require.Len(t, states.Inference, 1)
	assert.Equal(t, []any{true}, states.Inference[0].Reference.Flatten(false))
}

func TestJudgement_ForEachProducesMask(t *testing.T) {
	items := entryWith("items", []any{1, 20, 3}, []string{"item"}, true)
	items.Concept.AxisName = "items"
	verdict := entryWith("verdict", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceJudgement, FlowIndex: "1",
		ConceptToInfer: verdict,
		ValueConcepts:  []*domain.ConceptEntry{items},
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"condition": "cell > 10", "for_each_axis": "item"},
		},
	}, []*domain.ConceptEntry{items, verdict})

	states, err := NewJudgement().Execute(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, states.ConditionMet)
	assert.True(t, *states.ConditionMet)
	assert.Equal(t, "item", states.PrimaryFilterAxis)

	mask := states.GetReference("inference", orchestrator.StepOR)
	require.NotNil(t, mask)
	assert.Equal(t, []any{false, true, false}, mask.Flatten(false))
	tia := states.GetReference("inference", orchestrator.StepTIA)
	require.NotNil(t, tia)
	assert.Equal(t, []string{"item"}, tia.Axes())
}

func TestJudgement_ForEachSkipCellsStaySkipped(t *testing.T) {
	items := entryWith("items", []any{1, domain.Skip, 30}, []string{"item"}, true)
	verdict := entryWith("verdict", nil, nil, false)
	frame := newFrame(t, &domain.InferenceEntry{
		Sequence: domain.SequenceJudgement, FlowIndex: "1",
		ConceptToInfer: verdict,
		ValueConcepts:  []*domain.ConceptEntry{items},
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"condition": "cell > 10", "for_each_axis": "item"},
		},
	}, []*domain.ConceptEntry{items, verdict})

	states, err := NewJudgement().Execute(context.Background(), frame)
	require.NoError(t, err)
	mask := states.GetReference("inference", orchestrator.StepOR)
	require.NotNil(t, mask)
	cells := mask.Flatten(false)
	assert.Equal(t, false, cells[0])
	assert.True(t, domain.IsSkip(cells[1]))
	assert.Equal(t, true, cells[2])
}

func TestTiming_BadConditionByDevMode(t *testing.T) {
	gate := entryWith("gate", nil, nil, false)
	entry := &domain.InferenceEntry{
		Sequence: domain.SequenceTiming, FlowIndex: "1",
		ConceptToInfer: gate,
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"condition": "1 + 1"},
		},
	}

	frame := newFrame(t, entry, []*domain.ConceptEntry{gate})
	frame.DevMode = true
	_, err := NewTiming().Execute(context.Background(), frame)
	assert.Error(t, err)

	// Dev mode off: the undecidable gate fires and skips its branch.
	frame = newFrame(t, entry, []*domain.ConceptEntry{gate})
	states, err := NewTiming().Execute(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, states.TimingReady)
	assert.True(t, *states.TimingReady)
	assert.True(t, states.ToBeSkipped)
}

func TestJudgement_BadConditionByDevMode(t *testing.T) {
	subject := entryWith("subject", []any{1}, []string{"v"}, true)
	verdict := entryWith("verdict", nil, nil, false)
	entry := &domain.InferenceEntry{
		Sequence: domain.SequenceJudgement, FlowIndex: "1",
		ConceptToInfer: verdict,
		ValueConcepts:  []*domain.ConceptEntry{subject},
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"condition": "1 + 1"},
		},
	}

	frame := newFrame(t, entry, []*domain.ConceptEntry{subject, verdict})
	frame.DevMode = true
	_, err := NewJudgement().Execute(context.Background(), frame)
	assert.Error(t, err)

	// Dev mode off: a skip verdict is published and no signal is set.
	frame = newFrame(t, entry, []*domain.ConceptEntry{subject, verdict})
	states, err := NewJudgement().Execute(context.Background(), frame)
	require.NoError(t, err)
	assert.Nil(t, states.ConditionMet)
	require.Len(t, states.Inference, 1)
	assert.True(t, domain.IsSkip(states.Inference[0].Reference.Flatten(false)[0]))
}

func TestJudgement_ForEachMissingSubjectByDevMode(t *testing.T) {
	verdict := entryWith("verdict", nil, nil, false)
	entry := &domain.InferenceEntry{
		Sequence: domain.SequenceJudgement, FlowIndex: "1",
		ConceptToInfer: verdict,
		WorkingInterpretation: map[string]any{
			"syntax": map[string]any{"condition": "cell > 0", "for_each_axis": "item"},
		},
	}

	frame := newFrame(t, entry, []*domain.ConceptEntry{verdict})
	frame.DevMode = true
	_, err := NewJudgement().Execute(context.Background(), frame)
	assert.Error(t, err)

	frame = newFrame(t, entry, []*domain.ConceptEntry{verdict})
	states, err := NewJudgement().Execute(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, "item", states.PrimaryFilterAxis)
	mask := states.GetReference("inference", orchestrator.StepOR)
	require.NotNil(t, mask)
	for _, v := range mask.Flatten(false) {
		assert.True(t, domain.IsSkip(v))
	}
}

func TestConditionEvaluator(t *testing.T) {
	ce := NewConditionEvaluator()

	ok, err := ce.Evaluate("x > 1 && y == 'a'", map[string]any{"x": 2, "y": "a"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Compiled programs are cached per expression text.
	ok, err = ce.Evaluate("x > 1 && y == 'a'", map[string]any{"x": 0, "y": "a"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ce.Evaluate("", map[string]any{})
	assert.Error(t, err)
	_, err = ce.Evaluate("1 + 1", map[string]any{})
	assert.Error(t, err)
	_, err = ce.Evaluate("x >", map[string]any{})
	assert.Error(t, err)
}

func TestDefaultRegistry(t *testing.T) {
	registry := NewDefaultRegistry()
	assert.NotNil(t, registry.Get(domain.SequenceAssigning))
	assert.NotNil(t, registry.Get(domain.SequenceSimple))
	assert.NotNil(t, registry.Get(domain.SequenceTiming))
	assert.NotNil(t, registry.Get(domain.SequenceJudgement))
	assert.NotNil(t, registry.Get(domain.SequenceJudgementDirect))
	assert.Nil(t, registry.Get(domain.SequenceImperative))
	assert.Nil(t, registry.Get(domain.SequenceQuantifying))
}
