package domain

import (
	"fmt"
	"sort"
)

// InferenceEntry is a declarative rule producing one concept from others
// via a sequence. Readiness flags bypass individual checks of the
// orchestrator's readiness predicate, either always or only on the first
// execution of the item.
type InferenceEntry struct {
	ID             string
	Sequence       SequenceKind
	FlowIndex      FlowIndex
	ConceptToInfer *ConceptEntry
	FunctionConcept *ConceptEntry
	ValueConcepts   []*ConceptEntry
	ContextConcepts []*ConceptEntry

	StartWithoutValue                    bool
	StartWithoutValueOnlyOnce            bool
	StartWithoutFunction                 bool
	StartWithoutFunctionOnlyOnce         bool
	StartWithSupportReferenceOnly        bool
	StartWithoutSupportReferenceOnlyOnce bool

	// WorkingInterpretation is free-form structured configuration consumed
	// by the sequence layer: syntax keys, value ordering, selectors,
	// quantifier indices, loop base names, prompt locations.
	WorkingInterpretation map[string]any
}

// Syntax returns the "syntax" sub-map of the working interpretation, or
// nil when absent.
func (e *InferenceEntry) Syntax() map[string]any {
	if e.WorkingInterpretation == nil {
		return nil
	}
	syntax, _ := e.WorkingInterpretation["syntax"].(map[string]any)
	return syntax
}

// AssignSources returns the multi-source list of an assigning inference
// (syntax.assign_source as a list of concept names), or nil when the
// inference uses a single implicit source.
func (e *InferenceEntry) AssignSources() []string {
	syntax := e.Syntax()
	if syntax == nil {
		return nil
	}
	raw, ok := syntax["assign_source"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	return names
}

// QuantifierWorkspaceKey returns the workspace key an iterating sequence
// stores its loop state under ("{quantifier_index}_{LoopBaseConcept}"),
// or "" when the interpretation carries no quantifier config.
func (e *InferenceEntry) QuantifierWorkspaceKey() string {
	syntax := e.Syntax()
	if syntax == nil {
		return ""
	}
	base, _ := syntax["LoopBaseConcept"].(string)
	idx, ok := syntax["quantifier_index"]
	if base == "" || !ok {
		return ""
	}
	return formatWorkspaceKey(idx, base)
}

func formatWorkspaceKey(idx any, base string) string {
	return fmt.Sprintf("%v_%s", idx, base)
}

// inferenceSignatureFields is the canonical subset hashed into the
// signature.
type inferenceSignatureFields struct {
	Sequence        SequenceKind   `json:"inference_sequence"`
	ConceptToInfer  *string        `json:"concept_to_infer"`
	FunctionConcept *string        `json:"function_concept"`
	ValueConcepts   []string       `json:"value_concepts"`
	ContextConcepts []string       `json:"context_concepts"`
	FlowIndex       FlowIndex      `json:"flow_index"`
	Interpretation  map[string]any `json:"working_interpretation"`
}

// Signature returns a deterministic sha256 hash over the fields that
// define the inference's behavior.
func (e *InferenceEntry) Signature() string {
	fields := inferenceSignatureFields{
		Sequence:        e.Sequence,
		FlowIndex:       e.FlowIndex,
		ValueConcepts:   sortedNames(e.ValueConcepts),
		ContextConcepts: sortedNames(e.ContextConcepts),
		Interpretation:  e.WorkingInterpretation,
	}
	if fields.Interpretation == nil {
		fields.Interpretation = map[string]any{}
	}
	if e.ConceptToInfer != nil {
		name := e.ConceptToInfer.Name()
		fields.ConceptToInfer = &name
	}
	if e.FunctionConcept != nil {
		name := e.FunctionConcept.Name()
		fields.FunctionConcept = &name
	}
	return hashFields(fields)
}

func sortedNames(entries []*ConceptEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names
}
