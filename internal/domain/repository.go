package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ConceptJSON mirrors the on-disk shape of one concept record;
// repository files are JSON arrays of these.
type ConceptJSON struct {
	ID                string      `json:"id,omitempty"`
	ConceptName       string      `json:"concept_name"`
	Type              string      `json:"type"`
	Context           string      `json:"context,omitempty"`
	AxisName          string      `json:"axis_name,omitempty"`
	NaturalName       string      `json:"natural_name,omitempty"`
	Description       string      `json:"description,omitempty"`
	IsGroundConcept   bool        `json:"is_ground_concept,omitempty"`
	IsFinalConcept    bool        `json:"is_final_concept,omitempty"`
	IsInvariant       bool        `json:"is_invariant,omitempty"`
	ReferenceData     any         `json:"reference_data,omitempty"`
	ReferenceAxisNames []string   `json:"reference_axis_names,omitempty"`
	FlowIndices       []FlowIndex `json:"flow_indices,omitempty"`
}

// InferenceJSON mirrors the on-disk shape of one inference record.
// Concept fields are names resolved against an existing ConceptRepo.
type InferenceJSON struct {
	InferenceSequence                    SequenceKind   `json:"inference_sequence"`
	ConceptToInfer                       string         `json:"concept_to_infer"`
	FunctionConcept                      string         `json:"function_concept,omitempty"`
	ValueConcepts                        []string       `json:"value_concepts,omitempty"`
	ContextConcepts                      []string       `json:"context_concepts,omitempty"`
	FlowIndex                            FlowIndex      `json:"flow_index"`
	StartWithoutValue                    bool           `json:"start_without_value,omitempty"`
	StartWithoutValueOnlyOnce            bool           `json:"start_without_value_only_once,omitempty"`
	StartWithoutFunction                 bool           `json:"start_without_function,omitempty"`
	StartWithoutFunctionOnlyOnce         bool           `json:"start_without_function_only_once,omitempty"`
	StartWithSupportReferenceOnly        bool           `json:"start_with_support_reference_only,omitempty"`
	StartWithoutSupportReferenceOnlyOnce bool           `json:"start_without_support_reference_only_once,omitempty"`
	WorkingInterpretation                map[string]any `json:"working_interpretation,omitempty"`
}

// ConceptRepo maps concept names to their entries. It is owned by exactly
// one orchestrator and mutated only from its execution goroutine.
type ConceptRepo struct {
	entries map[string]*ConceptEntry
	order   []string
}

// NewConceptRepo builds a repo from entries, rejecting unnamed and
// duplicate concepts and assigning an ID to entries that lack one. The
// entries' References are kept as given; none are built here.
func NewConceptRepo(entries []*ConceptEntry) (*ConceptRepo, error) {
	repo := &ConceptRepo{entries: make(map[string]*ConceptEntry, len(entries))}
	for _, e := range entries {
		if e.Concept.Name == "" {
			return nil, NewDomainError(ErrCodeInvalidInput, "concept entry without a name", nil)
		}
		if _, dup := repo.entries[e.Concept.Name]; dup {
			return nil, NewDomainError(ErrCodeAlreadyExists,
				fmt.Sprintf("duplicate concept %q", e.Concept.Name), nil)
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		repo.entries[e.Concept.Name] = e
		repo.order = append(repo.order, e.Concept.Name)
	}
	return repo, nil
}

// ConceptRepoFromJSON creates a ConceptRepo from decoded JSON records.
func ConceptRepoFromJSON(records []ConceptJSON) (*ConceptRepo, error) {
	entries := make([]*ConceptEntry, 0, len(records))
	for _, rec := range records {
		entry := &ConceptEntry{
			ID: rec.ID,
			Concept: Concept{
				Name:        rec.ConceptName,
				Type:        rec.Type,
				Context:     rec.Context,
				AxisName:    rec.AxisName,
				NaturalName: rec.NaturalName,
			},
			Description: rec.Description,
			IsGround:    rec.IsGroundConcept,
			IsFinal:     rec.IsFinalConcept,
			IsInvariant: rec.IsInvariant,
			FlowIndices: rec.FlowIndices,
		}
		if rec.ReferenceData != nil {
			ref, err := NewReference(rec.ReferenceData, rec.ReferenceAxisNames, true)
			if err != nil {
				return nil, fmt.Errorf("concept %q: %w", rec.ConceptName, err)
			}
			entry.Concept.Reference = ref
			log.Debug().Str("concept", rec.ConceptName).Msg("installed initial reference")
		}
		entries = append(entries, entry)
	}
	return NewConceptRepo(entries)
}

// LoadConceptRepo decodes a JSON array and builds a ConceptRepo.
func LoadConceptRepo(raw []byte) (*ConceptRepo, error) {
	var records []ConceptJSON
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, NewDomainError(ErrCodeInvalidInput, "decoding concept list", err)
	}
	return ConceptRepoFromJSON(records)
}

// Get returns the entry for a concept name, or nil.
func (r *ConceptRepo) Get(name string) *ConceptEntry {
	return r.entries[name]
}

// All returns entries in their declaration order.
func (r *ConceptRepo) All() []*ConceptEntry {
	out := make([]*ConceptEntry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Final returns the entries flagged is_final, in declaration order.
func (r *ConceptRepo) Final() []*ConceptEntry {
	var out []*ConceptEntry
	for _, e := range r.All() {
		if e.IsFinal {
			out = append(out, e)
		}
	}
	return out
}

// AddReference installs a Reference built from data + axis names on the
// named concept.
func (r *ConceptRepo) AddReference(name string, data any, axisNames []string) error {
	entry := r.Get(name)
	if entry == nil {
		return NewDomainError(ErrCodeNotFound, fmt.Sprintf("concept %q not found", name), nil)
	}
	ref, err := NewReference(data, axisNames, true)
	if err != nil {
		return err
	}
	entry.Concept.Reference = ref
	log.Debug().Str("concept", name).Msg("added reference")
	return nil
}

// Signatures returns the per-concept signature map as of now.
func (r *ConceptRepo) Signatures() map[string]string {
	out := make(map[string]string, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.Signature()
	}
	return out
}

// InferenceRepo holds all inference entries, addressable by flow index.
type InferenceRepo struct {
	inferences []*InferenceEntry
	byFlow     map[FlowIndex]*InferenceEntry
}

// NewInferenceRepo builds a repo from entries.
func NewInferenceRepo(inferences []*InferenceEntry) (*InferenceRepo, error) {
	repo := &InferenceRepo{
		inferences: inferences,
		byFlow:     make(map[FlowIndex]*InferenceEntry, len(inferences)),
	}
	for _, inf := range inferences {
		if inf.FlowIndex == "" {
			return nil, NewDomainError(ErrCodeInvalidInput, "inference entry without a flow index", nil)
		}
		if !inf.Sequence.IsValid() {
			return nil, NewDomainError(ErrCodeInvalidType,
				fmt.Sprintf("inference %s: unknown sequence %q", inf.FlowIndex, inf.Sequence), nil)
		}
		if _, dup := repo.byFlow[inf.FlowIndex]; dup {
			return nil, NewDomainError(ErrCodeAlreadyExists,
				fmt.Sprintf("duplicate flow index %q", inf.FlowIndex), nil)
		}
		if inf.ID == "" {
			inf.ID = uuid.NewString()
		}
		repo.byFlow[inf.FlowIndex] = inf
	}
	return repo, nil
}

// InferenceRepoFromJSON creates an InferenceRepo from decoded JSON
// records, resolving concept names against the given ConceptRepo.
func InferenceRepoFromJSON(records []InferenceJSON, concepts *ConceptRepo) (*InferenceRepo, error) {
	resolve := func(flow FlowIndex, role, name string) (*ConceptEntry, error) {
		entry := concepts.Get(name)
		if entry == nil {
			return nil, NewDomainError(ErrCodeNotFound,
				fmt.Sprintf("inference %s: %s concept %q not found", flow, role, name), nil)
		}
		return entry, nil
	}

	entries := make([]*InferenceEntry, 0, len(records))
	for _, rec := range records {
		target, err := resolve(rec.FlowIndex, "inferred", rec.ConceptToInfer)
		if err != nil {
			return nil, err
		}
		entry := &InferenceEntry{
			ID:                                   uuid.NewString(),
			Sequence:                             rec.InferenceSequence,
			FlowIndex:                            rec.FlowIndex,
			ConceptToInfer:                       target,
			StartWithoutValue:                    rec.StartWithoutValue,
			StartWithoutValueOnlyOnce:            rec.StartWithoutValueOnlyOnce,
			StartWithoutFunction:                 rec.StartWithoutFunction,
			StartWithoutFunctionOnlyOnce:         rec.StartWithoutFunctionOnlyOnce,
			StartWithSupportReferenceOnly:        rec.StartWithSupportReferenceOnly,
			StartWithoutSupportReferenceOnlyOnce: rec.StartWithoutSupportReferenceOnlyOnce,
			WorkingInterpretation:                rec.WorkingInterpretation,
		}
		if rec.FunctionConcept != "" {
			if entry.FunctionConcept, err = resolve(rec.FlowIndex, "function", rec.FunctionConcept); err != nil {
				return nil, err
			}
		}
		for _, name := range rec.ValueConcepts {
			vc, err := resolve(rec.FlowIndex, "value", name)
			if err != nil {
				return nil, err
			}
			entry.ValueConcepts = append(entry.ValueConcepts, vc)
		}
		for _, name := range rec.ContextConcepts {
			cc, err := resolve(rec.FlowIndex, "context", name)
			if err != nil {
				return nil, err
			}
			entry.ContextConcepts = append(entry.ContextConcepts, cc)
		}
		entries = append(entries, entry)
	}
	return NewInferenceRepo(entries)
}

// LoadInferenceRepo decodes a JSON array and builds an InferenceRepo.
func LoadInferenceRepo(raw []byte, concepts *ConceptRepo) (*InferenceRepo, error) {
	var records []InferenceJSON
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, NewDomainError(ErrCodeInvalidInput, "decoding inference list", err)
	}
	return InferenceRepoFromJSON(records, concepts)
}

// All returns every inference entry.
func (r *InferenceRepo) All() []*InferenceEntry {
	return r.inferences
}

// ByFlowIndex returns the inference at a flow index, or nil.
func (r *InferenceRepo) ByFlowIndex(idx FlowIndex) *InferenceEntry {
	return r.byFlow[idx]
}

// Signatures returns the per-inference signature map keyed by flow index.
func (r *InferenceRepo) Signatures() map[FlowIndex]string {
	out := make(map[FlowIndex]string, len(r.inferences))
	for _, inf := range r.inferences {
		out[inf.FlowIndex] = inf.Signature()
	}
	return out
}
