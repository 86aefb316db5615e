package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Concept is a named symbolic entity: a type tag (e.g. "{}", "[]", "::",
// "$+", "*every"), optional axis name, context, natural-language name,
// and an optional Reference value.
type Concept struct {
	Name        string
	Type        string
	Context     string
	AxisName    string
	NaturalName string
	Reference   *Reference
}

// HasReference reports whether a value has been installed.
func (c *Concept) HasReference() bool {
	return c != nil && c.Reference != nil
}

// AxisOrName returns the axis name when set, else the concept name.
// Sequences use it to bind condition variables to friendly identifiers.
func (c *Concept) AxisOrName() string {
	if c.AxisName != "" {
		return c.AxisName
	}
	return c.Name
}

// ConceptEntry is the storage record for a Concept. The Concept is
// inlined; the entry owns the Reference through it.
type ConceptEntry struct {
	ID          string
	Concept     Concept
	Description string
	IsGround    bool
	IsFinal     bool
	IsInvariant bool
	FlowIndices []FlowIndex
}

// Name returns the concept name the entry is keyed by.
func (e *ConceptEntry) Name() string { return e.Concept.Name }

// conceptSignatureFields is the canonical subset hashed into the
// signature. Value data is deliberately excluded: a signature identifies
// the concept's meaning, not its current contents.
type conceptSignatureFields struct {
	Name        string      `json:"concept_name"`
	Type        string      `json:"type"`
	Context     string      `json:"context"`
	AxisName    *string     `json:"axis_name"`
	NaturalName *string     `json:"natural_name"`
	IsGround    bool        `json:"is_ground_concept"`
	IsInvariant bool        `json:"is_invariant"`
	FlowIndices []FlowIndex `json:"flow_indices"`
}

// Signature returns a deterministic sha256 hash over the fields that
// define the concept's meaning. Signatures drive checkpoint
// reconciliation: a mismatch marks saved state as stale.
func (e *ConceptEntry) Signature() string {
	fields := conceptSignatureFields{
		Name:        e.Concept.Name,
		Type:        e.Concept.Type,
		Context:     e.Concept.Context,
		AxisName:    optional(e.Concept.AxisName),
		NaturalName: optional(e.Concept.NaturalName),
		IsGround:    e.IsGround,
		IsInvariant: e.IsInvariant,
		FlowIndices: e.FlowIndices,
	}
	return hashFields(fields)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func hashFields(v any) string {
	// json.Marshal sorts struct fields by declaration order, which is
	// stable; map keys are sorted by the encoder.
	raw, err := json.Marshal(v)
	if err != nil {
		// Signature inputs are plain data; marshalling cannot fail for them.
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
