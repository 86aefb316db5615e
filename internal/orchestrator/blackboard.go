package orchestrator

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/geoguansin/ncflow/internal/domain"
)

// TruthMask is the filter data a judgement sequence with a for-each
// quantifier leaves behind for downstream filter injection. The core
// persists and exposes it; consumers live in the sequence layer.
type TruthMask struct {
	Tensor     []any    `json:"tensor"`
	Axes       []string `json:"axes"`
	FilterAxis string   `json:"filter_axis"`
	Shape      []int    `json:"shape"`
}

// Blackboard manages the dynamic state of all concepts and inference
// items for one orchestrator run.
type Blackboard struct {
	conceptStatuses   map[string]domain.ConceptStatus
	itemStatuses      map[domain.FlowIndex]domain.ItemStatus
	completionDetails map[domain.FlowIndex]domain.CompletionDetail
	itemResults       map[domain.FlowIndex]string
	executionCounts   map[domain.FlowIndex]int
	completedAt       map[string]time.Time
	truthMasks        map[string]*TruthMask

	now func() time.Time
}

// NewBlackboard creates an empty blackboard.
func NewBlackboard() *Blackboard {
	return &Blackboard{
		conceptStatuses:   make(map[string]domain.ConceptStatus),
		itemStatuses:      make(map[domain.FlowIndex]domain.ItemStatus),
		completionDetails: make(map[domain.FlowIndex]domain.CompletionDetail),
		itemResults:       make(map[domain.FlowIndex]string),
		executionCounts:   make(map[domain.FlowIndex]int),
		completedAt:       make(map[string]time.Time),
		truthMasks:        make(map[string]*TruthMask),
		now:               time.Now,
	}
}

// InitializeStates sets the initial state for all concepts and items:
// every concept empty, every item pending, then every ground concept
// complete.
func (b *Blackboard) InitializeStates(concepts []*domain.ConceptEntry, items []*WaitlistItem) {
	for _, c := range concepts {
		b.conceptStatuses[c.Name()] = domain.ConceptEmpty
	}
	for _, item := range items {
		b.itemStatuses[item.Flow()] = domain.ItemPending
		b.executionCounts[item.Flow()] = 0
		b.itemResults[item.Flow()] = ""
	}
	for _, c := range concepts {
		if c.IsGround {
			b.SetConceptStatus(c.Name(), domain.ConceptComplete)
			log.Debug().Str("concept", c.Name()).Msg("ground concept set to complete")
		}
	}
}

// ConceptStatus returns the status of a concept, defaulting to empty.
func (b *Blackboard) ConceptStatus(name string) domain.ConceptStatus {
	if s, ok := b.conceptStatuses[name]; ok {
		return s
	}
	return domain.ConceptEmpty
}

// SetConceptStatus updates a concept's status. The completion timestamp
// is recorded exactly once, on the first transition to complete.
func (b *Blackboard) SetConceptStatus(name string, status domain.ConceptStatus) {
	b.conceptStatuses[name] = status
	if status == domain.ConceptComplete {
		if _, seen := b.completedAt[name]; !seen {
			b.completedAt[name] = b.now()
			log.Debug().Str("concept", name).Msg("recorded concept completion")
		}
	}
}

// ConceptComplete reports whether a concept has status complete.
func (b *Blackboard) ConceptComplete(name string) bool {
	return b.ConceptStatus(name) == domain.ConceptComplete
}

// CompletionTimestamp returns when the concept first became complete.
func (b *Blackboard) CompletionTimestamp(name string) (time.Time, bool) {
	t, ok := b.completedAt[name]
	return t, ok
}

// CompletedConcepts returns the names of concepts with a recorded
// completion timestamp.
func (b *Blackboard) CompletedConcepts() []string {
	out := make([]string, 0, len(b.completedAt))
	for name := range b.completedAt {
		out = append(out, name)
	}
	return out
}

// ItemStatus returns the status of an item, defaulting to pending.
func (b *Blackboard) ItemStatus(flow domain.FlowIndex) domain.ItemStatus {
	if s, ok := b.itemStatuses[flow]; ok {
		return s
	}
	return domain.ItemPending
}

// SetItemStatus updates an item's status.
func (b *Blackboard) SetItemStatus(flow domain.FlowIndex, status domain.ItemStatus) {
	b.itemStatuses[flow] = status
}

// CompletionDetail returns how a completed item finished.
func (b *Blackboard) CompletionDetail(flow domain.FlowIndex) domain.CompletionDetail {
	return b.completionDetails[flow]
}

// SetCompletionDetail records how a completed item finished.
func (b *Blackboard) SetCompletionDetail(flow domain.FlowIndex, detail domain.CompletionDetail) {
	b.completionDetails[flow] = detail
}

// ItemResult returns the free-form success/error string of an item.
func (b *Blackboard) ItemResult(flow domain.FlowIndex) string {
	return b.itemResults[flow]
}

// SetItemResult records the free-form success/error string of an item.
func (b *Blackboard) SetItemResult(flow domain.FlowIndex, result string) {
	b.itemResults[flow] = result
}

// ExecutionCount returns how many times the item has been executed.
func (b *Blackboard) ExecutionCount(flow domain.FlowIndex) int {
	return b.executionCounts[flow]
}

// IncrementExecutionCount bumps the execution counter on every attempt.
func (b *Blackboard) IncrementExecutionCount(flow domain.FlowIndex) {
	b.executionCounts[flow]++
}

// ResetExecutionCount zeroes the counter; used by iteration reset.
func (b *Blackboard) ResetExecutionCount(flow domain.FlowIndex) {
	b.executionCounts[flow] = 0
}

// TruthMask returns the stored mask for a concept, or nil.
func (b *Blackboard) TruthMask(concept string) *TruthMask {
	return b.truthMasks[concept]
}

// SetTruthMask stores a judgement truth mask for a concept.
func (b *Blackboard) SetTruthMask(concept string, mask *TruthMask) {
	b.truthMasks[concept] = mask
}

// HasOpenItems reports whether any item is still pending or in progress.
func (b *Blackboard) HasOpenItems() bool {
	for _, s := range b.itemStatuses {
		if s == domain.ItemPending || s == domain.ItemInProgress {
			return true
		}
	}
	return false
}

// Snapshot is the serialisable form of the blackboard, used by the
// checkpoint manager.
type BlackboardSnapshot struct {
	ConceptStatuses   map[string]domain.ConceptStatus            `json:"concept_status"`
	ItemStatuses      map[domain.FlowIndex]domain.ItemStatus     `json:"item_status"`
	CompletionDetails map[domain.FlowIndex]domain.CompletionDetail `json:"completion_detail"`
	ItemResults       map[domain.FlowIndex]string                `json:"item_result"`
	ExecutionCounts   map[domain.FlowIndex]int                   `json:"execution_count"`
	CompletedAt       map[string]time.Time                       `json:"completion_timestamp"`
	TruthMasks        map[string]*TruthMask                      `json:"truth_masks"`
}

// Snapshot copies the blackboard state into its serialisable form.
func (b *Blackboard) Snapshot() BlackboardSnapshot {
	snap := BlackboardSnapshot{
		ConceptStatuses:   make(map[string]domain.ConceptStatus, len(b.conceptStatuses)),
		ItemStatuses:      make(map[domain.FlowIndex]domain.ItemStatus, len(b.itemStatuses)),
		CompletionDetails: make(map[domain.FlowIndex]domain.CompletionDetail, len(b.completionDetails)),
		ItemResults:       make(map[domain.FlowIndex]string, len(b.itemResults)),
		ExecutionCounts:   make(map[domain.FlowIndex]int, len(b.executionCounts)),
		CompletedAt:       make(map[string]time.Time, len(b.completedAt)),
		TruthMasks:        make(map[string]*TruthMask, len(b.truthMasks)),
	}
	for k, v := range b.conceptStatuses {
		snap.ConceptStatuses[k] = v
	}
	for k, v := range b.itemStatuses {
		snap.ItemStatuses[k] = v
	}
	for k, v := range b.completionDetails {
		snap.CompletionDetails[k] = v
	}
	for k, v := range b.itemResults {
		snap.ItemResults[k] = v
	}
	for k, v := range b.executionCounts {
		snap.ExecutionCounts[k] = v
	}
	for k, v := range b.completedAt {
		snap.CompletedAt[k] = v
	}
	for k, v := range b.truthMasks {
		snap.TruthMasks[k] = v
	}
	return snap
}

// RestoreConcept installs one concept's saved state.
func (b *Blackboard) RestoreConcept(name string, status domain.ConceptStatus, completedAt time.Time) {
	b.conceptStatuses[name] = status
	if !completedAt.IsZero() {
		b.completedAt[name] = completedAt
	}
}

// RestoreItem installs one item's saved state.
func (b *Blackboard) RestoreItem(flow domain.FlowIndex, status domain.ItemStatus, detail domain.CompletionDetail, result string, count int) {
	b.itemStatuses[flow] = status
	if detail != domain.DetailNone {
		b.completionDetails[flow] = detail
	}
	if result != "" {
		b.itemResults[flow] = result
	}
	b.executionCounts[flow] = count
}
