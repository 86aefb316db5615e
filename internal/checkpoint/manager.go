package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/geoguansin/ncflow/internal/domain"
	errs "github.com/geoguansin/ncflow/internal/domain/errors"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// Mode selects how saved state is merged into a freshly built
// orchestrator.
type Mode string

const (
	// ModeOverwrite trusts the checkpoint blindly: every key in the blob
	// is written; concepts absent from the blob keep their defaults.
	ModeOverwrite Mode = "OVERWRITE"
	// ModePatch (default) compares signatures and discards stale state so
	// changed concepts and inferences are recomputed.
	ModePatch Mode = "PATCH"
	// ModeFillGaps only installs saved state where the fresh orchestrator
	// is still at its default, preferring anything the new repo provides.
	ModeFillGaps Mode = "FILL_GAPS"
)

// Manager serialises one orchestrator's state into checkpoint blobs and
// restores it. It implements orchestrator.Checkpointer.
type Manager struct {
	store orchestrator.CheckpointStore
	orch  *orchestrator.Orchestrator
}

// NewManager binds a store and the orchestrator whose state it saves.
func NewManager(store orchestrator.CheckpointStore, orch *orchestrator.Orchestrator) *Manager {
	return &Manager{store: store, orch: orch}
}

// Serialize captures the orchestrator's full state: blackboard, concept
// values, tracker, workspace, and the signature maps as of now.
func (m *Manager) Serialize() *Blob {
	o := m.orch
	snap := o.Blackboard().Snapshot()

	refs := make(map[string]ReferenceBlob)
	for _, entry := range o.Concepts().All() {
		if entry.Concept.HasReference() {
			refs[entry.Name()] = ReferenceBlob{
				Tensor: entry.Concept.Reference.Tensor(),
				Axes:   entry.Concept.Reference.Axes(),
			}
		}
	}

	return &Blob{
		Blackboard: BlackboardBlob{
			ConceptStatuses:   snap.ConceptStatuses,
			ItemStatuses:      snap.ItemStatuses,
			CompletionDetails: snap.CompletionDetails,
			ItemResults:       snap.ItemResults,
			ExecutionCounts:   snap.ExecutionCounts,
			CompletedAt:       snap.CompletedAt,
			TruthMasks:        snap.TruthMasks,
			ConceptReferences: refs,
		},
		Tracker:   trackerBlobFrom(o.Tracker().Snapshot()),
		Workspace: o.Workspace(),
		Signatures: SignaturesBlob{
			ConceptSignatures:   o.Concepts().Signatures(),
			InferenceSignatures: o.Inferences().Signatures(),
		},
		RunID:         o.RunID(),
		SchemaVersion: SchemaVersion,
	}
}

// Save persists a snapshot at (cycle, inferenceCount). inferenceCount 0
// marks the end-of-cycle checkpoint.
func (m *Manager) Save(ctx context.Context, cycle, inferenceCount int) error {
	raw, err := json.Marshal(m.Serialize())
	if err != nil {
		return errs.NewCheckpointError(m.orch.RunID(), "encoding checkpoint blob", err)
	}
	if err := m.store.SaveCheckpoint(ctx, m.orch.RunID(), cycle, inferenceCount, raw); err != nil {
		return errs.NewCheckpointError(m.orch.RunID(), "saving checkpoint", err)
	}
	return nil
}

// Load fetches and decodes a checkpoint blob. cycle < 0 loads the latest
// checkpoint of the run; inferenceCount < 0 loads the latest within the
// cycle. Returns nil when no checkpoint exists.
func Load(ctx context.Context, store orchestrator.CheckpointStore, runID string, cycle, inferenceCount int) (*Blob, error) {
	rec, err := store.LoadCheckpoint(ctx, runID, cycle, inferenceCount)
	if err != nil {
		return nil, errs.NewCheckpointError(runID, "loading checkpoint", err)
	}
	if rec == nil {
		return nil, nil
	}
	var blob Blob
	if err := json.Unmarshal(rec.Blob, &blob); err != nil {
		return nil, errs.NewCheckpointError(runID, "decoding checkpoint blob", err)
	}
	return &blob, nil
}

// CompatibilityResult reports how a checkpoint relates to the repos of a
// freshly built orchestrator.
type CompatibilityResult struct {
	Compatible bool
	Warnings   []string
	Errors     []string
}

// ValidateRepoCompatibility checks data sufficiency and staleness: every
// ground concept must have data in the repo or the blob (hard error
// otherwise); signature mismatches are warnings handled by PATCH mode.
func ValidateRepoCompatibility(blob *Blob, orch *orchestrator.Orchestrator) CompatibilityResult {
	result := CompatibilityResult{Compatible: true}

	for _, entry := range orch.Concepts().All() {
		if !entry.IsGround {
			continue
		}
		_, inBlob := blob.Blackboard.ConceptReferences[entry.Name()]
		if !entry.Concept.HasReference() && !inBlob {
			result.Errors = append(result.Errors,
				fmt.Sprintf("ground concept %q is missing data in both repo and checkpoint", entry.Name()))
		}
	}

	for name, savedSig := range blob.Signatures.ConceptSignatures {
		entry := orch.Concepts().Get(name)
		if entry == nil {
			continue
		}
		if entry.Signature() != savedSig {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("concept %q has changed definition (signature mismatch); saved state is stale", name))
		}
	}
	for flow, savedSig := range blob.Signatures.InferenceSignatures {
		entry := orch.Inferences().ByFlowIndex(flow)
		if entry == nil {
			continue
		}
		if entry.Signature() != savedSig {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("inference %s has changed definition (signature mismatch); saved state is stale", flow))
		}
	}

	result.Compatible = len(result.Errors) == 0
	return result
}

// ValidateEnvironment compares the saved run metadata against the current
// orchestrator configuration. Mismatches are warnings; the model mismatch
// flips compatibility.
func ValidateEnvironment(ctx context.Context, store orchestrator.CheckpointStore, runID string, orch *orchestrator.Orchestrator) (CompatibilityResult, error) {
	result := CompatibilityResult{Compatible: true}
	saved, err := store.GetRunMetadata(ctx, runID)
	if err != nil {
		return result, errs.NewCheckpointError(runID, "reading run metadata", err)
	}
	if saved == nil {
		result.Warnings = append(result.Warnings, "no saved metadata found for this run")
		return result, nil
	}
	current := orch.Metadata()
	for _, key := range []string{"model", "base_dir", "llm_model", "max_cycles", "checkpoint_frequency"} {
		sv, cv := saved[key], current[key]
		if sv == nil && cv == nil {
			continue
		}
		if fmt.Sprintf("%v", sv) != fmt.Sprintf("%v", cv) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s mismatch: saved=%v, current=%v", key, sv, cv))
			if key == "model" {
				result.Compatible = false
			}
		}
	}
	return result, nil
}

// Reconcile installs saved state into a freshly built orchestrator
// according to the mode. The orchestrator keeps its own run id; fork
// bookkeeping is handled by Resume.
func Reconcile(blob *Blob, orch *orchestrator.Orchestrator, mode Mode) error {
	switch mode {
	case ModeOverwrite, ModePatch, ModeFillGaps:
	case "":
		mode = ModePatch
	default:
		return domain.NewDomainError(domain.ErrCodeInvalidInput, fmt.Sprintf("unknown reconcile mode %q", mode), nil)
	}

	bb := orch.Blackboard()

	for name, savedStatus := range blob.Blackboard.ConceptStatuses {
		entry := orch.Concepts().Get(name)
		if entry == nil {
			// Concept no longer exists in the repo; its state has nowhere
			// to go.
			log.Warn().Str("concept", name).Msg("checkpoint concept absent from repo, discarding state")
			continue
		}

		switch mode {
		case ModePatch:
			savedSig, hasSig := blob.Signatures.ConceptSignatures[name]
			if hasSig && savedSig != entry.Signature() {
				log.Warn().Str("concept", name).Msg("stale concept state discarded (signature mismatch)")
				continue
			}
			if savedStatus != domain.ConceptComplete {
				continue
			}
		case ModeFillGaps:
			if bb.ConceptStatus(name) != domain.ConceptEmpty || entry.Concept.HasReference() {
				continue
			}
		}

		installConcept(orch, name, savedStatus, blob)
	}

	for flow, savedStatus := range blob.Blackboard.ItemStatuses {
		if orch.Waitlist().ByFlow(flow) == nil {
			log.Warn().Str("flow_index", string(flow)).Msg("checkpoint item absent from waitlist, discarding state")
			continue
		}
		switch mode {
		case ModePatch:
			savedSig, hasSig := blob.Signatures.InferenceSignatures[flow]
			entry := orch.Inferences().ByFlowIndex(flow)
			if hasSig && entry != nil && savedSig != entry.Signature() {
				log.Warn().Str("flow_index", string(flow)).Msg("stale item state discarded (signature mismatch)")
				continue
			}
			// Same rule as concepts: only completed item state is worth
			// carrying over; mid-retry state recomputes from the default.
			if savedStatus != domain.ItemCompleted {
				continue
			}
		case ModeFillGaps:
			if bb.ItemStatus(flow) != domain.ItemPending || bb.ExecutionCount(flow) != 0 {
				continue
			}
		}
		bb.RestoreItem(flow,
			savedStatus,
			blob.Blackboard.CompletionDetails[flow],
			blob.Blackboard.ItemResults[flow],
			blob.Blackboard.ExecutionCounts[flow])
	}

	for concept, mask := range blob.Blackboard.TruthMasks {
		if orch.Concepts().Get(concept) != nil && mask != nil {
			bb.SetTruthMask(concept, mask)
		}
	}

	orch.Tracker().Restore(blob.Tracker.snapshot())

	switch mode {
	case ModeFillGaps:
		ws := orch.Workspace()
		for k, v := range blob.Workspace {
			if _, exists := ws[k]; !exists {
				ws[k] = v
			}
		}
	default:
		orch.ReplaceWorkspace(blob.Workspace)
	}

	return nil
}

// installConcept restores one concept's saved status, reference and
// completion timestamp. The reference is installed before the status so
// observers of complete always see the value.
func installConcept(orch *orchestrator.Orchestrator, name string, status domain.ConceptStatus, blob *Blob) {
	entry := orch.Concepts().Get(name)
	if ref, ok := blob.Blackboard.ConceptReferences[name]; ok {
		restored, err := domain.NewReference(anySlice(ref.Tensor), ref.Axes, true)
		if err != nil {
			log.Warn().Err(err).Str("concept", name).Msg("could not restore saved reference")
		} else {
			entry.Concept.Reference = restored
		}
	}
	orch.Blackboard().RestoreConcept(name, status, blob.Blackboard.CompletedAt[name])
}

func anySlice(tensor []any) any {
	if tensor == nil {
		return []any{}
	}
	return tensor
}
