package checkpoint

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/geoguansin/ncflow/internal/domain"
	errs "github.com/geoguansin/ncflow/internal/domain/errors"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// ResumeOptions configures checkpoint-based construction of an
// orchestrator.
type ResumeOptions struct {
	Concepts   *domain.ConceptRepo
	Inferences *domain.InferenceRepo
	Registry   *orchestrator.SequenceRegistry
	Store      orchestrator.CheckpointStore
	Config     orchestrator.Config

	// RunID selects the source run; the latest run is used when empty.
	RunID string
	// NewRunID forks: state is initialised from the source checkpoint but
	// all subsequent executions are written under the new id and tracker
	// counters start fresh. The source run's history stays untouched.
	NewRunID string
	// Cycle selects a specific checkpoint; -1 means latest. Cycle and
	// InferenceCount both left at 0 also mean latest.
	Cycle int
	// InferenceCount selects an intra-cycle checkpoint; -1 means latest
	// within the cycle. Ignored when Cycle is -1.
	InferenceCount int
	// Mode of reconciliation; ModePatch when empty.
	Mode Mode
	// SkipEnvironmentValidation suppresses the metadata comparison.
	SkipEnvironmentValidation bool
	// SkipCompatibilityValidation suppresses the repo compatibility check.
	SkipCompatibilityValidation bool
	// AllowIncompatible proceeds past hard compatibility errors.
	AllowIncompatible bool
}

// Resume builds a fresh orchestrator from the repos and reconciles the
// selected checkpoint into it. When the store holds no usable
// checkpoint, a fresh orchestrator is returned and orchestration starts
// from scratch.
func Resume(ctx context.Context, opts ResumeOptions) (*orchestrator.Orchestrator, *Manager, error) {
	sourceRunID := opts.RunID
	if sourceRunID == "" {
		runs, err := opts.Store.ListRuns(ctx)
		if err != nil {
			return nil, nil, errs.NewCheckpointError("", "listing runs", err)
		}
		if len(runs) > 0 {
			sourceRunID = runs[0].RunID
			log.Info().Str("run_id", sourceRunID).Msg("no source run id given, using latest run")
		}
	}

	targetRunID := sourceRunID
	forking := opts.NewRunID != "" && opts.NewRunID != sourceRunID
	if forking {
		targetRunID = opts.NewRunID
	}

	cfg := opts.Config
	cfg.Store = opts.Store
	cfg.RunID = targetRunID
	orch, err := orchestrator.New(opts.Concepts, opts.Inferences, opts.Registry, cfg)
	if err != nil {
		return nil, nil, err
	}
	manager := NewManager(opts.Store, orch)
	orch.SetCheckpointer(manager)

	if sourceRunID == "" {
		log.Warn().Msg("no runs found in store, starting fresh orchestration")
		return orch, manager, nil
	}

	if !opts.SkipEnvironmentValidation {
		envResult, err := ValidateEnvironment(ctx, opts.Store, sourceRunID, orch)
		if err != nil {
			return nil, nil, err
		}
		for _, w := range envResult.Warnings {
			log.Warn().Str("run_id", sourceRunID).Msg(w)
		}
		if !envResult.Compatible {
			log.Error().Str("run_id", sourceRunID).
				Msg("environment not fully compatible with saved run, results may differ")
		}
	}

	cycle, count := opts.Cycle, opts.InferenceCount
	if cycle == 0 && count == 0 {
		// Zero options mean "latest" unless the caller pinned them.
		cycle, count = -1, -1
	}
	blob, err := Load(ctx, opts.Store, sourceRunID, cycle, count)
	if err != nil {
		return nil, nil, err
	}
	if blob == nil {
		log.Warn().Str("run_id", sourceRunID).Msg("no checkpoint found, starting fresh orchestration")
		return orch, manager, nil
	}

	if !opts.SkipCompatibilityValidation {
		compat := ValidateRepoCompatibility(blob, orch)
		for _, w := range compat.Warnings {
			log.Warn().Msg(w)
		}
		for _, e := range compat.Errors {
			log.Error().Msg(e)
		}
		if !compat.Compatible && !opts.AllowIncompatible {
			return nil, nil, errs.NewCheckpointError(sourceRunID,
				"repository incompatible with checkpoint", domain.NewDomainError(
					domain.ErrCodeCheckpointIncompatible, compat.Errors[0], nil))
		}
	}

	if err := Reconcile(blob, orch, opts.Mode); err != nil {
		return nil, nil, err
	}
	log.Info().Str("mode", string(reconcileMode(opts.Mode))).Msg("reconciled checkpoint state")

	if forking {
		orch.Tracker().ResetCounters()
		log.Info().Str("new_run_id", targetRunID).Msg("forked run, tracker counters reset")
	}
	return orch, manager, nil
}

func reconcileMode(m Mode) Mode {
	if m == "" {
		return ModePatch
	}
	return m
}

// ListAvailableCheckpoints lists checkpoints, for one run or across all
// runs when runID is empty.
func ListAvailableCheckpoints(ctx context.Context, store orchestrator.CheckpointStore, runID string) ([]orchestrator.CheckpointRecord, error) {
	if runID != "" {
		return store.ListCheckpoints(ctx, runID)
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	var out []orchestrator.CheckpointRecord
	for _, run := range runs {
		cps, err := store.ListCheckpoints(ctx, run.RunID)
		if err != nil {
			return nil, err
		}
		out = append(out, cps...)
	}
	return out, nil
}

// ExportState captures the orchestrator's comprehensive state without
// persisting it.
func ExportState(orch *orchestrator.Orchestrator) *Blob {
	return NewManager(nil, orch).Serialize()
}
