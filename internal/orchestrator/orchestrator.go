package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/geoguansin/ncflow/internal/agent"
	"github.com/geoguansin/ncflow/internal/domain"
	errs "github.com/geoguansin/ncflow/internal/domain/errors"
	logpkg "github.com/geoguansin/ncflow/internal/infrastructure/logger"
	"github.com/geoguansin/ncflow/internal/infrastructure/monitoring"
)

// Config holds construction parameters for an Orchestrator.
type Config struct {
	// Blackboard to reuse; a fresh one is created when nil.
	Blackboard *Blackboard
	// Body bundles the tool collaborators handed to sequences.
	Body *agent.Body
	// MaxCycles bounds the cycle loop.
	MaxCycles int
	// Store enables persistence of executions and checkpoints.
	Store CheckpointStore
	// CheckpointFrequency saves an intra-cycle checkpoint every N
	// executed inferences; 0 checkpoints only at cycle boundaries.
	CheckpointFrequency int
	// RunID continues an existing run; generated when empty.
	RunID string
	// Model names the agent frame configuration recorded in run metadata.
	Model string
	// DevMode makes failing reference operations raise instead of
	// degrading to skip markers.
	DevMode bool
	// LogOutput receives structured logs; stderr when nil.
	LogOutput io.Writer
	// LogLevel for the orchestrator logger.
	LogLevel string
	// Observers receives lifecycle events; optional.
	Observers *monitoring.ObserverManager
}

// DefaultConfig returns the default orchestration configuration.
func DefaultConfig() Config {
	return Config{
		MaxCycles: 30,
		Model:     "demo",
		LogLevel:  "info",
	}
}

// Checkpointer persists orchestrator state snapshots. Implemented by the
// checkpoint manager; the orchestrator only triggers saves.
type Checkpointer interface {
	Save(ctx context.Context, cycle, inferenceCount int) error
}

// Orchestrator processes a waitlist of inferences bottom-up, driven by
// the completion of their support dependencies. It owns its repositories,
// blackboard, tracker and workspace; all mutation happens on the calling
// goroutine of Run.
type Orchestrator struct {
	concepts   *domain.ConceptRepo
	inferences *domain.InferenceRepo
	registry   *SequenceRegistry
	waitlist   *Waitlist
	blackboard *Blackboard
	tracker    *ProcessTracker
	body       *agent.Body
	observers  *monitoring.ObserverManager

	store        CheckpointStore
	checkpointer Checkpointer

	workspace map[string]any
	runID     string
	cfg       Config

	logger zerolog.Logger
	logOut io.Writer

	itemByConcept map[string]*WaitlistItem
	executionIDs  map[domain.FlowIndex]int64

	// Hooks the control layer uses to service pause/stop requests and
	// breakpoints between inferences.
	beforeItem func(ctx context.Context, item *WaitlistItem) error
	afterItem  func(ctx context.Context, item *WaitlistItem, status domain.ItemStatus) error
}

// SetHooks installs the control-layer suspension points. beforeItem runs
// at the top of each ready-item iteration; returning an error aborts the
// run with it. afterItem runs after the item's status settles.
func (o *Orchestrator) SetHooks(
	beforeItem func(ctx context.Context, item *WaitlistItem) error,
	afterItem func(ctx context.Context, item *WaitlistItem, status domain.ItemStatus) error,
) {
	o.beforeItem = beforeItem
	o.afterItem = afterItem
}

// New constructs an orchestrator: builds and sorts the waitlist,
// initialises the blackboard (ground concepts complete), records run
// metadata when a store is attached.
func New(concepts *domain.ConceptRepo, inferences *domain.InferenceRepo, registry *SequenceRegistry, cfg Config) (*Orchestrator, error) {
	if concepts == nil || inferences == nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput, "concept and inference repos are required", nil)
	}
	if registry == nil {
		registry = NewSequenceRegistry()
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultConfig().MaxCycles
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	logOut := cfg.LogOutput
	if logOut == nil {
		logOut = os.Stderr
	}

	o := &Orchestrator{
		concepts:      concepts,
		inferences:    inferences,
		registry:      registry,
		blackboard:    cfg.Blackboard,
		tracker:       NewProcessTracker(),
		body:          cfg.Body,
		observers:     cfg.Observers,
		store:         cfg.Store,
		workspace:     make(map[string]any),
		runID:         cfg.RunID,
		cfg:           cfg,
		logOut:        logOut,
		logger:        logpkg.Setup(cfg.LogLevel, logOut),
		executionIDs:  make(map[domain.FlowIndex]int64),
		itemByConcept: make(map[string]*WaitlistItem),
	}
	if o.blackboard == nil {
		o.blackboard = NewBlackboard()
	}
	if o.body == nil {
		o.body = agent.NewBody(".")
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	if o.observers == nil {
		o.observers = monitoring.NewObserverManager()
	}

	o.waitlist = NewWaitlist(inferences)
	o.blackboard.InitializeStates(concepts.All(), o.waitlist.Items)
	for _, item := range o.waitlist.Items {
		o.itemByConcept[item.ConceptName()] = item
	}

	if o.store != nil {
		o.tracker.AttachStore(o.store, o.runID)
		if err := o.saveRunMetadata(context.Background()); err != nil {
			return nil, err
		}
		o.logger.Info().
			Str("run_id", o.runID).
			Int("checkpoint_frequency", cfg.CheckpointFrequency).
			Msg("checkpointing enabled")
	}

	o.logger.Info().
		Str("waitlist_id", o.waitlist.ID).
		Int("items", len(o.waitlist.Items)).
		Msg("waitlist created")
	return o, nil
}

// SetCheckpointer attaches the snapshot persister invoked at cycle
// boundaries and intra-cycle frequency points.
func (o *Orchestrator) SetCheckpointer(cp Checkpointer) { o.checkpointer = cp }

// Accessors used by the checkpoint and control layers.

func (o *Orchestrator) RunID() string                    { return o.runID }
func (o *Orchestrator) Concepts() *domain.ConceptRepo    { return o.concepts }
func (o *Orchestrator) Inferences() *domain.InferenceRepo { return o.inferences }
func (o *Orchestrator) Blackboard() *Blackboard          { return o.blackboard }
func (o *Orchestrator) Tracker() *ProcessTracker         { return o.tracker }
func (o *Orchestrator) Waitlist() *Waitlist              { return o.waitlist }
func (o *Orchestrator) Workspace() map[string]any        { return o.workspace }
func (o *Orchestrator) Store() CheckpointStore           { return o.store }
func (o *Orchestrator) Body() *agent.Body                { return o.body }
func (o *Orchestrator) MaxCycles() int                   { return o.cfg.MaxCycles }

// SetRunID rebinds the run id (forking); subsequent executions are
// written under the new id.
func (o *Orchestrator) SetRunID(runID string) {
	o.runID = runID
	if o.store != nil {
		o.tracker.AttachStore(o.store, runID)
	}
}

// ReplaceWorkspace swaps in a restored workspace.
func (o *Orchestrator) ReplaceWorkspace(ws map[string]any) {
	if ws == nil {
		ws = make(map[string]any)
	}
	o.workspace = ws
}

// Metadata describes the run environment persisted alongside checkpoints
// and validated on resume.
func (o *Orchestrator) Metadata() map[string]any {
	md := map[string]any{
		"model":                o.cfg.Model,
		"base_dir":             o.body.BaseDir,
		"max_cycles":           o.cfg.MaxCycles,
		"checkpoint_frequency": o.cfg.CheckpointFrequency,
	}
	if o.body.LLMModel != "" {
		md["llm_model"] = o.body.LLMModel
	}
	return md
}

func (o *Orchestrator) saveRunMetadata(ctx context.Context) error {
	if err := o.store.SaveRunMetadata(ctx, o.runID, o.Metadata()); err != nil {
		return errs.NewCheckpointError(o.runID, "saving run metadata", err)
	}
	o.logger.Info().Str("run_id", o.runID).Msg("saved run metadata")
	return nil
}

func (o *Orchestrator) emit(t monitoring.EventType, item *WaitlistItem, detail string) {
	event := monitoring.Event{
		Type:   t,
		RunID:  o.runID,
		Cycle:  o.tracker.CycleCount,
		Detail: detail,
	}
	if item != nil {
		event.FlowIndex = string(item.Flow())
		event.Concept = item.ConceptName()
		event.Sequence = string(item.Entry.Sequence)
	}
	o.observers.Emit(event)
}

// --- readiness -------------------------------------------------------------

func (o *Orchestrator) functionConceptReady(item *WaitlistItem) bool {
	fc := item.Entry.FunctionConcept
	return fc == nil || o.blackboard.ConceptComplete(fc.Name())
}

// valueConceptsReady checks value inputs. For assigning inferences with a
// multi-source list, one source suffices while every other value concept
// must be complete (conditional-merge pattern).
func (o *Orchestrator) valueConceptsReady(item *WaitlistItem) bool {
	sources := item.Entry.AssignSources()
	if item.Entry.Sequence == domain.SequenceAssigning && sources != nil {
		sourceSet := make(map[string]struct{}, len(sources))
		for _, s := range sources {
			sourceSet[s] = struct{}{}
		}
		oneSourceReady := false
		for _, vc := range item.Entry.ValueConcepts {
			if _, isSource := sourceSet[vc.Name()]; isSource {
				if o.blackboard.ConceptComplete(vc.Name()) {
					oneSourceReady = true
				}
			} else if !o.blackboard.ConceptComplete(vc.Name()) {
				return false
			}
		}
		return oneSourceReady
	}

	for _, vc := range item.Entry.ValueConcepts {
		if !o.blackboard.ConceptComplete(vc.Name()) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) supportingItemsComplete(item *WaitlistItem) bool {
	for _, s := range o.waitlist.Supporters(item) {
		if o.blackboard.ItemStatus(s.Flow()) != domain.ItemCompleted {
			return false
		}
	}
	return true
}

// isReady applies the readiness predicate with the entry's flag bypasses.
// Support bypass precedence: start_with_support_reference_only is checked
// first and bypasses support entirely; the only-once variant applies just
// to the first execution. Context concepts are never checked.
func (o *Orchestrator) isReady(item *WaitlistItem) bool {
	entry := item.Entry
	flow := item.Flow()
	firstExecution := o.blackboard.ExecutionCount(flow) == 0

	if !entry.StartWithSupportReferenceOnly && !(entry.StartWithoutSupportReferenceOnlyOnce && firstExecution) {
		if !o.supportingItemsComplete(item) {
			o.logger.Debug().Str("flow_index", string(flow)).Msg("not ready: supporters incomplete")
			return false
		}
	}

	if !entry.StartWithoutFunction && !(entry.StartWithoutFunctionOnlyOnce && firstExecution) {
		if !o.functionConceptReady(item) {
			o.logger.Debug().Str("flow_index", string(flow)).Msg("not ready: function concept incomplete")
			return false
		}
	}

	if entry.StartWithoutValue {
		return true
	}
	if entry.StartWithoutValueOnlyOnce && firstExecution {
		return true
	}
	if !o.valueConceptsReady(item) {
		o.logger.Debug().Str("flow_index", string(flow)).Msg("not ready: value concepts incomplete")
		return false
	}
	return true
}

// --- execution -------------------------------------------------------------

// executeItem runs a single ready item and updates its status and
// tracking info. The user-interaction signal is re-raised after the item
// is reverted to pending.
func (o *Orchestrator) executeItem(ctx context.Context, item *WaitlistItem) (domain.ItemStatus, error) {
	flow := item.Flow()
	o.logger.Info().Str("flow_index", string(flow)).Msg("item ready, executing")
	o.blackboard.SetItemStatus(flow, domain.ItemInProgress)
	o.emit(monitoring.EventItemStarted, item, "")

	newStatus, err := o.inferenceExecution(ctx, item)
	if err != nil {
		if errs.IsNeedsUserInteraction(err) {
			o.logger.Info().Str("flow_index", string(flow)).Msg("item paused for user interaction")
			o.blackboard.SetItemStatus(flow, domain.ItemPending)
			return domain.ItemPending, err
		}
		return domain.ItemFailed, err
	}

	o.tracker.TotalExecutions++
	o.blackboard.SetItemStatus(flow, newStatus)
	o.updateExecutionTracking(ctx, item, newStatus)
	return newStatus, nil
}

// inferenceExecution invokes the sequence with per-execution log capture
// and translates its outcome into an item status.
func (o *Orchestrator) inferenceExecution(ctx context.Context, item *WaitlistItem) (domain.ItemStatus, error) {
	flow := item.Flow()
	o.blackboard.IncrementExecutionCount(flow)

	seq := o.registry.Get(item.Entry.Sequence)
	if seq == nil {
		o.blackboard.SetItemResult(flow, fmt.Sprintf("Error: no sequence registered for %q", item.Entry.Sequence))
		return domain.ItemFailed, nil
	}

	var executionID int64
	if o.store != nil {
		id, err := o.tracker.AddExecutionRecord(ctx, o.tracker.CycleCount, flow, item.Entry.Sequence,
			string(domain.ItemInProgress), item.ConceptName())
		if err != nil {
			o.logger.Warn().Err(err).Str("flow_index", string(flow)).Msg("could not record execution row")
		} else {
			executionID = id
			o.executionIDs[flow] = id
		}
	}

	capture := logpkg.NewExecutionLogCapture()
	execLogger := zerolog.New(zerolog.MultiLevelWriter(o.logOut, capture)).
		Level(o.logger.GetLevel()).With().
		Timestamp().
		Str("flow_index", string(flow)).
		Logger()

	frame := &Frame{
		Entry:      item.Entry,
		Blackboard: o.blackboard,
		Workspace:  o.workspace,
		Concepts:   o.concepts,
		Body:       o.body,
		Logger:     execLogger,
		DevMode:    o.cfg.DevMode,
	}

	states, err := seq.Execute(ctx, frame)
	if captured := capture.Content(); captured != "" && executionID != 0 {
		if logErr := o.tracker.CaptureInferenceLog(ctx, executionID, captured); logErr != nil {
			o.logger.Warn().Err(logErr).Msg("could not persist execution log")
		}
	}
	if err != nil {
		if errs.IsNeedsUserInteraction(err) {
			return domain.ItemPending, err
		}
		o.logger.Error().Err(err).Str("flow_index", string(flow)).Msg("inference failed")
		o.blackboard.SetItemResult(flow, fmt.Sprintf("Error: %v", err))
		return domain.ItemFailed, nil
	}

	return o.processStates(states, item), nil
}

// processStates routes the sequence outcome: timing gates have their own
// retry/skip semantics, everything else is a regular inference.
func (o *Orchestrator) processStates(states *States, item *WaitlistItem) domain.ItemStatus {
	if item.Entry.Sequence == domain.SequenceTiming {
		return o.handleTimingInference(states, item)
	}
	return o.handleRegularInference(states, item)
}

// handleTimingInference: an unready gate retries next cycle; a ready gate
// completes, optionally propagating a skip to its flow-index ancestors.
func (o *Orchestrator) handleTimingInference(states *States, item *WaitlistItem) domain.ItemStatus {
	flow := item.Flow()
	if states.TimingReady == nil || !*states.TimingReady {
		o.logger.Info().Str("flow_index", string(flow)).Msg("timing condition not met, will retry")
		return domain.ItemPending
	}

	o.blackboard.SetItemResult(flow, "Success")
	if states.ToBeSkipped {
		o.logger.Info().Str("flow_index", string(flow)).Msg("timing gate triggering skip of dependents")
		for _, dependent := range o.waitlist.Dependents(item) {
			o.propagateSkip(dependent, flow)
		}
	}
	o.blackboard.SetConceptStatus(item.ConceptName(), domain.ConceptComplete)
	return domain.ItemCompleted
}

// propagateSkip marks one dependent as completed+skipped because a timing
// gate underneath it fired negatively.
func (o *Orchestrator) propagateSkip(item *WaitlistItem, source domain.FlowIndex) {
	flow := item.Flow()
	o.logger.Info().
		Str("flow_index", string(flow)).
		Str("source", string(source)).
		Msg("skipping item due to timing gate")

	o.blackboard.SetItemStatus(flow, domain.ItemCompleted)
	o.blackboard.SetCompletionDetail(flow, domain.DetailSkipped)
	o.blackboard.SetItemResult(flow, fmt.Sprintf("Skipped due to %s", source))
	o.blackboard.SetConceptStatus(item.ConceptName(), domain.ConceptComplete)
	o.updateExecutionTracking(context.Background(), item, domain.ItemCompleted)
}

// handleRegularInference applies judgement details, truth masks,
// iteration resets and OR-record reference updates.
func (o *Orchestrator) handleRegularInference(states *States, item *WaitlistItem) domain.ItemStatus {
	flow := item.Flow()
	o.blackboard.SetItemResult(flow, "Success")

	if item.Entry.Sequence.IsJudgement() {
		if states.ConditionMet != nil {
			if *states.ConditionMet {
				o.blackboard.SetCompletionDetail(flow, domain.DetailSuccess)
			} else {
				o.blackboard.SetCompletionDetail(flow, domain.DetailConditionNotMet)
			}
		}
		o.storeTruthMask(states, item)
	}

	if o.updateReferencesAndCheckCompletion(states, item) {
		return domain.ItemCompleted
	}
	return domain.ItemPending
}

// storeTruthMask keeps the TIA output of a for-each judgement on the
// blackboard for downstream filter injection.
func (o *Orchestrator) storeTruthMask(states *States, item *WaitlistItem) {
	if states.PrimaryFilterAxis == "" {
		return
	}
	tia := states.GetReference("inference", StepTIA)
	if tia == nil {
		return
	}
	o.blackboard.SetTruthMask(item.ConceptName(), &TruthMask{
		Tensor:     tia.Tensor(),
		Axes:       tia.Axes(),
		FilterAxis: states.PrimaryFilterAxis,
		Shape:      tia.Shape(),
	})
	o.logger.Info().
		Str("concept", item.ConceptName()).
		Str("filter_axis", states.PrimaryFilterAxis).
		Msg("stored judgement truth mask")
}

// updateReferencesAndCheckCompletion resets supporters first when an
// iterating sequence is mid-loop, then applies all OR-record reference
// updates so the next iteration sees its inputs. Returns completion.
func (o *Orchestrator) updateReferencesAndCheckCompletion(states *States, item *WaitlistItem) bool {
	iterating := item.Entry.Sequence.IsIterating()
	complete := !iterating || states.Syntax.CompletionStatus

	if iterating && !complete {
		o.resetSupportingItems(item)
	}

	for _, pair := range []struct {
		category string
		records  []Record
	}{
		{"inference", states.Inference},
		{"context", states.Context},
	} {
		for _, record := range pair.records {
			if record.StepName == StepOR && record.Reference != nil {
				o.updateConceptFromRecord(record, pair.category, item, iterating, complete)
			}
		}
	}

	return complete
}

// updateConceptFromRecord publishes one OR record: the reference is
// copied into the repo entry before the status flips to complete, so a
// reader observing complete can safely read the reference.
func (o *Orchestrator) updateConceptFromRecord(record Record, category string, item *WaitlistItem, iterating, complete bool) {
	name := ""
	switch {
	case record.Concept != nil:
		name = record.Concept.Name
	case category == "inference":
		name = item.ConceptName()
	}
	if name == "" {
		o.logger.Warn().Str("flow_index", string(item.Flow())).Str("category", category).
			Msg("OR record without resolvable concept")
		return
	}

	entry := o.concepts.Get(name)
	if entry == nil {
		o.logger.Warn().Str("concept", name).Msg("OR record names unknown concept")
		return
	}
	entry.Concept.Reference = record.Reference.Copy()

	// Mid-loop, the inferred concept stays pending; context concepts and
	// finished loops complete normally.
	if category == "context" || !iterating || complete {
		o.blackboard.SetConceptStatus(name, domain.ConceptComplete)
		o.emit(monitoring.EventConceptCompleted, item, name)
	}
}

// resetSupportingItems returns every supporter to pending for the next
// loop pass. Invariant concepts keep both their reference and complete
// status; ground concepts are never cleared; nested iterating supporters
// drop their quantifier workspace state.
func (o *Orchestrator) resetSupportingItems(item *WaitlistItem) {
	supporters := o.waitlist.Supporters(item)
	if len(supporters) == 0 {
		return
	}
	o.logger.Info().
		Str("flow_index", string(item.Flow())).
		Str("sequence", string(item.Entry.Sequence)).
		Msg("iteration incomplete, resetting supporters")

	for _, support := range supporters {
		flow := support.Flow()
		o.blackboard.SetItemStatus(flow, domain.ItemPending)
		o.blackboard.ResetExecutionCount(flow)

		if support.Entry.Sequence.IsIterating() {
			if key := support.Entry.QuantifierWorkspaceKey(); key != "" {
				if _, ok := o.workspace[key]; ok {
					delete(o.workspace, key)
					o.logger.Debug().Str("workspace_key", key).Msg("cleared quantifier workspace state")
				}
			}
		}

		inferred := support.Entry.ConceptToInfer
		if inferred.IsGround {
			continue
		}
		if inferred.IsInvariant {
			o.logger.Debug().Str("concept", inferred.Name()).Msg("invariant concept kept intact across iteration")
			continue
		}
		o.blackboard.SetConceptStatus(inferred.Name(), domain.ConceptPending)
		inferred.Concept.Reference = nil
	}
}

// updateExecutionTracking closes out one attempt: execution-row status,
// counters, completion order and observer events.
func (o *Orchestrator) updateExecutionTracking(ctx context.Context, item *WaitlistItem, status domain.ItemStatus) {
	flow := item.Flow()
	if id, ok := o.executionIDs[flow]; ok {
		if err := o.tracker.UpdateExecutionStatus(ctx, id, string(status)); err != nil {
			o.logger.Warn().Err(err).Msg("could not update execution row")
		}
		delete(o.executionIDs, flow)
	}

	switch status {
	case domain.ItemCompleted:
		if o.blackboard.CompletionDetail(flow) == domain.DetailSkipped {
			o.tracker.SkippedExecutions++
			o.emit(monitoring.EventItemSkipped, item, "")
		} else {
			o.tracker.SuccessfulExecutions++
			o.emit(monitoring.EventItemCompleted, item, string(o.blackboard.CompletionDetail(flow)))
		}
		o.tracker.RecordCompletion(flow)
	case domain.ItemFailed:
		o.tracker.FailedExecutions++
		o.emit(monitoring.EventItemFailed, item, o.blackboard.ItemResult(flow))
	case domain.ItemPending:
		o.tracker.RetryCount++
		o.emit(monitoring.EventItemRetrying, item, "")
	}
}

// --- cycle loop ------------------------------------------------------------

// runCycle processes one pass over the waitlist, retries first. Returns
// whether any execution happened plus the items queued for retry.
func (o *Orchestrator) runCycle(ctx context.Context, retries []*WaitlistItem) (bool, []*WaitlistItem, error) {
	executions := 0
	successes := 0
	inferenceCount := 0
	var nextRetries []*WaitlistItem

	retried := make(map[*WaitlistItem]struct{}, len(retries))
	toProcess := append([]*WaitlistItem(nil), retries...)
	for _, item := range retries {
		retried[item] = struct{}{}
	}
	for _, item := range o.waitlist.Items {
		if _, ok := retried[item]; !ok {
			toProcess = append(toProcess, item)
		}
	}

	for _, item := range toProcess {
		if err := ctx.Err(); err != nil {
			return executions > 0, nextRetries, err
		}
		if o.blackboard.ItemStatus(item.Flow()) != domain.ItemPending || !o.isReady(item) {
			continue
		}
		if o.beforeItem != nil {
			if err := o.beforeItem(ctx, item); err != nil {
				return executions > 0, nextRetries, err
			}
		}
		executions++
		inferenceCount++
		status, err := o.executeItem(ctx, item)
		if err != nil {
			return executions > 0, nextRetries, err
		}
		if o.afterItem != nil {
			if err := o.afterItem(ctx, item, status); err != nil {
				return executions > 0, nextRetries, err
			}
		}
		if status == domain.ItemCompleted {
			successes++
		} else {
			nextRetries = append(nextRetries, item)
		}

		if o.cfg.CheckpointFrequency > 0 && o.checkpointer != nil &&
			inferenceCount%o.cfg.CheckpointFrequency == 0 {
			if err := o.checkpointer.Save(ctx, o.tracker.CycleCount, inferenceCount); err != nil {
				o.logger.Warn().Err(err).Msg("intra-cycle checkpoint failed")
			} else {
				o.emit(monitoring.EventCheckpointSaved, nil, fmt.Sprintf("inference %d", inferenceCount))
			}
		}
	}

	o.logger.Info().
		Int("cycle", o.tracker.CycleCount).
		Int("executions", executions).
		Int("completions", successes).
		Msg("cycle finished")
	return executions > 0, nextRetries, nil
}

// Run drives the orchestration loop until completion, deadlock, cycle cap
// or cancellation. Final concepts are always returned; a deadlock or the
// cycle cap is reported as the error alongside them. The user-interaction
// signal propagates so the host can surface the prompt and retry.
func (o *Orchestrator) Run(ctx context.Context) ([]*domain.ConceptEntry, error) {
	o.logger.Info().
		Str("waitlist_id", o.waitlist.ID).
		Str("run_id", o.runID).
		Msg("starting orchestration")
	o.emit(monitoring.EventRunStarted, nil, "")

	var retries []*WaitlistItem
	var terminal error

	for o.blackboard.HasOpenItems() && o.tracker.CycleCount < o.cfg.MaxCycles {
		o.tracker.CycleCount++
		o.emit(monitoring.EventCycleStarted, nil, "")

		progress, nextRetries, err := o.runCycle(ctx, retries)
		retries = nextRetries

		if o.checkpointer != nil {
			if cpErr := o.checkpointer.Save(ctx, o.tracker.CycleCount, 0); cpErr != nil {
				o.logger.Warn().Err(cpErr).Msg("cycle checkpoint failed")
			} else {
				o.emit(monitoring.EventCheckpointSaved, nil, "end of cycle")
			}
		}
		if err != nil {
			// Cancellation or a user-interaction pause; the caller decides.
			return o.FinalConcepts(), err
		}
		if !progress {
			o.logger.Warn().Msg("no progress made in last cycle, deadlock detected")
			o.logStuckItems()
			o.emit(monitoring.EventDeadlock, nil, "")
			terminal = errs.ErrDeadlock
			break
		}
	}

	if o.tracker.CycleCount >= o.cfg.MaxCycles && o.blackboard.HasOpenItems() {
		o.logger.Error().Int("max_cycles", o.cfg.MaxCycles).Msg("maximum cycles reached")
		terminal = errs.ErrCycleCapReached
	}

	o.logger.Info().Str("run_id", o.runID).Msg("orchestration finished")
	o.emit(monitoring.EventRunFinished, nil, "")
	o.tracker.LogSummary(o.logger, o.waitlist, o.blackboard, o.concepts)
	return o.FinalConcepts(), terminal
}

// Step executes at most one ready inference and returns whether one ran.
// Used by the host's step/run_to controls.
func (o *Orchestrator) Step(ctx context.Context) (bool, error) {
	if !o.blackboard.HasOpenItems() {
		return false, nil
	}
	if o.tracker.CycleCount == 0 {
		o.tracker.CycleCount = 1
	}
	for _, item := range o.waitlist.Items {
		if o.blackboard.ItemStatus(item.Flow()) != domain.ItemPending || !o.isReady(item) {
			continue
		}
		if _, err := o.executeItem(ctx, item); err != nil {
			return false, err
		}
		return true, nil
	}
	// Nothing ready in this pass; a full cycle boundary may unblock items.
	o.tracker.CycleCount++
	return false, nil
}

// FinalConcepts returns the entries flagged is_final.
func (o *Orchestrator) FinalConcepts() []*domain.ConceptEntry {
	return o.concepts.Final()
}

// StuckItems lists flow indices not completed, for deadlock diagnostics.
func (o *Orchestrator) StuckItems() []domain.FlowIndex {
	var out []domain.FlowIndex
	for _, item := range o.waitlist.Items {
		if o.blackboard.ItemStatus(item.Flow()) != domain.ItemCompleted {
			out = append(out, item.Flow())
		}
	}
	return out
}

func (o *Orchestrator) logStuckItems() {
	stuck := o.StuckItems()
	flows := make([]string, len(stuck))
	for i, f := range stuck {
		flows[i] = string(f)
	}
	o.logger.Warn().Strs("stuck_items", flows).Msg("stuck items")
}

// ItemByConcept returns the waitlist item inferring the named concept.
func (o *Orchestrator) ItemByConcept(name string) *WaitlistItem {
	return o.itemByConcept[name]
}
