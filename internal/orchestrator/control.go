package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/geoguansin/ncflow/internal/domain"
	errs "github.com/geoguansin/ncflow/internal/domain/errors"
)

// ControlState is the host-visible lifecycle of a controlled run.
type ControlState string

const (
	StateIdle         ControlState = "idle"
	StateRunning      ControlState = "running"
	StatePaused       ControlState = "paused"
	StateWaitingInput ControlState = "waiting_input"
	StateStopped      ControlState = "stopped"
	StateCompleted    ControlState = "completed"
	StateFailed       ControlState = "failed"
)

// errBreakpoint aborts a cycle pass so the controller can park the run at
// a breakpoint without losing state.
var errBreakpoint = errors.New("breakpoint hit")

// errRunToReached aborts a cycle pass once the run_to target completes.
var errRunToReached = errors.New("run_to target reached")

// Controller drives one Orchestrator with host controls: start, pause,
// resume, step, stop, restart, run-to, breakpoints and value overrides.
// The run executes on its own goroutine; the cycle loop services the
// pause token and stop flag between inferences.
type Controller struct {
	mu sync.Mutex

	orch    *Orchestrator
	rebuild func() (*Orchestrator, error)

	pause  *PauseToken
	cancel context.CancelFunc
	done   chan struct{}

	state       ControlState
	breakpoints map[domain.FlowIndex]struct{}
	runTo       domain.FlowIndex

	finals []*domain.ConceptEntry
	runErr error
}

// NewController wraps an orchestrator. rebuild, when non-nil, constructs
// a fresh orchestrator with the same run configuration for Restart.
func NewController(orch *Orchestrator, rebuild func() (*Orchestrator, error)) *Controller {
	c := &Controller{
		orch:        orch,
		rebuild:     rebuild,
		pause:       NewPauseToken(),
		state:       StateIdle,
		breakpoints: make(map[domain.FlowIndex]struct{}),
	}
	c.installHooks()
	return c
}

func (c *Controller) installHooks() {
	c.orch.SetHooks(
		func(ctx context.Context, item *WaitlistItem) error {
			if err := c.pause.Wait(ctx); err != nil {
				return err
			}
			c.mu.Lock()
			_, isBreak := c.breakpoints[item.Flow()]
			c.mu.Unlock()
			if isBreak {
				return errBreakpoint
			}
			return nil
		},
		func(ctx context.Context, item *WaitlistItem, status domain.ItemStatus) error {
			c.mu.Lock()
			target := c.runTo
			c.mu.Unlock()
			if target != "" && item.Flow() == target && status == domain.ItemCompleted {
				return errRunToReached
			}
			return c.pause.Wait(ctx)
		},
	)
}

// State returns the current control state.
func (c *Controller) State() ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Orchestrator exposes the wrapped engine for inspection.
func (c *Controller) Orchestrator() *Orchestrator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orch
}

// Result returns the final concepts and terminal error of the last run.
func (c *Controller) Result() ([]*domain.ConceptEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finals, c.runErr
}

// Wait blocks until the current run goroutine exits.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Start launches the run goroutine. A paused or breakpoint-parked run is
// resumed rather than restarted.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRunning:
		return domain.NewDomainError(domain.ErrCodeInvalidState, "run already in progress", nil)
	case StatePaused, StateWaitingInput:
		c.state = StateRunning
		c.pause.Resume()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateRunning
	go c.runLoop(runCtx)
	return nil
}

// runLoop drives Run, re-entering after breakpoint/run-to parks and
// user-interaction pauses until the run reaches a terminal state.
func (c *Controller) runLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		close(c.done)
		c.mu.Unlock()
	}()

	for {
		finals, err := c.orch.Run(ctx)

		c.mu.Lock()
		c.finals = finals
		switch {
		case err == nil || errors.Is(err, errs.ErrDeadlock):
			c.runErr = err
			c.state = StateCompleted
		case errors.Is(err, errs.ErrCycleCapReached):
			c.runErr = err
			c.state = StateFailed
		case errors.Is(err, context.Canceled):
			c.runErr = errs.ErrStopped
			c.state = StateStopped
		case errors.Is(err, errBreakpoint), errors.Is(err, errRunToReached):
			c.runTo = ""
			c.state = StatePaused
			c.pause.Pause()
			c.mu.Unlock()
			// Park until Resume; then re-enter the loop.
			if waitErr := c.pause.Wait(ctx); waitErr != nil {
				c.mu.Lock()
				c.runErr = errs.ErrStopped
				c.state = StateStopped
				c.mu.Unlock()
				return
			}
			c.mu.Lock()
			c.state = StateRunning
			c.mu.Unlock()
			continue
		case errs.IsNeedsUserInteraction(err):
			c.runErr = err
			c.state = StateWaitingInput
			c.pause.Pause()
			c.mu.Unlock()
			if waitErr := c.pause.Wait(ctx); waitErr != nil {
				c.mu.Lock()
				c.runErr = errs.ErrStopped
				c.state = StateStopped
				c.mu.Unlock()
				return
			}
			c.mu.Lock()
			c.state = StateRunning
			c.mu.Unlock()
			continue
		default:
			c.runErr = err
			c.state = StateFailed
		}
		c.mu.Unlock()
		return
	}
}

// Pause suspends the run before the next inference.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		c.pause.Pause()
		c.state = StatePaused
	}
}

// Resume releases a paused run.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused || c.state == StateWaitingInput {
		c.state = StateRunning
		c.pause.Resume()
	}
}

// StepOnce executes one ready inference while paused, then stays paused.
func (c *Controller) StepOnce(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return false, domain.NewDomainError(domain.ErrCodeInvalidState, "pause the run before stepping", nil)
	}
	orch := c.orch
	c.mu.Unlock()
	return orch.Step(ctx)
}

// Stop cancels the run; blocked user-interaction requests unblock through
// context cancellation.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.state = StateStopped
	c.pause.Resume()
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Restart rebuilds the orchestrator from its repositories with the same
// run configuration and resets control state.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rebuild == nil {
		return domain.NewDomainError(domain.ErrCodeInvalidState, "no rebuild function configured", nil)
	}
	if c.state == StateRunning {
		return domain.NewDomainError(domain.ErrCodeInvalidState, "stop the run before restarting", nil)
	}
	orch, err := c.rebuild()
	if err != nil {
		return err
	}
	c.orch = orch
	c.pause = NewPauseToken()
	c.state = StateIdle
	c.finals = nil
	c.runErr = nil
	c.installHooks()
	return nil
}

// RunTo executes until the named node completes, then pauses.
func (c *Controller) RunTo(ctx context.Context, flow domain.FlowIndex) error {
	c.mu.Lock()
	if c.orch.Waitlist().ByFlow(flow) == nil {
		c.mu.Unlock()
		return domain.NewDomainError(domain.ErrCodeNotFound, "unknown flow index "+string(flow), nil)
	}
	c.runTo = flow
	c.mu.Unlock()
	return c.Start(ctx)
}

// SetBreakpoint pauses the run just before the named node executes.
func (c *Controller) SetBreakpoint(flow domain.FlowIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakpoints[flow] = struct{}{}
}

// ClearBreakpoint removes a breakpoint.
func (c *Controller) ClearBreakpoint(flow domain.FlowIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.breakpoints, flow)
}

// OverrideValue installs a new Reference on a concept and marks it
// complete. With rerunDependents, every inference consuming the concept
// (transitively) is reset to pending so the new value propagates.
func (c *Controller) OverrideValue(concept string, data any, axisNames []string, rerunDependents bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		return domain.NewDomainError(domain.ErrCodeInvalidState, "pause the run before overriding values", nil)
	}
	orch := c.orch
	if err := orch.Concepts().AddReference(concept, data, axisNames); err != nil {
		return err
	}
	orch.Blackboard().SetConceptStatus(concept, domain.ConceptComplete)
	if rerunDependents {
		for _, name := range orch.dataflowDependents(concept) {
			orch.resetItemForConcept(name)
		}
	}
	return nil
}

// RerunFrom resets the node and all its dataflow descendants to pending.
// The next Start re-executes them.
func (c *Controller) RerunFrom(flow domain.FlowIndex) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		return domain.NewDomainError(domain.ErrCodeInvalidState, "pause the run before rerunning", nil)
	}
	orch := c.orch
	item := orch.Waitlist().ByFlow(flow)
	if item == nil {
		return domain.NewDomainError(domain.ErrCodeNotFound, "unknown flow index "+string(flow), nil)
	}
	orch.resetItem(item)
	for _, name := range orch.dataflowDependents(item.ConceptName()) {
		orch.resetItemForConcept(name)
	}
	return nil
}

// ModifyFunction rewrites an inference's working interpretation. The
// inference signature changes with it, so saved checkpoint state for the
// item becomes stale in PATCH reconciliation.
func (c *Controller) ModifyFunction(flow domain.FlowIndex, interpretation map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.orch.Inferences().ByFlowIndex(flow)
	if entry == nil {
		return domain.NewDomainError(domain.ErrCodeNotFound, "unknown flow index "+string(flow), nil)
	}
	entry.WorkingInterpretation = interpretation
	return nil
}

// --- dataflow reset helpers -------------------------------------------------

// dataflowDependents walks the consumer graph: every concept whose
// inference takes the named concept as value/function/context input,
// transitively.
func (o *Orchestrator) dataflowDependents(concept string) []string {
	var out []string
	seen := map[string]struct{}{concept: {}}
	frontier := []string{concept}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, item := range o.waitlist.Items {
			if !o.itemConsumes(item, current) {
				continue
			}
			name := item.ConceptName()
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
			frontier = append(frontier, name)
		}
	}
	return out
}

func (o *Orchestrator) itemConsumes(item *WaitlistItem, concept string) bool {
	entry := item.Entry
	if entry.FunctionConcept != nil && entry.FunctionConcept.Name() == concept {
		return true
	}
	for _, vc := range entry.ValueConcepts {
		if vc.Name() == concept {
			return true
		}
	}
	for _, cc := range entry.ContextConcepts {
		if cc.Name() == concept {
			return true
		}
	}
	return false
}

// resetItem returns an item and its inferred concept to their pre-run
// state; ground concepts keep their values.
func (o *Orchestrator) resetItem(item *WaitlistItem) {
	o.blackboard.SetItemStatus(item.Flow(), domain.ItemPending)
	o.blackboard.ResetExecutionCount(item.Flow())
	o.blackboard.SetCompletionDetail(item.Flow(), domain.DetailNone)
	inferred := item.Entry.ConceptToInfer
	if !inferred.IsGround {
		o.blackboard.SetConceptStatus(inferred.Name(), domain.ConceptPending)
		inferred.Concept.Reference = nil
	}
}

func (o *Orchestrator) resetItemForConcept(name string) {
	if item := o.itemByConcept[name]; item != nil {
		o.resetItem(item)
	}
}
