package sequence

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/geoguansin/ncflow/internal/domain"
)

// ConditionEvaluator provides condition evaluation with compiled-program
// caching. Conditions are expr-lang expressions over the variables the
// invoking sequence assembles (concept statuses, cell values, workspace).
type ConditionEvaluator struct {
	mu sync.RWMutex

	compiledCache map[string]*vm.Program
}

// NewConditionEvaluator creates a new condition evaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		compiledCache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates a condition expression against variables.
func (ce *ConditionEvaluator) Evaluate(condition string, variables map[string]any) (bool, error) {
	if condition == "" {
		return false, domain.NewDomainError(domain.ErrCodeInvalidInput, "condition cannot be empty", nil)
	}

	program, err := ce.getCompiledProgram(condition)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, variables)
	if err != nil {
		return false, domain.NewDomainError(domain.ErrCodeValidationFailed,
			fmt.Sprintf("evaluating condition %q", condition), err)
	}

	resultBool, ok := result.(bool)
	if !ok {
		return false, domain.NewDomainError(domain.ErrCodeInvalidType,
			fmt.Sprintf("condition %q did not return boolean, got %T", condition, result), nil)
	}
	return resultBool, nil
}

// getCompiledProgram returns a cached compiled program or compiles one.
func (ce *ConditionEvaluator) getCompiledProgram(condition string) (*vm.Program, error) {
	ce.mu.RLock()
	program, cached := ce.compiledCache[condition]
	ce.mu.RUnlock()
	if cached {
		return program, nil
	}

	program, err := expr.Compile(condition, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("compiling condition %q", condition), err)
	}

	ce.mu.Lock()
	ce.compiledCache[condition] = program
	ce.mu.Unlock()
	return program, nil
}
