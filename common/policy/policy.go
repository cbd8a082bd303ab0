package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Request is the view of a refinement request exposed to policy expressions
// under the `request` variable.
type Request struct {
	Instructions     string
	ContextFilePath  string
	ContextSelection string
	UserID           string
	WorkflowID       string
}

// Evaluator evaluates admission policy expressions using CEL. An empty
// expression admits everything, so deployments without a policy pay nothing.
type Evaluator struct {
	expression string

	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a policy evaluator for the configured expression.
// The expression is compiled lazily on first use and cached.
func NewEvaluator(expression string) *Evaluator {
	return &Evaluator{
		expression: expression,
		cache:      make(map[string]cel.Program),
	}
}

// Admit evaluates the configured policy against a refinement request.
// Returns true when no policy is configured or the expression evaluates to
// true; a compilation or evaluation failure is an error, not a denial.
func (e *Evaluator) Admit(req Request) (bool, error) {
	if e.expression == "" {
		return true, nil
	}
	return e.evaluate(e.expression, req)
}

func (e *Evaluator) evaluate(expr string, req Request) (bool, error) {
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(expr)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"request": map[string]interface{}{
			"instructions":      req.Instructions,
			"context_file_path": req.ContextFilePath,
			"context_selection": req.ContextSelection,
			"user_id":           req.UserID,
			"workflow_id":       req.WorkflowID,
		},
	})
	if err != nil {
		return false, fmt.Errorf("policy evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy program: %w", err)
	}

	return prg, nil
}

// ClearCache clears the compiled expression cache
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize returns the number of cached expressions
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
