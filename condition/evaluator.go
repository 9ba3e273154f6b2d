package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates condition-node expressions using CEL (Common
// Expression Language). Compiled programs are cached per expression.
type Evaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a new condition evaluator with caching
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]cel.Program),
	}
}

// Evaluate evaluates expr against the node's resolved inputs and the
// execution's global variables. The expression must yield a boolean.
func (e *Evaluator) Evaluate(expr string, inputs map[string]interface{}, variables map[string]interface{}) (bool, error) {
	if expr == "" {
		return false, fmt.Errorf("empty condition expression")
	}

	// Convert JSONPath-style $.field to CEL inputs.field for compatibility
	normalized := strings.ReplaceAll(expr, "$.", "inputs.")

	e.mu.RLock()
	prg, exists := e.cache[normalized]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(normalized)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	if variables == nil {
		variables = map[string]interface{}{}
	}

	// The bare input value is exposed as "input" so expressions can say
	// `input == "yes"` without naming the edge key
	activation := map[string]interface{}{
		"inputs": inputs,
		"vars":   variables,
		"input":  defaultInput(inputs),
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("condition evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("inputs", cel.DynType),
		cel.Variable("vars", cel.DynType),
		cel.Variable("input", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

// defaultInput picks the value expressions see as the bare "input"
func defaultInput(inputs map[string]interface{}) interface{} {
	if v, ok := inputs["default"]; ok {
		return v
	}
	if len(inputs) == 1 {
		for _, v := range inputs {
			return v
		}
	}
	return nil
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
