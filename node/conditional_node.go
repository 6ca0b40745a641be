package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/marchworks/dealflow/model"
)

// Evaluator evaluates conditional expressions against the run's variable
// namespaces. Compiled programs are cached per expression text.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

func (e *Evaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		var err error
		program, err = expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.cache[expression] = program
		e.mu.Unlock()
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", expression, result)
	}
	return boolResult, nil
}

var _ Node = new(conditionalNode)

type conditionalNode struct {
	baseNode
	evaluator *Evaluator
}

func NewConditionalNode(base baseNode, evaluator *Evaluator) *conditionalNode {
	return &conditionalNode{
		baseNode:  base,
		evaluator: evaluator,
	}
}

func (n *conditionalNode) Validate() error {
	var config model.ConditionalConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return err
	}
	if len(config.Expression) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "expression can not be empty"}
	}
	if _, err := expr.Compile(config.Expression, expr.AllowUndefinedVariables()); err != nil {
		return model.ValidationError{NodeId: n.id, Message: err.Error()}
	}
	return nil
}

// Execute routes to the "true" or "false" handle. The expression sees the
// variable namespaces directly, e.g. `contact.phone != ""`.
func (n *conditionalNode) Execute(ctx context.Context, execution *Execution) (string, map[string]any, error) {
	var config model.ConditionalConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return "", nil, err
	}
	result, err := n.evaluator.Evaluate(config.Expression, execution.Store.Snapshot())
	if err != nil {
		return "", nil, err
	}
	if result {
		return "true", nil, nil
	}
	return "false", nil, nil
}
