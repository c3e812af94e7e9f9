package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/promptdeck/agentgate/pkg/preview"
)

// exprCache compiles CEL predicates once and reuses the programs across
// evaluations. Rule lists are small and stable, so the cache is unbounded.
type exprCache struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

func newExprCache() (*exprCache, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("session", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("detail", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &exprCache{env: env, programs: make(map[string]cel.Program)}, nil
}

func (c *exprCache) program(source string) (cel.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prg, ok := c.programs[source]; ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule compilation failed: %w", issues.Err())
	}
	// Predicates come from stored preferences, so cap their cost.
	prg, err := c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program construction failed: %w", err)
	}

	c.programs[source] = prg
	return prg, nil
}

// eval runs a predicate against a preview. Non-boolean results count as
// no-match.
func (c *exprCache) eval(pv *preview.Envelope, source string) (bool, error) {
	prg, err := c.program(source)
	if err != nil {
		return false, err
	}

	args := pv.OriginalArgs
	if args == nil {
		args = map[string]interface{}{}
	}
	detail := pv.Detail
	if detail == nil {
		detail = map[string]interface{}{}
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"tool":    string(pv.Tool),
		"action":  pv.Action,
		"session": pv.SessionID,
		"args":    args,
		"detail":  detail,
	})
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}

	allowed, ok := out.Value().(bool)
	return ok && allowed, nil
}
