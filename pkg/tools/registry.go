// Package tools holds the executor registry: the bridge between a granted
// approval and the code that performs the side effect.
//
// Executors are registered per tool family, optionally with a JSON Schema
// that final arguments must satisfy before the executor runs. The registry
// is the last hop on the apply path, so it also carries the commit marker
// protocol: approved invocations run with the commit argument set, letting
// a single tool implementation serve both the preview pass and the real
// apply pass.
package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/promptdeck/agentgate/pkg/preview"
)

// CommitKey is the argument injected on approved invocations. Executors
// that dry-run by default check for it before touching anything.
const CommitKey = "__commit"

// ErrUnknownTool is returned when no executor is registered for a family.
var ErrUnknownTool = fmt.Errorf("no executor registered for tool")

// Executor performs a single tool invocation with fully merged arguments.
type Executor interface {
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f(ctx, args)
}

// ExecuteHook observes every completed invocation, successful or not.
// Wired to the audit trail by the daemon.
type ExecuteHook func(ctx context.Context, tool preview.Tool, args map[string]interface{}, result interface{}, err error)

// Registry maps tool families to executors and validates arguments
// against their registered schemas.
type Registry struct {
	mu        sync.RWMutex
	executors map[preview.Tool]Executor
	schemas   map[preview.Tool]*jsonschema.Schema
	onExecute ExecuteHook
}

// NewRegistry builds an empty registry. hook may be nil.
func NewRegistry(hook ExecuteHook) *Registry {
	return &Registry{
		executors: make(map[preview.Tool]Executor),
		schemas:   make(map[preview.Tool]*jsonschema.Schema),
		onExecute: hook,
	}
}

// Register installs an executor for a tool family with no argument schema,
// replacing any previous registration.
func (r *Registry) Register(tool preview.Tool, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[tool] = ex
	delete(r.schemas, tool)
}

// RegisterWithSchema installs an executor plus a JSON Schema (2020-12)
// that final arguments must satisfy.
func (r *Registry) RegisterWithSchema(tool preview.Tool, ex Executor, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://agentgate.schemas.local/tools/%s.schema.json", tool)
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("tool %q: schema load failed: %w", tool, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("tool %q: schema compile failed: %w", tool, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[tool] = ex
	r.schemas[tool] = compiled
	return nil
}

// Resolve reports whether an executor exists for the tool family.
func (r *Registry) Resolve(tool preview.Tool) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[tool]
	return ex, ok
}

// Execute validates args against the tool's schema, runs the executor,
// and fires the execute hook with the outcome.
func (r *Registry) Execute(ctx context.Context, tool preview.Tool, args map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	ex, ok := r.executors[tool]
	schema := r.schemas[tool]
	hook := r.onExecute
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}

	if schema != nil {
		if args == nil {
			err := fmt.Errorf("tool %q: missing arguments", tool)
			r.fire(hook, ctx, tool, args, nil, err)
			return nil, err
		}
		if err := schema.Validate(normalizeForSchema(args)); err != nil {
			err = fmt.Errorf("tool %q: argument validation failed: %w", tool, err)
			r.fire(hook, ctx, tool, args, nil, err)
			return nil, err
		}
	}

	result, err := ex.Execute(ctx, args)
	r.fire(hook, ctx, tool, args, result, err)
	return result, err
}

func (r *Registry) fire(hook ExecuteHook, ctx context.Context, tool preview.Tool, args map[string]interface{}, result interface{}, err error) {
	if hook != nil {
		hook(ctx, tool, args, result, err)
	}
}

// normalizeForSchema strips the commit marker so registered schemas only
// describe the tool's real argument surface.
func normalizeForSchema(args map[string]interface{}) map[string]interface{} {
	if _, ok := args[CommitKey]; !ok {
		return args
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k == CommitKey {
			continue
		}
		out[k] = v
	}
	return out
}
