package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Registry holds the tools available to the agent and dispatches execution.
type Registry struct {
	mu     sync.RWMutex
	tools  map[Kind]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[Kind]Tool),
		logger: logger.With("component", "tool"),
	}
}

// DefaultRegistry returns a registry holding the four builtin tools.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	for _, t := range Builtins() {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool of the same kind.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Kind()] = t
}

// Get resolves a tool by any accepted spelling of its name.
func (r *Registry) Get(name string) (Tool, bool) {
	k, ok := ParseKind(name)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[k]
	return t, ok
}

// Definitions returns the registered tools in catalogue order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, k := range Kinds {
		t, ok := r.tools[k]
		if !ok {
			continue
		}
		defs = append(defs, Definition{
			Name:        k.String(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute runs the named tool. Unknown names yield an error wrapping
// ErrUnknownTool.
func (r *Registry) Execute(ctx context.Context, env *Env, name string, args map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Execute(ctx, env, args)
}

// Dispatch executes one directive and records its outcome. The tool name in
// the returned execution is canonical; failures are carried in Error rather
// than returned, so one bad call never stops the calls after it.
func (r *Registry) Dispatch(ctx context.Context, env *Env, call protocol.ToolCall) protocol.ToolExecution {
	exec := protocol.ToolExecution{
		Call: protocol.ToolCall{ToolName: Normalize(call.ToolName), Arguments: call.Arguments},
	}
	r.logger.Info("tool call", "tool", exec.Call.ToolName)

	result, err := r.Execute(ctx, env, call.ToolName, call.Arguments)
	if err != nil {
		r.logger.Warn("tool failed", "tool", exec.Call.ToolName, "error", err)
		exec.Error = err.Error()
		return exec
	}
	r.logger.Info("tool result", "tool", exec.Call.ToolName)
	exec.Result = result
	return exec
}

// DispatchAll executes calls in order.
func (r *Registry) DispatchAll(ctx context.Context, env *Env, calls []protocol.ToolCall) []protocol.ToolExecution {
	execs := make([]protocol.ToolExecution, 0, len(calls))
	for _, c := range calls {
		execs = append(execs, r.Dispatch(ctx, env, c))
	}
	return execs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
