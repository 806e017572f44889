package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/nestor/pkg/llms"
	"github.com/kadirpekel/nestor/pkg/observability"
)

// Registry is a closed set of tools for one worker. Tools are fixed at
// construction; there is no runtime discovery. Iteration follows
// registration order so definitions reach the model in a stable order.
type Registry struct {
	order []string
	tools map[string]Tool
}

func NewRegistry(toolset ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(toolset))}
	for _, tool := range toolset {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register a nil tool")
	}
	name := tool.GetName()
	if name == "" {
		return fmt.Errorf("cannot register a tool without a name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}

	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry) List() []ToolInfo {
	infos := make([]ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, r.tools[name].GetInfo())
	}
	return infos
}

// Definitions renders every registered tool for the model.
func (r *Registry) Definitions() []llms.ToolDefinition {
	defs := make([]llms.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name].GetInfo()))
	}
	return defs
}

// Execute dispatches a call to the named tool and records the outcome.
// Unknown names produce an error result the model can react to.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	tool, ok := r.tools[name]
	if !ok {
		err := fmt.Errorf("unknown tool %q", name)
		return errorResult(name, err.Error(), start), err
	}

	slog.Debug("Executing tool", "tool", name)
	result, err := tool.Execute(ctx, args)
	recordToolExecution(ctx, name, time.Since(start), err)
	if err != nil {
		slog.Warn("Tool execution failed", "tool", name, "error", err)
	}
	return result, err
}

func recordToolExecution(ctx context.Context, name string, duration time.Duration, err error) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordToolExecution(ctx, name, duration, err)
	}
}
