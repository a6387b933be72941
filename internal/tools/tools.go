// Package tools holds the declarative tool descriptors the model can call,
// the process-wide registry, and schema-driven argument parsing.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool is one callable capability: a name, a JSON-schema parameter
// declaration, and the function that runs it. Run returns the string fed
// back to the model; an error becomes an is_error tool result, never a
// failed turn.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object: {"type":"object","properties":{...},"required":[...]}.
	Parameters map[string]any
	// RequiresApproval gates execution on an explicit user decision.
	RequiresApproval bool
	Run              func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds all tools by globally unique name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are a wiring bug and fail loudly.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tools: tool with empty name")
	}
	if t.Run == nil {
		return fmt.Errorf("tools: tool %s has no Run", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tools: duplicate tool name %q", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister registers a slice of tools, panicking on duplicates. Used at
// process assembly where a duplicate is unrecoverable.
func (r *Registry) MustRegister(ts ...Tool) {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Result is the outcome of one tool invocation.
type Result struct {
	CallID  string
	Output  string
	IsError bool
}

// Invoke parses raw JSON arguments against the tool's declared schema and
// runs it. Parse failures and Run errors both come back as error results;
// the turn keeps going either way.
func (r *Registry) Invoke(ctx context.Context, callID, name, rawArgs string) Result {
	tool, ok := r.Get(name)
	if !ok {
		return Result{CallID: callID, Output: fmt.Sprintf("unknown tool: %s", name), IsError: true}
	}

	args, err := ParseArguments(rawArgs, tool.Parameters)
	if err != nil {
		return Result{CallID: callID, Output: err.Error(), IsError: true}
	}

	out, err := tool.Run(ctx, args)
	if err != nil {
		return Result{CallID: callID, Output: err.Error(), IsError: true}
	}
	return Result{CallID: callID, Output: out}
}
