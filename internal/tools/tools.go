// Package tools defines the tools the assistant may call and the
// executors behind them.
package tools

import (
	"context"
	"fmt"
)

// Kind identifies a tool. The set is closed; names the assistant sends
// that are not in the table below map to [KindUnknown].
type Kind int

const (
	KindUnknown Kind = iota
	KindCreateProject
	KindUpdateProject
	KindCreateTask
	KindUpdateTask
	KindSearchCode
	KindGetFile
)

var kindNames = map[string]Kind{
	"create_project":     KindCreateProject,
	"update_project":     KindUpdateProject,
	"create_task":        KindCreateTask,
	"update_task":        KindUpdateTask,
	"github_search_code": KindSearchCode,
	"github_get_file":    KindGetFile,
}

// ParseKind maps a tool name to its Kind.
func ParseKind(name string) Kind {
	if k, ok := kindNames[name]; ok {
		return k
	}
	return KindUnknown
}

// String returns the tool name for k, or "unknown".
func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// Descriptor is what the assistant service is told about a tool.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Executor runs a tool. The payload must be JSON-serializable. Errors
// should be [*ExecError]; anything else is reported as upstream.
type Executor func(ctx context.Context, args map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Kind        Kind           `json:"-"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Executor       `json:"-"`
}

// Descriptor returns the advertised shape of t.
func (t *Tool) Descriptor() Descriptor {
	return Descriptor{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Registry holds available tools. It is immutable once built.
type Registry struct {
	tools map[Kind]*Tool
	order []Kind
}

// NewRegistry builds a registry from ts. Every tool name must map to a
// known [Kind] and appear at most once.
func NewRegistry(ts ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[Kind]*Tool, len(ts))}
	for _, t := range ts {
		k := ParseKind(t.Name)
		if k == KindUnknown {
			return nil, fmt.Errorf("tools: unknown tool name %q", t.Name)
		}
		if _, dup := r.tools[k]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", t.Name)
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tools: tool %q has no handler", t.Name)
		}
		t.Kind = k
		r.tools[k] = t
		r.order = append(r.order, k)
	}
	return r, nil
}

// Lookup returns the tool for name, or [*ErrUnknownTool] when the name is
// not a known tool or its backend is not configured.
func (r *Registry) Lookup(name string) (*Tool, error) {
	t, ok := r.tools[ParseKind(name)]
	if !ok {
		return nil, &ErrUnknownTool{Name: name}
	}
	return t, nil
}

// Descriptors returns all tool descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.tools[k].Descriptor())
	}
	return out
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.tools[k].Name)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }

// object builds a JSON-schema object with the given properties.
func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
