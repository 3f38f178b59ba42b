// Package node defines the Node abstraction nodes of a workflow graph
// implement, plus a constructor registry keyed by a stable string type
// name rather than reflection.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowcoreio/enginecore/internal/taskctx"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// Node is a single unit of work in a workflow graph.
type Node interface {
	// Type returns the node's registered type identity, e.g. "http.fetch".
	Type() string
	// Name returns the node's instance name within a schema.
	Name() string
	// Process runs the node against tc, returning the context to pass to
	// whatever follows (usually tc itself, mutated).
	Process(ctx context.Context, tc *taskctx.TaskContext) (*taskctx.TaskContext, error)
}

// Constructor builds a Node instance for a given schema-declared name.
type Constructor func(name string) (Node, error)

// Registry maps a node type identity to its Constructor. Registration is
// a stable string key, never reflect.Type, so the set of available node
// types is explicit and serializable.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under typeName. Re-registering the same
// typeName overwrites the previous constructor.
func (r *Registry) Register(typeName string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[typeName] = ctor
}

// Build instantiates a node of typeName with the given instance name.
func (r *Registry) Build(typeName, name string) (Node, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, flowerrors.NewNotFound("node.Registry", fmt.Sprintf("no constructor registered for node type %q", typeName))
	}
	return ctor(name)
}

// Types returns the set of registered type identities.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		out = append(out, t)
	}
	return out
}
