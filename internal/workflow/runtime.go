// Package workflow implements the workflow graph runtime: given a
// validated node.Schema and an entry payload, it walks the graph,
// fanning out declared parallel nodes and following router decisions,
// exactly as described by the engine's node-graph execution model.
package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/flowcoreio/enginecore/internal/node"
	"github.com/flowcoreio/enginecore/internal/taskctx"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// RouterNextKey is the TaskContext.Metadata key a router node sets to
// select its successor, overriding the schema's declared connections[0].
const RouterNextKey = "router.next"

// Runtime executes workflow graphs against a node.Registry.
type Runtime struct {
	registry *node.Registry
}

// New constructs a Runtime bound to registry.
func New(registry *node.Registry) *Runtime {
	return &Runtime{registry: registry}
}

// Run walks schema starting at its entry node, building a fresh
// TaskContext from workflowType/payload, and returns the context that
// results once execution reaches a node with no successor.
func (r *Runtime) Run(ctx context.Context, schema *node.Schema, workflowType string, payload map[string]any) (*taskctx.TaskContext, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	tc := taskctx.New(workflowType, payload)
	current := schema.Entry

	for current != "" {
		cfg, ok := schema.Nodes[current]
		if !ok {
			return tc, flowerrors.NewRuntime("workflow.Runtime", fmt.Sprintf("node %q not found in schema", current), nil)
		}

		n, err := r.registry.Build(cfg.NodeType, current)
		if err != nil {
			return tc, err
		}

		logging.Debug("workflow.Runtime", "invoking node %s (type=%s)", current, cfg.NodeType)
		tc, err = n.Process(ctx, tc)
		if err != nil {
			logging.Error("workflow.Runtime", err, "node %s failed", current)
			return tc, err
		}

		if len(cfg.ParallelNodes) > 0 {
			tc, err = r.runParallel(ctx, schema, cfg.ParallelNodes, tc)
			if err != nil {
				return tc, err
			}
		}

		current = nextNode(cfg, tc)
	}

	return tc, nil
}

// runParallel fans cfg's parallel siblings out over independent clones of
// tc via errgroup, then merges their results back into tc in the
// declared sibling order, per the engine's deterministic merge rule.
func (r *Runtime) runParallel(ctx context.Context, schema *node.Schema, siblings []string, tc *taskctx.TaskContext) (*taskctx.TaskContext, error) {
	results := make([]*taskctx.TaskContext, len(siblings))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range siblings {
		i, name := i, name
		cfg, ok := schema.Nodes[name]
		if !ok {
			return tc, flowerrors.NewRuntime("workflow.Runtime", fmt.Sprintf("parallel node %q not found in schema", name), nil)
		}
		g.Go(func() error {
			n, err := r.registry.Build(cfg.NodeType, name)
			if err != nil {
				return err
			}
			clone := tc.Clone()
			out, err := n.Process(gctx, clone)
			if err != nil {
				return fmt.Errorf("parallel node %s: %w", name, err)
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return tc, err
	}

	return taskctx.Merge(tc, results), nil
}

// nextNode determines the node to run after cfg, preferring a router
// decision recorded in Metadata over the schema's first declared
// connection, and returning "" when there is no successor.
func nextNode(cfg node.NodeConfig, tc *taskctx.TaskContext) string {
	if cfg.IsRouter {
		if next, ok := tc.Metadata[RouterNextKey].(string); ok && next != "" {
			delete(tc.Metadata, RouterNextKey)
			return next
		}
	}
	if len(cfg.Connections) == 0 {
		return ""
	}
	return cfg.Connections[0]
}
