// Package taskctx implements the Task Context: the unit of state that
// flows through a workflow run from node to node.
package taskctx

import (
	"time"

	"github.com/google/uuid"
)

// TaskContext carries a single workflow run's data as it passes through
// the node graph. RunID is immutable after New; every other field may be
// mutated by the node currently processing it.
type TaskContext struct {
	RunID        string
	WorkflowType string
	EventData    map[string]any
	Nodes        map[string]any
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New creates a fresh TaskContext for a workflow run with a freshly
// generated RunID.
func New(workflowType string, eventData map[string]any) *TaskContext {
	now := time.Now()
	if eventData == nil {
		eventData = map[string]any{}
	}
	return &TaskContext{
		RunID:        uuid.NewString(),
		WorkflowType: workflowType,
		EventData:    eventData,
		Nodes:        map[string]any{},
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a copy of tc suitable for handing to a parallel sibling:
// RunID is preserved but Nodes/Metadata/EventData are shallow-copied so
// the sibling can mutate its own view without racing the others.
func (tc *TaskContext) Clone() *TaskContext {
	clone := &TaskContext{
		RunID:        tc.RunID,
		WorkflowType: tc.WorkflowType,
		EventData:    copyMap(tc.EventData),
		Nodes:        copyMap(tc.Nodes),
		Metadata:     copyMap(tc.Metadata),
		CreatedAt:    tc.CreatedAt,
		UpdatedAt:    tc.UpdatedAt,
	}
	return clone
}

// SetNode records the output of node under its name.
func (tc *TaskContext) SetNode(name string, output any) {
	tc.Nodes[name] = output
	tc.Touch()
}

// Touch advances UpdatedAt to now.
func (tc *TaskContext) Touch() {
	tc.UpdatedAt = time.Now()
}

// Merge folds the results of parallel siblings back into tc in stable
// declared order: the first sibling to define a given Nodes or Metadata
// key wins, and neither sibling is allowed to overwrite a key tc already
// held before the fan-out.
func Merge(base *TaskContext, siblings []*TaskContext) *TaskContext {
	for _, sib := range siblings {
		if sib == nil {
			continue
		}
		for k, v := range sib.Nodes {
			if _, exists := base.Nodes[k]; !exists {
				base.Nodes[k] = v
			}
		}
		for k, v := range sib.Metadata {
			if _, exists := base.Metadata[k]; !exists {
				base.Metadata[k] = v
			}
		}
	}
	base.Touch()
	return base
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
