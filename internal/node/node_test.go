package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcoreio/enginecore/internal/taskctx"
)

type stubNode struct {
	typ, name string
}

func (n *stubNode) Type() string { return n.typ }
func (n *stubNode) Name() string { return n.name }
func (n *stubNode) Process(ctx context.Context, tc *taskctx.TaskContext) (*taskctx.TaskContext, error) {
	tc.SetNode(n.name, "ok")
	return tc, nil
}

func TestRegistryBuildsRegisteredType(t *testing.T) {
	r := NewRegistry()
	r.Register("stub.echo", func(name string) (Node, error) {
		return &stubNode{typ: "stub.echo", name: name}, nil
	})

	n, err := r.Build("stub.echo", "my-instance")
	require.NoError(t, err)
	assert.Equal(t, "stub.echo", n.Type())
	assert.Equal(t, "my-instance", n.Name())
}

func TestRegistryBuildUnknownTypeFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("missing.type", "x")
	assert.Error(t, err)
}

func TestRegistryTypesListsAllRegistrations(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func(name string) (Node, error) { return &stubNode{typ: "a", name: name}, nil })
	r.Register("b", func(name string) (Node, error) { return &stubNode{typ: "b", name: name}, nil })

	assert.ElementsMatch(t, []string{"a", "b"}, r.Types())
}
