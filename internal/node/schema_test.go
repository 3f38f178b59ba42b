package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validSchema() *Schema {
	return &Schema{
		Entry: "start",
		Nodes: map[string]NodeConfig{
			"start": {NodeType: "http.fetch", Connections: []string{"finish"}},
			"finish": {NodeType: "noop"},
		},
	}
}

func TestValidateAcceptsWellFormedSchema(t *testing.T) {
	s := validSchema()
	assert.NoError(t, s.Validate())
}

func TestValidateRejectsMissingEntry(t *testing.T) {
	s := validSchema()
	s.Entry = ""
	assert.Error(t, s.Validate())
}

func TestValidateRejectsUndefinedEntry(t *testing.T) {
	s := validSchema()
	s.Entry = "nowhere"
	assert.Error(t, s.Validate())
}

func TestValidateRejectsUndefinedConnection(t *testing.T) {
	s := validSchema()
	s.Nodes["start"] = NodeConfig{NodeType: "http.fetch", Connections: []string{"missing"}}
	assert.Error(t, s.Validate())
}

func TestValidateRejectsUnreachableNode(t *testing.T) {
	s := validSchema()
	s.Nodes["orphan"] = NodeConfig{NodeType: "noop"}
	assert.Error(t, s.Validate())
}

func TestValidateRejectsRouterWithNoConnections(t *testing.T) {
	s := validSchema()
	s.Nodes["start"] = NodeConfig{NodeType: "router", IsRouter: true}
	assert.Error(t, s.Validate())
}

func TestValidateRejectsParallelOverlappingLinearSuccessor(t *testing.T) {
	s := &Schema{
		Entry: "start",
		Nodes: map[string]NodeConfig{
			"start": {NodeType: "fanout", Connections: []string{"a"}, ParallelNodes: []string{"a", "b"}},
			"a":     {NodeType: "noop"},
			"b":     {NodeType: "noop"},
		},
	}
	assert.Error(t, s.Validate())
}
