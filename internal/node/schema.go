package node

import (
	"fmt"

	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// NodeConfig declares one node's place in a workflow Schema.
type NodeConfig struct {
	NodeType      string   `yaml:"node_type" json:"node_type"`
	Connections   []string `yaml:"connections" json:"connections"`
	ParallelNodes []string `yaml:"parallel_nodes" json:"parallel_nodes"`
	IsRouter      bool     `yaml:"is_router" json:"is_router"`
	Description   string   `yaml:"description" json:"description"`
}

// Schema is the declarative definition of a workflow graph: an entry
// node name and the set of nodes reachable from it.
type Schema struct {
	Entry string                `yaml:"entry" json:"entry"`
	Nodes map[string]NodeConfig `yaml:"nodes" json:"nodes"`
}

// Validate checks the invariants required before a Schema can be run:
// exactly one entry, the entry exists, every node is reachable from the
// entry, router connections define a legal next-node set, and
// parallel_nodes never overlaps the node's own linear successor.
func (s *Schema) Validate() error {
	if s.Entry == "" {
		return flowerrors.NewValidation("node.Schema", "entry is required")
	}
	if _, ok := s.Nodes[s.Entry]; !ok {
		return flowerrors.NewValidation("node.Schema", fmt.Sprintf("entry node %q is not defined", s.Entry))
	}

	for name, cfg := range s.Nodes {
		if cfg.NodeType == "" {
			return flowerrors.NewValidation("node.Schema", fmt.Sprintf("node %q has no node_type", name))
		}
		for _, conn := range cfg.Connections {
			if _, ok := s.Nodes[conn]; !ok {
				return flowerrors.NewValidation("node.Schema", fmt.Sprintf("node %q connects to undefined node %q", name, conn))
			}
		}
		for _, p := range cfg.ParallelNodes {
			if _, ok := s.Nodes[p]; !ok {
				return flowerrors.NewValidation("node.Schema", fmt.Sprintf("node %q declares undefined parallel node %q", name, p))
			}
		}
		if len(cfg.Connections) > 0 && len(cfg.ParallelNodes) > 0 {
			linear := cfg.Connections[0]
			for _, p := range cfg.ParallelNodes {
				if p == linear {
					return flowerrors.NewValidation("node.Schema", fmt.Sprintf("node %q lists %q as both the linear successor and a parallel node", name, p))
				}
			}
		}
		if cfg.IsRouter && len(cfg.Connections) == 0 {
			return flowerrors.NewValidation("node.Schema", fmt.Sprintf("router node %q declares no candidate connections", name))
		}
	}

	if err := s.checkReachability(); err != nil {
		return err
	}
	return nil
}

func (s *Schema) checkReachability() error {
	visited := map[string]bool{}
	var walk func(name string)
	walk = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		cfg, ok := s.Nodes[name]
		if !ok {
			return
		}
		for _, next := range cfg.Connections {
			walk(next)
		}
		for _, p := range cfg.ParallelNodes {
			walk(p)
		}
	}
	walk(s.Entry)

	for name := range s.Nodes {
		if !visited[name] {
			return flowerrors.NewValidation("node.Schema", fmt.Sprintf("node %q is not reachable from entry %q", name, s.Entry))
		}
	}
	return nil
}
