// Package narrative models branching dialogue trees and their canonical text
// serialization. Trees are finite, acyclic, and single-rooted; terminal nodes
// carry no choices.
package narrative

import (
	"errors"
	"fmt"
)

// Validation errors. Callers match with errors.Is.
var (
	ErrNoRoot        = errors.New("narrative: tree has no root")
	ErrMultipleRoots = errors.New("narrative: tree has multiple roots")
	ErrCycle         = errors.New("narrative: tree contains a cycle")
	ErrUnknownNode   = errors.New("narrative: choice targets unknown node")
	ErrDuplicateNode = errors.New("narrative: duplicate node id")
	ErrUnreachable   = errors.New("narrative: node unreachable from root")
)

// Content is what a node's speaker says.
type Content struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Emotion string `json:"emotion,omitempty"`
}

// Choice is one outgoing edge of a node.
type Choice struct {
	Label      string   `json:"label"`
	NextNode   string   `json:"next_node"`
	TrustDelta int      `json:"trust_delta,omitempty"`
	FlagsSet   []string `json:"flags_set,omitempty"`
	FlagsUnset []string `json:"flags_unset,omitempty"`
}

// Node is one beat of a dialogue tree. Terminal nodes have no choices.
type Node struct {
	ID      string   `json:"id"`
	Content Content  `json:"content"`
	Choices []Choice `json:"choices,omitempty"`
}

// Tree is a finite, acyclic dialogue graph with exactly one root. Nodes holds
// the nodes in authoring order; the first node reachable from no other node
// is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Root returns the tree's root node. Call Validate first; Root on an invalid
// tree returns the first node with no inbound edge, or nil.
func (t *Tree) Root() *Node {
	inbound := map[string]bool{}
	for _, n := range t.Nodes {
		for _, c := range n.Choices {
			inbound[c.NextNode] = true
		}
	}
	for i := range t.Nodes {
		if !inbound[t.Nodes[i].ID] {
			return &t.Nodes[i]
		}
	}
	return nil
}

// Node returns the node with the given id, or nil.
func (t *Tree) Node(id string) *Node {
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i]
		}
	}
	return nil
}

// Validate checks the tree's structural invariants: unique node ids, every
// choice target present, exactly one root, no cycles, and every node
// reachable from the root.
func (t *Tree) Validate() error {
	if len(t.Nodes) == 0 {
		return ErrNoRoot
	}

	ids := map[string]bool{}
	for _, n := range t.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: empty id", ErrDuplicateNode)
		}
		if ids[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		ids[n.ID] = true
	}

	inbound := map[string]int{}
	for _, n := range t.Nodes {
		for _, c := range n.Choices {
			if !ids[c.NextNode] {
				return fmt.Errorf("%w: %s -> %s", ErrUnknownNode, n.ID, c.NextNode)
			}
			inbound[c.NextNode]++
		}
	}

	var roots []string
	for _, n := range t.Nodes {
		if inbound[n.ID] == 0 {
			roots = append(roots, n.ID)
		}
	}
	switch {
	case len(roots) == 0:
		// Every node has an inbound edge; with finitely many nodes that is
		// only possible through a cycle.
		return ErrCycle
	case len(roots) > 1:
		return fmt.Errorf("%w: %v", ErrMultipleRoots, roots)
	}

	return t.checkAcyclic(roots[0])
}

// checkAcyclic runs an iterative DFS with a three-color marking from root.
// Nodes left white after the walk sit in a component the root cannot reach;
// a cycle among them would otherwise escape the grey-edge check, so they are
// rejected outright.
func (t *Tree) checkAcyclic(root string) error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}

	type frame struct {
		id   string
		next int
	}
	stack := []frame{{id: root}}
	color[root] = grey

	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		n := t.Node(f.id)
		if f.next >= len(n.Choices) {
			color[f.id] = black
			stack = stack[:len(stack)-1]
			continue
		}
		target := n.Choices[f.next].NextNode
		f.next++
		switch color[target] {
		case grey:
			return fmt.Errorf("%w: via %s -> %s", ErrCycle, f.id, target)
		case white:
			color[target] = grey
			stack = append(stack, frame{id: target})
		}
	}

	for _, n := range t.Nodes {
		if color[n.ID] == white {
			return fmt.Errorf("%w: %s", ErrUnreachable, n.ID)
		}
	}
	return nil
}
