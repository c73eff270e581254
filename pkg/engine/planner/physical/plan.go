package physical

import (
	"errors"
	"fmt"
	"slices"
)

// Plan is a physical plan: a directed acyclic graph of nodes, where edges
// point from a parent to the children it reads from.
type Plan struct {
	nodes    []Node
	parents  map[Node][]Node
	children map[Node][]Node
}

func newPlan() *Plan {
	return &Plan{
		parents:  make(map[Node][]Node),
		children: make(map[Node][]Node),
	}
}

// Len returns the number of nodes in the plan.
func (p *Plan) Len() int { return len(p.nodes) }

// Nodes returns all nodes in insertion order.
func (p *Plan) Nodes() []Node { return slices.Clone(p.nodes) }

// Roots returns the nodes without parents, in insertion order.
func (p *Plan) Roots() []Node {
	var roots []Node
	for _, n := range p.nodes {
		if len(p.parents[n]) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// Root returns the single root of the plan.
func (p *Plan) Root() (Node, error) {
	roots := p.Roots()
	if len(roots) != 1 {
		return nil, fmt.Errorf("plan has %d roots, expected 1", len(roots))
	}
	return roots[0], nil
}

// Children returns the children of n in edge order.
func (p *Plan) Children(n Node) []Node { return p.children[n] }

// Parents returns the parents of n.
func (p *Plan) Parents(n Node) []Node { return p.parents[n] }

func (p *Plan) addNode(n Node) Node {
	p.nodes = append(p.nodes, n)
	return n
}

func (p *Plan) addEdge(parent, child Node) error {
	if parent == nil || child == nil {
		return errors.New("edge requires a parent and a child")
	}
	if !slices.Contains(p.nodes, parent) || !slices.Contains(p.nodes, child) {
		return fmt.Errorf("edge %s -> %s references a node that is not part of the plan", parent.ID(), child.ID())
	}
	if parent == child {
		return fmt.Errorf("node %s can not be its own child", parent.ID())
	}
	p.children[parent] = append(p.children[parent], child)
	p.parents[child] = append(p.parents[child], parent)
	return nil
}

// eliminateNode removes n from the plan and connects its parents directly
// to its children.
func (p *Plan) eliminateNode(n Node) {
	parents, children := p.parents[n], p.children[n]

	for _, parent := range parents {
		var newChildren []Node
		for _, c := range p.children[parent] {
			if c == n {
				newChildren = append(newChildren, children...)
				continue
			}
			newChildren = append(newChildren, c)
		}
		p.children[parent] = newChildren
	}
	for _, child := range children {
		var newParents []Node
		for _, c := range p.parents[child] {
			if c == n {
				newParents = append(newParents, parents...)
				continue
			}
			newParents = append(newParents, c)
		}
		p.parents[child] = newParents
	}

	delete(p.parents, n)
	delete(p.children, n)
	p.nodes = slices.DeleteFunc(p.nodes, func(x Node) bool { return x == n })
}

// Walk visits n and all nodes reachable from it in pre-order.
func (p *Plan) Walk(n Node, fn func(Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, child := range p.children[n] {
		if err := p.Walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}
