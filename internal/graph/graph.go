// Package graph turns declarative node definitions into a validated,
// deterministically ordered deployment graph.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	ErrCyclicDependency    = errors.New("cyclic dependency")
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrDuplicateNode       = errors.New("duplicate node")
	ErrInvalidDefinition   = errors.New("invalid definition")
)

type (
	CyclicDependencyError struct {
		// Nodes lists every node left unsorted, in declaration order.
		Nodes []string
	}

	UnresolvedReferenceError struct {
		Node      string
		Reference string
	}

	// Node is a validated definition placed in the graph.
	Node struct {
		Definition
		// Index is the position in the input definitions.
		Index     int
		DependsOn []string
	}

	// Graph holds nodes in topological order. It is immutable once built.
	Graph struct {
		nodes      []*Node
		byName     map[string]*Node
		dependents map[string][]string
	}
)

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%s between nodes: %s", ErrCyclicDependency, strings.Join(e.Nodes, ", "))
}

func (e *CyclicDependencyError) Unwrap() error {
	return ErrCyclicDependency
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s: node %q references unknown node %q", ErrUnresolvedReference, e.Node, e.Reference)
}

func (e *UnresolvedReferenceError) Unwrap() error {
	return ErrUnresolvedReference
}

// Build validates the definitions and orders them with Kahn's algorithm.
// Among nodes that are ready at the same time the one declared first wins, so
// a fixed input always produces the same order.
func Build(defs []Definition) (*Graph, error) {
	nodes := make([]*Node, len(defs))
	byName := make(map[string]*Node, len(defs))

	for i, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("%w: definition #%d has no name", ErrInvalidDefinition, i)
		}
		if def.Artifact == "" {
			return nil, fmt.Errorf("%w: node %q has no artifact", ErrInvalidDefinition, def.Name)
		}
		if _, exists := byName[def.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, def.Name)
		}

		node := &Node{Definition: def, Index: i}
		nodes[i] = node
		byName[def.Name] = node
	}

	for _, node := range nodes {
		if err := validateArgs(node, byName); err != nil {
			return nil, err
		}
		node.DependsOn = node.references()
	}

	order, err := sortNodes(nodes)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		nodes:      order,
		byName:     byName,
		dependents: make(map[string][]string, len(order)),
	}
	for _, node := range order {
		for _, dep := range node.DependsOn {
			g.dependents[dep] = append(g.dependents[dep], node.Name)
		}
	}

	return g, nil
}

func validateArgs(node *Node, byName map[string]*Node) error {
	for _, a := range node.Args {
		if a.Kind == ArgOutput && a.Node == node.Name {
			// a constructor cannot consume its own output
			return &CyclicDependencyError{Nodes: []string{node.Name}}
		}
	}

	check := func(args []Arg) error {
		for _, a := range args {
			switch a.Kind {
			case ArgLiteral:
			case ArgParam:
				if a.Key == "" {
					return fmt.Errorf("%w: node %q has a parameter argument without a key", ErrInvalidDefinition, node.Name)
				}
			case ArgOutput:
				if _, ok := byName[a.Node]; !ok {
					return &UnresolvedReferenceError{Node: node.Name, Reference: a.Node}
				}
				if !validField(a.Field) {
					return fmt.Errorf("%w: node %q references unknown field %q of %q", ErrInvalidDefinition, node.Name, a.Field, a.Node)
				}
			default:
				return fmt.Errorf("%w: node %q has an argument of unknown kind %d", ErrInvalidDefinition, node.Name, a.Kind)
			}
		}
		return nil
	}

	if err := check(node.Args); err != nil {
		return err
	}
	for _, c := range node.Calls {
		if c.Method == "" {
			return fmt.Errorf("%w: node %q has a call without a method", ErrInvalidDefinition, node.Name)
		}
		if err := check(c.Args); err != nil {
			return err
		}
	}

	return nil
}

func sortNodes(nodes []*Node) ([]*Node, error) {
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]*Node, len(nodes))

	for _, node := range nodes {
		inDegree[node.Name] = len(node.DependsOn)
		for _, dep := range node.DependsOn {
			dependents[dep] = append(dependents[dep], node)
		}
	}

	// ready is kept sorted by declaration index
	var ready []*Node
	for _, node := range nodes {
		if inDegree[node.Name] == 0 {
			ready = append(ready, node)
		}
	}

	order := make([]*Node, 0, len(nodes))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		for _, dep := range dependents[node.Name] {
			inDegree[dep.Name]--
			if inDegree[dep.Name] == 0 {
				ready = insertByIndex(ready, dep)
			}
		}
	}

	if len(order) < len(nodes) {
		var remaining []string
		for _, node := range nodes {
			if inDegree[node.Name] > 0 {
				remaining = append(remaining, node.Name)
			}
		}
		return nil, &CyclicDependencyError{Nodes: remaining}
	}

	return order, nil
}

func insertByIndex(ready []*Node, node *Node) []*Node {
	i := sort.Search(len(ready), func(i int) bool { return ready[i].Index > node.Index })
	return slices.Insert(ready, i, node)
}

// Nodes returns the nodes in topological order.
func (g *Graph) Nodes() []*Node {
	return slices.Clone(g.nodes)
}

func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Dependents returns the nodes that directly reference name.
func (g *Graph) Dependents(name string) []string {
	return slices.Clone(g.dependents[name])
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// Select returns the sub-graph made of nodes carrying any of the tags together
// with everything they transitively depend on. No tags selects everything.
func (g *Graph) Select(tags ...string) (*Graph, error) {
	if len(tags) == 0 {
		return g, nil
	}

	wanted := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		wanted[tag] = struct{}{}
	}

	matched := make(map[string]struct{}, len(tags))
	keep := make(map[string]struct{})
	var visit func(name string)
	visit = func(name string) {
		if _, ok := keep[name]; ok {
			return
		}
		keep[name] = struct{}{}
		for _, dep := range g.byName[name].DependsOn {
			visit(dep)
		}
	}

	for _, node := range g.nodes {
		for _, tag := range node.Tags {
			if _, ok := wanted[tag]; ok {
				matched[tag] = struct{}{}
				visit(node.Name)
			}
		}
	}

	for _, tag := range tags {
		if _, ok := matched[tag]; !ok {
			return nil, fmt.Errorf("tag %q does not match any node", tag)
		}
	}

	// rebuilding from the kept definitions in declaration order reproduces
	// the same relative order as the full graph
	byIndex := make([]*Node, 0, len(keep))
	for name := range keep {
		byIndex = append(byIndex, g.byName[name])
	}
	sort.Slice(byIndex, func(i, j int) bool { return byIndex[i].Index < byIndex[j].Index })

	defs := make([]Definition, len(byIndex))
	for i, node := range byIndex {
		defs[i] = node.Definition
	}

	return Build(defs)
}
