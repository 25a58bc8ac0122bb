// Package workflow compiles generation requests into the node graph the
// image engine executes.
package workflow

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Ref points at an output slot of another node in the same graph.
type Ref struct {
	Node string
	Slot int
}

// MarshalJSON encodes the reference as the engine's [nodeId, slot] pair.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Node, r.Slot})
}

// Node is a single processing step. Input values are either literals
// (string, int, float64) or Ref.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Input returns the named input value.
func (n Node) Input(name string) (any, bool) {
	v, ok := n.Inputs[name]
	return v, ok
}

// Ref returns the named input as a reference.
func (n Node) Ref(name string) (Ref, bool) {
	v, ok := n.Inputs[name]
	if !ok {
		return Ref{}, false
	}
	r, ok := v.(Ref)
	return r, ok
}

func (n Node) clone() Node {
	in := make(map[string]any, len(n.Inputs))
	for k, v := range n.Inputs {
		in[k] = v
	}
	return Node{ClassType: n.ClassType, Inputs: in}
}

// Graph is an immutable workflow keyed by node id.
type Graph struct {
	nodes map[string]Node
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// IDs returns node ids in ascending numeric order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	SortIDs(ids)
	return ids
}

// ByClass returns the ids of nodes with the given class, in numeric order.
func (g *Graph) ByClass(classType string) []string {
	var ids []string
	for _, id := range g.IDs() {
		if g.nodes[id].ClassType == classType {
			ids = append(ids, id)
		}
	}
	return ids
}

// MarshalJSON encodes the graph in the engine's prompt format.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.nodes)
}

// SortIDs orders node ids by numeric value, falling back to lexical order
// for ids that are not integers.
func SortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}

// idAllocator hands out node ids strictly greater than any numeric id it was
// seeded with.
type idAllocator struct {
	next int
}

func newIDAllocator(existing []string) *idAllocator {
	max := 0
	for _, id := range existing {
		if n, err := strconv.Atoi(id); err == nil && n > max {
			max = n
		}
	}
	return &idAllocator{next: max + 1}
}

func (a *idAllocator) take() string {
	id := strconv.Itoa(a.next)
	a.next++
	return id
}
