// pkg/graph/graph.go
//
// Directed dependency graph over configuration items. An edge A -> B means
// A's body references B's remote identifier, so B must be applied first.

package graph

import (
	"sort"

	"github.com/fulcrumsec/tenantctl/pkg/config"
)

// Graph holds the dependency edges and the computed deployment order.
type Graph struct {
	items map[config.Ref]*config.Item
	deps  map[config.Ref][]config.Ref // item -> items it depends on
	order []config.Ref
}

// Build constructs the graph from loaded items, failing on a reference to an
// undeclared item or on any cycle. The resulting order is deterministic:
// among ready items the tie-break is (kind precedence rank, name).
func Build(items []*config.Item) (*Graph, error) {
	g := &Graph{
		items: make(map[config.Ref]*config.Item, len(items)),
		deps:  make(map[config.Ref][]config.Ref, len(items)),
	}

	for _, item := range items {
		g.items[item.Key()] = item
	}

	for _, item := range items {
		from := item.Key()
		for _, ref := range item.RawReferences {
			if _, ok := g.items[ref]; !ok {
				return nil, &UnresolvedReferenceError{From: from, Missing: ref}
			}
			if ref == from {
				return nil, &CycleError{Path: []config.Ref{from}}
			}
			g.deps[from] = append(g.deps[from], ref)
		}
		sortRefs(g.deps[from])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, cycle
	}

	g.order = g.topoOrder()
	return g, nil
}

// Item returns the item for a reference key.
func (g *Graph) Item(ref config.Ref) *config.Item {
	return g.items[ref]
}

// DependenciesOf returns the references ref directly depends on.
func (g *Graph) DependenciesOf(ref config.Ref) []config.Ref {
	return g.deps[ref]
}

// Order returns the deterministic topological deployment order.
func (g *Graph) Order() []config.Ref {
	out := make([]config.Ref, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of items in the graph.
func (g *Graph) Len() int {
	return len(g.items)
}

// findCycle runs a DFS with white/grey/black coloring and reports the first
// cycle found, carrying the full cycle path.
func (g *Graph) findCycle() *CycleError {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[config.Ref]int, len(g.items))
	var stack []config.Ref

	var visit func(ref config.Ref) *CycleError
	visit = func(ref config.Ref) *CycleError {
		color[ref] = grey
		stack = append(stack, ref)
		for _, dep := range g.deps[ref] {
			switch color[dep] {
			case grey:
				// Slice the stack from the first occurrence of dep to close
				// the cycle path.
				for i, r := range stack {
					if r == dep {
						path := make([]config.Ref, len(stack)-i)
						copy(path, stack[i:])
						return &CycleError{Path: path}
					}
				}
			case white:
				if ce := visit(dep); ce != nil {
					return ce
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[ref] = black
		return nil
	}

	for _, ref := range g.sortedRefs() {
		if color[ref] == white {
			if ce := visit(ref); ce != nil {
				return ce
			}
		}
	}
	return nil
}

// topoOrder is Kahn's algorithm with a sorted ready set, so identical inputs
// always produce identical plans. Call only after findCycle passed.
func (g *Graph) topoOrder() []config.Ref {
	remaining := make(map[config.Ref]int, len(g.items))
	dependents := make(map[config.Ref][]config.Ref, len(g.items))
	for ref, deps := range g.deps {
		remaining[ref] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], ref)
		}
	}

	ready := make([]config.Ref, 0, len(g.items))
	for ref := range g.items {
		if remaining[ref] == 0 {
			ready = append(ready, ref)
		}
	}
	sortRefs(ready)

	order := make([]config.Ref, 0, len(g.items))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		released := false
		for _, dep := range dependents[next] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
				released = true
			}
		}
		if released {
			sortRefs(ready)
		}
	}
	return order
}

func (g *Graph) sortedRefs() []config.Ref {
	refs := make([]config.Ref, 0, len(g.items))
	for ref := range g.items {
		refs = append(refs, ref)
	}
	sortRefs(refs)
	return refs
}

// sortRefs orders by (kind precedence rank, name). ServicePrincipal and
// SSOApp share a rank, so names interleave across those kinds; the kind
// only disambiguates equal names.
func sortRefs(refs []config.Ref) {
	sort.Slice(refs, func(i, j int) bool {
		ri, rj := refs[i].Kind.PrecedenceRank(), refs[j].Kind.PrecedenceRank()
		if ri != rj {
			return ri < rj
		}
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].Kind < refs[j].Kind
	})
}
