package modreg

import (
	"container/heap"
	"slices"
	"sort"
)

// Graph maps a module key to the keys it depends on. Dependencies that are
// not themselves keys of the graph are outside the subset being ordered and
// are ignored by the resolver.
type Graph map[string][]string

// TopologicalOrder returns an order in which every key appears after all of
// its in-graph dependencies. It uses Kahn's algorithm; whenever several keys
// are ready the lexically smallest goes first, so a fixed graph always yields
// the same order.
//
// If the graph contains cycles the returned error is a *CycleError listing
// exactly the keys on each cycle. Keys that are merely downstream of a cycle
// are not reported as members.
func TopologicalOrder(g Graph) ([]string, error) {
	indegree := make(map[string]int, len(g))
	dependents := make(map[string][]string, len(g))
	for key, deps := range g {
		if _, ok := indegree[key]; !ok {
			indegree[key] = 0
		}
		for _, d := range uniqueDeps(deps) {
			if _, inGraph := g[d]; !inGraph {
				continue
			}
			indegree[key]++
			dependents[d] = append(dependents[d], key)
		}
	}

	ready := &keyHeap{}
	for key, n := range indegree {
		if n == 0 {
			heap.Push(ready, key)
		}
	}

	order := make([]string, 0, len(g))
	for ready.Len() > 0 {
		key := heap.Pop(ready).(string)
		order = append(order, key)
		for _, dep := range dependents[key] {
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(order) == len(g) {
		return order, nil
	}

	remaining := make(map[string]bool, len(g)-len(order))
	for key, n := range indegree {
		if n > 0 {
			remaining[key] = true
		}
	}
	return order, &CycleError{Cycles: findCycles(g, remaining)}
}

// findCycles runs Tarjan's strongly connected components over the nodes
// Kahn could not place and keeps the components that actually loop.
func findCycles(g Graph, nodes map[string]bool) [][]string {
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	index := 0
	indices := make(map[string]int, len(keys))
	lowlink := make(map[string]int, len(keys))
	onStack := make(map[string]bool, len(keys))
	var stack []string
	var cycles [][]string

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range uniqueDeps(g[v]) {
			if !nodes[w] {
				continue
			}
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 || slices.Contains(g[v], v) {
			sort.Strings(component)
			cycles = append(cycles, component)
		}
	}

	for _, k := range keys {
		if _, seen := indices[k]; !seen {
			strongConnect(k)
		}
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

// Dependents returns every key that transitively depends on key, in
// ascending order.
func (g Graph) Dependents(key string) []string {
	reverse := make(map[string][]string, len(g))
	for k, deps := range g {
		for _, d := range deps {
			reverse[d] = append(reverse[d], k)
		}
	}
	seen := map[string]bool{}
	queue := []string{key}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range reverse[cur] {
			if !seen[dep] && dep != key {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func uniqueDeps(deps []string) []string {
	if len(deps) < 2 {
		return deps
	}
	seen := make(map[string]bool, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	sort.Strings(out)
	return slices.Compact(out)
}

// keyHeap is a min-heap of module keys.
type keyHeap []string

func (h keyHeap) Len() int           { return len(h) }
func (h keyHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h keyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *keyHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *keyHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
