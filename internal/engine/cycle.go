package engine

import "slices"

// findCycle reports a dependency cycle among items, or nil for a DAG.
//
// Strongly connected components are found with Tarjan's algorithm, walking
// items in declaration order so that the reported cycle is deterministic.
// The path starts and ends at the earliest declared member of the first
// cyclic component, following parent -> child edges.
func findCycle(items []*Item) []string {
	var (
		index   = 0
		stack   []*Item
		indices = make(map[*Item]int, len(items))
		lowlink = make(map[*Item]int, len(items))
		onStack = make(map[*Item]bool, len(items))
		sccs    [][]*Item
	)

	var strongConnect func(*Item)
	strongConnect = func(v *Item) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range v.children {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []*Item
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, it := range items {
		if _, visited := indices[it]; !visited {
			strongConnect(it)
		}
	}

	var first []*Item
	for _, scc := range sccs {
		if len(scc) == 1 && !slices.Contains(scc[0].children, scc[0]) {
			continue
		}
		slices.SortFunc(scc, func(a, b *Item) int { return a.order - b.order })
		if first == nil || scc[0].order < first[0].order {
			first = scc
		}
	}
	if first == nil {
		return nil
	}
	return cyclePath(first)
}

// cyclePath returns the shortest walk along child edges inside the
// component from its first member back to itself.
func cyclePath(scc []*Item) []string {
	start := scc[0]
	prev := map[*Item]*Item{}
	queue := []*Item{start}
	var last *Item
	for len(queue) > 0 && last == nil {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range cur.children {
			if c == start {
				last = cur
				break
			}
			if _, seen := prev[c]; seen || !slices.Contains(scc, c) {
				continue
			}
			prev[c] = cur
			queue = append(queue, c)
		}
	}

	var rev []string
	for it := last; it != nil && it != start; it = prev[it] {
		rev = append(rev, it.id.String())
	}
	path := []string{start.id.String()}
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return append(path, start.id.String())
}
