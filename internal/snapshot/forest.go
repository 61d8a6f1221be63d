package snapshot

import (
	"sort"

	"github.com/Dicklesworthstone/zek/internal/model"
)

// BuildForest reconstructs process trees from a flat list with parent links.
//
// Nodes are resolved by index into the input slice, never by pointer, so no
// ownership cycle can form. Roots are processes without a parent or whose
// parent is not in the list. Processes only reachable through a parent cycle
// (pid reuse can produce one) are promoted to roots, which keeps every pid in
// the forest exactly once. Roots and children are ordered by pid.
func BuildForest(procs []model.RawProcess) []model.ProcessNode {
	index := make(map[int32]int, len(procs))
	for i, p := range procs {
		if _, dup := index[p.PID]; !dup {
			index[p.PID] = i
		}
	}

	parent := make([]int, len(procs))
	children := make([][]int, len(procs))
	var roots []int
	for i, p := range procs {
		parent[i] = -1
		if index[p.PID] != i {
			// duplicate pid, first entry wins
			parent[i] = -2
			continue
		}
		if pp := p.ParentPID; pp != nil && *pp != p.PID {
			if pi, ok := index[*pp]; ok {
				parent[i] = pi
				children[pi] = append(children[pi], i)
				continue
			}
		}
		roots = append(roots, i)
	}

	byPID := func(idx []int) {
		sort.Slice(idx, func(a, b int) bool { return procs[idx[a]].PID < procs[idx[b]].PID })
	}
	byPID(roots)
	for i := range children {
		byPID(children[i])
	}

	visited := make([]bool, len(procs))
	var assemble func(i int, root bool) model.ProcessNode
	assemble = func(i int, root bool) model.ProcessNode {
		visited[i] = true
		p := procs[i]
		n := model.ProcessNode{
			PID:         p.PID,
			Name:        p.Name,
			CPUPercent:  p.CPUPercent,
			MemoryBytes: p.MemoryBytes,
			Children:    []model.ProcessNode{},
		}
		if !root {
			ppid := *p.ParentPID
			n.ParentPID = &ppid
		}
		for _, c := range children[i] {
			if !visited[c] {
				n.Children = append(n.Children, assemble(c, false))
			}
		}
		return n
	}

	forest := make([]model.ProcessNode, 0, len(roots))
	for _, r := range roots {
		forest = append(forest, assemble(r, true))
	}

	// Anything left sits on a parent cycle.
	var stranded []int
	for i := range procs {
		if !visited[i] && parent[i] >= 0 {
			stranded = append(stranded, i)
		}
	}
	byPID(stranded)
	for _, i := range stranded {
		if !visited[i] {
			forest = append(forest, assemble(i, true))
		}
	}
	if len(stranded) > 0 {
		sort.SliceStable(forest, func(a, b int) bool { return forest[a].PID < forest[b].PID })
	}
	return forest
}

// CountNodes returns the number of processes in a forest.
func CountNodes(forest []model.ProcessNode) int {
	n := 0
	for i := range forest {
		forest[i].Walk(func(*model.ProcessNode) { n++ })
	}
	return n
}
