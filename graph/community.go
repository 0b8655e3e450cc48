package graph

import (
	"fmt"
	"sort"

	"github.com/okkerlund/strata/store"
)

// minComponentSplit is the minimum component size eligible for further
// modularity-based splitting.
const minComponentSplit = 6

// maxModularityNodes caps the node count for the modularity optimisation.
// Components larger than this are kept as level-0 only.
const maxModularityNodes = 200

// Partition groups the graph's sections into communities. Level-0
// communities are connected components; components large enough are
// further split by greedy modularity optimisation into level-1
// communities. Small documents whose graph has no edges at all collapse
// into a single community: fifteen isolated sections are one topic neighbourhood,
// not fifteen.
func (g *SectionGraph) Partition(docID string) []store.Community {
	if len(g.sectionIDs) == 0 {
		return nil
	}

	if g.edgeCount == 0 && len(g.sectionIDs) <= g.cfg.SmallGraphNodes {
		return []store.Community{{
			DocID:       docID,
			CommunityID: "comm_000",
			Level:       0,
			SectionIDs:  append([]string(nil), g.sectionIDs...),
		}}
	}

	components := g.components()

	var communities []store.Community
	next := 0
	assign := func(level int, members []int) {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = g.sectionIDs[m]
		}
		sort.Strings(ids)
		communities = append(communities, store.Community{
			DocID:       docID,
			CommunityID: fmt.Sprintf("comm_%03d", next),
			Level:       level,
			SectionIDs:  ids,
		})
		next++
	}

	for _, comp := range components {
		assign(0, comp)

		if len(comp) >= minComponentSplit && len(comp) <= maxModularityNodes && g.totalWeight > 0 {
			subs := g.modularitySplit(comp)
			if len(subs) > 1 {
				for _, sub := range subs {
					assign(1, sub)
				}
			}
		}
	}
	return communities
}

// components finds connected components via BFS in node-index order, which
// keeps component numbering deterministic.
func (g *SectionGraph) components() [][]int {
	visited := make([]bool, len(g.sectionIDs))
	var components [][]int

	for i := range g.sectionIDs {
		if visited[i] {
			continue
		}
		var comp []int
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, node)
			for _, e := range g.adj[node] {
				if !visited[e.to] {
					visited[e.to] = true
					queue = append(queue, e.to)
				}
			}
		}
		components = append(components, comp)
	}
	return components
}

// modularitySplit applies a greedy modularity optimisation (simplified
// Louvain) to split a connected component into two or more sub-communities.
// If the split does not improve modularity the original component is
// returned as a single group.
func (g *SectionGraph) modularitySplit(comp []int) [][]int {
	n := len(comp)
	if n < minComponentSplit {
		return [][]int{comp}
	}

	localIdx := make(map[int]int, n)
	for i, node := range comp {
		localIdx[node] = i
	}

	// community[i] is the community label for local node i.
	community := make([]int, n)
	for i := range community {
		community[i] = i // each node starts in its own community
	}

	// Node strengths (sum of edge weights within the subgraph).
	strength := make([]float64, n)
	for i, node := range comp {
		for _, e := range g.adj[node] {
			if _, ok := localIdx[e.to]; ok {
				strength[i] += e.weight
			}
		}
	}

	m2 := 2.0 * g.totalWeight
	if m2 == 0 {
		return [][]int{comp}
	}

	commStrength := make(map[int]float64, n)
	for i := range comp {
		commStrength[community[i]] += strength[i]
	}

	// Greedy modularity optimisation: repeatedly move nodes to the
	// neighbouring community that gives the best modularity gain.
	// Cap iterations to avoid pathological cases.
	maxPasses := 20
	for pass := 0; pass < maxPasses; pass++ {
		moved := false
		for i, node := range comp {
			commWeights := make(map[int]float64)
			for _, e := range g.adj[node] {
				li, ok := localIdx[e.to]
				if !ok {
					continue
				}
				commWeights[community[li]] += e.weight
			}

			currentComm := community[i]
			kiIn := commWeights[currentComm]
			ki := strength[i]
			sigmaCurrent := commStrength[currentComm]

			// Removal delta.
			removeDelta := kiIn/m2 - (sigmaCurrent*ki)/(m2*m2)

			bestComm := currentComm
			bestGain := 0.0
			// Candidate communities in sorted order for determinism.
			candidates := make([]int, 0, len(commWeights))
			for c := range commWeights {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)

			for _, c := range candidates {
				if c == currentComm {
					continue
				}
				gain := (commWeights[c]/m2 - (commStrength[c]*ki)/(m2*m2)) - removeDelta
				if gain > bestGain {
					bestGain = gain
					bestComm = c
				}
			}

			if bestComm != currentComm {
				commStrength[currentComm] -= ki
				commStrength[bestComm] += ki
				community[i] = bestComm
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	// Group nodes by community label, ordered by smallest member.
	groups := make(map[int][]int)
	for i, node := range comp {
		groups[community[i]] = append(groups[community[i]], node)
	}
	labels := make([]int, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(a, b int) bool {
		return groups[labels[a]][0] < groups[labels[b]][0]
	})

	result := make([][]int, 0, len(groups))
	for _, label := range labels {
		result = append(result, groups[label])
	}

	if len(result) <= 1 {
		return [][]int{comp}
	}
	return result
}
