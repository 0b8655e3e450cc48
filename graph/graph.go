// Package graph builds the section community structure. Sections become
// nodes; resolved references and shared CORE entities become weighted
// edges; a deterministic partition over that graph becomes the persisted
// communities. No step here calls a model, so the partition is free to
// recompute and identical on every run over the same graph state.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/okkerlund/strata/store"
)

// Config holds the edge-weight tunables. Reference edges outweigh shared
// entity edges because an author writing "see Section 4.2" is a stronger
// topical link than two sections both naming the same entity.
type Config struct {
	// ReferenceWeight is the weight of one resolved section-to-section
	// reference.
	ReferenceWeight float64
	// SharedEntityBase is the base weight of a shared-CORE-entity edge.
	SharedEntityBase float64
	// SharedEntityCap bounds the per-pair bonus from additional shared
	// entities.
	SharedEntityCap int
	// MinShared is the minimum number of shared CORE entities before a
	// pair gets an entity edge at all.
	MinShared int
	// SmallGraphNodes is the node count at or below which a graph with no
	// edges collapses into a single community instead of singletons.
	SmallGraphNodes int
	// Partitioner overrides the community-detection algorithm. Nil uses
	// the built-in greedy modularity partition.
	Partitioner Partitioner
}

// Partitioner turns a weighted section graph into communities. Swapping
// the algorithm touches neither graph construction nor persistence.
type Partitioner interface {
	Partition(g *SectionGraph, docID string) []store.Community
}

// PartitionerFunc adapts a plain function to the Partitioner interface.
type PartitionerFunc func(g *SectionGraph, docID string) []store.Community

func (f PartitionerFunc) Partition(g *SectionGraph, docID string) []store.Community {
	return f(g, docID)
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		ReferenceWeight:  3.0,
		SharedEntityBase: 1.0,
		SharedEntityCap:  3,
		MinShared:        1,
		SmallGraphNodes:  15,
	}
}

// edge is a weighted edge in the adjacency list.
type edge struct {
	to     int
	weight float64
}

// SectionGraph is the weighted undirected section graph of one document.
type SectionGraph struct {
	// sectionIDs is sorted; node index i corresponds to sectionIDs[i].
	sectionIDs  []string
	adj         [][]edge
	totalWeight float64
	edgeCount   int
	cfg         Config
}

// Build assembles the section graph from persisted references and entity
// mentions. Only section-to-section references contribute edges; table and
// figure references are provenance, not topology.
func Build(ctx context.Context, st *store.Store, docID string, cfg Config) (*SectionGraph, error) {
	if cfg.ReferenceWeight == 0 && cfg.SharedEntityBase == 0 {
		cfg = DefaultConfig()
	}

	sections, err := st.SectionsByDoc(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("loading sections: %w", err)
	}
	refs, err := st.ReferencesByDoc(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("loading references: %w", err)
	}
	shared, err := st.SharedCoreEntities(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("loading shared entities: %w", err)
	}

	ids := make([]string, len(sections))
	for i, s := range sections {
		ids[i] = s.SectionID
	}
	sort.Strings(ids)

	g := &SectionGraph{
		sectionIDs: ids,
		adj:        make([][]edge, len(ids)),
		cfg:        cfg,
	}
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	// Accumulate pair weights before building adjacency so parallel edges
	// (a reference plus shared entities) merge into one.
	type pair struct{ a, b int }
	weights := make(map[pair]float64)
	addWeight := func(aID, bID string, w float64) {
		ai, okA := index[aID]
		bi, okB := index[bID]
		if !okA || !okB || ai == bi {
			return
		}
		if ai > bi {
			ai, bi = bi, ai
		}
		weights[pair{ai, bi}] += w
	}

	for _, r := range refs {
		if r.TargetKind != store.TargetSection {
			continue
		}
		addWeight(r.FromSectionID, r.TargetID, cfg.ReferenceWeight)
	}
	for _, sp := range shared {
		if sp.Shared < cfg.MinShared {
			continue
		}
		bonus := sp.Shared
		if bonus > cfg.SharedEntityCap {
			bonus = cfg.SharedEntityCap
		}
		addWeight(sp.SectionA, sp.SectionB, cfg.SharedEntityBase+float64(bonus))
	}

	for p, w := range weights {
		g.adj[p.a] = append(g.adj[p.a], edge{to: p.b, weight: w})
		g.adj[p.b] = append(g.adj[p.b], edge{to: p.a, weight: w})
		g.totalWeight += w
		g.edgeCount++
	}
	// Map iteration above is unordered; sorted adjacency keeps the
	// partition deterministic.
	for i := range g.adj {
		sort.Slice(g.adj[i], func(a, b int) bool { return g.adj[i][a].to < g.adj[i][b].to })
	}

	slog.Debug("graph: built section graph",
		"doc_id", docID, "nodes", len(ids), "edges", g.edgeCount)
	return g, nil
}

// Nodes returns the number of sections in the graph.
func (g *SectionGraph) Nodes() int { return len(g.sectionIDs) }

// Edges returns the number of distinct weighted edges.
func (g *SectionGraph) Edges() int { return g.edgeCount }

// Run builds the graph, partitions it, and replaces the document's
// persisted communities wholesale. Patching communities incrementally is
// never attempted; the partition is cheap and global state.
func Run(ctx context.Context, st *store.Store, docID string, cfg Config) ([]store.Community, error) {
	g, err := Build(ctx, st, docID, cfg)
	if err != nil {
		return nil, err
	}
	partitioner := cfg.Partitioner
	if partitioner == nil {
		partitioner = PartitionerFunc(func(g *SectionGraph, docID string) []store.Community {
			return g.Partition(docID)
		})
	}
	communities := partitioner.Partition(g, docID)
	if err := st.ReplaceCommunities(ctx, docID, communities); err != nil {
		return nil, fmt.Errorf("replacing communities: %w", err)
	}
	slog.Info("graph: communities rebuilt",
		"doc_id", docID, "nodes", g.Nodes(), "edges", g.Edges(), "communities", len(communities))
	return communities, nil
}
