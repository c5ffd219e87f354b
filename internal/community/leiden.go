package community

import (
	"math/rand"
	"sort"
)

// Options controls community detection. Detection is deterministic for a
// fixed seed and input graph.
type Options struct {
	Seed                      int64   `yaml:"seed"`
	Tolerance                 float64 `yaml:"tolerance"`
	MaxIterations             int     `yaml:"max_iterations"`
	IncludeIntermediateLevels bool    `yaml:"include_intermediate_levels"`
}

// DefaultOptions returns the standard detection parameters.
func DefaultOptions() Options {
	return Options{
		Seed:                      42,
		Tolerance:                 1e-4,
		MaxIterations:             10,
		IncludeIntermediateLevels: true,
	}
}

// Edge is an undirected weighted edge between two entity ids.
type Edge struct {
	A      string
	B      string
	Weight float64
}

// Partition maps entity id to community number for one hierarchy level.
type Partition map[string]int

// Cluster partitions the graph by modularity optimization: repeated local
// moving followed by graph aggregation, one hierarchy level per aggregation
// round. Level 0 is the finest partition. Always returns at least one level;
// a graph with fewer than two nodes gets a single trivial community.
func Cluster(nodes []string, edges []Edge, opts Options) []Partition {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-4
	}

	if len(nodes) < 2 {
		trivial := make(Partition, len(nodes))
		for _, n := range nodes {
			trivial[n] = 0
		}
		return []Partition{trivial}
	}

	sorted := append([]string(nil), nodes...)
	sort.Strings(sorted)
	idx := make(map[string]int, len(sorted))
	for i, n := range sorted {
		idx[n] = i
	}

	g := newWeightedGraph(len(sorted))
	for _, e := range edges {
		ai, aok := idx[e.A]
		bi, bok := idx[e.B]
		if !aok || !bok || ai == bi {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		g.addEdge(ai, bi, w)
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	// nodeComm[i] is node i's community in the current (aggregated) graph;
	// origComm maps every original node through all aggregation rounds.
	origComm := make([]int, len(sorted))
	for i := range origComm {
		origComm[i] = i
	}

	var levels []Partition
	for round := 0; round < opts.MaxIterations; round++ {
		comm, improved := localMove(g, rng, opts.Tolerance, opts.MaxIterations)

		// Project this round's communities onto the original nodes.
		compact := compactLabels(comm)
		for i := range origComm {
			origComm[i] = compact[comm[origComm[i]]]
		}
		levels = append(levels, partitionOf(sorted, origComm))

		nComms := countDistinct(compact)
		if !improved || nComms == g.n || nComms <= 1 {
			break
		}
		g = g.aggregate(comm, compact, nComms)
	}

	if !opts.IncludeIntermediateLevels && len(levels) > 1 {
		// Keep finest and coarsest only.
		levels = []Partition{levels[0], levels[len(levels)-1]}
	}
	return levels
}

type weightedGraph struct {
	n     int
	adj   []map[int]float64
	deg   []float64 // weighted degree
	total float64   // sum of all edge weights
}

func newWeightedGraph(n int) *weightedGraph {
	g := &weightedGraph{n: n, adj: make([]map[int]float64, n), deg: make([]float64, n)}
	for i := range g.adj {
		g.adj[i] = make(map[int]float64)
	}
	return g
}

func (g *weightedGraph) addEdge(a, b int, w float64) {
	g.adj[a][b] += w
	g.adj[b][a] += w
	g.deg[a] += w
	g.deg[b] += w
	g.total += w
}

// localMove greedily reassigns nodes to the neighboring community with the
// highest modularity gain until a full pass makes no move.
func localMove(g *weightedGraph, rng *rand.Rand, tolerance float64, maxPasses int) ([]int, bool) {
	comm := make([]int, g.n)
	commDeg := make([]float64, g.n)
	for i := range comm {
		comm[i] = i
		commDeg[i] = g.deg[i]
	}
	if g.total == 0 {
		return comm, false
	}

	order := rng.Perm(g.n)
	improvedEver := false
	for pass := 0; pass < maxPasses; pass++ {
		moved := false
		for _, node := range order {
			cur := comm[node]

			// Weight from node into each neighboring community.
			toComm := make(map[int]float64)
			for nb, w := range g.adj[node] {
				toComm[comm[nb]] += w
			}

			commDeg[cur] -= g.deg[node]

			bestComm, bestGain := cur, 0.0
			candidates := make([]int, 0, len(toComm))
			for c := range toComm {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates) // deterministic tie-breaking
			for _, c := range candidates {
				gain := toComm[c] - g.deg[node]*commDeg[c]/(2*g.total)
				base := toComm[cur] - g.deg[node]*commDeg[cur]/(2*g.total)
				if gain-base > bestGain+tolerance {
					bestGain = gain - base
					bestComm = c
				}
			}

			commDeg[bestComm] += g.deg[node]
			if bestComm != cur {
				comm[node] = bestComm
				moved = true
				improvedEver = true
			}
		}
		if !moved {
			break
		}
	}
	return comm, improvedEver
}

// compactLabels renumbers community labels to 0..k-1 by first appearance.
func compactLabels(comm []int) map[int]int {
	compact := make(map[int]int)
	next := 0
	for _, c := range comm {
		if _, ok := compact[c]; !ok {
			compact[c] = next
			next++
		}
	}
	return compact
}

func countDistinct(compact map[int]int) int {
	return len(compact)
}

func partitionOf(nodes []string, comm []int) Partition {
	p := make(Partition, len(nodes))
	for i, n := range nodes {
		p[n] = comm[i]
	}
	return p
}

// aggregate collapses each community into a super-node.
func (g *weightedGraph) aggregate(comm []int, compact map[int]int, nComms int) *weightedGraph {
	ag := newWeightedGraph(nComms)
	for a := 0; a < g.n; a++ {
		ca := compact[comm[a]]
		for b, w := range g.adj[a] {
			if b <= a {
				continue
			}
			cb := compact[comm[b]]
			if ca == cb {
				continue // internal weight does not change local moving
			}
			ag.addEdge(ca, cb, w)
		}
	}
	return ag
}
