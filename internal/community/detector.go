// Package community partitions the entity graph into hierarchical
// communities by modularity optimization and maintains their LLM-written
// summaries.
package community

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/graph"
)

// Detector projects the semantic-relation subgraph into memory, clusters it,
// and writes the membership back as community records. Only Relation edges
// participate; grounding and containment edges carry no modularity signal.
type Detector struct {
	store  graph.Store
	opts   Options
	logger *zap.Logger
}

// NewDetector creates a Detector.
func NewDetector(store graph.Store, opts Options, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, opts: opts, logger: logger.Named("community")}
}

// Result reports one detection run.
type Result struct {
	Levels      int `json:"levels"`
	Communities int `json:"communities"`
	Entities    int `json:"entities"`
}

// Detect recomputes the full community hierarchy. Communities whose member
// set is unchanged keep their id (and so their summary); changed groupings
// get fresh ids, which implicitly invalidates stale summaries. A graph with
// fewer than two entities yields one trivial community and never fails.
func (d *Detector) Detect(ctx context.Context) (*Result, error) {
	ents, err := d.store.EntitiesByType(ctx, "")
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(ents))
	for i, e := range ents {
		ids[i] = e.ID
	}

	var edges []Edge
	for _, e := range ents {
		rels, err := d.store.OutgoingRelations(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			edges = append(edges, Edge{A: rel.SourceID, B: rel.TargetID, Weight: rel.Confidence})
		}
	}

	partitions := Cluster(ids, edges, d.opts)

	// Existing member sets, for stable id reuse.
	prior, err := d.store.Communities(ctx, -1)
	if err != nil {
		return nil, err
	}
	priorSig := make(map[string]int) // level|memberSignature -> community id
	nextID := 1
	for _, c := range prior {
		if c.ID >= nextID {
			nextID = c.ID + 1
		}
		members, err := d.store.CommunityMembers(ctx, c.ID, 0)
		if err != nil {
			continue
		}
		priorSig[sigKey(c.Level, memberSignature(members))] = c.ID
	}

	total := 0
	for level, part := range partitions {
		groups := make(map[int][]string)
		for entID, local := range part {
			groups[local] = append(groups[local], entID)
		}

		// Deterministic assignment order.
		locals := make([]int, 0, len(groups))
		for local := range groups {
			locals = append(locals, local)
		}
		sort.Ints(locals)

		membership := make(map[string]int, len(part))
		for _, local := range locals {
			members := groups[local]
			sort.Strings(members)
			sig := sigKey(level, strings.Join(members, ","))
			cid, ok := priorSig[sig]
			if !ok {
				cid = nextID
				nextID++
			}
			for _, entID := range members {
				membership[entID] = cid
			}
		}
		total += len(locals)

		if err := d.store.ReplaceCommunities(ctx, level, membership); err != nil {
			return nil, err
		}
	}

	res := &Result{Levels: len(partitions), Communities: total, Entities: len(ids)}
	d.logger.Info("community detection complete",
		zap.Int("levels", res.Levels),
		zap.Int("communities", res.Communities),
		zap.Int("entities", res.Entities))
	return res, nil
}

// DetectIncrementally refreshes the hierarchy after a set of entities
// changed. The whole partition is recomputed, but communities untouched by
// the change keep their ids and summaries; it exists as a separate entry
// point so callers can skip detection when nothing changed.
func (d *Detector) DetectIncrementally(ctx context.Context, affectedEntityIDs []string) (*Result, error) {
	if len(affectedEntityIDs) == 0 {
		return &Result{}, nil
	}
	d.logger.Debug("incremental detection", zap.Int("affected", len(affectedEntityIDs)))
	return d.Detect(ctx)
}

func memberSignature(members []graph.Entity) string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func sigKey(level int, sig string) string {
	return strconv.Itoa(level) + "|" + sig
}
