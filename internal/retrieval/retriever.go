// Package retrieval builds query context from the graph at three zoom
// levels: the neighborhood of an entity (local), the entity's community
// (community), and the community landscape (global). Hierarchical and
// adaptive modes combine them.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/status"
)

// Retrieval type labels, carried in the response envelope.
const (
	TypeLocal        = "local"
	TypeCommunity    = "community"
	TypeGlobal       = "global"
	TypeHierarchical = "hierarchical"
)

const (
	defaultHopLimit   = 2
	coMemberLimit     = 10
	pathCap           = 25
	hierarchicalSeeds = 5
)

// Retriever answers retrieval requests against the graph store.
type Retriever struct {
	store  graph.Store
	logger *zap.Logger
}

// New creates a Retriever.
func New(store graph.Store, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, logger: logger.Named("retrieval")}
}

// Path is one traversal step recorded during local retrieval.
type Path struct {
	From     string `json:"from"`
	Relation string `json:"relation"`
	To       string `json:"to"`
	Distance int    `json:"distance"`
}

// LocalData is the payload of a local retrieval.
type LocalData struct {
	Seed      graph.Entity          `json:"seed"`
	Neighbors []graph.RelatedEntity `json:"neighbors"`
	Paths     []Path                `json:"paths"`
	TextUnits []graph.TextUnit      `json:"text_units,omitempty"`
}

// Local returns the neighborhood of a named entity within hopLimit hops.
func (r *Retriever) Local(ctx context.Context, entityName string, hopLimit int) status.Envelope {
	if strings.TrimSpace(entityName) == "" {
		return status.Fail(status.E(status.KindInvalidInput, "entity name is empty"))
	}
	if hopLimit <= 0 {
		hopLimit = defaultHopLimit
	}

	seed, err := r.store.FindEntityByName(ctx, entityName, "")
	if err != nil {
		return status.Fail(err)
	}
	if seed == nil {
		return status.Fail(status.Ef(status.KindNotFound, "entity %q not found", entityName))
	}

	ec, err := r.store.EntityContext(ctx, seed.ID, hopLimit, true)
	if err != nil {
		return status.Fail(err)
	}

	paths := make([]Path, 0, len(ec.RelatedEntities))
	for _, re := range ec.RelatedEntities {
		if len(paths) >= pathCap {
			break
		}
		paths = append(paths, Path{
			From:     seed.Name,
			Relation: re.RelationType,
			To:       re.Entity.Name,
			Distance: re.Distance,
		})
	}

	return status.Retrieved(TypeLocal, LocalData{
		Seed:      ec.Entity,
		Neighbors: ec.RelatedEntities,
		Paths:     paths,
		TextUnits: ec.TextUnits,
	})
}

// CommunityData is the payload of a community retrieval.
type CommunityData struct {
	Seed      graph.Entity    `json:"seed"`
	Community graph.Community `json:"community"`
	CoMembers []graph.Entity  `json:"co_members"`
}

// Community returns the seed entity's community with co-members and summary.
func (r *Retriever) Community(ctx context.Context, entityName string) status.Envelope {
	seed, err := r.store.FindEntityByName(ctx, entityName, "")
	if err != nil {
		return status.Fail(err)
	}
	if seed == nil {
		return status.Fail(status.Ef(status.KindNotFound, "entity %q not found", entityName))
	}

	comm, err := r.store.CommunityOf(ctx, seed.ID, 0)
	if err != nil {
		return status.Fail(err)
	}

	members, err := r.store.CommunityMembers(ctx, comm.ID, coMemberLimit+1)
	if err != nil {
		return status.Fail(err)
	}
	coMembers := make([]graph.Entity, 0, coMemberLimit)
	for _, m := range members {
		if m.ID == seed.ID {
			continue
		}
		coMembers = append(coMembers, m)
		if len(coMembers) >= coMemberLimit {
			break
		}
	}

	return status.Retrieved(TypeCommunity, CommunityData{
		Seed:      *seed,
		Community: *comm,
		CoMembers: coMembers,
	})
}

// GlobalData is the payload of a global retrieval.
type GlobalData struct {
	Communities        []graph.Community `json:"communities"`
	TotalEntities      int               `json:"total_entities"`
	SummariesAvailable bool              `json:"summaries_available"`
}

// Global returns the community landscape. Meaningful global answering needs
// summaries; SummariesAvailable tells the caller whether they exist.
func (r *Retriever) Global(ctx context.Context) status.Envelope {
	comms, err := r.store.Communities(ctx, -1)
	if err != nil {
		return status.Fail(err)
	}
	stats, err := r.store.GraphStatistics(ctx)
	if err != nil {
		return status.Fail(err)
	}

	summarized := false
	for i := range comms {
		if comms[i].Summarized() {
			summarized = true
			break
		}
	}

	return status.Retrieved(TypeGlobal, GlobalData{
		Communities:        comms,
		TotalEntities:      stats.Entities,
		SummariesAvailable: summarized,
	})
}

// HierarchicalData unions the per-seed results of the requested levels.
type HierarchicalData struct {
	Entities    []graph.Entity    `json:"entities"`
	Communities []graph.Community `json:"communities"`
	TextUnits   []graph.TextUnit  `json:"text_units,omitempty"`
	Global      *GlobalData       `json:"global,omitempty"`
}

// Levels selects which retrieval levels a hierarchical run combines.
type Levels struct {
	Local     bool
	Community bool
	Global    bool
}

// LevelsForQueryType maps a classified query type onto retrieval levels:
// specific questions stay local, comparative ones add community context,
// exploratory ones see everything.
func LevelsForQueryType(queryType string) Levels {
	switch strings.ToLower(queryType) {
	case "comparative":
		return Levels{Local: true, Community: true}
	case "exploratory":
		return Levels{Local: true, Community: true, Global: true}
	default: // specific and anything unclassified
		return Levels{Local: true}
	}
}

// Hierarchical runs the selected levels for each seed entity name and
// combines the results, deduplicating entities, communities, and text units.
// Query-type classification happens once upstream, in the query service; the
// retriever only fans out the levels chosen there (see LevelsForQueryType).
func (r *Retriever) Hierarchical(ctx context.Context, entityNames []string, levels Levels) status.Envelope {
	if len(entityNames) > hierarchicalSeeds {
		entityNames = entityNames[:hierarchicalSeeds]
	}

	data := HierarchicalData{}
	seenEnt := make(map[string]struct{})
	seenComm := make(map[int]struct{})
	seenUnit := make(map[string]struct{})

	addEntity := func(e graph.Entity) {
		if _, dup := seenEnt[e.ID]; dup {
			return
		}
		seenEnt[e.ID] = struct{}{}
		data.Entities = append(data.Entities, e)
	}
	addUnits := func(units []graph.TextUnit) {
		for _, u := range units {
			if _, dup := seenUnit[u.ID]; dup {
				continue
			}
			seenUnit[u.ID] = struct{}{}
			data.TextUnits = append(data.TextUnits, u)
		}
	}

	matched := 0
	for _, name := range entityNames {
		if levels.Local {
			if env := r.Local(ctx, name, defaultHopLimit); env.Status == status.StatusSuccess {
				ld := env.Data.(LocalData)
				matched++
				addEntity(ld.Seed)
				for _, nb := range ld.Neighbors {
					addEntity(nb.Entity)
				}
				addUnits(ld.TextUnits)
			}
		}
		if levels.Community {
			if env := r.Community(ctx, name); env.Status == status.StatusSuccess {
				cd := env.Data.(CommunityData)
				if _, dup := seenComm[cd.Community.ID]; !dup {
					seenComm[cd.Community.ID] = struct{}{}
					data.Communities = append(data.Communities, cd.Community)
				}
				for _, m := range cd.CoMembers {
					addEntity(m)
				}
			}
		}
	}
	if levels.Global {
		if env := r.Global(ctx); env.Status == status.StatusSuccess {
			gd := env.Data.(GlobalData)
			data.Global = &gd
		}
	}

	sort.Slice(data.Communities, func(i, j int) bool { return data.Communities[i].ID < data.Communities[j].ID })

	if matched == 0 && len(data.Entities) == 0 && data.Global == nil {
		return status.Fail(status.E(status.KindNotFound, "no seed entities matched the graph"))
	}
	return status.Retrieved(TypeHierarchical, data)
}
