package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/status"
)

// seedGraph builds Alice -> Acme -> Paris with grounding text and a level-0
// community over all three.
func seedGraph(t *testing.T, store graph.Store) (alice, acme, paris string) {
	t.Helper()
	ctx := context.Background()

	_, err := store.UpsertDocument(ctx, "doc1", "d", "", "h")
	require.NoError(t, err)
	require.NoError(t, store.CreateTextUnit(ctx, "u1", "doc1", "Alice works at Acme in Paris.", 0, 29))

	alice, _ = store.UpsertEntity(ctx, "Alice", "PERSON", "an engineer", 0.9)
	acme, _ = store.UpsertEntity(ctx, "Acme", "ORGANIZATION", "a company", 0.9)
	paris, _ = store.UpsertEntity(ctx, "Paris", "GEO", "a city", 0.9)

	require.NoError(t, store.LinkMention(ctx, alice, "u1"))
	require.NoError(t, store.LinkMention(ctx, acme, "u1"))
	require.NoError(t, store.UpsertRelation(ctx, alice, acme, "WORKS_AT", "employment", 0.9, 8))
	require.NoError(t, store.UpsertRelation(ctx, acme, paris, "HEADQUARTERED_IN", "location", 0.8, 7))

	require.NoError(t, store.ReplaceCommunities(ctx, 0, map[string]int{alice: 1, acme: 1, paris: 1}))
	return alice, acme, paris
}

func TestLocalRetrieval(t *testing.T) {
	store := graph.NewMemStore(nil)
	seedGraph(t, store)
	r := New(store, zaptest.NewLogger(t))

	env := r.Local(context.Background(), "Alice", 2)
	require.Equal(t, status.StatusSuccess, env.Status)
	assert.Equal(t, TypeLocal, env.RetrievalType)

	data := env.Data.(LocalData)
	assert.Equal(t, "Alice", data.Seed.Name)
	assert.Len(t, data.Neighbors, 2, "two hops reach Acme and Paris")
	assert.Len(t, data.Paths, 2)
	assert.Len(t, data.TextUnits, 1)
}

func TestLocalRetrievalNotFound(t *testing.T) {
	store := graph.NewMemStore(nil)
	r := New(store, zaptest.NewLogger(t))

	env := r.Local(context.Background(), "Nobody", 2)
	assert.Equal(t, status.StatusNotFound, env.Status)
	assert.Equal(t, status.KindNotFound, env.ErrorKind)
}

func TestCommunityRetrieval(t *testing.T) {
	store := graph.NewMemStore(nil)
	seedGraph(t, store)
	ctx := context.Background()
	require.NoError(t, store.SetCommunitySummary(ctx, 1, "people and places around Acme", []string{"work"}, "medium"))

	r := New(store, zaptest.NewLogger(t))
	env := r.Community(ctx, "Alice")
	require.Equal(t, status.StatusSuccess, env.Status)

	data := env.Data.(CommunityData)
	assert.Equal(t, 1, data.Community.ID)
	assert.True(t, data.Community.Summarized())
	assert.Len(t, data.CoMembers, 2, "seed excluded from co-members")
}

func TestGlobalRetrieval(t *testing.T) {
	store := graph.NewMemStore(nil)
	seedGraph(t, store)
	r := New(store, zaptest.NewLogger(t))

	env := r.Global(context.Background())
	require.Equal(t, status.StatusSuccess, env.Status)
	data := env.Data.(GlobalData)
	assert.Len(t, data.Communities, 1)
	assert.Equal(t, 3, data.TotalEntities)
	assert.False(t, data.SummariesAvailable)

	require.NoError(t, store.SetCommunitySummary(context.Background(), 1, "summary", nil, "low"))
	data = r.Global(context.Background()).Data.(GlobalData)
	assert.True(t, data.SummariesAvailable)
}

func TestHierarchicalDeduplicates(t *testing.T) {
	store := graph.NewMemStore(nil)
	seedGraph(t, store)
	r := New(store, zaptest.NewLogger(t))

	env := r.Hierarchical(context.Background(), []string{"Alice", "Acme"},
		Levels{Local: true, Community: true})
	require.Equal(t, status.StatusSuccess, env.Status)

	data := env.Data.(HierarchicalData)
	assert.Len(t, data.Entities, 3, "Alice, Acme, Paris each appear once")
	assert.Len(t, data.Communities, 1)
	assert.Len(t, data.TextUnits, 1, "shared text unit deduplicated")
}

func TestLevelsForQueryType(t *testing.T) {
	assert.Equal(t, Levels{Local: true}, LevelsForQueryType("specific"))
	assert.Equal(t, Levels{Local: true, Community: true}, LevelsForQueryType("comparative"))
	assert.Equal(t, Levels{Local: true, Community: true, Global: true}, LevelsForQueryType("exploratory"))
	assert.Equal(t, Levels{Local: true}, LevelsForQueryType("unknown"))
}

func TestHierarchicalNoSeeds(t *testing.T) {
	store := graph.NewMemStore(nil)
	r := New(store, zaptest.NewLogger(t))

	env := r.Hierarchical(context.Background(), []string{"Ghost"}, Levels{Local: true})
	assert.Equal(t, status.StatusNotFound, env.Status)
}
