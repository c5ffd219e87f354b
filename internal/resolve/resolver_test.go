package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/huytu0702/graphtog/internal/config"
	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/jsonx"
)

type fakeJudge struct {
	response string
	err      error
	calls    int
}

func (f *fakeJudge) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeJudge) GenerateJSON(ctx context.Context, prompt string, temperature float64, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return jsonx.UnmarshalFromString(f.response, out)
}

func (f *fakeJudge) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("not used")
}

func testCfg() config.EntityResolutionConfig {
	return config.EntityResolutionConfig{
		Enabled:             true,
		SimilarityThreshold: 0.85,
	}
}

func newResolver(t *testing.T, store graph.Store, judge *fakeJudge, cfg config.EntityResolutionConfig) *Resolver {
	t.Helper()
	return New(store, judge, cfg, zaptest.NewLogger(t))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Microsoft", "  microsoft "))
	assert.GreaterOrEqual(t, Similarity("Microsoft", "Microsoft Corporation"), 0.85,
		"prefix abbreviation scores high")
	assert.GreaterOrEqual(t, Similarity("Microsft", "Microsoft"), 0.9, "typo scores high")
	assert.Less(t, Similarity("Microsoft", "Alice"), 0.7)
	assert.Equal(t, 0.0, Similarity("", "anything"))
}

func TestFindSimilar(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()
	_, err := store.UpsertEntity(ctx, "Microsoft", "ORGANIZATION", "", 0.9)
	require.NoError(t, err)
	_, err = store.UpsertEntity(ctx, "Microsoft Corporation", "ORGANIZATION", "", 0.9)
	require.NoError(t, err)
	_, err = store.UpsertEntity(ctx, "Apple", "ORGANIZATION", "", 0.9)
	require.NoError(t, err)

	r := newResolver(t, store, &fakeJudge{}, testCfg())
	sims, err := r.FindSimilar(ctx, "Microsoft", "ORGANIZATION", 0.85)
	require.NoError(t, err)
	require.Len(t, sims, 2)
	assert.Equal(t, "Microsoft", sims[0].Entity.Name)
	assert.Equal(t, 1.0, sims[0].Similarity)
}

func TestFindDuplicatePairs(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()
	_, _ = store.UpsertEntity(ctx, "Microsoft", "ORGANIZATION", "", 0.9)
	_, _ = store.UpsertEntity(ctx, "Microsoft Corporation", "ORGANIZATION", "", 0.9)
	// Same name, different type: never a duplicate pair.
	_, _ = store.UpsertEntity(ctx, "Microsoft", "PRODUCT", "", 0.9)

	r := newResolver(t, store, &fakeJudge{}, testCfg())
	pairs, err := r.FindDuplicatePairs(ctx, "", 0.85)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Less(t, pairs[0].A.ID, pairs[0].B.ID)
}

func TestMergeTransfersEverything(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()

	_, err := store.UpsertDocument(ctx, "doc1", "d", "", "h")
	require.NoError(t, err)
	require.NoError(t, store.CreateTextUnit(ctx, "u1", "doc1", "text a", 0, 6))
	require.NoError(t, store.CreateTextUnit(ctx, "u2", "doc1", "text b", 6, 12))

	primary, _ := store.UpsertEntity(ctx, "Microsoft", "ORGANIZATION", "big company", 0.9)
	dup, _ := store.UpsertEntity(ctx, "Microsoft Corporation", "ORGANIZATION", "", 0.8)
	seattle, _ := store.UpsertEntity(ctx, "Seattle", "GEO", "", 0.9)

	require.NoError(t, store.LinkMention(ctx, primary, "u1"))
	require.NoError(t, store.LinkMention(ctx, dup, "u2"))
	require.NoError(t, store.UpsertRelation(ctx, dup, seattle, "HEADQUARTERED_IN", "", 0.7, 6))
	require.NoError(t, store.UpsertRelation(ctx, primary, seattle, "HEADQUARTERED_IN", "", 0.5, 4))

	r := newResolver(t, store, &fakeJudge{}, testCfg())
	res, err := r.Merge(ctx, primary, []string{dup}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.MergedCount)
	assert.Contains(t, res.Aliases, "Microsoft Corporation")

	ent, err := store.GetEntity(ctx, primary)
	require.NoError(t, err)
	assert.Equal(t, 2, ent.MentionCount, "mention counts unioned")
	assert.Contains(t, ent.Aliases, "Microsoft Corporation")

	// Relation kept the max-confidence variant.
	rels, err := store.OutgoingRelations(ctx, primary)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 0.7, rels[0].Confidence)

	// Both mention edges survived on the primary.
	mentions, err := store.Mentions(ctx, primary)
	require.NoError(t, err)
	assert.Len(t, mentions, 2)

	// The duplicate is gone but its name still resolves via alias.
	_, err = store.GetEntity(ctx, dup)
	require.Error(t, err)
	found, err := store.FindEntityByName(ctx, "Microsoft Corporation", "")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, primary, found.ID)
}

func TestMergeDropsEdgesIntoPrimary(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()

	primary, _ := store.UpsertEntity(ctx, "Globex", "ORGANIZATION", "", 0.9)
	dup, _ := store.UpsertEntity(ctx, "Globex Corp", "ORGANIZATION", "", 0.8)
	other, _ := store.UpsertEntity(ctx, "Springfield", "GEO", "", 0.9)
	require.NoError(t, store.UpsertRelation(ctx, dup, primary, "SUBSIDIARY_OF", "", 0.7, 5))
	require.NoError(t, store.UpsertRelation(ctx, primary, dup, "OWNS", "", 0.6, 5))
	require.NoError(t, store.UpsertRelation(ctx, dup, other, "LOCATED_IN", "", 0.8, 6))

	r := newResolver(t, store, &fakeJudge{}, testCfg())
	_, err := r.Merge(ctx, primary, []string{dup}, "")
	require.NoError(t, err)

	// Edges between the pair vanish instead of becoming self-loops; edges to
	// third parties transfer.
	out, err := store.OutgoingRelations(ctx, primary)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "LOCATED_IN", out[0].Type)
	assert.NotEqual(t, primary, out[0].TargetID)

	in, err := store.IncomingRelations(ctx, primary)
	require.NoError(t, err)
	assert.Empty(t, in)
}

func TestMergeRaisesConfidence(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()
	primary, _ := store.UpsertEntity(ctx, "Acme", "ORGANIZATION", "", 0.6)
	dup, _ := store.UpsertEntity(ctx, "Acme Inc", "ORGANIZATION", "", 0.95)

	r := newResolver(t, store, &fakeJudge{}, testCfg())
	_, err := r.Merge(ctx, primary, []string{dup}, "")
	require.NoError(t, err)

	ent, err := store.GetEntity(ctx, primary)
	require.NoError(t, err)
	assert.Equal(t, 0.95, ent.Confidence, "confidence never decreases under a merge")
}

func TestMergeIdempotent(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()

	primary, _ := store.UpsertEntity(ctx, "Microsoft", "ORGANIZATION", "", 0.9)
	dup, _ := store.UpsertEntity(ctx, "Microsoft Corp", "ORGANIZATION", "", 0.8)

	r := newResolver(t, store, &fakeJudge{}, testCfg())
	first, err := r.Merge(ctx, primary, []string{dup}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.MergedCount)

	before, _ := store.GetEntity(ctx, primary)
	second, err := r.Merge(ctx, primary, []string{dup}, "")
	require.NoError(t, err)
	assert.Equal(t, 0, second.MergedCount, "absorbed id merges are no-ops")
	after, _ := store.GetEntity(ctx, primary)
	assert.Equal(t, before.MentionCount, after.MentionCount)
}

func TestMergeCanonicalRenameCollision(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()

	primary, _ := store.UpsertEntity(ctx, "MSFT", "ORGANIZATION", "", 0.9)
	_, err := store.UpsertEntity(ctx, "Microsoft", "ORGANIZATION", "", 0.9)
	require.NoError(t, err)

	r := newResolver(t, store, &fakeJudge{}, testCfg())
	res, err := r.Merge(ctx, primary, nil, "Microsoft")
	require.NoError(t, err)

	ent, _ := store.GetEntity(ctx, primary)
	assert.Equal(t, "MSFT", ent.Name, "collision keeps the primary name")
	assert.Contains(t, ent.Aliases, "Microsoft")
	assert.Contains(t, res.Aliases, "Microsoft")
}

func TestResolveWithLLM(t *testing.T) {
	judge := &fakeJudge{response: `{"are_same": true, "confidence": 0.93, "canonical_name": "Microsoft", "reasoning": "same company"}`}
	r := newResolver(t, graph.NewMemStore(nil), judge, testCfg())

	j, err := r.ResolveWithLLM(context.Background(),
		graph.Entity{Name: "Microsoft", Type: "ORGANIZATION"},
		graph.Entity{Name: "Microsoft Corp", Type: "ORGANIZATION"})
	require.NoError(t, err)
	assert.True(t, j.AreSame)
	assert.Equal(t, "Microsoft", j.CanonicalName)
}

func TestResolveAllMergesOnJudgeConfidence(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()
	_, _ = store.UpsertEntity(ctx, "Microsoft", "ORGANIZATION", "", 0.9)
	_, _ = store.UpsertEntity(ctx, "Microsoft", "ORGANIZATION", "", 0.9) // second mention
	_, _ = store.UpsertEntity(ctx, "Microsoft Corporation", "ORGANIZATION", "", 0.8)

	cfg := testCfg()
	cfg.AutoMergeThreshold = 0.85
	judge := &fakeJudge{response: `{"are_same": true, "confidence": 0.95, "canonical_name": "Microsoft", "reasoning": "same company"}`}
	r := newResolver(t, store, judge, cfg)

	merged, err := r.ResolveAll(ctx, "ORGANIZATION")
	require.NoError(t, err)
	assert.Equal(t, 1, merged)
	assert.Equal(t, 1, judge.calls, "every candidate pair is judged")

	stats, _ := store.GraphStatistics(ctx)
	assert.Equal(t, 1, stats.Entities)
}

func TestResolveAllLowConfidenceWaitsForOperator(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()
	_, _ = store.UpsertEntity(ctx, "Mercury", "CONCEPT", "the planet", 0.9)
	_, _ = store.UpsertEntity(ctx, "Mercury Inc", "CONCEPT", "a company", 0.9)

	cfg := testCfg()
	cfg.AutoMergeThreshold = 0.85
	judge := &fakeJudge{response: `{"are_same": true, "confidence": 0.5, "canonical_name": "Mercury", "reasoning": "unsure"}`}
	r := newResolver(t, store, judge, cfg)

	merged, err := r.ResolveAll(ctx, "CONCEPT")
	require.NoError(t, err)
	assert.Equal(t, 0, merged, "confirmed but below the auto-merge confidence")
	assert.Equal(t, 1, judge.calls)

	stats, _ := store.GraphStatistics(ctx)
	assert.Equal(t, 2, stats.Entities)
}
