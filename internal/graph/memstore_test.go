package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/huytu0702/graphtog/internal/status"
)

func newTestStore(t *testing.T) *MemStore {
	t.Helper()
	return NewMemStore(zaptest.NewLogger(t))
}

func seedDocument(t *testing.T, s *MemStore, docID string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.UpsertDocument(ctx, docID, docID+".txt", "/docs/"+docID+".txt", "hash-"+docID)
	require.NoError(t, err)
}

func TestUpsertEntityIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertEntity(ctx, "Acme Corp", "ORGANIZATION", "a company", 0.8)
	require.NoError(t, err)

	// Case and whitespace variants collapse onto the same entity.
	id2, err := s.UpsertEntity(ctx, "  acme   corp ", "organization", "", 0.6)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	ent, err := s.GetEntity(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, 2, ent.MentionCount)
	assert.Equal(t, 0.8, ent.Confidence, "confidence is take-max")
	assert.Equal(t, "a company", ent.Description)

	// Same name, different type is a distinct entity.
	id3, err := s.UpsertEntity(ctx, "Acme Corp", "PERSON", "", 0.5)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestUpsertEntityValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertEntity(ctx, "   ", "PERSON", "", 0.5)
	assert.Equal(t, status.KindInvalidInput, status.KindOf(err))

	_, err = s.UpsertEntity(ctx, "Alice", "PERSON", "", 1.5)
	assert.Equal(t, status.KindInvalidInput, status.KindOf(err))
}

func TestFindEntityByNameAndAlias(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertEntity(ctx, "Microsoft Corporation", "ORGANIZATION", "", 0.9)
	require.NoError(t, err)
	require.NoError(t, s.AddAliases(ctx, id, []string{"Microsoft Corp", "MSFT"}))

	ent, err := s.FindEntityByName(ctx, "Microsoft Corporation", "ORGANIZATION")
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, id, ent.ID)

	ent, err = s.FindEntityByName(ctx, "MSFT", "")
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, id, ent.ID)

	ent, err = s.FindEntityByName(ctx, "Nonexistent", "")
	require.NoError(t, err)
	assert.Nil(t, ent)
}

func TestRelationTakeMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, _ := s.UpsertEntity(ctx, "Alice", "PERSON", "", 0.9)
	acme, _ := s.UpsertEntity(ctx, "Acme", "ORGANIZATION", "", 0.9)

	require.NoError(t, s.UpsertRelation(ctx, alice, acme, "WORKS_AT", "employment", 0.7, 5))
	require.NoError(t, s.UpsertRelation(ctx, alice, acme, "WORKS_AT", "", 0.5, 3))

	rels, err := s.OutgoingRelations(ctx, alice)
	require.NoError(t, err)
	require.Len(t, rels, 1, "one edge per (source, type, target)")
	assert.Equal(t, 0.7, rels[0].Confidence)
	assert.Equal(t, 5, rels[0].Strength)

	// A higher later observation raises it.
	require.NoError(t, s.UpsertRelation(ctx, alice, acme, "WORKS_AT", "", 0.95, 8))
	rels, _ = s.OutgoingRelations(ctx, alice)
	assert.Equal(t, 0.95, rels[0].Confidence)

	// A different type is a second edge.
	require.NoError(t, s.UpsertRelation(ctx, alice, acme, "FOUNDED", "", 0.6, 2))
	rels, _ = s.OutgoingRelations(ctx, alice)
	assert.Len(t, rels, 2)
}

func TestRenameEntityConstraint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.UpsertEntity(ctx, "Bob", "PERSON", "", 0.9)
	_, err := s.UpsertEntity(ctx, "Robert", "PERSON", "", 0.9)
	require.NoError(t, err)

	err = s.RenameEntity(ctx, a, "Robert")
	assert.Equal(t, status.KindGraphConstraint, status.KindOf(err))

	require.NoError(t, s.RenameEntity(ctx, a, "Bobby"))
	ent, err := s.GetEntity(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "Bobby", ent.Name)
	assert.Equal(t, a, ent.ID, "id stays stable across rename")
}

func TestMentionsAndTextUnits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "doc1")

	require.NoError(t, s.CreateTextUnit(ctx, "u1", "doc1", "Alice works at Acme.", 0, 20))
	err := s.CreateTextUnit(ctx, "u1", "doc1", "dup", 0, 3)
	assert.Equal(t, status.KindGraphConstraint, status.KindOf(err))

	alice, _ := s.UpsertEntity(ctx, "Alice", "PERSON", "", 0.9)
	require.NoError(t, s.LinkMention(ctx, alice, "u1"))

	units, err := s.TextUnitsFor(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "doc1", units[0].DocumentID)
	assert.Equal(t, "Alice works at Acme.", units[0].Text)

	ids, err := s.Mentions(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
}

func TestDocumentVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.UpsertDocument(ctx, "doc1", "doc1.txt", "/d/doc1.txt", "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Version)
	assert.Equal(t, DocPending, d.Status)

	// Same hash keeps the version.
	d, err = s.UpsertDocument(ctx, "doc1", "doc1.txt", "/d/doc1.txt", "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Version)

	// Changed content bumps it.
	d, err = s.UpsertDocument(ctx, "doc1", "doc1.txt", "/d/doc1.txt", "h2")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Version)

	require.NoError(t, s.SetDocumentStatus(ctx, "doc1", DocCompleted))
	got, err := s.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, DocCompleted, got.Status)

	_, err = s.GetDocument(ctx, "nope")
	assert.Equal(t, status.KindNotFound, status.KindOf(err))
}

func TestDeleteDocumentSubgraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "doc1")
	seedDocument(t, s, "doc2")

	require.NoError(t, s.CreateTextUnit(ctx, "u1", "doc1", "Alice at Acme.", 0, 14))
	require.NoError(t, s.CreateTextUnit(ctx, "u2", "doc2", "Acme in Paris.", 0, 14))

	alice, _ := s.UpsertEntity(ctx, "Alice", "PERSON", "", 0.9)
	acme, _ := s.UpsertEntity(ctx, "Acme", "ORGANIZATION", "", 0.9)
	_, err := s.UpsertEntity(ctx, "Acme", "ORGANIZATION", "", 0.9) // second mention
	require.NoError(t, err)

	require.NoError(t, s.LinkMention(ctx, alice, "u1"))
	require.NoError(t, s.LinkMention(ctx, acme, "u1"))
	require.NoError(t, s.LinkMention(ctx, acme, "u2"))
	require.NoError(t, s.UpsertRelation(ctx, alice, acme, "WORKS_AT", "", 0.8, 5))

	require.NoError(t, s.DeleteDocumentSubgraph(ctx, "doc1"))

	// Alice was only grounded in doc1 and goes away with it.
	_, err = s.GetEntity(ctx, alice)
	assert.Equal(t, status.KindNotFound, status.KindOf(err))

	// Acme survives on the doc2 mention.
	ent, err := s.GetEntity(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, 1, ent.MentionCount)

	// Relations touching the deleted entity are gone.
	rels, err := s.IncomingRelations(ctx, acme)
	require.NoError(t, err)
	assert.Empty(t, rels)

	stats, err := s.GraphStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.TextUnits)
	assert.Equal(t, 1, stats.Entities)
	assert.Equal(t, 0, stats.Relations)
}

func TestEntityContextBFS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, _ := s.UpsertEntity(ctx, "Alice", "PERSON", "", 0.9)
	acme, _ := s.UpsertEntity(ctx, "Acme", "ORGANIZATION", "", 0.9)
	paris, _ := s.UpsertEntity(ctx, "Paris", "GEO", "", 0.9)
	bob, _ := s.UpsertEntity(ctx, "Bob", "PERSON", "", 0.9)

	require.NoError(t, s.UpsertRelation(ctx, alice, acme, "WORKS_AT", "", 0.9, 5))
	require.NoError(t, s.UpsertRelation(ctx, acme, paris, "HEADQUARTERED_IN", "", 0.9, 5))
	require.NoError(t, s.UpsertRelation(ctx, bob, alice, "KNOWS", "", 0.9, 5))

	ec, err := s.EntityContext(ctx, alice, 1, false)
	require.NoError(t, err)
	assert.Len(t, ec.RelatedEntities, 2, "one hop reaches Acme and Bob")

	ec, err = s.EntityContext(ctx, alice, 2, false)
	require.NoError(t, err)
	require.Len(t, ec.RelatedEntities, 3)
	byName := map[string]int{}
	for _, re := range ec.RelatedEntities {
		byName[re.Entity.Name] = re.Distance
	}
	assert.Equal(t, 1, byName["Acme"])
	assert.Equal(t, 1, byName["Bob"])
	assert.Equal(t, 2, byName["Paris"])
}

func TestRelationTypesAndCandidateTargets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, _ := s.UpsertEntity(ctx, "Alice", "PERSON", "", 0.9)
	acme, _ := s.UpsertEntity(ctx, "Acme", "ORGANIZATION", "", 0.9)
	globex, _ := s.UpsertEntity(ctx, "Globex", "ORGANIZATION", "", 0.9)

	require.NoError(t, s.UpsertRelation(ctx, alice, acme, "WORKS_AT", "", 0.9, 5))
	require.NoError(t, s.UpsertRelation(ctx, alice, globex, "WORKS_AT", "", 0.6, 3))
	require.NoError(t, s.UpsertRelation(ctx, alice, acme, "FOUNDED", "", 0.4, 2))

	occ, err := s.RelationTypes(ctx, []string{alice}, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, occ, 1, "FOUNDED filtered by min confidence")
	assert.Equal(t, "WORKS_AT", occ[0].Type)
	assert.Equal(t, 0.9, occ[0].MaxConfidence)

	targets, err := s.CandidateTargets(ctx, alice, "WORKS_AT", nil, 10)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "Acme", targets[0].Entity.Name, "ordered by edge confidence")
	assert.Equal(t, "Globex", targets[1].Entity.Name)
}

func TestExplorationScopedToDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertDocument(ctx, "d1", "one", "", "h1")
	require.NoError(t, err)
	_, err = s.UpsertDocument(ctx, "d2", "two", "", "h2")
	require.NoError(t, err)
	require.NoError(t, s.CreateTextUnit(ctx, "u1", "d1", "a", 0, 1))
	require.NoError(t, s.CreateTextUnit(ctx, "u2", "d2", "b", 0, 1))

	alice, _ := s.UpsertEntity(ctx, "Alice", "PERSON", "", 0.9)
	acme, _ := s.UpsertEntity(ctx, "Acme", "ORGANIZATION", "", 0.9)
	globex, _ := s.UpsertEntity(ctx, "Globex", "ORGANIZATION", "", 0.9)
	require.NoError(t, s.LinkMention(ctx, alice, "u1"))
	require.NoError(t, s.LinkMention(ctx, acme, "u1"))
	require.NoError(t, s.LinkMention(ctx, globex, "u2"))

	require.NoError(t, s.UpsertRelation(ctx, alice, acme, "WORKS_AT", "", 0.9, 5))
	require.NoError(t, s.UpsertRelation(ctx, alice, globex, "ADVISES", "", 0.8, 4))

	occ, err := s.RelationTypes(ctx, []string{alice}, 0.3, []string{"d1"})
	require.NoError(t, err)
	require.Len(t, occ, 1, "relations reaching outside the documents are out of scope")
	assert.Equal(t, "WORKS_AT", occ[0].Type)

	targets, err := s.CandidateTargets(ctx, alice, "ADVISES", []string{"d1"}, 10)
	require.NoError(t, err)
	assert.Empty(t, targets)

	targets, err = s.CandidateTargets(ctx, alice, "ADVISES", []string{"d2"}, 10)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "Globex", targets[0].Entity.Name)
}

func TestCommunityLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.UpsertEntity(ctx, "A", "CONCEPT", "", 0.9)
	b, _ := s.UpsertEntity(ctx, "B", "CONCEPT", "", 0.9)
	c, _ := s.UpsertEntity(ctx, "C", "CONCEPT", "", 0.9)

	require.NoError(t, s.ReplaceCommunities(ctx, 0, map[string]int{a: 1, b: 1, c: 2}))

	comms, err := s.Communities(ctx, 0)
	require.NoError(t, err)
	require.Len(t, comms, 2)

	got, err := s.CommunityOf(ctx, a, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ID)
	assert.False(t, got.Summarized())

	members, err := s.CommunityMembers(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, s.SetCommunitySummary(ctx, 1, "A and B cluster", []string{"letters"}, "low"))
	got, err = s.CommunityOf(ctx, a, 0)
	require.NoError(t, err)
	assert.True(t, got.Summarized())

	require.NoError(t, s.InvalidateCommunitySummary(ctx, 1))
	got, _ = s.CommunityOf(ctx, a, 0)
	assert.False(t, got.Summarized())

	// Re-detection with a stable id keeps the community record.
	require.NoError(t, s.ReplaceCommunities(ctx, 0, map[string]int{a: 1, b: 1}))
	_, err = s.CommunityOf(ctx, c, 0)
	assert.Equal(t, status.KindNotFound, status.KindOf(err))
}

func TestStatusErrorsUnwrap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetEntity(ctx, "missing")
	var se *status.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, status.KindNotFound, se.Kind)
}
