package graph

import (
	"context"
)

// Store is the property-graph operation set the engine depends on. All
// operations are idempotent unless noted. Implementations guarantee
// UNIQUE(name, type) on entities and UNIQUE(id) on text units, documents,
// and communities.
type Store interface {
	// Documents.
	UpsertDocument(ctx context.Context, id, name, path, contentHash string) (*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	SetDocumentStatus(ctx context.Context, id string, st DocumentStatus) error
	DeleteDocumentSubgraph(ctx context.Context, docID string) error

	// Text units. CreateTextUnit fails if the id already exists.
	CreateTextUnit(ctx context.Context, id, docID, text string, startChar, endChar int) error
	TextUnitsFor(ctx context.Context, entityID string, limit int) ([]TextUnit, error)

	// Entities.
	UpsertEntity(ctx context.Context, name, entityType, description string, confidence float64) (string, error)
	GetEntity(ctx context.Context, id string) (*Entity, error)
	FindEntityByName(ctx context.Context, name, entityType string) (*Entity, error)
	TopEntities(ctx context.Context, limit int, documentID string) ([]Entity, error)
	EntitiesByType(ctx context.Context, entityType string) ([]Entity, error)
	EntityNames(ctx context.Context, documentIDs []string, limit int) ([]string, error)
	LinkMention(ctx context.Context, entityID, textUnitID string) error
	Mentions(ctx context.Context, entityID string) ([]string, error)

	// Merge primitives (used under the resolver's per-primary lock).
	AddAliases(ctx context.Context, id string, aliases []string) error
	AddMentionCount(ctx context.Context, id string, delta int) error
	RaiseConfidence(ctx context.Context, id string, confidence float64) error
	RenameEntity(ctx context.Context, id, newName string) error
	DeleteEntity(ctx context.Context, id string) error

	// Relations.
	UpsertRelation(ctx context.Context, sourceID, targetID, relType, description string, confidence float64, strength int) error
	OutgoingRelations(ctx context.Context, entityID string) ([]Relation, error)
	IncomingRelations(ctx context.Context, entityID string) ([]Relation, error)
	RelationTypes(ctx context.Context, entityIDs []string, minConfidence float64, documentIDs []string) ([]RelationOccurrence, error)
	CandidateTargets(ctx context.Context, sourceID, relType string, documentIDs []string, limit int) ([]CandidateTarget, error)

	// Traversal. BFS up to hopLimit via semantic relations only; community
	// membership and document containment edges are never traversed.
	EntityContext(ctx context.Context, entityID string, hopLimit int, includeText bool) (*EntityContext, error)

	// Communities.
	ReplaceCommunities(ctx context.Context, level int, membership map[string]int) error
	Communities(ctx context.Context, level int) ([]Community, error)
	CommunityOf(ctx context.Context, entityID string, level int) (*Community, error)
	CommunityMembers(ctx context.Context, communityID int, limit int) ([]Entity, error)
	SetCommunitySummary(ctx context.Context, communityID int, summary string, themes []string, significance string) error
	InvalidateCommunitySummary(ctx context.Context, communityID int) error
	ListAffectedCommunities(ctx context.Context, docID string) (*Affected, error)

	// Stats.
	GraphStatistics(ctx context.Context) (*Statistics, error)
}
