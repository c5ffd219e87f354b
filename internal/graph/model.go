// Package graph provides the property-graph store for the knowledge base:
// entities, relations, text units, documents, and communities. The production
// implementation runs on Dgraph; an in-memory implementation backs tests and
// snapshot projections.
package graph

import (
	"time"
)

// DefaultEntityTypes is the open-vocabulary default type set.
var DefaultEntityTypes = []string{
	"PERSON", "ORGANIZATION", "GEO", "EVENT", "PRODUCT",
	"FACILITY", "WORK_OF_ART", "LAW", "CONCEPT", "OTHER",
}

// DocumentStatus tracks document processing state.
type DocumentStatus string

const (
	DocPending    DocumentStatus = "pending"
	DocProcessing DocumentStatus = "processing"
	DocCompleted  DocumentStatus = "completed"
	DocFailed     DocumentStatus = "failed"
)

// Entity is a typed real-world subject. Identity is (Name, Type).
type Entity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	Confidence   float64   `json:"confidence"`
	MentionCount int       `json:"mention_count"`
	Aliases      []string  `json:"aliases,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TextUnit is a chunk of source text grounding entity mentions.
type TextUnit struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	StartChar  int       `json:"start_char"`
	EndChar    int       `json:"end_char"`
	CreatedAt  time.Time `json:"created_at"`
}

// Document is a logical source artifact; only metadata lives in the graph.
type Document struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	FilePath        string         `json:"file_path"`
	ContentHash     string         `json:"content_hash"`
	Version         int            `json:"version"`
	LastProcessedAt time.Time      `json:"last_processed_at"`
	Status          DocumentStatus `json:"status"`
}

// Relation is a typed directed edge between two entities. At most one edge
// exists per (SourceID, Type, TargetID); confidence is take-max.
type Relation struct {
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Strength    int     `json:"strength,omitempty"` // 1-10 when supplied by the extractor
}

// Community is a cluster of related entities at one hierarchy level.
type Community struct {
	ID               int       `json:"id"`
	Level            int       `json:"level"`
	Size             int       `json:"size"`
	Summary          string    `json:"summary,omitempty"`
	Themes           []string  `json:"themes,omitempty"`
	Significance     string    `json:"significance,omitempty"` // low | medium | high
	SummaryTimestamp time.Time `json:"summary_timestamp,omitzero"`
}

// Summarized reports whether the community carries a current summary.
func (c *Community) Summarized() bool {
	return c.Summary != "" && !c.SummaryTimestamp.IsZero()
}

// RelatedEntity is a BFS neighbor with the relation label it was reached
// through and its hop distance from the seed.
type RelatedEntity struct {
	Entity       Entity `json:"entity"`
	RelationType string `json:"relation_type"`
	Distance     int    `json:"distance"`
}

// EntityContext is the neighborhood of an entity: related entities within a
// hop limit plus supporting text units.
type EntityContext struct {
	Entity          Entity          `json:"entity"`
	RelatedEntities []RelatedEntity `json:"related_entities"`
	TextUnits       []TextUnit      `json:"text_units,omitempty"`
}

// RelationOccurrence is a distinct relation type incident on a frontier
// entity, used by the reasoner's relation exploration step.
type RelationOccurrence struct {
	Type          string  `json:"type"`
	SourceID      string  `json:"source_id"`
	SourceName    string  `json:"source_name"`
	MaxConfidence float64 `json:"max_confidence"`
}

// CandidateTarget is a possible expansion target reached via one relation.
type CandidateTarget struct {
	Entity     Entity  `json:"entity"`
	Confidence float64 `json:"confidence"`
}

// Affected lists communities and entities touched by a document, for
// summary invalidation after incremental updates.
type Affected struct {
	CommunityIDs []int    `json:"communities"`
	EntityIDs    []string `json:"entities"`
}

// Statistics summarizes graph size.
type Statistics struct {
	Documents int `json:"documents"`
	TextUnits int `json:"text_units"`
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
}
