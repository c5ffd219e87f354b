// Package entity provides fast fuzzy search over entity names using Bleve.
// The resolver uses it to shortlist merge candidates without scanning the
// whole graph, and the query service uses it to map question entities onto
// graph entities despite typos and surface-form drift.
package entity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/graph"
)

// Config holds configuration for the entity name index.
type Config struct {
	IndexPath string  `yaml:"index_path"`
	InMemory  bool    `yaml:"in_memory"`
	Fuzziness int     `yaml:"fuzziness"`
	Threshold float64 `yaml:"threshold"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		IndexPath: "./data/entities.bleve",
		InMemory:  false,
		Fuzziness: 2,
		Threshold: 0.5,
	}
}

// Match is a single fuzzy search hit.
type Match struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

// indexDoc is the document shape stored in Bleve.
type indexDoc struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Aliases []string `json:"aliases,omitempty"`
}

// Index is the Bleve-backed entity name index.
type Index struct {
	idx    bleve.Index
	cfg    Config
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewIndex opens or creates the index.
func NewIndex(cfg Config, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Fuzziness <= 0 {
		cfg.Fuzziness = 2
	}

	ei := &Index{cfg: cfg, logger: logger.Named("entityindex")}

	var err error
	if cfg.InMemory {
		ei.idx, err = bleve.NewMemOnly(buildMapping())
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		var idx bleve.Index
		idx, err = bleve.Open(cfg.IndexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(cfg.IndexPath, buildMapping())
		}
		ei.idx = idx
	}
	if err != nil {
		return nil, fmt.Errorf("open entity index: %w", err)
	}

	logger.Info("entity index ready",
		zap.String("path", cfg.IndexPath),
		zap.Bool("in_memory", cfg.InMemory))
	return ei, nil
}

func buildMapping() mapping.IndexMapping {
	entityMapping := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Store = true
	nameField.IncludeTermVectors = true
	entityMapping.AddFieldMappingsAt("name", nameField)

	aliasField := bleve.NewTextFieldMapping()
	aliasField.Store = true
	entityMapping.AddFieldMappingsAt("aliases", aliasField)

	typeField := bleve.NewTextFieldMapping()
	typeField.Store = true
	typeField.IncludeInAll = false
	entityMapping.AddFieldMappingsAt("type", typeField)

	idField := bleve.NewTextFieldMapping()
	idField.Store = true
	idField.IncludeInAll = false
	entityMapping.AddFieldMappingsAt("id", idField)

	m := bleve.NewIndexMapping()
	m.AddDocumentMapping("entity", entityMapping)
	m.DefaultAnalyzer = "standard"
	return m
}

// Put adds or refreshes one entity.
func (ei *Index) Put(ctx context.Context, e graph.Entity) error {
	ei.mu.Lock()
	defer ei.mu.Unlock()

	doc := indexDoc{ID: e.ID, Name: e.Name, Type: e.Type, Aliases: e.Aliases}
	if err := ei.idx.Index(e.ID, doc); err != nil {
		return fmt.Errorf("index entity %s: %w", e.ID, err)
	}
	return nil
}

// PutBatch indexes many entities in one Bleve batch.
func (ei *Index) PutBatch(ctx context.Context, ents []graph.Entity) error {
	if len(ents) == 0 {
		return nil
	}
	ei.mu.Lock()
	defer ei.mu.Unlock()

	start := time.Now()
	batch := ei.idx.NewBatch()
	for _, e := range ents {
		doc := indexDoc{ID: e.ID, Name: e.Name, Type: e.Type, Aliases: e.Aliases}
		if err := batch.Index(e.ID, doc); err != nil {
			ei.logger.Warn("failed to add entity to batch",
				zap.String("id", e.ID), zap.Error(err))
		}
	}
	if err := ei.idx.Batch(batch); err != nil {
		return fmt.Errorf("batch index: %w", err)
	}
	ei.logger.Debug("batch indexed entities",
		zap.Int("count", len(ents)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Delete removes an entity from the index.
func (ei *Index) Delete(ctx context.Context, id string) error {
	ei.mu.Lock()
	defer ei.mu.Unlock()

	if err := ei.idx.Delete(id); err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	return nil
}

// FuzzyFind returns entities whose name or alias is within the configured
// edit distance of term. An empty entityType matches all types.
func (ei *Index) FuzzyFind(ctx context.Context, term, entityType string, limit int) ([]Match, error) {
	ei.mu.RLock()
	defer ei.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	nameQuery := query.NewFuzzyQuery(term)
	nameQuery.SetField("name")
	nameQuery.SetFuzziness(ei.cfg.Fuzziness)

	aliasQuery := query.NewFuzzyQuery(term)
	aliasQuery.SetField("aliases")
	aliasQuery.SetFuzziness(ei.cfg.Fuzziness)

	var q query.Query = query.NewDisjunctionQuery([]query.Query{nameQuery, aliasQuery})
	if entityType != "" {
		typeQuery := query.NewTermQuery(graph.NormalizeType(entityType))
		typeQuery.SetField("type")
		q = query.NewConjunctionQuery([]query.Query{q, typeQuery})
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"id", "name", "type"}

	res, err := ei.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fuzzy search: %w", err)
	}

	out := make([]Match, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if ei.cfg.Threshold > 0 && hit.Score < ei.cfg.Threshold {
			continue
		}
		out = append(out, Match{
			ID:    fieldString(hit.Fields, "id"),
			Name:  fieldString(hit.Fields, "name"),
			Type:  fieldString(hit.Fields, "type"),
			Score: hit.Score,
		})
	}
	return out, nil
}

// ExactFind looks up an entity by its exact (analyzed) name term.
func (ei *Index) ExactFind(ctx context.Context, name, entityType string) (*Match, error) {
	ei.mu.RLock()
	defer ei.mu.RUnlock()

	q := bleve.NewMatchQuery(name)
	q.SetField("name")

	var final query.Query = q
	if entityType != "" {
		typeQuery := query.NewTermQuery(graph.NormalizeType(entityType))
		typeQuery.SetField("type")
		final = query.NewConjunctionQuery([]query.Query{q, typeQuery})
	}

	req := bleve.NewSearchRequest(final)
	req.Size = 1
	req.Fields = []string{"id", "name", "type"}

	res, err := ei.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("exact search: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	hit := res.Hits[0]
	return &Match{
		ID:    fieldString(hit.Fields, "id"),
		Name:  fieldString(hit.Fields, "name"),
		Type:  fieldString(hit.Fields, "type"),
		Score: hit.Score,
	}, nil
}

// Count returns the number of indexed entities.
func (ei *Index) Count() uint64 {
	ei.mu.RLock()
	defer ei.mu.RUnlock()

	n, err := ei.idx.DocCount()
	if err != nil {
		return 0
	}
	return n
}

// Close releases the underlying index.
func (ei *Index) Close() error {
	ei.mu.Lock()
	defer ei.mu.Unlock()
	return ei.idx.Close()
}

func fieldString(fields map[string]interface{}, key string) string {
	if fields == nil {
		return ""
	}
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}
