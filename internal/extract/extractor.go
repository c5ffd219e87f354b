// Package extract turns chunk text into graph facts: a joint LLM prompt
// produces entity and relationship records, which are persisted with
// MENTIONED_IN grounding back to the chunk they came from.
package extract

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/huytu0702/graphtog/internal/chunking"
	"github.com/huytu0702/graphtog/internal/config"
	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/llm"
	"github.com/huytu0702/graphtog/internal/status"
)

const extractionTemp = 0.0

// NameIndexer receives newly persisted entities for fuzzy lookup. It is
// satisfied by entity.Index.
type NameIndexer interface {
	PutBatch(ctx context.Context, ents []graph.Entity) error
}

// Extractor runs joint entity/relation extraction over document chunks.
type Extractor struct {
	llm         llm.Client
	store       graph.Store
	index       NameIndexer // optional
	cfg         config.ExtractorConfig
	chunkCfg    chunking.Config
	entityTypes []string
	logger      *zap.Logger
}

// New creates an Extractor. index may be nil.
func New(client llm.Client, store graph.Store, index NameIndexer, cfg config.ExtractorConfig, chunkCfg chunking.Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchParallelism <= 0 {
		cfg.BatchParallelism = 1
	}
	return &Extractor{
		llm:         client,
		store:       store,
		index:       index,
		cfg:         cfg,
		chunkCfg:    chunkCfg,
		entityTypes: graph.DefaultEntityTypes,
		logger:      logger.Named("extract"),
	}
}

// ChunkResult is what one chunk contributed to the graph.
type ChunkResult struct {
	TextUnitID string `json:"text_unit_id"`
	Entities   int    `json:"entities"`
	Relations  int    `json:"relations"`
	Err        error  `json:"-"`
}

// IngestResult summarizes one document ingestion.
type IngestResult struct {
	DocumentID   string `json:"document_id"`
	Version      int    `json:"version"`
	Unchanged    bool   `json:"unchanged"`
	Chunks       int    `json:"chunks"`
	FailedChunks int    `json:"failed_chunks"`
	Entities     int    `json:"entities"`
	Relations    int    `json:"relations"`
}

// ContentHash returns the stable hash used for document versioning.
func ContentHash(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// IngestDocument chunks the content, extracts from every chunk with bounded
// parallelism, and persists the results. A re-ingest with an unchanged
// content hash of an already completed document is a no-op.
func (e *Extractor) IngestDocument(ctx context.Context, docID, name, path, content string) (*IngestResult, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, status.E(status.KindInvalidInput, "document id is empty")
	}

	hash := ContentHash(content)
	if prev, err := e.store.GetDocument(ctx, docID); err == nil {
		if prev.ContentHash == hash && prev.Status == graph.DocCompleted {
			e.logger.Info("document unchanged, skipping",
				zap.String("doc_id", docID), zap.Int("version", prev.Version))
			return &IngestResult{DocumentID: docID, Version: prev.Version, Unchanged: true}, nil
		}
		// Changed content: the old subgraph is replaced wholesale.
		if prev.ContentHash != hash {
			if err := e.store.DeleteDocumentSubgraph(ctx, docID); err != nil {
				return nil, err
			}
		}
	}

	doc, err := e.store.UpsertDocument(ctx, docID, name, path, hash)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetDocumentStatus(ctx, docID, graph.DocProcessing); err != nil {
		return nil, err
	}

	chunks, err := chunking.New(e.chunkCfg).Chunk(content)
	if err != nil {
		_ = e.store.SetDocumentStatus(ctx, docID, graph.DocFailed)
		return nil, err
	}

	units := make([]string, len(chunks))
	for i, ch := range chunks {
		unitID := uuid.NewString()
		if err := e.store.CreateTextUnit(ctx, unitID, docID, ch.Text, ch.StartChar, ch.EndChar); err != nil {
			_ = e.store.SetDocumentStatus(ctx, docID, graph.DocFailed)
			return nil, err
		}
		units[i] = unitID
	}

	results := e.ExtractBatch(ctx, docID, chunks, units)

	out := &IngestResult{DocumentID: docID, Version: doc.Version, Chunks: len(chunks)}
	anyEntities := false
	for _, r := range results {
		if r.Err != nil {
			out.FailedChunks++
			continue
		}
		out.Entities += r.Entities
		out.Relations += r.Relations
		if r.Entities > 0 {
			anyEntities = true
		}
	}

	// Completed needs at least one productive chunk; a document where every
	// chunk failed (or produced nothing) is failed.
	final := graph.DocCompleted
	if !anyEntities {
		final = graph.DocFailed
	}
	if err := e.store.SetDocumentStatus(ctx, docID, final); err != nil {
		return nil, err
	}
	if final == graph.DocFailed {
		return out, status.Ef(status.KindInternal, "document %s produced no entities", docID)
	}
	return out, nil
}

// ExtractBatch extracts from chunks with bounded parallelism. A failed chunk
// is isolated: its error lands in its ChunkResult and the rest proceed.
func (e *Extractor) ExtractBatch(ctx context.Context, docID string, chunks []chunking.Chunk, unitIDs []string) []ChunkResult {
	results := make([]ChunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchParallelism)
	for i := range chunks {
		g.Go(func() error {
			res := e.extractAndPersist(gctx, chunks[i].Text, unitIDs[i])
			results[i] = res
			if res.Err != nil {
				e.logger.Warn("chunk extraction failed",
					zap.String("doc_id", docID),
					zap.String("text_unit_id", unitIDs[i]),
					zap.Error(res.Err))
			}
			return nil // chunk failures never cancel siblings
		})
	}
	_ = g.Wait()
	return results
}

// ExtractChunk runs the joint prompt (with bounded continuation passes) and
// returns the parsed records without persisting them.
func (e *Extractor) ExtractChunk(ctx context.Context, chunkText string) ([]ExtractedEntity, []ExtractedRelation, error) {
	prompt := buildExtractionPrompt(e.entityTypes, chunkText)
	raw, err := e.llm.Generate(ctx, prompt, extractionTemp)
	if err != nil {
		return nil, nil, err
	}
	res := parseRecords(raw)
	entities, relations := res.Entities, res.Relations

	// Continuation passes recover records from a truncated stream.
	transcript := prompt + "\n" + raw
	for pass := 0; pass < e.cfg.TwoPassMaxIterations && !res.Complete; pass++ {
		raw, err = e.llm.Generate(ctx, transcript+"\n"+continuationPrompt, extractionTemp)
		if err != nil {
			break // keep what the first pass yielded
		}
		res = parseRecords(raw)
		entities = append(entities, res.Entities...)
		relations = append(relations, res.Relations...)
		transcript += "\n" + raw
	}

	if len(entities) == 0 && len(relations) == 0 {
		return nil, nil, status.E(status.KindLLMParse, "no records parsed from extraction output")
	}
	return entities, relations, nil
}

func (e *Extractor) extractAndPersist(ctx context.Context, chunkText, unitID string) ChunkResult {
	res := ChunkResult{TextUnitID: unitID}

	entities, relations, err := e.ExtractChunk(ctx, chunkText)
	if err != nil {
		res.Err = err
		return res
	}

	// Persist entities first so relation endpoints resolve.
	idByName := make(map[string]string, len(entities))
	var indexed []graph.Entity
	for _, ent := range entities {
		id, err := e.store.UpsertEntity(ctx, ent.Name, ent.Type, ent.Description, 0.9)
		if err != nil {
			e.logger.Warn("entity upsert failed", zap.String("name", ent.Name), zap.Error(err))
			continue
		}
		idByName[graph.NormalizeName(ent.Name)] = id
		if err := e.store.LinkMention(ctx, id, unitID); err != nil {
			res.Err = err
			return res
		}
		res.Entities++
		indexed = append(indexed, graph.Entity{ID: id, Name: ent.Name, Type: graph.NormalizeType(ent.Type)})
	}

	for _, rel := range relations {
		srcID, ok := e.resolveEndpoint(ctx, idByName, rel.Source)
		if !ok {
			e.logger.Debug("dropping relation, source unresolved", zap.String("source", rel.Source))
			continue
		}
		tgtID, ok := e.resolveEndpoint(ctx, idByName, rel.Target)
		if !ok {
			e.logger.Debug("dropping relation, target unresolved", zap.String("target", rel.Target))
			continue
		}
		relType := relationLabel(rel.Description)
		conf := strengthConfidence(rel.Strength)
		if err := e.store.UpsertRelation(ctx, srcID, tgtID, relType, rel.Description, conf, rel.Strength); err != nil {
			e.logger.Warn("relation upsert failed", zap.Error(err))
			continue
		}
		res.Relations++
	}

	if e.index != nil && len(indexed) > 0 {
		if err := e.index.PutBatch(ctx, indexed); err != nil {
			e.logger.Warn("entity indexing failed", zap.Error(err))
		}
	}
	return res
}

// resolveEndpoint maps a relation endpoint name to an entity id: first among
// this chunk's extractions, then a graph-wide name lookup.
func (e *Extractor) resolveEndpoint(ctx context.Context, idByName map[string]string, name string) (string, bool) {
	if id, ok := idByName[graph.NormalizeName(name)]; ok {
		return id, true
	}
	ent, err := e.store.FindEntityByName(ctx, name, "")
	if err != nil || ent == nil {
		return "", false
	}
	return ent.ID, true
}

// relationLabel derives a SHOUTING_SNAKE relation type from the description's
// leading verb phrase, falling back to RELATED_TO.
func relationLabel(description string) string {
	words := strings.Fields(description)
	if len(words) == 0 {
		return "RELATED_TO"
	}
	n := len(words)
	if n > 3 {
		n = 3
	}
	label := strings.Join(words[:n], "_")
	label = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 32
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return -1
		}
	}, label)
	label = strings.Trim(label, "_")
	if label == "" {
		return "RELATED_TO"
	}
	return label
}
