// Package resolve deduplicates entities: fuzzy candidate discovery, an LLM
// judgement for ambiguous near-matches, and a merge that folds duplicates
// into a primary entity without losing mentions or relations.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/config"
	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/llm"
	"github.com/huytu0702/graphtog/internal/status"
)

// SimilarEntity pairs a candidate with its name similarity to the probe.
type SimilarEntity struct {
	Entity     graph.Entity `json:"entity"`
	Similarity float64      `json:"similarity"`
}

// DuplicatePair is a candidate duplicate within one type, A.ID < B.ID.
type DuplicatePair struct {
	A          graph.Entity `json:"a"`
	B          graph.Entity `json:"b"`
	Similarity float64      `json:"similarity"`
}

// Judgement is the LLM's verdict on whether two entities are the same.
type Judgement struct {
	AreSame       bool    `json:"are_same"`
	Confidence    float64 `json:"confidence"`
	CanonicalName string  `json:"canonical_name"`
	Reasoning     string  `json:"reasoning"`
}

// MergeResult reports what a merge absorbed.
type MergeResult struct {
	PrimaryID   string   `json:"primary_id"`
	MergedCount int      `json:"merged_count"`
	Aliases     []string `json:"aliases"`
}

// Resolver finds and merges duplicate entities.
type Resolver struct {
	store  graph.Store
	llm    llm.Client
	cfg    config.EntityResolutionConfig
	logger *zap.Logger

	// Merges serialize per primary so concurrent resolution passes cannot
	// interleave the six merge steps on the same entity.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Resolver.
func New(store graph.Store, client llm.Client, cfg config.EntityResolutionConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.85
	}
	return &Resolver{
		store:  store,
		llm:    client,
		cfg:    cfg,
		logger: logger.Named("resolve"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (r *Resolver) primaryLock(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[id] = mu
	}
	return mu
}

// FindSimilar returns entities of the given type whose name (or alias) is at
// least threshold-similar to name, sorted by similarity descending.
func (r *Resolver) FindSimilar(ctx context.Context, name, entityType string, threshold float64) ([]SimilarEntity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, status.E(status.KindInvalidInput, "name is empty")
	}
	if threshold <= 0 {
		threshold = r.cfg.SimilarityThreshold
	}

	candidates, err := r.store.EntitiesByType(ctx, entityType)
	if err != nil {
		return nil, err
	}

	out := make([]SimilarEntity, 0)
	for _, ent := range candidates {
		best := Similarity(name, ent.Name)
		for _, alias := range ent.Aliases {
			if s := Similarity(name, alias); s > best {
				best = s
			}
		}
		if best >= threshold {
			out = append(out, SimilarEntity{Entity: ent, Similarity: best})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Entity.Name < out[j].Entity.Name
	})
	return out, nil
}

// FindDuplicatePairs scans within a type (or all types when empty) for pairs
// above threshold. Pairs are returned with A.ID < B.ID, similarity desc.
func (r *Resolver) FindDuplicatePairs(ctx context.Context, entityType string, threshold float64) ([]DuplicatePair, error) {
	if threshold <= 0 {
		threshold = r.cfg.SimilarityThreshold
	}

	ents, err := r.store.EntitiesByType(ctx, entityType)
	if err != nil {
		return nil, err
	}

	// Pairwise within a type; cross-type pairs are never duplicates because
	// type participates in identity.
	byType := make(map[string][]graph.Entity)
	for _, e := range ents {
		byType[e.Type] = append(byType[e.Type], e)
	}

	out := make([]DuplicatePair, 0)
	for _, group := range byType {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				s := Similarity(group[i].Name, group[j].Name)
				if s < threshold {
					continue
				}
				a, b := group[i], group[j]
				if b.ID < a.ID {
					a, b = b, a
				}
				out = append(out, DuplicatePair{A: a, B: b, Similarity: s})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].A.ID != out[j].A.ID {
			return out[i].A.ID < out[j].A.ID
		}
		return out[i].B.ID < out[j].B.ID
	})
	return out, nil
}

const judgePrompt = `Decide whether these two entity records refer to the same real-world thing.

Entity A: name=%q type=%s description=%q
Entity B: name=%q type=%s description=%q

Respond with JSON only:
{"are_same": true|false, "confidence": 0.0-1.0, "canonical_name": "<preferred name>", "reasoning": "<one sentence>"}`

// ResolveWithLLM asks the model whether two near-matches are the same entity.
func (r *Resolver) ResolveWithLLM(ctx context.Context, a, b graph.Entity) (*Judgement, error) {
	prompt := fmt.Sprintf(judgePrompt, a.Name, a.Type, a.Description, b.Name, b.Type, b.Description)

	var j Judgement
	if err := r.llm.GenerateJSON(ctx, prompt, 0.0, &j); err != nil {
		return nil, err
	}
	if j.Confidence < 0 || j.Confidence > 1 {
		return nil, status.Ef(status.KindLLMParse, "judgement confidence %g out of range", j.Confidence)
	}
	return &j, nil
}

// Merge folds duplicates into primary: mention counts and aliases are
// unioned, mention and relation edges transfer (take-max on relation
// confidence), duplicates are detach-deleted, and the canonical name is
// applied when it does not collide. Merging an already-absorbed id is a
// no-op, so retries are safe.
func (r *Resolver) Merge(ctx context.Context, primaryID string, duplicateIDs []string, canonicalName string) (*MergeResult, error) {
	mu := r.primaryLock(primaryID)
	mu.Lock()
	defer mu.Unlock()

	primary, err := r.store.GetEntity(ctx, primaryID)
	if err != nil {
		return nil, err
	}

	res := &MergeResult{PrimaryID: primaryID}
	for _, dupID := range duplicateIDs {
		if dupID == primaryID {
			continue
		}
		dup, err := r.store.GetEntity(ctx, dupID)
		if err != nil {
			if status.KindOf(err) == status.KindNotFound {
				continue // already absorbed
			}
			return nil, err
		}

		// 1. Union mention counts; confidence takes the max across the merge.
		if err := r.store.AddMentionCount(ctx, primaryID, dup.MentionCount); err != nil {
			return nil, err
		}
		if err := r.store.RaiseConfidence(ctx, primaryID, dup.Confidence); err != nil {
			return nil, err
		}

		// 2. The duplicate's name (and its aliases) become aliases.
		aliases := append([]string{dup.Name}, dup.Aliases...)
		if err := r.store.AddAliases(ctx, primaryID, aliases); err != nil {
			return nil, err
		}
		res.Aliases = append(res.Aliases, dup.Name)

		// 3. Transfer grounding edges.
		mentions, err := r.store.Mentions(ctx, dupID)
		if err != nil {
			return nil, err
		}
		for _, unitID := range mentions {
			if err := r.store.LinkMention(ctx, primaryID, unitID); err != nil {
				return nil, err
			}
		}

		// 4. Transfer relations, retargeting the duplicate's endpoint.
		outRels, err := r.store.OutgoingRelations(ctx, dupID)
		if err != nil {
			return nil, err
		}
		for _, rel := range outRels {
			target := rel.TargetID
			if target == dupID {
				target = primaryID
			}
			if target == primaryID {
				continue // would self-loop after retarget
			}
			if err := r.store.UpsertRelation(ctx, primaryID, target, rel.Type, rel.Description, rel.Confidence, rel.Strength); err != nil {
				return nil, err
			}
		}
		inRels, err := r.store.IncomingRelations(ctx, dupID)
		if err != nil {
			return nil, err
		}
		for _, rel := range inRels {
			if rel.SourceID == primaryID {
				continue
			}
			if err := r.store.UpsertRelation(ctx, rel.SourceID, primaryID, rel.Type, rel.Description, rel.Confidence, rel.Strength); err != nil {
				return nil, err
			}
		}

		// 5. Detach-delete the duplicate.
		if err := r.store.DeleteEntity(ctx, dupID); err != nil {
			return nil, err
		}
		res.MergedCount++
	}

	// 6. Canonical rename, or alias when the name is taken.
	if canonicalName != "" && graph.NormalizeName(canonicalName) != graph.NormalizeName(primary.Name) {
		if err := r.store.RenameEntity(ctx, primaryID, canonicalName); err != nil {
			if status.KindOf(err) != status.KindGraphConstraint {
				return nil, err
			}
			r.logger.Info("canonical name taken, keeping as alias",
				zap.String("primary", primary.Name),
				zap.String("canonical", canonicalName))
			if err := r.store.AddAliases(ctx, primaryID, []string{canonicalName}); err != nil {
				return nil, err
			}
			res.Aliases = append(res.Aliases, canonicalName)
		}
	}

	r.logger.Info("merged entities",
		zap.String("primary_id", primaryID),
		zap.Int("merged", res.MergedCount))
	return res, nil
}

// ResolveAll runs a full pass: find duplicate pairs, judge each with the
// LLM, and merge the confirmed ones whose judgement confidence clears the
// auto-merge threshold. Lower-confidence confirmations are logged and left
// for an operator-initiated Merge. Returns the number of entities absorbed.
func (r *Resolver) ResolveAll(ctx context.Context, entityType string) (int, error) {
	if !r.cfg.Enabled {
		return 0, nil
	}

	pairs, err := r.FindDuplicatePairs(ctx, entityType, r.cfg.SimilarityThreshold)
	if err != nil {
		return 0, err
	}

	merged := 0
	absorbed := make(map[string]struct{})
	for _, pair := range pairs {
		if _, gone := absorbed[pair.A.ID]; gone {
			continue
		}
		if _, gone := absorbed[pair.B.ID]; gone {
			continue
		}

		j, err := r.ResolveWithLLM(ctx, pair.A, pair.B)
		if err != nil {
			r.logger.Warn("duplicate judgement failed",
				zap.String("a", pair.A.Name), zap.String("b", pair.B.Name), zap.Error(err))
			continue
		}
		if !j.AreSame {
			continue
		}
		if j.Confidence < r.cfg.AutoMergeThreshold {
			r.logger.Info("confirmed duplicate below auto-merge confidence, left for operator",
				zap.String("a", pair.A.Name), zap.String("b", pair.B.Name),
				zap.Float64("confidence", j.Confidence))
			continue
		}
		canonical := j.CanonicalName

		// Primary is the better-attested record.
		primary, dup := pair.A, pair.B
		if dup.MentionCount > primary.MentionCount {
			primary, dup = dup, primary
		}
		mres, err := r.Merge(ctx, primary.ID, []string{dup.ID}, canonical)
		if err != nil {
			r.logger.Warn("merge failed", zap.String("primary", primary.Name), zap.Error(err))
			continue
		}
		merged += mres.MergedCount
		absorbed[dup.ID] = struct{}{}
	}
	return merged, nil
}
