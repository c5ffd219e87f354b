package pruning

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"
)

// bm25Strategy scores candidates by keyword relevance: each batch of
// candidates is indexed into a throwaway in-memory Bleve index and the
// question is run against it. Scores are max-normalized into [0, 1].
// No network, deterministic for a fixed input.
type bm25Strategy struct {
	logger *zap.Logger
}

func newBM25Strategy(logger *zap.Logger) *bm25Strategy {
	return &bm25Strategy{logger: logger.Named("prune_bm25")}
}

func (s *bm25Strategy) ScoreRelations(ctx context.Context, question string, relations []string, extra string) ([]ScoredRelation, error) {
	if len(relations) == 0 {
		return nil, nil
	}

	// Relation labels read as WORKS_AT; match them against the question as
	// plain words.
	texts := make([]string, len(relations))
	for i, rel := range relations {
		texts[i] = strings.ToLower(strings.ReplaceAll(rel, "_", " "))
	}

	scores, err := s.rank(question+" "+extra, texts)
	if err != nil {
		s.logger.Warn("bm25 relation ranking failed, using uniform scores", zap.Error(err))
		return uniformRelations(relations, "bm25 unavailable"), nil
	}

	out := make([]ScoredRelation, len(relations))
	for i, rel := range relations {
		out[i] = ScoredRelation{Relation: rel, Score: scores[i]}
	}
	sortRelations(out)
	return out, nil
}

func (s *bm25Strategy) ScoreEntities(ctx context.Context, question string, candidates []Candidate, extra string) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Name + " " + c.Description
	}

	scores, err := s.rank(question+" "+extra, texts)
	if err != nil {
		s.logger.Warn("bm25 entity ranking failed, using uniform scores", zap.Error(err))
		return uniformCandidates(candidates, "bm25 unavailable"), nil
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = scores[i]
	}
	sortCandidates(out)
	return out, nil
}

// rank indexes texts and queries them with the question, returning
// max-normalized scores aligned with the input slice. Texts with no keyword
// overlap score 0.
func (s *bm25Strategy) rank(question string, texts []string) ([]float64, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("open scratch index: %w", err)
	}
	defer idx.Close()

	batch := idx.NewBatch()
	for i, text := range texts {
		doc := map[string]string{"text": text}
		if err := batch.Index(fmt.Sprintf("%d", i), doc); err != nil {
			return nil, err
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("index candidates: %w", err)
	}

	q := bleve.NewMatchQuery(question)
	q.SetField("text")
	req := bleve.NewSearchRequest(q)
	req.Size = len(texts)

	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("rank candidates: %w", err)
	}

	scores := make([]float64, len(texts))
	maxScore := 0.0
	for _, hit := range res.Hits {
		var i int
		if _, err := fmt.Sscanf(hit.ID, "%d", &i); err != nil || i < 0 || i >= len(texts) {
			continue
		}
		scores[i] = hit.Score
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}
	if maxScore > 0 {
		for i := range scores {
			scores[i] /= maxScore
		}
	}
	return scores, nil
}
