package pruning

import (
	"context"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/llm"
)

const embedCacheSize = 4096

// embedStrategy ranks by cosine similarity between the question embedding
// and each candidate's embedding. Embeddings are cached per text, so
// repeated hops over the same neighborhood cost one call each.
type embedStrategy struct {
	client llm.Client
	cache  *lru.Cache[string, []float64]
	logger *zap.Logger
}

func newEmbedStrategy(client llm.Client, logger *zap.Logger) *embedStrategy {
	cache, _ := lru.New[string, []float64](embedCacheSize)
	return &embedStrategy{client: client, cache: cache, logger: logger.Named("prune_embed")}
}

func (s *embedStrategy) embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := s.cache.Get(text); ok {
		return v, nil
	}
	v, err := s.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Add(text, v)
	return v, nil
}

func (s *embedStrategy) ScoreRelations(ctx context.Context, question string, relations []string, extra string) ([]ScoredRelation, error) {
	if len(relations) == 0 {
		return nil, nil
	}

	qv, err := s.embed(ctx, question)
	if err != nil {
		s.logger.Warn("question embedding failed, using uniform scores", zap.Error(err))
		return uniformRelations(relations, "embedding unavailable"), nil
	}

	out := make([]ScoredRelation, len(relations))
	for i, rel := range relations {
		rv, err := s.embed(ctx, relationText(rel))
		if err != nil {
			s.logger.Warn("relation embedding failed, using uniform scores", zap.Error(err))
			return uniformRelations(relations, "embedding unavailable"), nil
		}
		out[i] = ScoredRelation{Relation: rel, Score: cosineScore(qv, rv)}
	}
	sortRelations(out)
	return out, nil
}

func (s *embedStrategy) ScoreEntities(ctx context.Context, question string, candidates []Candidate, extra string) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	qv, err := s.embed(ctx, question)
	if err != nil {
		s.logger.Warn("question embedding failed, using uniform scores", zap.Error(err))
		return uniformCandidates(candidates, "embedding unavailable"), nil
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		cv, err := s.embed(ctx, out[i].Name+" "+out[i].Description)
		if err != nil {
			s.logger.Warn("candidate embedding failed, using uniform scores", zap.Error(err))
			return uniformCandidates(candidates, "embedding unavailable"), nil
		}
		out[i].Score = cosineScore(qv, cv)
	}
	sortCandidates(out)
	return out, nil
}

func relationText(rel string) string {
	out := make([]rune, 0, len(rel))
	for _, r := range rel {
		if r == '_' {
			out = append(out, ' ')
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r += 32
		}
		out = append(out, r)
	}
	return string(out)
}

// cosineScore maps cosine similarity [-1, 1] into [0, 1].
func cosineScore(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return uniformScore
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return uniformScore
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return clamp01((cos + 1) / 2)
}
