package pruning

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/llm"
)

const scoringTemp = 0.4

// llmStrategy asks the model to score candidates directly. Highest quality,
// slowest, nondeterministic above temperature zero.
type llmStrategy struct {
	client llm.Client
	logger *zap.Logger
}

func newLLMStrategy(client llm.Client, logger *zap.Logger) *llmStrategy {
	return &llmStrategy{client: client, logger: logger.Named("prune_llm")}
}

func (s *llmStrategy) ScoreRelations(ctx context.Context, question string, relations []string, extra string) ([]ScoredRelation, error) {
	if len(relations) == 0 {
		return nil, nil
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.WriteString("Score how relevant each relation type is for answering the question.\n\nQuestion: ")
	buf.WriteString(question)
	if extra != "" {
		buf.WriteString("\nContext: ")
		buf.WriteString(extra)
	}
	buf.WriteString("\n\nRelation types:\n")
	for _, rel := range relations {
		fmt.Fprintf(buf, "- %s\n", rel)
	}
	buf.WriteString(`
Respond with JSON only: [{"relation": "<type>", "score": 0.0-1.0, "reasoning": "<short>"}]`)

	var scored []ScoredRelation
	if err := s.client.GenerateJSON(ctx, buf.String(), scoringTemp, &scored); err != nil {
		s.logger.Warn("relation scoring failed, using uniform scores", zap.Error(err))
		return uniformRelations(relations, "llm scoring unavailable"), nil
	}

	// Keep only relations we actually asked about, with clamped scores.
	asked := make(map[string]struct{}, len(relations))
	for _, rel := range relations {
		asked[strings.ToUpper(rel)] = struct{}{}
	}
	out := make([]ScoredRelation, 0, len(scored))
	seen := make(map[string]struct{})
	for _, sr := range scored {
		key := strings.ToUpper(sr.Relation)
		if _, ok := asked[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sr.Score = clamp01(sr.Score)
		out = append(out, sr)
	}
	// Relations the model skipped still compete, at the uniform floor.
	for _, rel := range relations {
		if _, ok := seen[strings.ToUpper(rel)]; !ok {
			out = append(out, ScoredRelation{Relation: rel, Score: uniformScore})
		}
	}
	sortRelations(out)
	return out, nil
}

func (s *llmStrategy) ScoreEntities(ctx context.Context, question string, candidates []Candidate, extra string) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.WriteString("Score how relevant each entity is for answering the question.\n\nQuestion: ")
	buf.WriteString(question)
	if extra != "" {
		buf.WriteString("\nContext: ")
		buf.WriteString(extra)
	}
	buf.WriteString("\n\nEntities:\n")
	for _, c := range candidates {
		fmt.Fprintf(buf, "- %s (%s): %s\n", c.Name, c.Type, c.Description)
	}
	buf.WriteString(`
Respond with JSON only: [{"name": "<entity name>", "score": 0.0-1.0, "reasoning": "<short>"}]`)

	var scored []struct {
		Name      string  `json:"name"`
		Score     float64 `json:"score"`
		Reasoning string  `json:"reasoning"`
	}
	if err := s.client.GenerateJSON(ctx, buf.String(), scoringTemp, &scored); err != nil {
		s.logger.Warn("entity scoring failed, using uniform scores", zap.Error(err))
		return uniformCandidates(candidates, "llm scoring unavailable"), nil
	}

	byName := make(map[string]struct {
		score     float64
		reasoning string
	}, len(scored))
	for _, sc := range scored {
		byName[strings.ToLower(sc.Name)] = struct {
			score     float64
			reasoning string
		}{clamp01(sc.Score), sc.Reasoning}
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		if sc, ok := byName[strings.ToLower(out[i].Name)]; ok {
			out[i].Score = sc.score
			out[i].Reasoning = sc.reasoning
		} else {
			out[i].Score = uniformScore
		}
	}
	sortCandidates(out)
	return out, nil
}

func sortRelations(out []ScoredRelation) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Relation < out[j].Relation
	})
}

func sortCandidates(out []Candidate) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})
}
