// Package pruning scores exploration candidates for the graph reasoner.
// Three interchangeable strategies exist: an LLM judge, BM25 keyword
// matching, and embedding cosine similarity. Every strategy degrades to a
// uniform 0.5 score when its backend is unavailable, so the reasoner always
// proceeds.
package pruning

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/llm"
)

// Method names accepted in configuration.
const (
	MethodLLM          = "llm"
	MethodBM25         = "bm25"
	MethodSentenceBERT = "sentence_bert"
)

// ScoredRelation is a relation type with its relevance to the question.
type ScoredRelation struct {
	Relation  string  `json:"relation"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Candidate is an expansion target entity under scoring.
type Candidate struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Score       float64 `json:"score"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// Strategy scores relations and entities against a question. Results are
// sorted by score descending. Implementations never fail outright: backend
// errors degrade to uniform scores.
type Strategy interface {
	ScoreRelations(ctx context.Context, question string, relations []string, extra string) ([]ScoredRelation, error)
	ScoreEntities(ctx context.Context, question string, candidates []Candidate, extra string) ([]Candidate, error)
}

// New builds the strategy named by method.
func New(method string, client llm.Client, logger *zap.Logger) (Strategy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch method {
	case MethodLLM:
		return newLLMStrategy(client, logger), nil
	case MethodBM25:
		return newBM25Strategy(logger), nil
	case MethodSentenceBERT:
		return newEmbedStrategy(client, logger), nil
	default:
		return nil, fmt.Errorf("unknown pruning method %q", method)
	}
}

const uniformScore = 0.5

func uniformRelations(relations []string, why string) []ScoredRelation {
	out := make([]ScoredRelation, len(relations))
	for i, rel := range relations {
		out[i] = ScoredRelation{Relation: rel, Score: uniformScore, Reasoning: why}
	}
	return out
}

func uniformCandidates(candidates []Candidate, why string) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = uniformScore
		out[i].Reasoning = why
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
