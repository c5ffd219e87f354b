package pruning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/huytu0702/graphtog/internal/jsonx"
)

type fakeScorer struct {
	jsonResponse string
	jsonErr      error
	embeddings   map[string][]float64
	embedErr     error
}

func (f *fakeScorer) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeScorer) GenerateJSON(ctx context.Context, prompt string, temperature float64, out any) error {
	if f.jsonErr != nil {
		return f.jsonErr
	}
	return jsonx.UnmarshalFromString(f.jsonResponse, out)
}

func (f *fakeScorer) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if v, ok := f.embeddings[text]; ok {
		return v, nil
	}
	return []float64{0, 1}, nil
}

func TestNewRejectsUnknownMethod(t *testing.T) {
	_, err := New("quantum", nil, zaptest.NewLogger(t))
	require.Error(t, err)

	for _, m := range []string{MethodLLM, MethodBM25, MethodSentenceBERT} {
		s, err := New(m, &fakeScorer{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, s)
	}
}

func TestLLMScoreRelations(t *testing.T) {
	client := &fakeScorer{jsonResponse: `[
		{"relation": "WORKS_AT", "score": 0.9, "reasoning": "employment question"},
		{"relation": "BORN_IN", "score": 0.2, "reasoning": "irrelevant"},
		{"relation": "INVENTED", "score": 0.7, "reasoning": "not asked"}
	]`}
	s := newLLMStrategy(client, zaptest.NewLogger(t))

	scored, err := s.ScoreRelations(context.Background(), "Where does Alice work?",
		[]string{"WORKS_AT", "BORN_IN"}, "")
	require.NoError(t, err)
	require.Len(t, scored, 2, "hallucinated relation types are dropped")
	assert.Equal(t, "WORKS_AT", scored[0].Relation)
	assert.Equal(t, 0.9, scored[0].Score)
}

func TestLLMScoreRelationsFallsBackUniform(t *testing.T) {
	client := &fakeScorer{jsonErr: errors.New("model down")}
	s := newLLMStrategy(client, zaptest.NewLogger(t))

	scored, err := s.ScoreRelations(context.Background(), "q", []string{"A", "B"}, "")
	require.NoError(t, err, "backend failure degrades, never fails")
	require.Len(t, scored, 2)
	assert.Equal(t, 0.5, scored[0].Score)
	assert.Equal(t, 0.5, scored[1].Score)
}

func TestLLMScoreEntities(t *testing.T) {
	client := &fakeScorer{jsonResponse: `[
		{"name": "Acme", "score": 0.95, "reasoning": "the employer"},
		{"name": "Paris", "score": 0.3, "reasoning": "a city"}
	]`}
	s := newLLMStrategy(client, zaptest.NewLogger(t))

	out, err := s.ScoreEntities(context.Background(), "Where does Alice work?", []Candidate{
		{Name: "Paris", Type: "GEO", Confidence: 0.8},
		{Name: "Acme", Type: "ORGANIZATION", Confidence: 0.9},
	}, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Acme", out[0].Name)
	assert.Equal(t, 0.95, out[0].Score)
}

func TestBM25ScoreEntities(t *testing.T) {
	s := newBM25Strategy(zaptest.NewLogger(t))

	out, err := s.ScoreEntities(context.Background(), "fusion reactor energy", []Candidate{
		{Name: "Helion", Description: "company building a fusion reactor", Type: "ORGANIZATION"},
		{Name: "Bakery", Description: "sells bread and pastries", Type: "ORGANIZATION"},
	}, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Helion", out[0].Name)
	assert.Equal(t, 1.0, out[0].Score, "max-normalized top score is 1")
	assert.Less(t, out[1].Score, out[0].Score)
}

func TestBM25ScoreRelations(t *testing.T) {
	s := newBM25Strategy(zaptest.NewLogger(t))

	scored, err := s.ScoreRelations(context.Background(), "who works at the company",
		[]string{"WORKS_AT", "BORN_IN"}, "")
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "WORKS_AT", scored[0].Relation)
}

func TestEmbedScoring(t *testing.T) {
	client := &fakeScorer{embeddings: map[string][]float64{
		"where is the reactor":           {1, 0},
		"Reactor fusion energy facility": {1, 0.1},
		"Bakery bread shop":              {0, 1},
	}}
	s := newEmbedStrategy(client, zaptest.NewLogger(t))

	out, err := s.ScoreEntities(context.Background(), "where is the reactor", []Candidate{
		{Name: "Bakery", Description: "bread shop", Type: "ORGANIZATION"},
		{Name: "Reactor", Description: "fusion energy facility", Type: "FACILITY"},
	}, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Reactor", out[0].Name)
	assert.Greater(t, out[0].Score, out[1].Score)
}

func TestEmbedFallsBackUniform(t *testing.T) {
	client := &fakeScorer{embedErr: errors.New("no embedding model")}
	s := newEmbedStrategy(client, zaptest.NewLogger(t))

	out, err := s.ScoreEntities(context.Background(), "q", []Candidate{{Name: "X"}}, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0.5, out[0].Score)
}

func TestCosineScore(t *testing.T) {
	assert.InDelta(t, 1.0, cosineScore([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.5, cosineScore([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 0.0, cosineScore([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.5, cosineScore([]float64{1}, []float64{1, 2}), "dimension mismatch degrades")
}
