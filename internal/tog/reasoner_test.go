package tog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/huytu0702/graphtog/internal/config"
	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/jsonx"
	"github.com/huytu0702/graphtog/internal/status"
)

// routingLLM answers GenerateJSON by matching a substring of the prompt.
type routingLLM struct {
	routes map[string]func() (string, error)
}

func newRoutingLLM() *routingLLM {
	return &routingLLM{routes: make(map[string]func() (string, error))}
}

func (r *routingLLM) on(substr, response string) {
	r.routes[substr] = func() (string, error) { return response, nil }
}

func (r *routingLLM) onErr(substr string, err error) {
	r.routes[substr] = func() (string, error) { return "", err }
}

// onSeq answers with each response in turn, repeating the last one.
func (r *routingLLM) onSeq(substr string, responses ...string) {
	i := 0
	r.routes[substr] = func() (string, error) {
		resp := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return resp, nil
	}
}

func (r *routingLLM) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return "", errors.New("not used")
}

func (r *routingLLM) GenerateJSON(ctx context.Context, prompt string, temperature float64, out any) error {
	for substr, fn := range r.routes {
		if strings.Contains(prompt, substr) {
			resp, err := fn()
			if err != nil {
				return err
			}
			return jsonx.UnmarshalFromString(resp, out)
		}
	}
	return fmt.Errorf("no route for prompt: %.60s", prompt)
}

func (r *routingLLM) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("not used")
}

// seedChain builds Alice -[WORKS_AT]-> Acme -[HEADQUARTERED_IN]-> Paris.
func seedChain(t *testing.T, store graph.Store) {
	t.Helper()
	ctx := context.Background()
	alice, _ := store.UpsertEntity(ctx, "Alice", "PERSON", "an engineer", 0.9)
	acme, _ := store.UpsertEntity(ctx, "Acme", "ORGANIZATION", "a company", 0.9)
	paris, _ := store.UpsertEntity(ctx, "Paris", "GEO", "a city", 0.9)
	require.NoError(t, store.UpsertRelation(ctx, alice, acme, "WORKS_AT", "employment", 0.9, 8))
	require.NoError(t, store.UpsertRelation(ctx, acme, paris, "HEADQUARTERED_IN", "location", 0.8, 7))
}

func testConfig(sufficiency bool) config.ToGConfig {
	return config.ToGConfig{
		SearchWidth:            3,
		SearchDepth:            3,
		NumRetainEntity:        5,
		PruningMethod:          "bm25",
		EnableSufficiencyCheck: sufficiency,
	}
}

func newReasoner(t *testing.T, store graph.Store, client *routingLLM, cfg config.ToGConfig) *Reasoner {
	t.Helper()
	r, err := New(store, client, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestAnswerMultiHop(t *testing.T) {
	store := graph.NewMemStore(nil)
	seedChain(t, store)

	client := newRoutingLLM()
	client.on("Select the starting entities", `{"entities": ["Alice"]}`)
	client.onSeq("Judge whether the evidence",
		`{"sufficient": false, "confidence_score": 0.3, "reasoning": "employer known, location missing"}`,
		`{"sufficient": true, "confidence_score": 0.9, "reasoning": "chain complete"}`)
	client.on("Answer the question from the reasoning path",
		`{"answer": "Acme is headquartered in Paris.", "confidence": 0.9, "reasoning_summary": "Alice works at Acme, which sits in Paris."}`)

	r := newReasoner(t, store, client, testConfig(true))
	env := r.Answer(context.Background(), "Where is the company Alice works at headquartered?")

	require.Equal(t, status.StatusSuccess, env.Status)
	assert.Equal(t, "tog", env.RetrievalType)

	res := env.Data.(Result)
	assert.Contains(t, res.Answer, "Paris")
	require.Len(t, res.Triplets, 2)
	assert.Equal(t, Triplet{Source: "Alice", Relation: "WORKS_AT", Target: "Acme", Confidence: 0.9, Depth: 1}, res.Triplets[0])
	assert.Equal(t, Triplet{Source: "Acme", Relation: "HEADQUARTERED_IN", Target: "Paris", Confidence: 0.8, Depth: 2}, res.Triplets[1])
	assert.NotEmpty(t, env.ReasoningSteps)
}

func TestAnswerSufficiencyShortCircuit(t *testing.T) {
	store := graph.NewMemStore(nil)
	seedChain(t, store)

	client := newRoutingLLM()
	client.on("Select the starting entities", `{"entities": ["Alice"]}`)
	client.on("Judge whether the evidence",
		`{"sufficient": true, "confidence_score": 0.95, "reasoning": "employment already answers it"}`)
	client.on("Answer the question from the reasoning path",
		`{"answer": "Alice works at Acme.", "confidence": 0.9, "reasoning_summary": "direct edge"}`)

	r := newReasoner(t, store, client, testConfig(true))
	env := r.Answer(context.Background(), "Where does Alice work?")

	require.Equal(t, status.StatusSuccess, env.Status)
	res := env.Data.(Result)
	assert.Len(t, res.Triplets, 1, "stopped after the first hop")
	require.Len(t, res.Path, 1)
	assert.Equal(t, 0.95, res.Path[0].SufficiencyScore)
}

func TestAnswerCycleDetected(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()
	// Two distinct entities named "Start": expansion comes back to the same
	// name one step later.
	start, _ := store.UpsertEntity(ctx, "Start", "PERSON", "", 0.9)
	mid, _ := store.UpsertEntity(ctx, "Mid", "CONCEPT", "", 0.9)
	startOrg, _ := store.UpsertEntity(ctx, "Start", "ORGANIZATION", "", 0.9)
	require.NoError(t, store.UpsertRelation(ctx, start, mid, "LEADS", "", 0.9, 5))
	require.NoError(t, store.UpsertRelation(ctx, mid, startOrg, "FOUNDED", "", 0.9, 5))

	client := newRoutingLLM()
	client.on("Select the starting entities", `{"entities": ["Start"]}`)

	r := newReasoner(t, store, client, testConfig(false))
	env := r.Answer(ctx, "What did Start lead to?")

	assert.Equal(t, status.StatusError, env.Status)
	assert.Equal(t, status.KindCycle, env.ErrorKind)
	assert.NotEmpty(t, env.ReasoningSteps)
}

func TestAnswerFallbackOnFailure(t *testing.T) {
	store := graph.NewMemStore(nil)
	seedChain(t, store)

	client := newRoutingLLM()
	client.on("Select the starting entities", `{"entities": ["Alice"]}`)
	client.on("Judge whether the evidence",
		`{"sufficient": true, "confidence_score": 0.9, "reasoning": "direct edge"}`)
	client.onErr("Answer the question from the reasoning path", errors.New("model down"))

	r := newReasoner(t, store, client, testConfig(true))
	env := r.Answer(context.Background(), "Alice Acme relationship?")

	require.Equal(t, status.StatusPartial, env.Status)
	res := env.Data.(Result)
	assert.Equal(t, 0.1, res.Confidence)
	require.Len(t, res.Path, 1)
	assert.ElementsMatch(t, []string{"Alice", "Acme"}, res.Path[0].EntitiesExplored)
}

func TestAnswerMutualRelationEndsInsufficient(t *testing.T) {
	store := graph.NewMemStore(nil)
	ctx := context.Background()
	// The only relation type runs in both directions; once it is explored the
	// walk has nowhere left to go.
	ada, _ := store.UpsertEntity(ctx, "Ada", "PERSON", "", 0.9)
	babbage, _ := store.UpsertEntity(ctx, "Babbage", "PERSON", "", 0.9)
	require.NoError(t, store.UpsertRelation(ctx, ada, babbage, "COLLABORATED_WITH", "", 0.9, 5))
	require.NoError(t, store.UpsertRelation(ctx, babbage, ada, "COLLABORATED_WITH", "", 0.9, 5))

	client := newRoutingLLM()
	client.on("Select the starting entities", `{"entities": ["Ada"]}`)

	cfg := testConfig(false)
	cfg.SearchDepth = 5
	r := newReasoner(t, store, client, cfg)
	env := r.Answer(ctx, "Who did Ada collaborate with?")

	require.Equal(t, status.StatusError, env.Status)
	assert.Equal(t, status.KindInsufficientEvidence, env.ErrorKind)
	assert.LessOrEqual(t, len(env.ReasoningSteps), 2, "relation dedup stops the walk early")
}

func TestAnswerEmptyGraph(t *testing.T) {
	client := newRoutingLLM()
	r := newReasoner(t, graph.NewMemStore(nil), client, testConfig(false))

	env := r.Answer(context.Background(), "Who is Alice?")
	assert.Equal(t, status.StatusError, env.Status)
	assert.Equal(t, status.KindInsufficientEvidence, env.ErrorKind)
}

func TestAnswerDeterministic(t *testing.T) {
	store := graph.NewMemStore(nil)
	seedChain(t, store)

	run := func() []Triplet {
		client := newRoutingLLM()
		client.on("Select the starting entities", `{"entities": ["Alice"]}`)
		client.onSeq("Judge whether the evidence",
			`{"sufficient": false, "confidence_score": 0.3, "reasoning": "keep going"}`,
			`{"sufficient": true, "confidence_score": 0.9, "reasoning": "chain complete"}`)
		client.on("Answer the question from the reasoning path",
			`{"answer": "Paris.", "confidence": 0.9, "reasoning_summary": ""}`)
		r := newReasoner(t, store, client, testConfig(true))
		env := r.Answer(context.Background(), "Where is the company Alice works at headquartered?")
		require.Equal(t, status.StatusSuccess, env.Status)
		return env.Data.(Result).Triplets
	}

	first := run()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, run())
	}
}

func TestAnswerInvalidQuestion(t *testing.T) {
	r := newReasoner(t, graph.NewMemStore(nil), newRoutingLLM(), testConfig(false))
	env := r.Answer(context.Background(), "  ")
	assert.Equal(t, status.KindInvalidInput, env.ErrorKind)
}
