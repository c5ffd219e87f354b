// Package query is the question-answering front: classify the question,
// resolve its entities against the graph, retrieve context at the right
// zoom level, and generate a cited answer. Broad questions over a large
// summarized community set take the map-reduce path instead.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/config"
	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/llm"
	"github.com/huytu0702/graphtog/internal/retrieval"
	"github.com/huytu0702/graphtog/internal/status"
)

const (
	maxRelatedPerEntity = 5
	maxUnitsPerEntity   = 3
	excerptLimit        = 500
	fallbackEntityLimit = 10
)

// Classification is the LLM's reading of the question.
type Classification struct {
	Type        string   `json:"type"`
	KeyEntities []string `json:"key_entities"`
	Confidence  float64  `json:"confidence"`
}

// Citation points an answer marker at its grounding text.
type Citation struct {
	Index      int    `json:"index"`
	TextUnitID string `json:"text_unit_id"`
	DocumentID string `json:"document_id"`
	Excerpt    string `json:"excerpt"`
}

// Answer is the payload of a successful query.
type Answer struct {
	Answer          string         `json:"answer"`
	Citations       []Citation     `json:"citations"`
	ConfidenceScore float64        `json:"confidence_score"`
	Classification  Classification `json:"classification"`
}

// Reasoner lets the service hand multi-hop questions to the graph reasoner
// without importing it.
type Reasoner interface {
	Answer(ctx context.Context, question string) status.Envelope
}

// Service executes the classify → resolve → retrieve → assemble → answer
// pipeline.
type Service struct {
	store     graph.Store
	llm       llm.Client
	retriever *retrieval.Retriever
	reasoner  Reasoner // optional
	cfg       config.MapReduceConfig
	logger    *zap.Logger
}

// New creates a query Service. reasoner may be nil, in which case questions
// classified as multi-hop fall back to hierarchical retrieval.
func New(store graph.Store, client llm.Client, retriever *retrieval.Retriever, reasoner Reasoner, cfg config.MapReduceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		llm:       client,
		retriever: retriever,
		reasoner:  reasoner,
		cfg:       cfg,
		logger:    logger.Named("query"),
	}
}

const classifyPrompt = `Classify this question for a knowledge-graph QA system.

Question: %s

Types:
- specific: asks about one entity or fact
- comparative: compares two or more entities
- exploratory: broad, open-ended exploration
- local: neighborhood of a known entity
- global: about the whole corpus, themes, or trends
- hybrid: mixes local detail and global context
- tog: requires multi-hop reasoning across several entities

Respond with JSON only:
{"type": "<type>", "key_entities": ["<entity names mentioned>"], "confidence": 0.0-1.0}`

// Query answers a question. Steps are strictly sequential; every step
// appends to the envelope's reasoning steps.
func (s *Service) Query(ctx context.Context, question string) status.Envelope {
	if strings.TrimSpace(question) == "" {
		return status.Fail(status.E(status.KindInvalidInput, "question is empty"))
	}

	var steps []any
	note := func(format string, args ...any) {
		steps = append(steps, fmt.Sprintf(format, args...))
	}

	cls := s.classify(ctx, question)
	note("classified as %s (confidence %.2f), key entities: %s",
		cls.Type, cls.Confidence, strings.Join(cls.KeyEntities, ", "))

	// Multi-hop questions go to the reasoner when one is wired.
	if cls.Type == "tog" && s.reasoner != nil {
		env := s.reasoner.Answer(ctx, question)
		env.ReasoningSteps = append(steps, env.ReasoningSteps...)
		return env
	}

	// Broad corpus questions over a summarized community set map-reduce.
	if cls.Type == "global" && s.cfg.Enabled {
		comms, err := s.store.Communities(ctx, -1)
		if err == nil && len(comms) >= s.cfg.CommunityThreshold {
			note("global question over %d communities, using map-reduce", len(comms))
			env := s.mapReduce(ctx, question, comms)
			env.ReasoningSteps = append(steps, env.ReasoningSteps...)
			return env
		}
	}

	seeds := s.resolveEntities(ctx, cls.KeyEntities)
	if len(seeds) == 0 {
		note("no key entities resolved, falling back to top entities")
		top, err := s.store.TopEntities(ctx, fallbackEntityLimit, "")
		if err != nil {
			return failWithSteps(err, steps)
		}
		for _, e := range top {
			seeds = append(seeds, e.Name)
		}
	}
	if len(seeds) == 0 {
		return failWithSteps(status.E(status.KindInsufficientEvidence, "graph has no entities to ground the question"), steps)
	}
	note("resolved %d seed entities", len(seeds))

	levels := retrieval.LevelsForQueryType(cls.Type)
	if cls.Type == "global" || cls.Type == "hybrid" {
		levels.Global = true
		levels.Community = true
	}
	env := s.retriever.Hierarchical(ctx, seeds, levels)
	if env.Status != status.StatusSuccess {
		return failWithSteps(status.E(status.KindInsufficientEvidence, env.Error), steps)
	}
	data := env.Data.(retrieval.HierarchicalData)
	note("retrieved %d entities, %d communities, %d text units",
		len(data.Entities), len(data.Communities), len(data.TextUnits))

	contextText, citations := s.assembleContext(ctx, data)
	answer, err := s.generateAnswer(ctx, question, contextText, citations)
	if err != nil {
		return failWithSteps(err, steps)
	}
	answer.Classification = cls
	note("answer generated with %d citations", len(answer.Citations))

	out := status.OK(*answer)
	out.ReasoningSteps = steps
	return out
}

func (s *Service) classify(ctx context.Context, question string) Classification {
	var cls Classification
	if err := s.llm.GenerateJSON(ctx, fmt.Sprintf(classifyPrompt, question), 0.0, &cls); err != nil {
		s.logger.Warn("classification failed, defaulting to specific", zap.Error(err))
		return Classification{Type: "specific"}
	}
	cls.Type = strings.ToLower(strings.TrimSpace(cls.Type))
	switch cls.Type {
	case "specific", "comparative", "exploratory", "local", "global", "hybrid", "tog":
	default:
		cls.Type = "specific"
	}
	return cls
}

func (s *Service) resolveEntities(ctx context.Context, names []string) []string {
	var seeds []string
	for _, name := range names {
		ent, err := s.store.FindEntityByName(ctx, name, "")
		if err != nil || ent == nil {
			continue
		}
		seeds = append(seeds, ent.Name)
	}
	return seeds
}

// assembleContext renders per-entity blocks plus community summaries into
// the answer prompt's context section, collecting citations as it goes.
// Text units are deduplicated globally.
func (s *Service) assembleContext(ctx context.Context, data retrieval.HierarchicalData) (string, []Citation) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var citations []Citation
	seenUnit := make(map[string]struct{})

	for _, ent := range data.Entities {
		fmt.Fprintf(buf, "%s (%s)", ent.Name, ent.Type)
		if ent.Description != "" {
			fmt.Fprintf(buf, " — %s", ent.Description)
		}
		buf.WriteString("\n")

		ec, err := s.store.EntityContext(ctx, ent.ID, 1, true)
		if err != nil {
			continue
		}
		for i, re := range ec.RelatedEntities {
			if i >= maxRelatedPerEntity {
				break
			}
			fmt.Fprintf(buf, "  - %s %s %s\n", ent.Name, re.RelationType, re.Entity.Name)
		}
		units := 0
		for _, u := range ec.TextUnits {
			if units >= maxUnitsPerEntity {
				break
			}
			if _, dup := seenUnit[u.ID]; dup {
				continue
			}
			seenUnit[u.ID] = struct{}{}
			units++
			excerpt := truncate(u.Text, excerptLimit)
			citations = append(citations, Citation{
				Index:      len(citations) + 1,
				TextUnitID: u.ID,
				DocumentID: u.DocumentID,
				Excerpt:    excerpt,
			})
			fmt.Fprintf(buf, "  [%d] %s\n", len(citations), excerpt)
		}
	}

	for _, c := range data.Communities {
		if c.Summarized() {
			fmt.Fprintf(buf, "Community %d: %s\n", c.ID, c.Summary)
		}
	}
	if data.Global != nil {
		for _, c := range data.Global.Communities {
			if c.Summarized() {
				fmt.Fprintf(buf, "Community %d (level %d): %s\n", c.ID, c.Level, c.Summary)
			}
		}
	}
	return buf.String(), citations
}

const answerPrompt = `Answer the question using only the context below. Cite supporting text with the bracketed numbers already present in the context, like [1].

Context:
%s

Question: %s

Respond with JSON only:
{"answer": "<answer with citation markers>", "confidence_score": 0.0-1.0}`

func (s *Service) generateAnswer(ctx context.Context, question, contextText string, citations []Citation) (*Answer, error) {
	var out struct {
		Answer          string  `json:"answer"`
		ConfidenceScore float64 `json:"confidence_score"`
	}
	if err := s.llm.GenerateJSON(ctx, fmt.Sprintf(answerPrompt, contextText, question), 0.0, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Answer) == "" {
		return nil, status.E(status.KindLLMParse, "empty answer from model")
	}
	return &Answer{
		Answer:          out.Answer,
		Citations:       citations,
		ConfidenceScore: out.ConfidenceScore,
	}, nil
}

func failWithSteps(err error, steps []any) status.Envelope {
	env := status.Fail(err)
	env.ReasoningSteps = steps
	return env
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
