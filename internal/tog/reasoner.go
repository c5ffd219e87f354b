// Package tog implements the multi-hop graph reasoner: starting from topic
// entities grounded in the question, it alternates relation exploration and
// entity expansion under a pruning strategy, accumulating evidence triplets.
// An answer is synthesized only once the sufficiency gate passes; running out
// of relations or depth first, or detecting a cycle, ends the run as
// insufficient evidence.
package tog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/config"
	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/llm"
	"github.com/huytu0702/graphtog/internal/pruning"
	"github.com/huytu0702/graphtog/internal/resolve"
	"github.com/huytu0702/graphtog/internal/status"
)

const (
	maxTopicEntities   = 5
	topicListLimit     = 200
	candidateCap       = 20
	minRelConfidence   = 0.3
	fuzzyTopicFloor    = 0.8
	fuzzyTokenFloor    = 0.6
	cycleOverlapRatio  = 0.8
	fallbackConfidence = 0.1
)

// Step is one depth of the reasoning path.
type Step struct {
	Depth             int      `json:"depth"`
	EntitiesExplored  []string `json:"entities_explored"`
	RelationsSelected []string `json:"relations_selected"`
	SufficiencyScore  float64  `json:"sufficiency_score,omitempty"`
	Notes             string   `json:"notes,omitempty"`
}

// Triplet is one piece of evidence gathered during exploration.
type Triplet struct {
	Source     string  `json:"source"`
	Relation   string  `json:"relation"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
	Depth      int     `json:"depth"`
}

// Result is the payload of a reasoning run.
type Result struct {
	Answer           string    `json:"answer"`
	Confidence       float64   `json:"confidence"`
	ReasoningSummary string    `json:"reasoning_summary,omitempty"`
	Triplets         []Triplet `json:"triplets"`
	Path             []Step    `json:"reasoning_path"`
}

// Reasoner walks the graph question-first. One instance serves many queries;
// all state lives per call.
type Reasoner struct {
	store  graph.Store
	llm    llm.Client
	pruner pruning.Strategy
	cfg    config.ToGConfig
	logger *zap.Logger
}

// New creates a Reasoner with the configured pruning strategy.
func New(store graph.Store, client llm.Client, cfg config.ToGConfig, logger *zap.Logger) (*Reasoner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pruner, err := pruning.New(cfg.PruningMethod, client, logger)
	if err != nil {
		return nil, err
	}
	return &Reasoner{
		store:  store,
		llm:    client,
		pruner: pruner,
		cfg:    cfg,
		logger: logger.Named("tog"),
	}, nil
}

// state is the per-query exploration record.
type state struct {
	exploredEntities  map[string]struct{} // entity ids
	exploredRelations map[string]struct{} // relation type labels
	path              []Step
	triplets          []Triplet
	tripletKeys       map[string]struct{}
}

func newState() *state {
	return &state{
		exploredEntities:  make(map[string]struct{}),
		exploredRelations: make(map[string]struct{}),
		tripletKeys:       make(map[string]struct{}),
	}
}

func (st *state) addTriplet(t Triplet) {
	key := t.Source + "|" + t.Relation + "|" + t.Target
	if _, dup := st.tripletKeys[key]; dup {
		return
	}
	st.tripletKeys[key] = struct{}{}
	st.triplets = append(st.triplets, t)
}

// Answer runs the full reasoning loop over the whole graph.
func (r *Reasoner) Answer(ctx context.Context, question string) status.Envelope {
	return r.AnswerScoped(ctx, question, nil)
}

// AnswerScoped restricts exploration to entities and relations from the given
// documents. Any unrecoverable error degrades to a low-confidence fallback
// answer rather than failing the query.
func (r *Reasoner) AnswerScoped(ctx context.Context, question string, documentIDs []string) status.Envelope {
	if strings.TrimSpace(question) == "" {
		return status.Fail(status.E(status.KindInvalidInput, "question is empty"))
	}

	env, err := r.reason(ctx, question, documentIDs)
	if err != nil {
		r.logger.Warn("reasoning failed, using fallback path", zap.Error(err))
		return r.fallback(ctx, question, documentIDs, err)
	}
	return env
}

func (r *Reasoner) reason(ctx context.Context, question string, documentIDs []string) (status.Envelope, error) {
	st := newState()

	frontier, err := r.extractTopics(ctx, question, documentIDs)
	if err != nil {
		return status.Envelope{}, err
	}
	if len(frontier) == 0 {
		return status.Fail(status.E(status.KindInsufficientEvidence,
			"no topic entities matched the graph")), nil
	}
	for _, e := range frontier {
		st.exploredEntities[e.ID] = struct{}{}
	}

	for depth := 1; depth <= r.cfg.SearchDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return status.Envelope{}, status.Wrap(status.KindCancelled, "exploration interrupted", err)
		}

		selected, err := r.exploreRelations(ctx, question, st, frontier, documentIDs)
		if err != nil {
			return status.Envelope{}, err
		}
		if len(selected) == 0 {
			st.path = append(st.path, Step{
				Depth:            depth,
				EntitiesExplored: entityNames(frontier),
				Notes:            "no unexplored relations remain",
			})
			break
		}

		next, step := r.expandEntities(ctx, question, st, selected, depth, documentIDs)
		step.EntitiesExplored = entityNames(frontier)

		if r.cfg.EnableSufficiencyCheck {
			sufficient, score := r.checkSufficiency(ctx, question, st)
			step.SufficiencyScore = score
			if sufficient {
				step.Notes = "evidence judged sufficient"
				st.path = append(st.path, step)
				return r.generateAnswer(ctx, question, st)
			}
		}

		// A frontier that merely re-visits the previous step's entities will
		// loop forever; cut it off.
		if depth > 1 && nameOverlap(entityNames(next), st.path[len(st.path)-1].EntitiesExplored) >= cycleOverlapRatio {
			step.Notes = "cycle detected"
			st.path = append(st.path, step)
			env := status.Fail(status.E(status.KindCycle,
				"exploration revisited the previous step's entities"))
			env.ReasoningSteps = pathSteps(st.path)
			return env, nil
		}

		st.path = append(st.path, step)
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	// Relations or depth ran out before the evidence was judged sufficient.
	env := status.Fail(status.E(status.KindInsufficientEvidence,
		"exploration exhausted before the evidence sufficed"))
	env.ReasoningSteps = pathSteps(st.path)
	return env, nil
}

const topicPrompt = `Select the starting entities for answering this question by graph traversal.

Question: %s

Entities available in the graph:
%s

Pick up to %d entity names from the list above that the question is about. Respond with JSON only:
{"entities": ["<name>"]}`

// extractTopics grounds the question in the graph: the LLM selects seed
// entities from the available-name list, misses are fuzzy-matched, and as a
// last resort question tokens are matched directly against entity names.
func (r *Reasoner) extractTopics(ctx context.Context, question string, documentIDs []string) ([]graph.Entity, error) {
	names, err := r.store.EntityNames(ctx, documentIDs, topicListLimit)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	var picked struct {
		Entities []string `json:"entities"`
	}
	prompt := fmt.Sprintf(topicPrompt, question, strings.Join(names, "\n"), maxTopicEntities)
	if err := r.llm.GenerateJSON(ctx, prompt, r.cfg.ReasoningTemp, &picked); err != nil {
		r.logger.Debug("topic selection failed, falling back to token matching", zap.Error(err))
		picked.Entities = nil
	}

	seen := make(map[string]struct{})
	var topics []graph.Entity
	add := func(e *graph.Entity) {
		if e == nil {
			return
		}
		if _, dup := seen[e.ID]; dup {
			return
		}
		seen[e.ID] = struct{}{}
		topics = append(topics, *e)
	}

	for _, name := range picked.Entities {
		if len(topics) >= maxTopicEntities {
			break
		}
		ent, err := r.store.FindEntityByName(ctx, name, "")
		if err != nil {
			return nil, err
		}
		if ent != nil {
			add(ent)
			continue
		}
		if match := bestFuzzy(name, names, fuzzyTopicFloor); match != "" {
			ent, err := r.store.FindEntityByName(ctx, match, "")
			if err != nil {
				return nil, err
			}
			add(ent)
		}
	}

	if len(topics) == 0 {
		for _, tok := range meaningfulTokens(question) {
			if len(topics) >= maxTopicEntities {
				break
			}
			if match := bestFuzzy(tok, names, fuzzyTokenFloor); match != "" {
				ent, err := r.store.FindEntityByName(ctx, match, "")
				if err != nil {
					return nil, err
				}
				add(ent)
			}
		}
	}
	return topics, nil
}

// selectedRelation is a chosen relation type together with the frontier
// entity it was observed on.
type selectedRelation struct {
	occ graph.RelationOccurrence
}

func (r *Reasoner) exploreRelations(ctx context.Context, question string, st *state, frontier []graph.Entity, documentIDs []string) ([]selectedRelation, error) {
	ids := make([]string, len(frontier))
	for i, e := range frontier {
		ids[i] = e.ID
	}
	occs, err := r.store.RelationTypes(ctx, ids, minRelConfidence, documentIDs)
	if err != nil {
		return nil, err
	}

	byType := make(map[string]graph.RelationOccurrence)
	var types []string
	for _, occ := range occs {
		if _, explored := st.exploredRelations[occ.Type]; explored {
			continue
		}
		if _, dup := byType[occ.Type]; dup {
			continue
		}
		byType[occ.Type] = occ
		types = append(types, occ.Type)
	}
	if len(types) == 0 {
		return nil, nil
	}

	scored, err := r.pruner.ScoreRelations(ctx, question, types, exploreContext(frontier))
	if err != nil {
		return nil, err
	}

	width := r.cfg.SearchWidth
	if width > len(scored) {
		width = len(scored)
	}
	selected := make([]selectedRelation, 0, width)
	for _, sr := range scored[:width] {
		st.exploredRelations[sr.Relation] = struct{}{}
		selected = append(selected, selectedRelation{occ: byType[sr.Relation]})
	}
	return selected, nil
}

// expandEntities follows each selected relation to its best candidate target.
// Pruning failures degrade per relation; expansion itself never errors.
func (r *Reasoner) expandEntities(ctx context.Context, question string, st *state, selected []selectedRelation, depth int, documentIDs []string) ([]graph.Entity, Step) {
	step := Step{Depth: depth}
	type scoredEntity struct {
		ent   graph.Entity
		score float64
	}
	var next []scoredEntity

	for _, sel := range selected {
		step.RelationsSelected = append(step.RelationsSelected, sel.occ.Type)

		targets, err := r.store.CandidateTargets(ctx, sel.occ.SourceID, sel.occ.Type, documentIDs, candidateCap)
		if err != nil {
			r.logger.Debug("candidate lookup failed",
				zap.String("relation", sel.occ.Type), zap.Error(err))
			continue
		}
		if len(targets) == 0 {
			continue
		}

		candidates := make([]pruning.Candidate, len(targets))
		for i, t := range targets {
			candidates[i] = pruning.Candidate{
				Name:        t.Entity.Name,
				Description: t.Entity.Description,
				Type:        t.Entity.Type,
				Confidence:  t.Confidence,
			}
		}
		ranked, err := r.pruner.ScoreEntities(ctx, question, candidates, sel.occ.Type)
		if err != nil || len(ranked) == 0 {
			continue
		}

		top := ranked[0]
		var target *graph.CandidateTarget
		for i := range targets {
			if targets[i].Entity.Name == top.Name {
				target = &targets[i]
				break
			}
		}
		if target == nil {
			continue
		}

		st.addTriplet(Triplet{
			Source:     sel.occ.SourceName,
			Relation:   sel.occ.Type,
			Target:     target.Entity.Name,
			Confidence: target.Confidence,
			Depth:      depth,
		})
		if _, explored := st.exploredEntities[target.Entity.ID]; explored {
			continue
		}
		st.exploredEntities[target.Entity.ID] = struct{}{}
		next = append(next, scoredEntity{ent: target.Entity, score: top.Score})
	}

	sort.SliceStable(next, func(i, j int) bool { return next[i].score > next[j].score })
	if len(next) > r.cfg.NumRetainEntity {
		next = next[:r.cfg.NumRetainEntity]
	}
	out := make([]graph.Entity, len(next))
	for i, se := range next {
		out[i] = se.ent
	}
	return out, step
}

const sufficiencyPrompt = `Judge whether the evidence gathered so far suffices to answer the question.

Question: %s

Evidence triplets:
%s

Respond with JSON only:
{"sufficient": true|false, "confidence_score": 0.0-1.0, "reasoning": "<brief>"}`

func (r *Reasoner) checkSufficiency(ctx context.Context, question string, st *state) (bool, float64) {
	var out struct {
		Sufficient      bool    `json:"sufficient"`
		ConfidenceScore float64 `json:"confidence_score"`
		Reasoning       string  `json:"reasoning"`
	}
	prompt := fmt.Sprintf(sufficiencyPrompt, question, renderTriplets(st.triplets))
	if err := r.llm.GenerateJSON(ctx, prompt, r.cfg.ReasoningTemp, &out); err != nil {
		r.logger.Debug("sufficiency check failed, continuing exploration", zap.Error(err))
		return false, 0
	}
	return out.Sufficient, out.ConfidenceScore
}

const finalPrompt = `Answer the question from the reasoning path below.

Question: %s

Reasoning path:
%s

Evidence triplets:
%s

Respond with JSON only:
{"answer": "<answer>", "confidence": 0.0-1.0, "reasoning_summary": "<how the path supports the answer>"}`

func (r *Reasoner) generateAnswer(ctx context.Context, question string, st *state) (status.Envelope, error) {
	if len(st.triplets) == 0 {
		env := status.Fail(status.E(status.KindInsufficientEvidence,
			"exploration gathered no evidence"))
		env.ReasoningSteps = pathSteps(st.path)
		return env, nil
	}

	var out struct {
		Answer           string  `json:"answer"`
		Confidence       float64 `json:"confidence"`
		ReasoningSummary string  `json:"reasoning_summary"`
	}
	prompt := fmt.Sprintf(finalPrompt, question, renderPath(st.path), renderTriplets(st.triplets))
	if err := r.llm.GenerateJSON(ctx, prompt, r.cfg.ReasoningTemp, &out); err != nil {
		return status.Envelope{}, err
	}
	if strings.TrimSpace(out.Answer) == "" {
		return status.Envelope{}, status.E(status.KindLLMParse, "empty answer from model")
	}

	env := status.Retrieved("tog", Result{
		Answer:           out.Answer,
		Confidence:       out.Confidence,
		ReasoningSummary: out.ReasoningSummary,
		Triplets:         st.triplets,
		Path:             st.path,
	})
	env.ReasoningSteps = pathSteps(st.path)
	return env, nil
}

// fallback grounds up to two fuzzy-matched entities and answers with a
// one-step diagnostic path at low confidence.
func (r *Reasoner) fallback(ctx context.Context, question string, documentIDs []string, cause error) status.Envelope {
	names, err := r.store.EntityNames(ctx, documentIDs, topicListLimit)
	if err != nil || len(names) == 0 {
		return status.Fail(status.Wrap(status.KindInternal, "reasoning failed", cause))
	}

	var matched []string
	for _, tok := range meaningfulTokens(question) {
		if len(matched) >= 2 {
			break
		}
		if m := bestFuzzy(tok, names, fuzzyTokenFloor); m != "" && !contains(matched, m) {
			matched = append(matched, m)
		}
	}

	step := Step{
		Depth:            1,
		EntitiesExplored: matched,
		Notes:            "degraded path: " + cause.Error(),
	}
	answer := "Reasoning could not complete"
	if len(matched) > 0 {
		answer = fmt.Sprintf("Reasoning could not complete; the question appears related to %s.",
			strings.Join(matched, " and "))
	}
	env := status.Envelope{
		Status:        status.StatusPartial,
		RetrievalType: "tog",
		Data: Result{
			Answer:     answer,
			Confidence: fallbackConfidence,
			Path:       []Step{step},
		},
		ReasoningSteps: pathSteps([]Step{step}),
	}
	return env
}

func bestFuzzy(name string, names []string, floor float64) string {
	best, bestScore := "", floor
	for _, cand := range names {
		if s := resolve.Similarity(name, cand); s > bestScore || (s == bestScore && best == "") {
			if s >= floor {
				best, bestScore = cand, s
			}
		}
	}
	return best
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "what": {}, "which": {}, "where": {}, "when": {}, "does": {},
	"how": {}, "who": {}, "are": {}, "was": {}, "were": {}, "between": {},
	"about": {}, "into": {}, "their": {}, "they": {}, "have": {}, "has": {},
}

func meaningfulTokens(question string) []string {
	var out []string
	for _, tok := range strings.Fields(question) {
		tok = strings.Trim(strings.ToLower(tok), ".,?!\"'():;")
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func entityNames(entities []graph.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Name
	}
	return out
}

// nameOverlap is the share of current names also present in previous.
func nameOverlap(current, previous []string) float64 {
	if len(current) == 0 {
		return 0
	}
	prev := make(map[string]struct{}, len(previous))
	for _, n := range previous {
		prev[strings.ToLower(n)] = struct{}{}
	}
	hit := 0
	for _, n := range current {
		if _, ok := prev[strings.ToLower(n)]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(current))
}

func exploreContext(frontier []graph.Entity) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for _, e := range frontier {
		fmt.Fprintf(buf, "%s (%s)", e.Name, e.Type)
		if e.Description != "" {
			fmt.Fprintf(buf, ": %s", e.Description)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

func renderTriplets(triplets []Triplet) string {
	if len(triplets) == 0 {
		return "(none)"
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for _, t := range triplets {
		fmt.Fprintf(buf, "(%s) -[%s]-> (%s) confidence %.2f\n",
			t.Source, t.Relation, t.Target, t.Confidence)
	}
	return buf.String()
}

func renderPath(path []Step) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for _, s := range path {
		fmt.Fprintf(buf, "step %d: explored %s via %s",
			s.Depth, strings.Join(s.EntitiesExplored, ", "), strings.Join(s.RelationsSelected, ", "))
		if s.Notes != "" {
			fmt.Fprintf(buf, " (%s)", s.Notes)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

func pathSteps(path []Step) []any {
	out := make([]any, len(path))
	for i, s := range path {
		out[i] = s
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
