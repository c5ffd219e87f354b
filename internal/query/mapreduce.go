package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/status"
)

// failedBatchLimitRatio is the failure share above which the reduce step
// must disclose limitations.
const failedBatchLimitRatio = 0.25

// GlobalAnswer is the payload of a map-reduce global query.
type GlobalAnswer struct {
	Answer                string   `json:"answer"`
	KeyInsights           []string `json:"key_insights"`
	SupportingCommunities []int    `json:"supporting_communities"`
	Limitations           string   `json:"limitations,omitempty"`
	ConfidenceScore       float64  `json:"confidence_score"`
	BatchesTotal          int      `json:"batches_total"`
	BatchesFailed         int      `json:"batches_failed"`
}

type batchSummary struct {
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

const mapPrompt = `Given the question and these community summaries from a knowledge graph, write one intermediate summary of what they contribute to answering the question.

Question: %s

Communities:
%s

Respond with JSON only:
{"summary": "<what these communities say about the question>", "confidence": 0.0-1.0}`

const reducePrompt = `Synthesize a final answer to the question from these intermediate summaries.

Question: %s

Intermediate summaries:
%s

Respond with JSON only:
{"answer": "<final answer>", "key_insights": ["<insight>"], "supporting_communities": [<community ids>], "limitations": "<gaps, or empty>", "confidence_score": 0.0-1.0}`

// mapReduce answers a global question over the summarized community set:
// communities are mapped batch-wise into intermediate summaries and reduced
// into one answer. Failed batches are dropped; losing a quarter or more of
// them must surface in the limitations.
func (s *Service) mapReduce(ctx context.Context, question string, comms []graph.Community) status.Envelope {
	summarized := comms[:0:0]
	for _, c := range comms {
		if c.Summarized() {
			summarized = append(summarized, c)
		}
	}
	if len(summarized) == 0 {
		return status.Fail(status.E(status.KindInsufficientEvidence,
			"no community summaries available for global answering"))
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var steps []any
	var intermediates []string
	failed, total := 0, 0
	for start := 0; start < len(summarized); start += batchSize {
		end := start + batchSize
		if end > len(summarized) {
			end = len(summarized)
		}
		batch := summarized[start:end]
		total++

		if err := ctx.Err(); err != nil {
			return status.Fail(status.Wrap(status.KindCancelled, "map phase interrupted", err))
		}

		summary, err := s.mapBatch(ctx, question, batch)
		if err != nil {
			failed++
			s.logger.Warn("map batch failed", zap.Int("batch", total), zap.Error(err))
			continue
		}
		intermediates = append(intermediates,
			fmt.Sprintf("(batch %d, communities %s, confidence %.2f) %s",
				total, communityIDs(batch), summary.Confidence, summary.Summary))
	}
	steps = append(steps, fmt.Sprintf("mapped %d community batches, %d failed", total, failed))

	if len(intermediates) == 0 {
		env := status.Fail(status.E(status.KindInsufficientEvidence, "every map batch failed"))
		env.ReasoningSteps = steps
		return env
	}

	var out GlobalAnswer
	if err := s.llm.GenerateJSON(ctx,
		fmt.Sprintf(reducePrompt, question, strings.Join(intermediates, "\n")), 0.0, &out); err != nil {
		env := status.Fail(err)
		env.ReasoningSteps = steps
		return env
	}
	out.BatchesTotal = total
	out.BatchesFailed = failed

	if float64(failed) >= failedBatchLimitRatio*float64(total) && failed > 0 {
		missing := fmt.Sprintf("%d of %d community batches could not be summarized; the answer may be incomplete", failed, total)
		if out.Limitations == "" {
			out.Limitations = missing
		} else {
			out.Limitations += "; " + missing
		}
	}
	steps = append(steps, "reduced intermediate summaries into final answer")

	st := status.StatusSuccess
	if failed > 0 {
		st = status.StatusPartial
	}
	return status.Envelope{
		Status:         st,
		RetrievalType:  "global_mapreduce",
		Data:           out,
		ReasoningSteps: steps,
	}
}

func (s *Service) mapBatch(ctx context.Context, question string, batch []graph.Community) (*batchSummary, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for _, c := range batch {
		fmt.Fprintf(buf, "- community %d (size %d, significance %s): %s\n",
			c.ID, c.Size, c.Significance, c.Summary)
	}

	var out batchSummary
	if err := s.llm.GenerateJSON(ctx, fmt.Sprintf(mapPrompt, question, buf.String()), 0.0, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Summary) == "" {
		return nil, status.E(status.KindLLMParse, "empty batch summary")
	}
	return &out, nil
}

func communityIDs(batch []graph.Community) string {
	ids := make([]string, len(batch))
	for i, c := range batch {
		ids[i] = fmt.Sprintf("%d", c.ID)
	}
	return strings.Join(ids, ",")
}
