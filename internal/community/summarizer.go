package community

import (
	"context"
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/llm"
	"github.com/huytu0702/graphtog/internal/status"
)

const (
	summaryMemberCap   = 20
	summaryRelationCap = 15
	summaryTemp        = 0.2
)

// Summarizer writes LLM summaries onto community records.
type Summarizer struct {
	store  graph.Store
	llm    llm.Client
	logger *zap.Logger
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(store graph.Store, client llm.Client, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{store: store, llm: client, logger: logger.Named("summarizer")}
}

type summaryPayload struct {
	Summary      string   `json:"summary"`
	Themes       []string `json:"themes"`
	Significance string   `json:"significance"`
}

// Summarize generates and stores the summary for one community.
func (s *Summarizer) Summarize(ctx context.Context, communityID int) error {
	members, err := s.store.CommunityMembers(ctx, communityID, summaryMemberCap)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return status.Ef(status.KindNotFound, "community %d has no members", communityID)
	}

	memberSet := make(map[string]struct{}, len(members))
	for _, m := range members {
		memberSet[m.ID] = struct{}{}
	}

	// Internal relations only, capped for prompt size.
	var rels []string
	nameOf := make(map[string]string, len(members))
	for _, m := range members {
		nameOf[m.ID] = m.Name
	}
	for _, m := range members {
		if len(rels) >= summaryRelationCap {
			break
		}
		out, err := s.store.OutgoingRelations(ctx, m.ID)
		if err != nil {
			return err
		}
		for _, rel := range out {
			if _, internal := memberSet[rel.TargetID]; !internal {
				continue
			}
			rels = append(rels, fmt.Sprintf("%s -[%s]-> %s", nameOf[rel.SourceID], rel.Type, nameOf[rel.TargetID]))
			if len(rels) >= summaryRelationCap {
				break
			}
		}
	}

	prompt := buildSummaryPrompt(members, rels)

	var payload summaryPayload
	if err := s.llm.GenerateJSON(ctx, prompt, summaryTemp, &payload); err != nil {
		return err
	}
	if strings.TrimSpace(payload.Summary) == "" {
		return status.E(status.KindLLMParse, "empty community summary")
	}
	payload.Significance = normalizeSignificance(payload.Significance)

	return s.store.SetCommunitySummary(ctx, communityID, payload.Summary, payload.Themes, payload.Significance)
}

// SummarizeAll summarizes every community, isolating per-community failures.
// Returns how many succeeded and how many failed.
func (s *Summarizer) SummarizeAll(ctx context.Context) (int, int, error) {
	comms, err := s.store.Communities(ctx, -1)
	if err != nil {
		return 0, 0, err
	}

	ok, failed := 0, 0
	for _, c := range comms {
		if err := ctx.Err(); err != nil {
			return ok, failed, status.Wrap(status.KindCancelled, "summarization interrupted", err)
		}
		if err := s.Summarize(ctx, c.ID); err != nil {
			failed++
			s.logger.Warn("community summarization failed",
				zap.Int("community_id", c.ID), zap.Error(err))
			continue
		}
		ok++
	}
	s.logger.Info("batch summarization done", zap.Int("ok", ok), zap.Int("failed", failed))
	return ok, failed, nil
}

func buildSummaryPrompt(members []graph.Entity, rels []string) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString("Summarize this community of related entities from a knowledge graph.\n\nEntities:\n")
	for _, m := range members {
		fmt.Fprintf(buf, "- %s (%s)", m.Name, m.Type)
		if m.Description != "" {
			fmt.Fprintf(buf, ": %s", m.Description)
		}
		buf.WriteString("\n")
	}
	if len(rels) > 0 {
		buf.WriteString("\nRelationships:\n")
		for _, r := range rels {
			buf.WriteString("- ")
			buf.WriteString(r)
			buf.WriteString("\n")
		}
	}
	buf.WriteString(`
Respond with JSON only:
{"summary": "<2-4 sentence summary>", "themes": ["<3 to 5 themes>"], "significance": "low|medium|high"}`)
	return buf.String()
}

func normalizeSignificance(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return "low"
	case "high":
		return "high"
	default:
		return "medium"
	}
}
