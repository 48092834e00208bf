package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxmind/internal/llm"
	"github.com/fyrsmithlabs/inboxmind/internal/logging"
)

// analystPrompt instructs the model to extract structured claims tied to
// evidence chunks.
const analystPrompt = `You are an analyst extracting structured insights from email excerpts.

Each excerpt below is labeled with a chunk id. Extract decisions, action items, and risks that are explicitly supported by the excerpts.

Respond ONLY with a JSON array. Each element must be an object:
- "category": one of "decision", "action_item", "risk"
- "statement": one clear sentence stating the insight
- "evidence_chunk_ids": array of chunk ids the statement is derived from (must be non-empty and drawn from the labeled excerpts)

Do not invent information. If the excerpts support no insights, respond with [].`

// Analyst extracts structured insights from thread contexts via a
// language-generation collaborator, validating every claim against the
// evidence present in this run.
type Analyst struct {
	completer llm.Completer
	logger    *logging.Logger
}

// NewAnalyst creates an Analyst.
func NewAnalyst(completer llm.Completer, logger *logging.Logger) *Analyst {
	return &Analyst{
		completer: completer,
		logger:    logger.Named("analyst"),
	}
}

// rawInsight is the JSON shape expected from the model.
type rawInsight struct {
	Category         string   `json:"category"`
	Statement        string   `json:"statement"`
	EvidenceChunkIDs []string `json:"evidence_chunk_ids"`
}

// Analyze extracts insights from the given contexts.
//
// Model output that cannot be tied to evidence in the retrieved set is
// discarded, not passed through. A completely unparseable response is an
// error; individually invalid entries are dropped.
func (a *Analyst) Analyze(ctx context.Context, contexts []ThreadContext) ([]Insight, error) {
	ctx, span := tracer.Start(ctx, "Analyst.Analyze")
	defer span.End()

	if len(contexts) == 0 {
		return nil, nil
	}

	content, err := a.completer.Complete(ctx, llm.Request{
		System:      analystPrompt,
		User:        renderContexts(contexts),
		Temperature: 0.2,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrAnalysis, err)
	}

	var raw []rawInsight
	if err := json.Unmarshal([]byte(llm.StripCodeFence(content)), &raw); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: unparseable model output: %v", ErrAnalysis, err)
	}

	present := ChunkIDs(contexts)
	insights := make([]Insight, 0, len(raw))
	for _, r := range raw {
		insight, err := NewInsight(InsightCategory(r.Category), r.Statement, r.EvidenceChunkIDs, present)
		if err != nil {
			a.logger.Warn(ctx, "discarding invalid insight",
				zap.String("category", r.Category),
				zap.Error(err))
			continue
		}
		insights = append(insights, insight)
	}
	return insights, nil
}

// renderContexts formats thread contexts as labeled excerpts for the
// model prompt.
func renderContexts(contexts []ThreadContext) string {
	var b strings.Builder
	for _, tc := range contexts {
		fmt.Fprintf(&b, "Thread %s:\n", tc.ThreadID)
		for _, c := range tc.Chunks {
			fmt.Fprintf(&b, "[chunk %s | %s | %s]\n%s\n\n",
				c.ID, c.Timestamp.Format("2006-01-02"), c.SourceDocumentID, c.Text)
		}
	}
	return b.String()
}
