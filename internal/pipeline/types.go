package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/inboxmind/internal/tenant"
)

// InsightCategory classifies an extracted claim.
type InsightCategory string

const (
	CategoryDecision   InsightCategory = "decision"
	CategoryActionItem InsightCategory = "action_item"
	CategoryRisk       InsightCategory = "risk"
)

// validCategory reports whether c is a known insight category.
func validCategory(c InsightCategory) bool {
	switch c {
	case CategoryDecision, CategoryActionItem, CategoryRisk:
		return true
	}
	return false
}

// Filters restrict retrieval by email metadata. All fields are optional
// and combined with AND. The tenant namespace is never expressible here.
type Filters struct {
	DateFrom *time.Time
	DateTo   *time.Time
	Sender   string
	ThreadID string
}

// Summary returns a compact human-readable description for audit records.
func (f Filters) Summary() string {
	var parts []string
	if f.Sender != "" {
		parts = append(parts, "sender="+f.Sender)
	}
	if f.ThreadID != "" {
		parts = append(parts, "thread="+f.ThreadID)
	}
	if f.DateFrom != nil {
		parts = append(parts, "from="+f.DateFrom.Format(time.RFC3339))
	}
	if f.DateTo != nil {
		parts = append(parts, "to="+f.DateTo.Format(time.RFC3339))
	}
	return strings.Join(parts, ",")
}

// QueryRequest is the immutable input to one pipeline run. Thresholds and
// filters are captured here at run start; no global configuration is
// consulted afterward.
type QueryRequest struct {
	Scope   tenant.Scope
	Text    string
	Filters Filters
	TopK    int

	// RelevanceThreshold is the minimum chunk score. Nil means use the
	// deployment default; an explicit zero disables the threshold.
	RelevanceThreshold *float64
}

// Validate checks the request before the pipeline starts.
func (r QueryRequest) Validate() error {
	if err := r.Scope.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTenant, err)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: query text cannot be empty", ErrInvalidRequest)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("%w: topK must be positive", ErrInvalidRequest)
	}
	if r.RelevanceThreshold != nil && (*r.RelevanceThreshold < 0 || *r.RelevanceThreshold > 1) {
		return fmt.Errorf("%w: relevance threshold must be in [0,1]", ErrInvalidRequest)
	}
	if r.Filters.DateFrom != nil && r.Filters.DateTo != nil && r.Filters.DateFrom.After(*r.Filters.DateTo) {
		return fmt.Errorf("%w: dateFrom after dateTo", ErrInvalidRequest)
	}
	return nil
}

// RetrievalChunk is a scored unit of retrieved email text. Read-only
// after the retrieving stage.
type RetrievalChunk struct {
	ID               string
	SourceDocumentID string
	ThreadID         string
	Timestamp        time.Time
	Text             string
	Score            float64
	Namespace        string
}

// ThreadContext is the chronologically ordered, deduplicated set of
// chunks belonging to one conversation thread.
type ThreadContext struct {
	ThreadID string
	Chunks   []RetrievalChunk
}

// ChunkIDs returns the ids of all chunks across the given contexts.
func ChunkIDs(contexts []ThreadContext) map[string]bool {
	ids := make(map[string]bool)
	for _, tc := range contexts {
		for _, c := range tc.Chunks {
			ids[c.ID] = true
		}
	}
	return ids
}

// Insight is a structured claim extracted from thread contexts. Insights
// without evidence cannot be constructed; use NewInsight.
type Insight struct {
	Category         InsightCategory
	Statement        string
	EvidenceChunkIDs []string
}

// NewInsight constructs an Insight, enforcing that it carries at least
// one evidence chunk id and that every id refers to a chunk present in
// the current run's contexts.
func NewInsight(category InsightCategory, statement string, evidenceIDs []string, presentChunks map[string]bool) (Insight, error) {
	if !validCategory(category) {
		return Insight{}, fmt.Errorf("unknown insight category %q", category)
	}
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return Insight{}, fmt.Errorf("insight statement cannot be empty")
	}
	if len(evidenceIDs) == 0 {
		return Insight{}, ErrNoEvidence
	}

	seen := make(map[string]bool, len(evidenceIDs))
	ids := make([]string, 0, len(evidenceIDs))
	for _, id := range evidenceIDs {
		if id == "" || seen[id] {
			continue
		}
		if !presentChunks[id] {
			return Insight{}, fmt.Errorf("%w: evidence chunk %q not in retrieved set", ErrNoEvidence, id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return Insight{}, ErrNoEvidence
	}
	sort.Strings(ids)

	return Insight{
		Category:         category,
		Statement:        statement,
		EvidenceChunkIDs: ids,
	}, nil
}

// ComplianceAction is what the filter did about a finding.
type ComplianceAction string

const (
	ActionRedact ComplianceAction = "redact"
	ActionFlag   ComplianceAction = "flag"
	ActionBlock  ComplianceAction = "block"
)

// ComplianceFinding records one sensitive-data detection.
type ComplianceFinding struct {
	// Location identifies where the span was found, such as
	// "thread/<id>/chunk/<id>" or "insight/<index>".
	Location string

	// Category is the sensitive-data category that matched.
	Category string

	// Action is what was done about it.
	Action ComplianceAction
}

// Verdict is the compliance filter's overall decision.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictBlock Verdict = "block"
)

// AnswerResult is the synthesizer's output.
//
// When Complete is false, Text is the fixed refusal template, Citations
// is empty, and RefusalReason names the cause. When Complete is true,
// every claim sentence in Text maps to at least one citation.
type AnswerResult struct {
	Text          string
	Citations     []string
	Complete      bool
	RefusalReason string
}

// Source pairs a cited source document with its best retrieval score.
type Source struct {
	SourceDocumentID string  `json:"sourceDocumentId"`
	Score            float64 `json:"score"`
}

// Outcome is the terminal disposition of a pipeline run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRefused   Outcome = "refused"
	OutcomeFailed    Outcome = "failed"
)

// Refusal reason codes.
const (
	ReasonNoResults             = "no_results"
	ReasonInsufficientGrounding = "insufficient_grounding"
	ReasonComplianceBlock       = "compliance_block"
)

// RefusalTemplate is the fixed text returned for every refusal.
const RefusalTemplate = "Based on the available emails, I cannot find sufficient information to answer this question."

// Result is the structured outcome of one pipeline run. Every run ends in
// exactly one of completed, refused, or failed; failures carry the stage
// and error kind but never raw error detail for the caller.
type Result struct {
	RequestID string
	Outcome   Outcome

	Answer  AnswerResult
	Sources []Source

	// RefusalReason is set when Outcome is OutcomeRefused.
	RefusalReason string

	// FailureStage and FailureKind are set when Outcome is OutcomeFailed.
	FailureStage State
	FailureKind  string

	// Err is the underlying failure, for logging. Never exposed to callers.
	Err error

	RetrievalCount int
	Grounded       bool
	StageTimings   map[string]time.Duration
	Duration       time.Duration
}
