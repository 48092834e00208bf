package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/inboxmind/internal/llm"
	"github.com/fyrsmithlabs/inboxmind/internal/logging"
)

// refuseToken is the exact reply the model must give when the evidence
// does not answer the question.
const refuseToken = "REFUSE"

// synthesisPrompt bounds generation to the provided evidence and requires
// inline citations on every sentence.
const synthesisPrompt = `You answer questions about the user's email using ONLY the excerpts provided.

Rules:
- Use only facts stated in the excerpts. Never use outside knowledge.
- End every sentence with one or more citations of the form [source: <document id>], where <document id> is a document id from the excerpts supporting that sentence.
- Be concise and direct.
- If the excerpts do not contain enough information to answer, reply with exactly: ` + refuseToken

// citationPattern extracts [source: <id>] markers from generated text.
var citationPattern = regexp.MustCompile(`\[source:\s*([^\]\s]+)\s*\]`)

// Synthesizer produces the final cited answer, or a refusal when the
// evidence cannot support one.
type Synthesizer struct {
	completer          llm.Completer
	groundingThreshold float64
	logger             *logging.Logger
}

// NewSynthesizer creates a Synthesizer with the given grounding
// sufficiency threshold.
func NewSynthesizer(completer llm.Completer, groundingThreshold float64, logger *logging.Logger) *Synthesizer {
	return &Synthesizer{
		completer:          completer,
		groundingThreshold: groundingThreshold,
		logger:             logger.Named("synthesizer"),
	}
}

// refusal builds the fixed refusal result.
func refusal(reason string) AnswerResult {
	return AnswerResult{
		Text:          RefusalTemplate,
		Citations:     nil,
		Complete:      false,
		RefusalReason: reason,
	}
}

// Synthesize generates an answer bounded to the sanitized evidence.
//
// Fail-closed: empty evidence or an insufficient grounding score returns
// a refusal without ever invoking generation. Generated output is
// validated post hoc; any claim sentence lacking a citation into the
// evidence set fails the run with ErrSynthesisValidation rather than
// being returned.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, contexts []ThreadContext, insights []Insight) (AnswerResult, error) {
	ctx, span := tracer.Start(ctx, "Synthesizer.Synthesize")
	defer span.End()

	evidenceDocs := sourceDocumentIDs(contexts)
	if len(evidenceDocs) == 0 {
		span.SetAttributes(attribute.String("refusal", ReasonNoResults))
		return refusal(ReasonNoResults), nil
	}

	score := groundingScore(contexts, insights)
	span.SetAttributes(attribute.Float64("grounding_score", score))
	if score < s.groundingThreshold {
		span.SetAttributes(attribute.String("refusal", ReasonInsufficientGrounding))
		return refusal(ReasonInsufficientGrounding), nil
	}

	content, err := s.completer.Complete(ctx, llm.Request{
		System:      synthesisPrompt,
		User:        renderSynthesisInput(query, contexts, insights),
		Temperature: 0.2,
	})
	if err != nil {
		span.RecordError(err)
		return AnswerResult{}, fmt.Errorf("%w: completion failed: %v", ErrSynthesis, err)
	}

	content = strings.TrimSpace(content)
	if content == refuseToken || content == "" {
		span.SetAttributes(attribute.String("refusal", ReasonInsufficientGrounding))
		return refusal(ReasonInsufficientGrounding), nil
	}

	citations, err := validateCitations(content, evidenceDocs)
	if err != nil {
		span.RecordError(err)
		return AnswerResult{}, err
	}

	return AnswerResult{
		Text:      content,
		Citations: citations,
		Complete:  true,
	}, nil
}

// groundingScore measures how well the evidence supports answering.
//
// It is the mean retrieval score of the evidence chunks scaled by insight
// coverage: evidence that produced structured insights grounds an answer
// better than raw fragments alone.
func groundingScore(contexts []ThreadContext, insights []Insight) float64 {
	var sum float64
	var n int
	for _, tc := range contexts {
		for _, c := range tc.Chunks {
			sum += c.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)

	coverage := 0.5
	if len(insights) > 0 {
		ratio := float64(len(insights)) / float64(len(contexts))
		if ratio > 1 {
			ratio = 1
		}
		coverage = 0.5 + 0.5*ratio
	}
	return mean * coverage
}

// validateCitations checks that every claim sentence carries at least one
// citation resolving to a retrieved source document, and returns the
// distinct cited document ids in order of first appearance.
func validateCitations(text string, evidenceDocs map[string]bool) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("%w: empty answer text", ErrSynthesisValidation)
	}

	var citations []string
	seen := make(map[string]bool)

	for _, sentence := range sentences {
		matches := citationPattern.FindAllStringSubmatch(sentence, -1)
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: sentence without citation: %q", ErrSynthesisValidation, sentence)
		}
		for _, m := range matches {
			id := m[1]
			if !evidenceDocs[id] {
				return nil, fmt.Errorf("%w: citation %q not in retrieved set", ErrSynthesisValidation, id)
			}
			if !seen[id] {
				seen[id] = true
				citations = append(citations, id)
			}
		}
	}
	return citations, nil
}

// splitSentences splits answer text into claim sentences. Citation
// markers trailing a sentence's final punctuation belong to that
// sentence.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		// Consume citation markers trailing the punctuation into this
		// sentence, then split after them.
		j := i + 1
		for {
			k := j
			for k < len(runes) && (runes[k] == ' ' || runes[k] == '\n') {
				k++
			}
			if k >= len(runes) || !strings.HasPrefix(string(runes[k:]), "[source:") {
				break
			}
			end := k
			for end < len(runes) && runes[end] != ']' {
				end++
			}
			if end >= len(runes) {
				break
			}
			cur.WriteString(string(runes[j : end+1]))
			j = end + 1
		}
		i = j - 1
		if s := strings.TrimSpace(cur.String()); s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// sourceDocumentIDs collects the source document ids present in the
// evidence contexts.
func sourceDocumentIDs(contexts []ThreadContext) map[string]bool {
	docs := make(map[string]bool)
	for _, tc := range contexts {
		for _, c := range tc.Chunks {
			if c.SourceDocumentID != "" {
				docs[c.SourceDocumentID] = true
			}
		}
	}
	return docs
}

// renderSynthesisInput formats the question, evidence excerpts, and
// extracted insights for the synthesis prompt.
func renderSynthesisInput(query string, contexts []ThreadContext, insights []Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExcerpts:\n", query)
	for _, tc := range contexts {
		for _, c := range tc.Chunks {
			fmt.Fprintf(&b, "[document %s | %s]\n%s\n\n",
				c.SourceDocumentID, c.Timestamp.Format("2006-01-02"), c.Text)
		}
	}
	if len(insights) > 0 {
		b.WriteString("Extracted insights:\n")
		for _, ins := range insights {
			fmt.Fprintf(&b, "- (%s) %s\n", ins.Category, ins.Statement)
		}
	}
	return b.String()
}
