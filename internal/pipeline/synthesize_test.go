package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/inboxmind/internal/logging"
)

func evidenceContexts(scores ...float64) []ThreadContext {
	chunks := make([]RetrievalChunk, len(scores))
	for i, s := range scores {
		chunks[i] = RetrievalChunk{
			ID:               string(rune('a' + i)),
			SourceDocumentID: "doc-" + string(rune('1'+i)),
			ThreadID:         "t1",
			Timestamp:        ts(10 + i),
			Text:             "evidence text",
			Score:            s,
		}
	}
	return []ThreadContext{{ThreadID: "t1", Chunks: chunks}}
}

func testInsights() []Insight {
	return []Insight{{Category: CategoryDecision, Statement: "Approved.", EvidenceChunkIDs: []string{"a"}}}
}

func newSynth(completer *fakeCompleter, threshold float64) *Synthesizer {
	return NewSynthesizer(completer, threshold, logging.NewNop())
}

func TestSynthesizeEmptyEvidenceRefusesWithoutGeneration(t *testing.T) {
	completer := &fakeCompleter{}
	s := newSynth(completer, 0.5)

	result, err := s.Synthesize(context.Background(), "q", nil, nil)
	require.NoError(t, err)
	assert.False(t, result.Complete)
	assert.Equal(t, ReasonNoResults, result.RefusalReason)
	assert.Equal(t, RefusalTemplate, result.Text)
	assert.Empty(t, result.Citations)
	assert.Empty(t, completer.callOrder())
}

func TestSynthesizeInsufficientGroundingRefuses(t *testing.T) {
	completer := &fakeCompleter{}
	s := newSynth(completer, 0.9)

	result, err := s.Synthesize(context.Background(), "q", evidenceContexts(0.55, 0.6), testInsights())
	require.NoError(t, err)
	assert.False(t, result.Complete)
	assert.Equal(t, ReasonInsufficientGrounding, result.RefusalReason)
	assert.Empty(t, result.Citations)
	assert.Empty(t, completer.callOrder())
}

func TestSynthesizeValidAnswer(t *testing.T) {
	completer := &fakeCompleter{
		synthReply: "The budget was approved. [source: doc-1] The vendor was selected. [source: doc-2]",
	}
	s := newSynth(completer, 0.5)

	result, err := s.Synthesize(context.Background(), "q", evidenceContexts(0.92, 0.81), testInsights())
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Equal(t, []string{"doc-1", "doc-2"}, result.Citations)
	assert.Empty(t, result.RefusalReason)
}

func TestSynthesizeModelRefusal(t *testing.T) {
	completer := &fakeCompleter{synthReply: "REFUSE"}
	s := newSynth(completer, 0.5)

	result, err := s.Synthesize(context.Background(), "q", evidenceContexts(0.9), testInsights())
	require.NoError(t, err)
	assert.False(t, result.Complete)
	assert.Equal(t, ReasonInsufficientGrounding, result.RefusalReason)
	assert.Equal(t, RefusalTemplate, result.Text)
}

func TestSynthesizeUncitedSentenceFailsValidation(t *testing.T) {
	completer := &fakeCompleter{
		synthReply: "The budget was approved. [source: doc-1] Also it will probably rain tomorrow.",
	}
	s := newSynth(completer, 0.5)

	_, err := s.Synthesize(context.Background(), "q", evidenceContexts(0.9), testInsights())
	assert.ErrorIs(t, err, ErrSynthesisValidation)
}

func TestSynthesizeCitationOutsideEvidenceFailsValidation(t *testing.T) {
	completer := &fakeCompleter{
		synthReply: "The budget was approved. [source: doc-999]",
	}
	s := newSynth(completer, 0.5)

	_, err := s.Synthesize(context.Background(), "q", evidenceContexts(0.9), testInsights())
	assert.ErrorIs(t, err, ErrSynthesisValidation)
}

func TestGroundingScore(t *testing.T) {
	// No insights halves the coverage factor.
	bare := groundingScore(evidenceContexts(0.8), nil)
	assert.InDelta(t, 0.4, bare, 0.0001)

	// One insight over one context gives full coverage.
	full := groundingScore(evidenceContexts(0.8), testInsights())
	assert.InDelta(t, 0.8, full, 0.0001)

	assert.Zero(t, groundingScore(nil, nil))
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First claim. [source: d1] Second claim! [source: d2]")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "First claim")
	assert.Contains(t, got[0], "[source: d1]")
	assert.Contains(t, got[1], "[source: d2]")

	// A sentence may carry several trailing markers; all of them belong
	// to it, not to the next sentence.
	got = splitSentences("Both emails agree. [source: d1] [source: d2] Next point. [source: d1]")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "[source: d1]")
	assert.Contains(t, got[0], "[source: d2]")
	assert.Equal(t, "Next point. [source: d1]", got[1])

	// An uncited sentence after a cited one stays separate.
	got = splitSentences("Supported claim. [source: d1] Fabricated claim with no citation.")
	require.Len(t, got, 2)
	assert.Equal(t, "Fabricated claim with no citation.", got[1])

	assert.Empty(t, splitSentences("   "))
	assert.Len(t, splitSentences("no terminal punctuation"), 1)
}

func TestValidateCitationsRejectsUncitedTrailingClaim(t *testing.T) {
	evidence := map[string]bool{"d1": true}

	_, err := validateCitations("Supported claim. [source: d1] Fabricated claim with no citation.", evidence)
	assert.ErrorIs(t, err, ErrSynthesisValidation)

	citations, err := validateCitations("First claim. [source: d1] Second claim. [source: d1]", evidence)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, citations)
}

func TestSynthesizeCompleterFailureIsNotValidationFailure(t *testing.T) {
	completer := &fakeCompleter{synthErr: assert.AnError}
	s := newSynth(completer, 0.5)

	_, err := s.Synthesize(context.Background(), "q", evidenceContexts(0.9), testInsights())
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.NotErrorIs(t, err, ErrSynthesisValidation)
}
