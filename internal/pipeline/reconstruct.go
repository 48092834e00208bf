package pipeline

import (
	"sort"
	"strings"
)

// Reconstructor groups retrieved chunks into chronologically ordered
// thread contexts and collapses near-duplicate fragments.
type Reconstructor struct {
	// dedupCutoff is the token overlap ratio at or above which two
	// chunks from the same source document are considered duplicates.
	dedupCutoff float64
}

// NewReconstructor creates a Reconstructor with the given dedup cutoff.
func NewReconstructor(dedupCutoff float64) *Reconstructor {
	return &Reconstructor{dedupCutoff: dedupCutoff}
}

// Reconstruct groups chunks by thread id, orders each group by timestamp
// ascending, and deduplicates overlapping chunks. Threads left empty
// after dedup are dropped. Thread contexts are returned in a stable
// order sorted by thread id.
func (r *Reconstructor) Reconstruct(chunks []RetrievalChunk) []ThreadContext {
	byThread := make(map[string][]RetrievalChunk)
	for _, c := range chunks {
		byThread[c.ThreadID] = append(byThread[c.ThreadID], c)
	}

	threadIDs := make([]string, 0, len(byThread))
	for id := range byThread {
		threadIDs = append(threadIDs, id)
	}
	sort.Strings(threadIDs)

	contexts := make([]ThreadContext, 0, len(threadIDs))
	for _, id := range threadIDs {
		group := r.dedup(byThread[id])
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].Timestamp.Equal(group[j].Timestamp) {
				return group[i].Timestamp.Before(group[j].Timestamp)
			}
			return group[i].ID < group[j].ID
		})
		contexts = append(contexts, ThreadContext{ThreadID: id, Chunks: group})
	}
	return contexts
}

// dedup collapses chunks from the same source document whose text
// substantially overlaps, keeping the higher-scored instance.
func (r *Reconstructor) dedup(chunks []RetrievalChunk) []RetrievalChunk {
	kept := make([]RetrievalChunk, 0, len(chunks))
	for _, candidate := range chunks {
		duplicate := false
		for i, existing := range kept {
			if existing.SourceDocumentID != candidate.SourceDocumentID {
				continue
			}
			if tokenOverlap(existing.Text, candidate.Text) < r.dedupCutoff {
				continue
			}
			duplicate = true
			if candidate.Score > existing.Score {
				kept[i] = candidate
			}
			break
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// tokenOverlap computes the Jaccard similarity of the two texts'
// lowercase token sets.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}
