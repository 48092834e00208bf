package vectorstore

import (
	"github.com/qdrant/go-client/qdrant"
)

// buildFilter converts a namespace and metadata filter into a Qdrant filter.
//
// The namespace condition is always present and ANDed with every metadata
// condition. Callers must validate the namespace before calling.
func buildFilter(namespace string, f Filter) *qdrant.Filter {
	conditions := []*qdrant.Condition{
		keywordCondition(FieldNamespace, namespace),
	}

	if f.Sender != "" {
		conditions = append(conditions, keywordCondition(FieldSender, f.Sender))
	}
	if f.ThreadID != "" {
		conditions = append(conditions, keywordCondition(FieldThreadID, f.ThreadID))
	}
	if f.SentFrom != nil || f.SentTo != nil {
		r := &qdrant.Range{}
		if f.SentFrom != nil {
			r.Gte = qdrant.PtrOf(float64(f.SentFrom.Unix()))
		}
		if f.SentTo != nil {
			r.Lte = qdrant.PtrOf(float64(f.SentTo.Unix()))
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   FieldSentAt,
					Range: r,
				},
			},
		})
	}

	return &qdrant.Filter{Must: conditions}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
