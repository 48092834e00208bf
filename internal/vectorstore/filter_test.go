package vectorstore

import (
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFilterAlwaysIncludesNamespace(t *testing.T) {
	filter := buildFilter("org_acme_user_u-1", Filter{})
	require.NotNil(t, filter)
	require.Len(t, filter.Must, 1)

	field := filter.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, FieldNamespace, field.Key)
	assert.Equal(t, "org_acme_user_u-1", field.Match.GetKeyword())
}

func TestBuildFilterMetadataConditionsAreANDed(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC)

	filter := buildFilter("org_acme_user_u-1", Filter{
		Sender:   "alice@example.com",
		ThreadID: "thread-9",
		SentFrom: &from,
		SentTo:   &to,
	})
	require.NotNil(t, filter)
	// namespace + sender + thread + date range
	require.Len(t, filter.Must, 4)

	keys := make(map[string]bool)
	for _, cond := range filter.Must {
		field := cond.GetField()
		require.NotNil(t, field)
		keys[field.Key] = true
	}
	assert.True(t, keys[FieldNamespace])
	assert.True(t, keys[FieldSender])
	assert.True(t, keys[FieldThreadID])
	assert.True(t, keys[FieldSentAt])
}

func TestBuildFilterDateRangeBounds(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	filter := buildFilter("org_acme_user_u-1", Filter{SentFrom: &from})
	require.Len(t, filter.Must, 2)

	var rangeCond *qdrant.Range
	for _, cond := range filter.Must {
		if field := cond.GetField(); field != nil && field.Key == FieldSentAt {
			rangeCond = field.Range
		}
	}
	require.NotNil(t, rangeCond)
	require.NotNil(t, rangeCond.Gte)
	assert.Equal(t, float64(from.Unix()), *rangeCond.Gte)
	assert.Nil(t, rangeCond.Lte)
}

func TestFilterIsZero(t *testing.T) {
	assert.True(t, Filter{}.IsZero())
	assert.False(t, Filter{Sender: "a@b.com"}.IsZero())
	now := time.Now()
	assert.False(t, Filter{SentTo: &now}.IsZero())
}
