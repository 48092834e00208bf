package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/inboxmind/internal/logging"
	"github.com/fyrsmithlabs/inboxmind/internal/tenant"
)

const testNamespace = "org_org1_user_user1"

func testVector() []float32 { return []float32{0.1, 0.2, 0.3} }

func TestRetrieveAppliesThreshold(t *testing.T) {
	store := &fakeStore{honorNamespace: true}
	store.chunks = append(store.chunks,
		fixtureChunk("c1", testNamespace, "d1", "t1", 0.92, ts(10), "budget approved"),
		fixtureChunk("c2", testNamespace, "d2", "t1", 0.81, ts(11), "vendor selected"),
		fixtureChunk("c3", testNamespace, "d3", "t1", 0.40, ts(12), "lunch plans"),
	)

	r := NewRetriever(store, logging.NewNop())
	chunks, err := r.Retrieve(context.Background(), testNamespace, testVector(), Filters{}, 20, 0.5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c1", chunks[0].ID)
	assert.Equal(t, "c2", chunks[1].ID)
}

func TestRetrieveEmptyResultIsNotAnError(t *testing.T) {
	store := &fakeStore{honorNamespace: true}
	store.chunks = append(store.chunks,
		fixtureChunk("c1", testNamespace, "d1", "t1", 0.3, ts(10), "weak match"),
	)

	r := NewRetriever(store, logging.NewNop())
	chunks, err := r.Retrieve(context.Background(), testNamespace, testVector(), Filters{}, 20, 0.5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRetrieveTransportErrorIsRetrievalError(t *testing.T) {
	store := &fakeStore{err: status.Error(grpccodes.Unavailable, "down")}

	r := NewRetriever(store, logging.NewNop())
	_, err := r.Retrieve(context.Background(), testNamespace, testVector(), Filters{}, 20, 0.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
}

func TestRetrieveCrossTenantChunkIsFatal(t *testing.T) {
	// Store misbehaves and returns a chunk from another tenant. The
	// retriever must abort, never silently drop it.
	store := &fakeStore{}
	store.chunks = append(store.chunks,
		fixtureChunk("c1", testNamespace, "d1", "t1", 0.9, ts(10), "mine"),
		fixtureChunk("c2", "org_org2_user_user9", "d2", "t1", 0.8, ts(11), "not mine"),
	)

	r := NewRetriever(store, logging.NewNop())
	_, err := r.Retrieve(context.Background(), testNamespace, testVector(), Filters{}, 20, 0.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTenantIsolation)
}

func TestRetrievePassesFiltersAndNamespace(t *testing.T) {
	store := &fakeStore{honorNamespace: true}
	r := NewRetriever(store, logging.NewNop())

	from := ts(1)
	to := ts(28)
	_, err := r.Retrieve(context.Background(), testNamespace, testVector(), Filters{
		Sender:   "alice@example.com",
		ThreadID: "t1",
		DateFrom: &from,
		DateTo:   &to,
	}, 7, 0.5)
	require.NoError(t, err)

	q := store.lastQuery
	assert.Equal(t, testNamespace, q.Namespace)
	assert.Equal(t, "alice@example.com", q.Filter.Sender)
	assert.Equal(t, "t1", q.Filter.ThreadID)
	require.NotNil(t, q.Filter.SentFrom)
	assert.True(t, from.Equal(*q.Filter.SentFrom))
	assert.Equal(t, 7, q.Limit)
}

func TestRankChunksDeterministicOrdering(t *testing.T) {
	base := []RetrievalChunk{
		{ID: "b", Score: 0.8, Timestamp: ts(10)},
		{ID: "a", Score: 0.8, Timestamp: ts(10)},
		{ID: "c", Score: 0.8, Timestamp: ts(12)},
		{ID: "d", Score: 0.9, Timestamp: ts(1)},
	}

	chunks := append([]RetrievalChunk(nil), base...)
	rankChunks(chunks)

	// Score desc, then newer first, then id asc.
	assert.Equal(t, "d", chunks[0].ID)
	assert.Equal(t, "c", chunks[1].ID)
	assert.Equal(t, "a", chunks[2].ID)
	assert.Equal(t, "b", chunks[3].ID)

	// Identical input yields identical ordering across repeated runs.
	for i := 0; i < 50; i++ {
		again := append([]RetrievalChunk(nil), base...)
		rankChunks(again)
		assert.Equal(t, chunks, again)
	}
}

func TestRetrieveMultiTenantIsolationProperty(t *testing.T) {
	// Randomized fixture across many tenants: no query may ever see
	// another tenant's chunk.
	rng := rand.New(rand.NewSource(42))

	var scopes []tenant.Scope
	for org := 1; org <= 5; org++ {
		for user := 1; user <= 4; user++ {
			scopes = append(scopes, tenant.Scope{
				OrgID:  fmt.Sprintf("org%d", org),
				UserID: fmt.Sprintf("user%d", user),
			})
		}
	}

	store := &fakeStore{honorNamespace: true}
	for i := 0; i < 500; i++ {
		scope := scopes[rng.Intn(len(scopes))]
		ns, err := scope.Namespace()
		require.NoError(t, err)
		store.chunks = append(store.chunks, fixtureChunk(
			fmt.Sprintf("c%d", i), ns,
			fmt.Sprintf("d%d", i), fmt.Sprintf("t%d", i%17),
			rng.Float32(), ts(1+i%27),
			fmt.Sprintf("message %d", i),
		))
	}

	r := NewRetriever(store, logging.NewNop())
	for trial := 0; trial < 2000; trial++ {
		scope := scopes[rng.Intn(len(scopes))]
		ns, err := scope.Namespace()
		require.NoError(t, err)

		chunks, err := r.Retrieve(context.Background(), ns, testVector(), Filters{}, 50, 0)
		require.NoError(t, err)
		for _, c := range chunks {
			require.Equal(t, ns, c.Namespace,
				"trial %d leaked chunk %s across tenants", trial, c.ID)
		}
	}
}

