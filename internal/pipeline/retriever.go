package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxmind/internal/logging"
	"github.com/fyrsmithlabs/inboxmind/internal/vectorstore"
)

// Embedder converts query text to a fixed-dimension vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever issues namespace-scoped similarity searches and ranks the
// results deterministically.
type Retriever struct {
	store  vectorstore.Store
	logger *logging.Logger
}

// NewRetriever creates a Retriever backed by the given store.
func NewRetriever(store vectorstore.Store, logger *logging.Logger) *Retriever {
	return &Retriever{
		store:  store,
		logger: logger.Named("retriever"),
	}
}

// Retrieve searches the tenant's namespace and returns ranked chunks that
// clear the relevance threshold.
//
// The namespace condition is mandatory and ANDed with the caller's
// metadata filters. Every returned chunk's stored namespace is verified
// against the requested namespace; a mismatch aborts with
// ErrTenantIsolation rather than dropping the chunk.
//
// An empty result is not an error: it means the search succeeded but no
// chunk cleared the threshold.
func (r *Retriever) Retrieve(ctx context.Context, namespace string, queryVector []float32, filters Filters, topK int, threshold float64) ([]RetrievalChunk, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	start := time.Now()

	scored, err := r.store.Search(ctx, vectorstore.SearchQuery{
		Namespace: namespace,
		Vector:    queryVector,
		Filter: vectorstore.Filter{
			Sender:   filters.Sender,
			ThreadID: filters.ThreadID,
			SentFrom: filters.DateFrom,
			SentTo:   filters.DateTo,
		},
		Limit: topK,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	chunks := make([]RetrievalChunk, 0, len(scored))
	for _, sc := range scored {
		if sc.Namespace != namespace {
			err := fmt.Errorf("%w: chunk %s has namespace %q, request has %q",
				ErrTenantIsolation, sc.ID, sc.Namespace, namespace)
			span.RecordError(err)
			r.logger.Error(ctx, "cross-tenant chunk in result set",
				zap.String("chunk_id", sc.ID),
				zap.String("chunk_namespace", sc.Namespace))
			return nil, err
		}
		if float64(sc.Score) < threshold {
			continue
		}
		chunks = append(chunks, RetrievalChunk{
			ID:               sc.ID,
			SourceDocumentID: sc.SourceDocumentID,
			ThreadID:         sc.ThreadID,
			Timestamp:        sc.SentAt,
			Text:             sc.Content,
			Score:            float64(sc.Score),
			Namespace:        sc.Namespace,
		})
	}

	rankChunks(chunks)

	r.logger.Debug(ctx, "retrieval complete",
		zap.Int("result_count", len(chunks)),
		zap.Duration("latency", time.Since(start)))
	span.SetAttributes(attribute.Int("result_count", len(chunks)))

	return chunks, nil
}

// rankChunks orders chunks by descending score, ties broken by more
// recent timestamp, then by chunk id. The ordering is stable across runs
// for identical inputs.
func rankChunks(chunks []RetrievalChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if !chunks[i].Timestamp.Equal(chunks[j].Timestamp) {
			return chunks[i].Timestamp.After(chunks[j].Timestamp)
		}
		return chunks[i].ID < chunks[j].ID
	})
}
