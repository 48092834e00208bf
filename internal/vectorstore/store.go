// Package vectorstore provides namespace-scoped vector storage backed by
// Qdrant's native gRPC client.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrInvalidConfig         = errors.New("invalid vectorstore config")
	ErrInvalidCollectionName = errors.New("invalid collection name")
	ErrConnectionFailed      = errors.New("connection to vector store failed")
	ErrMissingNamespace      = errors.New("search query missing namespace")
	ErrEmptyVector           = errors.New("search query missing vector")
)

// Payload field names for stored email chunks.
const (
	FieldNamespace        = "namespace"
	FieldSourceDocumentID = "source_document_id"
	FieldThreadID         = "thread_id"
	FieldSender           = "sender"
	FieldSentAt           = "sent_at"
	FieldChunkIndex       = "chunk_index"
	FieldContent          = "content"
	FieldID               = "id"
)

// Chunk is an email fragment stored in the vector index.
type Chunk struct {
	// ID uniquely identifies the chunk.
	ID string

	// Namespace is the owning tenant's namespace. Required.
	Namespace string

	// SourceDocumentID identifies the email the chunk was cut from.
	SourceDocumentID string

	// ThreadID groups chunks belonging to the same conversation.
	ThreadID string

	// Sender is the email sender address.
	Sender string

	// SentAt is when the source email was sent.
	SentAt time.Time

	// ChunkIndex is the chunk's position within its source email.
	ChunkIndex int

	// Content is the chunk text.
	Content string

	// Vector is the chunk embedding. Required on upsert.
	Vector []float32
}

// ScoredChunk is a chunk returned from similarity search with its score.
type ScoredChunk struct {
	Chunk
	Score float32
}

// Filter restricts search results by chunk metadata. Zero values mean
// no restriction on that field. Namespace is never part of Filter; it is
// carried separately on SearchQuery and always enforced.
type Filter struct {
	Sender   string
	ThreadID string
	SentFrom *time.Time
	SentTo   *time.Time
}

// IsZero reports whether the filter imposes no restrictions.
func (f Filter) IsZero() bool {
	return f.Sender == "" && f.ThreadID == "" && f.SentFrom == nil && f.SentTo == nil
}

// SearchQuery describes a namespace-scoped similarity search.
type SearchQuery struct {
	// Namespace scopes the search to one tenant. Required.
	Namespace string

	// Vector is the query embedding. Required.
	Vector []float32

	// Filter optionally restricts results by metadata.
	Filter Filter

	// Limit is the maximum number of results.
	Limit int
}

// Store is the interface for namespace-scoped vector storage.
type Store interface {
	// Search returns the chunks nearest to the query vector, restricted
	// to the query's namespace. Implementations must AND the namespace
	// condition with any metadata filter; there is no unscoped search.
	Search(ctx context.Context, query SearchQuery) ([]ScoredChunk, error)

	// Upsert stores chunks. Every chunk must carry a namespace.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Close releases the underlying connection.
	Close() error
}
