package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/inboxmind/internal/llm"
	"github.com/fyrsmithlabs/inboxmind/internal/logging"
	"github.com/fyrsmithlabs/inboxmind/internal/vectorstore"
)

// fakeStore is an in-memory vectorstore.Store for tests. When
// honorNamespace is set it filters results by the query namespace the
// way a real payload-filtered search would.
type fakeStore struct {
	mu             sync.Mutex
	chunks         []vectorstore.ScoredChunk
	err            error
	honorNamespace bool
	lastQuery      vectorstore.SearchQuery
}

func (s *fakeStore) Search(ctx context.Context, query vectorstore.SearchQuery) ([]vectorstore.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = query

	if s.err != nil {
		return nil, s.err
	}
	if query.Namespace == "" {
		return nil, vectorstore.ErrMissingNamespace
	}

	var out []vectorstore.ScoredChunk
	for _, c := range s.chunks {
		if s.honorNamespace && c.Namespace != query.Namespace {
			continue
		}
		out = append(out, c)
		if len(out) == query.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error { return nil }
func (s *fakeStore) Close() error                                                 { return nil }

// fakeEmbedder returns a fixed vector.
type fakeEmbedder struct {
	vector []float32
	err    error
	delay  time.Duration
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.vector != nil {
		return e.vector, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// fakeCompleter dispatches on the system prompt so one fake can serve
// both the analyst and the synthesizer, recording call order.
type fakeCompleter struct {
	mu           sync.Mutex
	analystReply string
	synthReply   string
	analystErr   error
	synthErr     error
	calls        []string
}

func (c *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.System == analystPrompt {
		c.calls = append(c.calls, "analyze")
		return c.analystReply, c.analystErr
	}
	c.calls = append(c.calls, "synthesize")
	return c.synthReply, c.synthErr
}

func (c *fakeCompleter) callOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// fixtureChunk builds a stored chunk for fixtures.
func fixtureChunk(id, namespace, sourceDoc, thread string, score float32, sentAt time.Time, content string) vectorstore.ScoredChunk {
	return vectorstore.ScoredChunk{
		Chunk: vectorstore.Chunk{
			ID:               id,
			Namespace:        namespace,
			SourceDocumentID: sourceDoc,
			ThreadID:         thread,
			SentAt:           sentAt,
			Content:          content,
		},
		Score: score,
	}
}

// newTestOrchestrator wires an orchestrator from fakes with sensible
// test defaults.
func newTestOrchestrator(store *fakeStore, embedder *fakeEmbedder, completer *fakeCompleter, cfg Config) *Orchestrator {
	logger := logging.NewNop()
	if cfg.TopK == 0 {
		cfg.TopK = 20
	}
	if cfg.StageTimeout == 0 {
		cfg.StageTimeout = 5 * time.Second
	}
	return NewOrchestrator(
		embedder,
		NewRetriever(store, logger),
		NewReconstructor(0.8),
		NewAnalyst(completer, logger),
		NewComplianceFilter(ComplianceConfig{
			RedactionEnabled: true,
			BlockCategories:  []string{CategoryPrivileged},
		}),
		NewSynthesizer(completer, 0.5, logger),
		nil,
		logger,
		cfg,
	)
}

func floatPtr(v float64) *float64 { return &v }

// analystJSON renders a single-insight analyst reply.
func analystJSON(category, statement string, evidence ...string) string {
	ids := ""
	for i, id := range evidence {
		if i > 0 {
			ids += ","
		}
		ids += fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf(`[{"category":%q,"statement":%q,"evidence_chunk_ids":[%s]}]`, category, statement, ids)
}
