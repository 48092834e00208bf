package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxmind/internal/audit"
	"github.com/fyrsmithlabs/inboxmind/internal/logging"
)

// State is a pipeline run state.
type State string

const (
	StateIdle               State = "idle"
	StateEmbedding          State = "embedding"
	StateRetrieving         State = "retrieving"
	StateReconstructing     State = "reconstructing_context"
	StateAnalyzing          State = "analyzing"
	StateComplianceChecking State = "compliance_checking"
	StateSynthesizing       State = "synthesizing"
	StateCompleted          State = "completed"
	StateRefused            State = "refused"
	StateFailed             State = "failed"
)

// transitions is the closed set of legal state transitions. Any attempt
// to move outside it is an internal bug and fails the run.
var transitions = map[State][]State{
	StateIdle:               {StateEmbedding, StateFailed},
	StateEmbedding:          {StateRetrieving, StateFailed},
	StateRetrieving:         {StateReconstructing, StateFailed},
	StateReconstructing:     {StateAnalyzing, StateFailed},
	StateAnalyzing:          {StateComplianceChecking, StateFailed},
	StateComplianceChecking: {StateSynthesizing, StateRefused, StateFailed},
	StateSynthesizing:       {StateCompleted, StateRefused, StateFailed},
}

// run holds the mutable state of one pipeline execution. Runs are never
// shared between goroutines.
type run struct {
	state   State
	timings map[string]time.Duration
}

func newRun() *run {
	return &run{
		state:   StateIdle,
		timings: make(map[string]time.Duration),
	}
}

// advance moves the run to the next state, rejecting illegal orderings.
func (r *run) advance(to State) error {
	for _, allowed := range transitions[r.state] {
		if allowed == to {
			r.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", r.state, to)
}

// Config holds per-deployment pipeline defaults, captured into each
// request at run start.
type Config struct {
	// TopK is the default result count when the request does not set one.
	TopK int

	// RelevanceThreshold is the default minimum chunk score.
	RelevanceThreshold float64

	// StageTimeout bounds each stage's execution.
	StageTimeout time.Duration
}

// Orchestrator drives the fixed stage sequence for each query.
type Orchestrator struct {
	embedder      Embedder
	retriever     *Retriever
	reconstructor *Reconstructor
	analyst       *Analyst
	compliance    *ComplianceFilter
	synthesizer   *Synthesizer
	recorder      audit.Recorder
	logger        *logging.Logger
	config        Config
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(
	embedder Embedder,
	retriever *Retriever,
	reconstructor *Reconstructor,
	analyst *Analyst,
	compliance *ComplianceFilter,
	synthesizer *Synthesizer,
	recorder audit.Recorder,
	logger *logging.Logger,
	config Config,
) *Orchestrator {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Orchestrator{
		embedder:      embedder,
		retriever:     retriever,
		reconstructor: reconstructor,
		analyst:       analyst,
		compliance:    compliance,
		synthesizer:   synthesizer,
		recorder:      recorder,
		logger:        logger.Named("orchestrator"),
		config:        config,
	}
}

// Run executes one query through the pipeline.
//
// The returned error is non-nil only for invalid input (bad tenant or
// malformed request). Every other fault is mapped into the Result:
// completed, refused, and failed are all first-class outcomes.
func (o *Orchestrator) Run(ctx context.Context, req QueryRequest) (*Result, error) {
	req = o.applyDefaults(req)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	namespace, err := req.Scope.Namespace()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTenant, err)
	}

	requestID := uuid.New().String()
	ctx = logging.ContextWithRequestID(ctx, requestID)
	ctx = logging.ContextWithNamespace(ctx, namespace)

	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	start := time.Now()
	r := newRun()
	result := &Result{
		RequestID:    requestID,
		StageTimings: r.timings,
	}

	defer func() {
		result.Duration = time.Since(start)
		o.record(ctx, namespace, req, result)
	}()

	// Embedding.
	var vector []float32
	err = o.runStage(ctx, r, StateEmbedding, func(ctx context.Context) error {
		v, err := o.embedder.EmbedQuery(ctx, req.Text)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEmbedding, err)
		}
		vector = v
		return nil
	})
	if err != nil {
		return o.fail(ctx, r, result, StateEmbedding, err), nil
	}

	// Retrieving. An empty result set is not an error; the run proceeds
	// and fails closed at synthesis.
	var chunks []RetrievalChunk
	err = o.runStage(ctx, r, StateRetrieving, func(ctx context.Context) error {
		cs, err := o.retriever.Retrieve(ctx, namespace, vector, req.Filters, req.TopK, *req.RelevanceThreshold)
		if err != nil {
			return err
		}
		chunks = cs
		return nil
	})
	if err != nil {
		return o.fail(ctx, r, result, StateRetrieving, err), nil
	}
	result.RetrievalCount = len(chunks)

	// Context reconstruction.
	var contexts []ThreadContext
	err = o.runStage(ctx, r, StateReconstructing, func(ctx context.Context) error {
		contexts = o.reconstructor.Reconstruct(chunks)
		return nil
	})
	if err != nil {
		return o.fail(ctx, r, result, StateReconstructing, err), nil
	}

	// Analysis.
	var insights []Insight
	err = o.runStage(ctx, r, StateAnalyzing, func(ctx context.Context) error {
		ins, err := o.analyst.Analyze(ctx, contexts)
		if err != nil {
			return err
		}
		insights = ins
		return nil
	})
	if err != nil {
		return o.fail(ctx, r, result, StateAnalyzing, err), nil
	}

	// Compliance. Must complete before any text reaches the synthesizer.
	var verdict Verdict
	var findings []ComplianceFinding
	err = o.runStage(ctx, r, StateComplianceChecking, func(ctx context.Context) error {
		contexts, insights, findings, verdict = o.compliance.Check(contexts, insights)
		return nil
	})
	if err != nil {
		return o.fail(ctx, r, result, StateComplianceChecking, err), nil
	}
	if len(findings) > 0 {
		o.logger.Info(ctx, "compliance findings",
			zap.Int("count", len(findings)),
			zap.String("verdict", string(verdict)))
	}
	if verdict == VerdictBlock {
		if err := r.advance(StateRefused); err != nil {
			return o.fail(ctx, r, result, r.state, err), nil
		}
		result.Outcome = OutcomeRefused
		result.RefusalReason = ReasonComplianceBlock
		result.Answer = refusal(ReasonComplianceBlock)
		return result, nil
	}

	// Synthesis.
	var answer AnswerResult
	err = o.runStage(ctx, r, StateSynthesizing, func(ctx context.Context) error {
		a, err := o.synthesizer.Synthesize(ctx, req.Text, contexts, insights)
		if err != nil {
			return err
		}
		answer = a
		return nil
	})
	if err != nil {
		return o.fail(ctx, r, result, StateSynthesizing, err), nil
	}

	if !answer.Complete {
		if err := r.advance(StateRefused); err != nil {
			return o.fail(ctx, r, result, r.state, err), nil
		}
		result.Outcome = OutcomeRefused
		result.RefusalReason = answer.RefusalReason
		result.Answer = answer
		return result, nil
	}

	if err := r.advance(StateCompleted); err != nil {
		return o.fail(ctx, r, result, r.state, err), nil
	}
	result.Outcome = OutcomeCompleted
	result.Answer = answer
	result.Grounded = true
	result.Sources = citedSources(answer.Citations, chunks)
	return result, nil
}

// runStage advances the state machine, executes fn under the stage
// timeout, and records the stage's elapsed time.
func (o *Orchestrator) runStage(ctx context.Context, r *run, stage State, fn func(ctx context.Context) error) error {
	if err := r.advance(stage); err != nil {
		return err
	}

	stageCtx := ctx
	var cancel context.CancelFunc
	if o.config.StageTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, o.config.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(stageCtx)
	r.timings[string(stage)] = time.Since(start)

	if err != nil {
		// Distinguish a stage deadline from caller cancellation.
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s exceeded %s", ErrStageTimeout, stage, o.config.StageTimeout)
		}
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// fail transitions the run to Failed and fills in the failure fields.
// Raw error detail stays in Result.Err for logging; callers see only the
// stage and kind.
func (o *Orchestrator) fail(ctx context.Context, r *run, result *Result, stage State, err error) *Result {
	r.state = StateFailed
	result.Outcome = OutcomeFailed
	result.FailureStage = stage
	result.FailureKind = errorKind(err)
	result.Err = err

	if errors.Is(err, ErrTenantIsolation) {
		o.logger.Error(ctx, "SECURITY: tenant isolation violation",
			zap.String("stage", string(stage)), zap.Error(err))
	} else {
		o.logger.Error(ctx, "pipeline run failed",
			zap.String("stage", string(stage)),
			zap.String("kind", result.FailureKind),
			zap.Error(err))
	}
	return result
}

// record emits the audit record for a finished run. Best effort.
func (o *Orchestrator) record(ctx context.Context, namespace string, req QueryRequest, result *Result) {
	rec := audit.Record{
		RequestID:     result.RequestID,
		Namespace:     namespace,
		Query:         req.Text,
		FilterSummary: req.Filters.Summary(),
		ResultCount:   result.RetrievalCount,
		Grounded:      result.Grounded,
		StageTimings:  result.StageTimings,
		Duration:      result.Duration,
	}
	switch result.Outcome {
	case OutcomeCompleted:
		rec.Outcome = audit.OutcomeCompleted
	case OutcomeRefused:
		rec.Outcome = audit.OutcomeRefused
		rec.Reason = result.RefusalReason
	case OutcomeFailed:
		rec.Outcome = audit.OutcomeFailed
		rec.Reason = result.FailureKind
	}
	o.recorder.Record(ctx, rec)
}

// applyDefaults fills unset request fields from deployment config. A nil
// RelevanceThreshold means unset; an explicit zero is honored as-is.
func (o *Orchestrator) applyDefaults(req QueryRequest) QueryRequest {
	if req.TopK == 0 {
		req.TopK = o.config.TopK
	}
	if req.RelevanceThreshold == nil {
		threshold := o.config.RelevanceThreshold
		req.RelevanceThreshold = &threshold
	}
	return req
}

// citedSources pairs each cited source document with its best retrieval
// score, preserving citation order.
func citedSources(citations []string, chunks []RetrievalChunk) []Source {
	best := make(map[string]float64)
	for _, c := range chunks {
		if s, ok := best[c.SourceDocumentID]; !ok || c.Score > s {
			best[c.SourceDocumentID] = c.Score
		}
	}
	sources := make([]Source, 0, len(citations))
	for _, id := range citations {
		sources = append(sources, Source{
			SourceDocumentID: id,
			Score:            best[id],
		})
	}
	return sources
}
