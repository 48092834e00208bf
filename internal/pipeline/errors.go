package pipeline

import (
	"errors"
	"fmt"
)

// Error taxonomy for pipeline runs.
//
// Transient errors (embedding, retrieval transport) are retried inside
// their stage. Everything else propagates to the orchestrator, which maps
// it to a terminal state. Refusals are not errors; see RefusalReason.
var (
	// ErrInvalidTenant indicates malformed tenant identity. Fatal to
	// the request before the pipeline starts.
	ErrInvalidTenant = errors.New("invalid tenant")

	// ErrInvalidRequest indicates a malformed query request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrEmbedding indicates the embedding collaborator failed.
	ErrEmbedding = errors.New("embedding error")

	// ErrRetrieval indicates the vector search transport failed.
	ErrRetrieval = errors.New("retrieval error")

	// ErrTenantIsolation indicates a retrieved chunk's namespace does
	// not match the requesting tenant. This is a security fault: the
	// run aborts immediately and the chunk is never silently dropped.
	ErrTenantIsolation = errors.New("tenant isolation violation")

	// ErrAnalysis indicates the insight extraction collaborator failed.
	ErrAnalysis = errors.New("analysis error")

	// ErrStageTimeout indicates a stage exceeded its deadline.
	ErrStageTimeout = errors.New("stage timeout")

	// ErrSynthesis indicates the answer generation collaborator failed.
	ErrSynthesis = errors.New("synthesis error")

	// ErrSynthesisValidation indicates generated answer text failed the
	// citation mapping check and was discarded.
	ErrSynthesisValidation = errors.New("synthesis validation failure")

	// ErrNoEvidence indicates an insight was constructed without any
	// supporting chunk ids.
	ErrNoEvidence = errors.New("insight has no evidence")
)

// StageError wraps an error with the stage it occurred in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// errorKind maps a stage error to a stable kind string for results and
// audit records.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTenant):
		return "invalid_tenant"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrTenantIsolation):
		return "tenant_isolation_violation"
	case errors.Is(err, ErrStageTimeout):
		return "stage_timeout"
	case errors.Is(err, ErrEmbedding):
		return "embedding_error"
	case errors.Is(err, ErrRetrieval):
		return "retrieval_error"
	case errors.Is(err, ErrAnalysis):
		return "analysis_error"
	case errors.Is(err, ErrSynthesisValidation):
		return "synthesis_validation_failure"
	case errors.Is(err, ErrSynthesis):
		return "synthesis_error"
	default:
		return "internal_error"
	}
}
