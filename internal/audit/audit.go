// Package audit records query-level audit events.
//
// Recording is best effort: sinks must never block or fail the query path.
package audit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxmind/internal/logging"
)

// Outcome classifies how a query finished.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRefused   Outcome = "refused"
	OutcomeFailed    Outcome = "failed"
)

// Record captures one query execution for the audit trail.
type Record struct {
	// RequestID identifies the query execution.
	RequestID string

	// Namespace is the tenant namespace the query ran in.
	Namespace string

	// Query is the natural-language question as asked.
	Query string

	// FilterSummary describes any metadata filters in effect.
	FilterSummary string

	// ResultCount is the number of chunks retrieved.
	ResultCount int

	// Outcome is the terminal outcome of the run.
	Outcome Outcome

	// Reason carries the refusal or failure reason code, if any.
	Reason string

	// Grounded reports whether the answer passed grounding validation.
	Grounded bool

	// StageTimings maps stage name to elapsed duration.
	StageTimings map[string]time.Duration

	// Duration is the total query duration.
	Duration time.Duration
}

// Recorder accepts audit records.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// LogRecorder writes audit records to structured logs and counts query
// outcomes through an OTel meter.
type LogRecorder struct {
	logger  *logging.Logger
	queries metric.Int64Counter
}

// NewLogRecorder creates a LogRecorder.
//
// Meter instrument creation failures are tolerated; the recorder then
// logs without counting.
func NewLogRecorder(logger *logging.Logger, meter metric.Meter) *LogRecorder {
	r := &LogRecorder{logger: logger.Named("audit")}
	if meter != nil {
		counter, err := meter.Int64Counter("inboxmind.queries",
			metric.WithDescription("Completed query count by outcome"))
		if err == nil {
			r.queries = counter
		}
	}
	return r
}

// Record writes the record. It never returns an error and never blocks
// beyond the logger's own buffering.
func (r *LogRecorder) Record(ctx context.Context, rec Record) {
	fields := []zap.Field{
		zap.String("request_id", rec.RequestID),
		zap.String("namespace", rec.Namespace),
		zap.String("query", rec.Query),
		zap.Int("result_count", rec.ResultCount),
		zap.String("outcome", string(rec.Outcome)),
		zap.Bool("grounded", rec.Grounded),
		zap.Duration("duration", rec.Duration),
	}
	if rec.FilterSummary != "" {
		fields = append(fields, zap.String("filters", rec.FilterSummary))
	}
	if rec.Reason != "" {
		fields = append(fields, zap.String("reason", rec.Reason))
	}
	for stage, elapsed := range rec.StageTimings {
		fields = append(fields, zap.Duration("stage."+stage, elapsed))
	}

	r.logger.Info(ctx, "query audit", fields...)

	if r.queries != nil {
		r.queries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(rec.Outcome)),
		))
	}
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Record) {}

var (
	_ Recorder = (*LogRecorder)(nil)
	_ Recorder = NopRecorder{}
)
