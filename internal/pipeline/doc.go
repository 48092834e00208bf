// Package pipeline implements the tenant-isolated retrieval and synthesis
// pipeline that turns (query, tenant, filters) into a grounded, cited
// answer.
//
// A run moves through a fixed stage sequence driven by an explicit state
// machine: embedding, retrieving, context reconstruction, analysis,
// compliance checking, synthesis. Each stage consumes only the previous
// stage's validated output plus the immutable query request. Stages are
// never skipped or reordered; in particular the compliance filter always
// completes before any text reaches the synthesizer.
//
// Runs are fully isolated from each other. The only shared state is the
// read-mostly collaborator clients (vector store, embedder, completion
// API), all safe for concurrent use.
package pipeline

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("inboxmind.pipeline")
