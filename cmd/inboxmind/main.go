// Inboxmind answers natural-language questions over private email with
// grounded, citation-backed answers.
//
// The binary starts the HTTP API with full service initialization:
// Qdrant vector search, embeddings, the completion client, and the
// query pipeline.
//
// Usage:
//
//	# Start with defaults
//	inboxmind
//
//	# Point at a config file
//	inboxmind -config /etc/inboxmind/config.yaml
//
//	# Override via environment
//	INBOXMIND_SERVER_PORT=8080 inboxmind
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxmind/internal/audit"
	"github.com/fyrsmithlabs/inboxmind/internal/config"
	"github.com/fyrsmithlabs/inboxmind/internal/embeddings"
	"github.com/fyrsmithlabs/inboxmind/internal/httpapi"
	"github.com/fyrsmithlabs/inboxmind/internal/llm"
	"github.com/fyrsmithlabs/inboxmind/internal/logging"
	"github.com/fyrsmithlabs/inboxmind/internal/pipeline"
	"github.com/fyrsmithlabs/inboxmind/internal/telemetry"
	"github.com/fyrsmithlabs/inboxmind/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("inboxmind\nVersion:    %s\nCommit:     %s\nBuild Date: %s\n", version, gitCommit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

// run initializes all dependencies and blocks until the context is
// cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting inboxmind",
		zap.String("version", version),
		zap.String("commit", gitCommit))

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:     cfg.Observability.EnableTelemetry,
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown error", zap.Error(err))
		}
	}()
	if tel.Degraded() {
		logger.Warn(ctx, "telemetry degraded, continuing without exporters")
	}

	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:           cfg.VectorStore.Host,
		Port:           cfg.VectorStore.Port,
		CollectionName: cfg.VectorStore.CollectionName,
		VectorSize:     uint64(cfg.Embedding.Dimensions),
		UseTLS:         cfg.VectorStore.UseTLS,
		MaxRetries:     cfg.VectorStore.MaxRetries,
		RetryBackoff:   cfg.VectorStore.RetryBackoff.Duration(),
	})
	if err != nil {
		return fmt.Errorf("connecting to vector store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensuring collection: %w", err)
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey.Value(),
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}

	completer, err := llm.NewClient(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey.Value(),
		Timeout:    cfg.LLM.Timeout.Duration(),
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("creating completion client: %w", err)
	}

	recorder := audit.NewLogRecorder(logger, tel.Meter("inboxmind.audit"))

	orchestrator := pipeline.NewOrchestrator(
		embedder,
		pipeline.NewRetriever(store, logger),
		pipeline.NewReconstructor(cfg.Pipeline.DedupCutoff),
		pipeline.NewAnalyst(completer, logger),
		pipeline.NewComplianceFilter(pipeline.ComplianceConfig{
			RedactionEnabled: cfg.Compliance.Redaction,
			BlockCategories:  cfg.Compliance.BlockCategories,
		}),
		pipeline.NewSynthesizer(completer, cfg.Pipeline.GroundingThreshold, logger),
		recorder,
		logger,
		pipeline.Config{
			TopK:               cfg.Pipeline.TopK,
			RelevanceThreshold: cfg.Pipeline.RelevanceThreshold,
			StageTimeout:       cfg.Pipeline.StageTimeout.Duration(),
		},
	)

	server, err := httpapi.NewServer(orchestrator, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}
