package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/docqa/docqa/api"
	"github.com/docqa/docqa/internal/chunker"
	"github.com/docqa/docqa/internal/config"
	"github.com/docqa/docqa/internal/conversation"
	"github.com/docqa/docqa/internal/log"
	"github.com/docqa/docqa/internal/rag"
	"github.com/docqa/docqa/internal/vectorstore"
	"github.com/docqa/docqa/internal/vectorstore/qdrant"
)

// modelRateLimit bounds proactive model-call throughput. Retries share
// the same budget, so a throttled upstream is not hammered.
const (
	modelRatePerSecond = 2
	modelRateBurst     = 4
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	store, err := provideVectorStore(ctx, cfg, embedder, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store

	engine, err := provideEngine(g, cfg, embedder, store, logger)
	if err != nil {
		return nil, err
	}
	a.Engine = engine

	server, err := api.NewServer(engine, cfg.CORSOrigins, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization, so Genkit's TracerProvider has the processor from the
// first span. Returns a no-op cleanup when tracing is disabled.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("OTLP tracing enabled", "endpoint", cfg.OTLPEndpoint)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the Gemini plugin. The plugin
// reads GEMINI_API_KEY from the environment.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	return g, nil
}

// provideVectorStore connects to Qdrant and ensures the collection
// exists. The vector dimension is probed by embedding a sample text, so
// the collection always matches the configured embedder.
func provideVectorStore(ctx context.Context, cfg *config.Config, embedder ai.Embedder, logger log.Logger) (vectorstore.Store, error) {
	store, err := qdrant.New(qdrant.Config{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		APIKey:     cfg.QdrantAPIKey,
		UseTLS:     cfg.QdrantUseTLS,
		Collection: cfg.Collection,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating qdrant store: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := embedder.Embed(probeCtx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText("dimension probe", nil)},
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("probing embedding dimension: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		store.Close()
		return nil, errors.New("probing embedding dimension: empty embedding")
	}
	dimension := len(resp.Embeddings[0].Embedding)

	if err := store.EnsureCollection(probeCtx, dimension); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	logger.Info("vector store ready",
		"host", cfg.QdrantHost,
		"collection", cfg.Collection,
		"dimension", dimension,
	)
	return store, nil
}

// provideEngine assembles the retrieval pipeline.
func provideEngine(g *genkit.Genkit, cfg *config.Config, embedder ai.Embedder, store vectorstore.Store, logger log.Logger) (*rag.Engine, error) {
	retriever, err := rag.NewRetriever(embedder, store, cfg.TopK, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	composer, err := rag.NewComposer(rag.ComposerConfig{
		Generator:   rag.NewGenkitGenerator(g),
		ModelName:   cfg.FullModelName(),
		Logger:      logger,
		RateLimiter: rate.NewLimiter(rate.Limit(modelRatePerSecond), modelRateBurst),
	})
	if err != nil {
		return nil, fmt.Errorf("creating composer: %w", err)
	}

	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating splitter: %w", err)
	}

	engine, err := rag.NewEngine(rag.EngineConfig{
		Retriever:          retriever,
		Composer:           composer,
		Store:              store,
		Conversations:      conversation.NewStore(cfg.MaxHistoryTurns),
		Splitter:           splitter,
		Logger:             logger,
		RelevanceThreshold: cfg.RelevanceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}
