// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles the pipeline: Genkit with the
// Gemini plugin, the Qdrant vector store, the retrieval engine, and the
// HTTP server.
package app

import (
	"context"
	"errors"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/docqa/docqa/api"
	"github.com/docqa/docqa/internal/config"
	"github.com/docqa/docqa/internal/log"
	"github.com/docqa/docqa/internal/rag"
	"github.com/docqa/docqa/internal/vectorstore"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Store    vectorstore.Store
	Engine   *rag.Engine
	Server   *api.Server

	// Lifecycle management
	otelCleanup func()
}

// Run serves the HTTP API until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx, a.Config.ServerAddr)
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return errors.Join(errs...)
}
