// Package app wires the configured providers into a ready pipeline.
package app

import (
	"context"
	"fmt"

	"ragapi/internal/chunker"
	"ragapi/internal/config"
	"ragapi/internal/domain"
	"ragapi/internal/embedding"
	"ragapi/internal/logger"
	"ragapi/internal/service"
	"ragapi/internal/synthesizer"
	"ragapi/internal/vectorstore"
)

// App holds the constructed pipeline and the resources it owns.
type App struct {
	Config   *config.AppConfig
	Service  *service.RAGService
	Store    domain.VectorStore
	Embedder domain.Embedder
}

// Build constructs every component named in cfg.
func Build(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	if lvl, err := logger.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	ch, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	emb, err := embedding.New(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	synth, err := synthesizer.New(cfg.Synthesizer)
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.New(ctx, cfg.VectorStore, emb.Name())
	if err != nil {
		return nil, fmt.Errorf("opening %s vector store: %w", cfg.VectorStore.Type, err)
	}
	logger.Info("Pipeline: chunker=%s embedder=%s store=%s synthesizer=%s", cfg.Chunker.Type, emb.Name(), cfg.VectorStore.Type, cfg.Synthesizer.Type)
	svc := service.NewRAGService(ch, emb, store, synth, service.OptionsFromConfig(cfg))
	return &App{Config: cfg, Service: svc, Store: store, Embedder: emb}, nil
}

// Close releases the vector store.
func (a *App) Close() error {
	return a.Store.Close()
}
