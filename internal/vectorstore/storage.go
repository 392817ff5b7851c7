// Package vectorstore builds the configured domain.VectorStore.
package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ragapi/internal/config"
	"ragapi/internal/domain"
	"ragapi/internal/vectorstore/chroma"
	"ragapi/internal/vectorstore/memory"
	"ragapi/internal/vectorstore/milvus"
	"ragapi/internal/vectorstore/qdrant"
	"ragapi/internal/vectorstore/sqlite"
)

// New opens the store named by cfg.Type. With IsolateByModel set, the
// collection name is suffixed with the embedder's name so vectors from
// different models never share a collection.
func New(ctx context.Context, cfg config.VectorStoreConfig, embedderName string) (domain.VectorStore, error) {
	collection := CollectionName(cfg.Collection, embedderName, cfg.IsolateByModel)
	switch cfg.Type {
	case "", "memory":
		return memory.NewStorage(), nil
	case "sqlite":
		path := "ragapi.db"
		if cfg.SQLite != nil && cfg.SQLite.Path != "" {
			path = cfg.SQLite.Path
		}
		return sqlite.NewStore(path, collection)
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("vector_store.qdrant section is required")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "chroma":
		if cfg.Chroma == nil {
			return nil, fmt.Errorf("vector_store.chroma section is required")
		}
		return chroma.NewStorage(chroma.Config{
			Host:       cfg.Chroma.Host,
			Port:       cfg.Chroma.Port,
			Collection: collection,
			Timeout:    time.Duration(cfg.Chroma.TimeoutSecs) * time.Second,
		}), nil
	case "milvus":
		if cfg.Milvus == nil {
			return nil, fmt.Errorf("vector_store.milvus section is required")
		}
		return milvus.NewStorage(ctx, milvus.Config{
			Host:       cfg.Milvus.Host,
			Port:       cfg.Milvus.Port,
			Collection: collection,
		})
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.Type)
	}
}

// CollectionName returns base, or base suffixed with a sanitised model name.
func CollectionName(base, embedderName string, isolate bool) string {
	if base == "" {
		base = "knowledge_base"
	}
	if !isolate || embedderName == "" {
		return base
	}
	var b strings.Builder
	for _, r := range strings.ToLower(embedderName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return base + "_" + b.String()
}
