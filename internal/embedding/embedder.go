// Package embedding builds the configured embedding provider.
package embedding

import (
	"fmt"
	"time"

	"ragapi/internal/config"
	"ragapi/internal/domain"
	"ragapi/internal/embedding/hashing"
	"ragapi/internal/embedding/openai"
)

// New builds the embedder selected by cfg.Type, wrapped in a query cache
// when cfg.CacheSize is positive.
func New(cfg config.EmbedderConfig) (domain.Embedder, error) {
	var emb domain.Embedder
	switch cfg.Type {
	case "hashing", "":
		emb = hashing.NewEmbedder(cfg.Dimension)
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:           cfg.OpenAI.BaseURL,
			APIKeyEnv:         cfg.OpenAI.APIKeyEnv,
			Model:             cfg.OpenAI.Model,
			Timeout:           time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			Dimensions:        cfg.OpenAI.Dimensions,
			RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
			MaxRetries:        cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		emb = client
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
	if cfg.CacheSize > 0 {
		emb = NewCached(emb, cfg.CacheSize)
	}
	return emb, nil
}
