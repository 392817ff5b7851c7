// Package chunker splits extracted document text into retrieval units.
// Both strategies are deterministic for a given input and configuration.
package chunker

import (
	"fmt"

	"ragapi/internal/config"
	"ragapi/internal/domain"
)

// New builds the chunker selected by cfg.Type.
func New(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "sentence", "":
		return NewSentenceChunker(cfg.SentencesPerChunk, cfg.OverlapSentences), nil
	case "fixed":
		return NewFixedChunker(WithChunkSize(cfg.ChunkSize), WithOverlap(cfg.Overlap)), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Type)
	}
}
