package domain

import (
	"context"
	"errors"
	"fmt"
)

// Pipeline errors. Adapters wrap these with %w so callers can classify
// failures with errors.Is regardless of which provider produced them.
var (
	// ErrValidation indicates malformed input such as empty text or a negative top_k.
	ErrValidation = errors.New("invalid input")

	// ErrUnsupportedFormat indicates a file whose text cannot be extracted.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrPayloadTooLarge indicates an upload above the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrEmbeddingUnavailable indicates the embedding provider failed or timed out.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrVectorStoreWrite indicates units could not be persisted.
	ErrVectorStoreWrite = errors.New("vector store write failed")

	// ErrVectorStoreQuery indicates the vector store could not be searched or counted.
	ErrVectorStoreQuery = errors.New("vector store query failed")

	// ErrCollectionMissing indicates a write to a collection that does not
	// exist or was dropped since Init. Calling Init again recovers.
	ErrCollectionMissing = errors.New("vector store collection missing")

	// ErrNoIndex indicates a query against a store that holds no units.
	ErrNoIndex = errors.New("no index available")

	// ErrDimensionMismatch indicates a vector whose length differs from the store's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrSynthesisUnavailable indicates the answer synthesizer failed.
	ErrSynthesisUnavailable = errors.New("answer synthesizer unavailable")
)

// PartialWriteError reports an ingestion where some batches were stored
// before a later batch failed.
type PartialWriteError struct {
	Written int
	Created int
	Total   int
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write: %d of %d units stored: %v", e.Written, e.Total, e.Err)
}

// Unwrap exposes both the write sentinel and the underlying cause.
func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrVectorStoreWrite, e.Err}
}

// IsTransient reports whether retrying the same request may succeed.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrNoIndex),
		errors.Is(err, ErrDimensionMismatch):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrEmbeddingUnavailable),
		errors.Is(err, ErrVectorStoreWrite),
		errors.Is(err, ErrVectorStoreQuery),
		errors.Is(err, ErrSynthesisUnavailable):
		return true
	}
	return false
}
