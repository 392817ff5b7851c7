package domain

import (
	"context"
	"io"
)

// Document is the extracted text of one uploaded file.
type Document struct {
	SourceID string
	Filename string
	Content  string
}

// Unit is a retrievable span of a document together with its embedding.
type Unit struct {
	ID        string
	SourceID  string
	Index     int
	Text      string
	Embedding []float32
}

// Match is a stored unit returned by similarity search.
// Score is cosine similarity: higher means more relevant.
type Match struct {
	ID       string
	SourceID string
	Index    int
	Text     string
	Score    float64
}

// Query is a natural-language question.
type Query struct {
	Text string
}

// Answer is the synthesized response plus the matches it was built from,
// ordered by descending score.
type Answer struct {
	Response string
	Matches  []Match
}

// IngestResult reports the outcome of indexing one document.
type IngestResult struct {
	SourceID     string
	UnitsCreated int
	UnitsWritten int
}

// FileInput describes an uploaded file handed to the ingestion pipeline.
// SourceID is optional; when empty one is derived from name and content.
type FileInput struct {
	Filename string
	SourceID string
	Body     io.Reader
}

// Chunker splits a document into ordered units. Embeddings and IDs are
// assigned later by the pipeline.
type Chunker interface {
	Chunk(doc Document) ([]Unit, error)
}

// Embedder converts text into fixed-length vectors.
type Embedder interface {
	Name() string
	// Dimension may be 0 until the first call when the provider decides it.
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists units and supports nearest-neighbour search.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	// Upsert writes units and returns how many did not exist before.
	Upsert(ctx context.Context, units []Unit) (int, error)
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}

// Synthesizer turns retrieved matches into a response text.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, matches []Match) (string, error)
}

// Pipeline is the operation set exposed to every outer surface.
type Pipeline interface {
	Ingest(ctx context.Context, doc Document) (IngestResult, error)
	IngestFile(ctx context.Context, in FileInput) (IngestResult, error)
	Query(ctx context.Context, q Query, topK int) (Answer, error)
	Reset(ctx context.Context) error
}
