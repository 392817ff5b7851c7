package chunker

import (
	"strings"
	"unicode"

	"ragapi/internal/domain"
)

const (
	// DefaultChunkSize is the default unit size in runes.
	DefaultChunkSize = 1000
	// DefaultOverlap is the default overlap between units in runes.
	DefaultOverlap = 200
)

// FixedChunker splits text into rune windows of a fixed size. A window end
// is pulled back to the nearest whitespace when one exists in its last
// quarter so words are not cut.
type FixedChunker struct {
	chunkSize int
	overlap   int
}

// Option configures a FixedChunker.
type Option func(*FixedChunker)

// WithChunkSize sets the window size in runes.
func WithChunkSize(size int) Option {
	return func(c *FixedChunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive windows in runes.
func WithOverlap(overlap int) Option {
	return func(c *FixedChunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func NewFixedChunker(opts ...Option) *FixedChunker {
	c := &FixedChunker{chunkSize: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 2
	}
	return c
}

func (c *FixedChunker) Chunk(doc domain.Document) ([]domain.Unit, error) {
	runes := []rune(doc.Content)
	if strings.TrimSpace(doc.Content) == "" {
		return nil, nil
	}
	var units []domain.Unit
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.breakPoint(runes, start, end)
		}
		if text := strings.TrimSpace(string(runes[start:end])); text != "" {
			units = append(units, domain.Unit{
				SourceID: doc.SourceID,
				Index:    len(units),
				Text:     text,
			})
		}
		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return units, nil
}

func (c *FixedChunker) breakPoint(runes []rune, start, end int) int {
	floor := end - c.chunkSize/4
	if floor <= start {
		return end
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
