package chunker

import (
	"strings"

	"ragapi/internal/domain"
	"ragapi/internal/textproc"
)

// SentenceChunker groups sentences into units with a sentence overlap
// between neighbours.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
	}
}

func (c *SentenceChunker) Chunk(doc domain.Document) ([]domain.Unit, error) {
	sentences := textproc.Sentences(doc.Content)
	if len(sentences) == 0 {
		return nil, nil
	}
	var units []domain.Unit
	i := 0
	for i < len(sentences) {
		end := i + c.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		units = append(units, domain.Unit{
			SourceID: doc.SourceID,
			Index:    len(units),
			Text:     strings.Join(sentences[i:end], " "),
		})
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
	}
	return units, nil
}
