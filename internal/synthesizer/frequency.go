package synthesizer

import (
	"context"
	"math"
	"sort"
	"strings"

	"ragapi/internal/domain"
	"ragapi/internal/textproc"
)

// EmptyResponse is the answer given when retrieval found nothing.
const EmptyResponse = "Empty Response"

// FrequencySynthesizer builds an extractive answer: sentences from the
// retrieved texts are ranked by word frequency, with words from the query
// weighted up.
type FrequencySynthesizer struct {
	maxSentences int
	queryBoost   float64
}

// NewFrequencySynthesizer creates a query-focused frequency ranker.
func NewFrequencySynthesizer(maxSentences int) *FrequencySynthesizer {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &FrequencySynthesizer{maxSentences: maxSentences, queryBoost: 2}
}

func (s *FrequencySynthesizer) Name() string { return "extractive" }

// Synthesize picks the best sentences across matches and joins them in
// retrieval order.
func (s *FrequencySynthesizer) Synthesize(ctx context.Context, query string, matches []domain.Match) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var sentences []string
	for _, m := range matches {
		sentences = append(sentences, textproc.Sentences(m.Text)...)
	}
	if len(sentences) == 0 {
		return EmptyResponse, nil
	}

	// Compute word frequencies
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range textproc.Tokenize(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	for tok := range textproc.TokenSet(query) {
		if _, ok := freq[tok]; ok {
			freq[tok] += s.queryBoost
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, 0, len(sentences))
	seen := map[string]struct{}{}
	for i, sent := range sentences {
		// Overlapping chunks repeat sentences.
		if _, dup := seen[sent]; dup {
			continue
		}
		seen[sent] = struct{}{}
		toks := textproc.Tokenize(sent)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores = append(scores, pair{i, score})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	n := s.maxSentences
	if n > len(scores) {
		n = len(scores)
	}
	// Keep original order among selected
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}
