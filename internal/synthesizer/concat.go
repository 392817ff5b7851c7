package synthesizer

import (
	"context"
	"strings"

	"ragapi/internal/domain"
)

// ConcatSynthesizer answers with the retrieved texts joined by blank lines.
type ConcatSynthesizer struct{}

func (ConcatSynthesizer) Name() string { return "concat" }

func (ConcatSynthesizer) Synthesize(_ context.Context, _ string, matches []domain.Match) (string, error) {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m.Text); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return EmptyResponse, nil
	}
	return strings.Join(parts, "\n\n"), nil
}

// NoneSynthesizer returns no answer text; callers read the matches.
type NoneSynthesizer struct{}

func (NoneSynthesizer) Name() string { return "none" }

func (NoneSynthesizer) Synthesize(context.Context, string, []domain.Match) (string, error) {
	return "", nil
}
