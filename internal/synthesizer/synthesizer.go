// Package synthesizer turns retrieved matches into an answer text.
package synthesizer

import (
	"fmt"
	"time"

	"ragapi/internal/config"
	"ragapi/internal/domain"
)

// New builds the synthesizer selected by cfg.Type.
func New(cfg config.SynthesizerConfig) (domain.Synthesizer, error) {
	switch cfg.Type {
	case "", "extractive":
		return NewFrequencySynthesizer(cfg.MaxSentences), nil
	case "concat":
		return ConcatSynthesizer{}, nil
	case "none":
		return NoneSynthesizer{}, nil
	case "openai":
		oc := cfg.OpenAI
		if oc == nil {
			oc = &config.OpenAIConfig{}
		}
		return NewChatSynthesizer(ChatConfig{
			BaseURL:           oc.BaseURL,
			APIKeyEnv:         oc.APIKeyEnv,
			Model:             oc.Model,
			Timeout:           time.Duration(oc.TimeoutSecs) * time.Second,
			RequestsPerSecond: oc.RequestsPerSecond,
			MaxRetries:        oc.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown synthesizer type %q", cfg.Type)
	}
}
