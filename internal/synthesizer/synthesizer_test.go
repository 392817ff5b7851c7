package synthesizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragapi/internal/config"
	"ragapi/internal/domain"
)

var matches = []domain.Match{
	{Text: "The sky is blue. Grass is green.", Score: 0.8},
	{Text: "Paris is the capital of France.", Score: 0.3},
}

func TestFrequencySynthesizer_PrefersQueryTerms(t *testing.T) {
	s := NewFrequencySynthesizer(1)

	got, err := s.Synthesize(context.Background(), "What color is the sky?", matches)
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", got)

	got, err = s.Synthesize(context.Background(), "capital of France", matches)
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", got)
}

func TestFrequencySynthesizer_KeepsRetrievalOrder(t *testing.T) {
	s := NewFrequencySynthesizer(5)
	got, err := s.Synthesize(context.Background(), "capital", matches)
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue. Grass is green. Paris is the capital of France.", got)
}

func TestFrequencySynthesizer_SkipsRepeatedSentences(t *testing.T) {
	s := NewFrequencySynthesizer(3)
	overlapping := []domain.Match{{Text: "One fish. Two fish."}, {Text: "Two fish. Red fish."}}
	got, err := s.Synthesize(context.Background(), "fish", overlapping)
	require.NoError(t, err)
	assert.Equal(t, "One fish. Two fish. Red fish.", got)
}

func TestEmptyMatches(t *testing.T) {
	ctx := context.Background()
	for _, s := range []domain.Synthesizer{NewFrequencySynthesizer(3), ConcatSynthesizer{}} {
		got, err := s.Synthesize(ctx, "anything", nil)
		require.NoError(t, err)
		assert.Equal(t, EmptyResponse, got)
	}
	got, err := NoneSynthesizer{}.Synthesize(ctx, "anything", matches)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConcatSynthesizer(t *testing.T) {
	got, err := ConcatSynthesizer{}.Synthesize(context.Background(), "q", matches)
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue. Grass is green.\n\nParis is the capital of France.", got)
}

func TestChatSynthesizer(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req chatCompletionRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) && assert.Len(t, req.Messages, 2) {
			gotPrompt = req.Messages[1].Content
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": " The sky is blue. "}}},
		})
	}))
	defer srv.Close()
	t.Setenv("TEST_CHAT_KEY", "test-key")

	s, err := NewChatSynthesizer(ChatConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_CHAT_KEY"})
	require.NoError(t, err)

	got, err := s.Synthesize(context.Background(), "What color is the sky?", matches)
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", got)
	assert.Contains(t, gotPrompt, "[1] The sky is blue. Grass is green.")
	assert.True(t, strings.HasSuffix(gotPrompt, "Question: What color is the sky?"))
}

func TestChatSynthesizer_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewChatSynthesizer(ChatConfig{BaseURL: srv.URL, MaxRetries: 1})
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), "q", matches)
	assert.ErrorIs(t, err, domain.ErrSynthesisUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatSynthesizer_BadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	s, err := NewChatSynthesizer(ChatConfig{BaseURL: srv.URL, MaxRetries: 3})
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), "q", matches)
	require.ErrorIs(t, err, domain.ErrSynthesisUnavailable)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatSynthesizer_RequiresKeyForPublicEndpoint(t *testing.T) {
	t.Setenv("MISSING_KEY_FOR_TEST", "")
	_, err := NewChatSynthesizer(ChatConfig{APIKeyEnv: "MISSING_KEY_FOR_TEST"})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	s, err := New(config.SynthesizerConfig{Type: "extractive", MaxSentences: 2})
	require.NoError(t, err)
	assert.IsType(t, &FrequencySynthesizer{}, s)

	s, err = New(config.SynthesizerConfig{Type: "concat"})
	require.NoError(t, err)
	assert.IsType(t, ConcatSynthesizer{}, s)

	_, err = New(config.SynthesizerConfig{Type: "poetry"})
	assert.Error(t, err)
}
