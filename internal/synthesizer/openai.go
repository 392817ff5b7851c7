package synthesizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ragapi/internal/domain"
	"ragapi/internal/logger"
)

// Default configuration values.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultChatModel  = "gpt-4o-mini"
	DefaultLLMTimeout = 120 * time.Second
)

const systemPrompt = "Answer the question using only the provided context. " +
	"If the context does not contain the answer, say you don't know."

// ChatConfig configures the chat-completion synthesizer.
type ChatConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// RequestsPerSecond enables client-side throttling when positive.
	RequestsPerSecond float64
	MaxRetries        int
}

// ChatSynthesizer asks an OpenAI-compatible chat model to answer from the
// retrieved context.
type ChatSynthesizer struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    *rate.Limiter
	maxRetries int
}

type chatCompletionRequest struct {
	Model    string              `json:"model"`
	Messages []chatCompletionMsg `json:"messages"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewChatSynthesizer creates the synthesizer. An API key is only required
// for the public OpenAI endpoint.
func NewChatSynthesizer(cfg ChatConfig) (*ChatSynthesizer, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && cfg.BaseURL == DefaultBaseURL {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLLMTimeout
	}
	s := &ChatSynthesizer{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     key,
		model:      cfg.Model,
		maxRetries: max(cfg.MaxRetries, 0),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return s, nil
}

func (s *ChatSynthesizer) Name() string { return "openai-" + s.model }

// Synthesize returns EmptyResponse without calling the model when nothing was
// retrieved.
func (s *ChatSynthesizer) Synthesize(ctx context.Context, query string, matches []domain.Match) (string, error) {
	if len(matches) == 0 {
		return EmptyResponse, nil
	}
	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(m.Text))
	}
	body, err := json.Marshal(chatCompletionRequest{
		Model: s.model,
		Messages: []chatCompletionMsg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", b.String(), query)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("chat completion retry %d after: %v", attempt, lastErr)
			if err := wait(ctx, time.Duration(attempt)*500*time.Millisecond); err != nil {
				lastErr = err
				break
			}
		}
		answer, retryable, err := s.chatCompletion(ctx, body)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", domain.ErrSynthesisUnavailable, lastErr)
}

func (s *ChatSynthesizer) chatCompletion(ctx context.Context, payload []byte) (string, bool, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", false, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("openai error (status %d)", resp.StatusCode)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if chatResp.Error != nil {
		return "", false, fmt.Errorf("openai error: %s", chatResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("openai error (status %d): %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if len(chatResp.Choices) == 0 {
		return "", false, fmt.Errorf("openai: no response choices returned")
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), false, nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
